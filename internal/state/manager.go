package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
)

// ErrEpisodeNotFound is returned when an episode id is unknown
var ErrEpisodeNotFound = errors.New("state: episode not found")

// Notification status values
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"

	// NotificationDisabled marks an episode that had no sender to notify through
	NotificationDisabled = "disabled"
)

// Episode is one recorded run of violent frames
type Episode struct {
	ID                   string     `json:"id"`
	StartedAt            time.Time  `json:"started_at"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	PositiveFrames       int        `json:"positive_frames"`
	NotificationStatus   string     `json:"notification_status"`
	NotificationAttempts int        `json:"notification_attempts"`
	LastError            string     `json:"last_error,omitempty"`
}

// Manager persists episode history
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the episode database at dbPath
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log.Named("state"),
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping verifies the database is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// StartEpisode records a new open episode
func (m *Manager) StartEpisode(ctx context.Context, id string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO episodes (id, started_at, notification_status)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	if _, err := m.db.GetDB().ExecContext(ctx, query, id, startedAt.UTC(), NotificationPending); err != nil {
		return fmt.Errorf("failed to start episode: %w", err)
	}
	return nil
}

// RecordNotification stores the outcome of a notification attempt. A failure
// never overwrites an earlier success.
func (m *Manager) RecordNotification(ctx context.Context, id string, attempt int, sendErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		query string
		args  []interface{}
	)
	if sendErr == "" {
		query = `
			UPDATE episodes
			SET notification_status = ?, notification_attempts = MAX(notification_attempts, ?),
				last_error = NULL, updated_at = ?
			WHERE id = ?
		`
		args = []interface{}{NotificationSent, attempt, time.Now().UTC(), id}
	} else {
		query = `
			UPDATE episodes
			SET notification_status = CASE WHEN notification_status = ? THEN notification_status ELSE ? END,
				notification_attempts = MAX(notification_attempts, ?),
				last_error = ?, updated_at = ?
			WHERE id = ?
		`
		args = []interface{}{NotificationSent, NotificationFailed, attempt, sendErr, time.Now().UTC(), id}
	}

	res, err := m.db.GetDB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return requireRow(res, id)
}

// MarkNotificationDisabled records that no email could be sent for the
// episode because none is configured. Only a pending episode changes.
func (m *Manager) MarkNotificationDisabled(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		UPDATE episodes
		SET notification_status = ?, updated_at = ?
		WHERE id = ? AND notification_status = ?
	`
	if _, err := m.db.GetDB().ExecContext(ctx, query, NotificationDisabled, time.Now().UTC(), id, NotificationPending); err != nil {
		return fmt.Errorf("failed to mark notification disabled: %w", err)
	}
	return nil
}

// EndEpisode closes an episode
func (m *Manager) EndEpisode(ctx context.Context, id string, endedAt time.Time, positiveFrames int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		UPDATE episodes
		SET ended_at = ?, positive_frames = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := m.db.GetDB().ExecContext(ctx, query, endedAt.UTC(), positiveFrames, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to end episode: %w", err)
	}
	return requireRow(res, id)
}

// GetEpisode retrieves one episode by id
func (m *Manager) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.GetDB().QueryRowContext(ctx, selectEpisodes+` WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEpisodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return ep, nil
}

// ListEpisodes returns the most recent episodes, newest first
func (m *Manager) ListEpisodes(ctx context.Context, limit int) ([]Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.GetDB().QueryContext(ctx, selectEpisodes+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	episodes := make([]Episode, 0)
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, *ep)
	}

	return episodes, rows.Err()
}

const selectEpisodes = `
	SELECT id, started_at, ended_at, positive_frames, notification_status,
		notification_attempts, last_error
	FROM episodes`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(s scanner) (*Episode, error) {
	var (
		ep        Episode
		endedAt   sql.NullTime
		lastError sql.NullString
	)
	if err := s.Scan(
		&ep.ID, &ep.StartedAt, &endedAt, &ep.PositiveFrames, &ep.NotificationStatus,
		&ep.NotificationAttempts, &lastError,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		ep.EndedAt = &t
	}
	ep.LastError = lastError.String
	return &ep, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	return nil
}

// Package health aggregates dependency checks into a single report.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status        Status                        `json:"status"`
	Timestamp     time.Time                     `json:"timestamp"`
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Checks        map[string]Check              `json:"checks"`
	Services      map[string]service.StatusInfo `json:"services,omitempty"`
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// ServiceStatuses reports the status of every managed service
type ServiceStatuses interface {
	GetAllStatuses() map[string]service.StatusInfo
}

// Manager runs registered checkers on demand
type Manager struct {
	logger    *logger.Logger
	checkers  []Checker
	services  ServiceStatuses
	timeout   time.Duration
	startTime time.Time
	mu        sync.RWMutex
}

// NewManager creates a new health check manager. services may be nil.
func NewManager(log *logger.Logger, services ServiceStatuses) *Manager {
	return &Manager{
		logger:    log.Named("health"),
		checkers:  make([]Checker, 0),
		services:  services,
		timeout:   5 * time.Second,
		startTime: time.Now(),
	}
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs all checkers concurrently and folds their results.
// Any unhealthy check makes the report unhealthy; degraded checks only degrade it.
func (m *Manager) Check(ctx context.Context) HealthReport {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = checker.Check(ctx)
		}(i, checker)
	}
	wg.Wait()

	checks := make(map[string]Check, len(results))
	overallStatus := StatusHealthy
	for _, check := range results {
		checks[check.Name] = check

		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
		if check.Status != StatusHealthy {
			m.logger.Debug("Health check not healthy", "check", check.Name, "status", check.Status, "message", check.Message)
		}
	}

	report := HealthReport{
		Status:        overallStatus,
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Checks:        checks,
	}
	if m.services != nil {
		report.Services = m.services.GetAllStatuses()
	}
	return report
}

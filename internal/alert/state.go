// Package alert tracks whether violence is on screen and makes sure each
// episode produces one notification.
package alert

import (
	"sync/atomic"
	"time"
)

// State holds the two alert flags. Each flag is read and written atomically
// so a reader sees the latest committed value and never a torn one. The two
// flags are independent; a snapshot may pair values from adjacent frames.
type State struct {
	violenceDetected atomic.Bool
	emailSent        atomic.Bool
	updatedAt        atomic.Int64 // unix nanos of the last write
}

// Snapshot is a point-in-time copy of State
type Snapshot struct {
	ViolenceDetected bool      `json:"violence"`
	EmailSent        bool      `json:"email_sent"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewState returns a state with both flags false
func NewState() *State {
	return &State{}
}

// ViolenceDetected reports the verdict of the most recently processed frame
func (s *State) ViolenceDetected() bool {
	return s.violenceDetected.Load()
}

// EmailSent reports whether the current episode has been notified
func (s *State) EmailSent() bool {
	return s.emailSent.Load()
}

// setViolenceDetected stores v and reports whether the value changed
func (s *State) setViolenceDetected(v bool) bool {
	old := s.violenceDetected.Swap(v)
	s.touch()
	return old != v
}

func (s *State) setEmailSent(v bool) {
	s.emailSent.Store(v)
	s.touch()
}

func (s *State) touch() {
	s.updatedAt.Store(time.Now().UnixNano())
}

// Snapshot returns both flags and the time of the last update
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		ViolenceDetected: s.violenceDetected.Load(),
		EmailSent:        s.emailSent.Load(),
	}
	if ns := s.updatedAt.Load(); ns != 0 {
		snap.UpdatedAt = time.Unix(0, ns)
	}
	return snap
}

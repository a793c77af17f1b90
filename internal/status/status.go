// Package status holds the process-wide service status shared between the
// poll scheduler and the control surface. All access goes through a single
// mutex; nothing else in the polling path reads it except the in-progress
// flag, which doubles as the global check gate.
package status

import (
	"sync"
	"time"
)

// Status is the mutable singleton. Construct with New and share the one
// instance; never copy.
type Status struct {
	mu                sync.Mutex
	lastCheck         time.Time
	lastCycleID       string
	lastError         string
	everChecked       bool
	totalErrors       int
	consecutiveErrors int
	inProgress        bool
	accounts          map[string]AccountSnapshot
}

// AccountSnapshot is the per-account view exposed by Snapshot.
type AccountSnapshot struct {
	LastCheck         string `json:"last_check"`
	LastError         string `json:"last_error,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

// Snapshot is a JSON-serializable copy of the whole status.
type Snapshot struct {
	LastCheck         string                     `json:"last_check"` // RFC3339, "" before the first pass
	LastCycleID       string                     `json:"last_cycle_id,omitempty"`
	LastOutcome       string                     `json:"last_outcome"` // "ok", "error" or "never"
	LastError         string                     `json:"last_error,omitempty"`
	TotalErrors       int                        `json:"total_errors"`
	ConsecutiveErrors int                        `json:"consecutive_errors"`
	IsChecking        bool                       `json:"is_checking"`
	Accounts          map[string]AccountSnapshot `json:"accounts"`
}

func New() *Status {
	return &Status{accounts: make(map[string]AccountSnapshot)}
}

// BeginCheck marks a check pass as in progress. It returns false without
// changing anything when a pass is already running, so concurrent triggers
// coalesce instead of stacking.
func (s *Status) BeginCheck(cycleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return false
	}
	s.inProgress = true
	s.lastCycleID = cycleID
	return true
}

// EndCheck records the outcome of the pass started by BeginCheck.
func (s *Status) EndCheck(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
	s.everChecked = true
	s.lastCheck = time.Now().UTC()
	if err != nil {
		s.lastError = err.Error()
		s.totalErrors++
		s.consecutiveErrors++
		return
	}
	s.lastError = ""
	s.consecutiveErrors = 0
}

// RecordAccount updates one account's summary after its cycle.
func (s *Status) RecordAccount(name string, when time.Time, errMsg string, consecutiveErrors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[name] = AccountSnapshot{
		LastCheck:         when.UTC().Format(time.RFC3339),
		LastError:         errMsg,
		ConsecutiveErrors: consecutiveErrors,
	}
}

// InProgress reports whether a check pass is currently running.
func (s *Status) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// Snapshot returns a copy safe to serialize without holding the lock.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		LastCycleID:       s.lastCycleID,
		LastOutcome:       "never",
		LastError:         s.lastError,
		TotalErrors:       s.totalErrors,
		ConsecutiveErrors: s.consecutiveErrors,
		IsChecking:        s.inProgress,
		Accounts:          make(map[string]AccountSnapshot, len(s.accounts)),
	}
	if s.everChecked {
		snap.LastCheck = s.lastCheck.Format(time.RFC3339)
		if s.lastError != "" {
			snap.LastOutcome = "error"
		} else {
			snap.LastOutcome = "ok"
		}
	}
	for name, acct := range s.accounts {
		snap.Accounts[name] = acct
	}
	return snap
}

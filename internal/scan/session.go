package scan

import (
	"sync/atomic"
	"time"
)

// Status represents the current state of an acquisition session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusOptimizing   Status = "optimizing"
	StatusComplete     Status = "complete"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// Terminal reports whether the session has finished and a new start() is
// accepted. Stopped additionally accepts continue().
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusStopped, StatusError, StatusIdle:
		return true
	}
	return false
}

// Active reports whether the worker goroutine is executing.
func (s Status) Active() bool {
	switch s {
	case StatusInitializing, StatusRunning, StatusOptimizing:
		return true
	}
	return false
}

// Session is the externally visible state of one acquisition run.
type Session struct {
	ID             string     `json:"id"`
	Mode           Mode       `json:"mode"`
	Status         Status     `json:"status"`
	CurrentLine    int        `json:"current_line"` // last completed line, -1 before any
	TotalLines     int        `json:"total_lines"`  // 0 for open-ended sweeps
	ElapsedSweeps  int        `json:"elapsed_sweeps"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// flags are the cooperative requests shared between the caller's thread and
// the worker. Each is edge-triggered: set by the caller, consumed exactly
// once by the worker at the next checkpoint boundary.
type flags struct {
	stop     atomic.Bool
	clear    atomic.Bool
	optimize atomic.Bool
}

// consume atomically reads and clears one flag.
func consume(b *atomic.Bool) bool {
	return b.CompareAndSwap(true, false)
}

package scan

import (
	"log"
	"time"

	"github.com/banshee-data/scanline/internal/timeutil"
)

// SaveSink persists a buffer snapshot with its session metadata. The store
// package provides the sqlite implementation.
type SaveSink interface {
	Persist(snap *Snapshot, reason string) error
}

// Autosaver persists the session at line/sweep checkpoint boundaries on an
// interval. It runs synchronously on the worker goroutine: saving may add
// latency between lines but can never observe an in-flight buffer write.
type Autosaver struct {
	sink     SaveSink
	interval time.Duration
	logger   *log.Logger
	clock    timeutil.Clock
	last     time.Time
}

// AutosaverConfig contains configuration for Autosaver.
type AutosaverConfig struct {
	// Sink receives the snapshots.
	Sink SaveSink
	// Interval is the minimum time between periodic saves (e.g. 60s).
	// Zero or negative disables periodic saving; Flush still works.
	Interval time.Duration
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// NewAutosaver creates a new Autosaver.
func NewAutosaver(cfg AutosaverConfig) *Autosaver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Autosaver{sink: cfg.Sink, interval: cfg.Interval, logger: logger, clock: clock}
}

// MaybeSave persists a snapshot if the interval elapsed since the last
// save. Persistence failures are logged and non-fatal: losing an autosave
// must not abort the scan.
func (a *Autosaver) MaybeSave(c *Controller) {
	if a == nil || a.sink == nil || a.interval <= 0 {
		return
	}
	if !a.last.IsZero() && a.clock.Since(a.last) < a.interval {
		return
	}
	a.last = a.clock.Now()
	if err := a.sink.Persist(c.Snapshot(), "autosave"); err != nil {
		a.logger.Printf("[scan] WARNING: autosave failed: %v", err)
	}
}

// Flush persists a final snapshot regardless of the interval, used on stop
// and completion.
func (a *Autosaver) Flush(snap *Snapshot, reason string) {
	if a == nil || a.sink == nil {
		return
	}
	a.last = a.clock.Now()
	if err := a.sink.Persist(snap, reason); err != nil {
		a.logger.Printf("[scan] WARNING: final save (%s) failed: %v", reason, err)
	}
}

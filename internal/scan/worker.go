package scan

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanline/internal/device"
)

// EngineConfig binds the engine to its hardware adapters and services.
// Devices are fixed for the engine's lifetime; each Start describes only
// the scan geometry.
type EngineConfig struct {
	Stepper   device.Stepper
	Detectors []DetectorChannel

	// StepperChannel stores the stepper's own per-point samples under
	// this channel (nil = stepper reports no measured quantity).
	StepperChannel *ChannelMeta

	Optimizer device.Optimizer

	// Capacity limits the per-line point count the hardware can buffer
	// (0 = unlimited).
	Capacity int

	Autosaver *Autosaver
	Bus       *Bus
	Logger    *log.Logger
}

// StartRequest describes one scan session.
type StartRequest struct {
	Mode Mode `json:"mode"`

	// Raster geometry.
	Fast AxisSpec `json:"fast"`
	Slow AxisSpec `json:"slow"`

	// Sweep geometry.
	Arms []AxisSpec `json:"arms,omitempty"`

	// OptimizeEvery auto-requests recalibration after every N lines
	// (0 = on explicit request only).
	OptimizeEvery int `json:"optimize_every,omitempty"`

	Curves     int     `json:"curves,omitempty"`
	Batched    bool    `json:"batched,omitempty"`
	MaxSweeps  int     `json:"max_sweeps,omitempty"`
	RunSeconds float64 `json:"run_seconds,omitempty"`
}

// Engine dispatches acquisition sessions onto a single worker goroutine
// and mediates every caller-side interaction: cooperative requests, status
// reads and buffer snapshots. Exactly one session may be active at a time.
type Engine struct {
	cfg EngineConfig
	bus *Bus
	log *log.Logger

	mu      sync.Mutex
	session Session
	ctrl    *Controller
	flags   flags
	done    chan struct{}
}

// NewEngine creates an idle engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	return &Engine{
		cfg:     cfg,
		bus:     cfg.Bus,
		log:     cfg.Logger,
		session: Session{Status: StatusIdle, CurrentLine: -1},
	}
}

// Events returns the engine's event bus for subscription.
func (e *Engine) Events() *Bus { return e.bus }

// Start validates the request, allocates fresh buffers and launches the
// worker. It returns the built plan so callers see snapped axis endpoints.
// Starting while a session is active is rejected with ConfigurationError.
func (e *Engine) Start(req StartRequest) (*Plan, error) {
	var plan *Plan
	var err error
	switch req.Mode {
	case ModeRaster:
		plan, err = NewRasterPlan(req.Fast, req.Slow, e.cfg.Capacity)
	case ModeSweep:
		plan, err = NewSweepPlan(req.Arms, e.cfg.Capacity)
	default:
		return nil, configErrorf("unknown scan mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status.Active() {
		return nil, configErrorf("scan already in progress (session %s)", e.session.ID)
	}

	e.flags.stop.Store(false)
	e.flags.clear.Store(false)
	e.flags.optimize.Store(false)

	id := uuid.New().String()
	ctrl, err := newController(ControllerConfig{
		Plan:           plan,
		Stepper:        e.cfg.Stepper,
		Detectors:      e.cfg.Detectors,
		StepperChannel: e.cfg.StepperChannel,
		Optimizer:      e.cfg.Optimizer,
		OptimizeEvery:  req.OptimizeEvery,
		Curves:         req.Curves,
		Batched:        req.Batched,
		MaxSweeps:      req.MaxSweeps,
		RunSeconds:     req.RunSeconds,
		Autosaver:      e.cfg.Autosaver,
		Bus:            e.bus,
		Logger:         e.log,
		SessionID:      id,
	}, &e.flags, e.setStatus, e.onProgress)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	e.ctrl = ctrl
	e.session = Session{
		ID:          id,
		Mode:        plan.Mode,
		Status:      StatusInitializing,
		CurrentLine: -1,
		TotalLines:  len(plan.Lines),
		StartedAt:   &now,
	}
	e.done = make(chan struct{})

	e.log.Printf("[scan] session %s starting: mode=%s lines=%d points=%d", id, plan.Mode, len(plan.Lines), plan.PointsPerLine())
	go e.run(ctrl, e.done)
	return plan, nil
}

// Continue resumes a stopped session at the line after the checkpoint,
// reusing the existing buffers. Already-checkpointed lines are never
// re-acquired.
func (e *Engine) Continue() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != StatusStopped || e.ctrl == nil {
		return configErrorf("continue requires a stopped session, state is %q", e.session.Status)
	}

	e.flags.stop.Store(false)
	e.session.Status = StatusRunning
	e.session.CompletedAt = nil
	e.done = make(chan struct{})

	e.log.Printf("[scan] session %s continuing at line %d", e.session.ID, e.ctrl.next)
	go e.run(e.ctrl, e.done)
	return nil
}

// RequestStop asks the worker to halt at the next line boundary. The
// request is edge-triggered and consumed once; it never interrupts a
// pending backward half-line. Fire-and-forget.
func (e *Engine) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Active() {
		e.flags.stop.Store(true)
	}
}

// RequestClear asks the worker to zero the buffers and reset the elapsed
// counters at the next checkpoint. The checkpointed line index is not
// reset. If no worker is running the clear applies immediately to the
// retained buffers.
func (e *Engine) RequestClear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Active() {
		e.flags.clear.Store(true)
		return
	}
	if e.ctrl != nil {
		e.ctrl.clearBuffers()
		e.session.ElapsedSweeps = 0
		e.session.ElapsedSeconds = 0
	}
}

// RequestOptimize asks the worker to run the recalibration interleave at
// the next forward-line boundary. Consumed once.
func (e *Engine) RequestOptimize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Active() && e.cfg.Optimizer != nil {
		e.flags.optimize.Store(true)
	}
}

// Status returns a copy of the current session state.
func (e *Engine) Status() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Snapshot returns a read-only copy of the session buffers, or nil before
// the first start. Snapshots of a running session may carry a partially
// written trailing row.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return nil
	}
	snap := e.ctrl.Snapshot()
	snap.Session.Status = e.session.Status
	snap.Session.StartedAt = e.session.StartedAt
	snap.Session.CompletedAt = e.session.CompletedAt
	snap.Session.Error = e.session.Error
	return snap
}

// Wait blocks until the current worker run returns. Used by tests and
// shutdown paths; callers that only need notification subscribe to the bus.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.session.Status = s
	e.mu.Unlock()
}

func (e *Engine) onProgress(line, sweeps int, elapsedSeconds float64) {
	e.mu.Lock()
	e.session.CurrentLine = line
	e.session.ElapsedSweeps = sweeps
	e.session.ElapsedSeconds = elapsedSeconds
	id := e.session.ID
	e.mu.Unlock()

	e.bus.Publish(Event{
		Kind:           EventElapsed,
		SessionID:      id,
		Line:           line,
		ElapsedSweeps:  sweeps,
		ElapsedSeconds: elapsedSeconds,
	})
}

// run executes one worker pass: a fresh session or a continue.
func (e *Engine) run(ctrl *Controller, done chan struct{}) {
	defer close(done)

	e.setStatus(StatusRunning)
	err := ctrl.run()

	e.mu.Lock()
	now := time.Now()
	e.session.CompletedAt = &now
	e.session.ElapsedSweeps = ctrl.elapsedSweeps
	e.session.ElapsedSeconds = ctrl.elapsedAccum
	id := e.session.ID

	var reason string
	switch {
	case err == nil:
		e.session.Status = StatusComplete
		reason = "complete"
	case errors.Is(err, ErrStopRequested):
		e.session.Status = StatusStopped
		reason = "stopped"
	default:
		e.session.Status = StatusError
		e.session.Error = err.Error()
		reason = "error"
	}
	status := e.session.Status
	e.mu.Unlock()

	switch status {
	case StatusError:
		e.log.Printf("[scan] session %s failed: %v", id, err)
		e.bus.Publish(Event{Kind: EventScanError, SessionID: id, Error: err.Error()})
	default:
		e.log.Printf("[scan] session %s %s at line %d", id, status, ctrl.next-1)
		e.bus.Publish(Event{Kind: EventScanFinished, SessionID: id})
	}

	if e.cfg.Autosaver != nil {
		snap := e.Snapshot()
		e.cfg.Autosaver.Flush(snap, reason)
	}
}

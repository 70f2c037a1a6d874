package scan

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/scanline/internal/device"
	"github.com/banshee-data/scanline/internal/monitoring"
)

// DetectorChannel binds one detector adapter to a named result channel.
type DetectorChannel struct {
	Meta     ChannelMeta
	Detector device.Detector
}

// ControllerConfig assembles the plan, devices and policies for one
// acquisition session.
type ControllerConfig struct {
	Plan      *Plan
	Stepper   device.Stepper
	Detectors []DetectorChannel

	// StepperChannel, when set, stores the stepper's own per-point
	// samples (e.g. a stage encoder readback) under this channel.
	StepperChannel *ChannelMeta

	// Optimizer runs mid-scan recalibration at line boundaries. Nil
	// disables the interleave entirely.
	Optimizer device.Optimizer
	// OptimizeEvery auto-requests recalibration after every N completed
	// lines (0 = on explicit request only).
	OptimizeEvery int

	// Sweep mode tuning.
	Curves     int     // interleaved sub-traces per point: 1, 2 or 3
	Batched    bool    // acquire curves*len(arms) frames in one grab
	MaxSweeps  int     // stop after N full sweeps (0 = until stopped)
	RunSeconds float64 // stop after this much accumulated time (0 = unlimited)

	Autosaver *Autosaver
	Bus       *Bus
	Logger    *log.Logger
	SessionID string
}

// Controller executes the line-by-line acquisition protocol. It runs
// entirely on one worker goroutine; the caller's thread interacts only
// through the shared cooperative flags and through snapshots.
type Controller struct {
	cfg   ControllerConfig
	flags *flags
	log   *log.Logger

	buf *Buffer    // raster results
	raw *RawBuffer // sweep accumulation

	// mu guards the progress counters below, which the worker updates and
	// snapshot readers copy. The buffers carry their own locks.
	mu            sync.Mutex
	next          int // next line (or sweep) index to acquire
	elapsedSweeps int
	elapsedAccum  float64 // seconds accumulated across continue()s
	runStart      time.Time

	setStatus  func(Status)
	onProgress func(line, sweeps int, elapsedSeconds float64)
}

func newController(cfg ControllerConfig, fl *flags, setStatus func(Status), onProgress func(int, int, float64)) (*Controller, error) {
	if cfg.Plan == nil {
		return nil, configErrorf("plan is required")
	}
	if cfg.Stepper == nil {
		return nil, configErrorf("stepper adapter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}

	c := &Controller{
		cfg:        cfg,
		flags:      fl,
		log:        cfg.Logger,
		setStatus:  setStatus,
		onProgress: onProgress,
	}

	switch cfg.Plan.Mode {
	case ModeRaster:
		channels := make([]ChannelMeta, 0, len(cfg.Detectors)+1)
		for _, dc := range cfg.Detectors {
			channels = append(channels, dc.Meta)
		}
		if cfg.StepperChannel != nil {
			channels = append(channels, *cfg.StepperChannel)
		}
		if len(channels) == 0 {
			return nil, configErrorf("raster scan requires at least one detector or stepper channel")
		}
		c.buf = NewBuffer(channels, len(cfg.Plan.Lines), cfg.Plan.PointsPerLine())
	case ModeSweep:
		if len(cfg.Detectors) == 0 {
			return nil, configErrorf("sweep requires a detector")
		}
		if cfg.Curves == 0 {
			c.cfg.Curves = 1
		}
		if c.cfg.Curves < 1 || c.cfg.Curves > 3 {
			return nil, configErrorf("curves must be 1, 2 or 3, got %d", cfg.Curves)
		}
		if c.cfg.Curves > 1 && !cfg.Batched {
			return nil, configErrorf("multi-curve sweeps require batched acquisition")
		}
		w, h := cfg.Detectors[0].Detector.FrameSize()
		flat := len(cfg.Plan.Freqs)
		if cfg.Batched {
			flat *= c.cfg.Curves
		}
		c.raw = NewRawBuffer(w, h, flat)
	default:
		return nil, configErrorf("unknown plan mode %q", cfg.Plan.Mode)
	}

	return c, nil
}

// run executes the session from the current checkpoint until completion, a
// consumed stop request, or a device error. It is re-entered by continue().
func (c *Controller) run() error {
	c.mu.Lock()
	c.runStart = time.Now()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.elapsedAccum += time.Since(c.runStart).Seconds()
		c.mu.Unlock()
	}()

	if c.cfg.Plan.Mode == ModeSweep {
		return c.runSweep()
	}
	return c.runRaster()
}

func (c *Controller) elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedAccum + time.Since(c.runStart).Seconds()
}

// runRaster iterates rows from the checkpoint. Each row is acquired as a
// forward pass and a backward return pass back to back, so a pending
// backward half is never interruptible: stop, clear and optimize requests
// are consumed only after the full row pair.
func (c *Controller) runRaster() error {
	lines := c.cfg.Plan.Lines
	for i := c.next; i < len(lines); i++ {
		if err := c.acquireRow(lines[i]); err != nil {
			return err
		}

		// Checkpoint: the row pair is fully written.
		c.mu.Lock()
		c.next = i + 1
		sweeps := c.elapsedSweeps
		c.mu.Unlock()
		c.onProgress(i, sweeps, c.elapsed())
		c.cfg.Bus.Publish(Event{
			Kind:      EventLineFinished,
			SessionID: c.cfg.SessionID,
			Line:      i,
			Direction: Backward.String(),
		})

		if err := c.checkpointRequests(i); err != nil {
			return err
		}
	}
	return nil
}

// checkpointRequests consumes the cooperative flags once per checkpoint:
// stop first, then clear, then the optimizer interleave, then autosave.
func (c *Controller) checkpointRequests(line int) error {
	if consume(&c.flags.stop) {
		c.log.Printf("[scan] stop consumed at line %d", line)
		return ErrStopRequested
	}
	if consume(&c.flags.clear) {
		c.clearBuffers()
	}
	c.maybeOptimize(line)
	c.maybeSave()
	return nil
}

// clearBuffers zeroes the result buffers and resets the elapsed counters.
// The checkpointed line index is deliberately left untouched: clearing
// restarts the averaging, not the traversal.
func (c *Controller) clearBuffers() {
	c.log.Printf("[scan] clear consumed: zeroing buffers")
	if c.buf != nil {
		c.buf.Zero()
	}
	if c.raw != nil {
		c.raw.Zero()
	}
	c.mu.Lock()
	c.elapsedSweeps = 0
	c.elapsedAccum = 0
	c.runStart = time.Now()
	c.mu.Unlock()
}

// maybeOptimize runs the recalibration interleave if one was requested (or
// is due on the periodic schedule). Lines are configured fresh on every
// pass, so the pre-interleave device configuration is reapplied when the
// next line starts. Optimizer failures are logged and non-fatal.
func (c *Controller) maybeOptimize(line int) {
	if c.cfg.Optimizer == nil {
		return
	}
	if c.cfg.OptimizeEvery > 0 && (line+1)%c.cfg.OptimizeEvery == 0 {
		c.flags.optimize.Store(true)
	}
	if !consume(&c.flags.optimize) {
		return
	}

	c.setStatus(StatusOptimizing)
	start := time.Now()
	if err := c.cfg.Optimizer.Run(); err != nil {
		c.log.Printf("[scan] WARNING: optimizer failed after line %d (scan continues): %v", line, err)
	} else {
		c.log.Printf("[scan] optimizer finished after line %d in %v", line, time.Since(start).Round(time.Millisecond))
	}
	c.setStatus(StatusRunning)
}

func (c *Controller) maybeSave() {
	if c.cfg.Autosaver == nil {
		return
	}
	c.cfg.Autosaver.MaybeSave(c)
}

// acquireRow runs both passes of one row: forward writing natural order,
// backward writing reversed so the two matrices align spatially.
func (c *Controller) acquireRow(line Line) error {
	start := time.Now()
	fw := device.LineSpec{Index: line.Index, RowCoord: line.RowCoord, Coords: line.Coords}
	if err := c.executePass(fw, line.Index, Forward, false); err != nil {
		return err
	}
	bw := device.LineSpec{Index: line.Index, RowCoord: line.RowCoord, Coords: line.BackwardCoords()}
	if err := c.executePass(bw, line.Index, Backward, true); err != nil {
		return err
	}
	monitoring.Logf("[scan] row %d acquired (%d points, fw+bw) in %v", line.Index, len(line.Coords), time.Since(start))
	return nil
}

// executePass configures the stepper and detectors for one traversal,
// executes it, and demultiplexes the collected samples into the matrix
// buffer. reversed indicates the samples arrive in return order and must
// be flipped before storage.
func (c *Controller) executePass(spec device.LineSpec, row int, dir Direction, reversed bool) error {
	points := len(spec.Coords)

	if err := c.cfg.Stepper.SetupLine(spec); err != nil {
		return deviceErr("stepper", "setup_line", err)
	}
	for _, dc := range c.cfg.Detectors {
		if err := dc.Detector.BeginAcquisition(points); err != nil {
			return deviceErr(dc.Meta.Name, "begin_acquisition", err)
		}
	}

	if err := c.cfg.Stepper.ExecuteLine(); err != nil {
		return deviceErr("stepper", "execute_line", err)
	}

	for _, dc := range c.cfg.Detectors {
		data, err := dc.Detector.Grab(points)
		if err != nil {
			return deviceErr(dc.Meta.Name, "grab", err)
		}
		w, h := dc.Detector.FrameSize()
		trace, err := perPointMean(data, points, w*h, dc.Meta.Name)
		if err != nil {
			return err
		}
		if reversed {
			reverse(trace)
		}
		if err := c.buf.SetLine(dc.Meta.Name, dir, row, trace); err != nil {
			return err
		}
	}

	if c.cfg.StepperChannel != nil {
		if samples := c.cfg.Stepper.LineResult(); samples != nil {
			if reversed {
				reverse(samples)
			}
			if err := c.buf.SetLine(c.cfg.StepperChannel.Name, dir, row, samples); err != nil {
				return err
			}
		}
	}
	return nil
}

// perPointMean reduces n concatenated frames of pixels values each to one
// value per point by averaging over the frame.
func perPointMean(data []float64, points, pixels int, channel string) ([]float64, error) {
	if len(data) != points*pixels {
		return nil, &DimensionError{Channel: channel, Want: points * pixels, Got: len(data)}
	}
	if pixels == 1 {
		out := make([]float64, points)
		copy(out, data)
		return out, nil
	}
	out := make([]float64, points)
	for p := 0; p < points; p++ {
		var sum float64
		for pix := 0; pix < pixels; pix++ {
			sum += data[p*pixels+pix]
		}
		out[p] = sum / float64(pixels)
	}
	return out, nil
}

func reverse(vals []float64) {
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}
}

func deviceErr(dev, op string, err error) error {
	return &DeviceError{
		Device:  dev,
		Op:      op,
		Timeout: errors.Is(err, device.ErrTimeout),
		Err:     err,
	}
}

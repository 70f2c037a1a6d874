package scan

import (
	"time"

	"github.com/banshee-data/scanline/internal/device"
	"github.com/banshee-data/scanline/internal/monitoring"
)

// runSweep repeats the concatenated frequency traversal until a stop is
// consumed, a sweep or runtime limit is reached, or a device fails. Each full
// traversal is one "line": the frames it produces are added into the raw
// tensor so repeated sweeps build a running sum for averaging.
func (c *Controller) runSweep() error {
	det := c.cfg.Detectors[0]
	for {
		c.mu.Lock()
		sweeps, index := c.elapsedSweeps, c.next
		c.mu.Unlock()
		if c.cfg.MaxSweeps > 0 && sweeps >= c.cfg.MaxSweeps {
			return nil
		}
		if c.cfg.RunSeconds > 0 && c.elapsed() >= c.cfg.RunSeconds {
			c.log.Printf("[scan] sweep run time reached after %d sweeps", sweeps)
			return nil
		}

		start := time.Now()
		if err := c.acquireSweep(det, index); err != nil {
			return err
		}
		monitoring.Logf("[scan] sweep %d acquired (%d points) in %v", index, len(c.cfg.Plan.Freqs), time.Since(start))

		c.raw.CompleteSweep()
		c.mu.Lock()
		c.elapsedSweeps++
		c.next++
		sweep := c.next - 1
		sweeps = c.elapsedSweeps
		c.mu.Unlock()
		c.onProgress(sweep, sweeps, c.elapsed())
		c.cfg.Bus.Publish(Event{
			Kind:      EventLineFinished,
			SessionID: c.cfg.SessionID,
			Line:      sweep,
			Direction: Forward.String(),
		})

		if err := c.checkpointRequests(sweep); err != nil {
			return err
		}
	}
}

// acquireSweep runs one full traversal of the concatenated arm list. In
// batched mode the detector delivers curves*points frames in one grab (the
// pulsed variant); otherwise one frame per frequency point. Every frame is
// added at its flat index, never overwritten.
func (c *Controller) acquireSweep(det DetectorChannel, index int) error {
	n := len(c.cfg.Plan.Freqs)
	if c.cfg.Batched {
		n *= c.cfg.Curves
	}

	spec := device.LineSpec{Index: index, Coords: c.cfg.Plan.Freqs}
	if err := c.cfg.Stepper.SetupLine(spec); err != nil {
		return deviceErr("stepper", "setup_line", err)
	}
	if err := det.Detector.BeginAcquisition(n); err != nil {
		return deviceErr(det.Meta.Name, "begin_acquisition", err)
	}
	if err := c.cfg.Stepper.ExecuteLine(); err != nil {
		return deviceErr("stepper", "execute_line", err)
	}

	data, err := det.Detector.Grab(n)
	if err != nil {
		return deviceErr(det.Meta.Name, "grab", err)
	}

	w, h := det.Detector.FrameSize()
	pixels := w * h
	if len(data) != n*pixels {
		return &DimensionError{Channel: det.Meta.Name, Want: n * pixels, Got: len(data)}
	}
	for s := 0; s < n; s++ {
		if err := c.raw.AccumulateFrame(s, data[s*pixels:(s+1)*pixels]); err != nil {
			return err
		}
	}
	return nil
}

// CurveTraces returns the per-curve mean traces of the accumulated tensor,
// de-interleaved by modulo indexing. With one curve the single trace is
// the plain sweep mean.
func (c *Controller) CurveTraces() [][]float64 {
	if c.raw == nil {
		return nil
	}
	return Deinterleave(c.raw.MeanTrace(), c.cfg.Curves)
}

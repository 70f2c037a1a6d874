// Package device defines the adapter contracts between the scan coordinator
// and instrument hardware: a stepper that moves a positioner or programs a
// frequency source line by line, and detectors that return frames for each
// acquisition. Adapters own their hardware-specific retry and backoff and
// must not return until data is ready, an error occurred, or their internal
// timeout elapsed.
package device

import "fmt"

// LineSpec describes one line handed to a stepper: the fixed slow-axis
// coordinate for the row and the fast-axis (or frequency) values in
// traversal order.
type LineSpec struct {
	Index    int
	RowCoord float64
	Coords   []float64
}

// Stepper drives a positioner or frequency source across one line at a
// time. ExecuteLine blocks until the traversal finishes or the adapter's
// internal timeout elapses; a returned error is terminal for the session.
type Stepper interface {
	// SetupLine programs the device for one line traversal.
	SetupLine(spec LineSpec) error
	// ExecuteLine runs the programmed traversal. Blocking.
	ExecuteLine() error
	// LineResult returns per-point samples the stepper itself measured
	// during the last traversal (e.g. a stage encoder channel). Steppers
	// without a measurement channel return nil.
	LineResult() []float64
}

// Detector acquires frames synchronously with the stepper's traversal.
type Detector interface {
	// BeginAcquisition arms the detector for n acquisitions.
	BeginAcquisition(n int) error
	// Grab blocks until n frames are available and returns them
	// concatenated, n * w * h values. The adapter enforces its own
	// timeout; a returned error is terminal for the session.
	Grab(n int) ([]float64, error)
	// FrameSize returns the frame geometry. Point detectors report (1, 1).
	FrameSize() (w, h int)
}

// Optimizer recalibrates the instrument (refocus, field realignment)
// between scan lines. Run must restore the exact device configuration
// active before it ran; failures are non-fatal to the scan.
type Optimizer interface {
	Run() error
}

// ErrTimeout is returned (wrapped) by adapters whose internal deadline
// elapsed before data was ready.
var ErrTimeout = fmt.Errorf("device timeout")

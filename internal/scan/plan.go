// Package scan implements the acquisition coordinator for line-based
// measurements: spatial raster scans and repeated frequency sweeps. A plan
// describes the ordered sequence of scan lines, a buffer holds the
// demultiplexed results, and the controller drives the devices line by line
// on a single worker goroutine with cooperative stop/continue/clear.
package scan

import (
	"fmt"
	"math"
)

// Direction identifies one pass of a bidirectional raster row.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// AxisSpec defines one coordinate or frequency range as start:stop:step.
// Step carries the sign of the traversal; endpoints are inclusive.
type AxisSpec struct {
	Start float64
	Stop  float64
	Step  float64
}

// Points expands the axis into its inclusive point list. The stop value is
// snapped to Start + n*Step with n = round((Stop-Start)/Step); the snapped
// stop is returned alongside so callers can report the adjustment rather
// than silently dropping it.
func (a AxisSpec) Points() ([]float64, float64, error) {
	if a.Step == 0 {
		return nil, 0, configErrorf("axis step must be non-zero (start=%g stop=%g)", a.Start, a.Stop)
	}
	// A zero span is a single point and must use a forward step.
	span := a.Stop - a.Start
	if (span >= 0) != (a.Step > 0) {
		return nil, 0, configErrorf("axis step sign does not match direction (start=%g stop=%g step=%g)", a.Start, a.Stop, a.Step)
	}

	n := int(math.Round(span / a.Step))
	if n < 0 {
		n = 0
	}
	snapped := a.Start + float64(n)*a.Step

	points := make([]float64, n+1)
	for i := range points {
		points[i] = a.Start + float64(i)*a.Step
	}
	points[n] = snapped
	return points, snapped, nil
}

// Count returns the number of points the axis expands to.
func (a AxisSpec) Count() (int, error) {
	points, _, err := a.Points()
	if err != nil {
		return 0, err
	}
	return len(points), nil
}

func (a AxisSpec) String() string {
	return fmt.Sprintf("%g:%g:%g", a.Start, a.Stop, a.Step)
}

// Mode selects between the two acquisition geometries.
type Mode string

const (
	ModeRaster Mode = "raster" // spatial line-by-line scan
	ModeSweep  Mode = "sweep"  // repeated frequency sweep
)

// Line is one row of a raster plan. Coords holds the fast-axis values in
// forward order; the backward return pass traverses them reversed. Lines
// are immutable once the plan is built.
type Line struct {
	Index    int
	RowCoord float64   // slow-axis value for this row
	Coords   []float64 // fast-axis values, forward order
}

// BackwardCoords returns the fast-axis values in return-pass order.
func (l Line) BackwardCoords() []float64 {
	out := make([]float64, len(l.Coords))
	for i, v := range l.Coords {
		out[len(out)-1-i] = v
	}
	return out
}

// Arm records the index span of one sweep arm inside the concatenated
// frequency list. End is exclusive.
type Arm struct {
	Start int
	End   int
}

// Plan is the ordered, immutable sequence of scan lines for one session.
type Plan struct {
	Mode Mode

	// Raster fields
	Lines       []Line
	SnappedFast float64 // fast-axis stop after snapping
	SnappedSlow float64 // slow-axis stop after snapping

	// Sweep fields
	Freqs []float64 // concatenated arm point lists
	Arms  []Arm     // per-arm index boundaries into Freqs
}

// PointsPerLine returns the number of acquisitions per line: the fast-axis
// length for rasters, the concatenated frequency count for sweeps.
func (p *Plan) PointsPerLine() int {
	if p.Mode == ModeSweep {
		return len(p.Freqs)
	}
	if len(p.Lines) == 0 {
		return 0
	}
	return len(p.Lines[0].Coords)
}

// NewRasterPlan builds a boustrophedon raster plan: one line per slow-axis
// point, each acquired as a forward pass followed by a backward return pass
// so physical motion stays continuous. capacity limits the fast-axis point
// count (0 = unlimited).
func NewRasterPlan(fast, slow AxisSpec, capacity int) (*Plan, error) {
	fastPoints, snappedFast, err := fast.Points()
	if err != nil {
		return nil, fmt.Errorf("fast axis: %w", err)
	}
	slowPoints, snappedSlow, err := slow.Points()
	if err != nil {
		return nil, fmt.Errorf("slow axis: %w", err)
	}
	if capacity > 0 && len(fastPoints) > capacity {
		return nil, configErrorf("line length %d exceeds device capacity %d", len(fastPoints), capacity)
	}

	lines := make([]Line, len(slowPoints))
	for i, row := range slowPoints {
		coords := make([]float64, len(fastPoints))
		copy(coords, fastPoints)
		lines[i] = Line{Index: i, RowCoord: row, Coords: coords}
	}

	return &Plan{
		Mode:        ModeRaster,
		Lines:       lines,
		SnappedFast: snappedFast,
		SnappedSlow: snappedSlow,
	}, nil
}

// NewSweepPlan concatenates the arm point lists (inclusive endpoints) into
// one flat frequency list. Arm boundaries are preserved for per-arm fitting
// and display even though acquisition treats the concatenation as a single
// line. capacity limits the combined length (0 = unlimited).
func NewSweepPlan(arms []AxisSpec, capacity int) (*Plan, error) {
	if len(arms) == 0 {
		return nil, configErrorf("sweep requires at least one arm")
	}

	var freqs []float64
	bounds := make([]Arm, 0, len(arms))
	for i, arm := range arms {
		points, _, err := arm.Points()
		if err != nil {
			return nil, fmt.Errorf("arm %d: %w", i, err)
		}
		bounds = append(bounds, Arm{Start: len(freqs), End: len(freqs) + len(points)})
		freqs = append(freqs, points...)
	}
	if capacity > 0 && len(freqs) > capacity {
		return nil, configErrorf("combined sweep length %d exceeds device capacity %d", len(freqs), capacity)
	}

	return &Plan{Mode: ModeSweep, Freqs: freqs, Arms: bounds}, nil
}

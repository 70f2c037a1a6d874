package scan

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testChannels() []ChannelMeta {
	return []ChannelMeta{
		{Name: "counts", Unit: "c/s", ScaleFactor: 1, NiceName: "Fluorescence"},
	}
}

func TestBufferSetLineAndRow(t *testing.T) {
	b := NewBuffer(testChannels(), 3, 4)

	if err := b.SetLine("counts", Forward, 1, []float64{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]float64{1, 2, 3, 4}, b.Row("counts", Forward, 1)); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
	// untouched rows stay zero
	if diff := cmp.Diff([]float64{0, 0, 0, 0}, b.Row("counts", Forward, 0)); diff != "" {
		t.Errorf("expected zero row (-want +got):\n%s", diff)
	}
	// backward matrix is independent
	if diff := cmp.Diff([]float64{0, 0, 0, 0}, b.Row("counts", Backward, 1)); diff != "" {
		t.Errorf("expected zero backward row (-want +got):\n%s", diff)
	}
}

func TestBufferDimensionMismatch(t *testing.T) {
	b := NewBuffer(testChannels(), 3, 4)

	testCases := []struct {
		name    string
		channel string
		line    int
		vals    []float64
	}{
		{"short_row", "counts", 0, []float64{1, 2}},
		{"long_row", "counts", 0, []float64{1, 2, 3, 4, 5}},
		{"unknown_channel", "voltage", 0, []float64{1, 2, 3, 4}},
		{"line_out_of_range", "counts", 9, []float64{1, 2, 3, 4}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := b.SetLine(tc.channel, Forward, tc.line, tc.vals)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if _, ok := err.(*DimensionError); !ok {
				t.Errorf("expected DimensionError, got %T", err)
			}
		})
	}
}

func TestBufferZeroRetainsShape(t *testing.T) {
	b := NewBuffer(testChannels(), 2, 3)
	if err := b.SetLine("counts", Forward, 0, []float64{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.Zero()

	lines, points := b.Shape()
	if lines != 2 || points != 3 {
		t.Errorf("shape changed after zero: %dx%d", lines, points)
	}
	if diff := cmp.Diff([]float64{0, 0, 0}, b.Row("counts", Forward, 0)); diff != "" {
		t.Errorf("expected zeroed row (-want +got):\n%s", diff)
	}
}

func TestRawBufferAccumulationIsAdditive(t *testing.T) {
	const v = 7.5
	const sweeps = 4
	r := NewRawBuffer(1, 1, 5)

	frame := []float64{v}
	for s := 0; s < sweeps; s++ {
		for p := 0; p < 5; p++ {
			if err := r.AccumulateFrame(p, frame); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		r.CompleteSweep()
	}

	if r.Sweeps() != sweeps {
		t.Errorf("expected %d sweeps, got %d", sweeps, r.Sweeps())
	}
	// summed buffer equals N*V, mean trace equals V
	for p, got := range r.PixelTrace(0, 0) {
		if math.Abs(got-sweeps*v) > 1e-9 {
			t.Errorf("point %d: summed %g, want %g", p, got, float64(sweeps*v))
		}
	}
	for p, got := range r.MeanTrace() {
		if math.Abs(got-v) > 1e-9 {
			t.Errorf("point %d: mean %g, want %g", p, got, v)
		}
	}
}

func TestRawBufferFrameAveragesPixels(t *testing.T) {
	r := NewRawBuffer(2, 2, 3)
	if err := r.AccumulateFrame(1, []float64{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.CompleteSweep()

	trace := r.MeanTrace()
	if math.Abs(trace[1]-2.5) > 1e-9 {
		t.Errorf("expected pixel mean 2.5 at point 1, got %g", trace[1])
	}
	if trace[0] != 0 || trace[2] != 0 {
		t.Errorf("expected zero at untouched points, got %v", trace)
	}
}

func TestRawBufferDimensionChecks(t *testing.T) {
	r := NewRawBuffer(2, 1, 3)
	if err := r.AccumulateFrame(0, []float64{1}); err == nil {
		t.Error("expected frame size error")
	}
	if err := r.AccumulateFrame(5, []float64{1, 2}); err == nil {
		t.Error("expected point index error")
	}
}

func TestDeinterleave(t *testing.T) {
	testCases := []struct {
		name   string
		trace  []float64
		curves int
		want   [][]float64
	}{
		{
			// two-curve mode: signal/background alternate
			"two_curves", []float64{10, 1, 20, 2, 30, 3}, 2,
			[][]float64{{10, 20, 30}, {1, 2, 3}},
		},
		{
			"three_curves", []float64{1, 2, 3, 4, 5, 6}, 3,
			[][]float64{{1, 4}, {2, 5}, {3, 6}},
		},
		{
			"single_curve", []float64{1, 2, 3}, 1,
			[][]float64{{1, 2, 3}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Deinterleave(tc.trace, tc.curves)); diff != "" {
				t.Errorf("deinterleave mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

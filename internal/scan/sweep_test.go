package scan

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/scanline/internal/device"
)

func sweepRequest(arms []AxisSpec) StartRequest {
	return StartRequest{Mode: ModeSweep, Arms: arms}
}

func TestSweepAccumulatesToSweepCount(t *testing.T) {
	const v = 2.5
	const sweeps = 4
	eng := NewEngine(EngineConfig{
		Stepper:   &device.MockStepper{},
		Detectors: countsChannel(&device.MockDetector{Value: v}),
		Logger:    quietLogger(),
	})

	req := sweepRequest([]AxisSpec{{Start: 100, Stop: 200, Step: 50}})
	req.MaxSweeps = sweeps
	if _, err := eng.Start(req); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eng.Wait()

	sess := eng.Status()
	if sess.Status != StatusComplete {
		t.Fatalf("status = %q, want %q (error: %s)", sess.Status, StatusComplete, sess.Error)
	}
	if sess.ElapsedSweeps != sweeps {
		t.Errorf("elapsed sweeps = %d, want %d", sess.ElapsedSweeps, sweeps)
	}

	snap := eng.Snapshot()
	if snap.Sweeps != sweeps {
		t.Errorf("snapshot sweeps = %d, want %d", snap.Sweeps, sweeps)
	}
	if diff := cmp.Diff([]float64{100, 150, 200}, snap.Freqs); diff != "" {
		t.Errorf("freqs (-want +got):\n%s", diff)
	}
	// the mean trace divides out the sweep count
	for p, got := range snap.MeanTrace {
		if math.Abs(got-v) > 1e-9 {
			t.Errorf("mean trace[%d] = %g, want %g", p, got, v)
		}
	}
}

func TestSweepBatchedCurvesDeinterleave(t *testing.T) {
	// samples alternate signal, background within one traversal
	det := &device.MockDetector{
		FrameFn: func(n, grabs int) []float64 {
			out := make([]float64, n)
			for i := range out {
				if i%2 == 0 {
					out[i] = 10
				} else {
					out[i] = 1
				}
			}
			return out
		},
	}
	eng := NewEngine(EngineConfig{
		Stepper:   &device.MockStepper{},
		Detectors: countsChannel(det),
		Logger:    quietLogger(),
	})

	req := sweepRequest([]AxisSpec{{Start: 100, Stop: 200, Step: 50}})
	req.Curves = 2
	req.Batched = true
	req.MaxSweeps = 3
	if _, err := eng.Start(req); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eng.Wait()

	snap := eng.Snapshot()
	if snap.FlatPoints != 6 {
		t.Fatalf("flat points = %d, want 6 (curves x frequencies)", snap.FlatPoints)
	}
	want := [][]float64{{10, 10, 10}, {1, 1, 1}}
	if diff := cmp.Diff(want, snap.CurveTraces); diff != "" {
		t.Errorf("curve traces (-want +got):\n%s", diff)
	}
}

func TestSweepMultipleArmsConcatenate(t *testing.T) {
	eng := NewEngine(EngineConfig{
		Stepper:   &device.MockStepper{},
		Detectors: countsChannel(&device.MockDetector{Value: 1}),
		Logger:    quietLogger(),
	})

	req := sweepRequest([]AxisSpec{
		{Start: 100, Stop: 200, Step: 50},
		{Start: 300, Stop: 310, Step: 10},
	})
	req.MaxSweeps = 1
	if _, err := eng.Start(req); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eng.Wait()

	snap := eng.Snapshot()
	if diff := cmp.Diff([]float64{100, 150, 200, 300, 310}, snap.Freqs); diff != "" {
		t.Errorf("concatenated freqs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Arm{{Start: 0, End: 3}, {Start: 3, End: 5}}, snap.Arms); diff != "" {
		t.Errorf("arm boundaries (-want +got):\n%s", diff)
	}
}

func TestSweepStopAtTraversalBoundary(t *testing.T) {
	step := &hookStepper{}
	eng := NewEngine(EngineConfig{
		Stepper:   step,
		Detectors: countsChannel(&device.MockDetector{Value: 1}),
		Logger:    quietLogger(),
	})
	step.onSetup = func(spec device.LineSpec) {
		if spec.Index == 2 {
			eng.RequestStop()
		}
	}

	// open-ended sweep: only the stop request terminates it
	if _, err := eng.Start(sweepRequest([]AxisSpec{{Start: 0, Stop: 4, Step: 1}})); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eng.Wait()

	sess := eng.Status()
	if sess.Status != StatusStopped {
		t.Fatalf("status = %q, want %q", sess.Status, StatusStopped)
	}
	if sess.ElapsedSweeps != 3 {
		t.Errorf("elapsed sweeps = %d, want 3: the in-flight traversal finishes first", sess.ElapsedSweeps)
	}
}

func TestSweepConfigRejections(t *testing.T) {
	testCases := []struct {
		name string
		req  StartRequest
	}{
		{"curves_without_batching", func() StartRequest {
			r := sweepRequest([]AxisSpec{{Start: 0, Stop: 2, Step: 1}})
			r.Curves = 2
			return r
		}()},
		{"too_many_curves", func() StartRequest {
			r := sweepRequest([]AxisSpec{{Start: 0, Stop: 2, Step: 1}})
			r.Curves = 4
			r.Batched = true
			return r
		}()},
		{"no_arms", sweepRequest(nil)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eng := NewEngine(EngineConfig{
				Stepper:   &device.MockStepper{},
				Detectors: countsChannel(&device.MockDetector{}),
				Logger:    quietLogger(),
			})
			_, err := eng.Start(tc.req)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !IsConfigurationError(err) {
				t.Errorf("expected ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}

func TestSweepDeviceErrorRetainsAccumulation(t *testing.T) {
	det := &device.MockDetector{
		Value:       3,
		GrabError:   fmt.Errorf("camera disconnected"),
		GrabErrorAt: 3,
	}
	eng := NewEngine(EngineConfig{
		Stepper:   &device.MockStepper{},
		Detectors: countsChannel(det),
		Logger:    quietLogger(),
	})

	req := sweepRequest([]AxisSpec{{Start: 0, Stop: 2, Step: 1}})
	req.MaxSweeps = 10
	if _, err := eng.Start(req); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	eng.Wait()

	sess := eng.Status()
	if sess.Status != StatusError {
		t.Fatalf("status = %q, want %q", sess.Status, StatusError)
	}

	// two sweeps landed before the failure and remain inspectable
	snap := eng.Snapshot()
	if snap.Sweeps != 2 {
		t.Errorf("sweeps = %d, want 2", snap.Sweeps)
	}
	for p, got := range snap.MeanTrace {
		if math.Abs(got-3) > 1e-9 {
			t.Errorf("mean trace[%d] = %g, want 3", p, got)
		}
	}
}

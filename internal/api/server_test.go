package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/scanline/internal/config"
	"github.com/banshee-data/scanline/internal/device"
	"github.com/banshee-data/scanline/internal/monitoring"
	"github.com/banshee-data/scanline/internal/scan"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, step device.Stepper) (*Server, *scan.Engine) {
	t.Helper()
	if step == nil {
		step = &device.MockStepper{}
	}
	eng := scan.NewEngine(scan.EngineConfig{
		Stepper: step,
		Detectors: []scan.DetectorChannel{{
			Meta:     scan.ChannelMeta{Name: "counts", Unit: "c/s", ScaleFactor: 1},
			Detector: &device.MockDetector{Value: 5},
		}},
		Logger: log.New(io.Discard, "", 0),
	})
	return NewServer(eng, nil, nil), eng
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func startBody(lines, points int) scan.StartRequest {
	return scan.StartRequest{
		Mode: scan.ModeRaster,
		Fast: scan.AxisSpec{Start: 0, Stop: float64(points - 1), Step: 1},
		Slow: scan.AxisSpec{Start: 0, Stop: float64(lines - 1), Step: 1},
	}
}

func TestStartEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	mux := srv.ServeMux()

	rec := postJSON(t, mux, "/api/scan/start", startBody(3, 4))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Lines       int     `json:"lines"`
		Points      int     `json:"points"`
		SnappedFast float64 `json:"snapped_fast"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Lines != 3 || resp.Points != 4 {
		t.Errorf("plan = %dx%d, want 3x4", resp.Lines, resp.Points)
	}
	if resp.SnappedFast != 3 {
		t.Errorf("snapped fast stop = %g, want 3", resp.SnappedFast)
	}
	eng.Wait()
}

func TestStartAppliesConfigDefaults(t *testing.T) {
	curves, maxSweeps := 2, 3
	batched := true
	cfg := config.DefaultScanConfig()
	cfg.Merge(&config.ScanConfig{Curves: &curves, Batched: &batched, MaxSweeps: &maxSweeps})

	eng := scan.NewEngine(scan.EngineConfig{
		Stepper: &device.MockStepper{},
		Detectors: []scan.DetectorChannel{{
			Meta:     scan.ChannelMeta{Name: "counts", Unit: "c/s", ScaleFactor: 1},
			Detector: &device.MockDetector{Value: 5},
		}},
		Logger: log.New(io.Discard, "", 0),
	})
	mux := NewServer(eng, nil, cfg).ServeMux()

	// only the geometry in the request; curves, batching and the sweep
	// limit come from the configured defaults
	rec := postJSON(t, mux, "/api/scan/start", scan.StartRequest{
		Mode: scan.ModeSweep,
		Arms: []scan.AxisSpec{{Start: 100, Stop: 104, Step: 1}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	eng.Wait()

	snap := eng.Snapshot()
	if snap.Curves != 2 {
		t.Errorf("curves = %d, want configured default 2", snap.Curves)
	}
	if len(snap.CurveTraces) != 2 {
		t.Errorf("curve traces = %d, want 2", len(snap.CurveTraces))
	}
	if snap.Sweeps != 3 {
		t.Errorf("sweeps = %d, want run bounded at configured max 3", snap.Sweeps)
	}
}

func TestStartRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	t.Run("get_not_allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/scan/start", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("malformed_body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/scan/start", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid_axis", func(t *testing.T) {
		body := startBody(3, 4)
		body.Fast.Step = 0
		rec := postJSON(t, mux, "/api/scan/start", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestStartConflictWhileRunning(t *testing.T) {
	srv, eng := newTestServer(t, &device.MockStepper{ExecuteLatency: 10 * time.Millisecond})
	mux := srv.ServeMux()

	if rec := postJSON(t, mux, "/api/scan/start", startBody(5, 3)); rec.Code != http.StatusOK {
		t.Fatalf("first start: %d %s", rec.Code, rec.Body.String())
	}
	rec := postJSON(t, mux, "/api/scan/start", startBody(5, 3))
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}

	postJSON(t, mux, "/api/scan/stop", nil)
	eng.Wait()
}

func TestStopContinueLifecycle(t *testing.T) {
	srv, eng := newTestServer(t, &device.MockStepper{ExecuteLatency: 5 * time.Millisecond})
	mux := srv.ServeMux()

	if rec := postJSON(t, mux, "/api/scan/start", startBody(20, 3)); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	if rec := postJSON(t, mux, "/api/scan/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop: %d", rec.Code)
	}
	eng.Wait()

	if got := eng.Status().Status; got != scan.StatusStopped {
		t.Fatalf("status = %q, want stopped", got)
	}

	if rec := postJSON(t, mux, "/api/scan/continue", nil); rec.Code != http.StatusOK {
		t.Fatalf("continue: %d %s", rec.Code, rec.Body.String())
	}
	eng.Wait()
	if got := eng.Status().Status; got != scan.StatusComplete {
		t.Errorf("status after continue = %q, want complete", got)
	}

	// a second continue has nothing to resume
	if rec := postJSON(t, mux, "/api/scan/continue", nil); rec.Code != http.StatusConflict {
		t.Errorf("continue on complete session = %d, want 409", rec.Code)
	}
}

func TestStatusAndSnapshotEndpoints(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/api/scan/snapshot", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("snapshot before any session = %d, want 404", rec.Code)
	}

	if rec := postJSON(t, mux, "/api/scan/start", startBody(2, 3)); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	eng.Wait()

	req = httptest.NewRequest(http.MethodGet, "/api/scan/status", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var sess scan.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if sess.Status != scan.StatusComplete || sess.CurrentLine != 1 {
		t.Errorf("session = %+v", sess)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/scan/snapshot", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var snap scan.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.Lines != 2 || snap.Points != 3 {
		t.Errorf("snapshot shape %dx%d, want 2x3", snap.Lines, snap.Points)
	}
	if snap.Matrices["counts_fw"][0][0] != 5 {
		t.Errorf("snapshot data missing: %v", snap.Matrices["counts_fw"])
	}
}

func TestSessionsWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	req := httptest.NewRequest(http.MethodGet, "/api/scan/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty list", got)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["version"] == "" {
		t.Error("version missing from response")
	}
}

func TestHeatmapEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	mux := srv.ServeMux()

	if rec := postJSON(t, mux, "/api/scan/start", startBody(2, 3)); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	eng.Wait()

	req := httptest.NewRequest(http.MethodGet, "/debug/scan/heatmap?channel=counts&dir=bw", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/scan/heatmap?channel=bogus", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown channel status = %d, want 400", rec.Code)
	}
}

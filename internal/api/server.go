// Package api exposes the scan engine over HTTP: JSON endpoints for
// session control and status, an SSE event stream, and debugging chart
// views rendered server-side.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/scanline/internal/config"
	"github.com/banshee-data/scanline/internal/httputil"
	"github.com/banshee-data/scanline/internal/report"
	"github.com/banshee-data/scanline/internal/scan"
	"github.com/banshee-data/scanline/internal/store"
	"github.com/banshee-data/scanline/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server serves the acquisition API for one engine.
type Server struct {
	engine *scan.Engine
	db     *store.Store
	cfg    *config.ScanConfig
	loQ    float64
	hiQ    float64
}

// NewServer creates an API server. db may be nil when persistence is
// disabled; the session listing endpoint then reports an empty list.
// cfg supplies acquisition defaults for start requests and the display
// quantiles; nil means the canonical defaults.
func NewServer(engine *scan.Engine, db *store.Store, cfg *config.ScanConfig) *Server {
	if cfg == nil {
		cfg = config.DefaultScanConfig()
	}
	s := &Server{engine: engine, db: db, cfg: cfg, loQ: 0.02, hiQ: 0.98}
	if cfg.DisplayLoQuantile != nil {
		s.loQ = *cfg.DisplayLoQuantile
	}
	if cfg.DisplayHiQuantile != nil {
		s.hiQ = *cfg.DisplayHiQuantile
	}
	return s
}

// applyDefaults fills start-request fields the client omitted from the
// configured acquisition defaults. A zero value means "use the default";
// clients that need a literal zero (e.g. no optimizer interleave) set the
// default to zero in the config file.
func (s *Server) applyDefaults(req *scan.StartRequest) {
	if req.OptimizeEvery == 0 && s.cfg.OptimizeEvery != nil {
		req.OptimizeEvery = *s.cfg.OptimizeEvery
	}
	if req.Curves == 0 && s.cfg.Curves != nil {
		req.Curves = *s.cfg.Curves
	}
	if !req.Batched && s.cfg.Batched != nil {
		req.Batched = *s.cfg.Batched
	}
	if req.MaxSweeps == 0 && s.cfg.MaxSweeps != nil {
		req.MaxSweeps = *s.cfg.MaxSweeps
	}
	if req.RunSeconds == 0 && s.cfg.RunSeconds != nil {
		req.RunSeconds = *s.cfg.RunSeconds
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scan/start", s.handleStart)
	mux.HandleFunc("/api/scan/stop", s.handleStop)
	mux.HandleFunc("/api/scan/continue", s.handleContinue)
	mux.HandleFunc("/api/scan/clear", s.handleClear)
	mux.HandleFunc("/api/scan/optimize", s.handleOptimize)
	mux.HandleFunc("/api/scan/status", s.handleStatus)
	mux.HandleFunc("/api/scan/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/scan/sessions", s.handleSessions)
	mux.HandleFunc("/api/scan/events", s.handleEvents)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/debug/scan/heatmap", s.handleHeatmap)
	mux.HandleFunc("/debug/scan/trace", s.handleTrace)
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req scan.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	s.applyDefaults(&req)

	plan, err := s.engine.Start(req)
	if err != nil {
		if s.engine.Status().Status.Active() {
			httputil.Conflict(w, err.Error())
		} else {
			httputil.BadRequest(w, err.Error())
		}
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"session":      s.engine.Status(),
		"lines":        len(plan.Lines),
		"points":       plan.PointsPerLine(),
		"snapped_fast": plan.SnappedFast,
		"snapped_slow": plan.SnappedSlow,
		"arms":         plan.Arms,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.RequestStop()
	httputil.WriteJSONOK(w, map[string]string{"result": "stop requested"})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.engine.Continue(); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"result": "continuing"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.RequestClear()
	httputil.WriteJSONOK(w, map[string]string{"result": "clear requested"})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.RequestOptimize()
	httputil.WriteJSONOK(w, map[string]string{"result": "optimize requested"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.engine.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	if snap == nil {
		httputil.NotFound(w, "no session has run yet")
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.WriteJSONOK(w, []store.SessionRecord{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	sessions, err := s.db.ListSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.SessionRecord{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// handleEvents streams acquisition events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	id, ch := s.engine.Events().Subscribe()
	defer s.engine.Events().Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	if snap == nil {
		httputil.NotFound(w, "no session has run yet")
		return
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" && len(snap.Channels) > 0 {
		channel = snap.Channels[0].Name
	}
	dir := scan.Forward
	if r.URL.Query().Get("dir") == "bw" {
		dir = scan.Backward
	}

	html, err := report.RenderHeatmap(snap, channel, dir, s.loQ, s.hiQ)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	if snap == nil {
		httputil.NotFound(w, "no session has run yet")
		return
	}

	html, err := report.RenderTrace(snap)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

package scan

// Snapshot is a read-only copy of the session's buffers and progress,
// taken for display, persistence and the HTTP API. Snapshots of a running
// session are eventually consistent: the trailing row may be partially
// written.
type Snapshot struct {
	Session  Session       `json:"session"`
	Channels []ChannelMeta `json:"channels,omitempty"`

	// Raster matrices keyed "<channel>_fw" / "<channel>_bw".
	Lines    int                    `json:"lines,omitempty"`
	Points   int                    `json:"points,omitempty"`
	Matrices map[string][][]float64 `json:"matrices,omitempty"`

	// Sweep accumulation and derived traces.
	Freqs       []float64   `json:"freqs,omitempty"`
	Arms        []Arm       `json:"arms,omitempty"`
	FrameW      int         `json:"frame_w,omitempty"`
	FrameH      int         `json:"frame_h,omitempty"`
	FlatPoints  int         `json:"flat_points,omitempty"`
	Curves      int         `json:"curves,omitempty"`
	Sweeps      int         `json:"sweeps,omitempty"`
	MeanTrace   []float64   `json:"mean_trace,omitempty"`
	CurveTraces [][]float64 `json:"curve_traces,omitempty"`
}

// Snapshot copies the controller's buffers and progress counters. The
// caller fills in session fields the controller does not own (status,
// timestamps).
func (c *Controller) Snapshot() *Snapshot {
	c.mu.Lock()
	next, sweeps, elapsed := c.next, c.elapsedSweeps, c.elapsedAccum
	c.mu.Unlock()

	snap := &Snapshot{
		Session: Session{
			ID:             c.cfg.SessionID,
			Mode:           c.cfg.Plan.Mode,
			CurrentLine:    next - 1,
			TotalLines:     len(c.cfg.Plan.Lines),
			ElapsedSweeps:  sweeps,
			ElapsedSeconds: elapsed,
		},
	}

	if c.buf != nil {
		snap.Channels = c.buf.Channels()
		snap.Lines, snap.Points = c.buf.Shape()
		snap.Matrices = make(map[string][][]float64, 2*len(snap.Channels))
		for _, ch := range snap.Channels {
			snap.Matrices[ch.Name+"_fw"] = c.buf.Matrix(ch.Name, Forward)
			snap.Matrices[ch.Name+"_bw"] = c.buf.Matrix(ch.Name, Backward)
		}
	}

	if c.raw != nil {
		for _, dc := range c.cfg.Detectors {
			snap.Channels = append(snap.Channels, dc.Meta)
		}
		snap.Freqs = append([]float64(nil), c.cfg.Plan.Freqs...)
		snap.Arms = append([]Arm(nil), c.cfg.Plan.Arms...)
		snap.FrameW, snap.FrameH, snap.FlatPoints = c.raw.Shape()
		snap.Curves = c.cfg.Curves
		snap.Sweeps = c.raw.Sweeps()
		snap.MeanTrace = c.raw.MeanTrace()
		snap.CurveTraces = Deinterleave(snap.MeanTrace, c.cfg.Curves)
	}

	return snap
}

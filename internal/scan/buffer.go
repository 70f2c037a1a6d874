package scan

import "sync"

// ChannelMeta describes one acquired parameter and its display metadata.
type ChannelMeta struct {
	Name        string  `json:"name"`         // storage key, e.g. "counts"
	Unit        string  `json:"unit"`         // SI unit, e.g. "c/s"
	ScaleFactor float64 `json:"scale_factor"` // multiplier applied for display
	NiceName    string  `json:"nice_name"`    // human label, e.g. "Fluorescence"
}

type matrixKey struct {
	Channel   string
	Direction Direction
}

// Buffer is the per-session matrix store for raster scans: one
// lines-by-points matrix per (channel, direction). The shape is fixed when
// the buffer is allocated and never changes mid-session. Only the worker
// goroutine writes it; concurrent readers synchronize on the internal
// mutex, so a snapshot taken mid-scan sees whole rows but may still carry
// a zero trailing row the worker has not reached yet.
type Buffer struct {
	mu       sync.Mutex
	channels []ChannelMeta
	lines    int
	points   int
	data     map[matrixKey][]float64 // row-major lines*points
}

// NewBuffer allocates zero-filled forward and backward matrices for every
// channel.
func NewBuffer(channels []ChannelMeta, lines, points int) *Buffer {
	b := &Buffer{
		channels: append([]ChannelMeta(nil), channels...),
		lines:    lines,
		points:   points,
		data:     make(map[matrixKey][]float64, 2*len(channels)),
	}
	for _, ch := range channels {
		b.data[matrixKey{ch.Name, Forward}] = make([]float64, lines*points)
		b.data[matrixKey{ch.Name, Backward}] = make([]float64, lines*points)
	}
	return b
}

// Channels returns the channel metadata in allocation order.
func (b *Buffer) Channels() []ChannelMeta {
	return append([]ChannelMeta(nil), b.channels...)
}

// Shape returns (lines, points per line).
func (b *Buffer) Shape() (int, int) { return b.lines, b.points }

// SetLine overwrites one row of the (channel, direction) matrix.
func (b *Buffer) SetLine(channel string, dir Direction, line int, vals []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.data[matrixKey{channel, dir}]
	if !ok {
		return &DimensionError{Channel: channel, Want: b.points, Got: len(vals)}
	}
	if len(vals) != b.points {
		return &DimensionError{Channel: channel, Want: b.points, Got: len(vals)}
	}
	if line < 0 || line >= b.lines {
		return &DimensionError{Channel: channel, Want: b.lines, Got: line}
	}
	copy(row[line*b.points:(line+1)*b.points], vals)
	return nil
}

// Row returns a copy of one row of the (channel, direction) matrix.
func (b *Buffer) Row(channel string, dir Direction, line int) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.data[matrixKey{channel, dir}]
	if !ok || line < 0 || line >= b.lines {
		return nil
	}
	out := make([]float64, b.points)
	copy(out, row[line*b.points:(line+1)*b.points])
	return out
}

// Matrix returns a copy of the full (channel, direction) matrix as rows.
func (b *Buffer) Matrix(channel string, dir Direction) [][]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	flat, ok := b.data[matrixKey{channel, dir}]
	if !ok {
		return nil
	}
	out := make([][]float64, b.lines)
	for i := range out {
		out[i] = make([]float64, b.points)
		copy(out[i], flat[i*b.points:(i+1)*b.points])
	}
	return out
}

// Zero resets every matrix to zero in place. The shape is retained.
func (b *Buffer) Zero() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, flat := range b.data {
		for i := range flat {
			flat[i] = 0
		}
	}
}

// RawBuffer is the per-session accumulation store for frequency sweeps: a
// detector-rows by detector-cols by flat-sweep-index tensor. Frames are
// added, never overwritten, so repeated sweeps build a running sum for
// signal averaging. Accumulation is additive and order-independent.
// Writes and trace reads synchronize on the internal mutex.
type RawBuffer struct {
	mu     sync.Mutex
	w      int // detector columns
	h      int // detector rows
	points int // flat sweep length (curves * frequencies for batched mode)
	sweeps int // completed full sweeps
	data   []float64
}

// NewRawBuffer allocates a zero-filled tensor for a frame of w x h pixels
// and a flat sweep of the given length.
func NewRawBuffer(w, h, points int) *RawBuffer {
	return &RawBuffer{w: w, h: h, points: points, data: make([]float64, w*h*points)}
}

// Shape returns (w, h, flat sweep length).
func (r *RawBuffer) Shape() (int, int, int) { return r.w, r.h, r.points }

// Sweeps returns the number of completed full sweeps accumulated so far.
func (r *RawBuffer) Sweeps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweeps
}

// AccumulateFrame adds one detector frame at flat sweep index p.
func (r *RawBuffer) AccumulateFrame(p int, frame []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(frame) != r.w*r.h {
		return &DimensionError{Channel: "raw", Want: r.w * r.h, Got: len(frame)}
	}
	if p < 0 || p >= r.points {
		return &DimensionError{Channel: "raw", Want: r.points, Got: p}
	}
	for pix, v := range frame {
		r.data[pix*r.points+p] += v
	}
	return nil
}

// CompleteSweep marks one full traversal of the sweep as accumulated.
func (r *RawBuffer) CompleteSweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
}

// PixelTrace returns the summed trace of one detector pixel.
func (r *RawBuffer) PixelTrace(row, col int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row < 0 || row >= r.h || col < 0 || col >= r.w {
		return nil
	}
	pix := row*r.w + col
	out := make([]float64, r.points)
	copy(out, r.data[pix*r.points:(pix+1)*r.points])
	return out
}

// MeanTrace returns the per-sweep mean trace averaged over every detector
// pixel: sum / (pixels * completed sweeps). Before the first completed
// sweep it returns the raw partial sums.
func (r *RawBuffer) MeanTrace() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, r.points)
	pixels := r.w * r.h
	if pixels == 0 {
		return out
	}
	for pix := 0; pix < pixels; pix++ {
		for p := 0; p < r.points; p++ {
			out[p] += r.data[pix*r.points+p]
		}
	}
	norm := float64(pixels)
	if r.sweeps > 0 {
		norm *= float64(r.sweeps)
	}
	for p := range out {
		out[p] /= norm
	}
	return out
}

// Zero resets the tensor and the sweep counter in place.
func (r *RawBuffer) Zero() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.data {
		r.data[i] = 0
	}
	r.sweeps = 0
}

// Deinterleave splits a flat trace acquired with interleaved sub-traces
// into curves separate traces by modulo indexing: sample s belongs to curve
// s mod curves at position s div curves. With two curves this separates
// signal and background; with three, signal, background and reference.
func Deinterleave(trace []float64, curves int) [][]float64 {
	if curves <= 1 {
		return [][]float64{append([]float64(nil), trace...)}
	}
	out := make([][]float64, curves)
	per := len(trace) / curves
	for c := range out {
		out[c] = make([]float64, 0, per)
	}
	for s, v := range trace {
		out[s%curves] = append(out[s%curves], v)
	}
	return out
}

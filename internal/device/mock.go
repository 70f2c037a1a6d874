package device

import (
	"sync"
	"time"
)

// MockStepper implements Stepper with configurable behaviour for testing
// and for the daemon's demo mode. It records every line setup and provides
// fine-grained control over latency and error injection.
type MockStepper struct {
	mu sync.Mutex

	// SetupError is returned by every SetupLine call if set.
	SetupError error

	// ExecuteError is returned by ExecuteLine. If ExecuteErrorAt is zero
	// it applies to every call; otherwise only to the Nth (1-based)
	// execution.
	ExecuteError   error
	ExecuteErrorAt int

	// ExecuteLatency adds a delay to each ExecuteLine call.
	ExecuteLatency time.Duration

	// ResultFn computes the per-point samples the stepper reports for the
	// last executed line. Nil means no measurement channel.
	ResultFn func(spec LineSpec) []float64

	current    LineSpec
	setups     []LineSpec
	executions int
	lastResult []float64
}

func (m *MockStepper) SetupLine(spec LineSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetupError != nil {
		return m.SetupError
	}
	coords := make([]float64, len(spec.Coords))
	copy(coords, spec.Coords)
	spec.Coords = coords
	m.current = spec
	m.setups = append(m.setups, spec)
	return nil
}

func (m *MockStepper) ExecuteLine() error {
	m.mu.Lock()
	latency := m.ExecuteLatency
	m.executions++
	n := m.executions
	err := m.ExecuteError
	at := m.ExecuteErrorAt
	spec := m.current
	fn := m.ResultFn
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if err != nil && (at == 0 || at == n) {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.lastResult = fn(spec)
	} else {
		m.lastResult = nil
	}
	return nil
}

func (m *MockStepper) LineResult() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastResult == nil {
		return nil
	}
	out := make([]float64, len(m.lastResult))
	copy(out, m.lastResult)
	return out
}

// Setups returns every LineSpec handed to SetupLine, in order.
func (m *MockStepper) Setups() []LineSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LineSpec(nil), m.setups...)
}

// Executions returns the number of completed ExecuteLine calls.
func (m *MockStepper) Executions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executions
}

// MockDetector implements Detector with a constant reading or a scripted
// frame function.
type MockDetector struct {
	mu sync.Mutex

	// Width and Height define the frame geometry; zero values mean a
	// point detector (1 x 1).
	Width  int
	Height int

	// Value is the constant reading returned for every sample when
	// FrameFn is nil.
	Value float64

	// FrameFn, if set, produces the n concatenated frames for a Grab
	// call. It receives the grab size and the number of completed grabs
	// so far.
	FrameFn func(n, grabs int) []float64

	// GrabError is returned by Grab. If GrabErrorAt is zero it applies to
	// every call; otherwise only to the Nth (1-based) grab.
	GrabError   error
	GrabErrorAt int

	// GrabLatency adds a delay to each Grab call.
	GrabLatency time.Duration

	armed int
	grabs int
}

func (m *MockDetector) FrameSize() (int, int) {
	w, h := m.Width, m.Height
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return w, h
}

func (m *MockDetector) BeginAcquisition(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = n
	return nil
}

func (m *MockDetector) Grab(n int) ([]float64, error) {
	m.mu.Lock()
	latency := m.GrabLatency
	m.grabs++
	count := m.grabs
	err := m.GrabError
	at := m.GrabErrorAt
	fn := m.FrameFn
	value := m.Value
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if err != nil && (at == 0 || at == count) {
		return nil, err
	}

	if fn != nil {
		return fn(n, count-1), nil
	}
	w, h := m.FrameSize()
	out := make([]float64, n*w*h)
	for i := range out {
		out[i] = value
	}
	return out, nil
}

// Grabs returns the number of completed Grab calls.
func (m *MockDetector) Grabs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grabs
}

// MockOptimizer implements Optimizer, counting runs and optionally failing.
type MockOptimizer struct {
	mu sync.Mutex

	RunError error
	Latency  time.Duration

	runs int
}

func (m *MockOptimizer) Run() error {
	m.mu.Lock()
	m.runs++
	err := m.RunError
	latency := m.Latency
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return err
}

// Runs returns the number of Run invocations.
func (m *MockOptimizer) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

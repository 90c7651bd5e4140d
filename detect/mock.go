package detect

import (
	"context"
	"sync"
	"time"
)

// Mock is a scriptable Detector used by tests and dry runs.
// It records the number of concurrent calls it serves.
type Mock struct {
	mu       sync.Mutex
	faces    map[string][]Face
	faceFunc func(img []byte) []Face
	err      error
	failures map[string][]error
	delay    time.Duration
	calls    map[string]int

	barrier  int
	released chan struct{}

	inFlight int
	peak     int
	total    int
}

// NewMock returns a detector that finds no faces.
func NewMock() *Mock {
	return &Mock{
		faces:    make(map[string][]Face),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetFaces configures the faces returned for the given image content.
func (m *Mock) SetFaces(img []byte, faces ...Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[string(img)] = faces
}

// SetFaceFunc configures the faces returned for images without explicit faces.
func (m *Mock) SetFaceFunc(fn func(img []byte) []Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faceFunc = fn
}

// SetError makes every call fail with err.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailNext makes the next calls for the given image content fail, one error per call.
func (m *Mock) FailNext(img []byte, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[string(img)] = append(m.failures[string(img)], errs...)
}

// SetDelay makes every call take at least d.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// HoldUntil blocks every call until n calls have been in flight at the same time,
// or until the timeout expires.
func (m *Mock) HoldUntil(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barrier = n
	m.released = make(chan struct{})
}

// Detect implements Detector.
func (m *Mock) Detect(ctx context.Context, img []byte) ([]Face, error) {
	key := string(img)

	m.mu.Lock()
	m.total++
	m.calls[key]++
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	released := m.released
	if released != nil && m.inFlight >= m.barrier {
		select {
		case <-released:
		default:
			close(released)
		}
	}
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if released != nil {
		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if errs := m.failures[key]; len(errs) > 0 {
		m.failures[key] = errs[1:]
		return nil, errs[0]
	}
	if m.err != nil {
		return nil, m.err
	}
	if faces, ok := m.faces[key]; ok {
		return append([]Face(nil), faces...), nil
	}
	if m.faceFunc != nil {
		return m.faceFunc(img), nil
	}
	return nil, nil
}

// Peak returns the highest number of concurrent calls observed.
func (m *Mock) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// InFlight returns the number of calls currently being served.
func (m *Mock) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Calls returns the total number of calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// CallsFor returns the number of calls made for the given image content.
func (m *Mock) CallsFor(img []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(img)]
}

package batch

import (
	"sort"
	"sync"

	"github.com/esimov/facemerge/detect"
)

// Aggregate collects the detection results of a run. It is written by the workers
// and may be read at any time; every read returns a copy.
type Aggregate struct {
	mu       sync.RWMutex
	faces    map[string][]detect.Face
	ids      []string
	owner    map[string]string
	failures map[string]error
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		faces:    make(map[string][]detect.Face),
		owner:    make(map[string]string),
		failures: make(map[string]error),
	}
}

// Record stores the faces found in path and appends their identifiers to the completion
// ordered list. A path is recorded at most once; later calls for the same path are ignored.
func (a *Aggregate) Record(path string, faces []detect.Face) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.faces[path]; ok {
		return
	}
	a.faces[path] = append([]detect.Face{}, faces...)
	for _, f := range faces {
		a.ids = append(a.ids, f.ID)
		a.owner[f.ID] = path
	}
}

// RecordFailure marks path as permanently failed.
func (a *Aggregate) RecordFailure(path string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[path] = err
}

// Len returns the number of recorded paths.
func (a *Aggregate) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.faces)
}

// Paths returns the recorded paths in lexical order.
func (a *Aggregate) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	paths := make([]string, 0, len(a.faces))
	for p := range a.faces {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Faces returns the faces detected in path.
func (a *Aggregate) Faces(path string) ([]detect.Face, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	faces, ok := a.faces[path]
	if !ok {
		return nil, false
	}
	return append([]detect.Face{}, faces...), true
}

// FaceIDs returns the face identifiers in completion order.
func (a *Aggregate) FaceIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string{}, a.ids...)
}

// PathOf returns the image path a face identifier was detected in.
func (a *Aggregate) PathOf(id string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.owner[id]
	return p, ok
}

// FailureCount returns the number of permanently failed paths.
func (a *Aggregate) FailureCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.failures)
}

// Failures returns the permanent failures sorted by path.
func (a *Aggregate) Failures() []Failure {
	a.mu.RLock()
	defer a.mu.RUnlock()
	res := make([]Failure, 0, len(a.failures))
	for p, err := range a.failures {
		res = append(res, Failure{Path: p, Err: err})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res
}

package stats

import "sync"

// PathRecorders is the per-path response-time recorder map: keys are
// added lazily on first observation, never removed during a run, and
// insertion is check-then-LoadOrStore: under a race the first stored
// Recorder wins and every caller gets that same one.
type PathRecorders struct {
	m sync.Map // string -> *Recorder
}

// NewPathRecorders creates an empty per-path recorder map.
func NewPathRecorders() *PathRecorders {
	return &PathRecorders{}
}

// Get returns the Recorder for path, creating it on first observation.
func (p *PathRecorders) Get(path string) *Recorder {
	if existing, ok := p.m.Load(path); ok {
		return existing.(*Recorder)
	}
	created := NewRecorder()
	actual, _ := p.m.LoadOrStore(path, created)
	return actual.(*Recorder)
}

// Each calls fn once per path currently tracked. fn must not mutate the map.
func (p *PathRecorders) Each(fn func(path string, r *Recorder)) {
	p.m.Range(func(key, value any) bool {
		fn(key.(string), value.(*Recorder))
		return true
	})
}

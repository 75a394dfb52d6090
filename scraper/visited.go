package scraper

import "sync"

// VisitedSet holds the reference ids already emitted during a run.
type VisitedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{ids: make(map[string]struct{})}
}

// Add inserts id and reports whether it was new.
func (v *VisitedSet) Add(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.ids[id]; ok {
		return false
	}
	v.ids[id] = struct{}{}
	return true
}

func (v *VisitedSet) Contains(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.ids[id]
	return ok
}

func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ids)
}

func (v *VisitedSet) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ids = make(map[string]struct{})
}

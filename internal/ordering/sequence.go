package ordering

import "sync"

// SequenceTracker hands out monotonically increasing request numbers per
// collection and remembers the newest one whose response was applied. Callers
// Issue before sending a request and Observe when its response arrives; a
// response is stale when a newer one has already been observed. Numbers are
// never reused for a key, so a response that lands after its view was closed
// cannot outrank requests issued later.
type SequenceTracker struct {
	mu       sync.Mutex
	issued   map[string]uint64
	observed map[string]uint64
}

// NewSequenceTracker constructs an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{
		issued:   make(map[string]uint64),
		observed: make(map[string]uint64),
	}
}

// Issue returns the next sequence number for the collection.
func (t *SequenceTracker) Issue(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.issued[key]++
	return t.issued[key]
}

// Observe records that the response for seq arrived. It reports false when a
// response with a higher sequence number was observed before.
func (t *SequenceTracker) Observe(key string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq < t.observed[key] {
		return false
	}
	t.observed[key] = seq
	return true
}

// Stale reports whether seq is older than the newest observed response.
func (t *SequenceTracker) Stale(key string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return seq < t.observed[key]
}

// Latest returns the most recently issued sequence number.
func (t *SequenceTracker) Latest(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issued[key]
}

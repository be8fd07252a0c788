package dispatch

import "sync"

// DefaultDedupCapacity is the number of recent message ids remembered.
const DefaultDedupCapacity = 200

// DedupWindow remembers recently seen message ids. When full, the oldest
// half is forgotten at once.
type DedupWindow struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]struct{}
}

// NewDedupWindow creates a window holding up to capacity ids.
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity < 2 {
		capacity = DefaultDedupCapacity
	}
	return &DedupWindow{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen records id and reports whether it was already present. The test
// and the insert happen under one lock.
func (w *DedupWindow) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}
	if len(w.order) >= w.capacity {
		half := len(w.order) / 2
		for _, old := range w.order[:half] {
			delete(w.seen, old)
		}
		w.order = append(w.order[:0], w.order[half:]...)
	}
	w.order = append(w.order, id)
	w.seen[id] = struct{}{}
	return false
}

// Len returns the number of remembered ids.
func (w *DedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

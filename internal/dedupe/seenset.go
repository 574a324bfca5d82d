// Package dedupe provides the capacity-bounded seen-key sets that keep the
// relay from re-delivering messages and pairing alerts. Eviction is strictly
// oldest-inserted-first; checking or re-inserting a key never promotes it.
package dedupe

const (
	// InboundCapacity bounds the per-account inbound message set.
	InboundCapacity = 512
	// PairingCapacity bounds the per-account pairing alert set.
	PairingCapacity = 256
)

// SeenSet is an insertion-ordered set of keys with a fixed capacity. It is an
// approximate, best-effort dedupe: memory-resident, reset on restart, and
// intentionally small. Not safe for concurrent use; each instance belongs to
// exactly one session goroutine.
type SeenSet struct {
	capacity int
	keys     map[string]struct{}
	order    []string
}

// NewSeenSet creates a set holding at most capacity keys. Capacity values
// below 1 are clamped to 1.
func NewSeenSet(capacity int) *SeenSet {
	if capacity < 1 {
		capacity = 1
	}
	return &SeenSet{
		capacity: capacity,
		keys:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Seen reports whether key was remembered and has not been evicted.
func (s *SeenSet) Seen(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Remember inserts key. A key already present keeps its original position.
// When the size exceeds capacity, the oldest-inserted entries are evicted
// until the size is back at capacity.
func (s *SeenSet) Remember(key string) {
	if _, ok := s.keys[key]; !ok {
		s.keys[key] = struct{}{}
		s.order = append(s.order, key)
	}
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keys, oldest)
	}
}

// Len returns the current number of retained keys.
func (s *SeenSet) Len() int { return len(s.order) }

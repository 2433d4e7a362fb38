package buffer

import (
	"sort"
	"sync"

	v1 "farmgate/pkg/api/v1"
)

// RevisionBuffer keeps the most recent flag changes so a reconnecting stream
// client can catch up from its last seen revision. Changes must be added in
// increasing revision order.
type RevisionBuffer struct {
	mu      sync.RWMutex
	changes []v1.Change
	size    int
	head    int
	isFull  bool
}

func NewRevisionBuffer(size int) *RevisionBuffer {
	if size <= 0 {
		size = 256
	}
	return &RevisionBuffer{
		changes: make([]v1.Change, size),
		size:    size,
	}
}

func (b *RevisionBuffer) Add(c v1.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.changes[b.head] = c
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// Since returns every change newer than lastRev. ok is false when lastRev has
// already been evicted and the caller needs a full snapshot instead.
func (b *RevisionBuffer) Since(lastRev int64) ([]v1.Change, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}
	if count == 0 {
		return nil, true
	}

	// the change right after lastRev must still be buffered
	oldest := b.changes[start].Revision
	if lastRev < oldest-1 {
		return nil, false
	}

	// logical index i lives at physical (start + i) % size
	idx := sort.Search(count, func(i int) bool {
		return b.changes[(start+i)%b.size].Revision > lastRev
	})
	if idx == count {
		return nil, true
	}

	out := make([]v1.Change, 0, count-idx)
	for i := idx; i < count; i++ {
		out = append(out, b.changes[(start+i)%b.size])
	}
	return out, true
}

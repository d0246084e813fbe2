package monitor

import (
	"sync"

	"github.com/gpumon/gpumon/internal/gpu"
)

// SnapshotQueue is the bounded hand-off between the sampler and the
// broadcaster. Push never blocks: when the queue is full the oldest
// snapshot is evicted. It is the only structure shared between the two
// loops and the only one that needs a lock.
type SnapshotQueue struct {
	mu       sync.Mutex
	items    []gpu.Snapshot
	capacity int
}

func NewSnapshotQueue(capacity int) *SnapshotQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &SnapshotQueue{capacity: capacity}
}

func (q *SnapshotQueue) Push(s gpu.Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, s)
}

// DrainAll atomically removes and returns every queued snapshot in arrival
// order. The broadcaster uses the newest entry and discards the rest when
// it has fallen behind.
func (q *SnapshotQueue) DrainAll() []gpu.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *SnapshotQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

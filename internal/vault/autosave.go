package vault

import (
	"sync"

	"github.com/louisbranch/worldvault/internal/world"
)

// autoSaveQueue coalesces auto-save requests per world, latest copy wins,
// preserving first-enqueue order for the flush.
type autoSaveQueue struct {
	mu      sync.Mutex
	order   []string
	pending map[string]world.World
}

func newAutoSaveQueue() *autoSaveQueue {
	return &autoSaveQueue{pending: make(map[string]world.World)}
}

func (q *autoSaveQueue) put(w world.World) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, queued := q.pending[w.ID]; !queued {
		q.order = append(q.order, w.ID)
	}
	q.pending[w.ID] = w.Clone()
}

// putIfAbsent re-queues a failed flush without clobbering a newer enqueue
// that raced in.
func (q *autoSaveQueue) putIfAbsent(w world.World) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, queued := q.pending[w.ID]; queued {
		return
	}
	q.order = append(q.order, w.ID)
	q.pending[w.ID] = w
}

func (q *autoSaveQueue) drop(worldID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, queued := q.pending[worldID]; !queued {
		return
	}
	delete(q.pending, worldID)
	for i, queuedID := range q.order {
		if queuedID == worldID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *autoSaveQueue) drain() []world.World {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]world.World, 0, len(q.order))
	for _, worldID := range q.order {
		drained = append(drained, q.pending[worldID])
	}
	q.order = nil
	q.pending = make(map[string]world.World)
	return drained
}

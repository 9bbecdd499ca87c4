package store

import (
	"context"
	"sync"

	"github.com/roach88/semantika/internal/storage"
)

// changeFeed fans change events out to every active watcher of a
// collection.
type changeFeed struct {
	mu       sync.Mutex
	watchers map[*watchQueue]struct{}
	closed   bool
}

func newChangeFeed() *changeFeed {
	return &changeFeed{watchers: make(map[*watchQueue]struct{})}
}

func (f *changeFeed) publish(c storage.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for w := range f.watchers {
		w.enqueue(c)
	}
}

func (f *changeFeed) subscribe() (*watchQueue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	w := newWatchQueue()
	f.watchers[w] = struct{}{}
	return w, true
}

func (f *changeFeed) unsubscribe(w *watchQueue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watchers, w)
	w.close()
}

func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for w := range f.watchers {
		w.close()
	}
}

// watchQueue is an unbounded FIFO of changes for one watcher. Publishing
// never blocks on a slow callback.
//
// The queue uses a channel for signaling to enable context-aware waiting.
type watchQueue struct {
	mu      sync.Mutex
	changes []storage.Change
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newWatchQueue() *watchQueue {
	return &watchQueue{signal: make(chan struct{}, 1)}
}

func (q *watchQueue) enqueue(c storage.Change) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.changes = append(q.changes, c)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// tryDequeue returns the front change without blocking.
func (q *watchQueue) tryDequeue() (storage.Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.changes) == 0 {
		return storage.Change{}, false
	}
	c := q.changes[0]
	q.changes[0] = storage.Change{}
	q.changes = q.changes[1:]
	return c, true
}

func (q *watchQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *watchQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Watch delivers every subsequent write to this collection to fn, in write
// order, until fn reports done, fn fails, ctx is cancelled or the store is
// closed. Only writes made through this Store are observed.
func (c *Collection) Watch(ctx context.Context, fn func(storage.Change) (bool, error)) error {
	w, ok := c.feed.subscribe()
	if !ok {
		return nil
	}
	defer c.feed.unsubscribe(w)

	for {
		for {
			change, ok := w.tryDequeue()
			if !ok {
				break
			}
			done, err := fn(change)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		if w.isClosed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.signal:
		}
	}
}

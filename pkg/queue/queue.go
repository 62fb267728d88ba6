// Package queue holds the download worklist consumed by the parallel fetch
// workers. Entries are deduplicated by filename so a file listed twice is
// only transferred once. It is safe to use from multiple goroutines.
package queue

import (
	"context"
	"sync"

	"github.com/surveydata/connector-nhanes/pkg/listing"
)

// Worklist is a deduplicating FIFO of listing entries tied to a context.
// Next blocks while the list is open and empty, and returns nil once the
// list is closed and drained or the context is cancelled.
type Worklist struct {
	sync.Mutex
	sync.Cond
	ctx context.Context

	order   []string
	pending map[string]listing.Entry
	seen    map[string]struct{}
	closed  bool
}

// New returns an empty worklist tied to the lifetime of the context.
// Cancelling the context unblocks every waiting consumer.
func New(ctx context.Context) *Worklist {
	w := &Worklist{
		ctx:     ctx,
		pending: make(map[string]listing.Entry),
		seen:    make(map[string]struct{}),
	}
	w.L = w

	go func() {
		<-ctx.Done()
		w.Broadcast()
	}()
	return w
}

// Add appends an entry unless a file with the same name was already queued.
// It reports whether the entry was accepted.
func (w *Worklist) Add(e listing.Entry) bool {
	w.Lock()
	defer w.Unlock()
	defer w.Broadcast()

	if _, dup := w.seen[e.Name]; dup {
		return false
	}
	w.seen[e.Name] = struct{}{}
	w.pending[e.Name] = e
	w.order = append(w.order, e.Name)
	return true
}

// Requeue re-adds an entry whose processing failed, bypassing
// deduplication.
func (w *Worklist) Requeue(e listing.Entry) {
	w.Lock()
	defer w.Unlock()
	defer w.Broadcast()

	w.pending[e.Name] = e
	w.order = append(w.order, e.Name)
}

// Close marks the worklist complete; drained consumers stop blocking.
func (w *Worklist) Close() {
	w.Lock()
	defer w.Unlock()
	w.closed = true
	w.Broadcast()
}

// Next returns the next entry in queue order. It returns nil when the
// worklist is closed and empty, or when the context is cancelled.
func (w *Worklist) Next() *listing.Entry {
	w.Lock()
	defer w.Unlock()
	for {
		if w.ctx.Err() != nil {
			return nil
		}
		if len(w.order) == 0 {
			if w.closed {
				return nil
			}
			w.Wait()
			continue
		}
		name := w.order[0]
		w.order = w.order[1:]
		e, ok := w.pending[name]
		if !ok {
			continue
		}
		delete(w.pending, name)
		return &e
	}
}

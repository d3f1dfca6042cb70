// Package update allocates update ids, builds queued updates and applies
// them to the index stores.
package update

import (
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
)

// NextUpdateID returns the id for a new update: one more than the highest id
// found in either the pending queue or the results log, or 0 when both are
// empty. Results outlive their pending entries, so ids are never reused.
func NextUpdateID(r kv.Reader, updates store.Updates, results store.UpdatesResults) (uint64, error) {
	last, err := updates.LastUpdateID(r)
	if err != nil {
		return 0, err
	}
	lastResultID, lastResult, err := results.LastUpdateID(r)
	if err != nil {
		return 0, err
	}

	if last == nil && lastResult == nil {
		return 0, nil
	}

	var highest uint64
	if last != nil {
		highest = last.ID
	}
	if lastResult != nil && lastResultID > highest {
		highest = lastResultID
	}
	return highest + 1, nil
}

// Notifier wakes the update consumer. A pending wake-up absorbs later ones.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier returns a notifier with a single pending slot
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify signals that an update was enqueued. It never blocks and reports
// whether the signal was delivered or merged into a pending one.
func (n *Notifier) Notify() bool {
	if n == nil {
		return false
	}
	select {
	case n.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// C returns the channel the consumer waits on
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

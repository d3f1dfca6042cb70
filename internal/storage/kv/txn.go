package kv

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/index-node/internal/storage/commitlog"
	"github.com/devrev/pairdb/index-node/internal/storage/memtable"
	"go.uber.org/zap"
)

// Reader is implemented by both txn kinds; every read takes one.
type Reader interface {
	get(key string) ([]byte, bool, error)
	scan(prefix string, fn func(key string, value []byte) (bool, error)) error
	last(prefix string) (string, []byte, bool, error)
}

// ReadTxn is a read-only snapshot of the committed state
type ReadTxn struct {
	env  *Env
	done bool
}

// Abort releases the snapshot. It is safe to call more than once.
func (t *ReadTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.env.mu.RUnlock()
}

func (t *ReadTxn) get(key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxnClosed
	}
	value, ok := t.env.data.Search(key)
	return value, ok, nil
}

func (t *ReadTxn) scan(prefix string, fn func(string, []byte) (bool, error)) error {
	if t.done {
		return ErrTxnClosed
	}
	return scanBase(t.env.data, prefix, fn)
}

func (t *ReadTxn) last(prefix string) (string, []byte, bool, error) {
	if t.done {
		return "", nil, false, ErrTxnClosed
	}
	node := t.env.data.SeekLT(prefixEnd(prefix))
	if node == nil || !hasPrefix(node.Key, prefix) {
		return "", nil, false, nil
	}
	return node.Key, node.Value, true, nil
}

func scanBase(data *memtable.SkipList[[]byte], prefix string, fn func(string, []byte) (bool, error)) error {
	it := data.Seek(prefix)
	for it.Next() {
		if !hasPrefix(it.Key(), prefix) {
			return nil
		}
		more, err := fn(it.Key(), it.Value())
		if err != nil || !more {
			return err
		}
	}
	return nil
}

type pending struct {
	value   []byte
	deleted bool
}

// WriteTxn buffers changes until Commit. Its reads see its own writes.
type WriteTxn struct {
	env     *Env
	ctx     context.Context
	overlay *memtable.SkipList[pending]
	done    bool
}

func (t *WriteTxn) put(key string, value []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	t.overlay.Insert(key, pending{value: append([]byte(nil), value...)})
	return nil
}

func (t *WriteTxn) del(key string) error {
	if t.done {
		return ErrTxnClosed
	}
	t.overlay.Insert(key, pending{deleted: true})
	return nil
}

// Only the write txn mutates data, so reading it here needs no lock.
func (t *WriteTxn) get(key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxnClosed
	}
	if p, ok := t.overlay.Search(key); ok {
		if p.deleted {
			return nil, false, nil
		}
		return p.value, true, nil
	}
	value, ok := t.env.data.Search(key)
	return value, ok, nil
}

// scan merges the overlay over committed data in key order. fn must not
// modify the txn.
func (t *WriteTxn) scan(prefix string, fn func(string, []byte) (bool, error)) error {
	if t.done {
		return ErrTxnClosed
	}
	if t.overlay.Len() == 0 {
		return scanBase(t.env.data, prefix, fn)
	}

	base := t.env.data.Seek(prefix)
	over := t.overlay.Seek(prefix)
	baseOK := base.Next() && hasPrefix(base.Key(), prefix)
	overOK := over.Next() && hasPrefix(over.Key(), prefix)

	for baseOK || overOK {
		var (
			key   string
			value []byte
			skip  bool
		)

		switch {
		case overOK && (!baseOK || over.Key() <= base.Key()):
			if baseOK && base.Key() == over.Key() {
				baseOK = base.Next() && hasPrefix(base.Key(), prefix)
			}
			p := over.Value()
			key, value, skip = over.Key(), p.value, p.deleted
			overOK = over.Next() && hasPrefix(over.Key(), prefix)
		default:
			key, value = base.Key(), base.Value()
			baseOK = base.Next() && hasPrefix(base.Key(), prefix)
		}

		if skip {
			continue
		}
		more, err := fn(key, value)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func (t *WriteTxn) last(prefix string) (string, []byte, bool, error) {
	if t.done {
		return "", nil, false, ErrTxnClosed
	}

	bound := prefixEnd(prefix)
	for {
		base := t.env.data.SeekLT(bound)
		over := t.overlay.SeekLT(bound)
		if base == nil && over == nil {
			return "", nil, false, nil
		}

		if over != nil && (base == nil || over.Key >= base.Key) {
			if !hasPrefix(over.Key, prefix) {
				return "", nil, false, nil
			}
			if over.Value.deleted {
				bound = over.Key
				continue
			}
			return over.Key, over.Value.value, true, nil
		}

		if !hasPrefix(base.Key, prefix) {
			return "", nil, false, nil
		}
		return base.Key, base.Value, true, nil
	}
}

// Abort discards every buffered change. It is safe to call more than once.
func (t *WriteTxn) Abort() {
	if t.done {
		return
	}
	t.release()
}

func (t *WriteTxn) release() {
	t.done = true
	t.overlay = nil
	<-t.env.writer
}

// Commit makes the buffered changes durable and visible. The txn is closed
// whether or not Commit succeeds.
func (t *WriteTxn) Commit() error {
	if t.done {
		return ErrTxnClosed
	}
	defer t.release()

	if t.overlay.Len() == 0 {
		return nil
	}

	ops := make([]commitlog.Op, 0, t.overlay.Len())
	it := t.overlay.Iterator()
	for it.Next() {
		p := it.Value()
		ops = append(ops, commitlog.Op{Key: []byte(it.Key()), Value: p.value, Delete: p.deleted})
	}

	env := t.env
	seq := env.seq + 1

	if env.log != nil {
		// durability before visibility
		if err := env.log.Append(t.ctx, &commitlog.Record{Sequence: seq, Ops: ops}); err != nil {
			return fmt.Errorf("failed to append commit: %w", err)
		}
	}

	env.mu.Lock()
	env.apply(ops)
	env.seq = seq
	env.mu.Unlock()

	if env.log != nil && env.log.Size() >= env.config.CheckpointThreshold {
		if err := env.checkpoint(); err != nil {
			// the commit is already durable in the log
			env.logger.Warn("Checkpoint failed", zap.Error(err))
		}
	}

	return nil
}

func hasPrefix(key, prefix string) bool {
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

// prefixEnd returns the lowest key greater than every key with prefix.
// Every key starts with a database name and a zero byte, so the all-0xff
// fallback is unreachable in practice.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return string(append([]byte(prefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
}

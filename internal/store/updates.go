package store

import (
	"fmt"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/oarkflow/json"
)

// QueuedUpdate is a pending update with its id
type QueuedUpdate struct {
	ID     uint64
	Update model.Update
}

// Updates is the FIFO queue of pending updates, ordered by id
type Updates struct {
	db *kv.Database
}

func decodeQueued(key, value []byte) (*QueuedUpdate, error) {
	id, err := decodeUpdateKey(key)
	if err != nil {
		return nil, err
	}
	update, err := model.DecodeUpdate(value)
	if err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("failed to decode update %d", id), err)
	}
	return &QueuedUpdate{ID: id, Update: update}, nil
}

// LastUpdateID returns the pending update with the highest id, or nil
func (u Updates) LastUpdateID(r kv.Reader) (*QueuedUpdate, error) {
	key, value, found, err := u.db.Last(r)
	if err != nil || !found {
		return nil, storeErr("failed to read last update", err)
	}
	return decodeQueued(key, value)
}

func (u Updates) firstUpdateID(r kv.Reader) (*QueuedUpdate, error) {
	key, value, found, err := u.db.First(r)
	if err != nil || !found {
		return nil, storeErr("failed to read first update", err)
	}
	return decodeQueued(key, value)
}

// Get returns the pending update id, or nil
func (u Updates) Get(r kv.Reader, id uint64) (model.Update, error) {
	value, found, err := u.db.Get(r, updateKey(id))
	if err != nil || !found {
		return nil, storeErr("failed to read update", err)
	}
	update, err := model.DecodeUpdate(value)
	if err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("failed to decode update %d", id), err)
	}
	return update, nil
}

// PutUpdate stores update under id, replacing any update already there.
// Callers allocate id with update.NextUpdateID; ids that do not increase
// break FIFO order and are not detected here.
func (u Updates) PutUpdate(w *kv.WriteTxn, id uint64, update model.Update) error {
	data, err := model.EncodeUpdate(update)
	if err != nil {
		return errors.InternalError("failed to encode update", err)
	}
	return storeErr("failed to write update", u.db.Put(w, updateKey(id), data))
}

// PopFront removes and returns the pending update with the lowest id, or nil
// when the queue is empty.
func (u Updates) PopFront(w *kv.WriteTxn) (*QueuedUpdate, error) {
	first, err := u.firstUpdateID(w)
	if err != nil || first == nil {
		return nil, err
	}
	if _, err := u.db.Delete(w, updateKey(first.ID)); err != nil {
		return nil, storeErr("failed to delete update", err)
	}
	return first, nil
}

// Clear drops every pending update
func (u Updates) Clear(w *kv.WriteTxn) error {
	return storeErr("failed to clear updates", u.db.Clear(w))
}

// Len returns the number of pending updates
func (u Updates) Len(r kv.Reader) (int, error) {
	n, err := u.db.Len(r)
	return n, storeErr("failed to count updates", err)
}

// Iter calls fn for every pending update in id order until it returns false
func (u Updates) Iter(r kv.Reader, fn func(*QueuedUpdate) (bool, error)) error {
	err := u.db.Iter(r, nil, func(key, value []byte) (bool, error) {
		queued, err := decodeQueued(key, value)
		if err != nil {
			return false, err
		}
		return fn(queued)
	})
	if err == nil || errors.IsIndexError(err) {
		return err
	}
	return storeErr("failed to iterate updates", err)
}

// UpdatesResults is the log of applied updates, ordered by id
type UpdatesResults struct {
	db *kv.Database
}

func decodeResult(value []byte) (*model.ProcessedUpdateResult, error) {
	var result model.ProcessedUpdateResult
	if err := json.Unmarshal(value, &result); err != nil {
		return nil, errors.CorruptedData("failed to decode update result", err)
	}
	return &result, nil
}

// LastUpdateID returns the id of the most recent result and the result
func (u UpdatesResults) LastUpdateID(r kv.Reader) (uint64, *model.ProcessedUpdateResult, error) {
	key, value, found, err := u.db.Last(r)
	if err != nil || !found {
		return 0, nil, storeErr("failed to read last update result", err)
	}
	id, err := decodeUpdateKey(key)
	if err != nil {
		return 0, nil, err
	}
	result, err := decodeResult(value)
	if err != nil {
		return 0, nil, err
	}
	return id, result, nil
}

func (u UpdatesResults) PutUpdateResult(w *kv.WriteTxn, id uint64, result *model.ProcessedUpdateResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.InternalError("failed to encode update result", err)
	}
	return storeErr("failed to write update result", u.db.Put(w, updateKey(id), data))
}

// UpdateResult returns the result of update id, or nil when it has none
func (u UpdatesResults) UpdateResult(r kv.Reader, id uint64) (*model.ProcessedUpdateResult, error) {
	value, found, err := u.db.Get(r, updateKey(id))
	if err != nil || !found {
		return nil, storeErr("failed to read update result", err)
	}
	return decodeResult(value)
}

func (u UpdatesResults) Clear(w *kv.WriteTxn) error {
	return storeErr("failed to clear update results", u.db.Clear(w))
}

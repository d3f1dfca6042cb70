package store

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
)

// DocumentsFields stores the raw value of every (document, attribute)
type DocumentsFields struct {
	db *kv.Database
}

func (d DocumentsFields) PutDocumentField(w *kv.WriteTxn, doc model.DocumentID, attr model.AttributeID, value []byte) error {
	return storeErr("failed to write document field", d.db.Put(w, documentAttributeKey(doc, attr), value))
}

// DocumentField returns the stored value, or nil when absent
func (d DocumentsFields) DocumentField(r kv.Reader, doc model.DocumentID, attr model.AttributeID) ([]byte, error) {
	value, found, err := d.db.Get(r, documentAttributeKey(doc, attr))
	if err != nil || !found {
		return nil, storeErr("failed to read document field", err)
	}
	return value, nil
}

// DelAllDocumentFields removes every field of doc and returns how many
// were removed.
func (d DocumentsFields) DelAllDocumentFields(w *kv.WriteTxn, doc model.DocumentID) (int, error) {
	n, err := d.db.DeletePrefix(w, documentKey(doc))
	return n, storeErr("failed to delete document fields", err)
}

// DocumentsFieldsCounts stores how many words each (document, attribute)
// holds.
type DocumentsFieldsCounts struct {
	db *kv.Database
}

func (d DocumentsFieldsCounts) PutDocumentFieldCount(w *kv.WriteTxn, doc model.DocumentID, attr model.AttributeID, count uint64) error {
	value := binary.BigEndian.AppendUint64(nil, count)
	return storeErr("failed to write document field count", d.db.Put(w, documentAttributeKey(doc, attr), value))
}

// DocumentFieldCount returns the count, and false when absent
func (d DocumentsFieldsCounts) DocumentFieldCount(r kv.Reader, doc model.DocumentID, attr model.AttributeID) (uint64, bool, error) {
	value, found, err := d.db.Get(r, documentAttributeKey(doc, attr))
	if err != nil || !found {
		return 0, false, storeErr("failed to read document field count", err)
	}
	count, err := decodeCount(value)
	return count, err == nil, err
}

func (d DocumentsFieldsCounts) DelAllDocumentFieldsCounts(w *kv.WriteTxn, doc model.DocumentID) (int, error) {
	n, err := d.db.DeletePrefix(w, documentKey(doc))
	return n, storeErr("failed to delete document field counts", err)
}

// AllDocumentsFieldsCounts calls fn for every stored count in key order
func (d DocumentsFieldsCounts) AllDocumentsFieldsCounts(r kv.Reader, fn func(doc model.DocumentID, attr model.AttributeID, count uint64) error) error {
	err := d.db.Iter(r, nil, func(key, value []byte) (bool, error) {
		doc, attr, err := decodeDocumentAttributeKey(key)
		if err != nil {
			return false, err
		}
		count, err := decodeCount(value)
		if err != nil {
			return false, err
		}
		return true, fn(doc, attr, count)
	})
	if errors.IsIndexError(err) {
		return err
	}
	return storeErr("failed to iterate document field counts", err)
}

func decodeCount(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, errors.CorruptedData(fmt.Sprintf("field count has %d bytes, want 8", len(value)), nil)
	}
	return binary.BigEndian.Uint64(value), nil
}

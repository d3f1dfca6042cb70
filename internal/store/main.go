package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/termdict"
	"github.com/oarkflow/json"
)

var (
	schemaKey            = []byte("schema")
	rankedMapKey         = []byte("ranked-map")
	wordsKey             = []byte("words")
	numberOfDocumentsKey = []byte("number-of-documents")
	fieldsFrequencyKey   = []byte("fields-frequency")
	updatedAtKey         = []byte("updated-at")
)

// Main holds the per-index singletons: schema, ranked map, term dictionary,
// document count and stats.
type Main struct {
	db *kv.Database
}

func (m Main) getJSON(r kv.Reader, key []byte, v any) (bool, error) {
	data, found, err := m.db.Get(r, key)
	if err != nil {
		return false, storeErr(fmt.Sprintf("failed to read %s", key), err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.CorruptedData(fmt.Sprintf("failed to decode %s", key), err)
	}
	return true, nil
}

func (m Main) putJSON(w *kv.WriteTxn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to encode %s", key), err)
	}
	return storeErr(fmt.Sprintf("failed to write %s", key), m.db.Put(w, key, data))
}

// Schema returns the index schema, or nil when none is stored
func (m Main) Schema(r kv.Reader) (*model.Schema, error) {
	var schema model.Schema
	found, err := m.getJSON(r, schemaKey, &schema)
	if err != nil || !found {
		return nil, err
	}
	return &schema, nil
}

func (m Main) PutSchema(w *kv.WriteTxn, schema *model.Schema) error {
	return m.putJSON(w, schemaKey, schema)
}

// RankedMap returns the stored ranked map, or nil when none is stored
func (m Main) RankedMap(r kv.Reader) (*model.RankedMap, error) {
	var entries []model.RankedEntry
	found, err := m.getJSON(r, rankedMapKey, &entries)
	if err != nil || !found {
		return nil, err
	}
	return model.RankedMapFromEntries(entries), nil
}

func (m Main) PutRankedMap(w *kv.WriteTxn, rankedMap *model.RankedMap) error {
	return m.putJSON(w, rankedMapKey, rankedMap.Entries())
}

// Words returns the term dictionary, or nil when none is stored
func (m Main) Words(r kv.Reader) (*termdict.Set, error) {
	data, found, err := m.db.Get(r, wordsKey)
	if err != nil {
		return nil, storeErr("failed to read words", err)
	}
	if !found {
		return nil, nil
	}
	words, err := termdict.FromBytes(data)
	if err != nil {
		return nil, errors.CorruptedData("failed to decode words", err)
	}
	return words, nil
}

func (m Main) PutWords(w *kv.WriteTxn, words *termdict.Set) error {
	return storeErr("failed to write words", m.db.Put(w, wordsKey, words.Bytes()))
}

// NumberOfDocuments returns the document count, zero when never written
func (m Main) NumberOfDocuments(r kv.Reader) (uint64, error) {
	data, found, err := m.db.Get(r, numberOfDocumentsKey)
	if err != nil {
		return 0, storeErr("failed to read number of documents", err)
	}
	if !found {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, errors.CorruptedData(fmt.Sprintf("number of documents has %d bytes, want 8", len(data)), nil)
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutNumberOfDocuments replaces the document count with fn(current)
func (m Main) PutNumberOfDocuments(w *kv.WriteTxn, fn func(uint64) uint64) error {
	current, err := m.NumberOfDocuments(w)
	if err != nil {
		return err
	}
	data := binary.BigEndian.AppendUint64(nil, fn(current))
	return storeErr("failed to write number of documents", m.db.Put(w, numberOfDocumentsKey, data))
}

// FieldsFrequency returns how many documents carry each attribute, by name
func (m Main) FieldsFrequency(r kv.Reader) (map[string]int, error) {
	var frequency map[string]int
	found, err := m.getJSON(r, fieldsFrequencyKey, &frequency)
	if err != nil || !found {
		return nil, err
	}
	return frequency, nil
}

func (m Main) PutFieldsFrequency(w *kv.WriteTxn, frequency map[string]int) error {
	return m.putJSON(w, fieldsFrequencyKey, frequency)
}

// UpdatedAt returns when an update was last applied
func (m Main) UpdatedAt(r kv.Reader) (time.Time, bool, error) {
	var t time.Time
	found, err := m.getJSON(r, updatedAtKey, &t)
	return t, found, err
}

func (m Main) PutUpdatedAt(w *kv.WriteTxn, t time.Time) error {
	return m.putJSON(w, updatedAtKey, t.UTC())
}

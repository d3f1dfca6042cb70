// Package store maps the structures of one index onto named databases of a
// kv.Env. Every accessor runs inside the caller's transaction.
package store

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
)

// Index groups the stores of one index
type Index struct {
	UID                   string
	Main                  Main
	PostingsLists         PostingsLists
	DocsWords             DocsWords
	DocumentsFields       DocumentsFields
	DocumentsFieldsCounts DocumentsFieldsCounts
	Updates               Updates
	UpdatesResults        UpdatesResults
}

// OpenIndex opens the databases of the index called uid
func OpenIndex(env *kv.Env, uid string) (*Index, error) {
	if uid == "" {
		return nil, errors.InvalidArgument("index uid must not be empty", nil)
	}

	open := func(suffix string) (*kv.Database, error) {
		db, err := env.OpenDatabase(uid + "-" + suffix)
		if err != nil {
			return nil, errors.InvalidArgument(fmt.Sprintf("invalid index uid %q", uid), err)
		}
		return db, nil
	}

	var dbs [7]*kv.Database
	for i, suffix := range []string{
		"main",
		"postings-lists",
		"docs-words",
		"documents-fields",
		"documents-fields-counts",
		"updates",
		"updates-results",
	} {
		db, err := open(suffix)
		if err != nil {
			return nil, err
		}
		dbs[i] = db
	}

	return &Index{
		UID:                   uid,
		Main:                  Main{db: dbs[0]},
		PostingsLists:         PostingsLists{db: dbs[1]},
		DocsWords:             DocsWords{db: dbs[2]},
		DocumentsFields:       DocumentsFields{db: dbs[3]},
		DocumentsFieldsCounts: DocumentsFieldsCounts{db: dbs[4]},
		Updates:               Updates{db: dbs[5]},
		UpdatesResults:        UpdatesResults{db: dbs[6]},
	}, nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.StoreFailed(op, err)
}

func documentKey(id model.DocumentID) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 10), uint64(id))
}

func documentAttributeKey(id model.DocumentID, attr model.AttributeID) []byte {
	return binary.BigEndian.AppendUint16(documentKey(id), uint16(attr))
}

func decodeDocumentAttributeKey(key []byte) (model.DocumentID, model.AttributeID, error) {
	if len(key) != 10 {
		return 0, 0, errors.CorruptedData(fmt.Sprintf("document field key has %d bytes, want 10", len(key)), nil)
	}
	return model.DocumentID(binary.BigEndian.Uint64(key[:8])), model.AttributeID(binary.BigEndian.Uint16(key[8:])), nil
}

// updateKey encodes an update id so key order equals numeric order
func updateKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func decodeUpdateKey(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, errors.CorruptedData(fmt.Sprintf("update key has %d bytes, want 8", len(key)), nil)
	}
	return binary.BigEndian.Uint64(key), nil
}

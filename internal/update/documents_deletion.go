package update

import (
	"bytes"
	"iter"

	"github.com/cespare/xxhash/v2"
	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
	"github.com/oarkflow/json"
)

// DocumentsDeletion collects the documents to delete and enqueues them as one
// update. It is not safe for concurrent use.
type DocumentsDeletion struct {
	updates   store.Updates
	results   store.UpdatesResults
	notifier  *Notifier
	documents []model.DocumentID
}

// NewDocumentsDeletion returns an empty deletion for idx. notifier may be nil.
func NewDocumentsDeletion(idx *store.Index, notifier *Notifier) *DocumentsDeletion {
	return &DocumentsDeletion{
		updates:  idx.Updates,
		results:  idx.UpdatesResults,
		notifier: notifier,
	}
}

// DeleteDocumentByID adds id. Duplicates are allowed.
func (d *DocumentsDeletion) DeleteDocumentByID(id model.DocumentID) {
	d.documents = append(d.documents, id)
}

// DeleteDocument adds the document whose identifier is read from document,
// any value that encodes to a JSON object.
func (d *DocumentsDeletion) DeleteDocument(schema *model.Schema, document any) error {
	id, err := ExtractDocumentID(schema.IdentifierName(), document)
	if err != nil {
		return err
	}
	d.DeleteDocumentByID(id)
	return nil
}

// Extend adds every id of ids
func (d *DocumentsDeletion) Extend(ids iter.Seq[model.DocumentID]) {
	for id := range ids {
		d.documents = append(d.documents, id)
	}
}

// Len returns how many ids were added, duplicates included
func (d *DocumentsDeletion) Len() int {
	return len(d.documents)
}

// Finalize enqueues the deletion in w and returns its update id. The consumer
// is notified first; a lost notification does not fail the enqueue.
func (d *DocumentsDeletion) Finalize(w *kv.WriteTxn) (uint64, error) {
	d.notifier.Notify()
	return PushDocumentsDeletion(w, d.updates, d.results, d.documents)
}

// PushDocumentsDeletion enqueues a deletion of ids under the next update id
func PushDocumentsDeletion(w *kv.WriteTxn, updates store.Updates, results store.UpdatesResults, ids []model.DocumentID) (uint64, error) {
	id, err := NextUpdateID(w, updates, results)
	if err != nil {
		return 0, err
	}

	if err := updates.PutUpdate(w, id, &model.DocumentsDeletion{DocumentIDs: ids}); err != nil {
		return 0, err
	}
	return id, nil
}

// ExtractDocumentID reads the identifier field of document and derives its
// DocumentID.
func ExtractDocumentID(identifier string, document any) (model.DocumentID, error) {
	data, err := json.Marshal(document)
	if err != nil {
		return 0, errors.InvalidArgument("failed to encode document", err)
	}

	// numbers stay json.Number so large integer identifiers hash exactly
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return 0, errors.InvalidArgument("document is not an object", err)
	}

	value, ok := fields[identifier]
	if !ok || value == nil {
		return 0, errors.MissingDocumentID(identifier)
	}
	return ComputeDocumentID(value)
}

// ComputeDocumentID hashes the JSON encoding of an identifier value, so the
// same value always maps to the same DocumentID.
func ComputeDocumentID(value any) (model.DocumentID, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, errors.InvalidArgument("failed to encode document identifier", err)
	}
	return model.DocumentID(xxhash.Sum64(data)), nil
}

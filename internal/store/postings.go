package store

import (
	"fmt"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/termdict"
)

// PostingsLists maps a term to its sorted postings list
type PostingsLists struct {
	db *kv.Database
}

// PostingsList returns the postings of term, or nil when it has none
func (p PostingsLists) PostingsList(r kv.Reader, term []byte) ([]model.DocIndex, error) {
	data, found, err := p.db.Get(r, term)
	if err != nil {
		return nil, storeErr("failed to read postings list", err)
	}
	if !found {
		return nil, nil
	}
	postings, err := model.DecodePostings(data)
	if err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("failed to decode postings list of %q", term), err)
	}
	return postings, nil
}

func (p PostingsLists) PutPostingsList(w *kv.WriteTxn, term []byte, postings []model.DocIndex) error {
	return storeErr("failed to write postings list", p.db.Put(w, term, model.EncodePostings(postings)))
}

func (p PostingsLists) DelPostingsList(w *kv.WriteTxn, term []byte) (bool, error) {
	removed, err := p.db.Delete(w, term)
	return removed, storeErr("failed to delete postings list", err)
}

// Terms returns every term that has a postings list
func (p PostingsLists) Terms(r kv.Reader) (*termdict.Set, error) {
	b := termdict.NewBuilder()
	err := p.db.Iter(r, nil, func(term, _ []byte) (bool, error) {
		return true, b.Insert(term)
	})
	if err != nil {
		return nil, storeErr("failed to list postings terms", err)
	}
	return b.Set(), nil
}

// DocsWords maps a document to the sorted set of terms it contains
type DocsWords struct {
	db *kv.Database
}

// DocWords returns the terms of doc, or nil when none are stored
func (d DocsWords) DocWords(r kv.Reader, doc model.DocumentID) (*termdict.Set, error) {
	data, found, err := d.db.Get(r, documentKey(doc))
	if err != nil {
		return nil, storeErr("failed to read document words", err)
	}
	if !found {
		return nil, nil
	}
	words, err := termdict.FromBytes(data)
	if err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("failed to decode words of document %d", doc), err)
	}
	return words, nil
}

func (d DocsWords) PutDocWords(w *kv.WriteTxn, doc model.DocumentID, words *termdict.Set) error {
	return storeErr("failed to write document words", d.db.Put(w, documentKey(doc), words.Bytes()))
}

func (d DocsWords) DelDocWords(w *kv.WriteTxn, doc model.DocumentID) (bool, error) {
	removed, err := d.db.Delete(w, documentKey(doc))
	return removed, storeErr("failed to delete document words", err)
}

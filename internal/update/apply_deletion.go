package update

import (
	"bytes"
	"slices"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/armon/go-radix"
	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/setops"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
	"github.com/devrev/pairdb/index-node/internal/termdict"
	"go.uber.org/zap"
)

// DeletionSummary reports what a deletion changed
type DeletionSummary struct {
	// DeletedDocuments counts documents that had stored fields
	DeletedDocuments uint64
	// RemovedTerms counts terms whose postings list became empty
	RemovedTerms int
	// TouchedTerms counts terms found in the deleted documents
	TouchedTerms int
}

// ApplyDocumentsDeletion removes every trace of ids from idx inside w. On
// error the caller must abort w; nothing is written before the schema check.
func ApplyDocumentsDeletion(w *kv.WriteTxn, idx *store.Index, ids []model.DocumentID, logger *zap.Logger) (*DeletionSummary, error) {
	idset := setops.FromDirty(ids)

	schema, err := idx.Main.Schema(w)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, errors.SchemaMissing()
	}

	rankedMap, err := idx.Main.RankedMap(w)
	if err != nil {
		return nil, err
	}
	if rankedMap == nil {
		rankedMap = model.NewRankedMap()
	}

	rankedAttrs := schema.RankedAttributes()

	wordsDocumentIDs := make(map[string][]model.DocumentID)
	for _, id := range idset.Items() {
		for _, attr := range rankedAttrs {
			rankedMap.Remove(id, attr)
		}

		words, err := idx.DocsWords.DocWords(w, id)
		if err != nil {
			return nil, err
		}
		if words == nil {
			continue
		}
		stream := words.Stream()
		for word, ok := stream.Next(); ok; word, ok = stream.Next() {
			wordsDocumentIDs[string(word)] = append(wordsDocumentIDs[string(word)], id)
		}
	}

	// visit terms in order so the write set does not depend on map order
	touched := make([]string, 0, len(wordsDocumentIDs))
	for word := range wordsDocumentIDs {
		touched = append(touched, word)
	}
	slices.Sort(touched)

	deletedDocuments := roaring64.New()
	removedWords := radix.New()
	for _, word := range touched {
		documentIDs := setops.FromDirty(wordsDocumentIDs[word])

		postings, err := idx.PostingsLists.PostingsList(w, []byte(word))
		if err != nil {
			return nil, err
		}
		if postings != nil {
			remaining := setops.DifferenceByKey(postings, documentIDs, func(d model.DocIndex) model.DocumentID {
				return d.DocumentID
			})

			if len(remaining) > 0 {
				if err := idx.PostingsLists.PutPostingsList(w, []byte(word), remaining); err != nil {
					return nil, err
				}
			} else {
				if _, err := idx.PostingsLists.DelPostingsList(w, []byte(word)); err != nil {
					return nil, err
				}
				removedWords.Insert(word, nil)
			}
		}

		for _, id := range documentIDs.Items() {
			if _, err := idx.DocumentsFieldsCounts.DelAllDocumentFieldsCounts(w, id); err != nil {
				return nil, err
			}
			removed, err := idx.DocumentsFields.DelAllDocumentFields(w, id)
			if err != nil {
				return nil, err
			}
			if removed != 0 {
				deletedDocuments.Add(uint64(id))
			}
		}
	}

	it := deletedDocuments.Iterator()
	for it.HasNext() {
		if _, err := idx.DocsWords.DelDocWords(w, model.DocumentID(it.Next())); err != nil {
			return nil, err
		}
	}

	words, err := idx.Main.Words(w)
	if err != nil {
		return nil, err
	}
	newWords := termdict.Empty()
	if words != nil {
		removed := termdict.NewBuilder()
		// radix walks in lexicographic order
		var insertErr error
		removedWords.Walk(func(word string, _ interface{}) bool {
			insertErr = removed.Insert([]byte(word))
			return insertErr != nil
		})
		if insertErr != nil {
			return nil, errors.InternalError("failed to build removed terms", insertErr)
		}

		b := termdict.NewBuilder()
		diff := setops.DifferenceStream(words.Stream(), removed.Set().Stream(), bytes.Compare)
		if err := b.Extend(diff); err != nil {
			return nil, errors.InternalError("failed to rebuild term dictionary", err)
		}
		newWords = b.Set()
	}

	deletedCount := deletedDocuments.GetCardinality()

	if err := idx.Main.PutWords(w, newWords); err != nil {
		return nil, err
	}
	if err := idx.Main.PutRankedMap(w, rankedMap); err != nil {
		return nil, err
	}
	err = idx.Main.PutNumberOfDocuments(w, func(old uint64) uint64 {
		if deletedCount > old {
			logger.Warn("Deleted more documents than counted, clamping to zero",
				zap.String("index_uid", idx.UID),
				zap.Uint64("number_of_documents", old),
				zap.Uint64("deleted_documents", deletedCount))
			return 0
		}
		return old - deletedCount
	})
	if err != nil {
		return nil, err
	}

	return &DeletionSummary{
		DeletedDocuments: deletedCount,
		RemovedTerms:     removedWords.Len(),
		TouchedTerms:     len(touched),
	}, nil
}

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
	"github.com/devrev/pairdb/index-node/internal/termdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*kv.Env, *store.Index) {
	t.Helper()
	env, err := kv.Open(&kv.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	idx, err := store.OpenIndex(env, "movies")
	require.NoError(t, err)
	return env, idx
}

func update(t *testing.T, env *kv.Env, fn func(w *kv.WriteTxn)) {
	t.Helper()
	require.NoError(t, env.Update(context.Background(), func(w *kv.WriteTxn) error {
		fn(w)
		return nil
	}))
}

func deletion(ids ...model.DocumentID) *model.DocumentsDeletion {
	return &model.DocumentsDeletion{DocumentIDs: ids}
}

func TestUpdates_FIFO(t *testing.T) {
	env, idx := setup(t)
	const n = 300

	update(t, env, func(w *kv.WriteTxn) {
		for i := uint64(0); i < n; i++ {
			require.NoError(t, idx.Updates.PutUpdate(w, i, deletion(model.DocumentID(i))))
		}
	})

	update(t, env, func(w *kv.WriteTxn) {
		for i := uint64(0); i < n; i++ {
			remaining, err := idx.Updates.Len(w)
			require.NoError(t, err)
			require.Equal(t, int(n-i), remaining)

			queued, err := idx.Updates.PopFront(w)
			require.NoError(t, err)
			require.NotNil(t, queued)
			require.Equal(t, i, queued.ID)
			assert.Equal(t, deletion(model.DocumentID(i)), queued.Update)
		}

		queued, err := idx.Updates.PopFront(w)
		require.NoError(t, err)
		assert.Nil(t, queued)
	})
}

func TestUpdates_LastGetAndOverwrite(t *testing.T) {
	env, idx := setup(t)

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		last, err := idx.Updates.LastUpdateID(r)
		require.NoError(t, err)
		assert.Nil(t, last)
		return nil
	}))

	update(t, env, func(w *kv.WriteTxn) {
		require.NoError(t, idx.Updates.PutUpdate(w, 1, deletion(1)))
		require.NoError(t, idx.Updates.PutUpdate(w, 256, deletion(2)))
		require.NoError(t, idx.Updates.PutUpdate(w, 1, deletion(3)))
	})

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		last, err := idx.Updates.LastUpdateID(r)
		require.NoError(t, err)
		require.NotNil(t, last)
		// big-endian keys: 256 sorts after 1
		assert.Equal(t, uint64(256), last.ID)

		got, err := idx.Updates.Get(r, 1)
		require.NoError(t, err)
		assert.Equal(t, deletion(3), got)

		missing, err := idx.Updates.Get(r, 2)
		require.NoError(t, err)
		assert.Nil(t, missing)

		var ids []uint64
		require.NoError(t, idx.Updates.Iter(r, func(q *store.QueuedUpdate) (bool, error) {
			ids = append(ids, q.ID)
			return true, nil
		}))
		assert.Equal(t, []uint64{1, 256}, ids)
		return nil
	}))

	update(t, env, func(w *kv.WriteTxn) {
		require.NoError(t, idx.Updates.Clear(w))
	})
	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		n, err := idx.Updates.Len(r)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	}))
}

func TestUpdates_CorruptedPayload(t *testing.T) {
	env, _ := setup(t)
	raw, err := env.OpenDatabase("movies-updates")
	require.NoError(t, err)
	idx, err := store.OpenIndex(env, "movies")
	require.NoError(t, err)

	update(t, env, func(w *kv.WriteTxn) {
		require.NoError(t, raw.Put(w, []byte{0, 0, 0, 0, 0, 0, 0, 1}, []byte(`{"Unknown":{}}`)))
	})

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		_, err := idx.Updates.LastUpdateID(r)
		assert.True(t, errors.IsCode(err, errors.ErrCodeCorruptedData))
		_, err = idx.Updates.Get(r, 1)
		assert.True(t, errors.IsCode(err, errors.ErrCodeCorruptedData))
		return nil
	}))
}

func TestUpdatesResults(t *testing.T) {
	env, idx := setup(t)
	processedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	update(t, env, func(w *kv.WriteTxn) {
		require.NoError(t, idx.UpdatesResults.PutUpdateResult(w, 4, &model.ProcessedUpdateResult{
			UpdateID:         4,
			UpdateType:       model.UpdateTypeDocumentsDeletion,
			DeletedDocuments: 2,
			ProcessedAt:      processedAt,
		}))
		require.NoError(t, idx.UpdatesResults.PutUpdateResult(w, 9, &model.ProcessedUpdateResult{
			UpdateID:    9,
			UpdateType:  model.UpdateTypeDocumentsDeletion,
			Error:       "no schema is configured for the index",
			ProcessedAt: processedAt,
		}))
	})

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		id, last, err := idx.UpdatesResults.LastUpdateID(r)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, uint64(9), id)
		assert.False(t, last.Succeeded())

		result, err := idx.UpdatesResults.UpdateResult(r, 4)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Succeeded())
		assert.Equal(t, uint64(2), result.DeletedDocuments)
		assert.True(t, processedAt.Equal(result.ProcessedAt))

		missing, err := idx.UpdatesResults.UpdateResult(r, 5)
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	}))
}

func TestMain_RoundTrips(t *testing.T) {
	env, idx := setup(t)

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		schema, err := idx.Main.Schema(r)
		require.NoError(t, err)
		assert.Nil(t, schema)

		ranked, err := idx.Main.RankedMap(r)
		require.NoError(t, err)
		assert.Nil(t, ranked)

		words, err := idx.Main.Words(r)
		require.NoError(t, err)
		assert.Nil(t, words)

		n, err := idx.Main.NumberOfDocuments(r)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	}))

	schema, err := model.NewSchema([]model.SchemaAttribute{{Name: "id", Identifier: true}, {Name: "rank", Ranked: true}})
	require.NoError(t, err)
	rankedMap := model.NewRankedMap()
	rankedMap.Insert(1, 1, 0.25)

	update(t, env, func(w *kv.WriteTxn) {
		require.NoError(t, idx.Main.PutSchema(w, schema))
		require.NoError(t, idx.Main.PutRankedMap(w, rankedMap))
		require.NoError(t, idx.Main.PutWords(w, termdict.FromTerms([][]byte{[]byte("dog"), []byte("cat")})))
		require.NoError(t, idx.Main.PutNumberOfDocuments(w, func(n uint64) uint64 { return n + 5 }))
		require.NoError(t, idx.Main.PutNumberOfDocuments(w, func(n uint64) uint64 { return n - 2 }))
		require.NoError(t, idx.Main.PutFieldsFrequency(w, map[string]int{"id": 3}))
	})

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		got, err := idx.Main.Schema(r)
		require.NoError(t, err)
		assert.Equal(t, schema, got)

		ranked, err := idx.Main.RankedMap(r)
		require.NoError(t, err)
		assert.Equal(t, rankedMap.Entries(), ranked.Entries())

		words, err := idx.Main.Words(r)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("cat"), []byte("dog")}, words.Terms())

		n, err := idx.Main.NumberOfDocuments(r)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), n)

		freq, err := idx.Main.FieldsFrequency(r)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"id": 3}, freq)
		return nil
	}))
}

func TestDocumentsFields(t *testing.T) {
	env, idx := setup(t)

	update(t, env, func(w *kv.WriteTxn) {
		for _, doc := range []model.DocumentID{1, 2} {
			for attr := model.AttributeID(0); attr < 3; attr++ {
				require.NoError(t, idx.DocumentsFields.PutDocumentField(w, doc, attr, []byte(`"v"`)))
				require.NoError(t, idx.DocumentsFieldsCounts.PutDocumentFieldCount(w, doc, attr, uint64(attr)+1))
			}
		}
	})

	update(t, env, func(w *kv.WriteTxn) {
		n, err := idx.DocumentsFields.DelAllDocumentFields(w, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = idx.DocumentsFieldsCounts.DelAllDocumentFieldsCounts(w, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = idx.DocumentsFields.DelAllDocumentFields(w, 42)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		v, err := idx.DocumentsFields.DocumentField(r, 1, 0)
		require.NoError(t, err)
		assert.Nil(t, v)

		v, err = idx.DocumentsFields.DocumentField(r, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, `"v"`, string(v))

		count, found, err := idx.DocumentsFieldsCounts.DocumentFieldCount(r, 2, 2)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, uint64(3), count)

		var docs []model.DocumentID
		require.NoError(t, idx.DocumentsFieldsCounts.AllDocumentsFieldsCounts(r, func(doc model.DocumentID, _ model.AttributeID, _ uint64) error {
			docs = append(docs, doc)
			return nil
		}))
		assert.Equal(t, []model.DocumentID{2, 2, 2}, docs)
		return nil
	}))
}

func TestPostingsAndDocsWords(t *testing.T) {
	env, idx := setup(t)
	postings := []model.DocIndex{{DocumentID: 1}, {DocumentID: 2, WordIndex: 4}}

	update(t, env, func(w *kv.WriteTxn) {
		require.NoError(t, idx.PostingsLists.PutPostingsList(w, []byte("cat"), postings))
		require.NoError(t, idx.PostingsLists.PutPostingsList(w, []byte("ant"), postings[:1]))
		require.NoError(t, idx.DocsWords.PutDocWords(w, 1, termdict.FromTerms([][]byte{[]byte("cat"), []byte("ant")})))
	})

	update(t, env, func(w *kv.WriteTxn) {
		removed, err := idx.PostingsLists.DelPostingsList(w, []byte("ant"))
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = idx.DocsWords.DelDocWords(w, 7)
		require.NoError(t, err)
		assert.False(t, removed)
	})

	require.NoError(t, env.View(func(r *kv.ReadTxn) error {
		got, err := idx.PostingsLists.PostingsList(r, []byte("cat"))
		require.NoError(t, err)
		assert.Equal(t, postings, got)

		got, err = idx.PostingsLists.PostingsList(r, []byte("ant"))
		require.NoError(t, err)
		assert.Nil(t, got)

		terms, err := idx.PostingsLists.Terms(r)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("cat")}, terms.Terms())

		words, err := idx.DocsWords.DocWords(r, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, words.Len())

		words, err = idx.DocsWords.DocWords(r, 2)
		require.NoError(t, err)
		assert.Nil(t, words)
		return nil
	}))
}

func TestOpenIndex_InvalidUID(t *testing.T) {
	env, _ := setup(t)

	_, err := store.OpenIndex(env, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	_, err = store.OpenIndex(env, "bad\x00uid")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/metrics"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/service"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
	"github.com/devrev/pairdb/index-node/internal/termdict"
	"github.com/devrev/pairdb/index-node/internal/update"
	"github.com/devrev/pairdb/index-node/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	env     *kv.Env
	index   *store.Index
	metrics *metrics.Metrics
	svc     *service.UpdateService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env, err := kv.Open(&kv.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	idx, err := store.OpenIndex(env, "movies")
	require.NoError(t, err)

	m := metrics.NewMetrics(prometheus.NewRegistry(), "movies")
	svc := service.NewUpdateService(&service.Config{PollInterval: 10 * time.Millisecond}, env, idx, m, zap.NewNop())
	return &fixture{env: env, index: idx, metrics: m, svc: svc}
}

func testSchema(t *testing.T) *model.Schema {
	t.Helper()
	schema, err := model.NewSchema([]model.SchemaAttribute{
		{Name: "id", Identifier: true, Displayed: true},
		{Name: "title", Indexed: true, Displayed: true},
		{Name: "rank", Ranked: true},
	})
	require.NoError(t, err)
	return schema
}

// seed indexes one document per id with the words of titles[id]
func (f *fixture) seed(t *testing.T, titles map[model.DocumentID][]string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.EnsureSchema(ctx, testSchema(t))
	require.NoError(t, err)

	require.NoError(t, f.env.Update(ctx, func(w *kv.WriteTxn) error {
		postings := make(map[string][]model.DocIndex)
		var all [][]byte
		for id, words := range titles {
			terms := make([][]byte, 0, len(words))
			for pos, word := range words {
				postings[word] = append(postings[word], model.DocIndex{DocumentID: id, Attribute: 1, WordIndex: uint16(pos)})
				terms = append(terms, []byte(word))
				all = append(all, []byte(word))
			}
			require.NoError(t, f.index.DocsWords.PutDocWords(w, id, termdict.FromTerms(terms)))
			require.NoError(t, f.index.DocumentsFields.PutDocumentField(w, id, 0, []byte(`1`)))
			require.NoError(t, f.index.DocumentsFields.PutDocumentField(w, id, 1, []byte(`"t"`)))
			require.NoError(t, f.index.DocumentsFieldsCounts.PutDocumentFieldCount(w, id, 0, 1))
			require.NoError(t, f.index.DocumentsFieldsCounts.PutDocumentFieldCount(w, id, 1, uint64(len(words))))
		}
		for word, list := range postings {
			sortPostings(list)
			require.NoError(t, f.index.PostingsLists.PutPostingsList(w, []byte(word), list))
		}
		require.NoError(t, f.index.Main.PutWords(w, termdict.FromTerms(all)))
		return f.index.Main.PutNumberOfDocuments(w, func(n uint64) uint64 { return n + uint64(len(titles)) })
	}))
}

func sortPostings(list []model.DocIndex) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Less(list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func TestEnsureSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	written, err := f.svc.EnsureSchema(ctx, testSchema(t))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = f.svc.EnsureSchema(ctx, testSchema(t))
	require.NoError(t, err)
	assert.False(t, written)
}

func TestEnqueueDeletion_AllocatesIncreasingIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.EnqueueDeletion(ctx, []model.DocumentID{1})
	require.NoError(t, err)
	second, err := f.svc.EnqueueDeletion(ctx, []model.DocumentID{2, 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(1), second)

	queued, err := f.svc.EnqueuedUpdates()
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, &model.DocumentsDeletion{DocumentIDs: []model.DocumentID{2, 2}}, queued[1].Update)

	current, found, err := f.svc.CurrentUpdateID()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(0), current)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.UpdatesEnqueuedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PendingUpdates))

	select {
	case <-f.svc.Notifier().C():
	default:
		t.Fatal("expected a pending notification")
	}
}

func TestEnqueueDocumentsDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnqueueDocumentsDeletion(ctx, []any{map[string]any{"id": 7}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSchemaMissing))

	_, err = f.svc.EnsureSchema(ctx, testSchema(t))
	require.NoError(t, err)

	_, err = f.svc.EnqueueDocumentsDeletion(ctx, []any{map[string]any{"id": 7}, map[string]any{"title": "x"}})
	require.True(t, errors.IsCode(err, errors.ErrCodeMissingDocumentID))
	ie, _ := errors.AsIndexError(err)
	assert.Equal(t, 1, ie.Details["position"])

	pending, err := f.svc.PendingUpdates()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	id, err := f.svc.EnqueueDocumentsDeletion(ctx, []any{map[string]any{"id": 7}})
	require.NoError(t, err)

	want, err := update.ComputeDocumentID(7)
	require.NoError(t, err)
	queued, err := f.svc.EnqueuedUpdates()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, id, queued[0].ID)
	assert.Equal(t, []model.DocumentID{want}, queued[0].Update.(*model.DocumentsDeletion).DocumentIDs)
}

func TestProcessNext_AppliesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, map[model.DocumentID][]string{
		1: {"blade", "runner"},
		2: {"runner"},
		3: {"alien"},
	})

	_, err := f.svc.EnqueueDeletion(ctx, []model.DocumentID{1})
	require.NoError(t, err)
	_, err = f.svc.EnqueueDeletion(ctx, []model.DocumentID{3, 42})
	require.NoError(t, err)

	result, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, uint64(0), result.UpdateID)
	assert.True(t, result.Succeeded())
	assert.Equal(t, uint64(1), result.DeletedDocuments)
	assert.Equal(t, 1, result.RemovedTerms)

	result, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.UpdateID)
	assert.Equal(t, uint64(1), result.DeletedDocuments)

	result, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, result)

	documents, err := f.svc.NumberOfDocuments()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), documents)

	status, stored, err := f.svc.UpdateStatus(1)
	require.NoError(t, err)
	assert.Equal(t, model.UpdateStatusProcessed, status)
	assert.Equal(t, uint64(1), stored.DeletedDocuments)

	last, err := f.svc.LastUpdate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.UpdateID)

	require.NoError(t, f.env.View(func(r *kv.ReadTxn) error {
		words, err := f.index.Main.Words(r)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("runner")}, words.Terms())
		_, found, err := f.index.Main.UpdatedAt(r)
		require.NoError(t, err)
		assert.True(t, found)
		return nil
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.UpdatesProcessedTotal.WithLabelValues("DocumentsDeletion", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.DocumentsDeletedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.PendingUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NumberOfDocuments))

	// ids keep growing after the queue drained
	next, err := f.svc.EnqueueDeletion(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestProcessNext_FailureIsRecordedAndSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// no schema, so the deletion cannot be applied
	failing, err := f.svc.EnqueueDeletion(ctx, []model.DocumentID{1})
	require.NoError(t, err)
	_, err = f.svc.EnqueueDeletion(ctx, []model.DocumentID{2})
	require.NoError(t, err)

	result, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, failing, result.UpdateID)
	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Error, "schema")

	status, _, err := f.svc.UpdateStatus(failing)
	require.NoError(t, err)
	assert.Equal(t, model.UpdateStatusFailed, status)

	status, _, err = f.svc.UpdateStatus(failing + 1)
	require.NoError(t, err)
	assert.Equal(t, model.UpdateStatusEnqueued, status)

	status, _, err = f.svc.UpdateStatus(99)
	require.NoError(t, err)
	assert.Equal(t, model.UpdateStatusUnknown, status)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UpdatesProcessedTotal.WithLabelValues("DocumentsDeletion", "failure")))
}

func TestRun_ProcessesUntilCanceled(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[model.DocumentID][]string{1: {"a"}, 2: {"b"}})

	var (
		mu      sync.Mutex
		results []uint64
	)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "callbacks"}, zap.NewNop())
	defer pool.Stop(time.Second)
	f.svc.SetUpdateCallback(func(uid string, result *model.ProcessedUpdateResult) {
		assert.Equal(t, "movies", uid)
		mu.Lock()
		defer mu.Unlock()
		results = append(results, result.UpdateID)
	}, pool)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	_, err := f.svc.EnqueueDeletion(context.Background(), []model.DocumentID{1})
	require.NoError(t, err)
	_, err = f.svc.EnqueueDeletion(context.Background(), []model.DocumentID{2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, []uint64{0, 1}, results)
	mu.Unlock()

	documents, err := f.svc.NumberOfDocuments()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), documents)
}

func TestComputeStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, map[model.DocumentID][]string{1: {"a"}, 2: {"b"}})

	frequency, err := f.svc.ComputeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"id": 2, "title": 2}, frequency)

	_, err = f.svc.EnqueueDeletion(ctx, []model.DocumentID{1})
	require.NoError(t, err)

	stats, err := f.svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.NumberOfDocuments)
	assert.True(t, stats.IsIndexing)
	assert.Equal(t, frequency, stats.FieldsFrequency)
}

type rejectingGuard struct{}

func (rejectingGuard) CheckBeforeWrite() error {
	return errors.Unavailable("disk full", nil)
}

func TestEnqueue_RejectedByDiskGuard(t *testing.T) {
	f := newFixture(t)
	f.svc.SetDiskGuard(rejectingGuard{})

	_, err := f.svc.EnqueueDeletion(context.Background(), []model.DocumentID{1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnavailable))

	pending, err := f.svc.PendingUpdates()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestProcessNext_RefreshesFieldsFrequency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, map[model.DocumentID][]string{1: {"a"}, 2: {"b"}, 3: {"c"}})

	_, err := f.svc.EnqueueDeletion(ctx, []model.DocumentID{1, 3})
	require.NoError(t, err)
	result, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	stats, err := f.svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.NumberOfDocuments)
	assert.False(t, stats.IsIndexing)
	assert.Equal(t, map[string]int{"id": 1, "title": 1}, stats.FieldsFrequency)
}

func TestEnqueueDocumentsDeletion_BadDocumentNeedsNoWriter(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EnsureSchema(context.Background(), testSchema(t))
	require.NoError(t, err)

	// hold the single writer slot
	w, err := f.env.BeginWrite(context.Background())
	require.NoError(t, err)
	defer w.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.svc.EnqueueDocumentsDeletion(ctx, []any{map[string]any{"title": "no id"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingDocumentID))
	assert.NoError(t, ctx.Err())
}

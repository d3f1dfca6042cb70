package server_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/pairdb/index-node/internal/health"
	"github.com/devrev/pairdb/index-node/internal/metrics"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStats struct {
	err error
}

func (f fakeStats) Stats() (*model.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Stats{NumberOfDocuments: 3, FieldsFrequency: map[string]int{"title": 3}}, nil
}

func (f fakeStats) UpdateStatus(id uint64) (model.UpdateStatus, *model.ProcessedUpdateResult, error) {
	switch {
	case f.err != nil:
		return model.UpdateStatusUnknown, nil, f.err
	case id == 1:
		return model.UpdateStatusProcessed, &model.ProcessedUpdateResult{UpdateID: 1, UpdateType: model.UpdateTypeDocumentsDeletion, DeletedDocuments: 2}, nil
	case id == 2:
		return model.UpdateStatusEnqueued, nil, nil
	default:
		return model.UpdateStatusUnknown, nil, nil
	}
}

func (f fakeStats) PendingUpdates() (int, error)       { return 0, f.err }
func (f fakeStats) NumberOfDocuments() (uint64, error) { return 3, f.err }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMetricsServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "movies")
	m.RecordEnqueue(1)

	checker := health.NewHealthChecker(&health.HealthCheckConfig{IndexUID: "movies"}, fakeStats{}, nil, m, zap.NewNop())
	checker.RunChecks()

	srv := server.NewMetricsServer(&server.MetricsServerConfig{Port: 0}, reg, checker, fakeStats{}, zap.NewNop())

	code, body := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `pairdb_index_updates_enqueued_total{index_uid="movies"} 1`)

	code, body = get(t, srv.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ready":true`)

	code, body = get(t, srv.Handler(), "/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"number_of_documents":3,"is_indexing":false,"fields_frequency":{"title":3}}`, body)
}

func TestMetricsServer_StatsFailure(t *testing.T) {
	srv := server.NewMetricsServer(&server.MetricsServerConfig{Path: "/custom"}, prometheus.NewRegistry(), nil, fakeStats{err: fmt.Errorf("closed")}, zap.NewNop())

	code, _ := get(t, srv.Handler(), "/stats")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = get(t, srv.Handler(), "/custom")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv.Handler(), "/health/live")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsServer_UpdateStatus(t *testing.T) {
	srv := server.NewMetricsServer(&server.MetricsServerConfig{}, prometheus.NewRegistry(), nil, fakeStats{}, zap.NewNop())

	code, body := get(t, srv.Handler(), "/updates/1")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"processed"`)
	assert.Contains(t, body, `"deleted_documents":2`)

	code, body = get(t, srv.Handler(), "/updates/2")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"enqueued"`)

	code, body = get(t, srv.Handler(), "/updates/7")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, `"code":"NotFound"`)

	code, body = get(t, srv.Handler(), "/updates/abc")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, `"code":"InvalidArgument"`)
}

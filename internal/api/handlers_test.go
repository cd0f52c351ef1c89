package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/config"
	"github.com/docpipehq/docpipe/internal/gateway"
	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/taskstore"
)

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) EnqueueConversion(ctx context.Context, taskID string) error {
	f.enqueued = append(f.enqueued, taskID)
	return nil
}

func (f *fakeQueue) EnqueueWebhook(ctx context.Context, taskID, url string, body []byte) error {
	return nil
}

func newTestServer(t *testing.T) (http.Handler, *taskstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := taskstore.New(rdb, time.Hour)
	gw := gateway.New(store, &fakeQueue{}, gateway.Config{MaxBatchSize: 10}, zap.NewNop())
	cfg := &config.Config{Address: ":0", MaxUploadBytes: 1 << 20}
	srv := New(cfg, gw, store, nil, nil, zap.NewNop())
	return srv.routes(), store, mr
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestConvertAccepted(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/convert", map[string]any{
		"url": "https://example.com/report.pdf",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var rec model.TaskRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.TaskID)
	assert.Equal(t, model.StatusPending, rec.Status)
}

func TestConvertRejectsBadJSON(t *testing.T) {
	h, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/convert", bytes.NewBufferString("{broken"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConvertRejectsInvalidSubmission(t *testing.T) {
	h, _, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodPost, "/convert", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "exactly one of")
}

func TestConvertUploadDisabled(t *testing.T) {
	h, _, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodPost, "/convert/upload", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "upload storage")
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/convert", map[string]any{
		"url": "https://example.com/report.pdf",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var rec model.TaskRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	rr = doJSON(t, h, http.MethodGet, "/tasks/"+rec.TaskID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodDelete, "/tasks/"+rec.TaskID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/tasks/"+rec.TaskID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodDelete, "/tasks/"+rec.TaskID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBatchEndpoints(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/convert/batch", map[string]any{
		"inputs": []map[string]string{
			{"url": "https://example.com/a.pdf"},
			{}, // invalid member, recorded as failed
		},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp struct {
		BatchID string             `json:"batch_id"`
		Status  string             `json:"status"`
		Tasks   []model.TaskRecord `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "pending", resp.Status)

	rr = doJSON(t, h, http.MethodGet, "/batches/"+resp.BatchID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/batches/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBatchRejectsEmpty(t *testing.T) {
	h, _, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodPost, "/convert/batch", map[string]any{"inputs": []any{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h, _, mr := newTestServer(t)

	rr := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	mr.Close()
	rr = doJSON(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

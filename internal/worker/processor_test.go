package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/convert"
	"github.com/docpipehq/docpipe/internal/download"
	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/queue"
	"github.com/docpipehq/docpipe/internal/taskstore"
)

type fakeHooks struct {
	deliveries []string
}

func (f *fakeHooks) EnqueueWebhook(ctx context.Context, taskID, url string, body []byte) error {
	f.deliveries = append(f.deliveries, taskID)
	return nil
}

type fakeEngine struct {
	convert func(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*convert.Document, error)
}

func (f *fakeEngine) Convert(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*convert.Document, error) {
	return f.convert(ctx, path, docType, opts)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type testRig struct {
	store     *taskstore.Store
	hooks     *fakeHooks
	processor *Processor
}

func newRig(t *testing.T, engine convert.Engine, maxAttempts int) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := taskstore.New(rdb, time.Hour)
	hooks := &fakeHooks{}
	dl := download.New(10<<20, 10*time.Second)
	return &testRig{
		store:     store,
		hooks:     hooks,
		processor: New(store, hooks, engine, fakeEmbedder{}, dl, nil, maxAttempts, zap.NewNop()),
	}
}

func passthroughEngine() convert.Engine {
	return &fakeEngine{convert: func(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*convert.Document, error) {
		return &convert.Document{
			Content:   "# converted",
			PlainText: "converted text body",
			PageCount: 1,
		}, nil
	}}
}

func conversionTask(t *testing.T, taskID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.ConversionPayload{TaskID: taskID})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeConversionProcess, data)
}

func createPending(t *testing.T, store *taskstore.Store, url, webhookURL string) *model.TaskRecord {
	t.Helper()
	rec := &model.TaskRecord{
		TaskID:     "task-1",
		Status:     model.StatusPending,
		Source:     model.Source{URL: url},
		Options:    model.DefaultOptions(),
		WebhookURL: webhookURL,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

func TestHandleConversionSuccess(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte("# source doc"))
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	err := rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1"))
	require.NoError(t, err)

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "# converted", got.Content)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, model.DocMarkdown, got.DocumentType)
	require.NotNil(t, got.CompletedAt)
	require.NotEmpty(t, got.Chunks)
	assert.Equal(t, model.ChunkID("task-1", 0), got.Chunks[0].ID)
	assert.Empty(t, rig.hooks.deliveries, "no webhook configured")
}

func TestHandleConversionEnqueuesWebhook(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	createPending(t, rig.store, src.URL+"/doc.md", "https://hooks.example.com/done")

	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))
	assert.Equal(t, []string{"task-1"}, rig.hooks.deliveries)
}

func TestHandleConversionGeneratesEmbeddings(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	rec := createPending(t, rig.store, src.URL+"/doc.md", "")
	_, raw, err := rig.store.Load(context.Background(), rec.TaskID)
	require.NoError(t, err)
	withEmb := rec.Clone()
	withEmb.Options.GenerateEmbeddings = true
	_, ok, err := rig.store.Swap(context.Background(), rec.TaskID, raw, withEmb, false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.NotEmpty(t, got.Chunks)
	for _, c := range got.Chunks {
		assert.Len(t, c.Embedding, 3)
	}
}

func TestHandleConversionTransientFailureRevertsToPending(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	err := rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1"))
	require.Error(t, err, "transient failure must hand the job back to the queue")

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status, "redelivery must find the record claimable")
	assert.Empty(t, got.Error, "error details belong to terminal states only")
	assert.Empty(t, got.ErrorKind)
	assert.Nil(t, got.CompletedAt)
}

func TestHandleConversionSlowOriginIsRetriedNotTimedOut(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte("body"))
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	// A per-request client timeout far below the origin's latency: the fetch
	// fails, but the job's own budget is untouched.
	rig.processor.downloader = download.New(10<<20, 50*time.Millisecond)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	err := rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1"))
	require.Error(t, err, "a slow dependency is transient and must be redelivered")

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.NotEqual(t, model.ErrKindTimeout, got.ErrorKind)
}

func TestHandleConversionJobDeadlineIsTerminalTimeout(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer src.Close()

	engine := &fakeEngine{convert: func(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*convert.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rig := newRig(t, engine, 3)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := rig.processor.HandleConversion(ctx, conversionTask(t, "task-1"))
	require.NoError(t, err, "an exhausted job budget must not be redelivered")

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ErrKindTimeout, got.ErrorKind)
	require.NotNil(t, got.CompletedAt)
}

func TestHandleConversionRetrySucceedsSecondTime(t *testing.T) {
	calls := 0
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("body"))
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	require.Error(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))
	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Empty(t, got.Error, "stale failure details must not survive success")
}

func TestHandleConversionPermanentFailure(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	err := rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1"))
	require.NoError(t, err, "permanent failures must not be redelivered")

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ErrKindDownload, got.ErrorKind)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.CompletedAt)
}

func TestHandleConversionExhaustsRetryBudget(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 1)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	err := rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1"))
	require.NoError(t, err, "exhausted budget ends the job")

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ErrKindMaxRetries, got.ErrorKind)
	assert.Contains(t, got.Error, "giving up after 1 attempts")
}

func TestHandleConversionUnsupportedType(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer src.Close()

	engine := &fakeEngine{convert: func(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*convert.Document, error) {
		return nil, convert.ErrUnsupportedType
	}}
	rig := newRig(t, engine, 3)
	createPending(t, rig.store, src.URL+"/doc.md", "")

	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))

	got, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ErrKindConversion, got.ErrorKind)
}

func TestHandleConversionDuplicateDeliveryIsNoOp(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer src.Close()

	rig := newRig(t, passthroughEngine(), 3)
	createPending(t, rig.store, src.URL+"/doc.md", "https://hooks.example.com/done")

	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))
	first, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)

	// Redelivery of the same job must neither re-run the work nor re-notify.
	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))
	second, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, rig.hooks.deliveries, 1)
}

func TestHandleConversionRecordDeletedBeforeJob(t *testing.T) {
	rig := newRig(t, passthroughEngine(), 3)
	err := rig.processor.HandleConversion(context.Background(), conversionTask(t, "never-created"))
	assert.NoError(t, err, "missing record acknowledges the job")
}

func TestHandleConversionDeleteMidProcessingDropsResult(t *testing.T) {
	rig := newRig(t, nil, 3)
	engine := &fakeEngine{convert: func(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*convert.Document, error) {
		// Simulates a caller deleting the task while the worker is busy.
		if err := rig.store.Delete(ctx, "task-1"); err != nil && !errors.Is(err, taskstore.ErrNotFound) {
			return nil, err
		}
		return &convert.Document{Content: "late", PlainText: "late"}, nil
	}}
	rig.processor.engine = engine

	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer src.Close()
	createPending(t, rig.store, src.URL+"/doc.md", "https://hooks.example.com/done")

	require.NoError(t, rig.processor.HandleConversion(context.Background(), conversionTask(t, "task-1")))

	_, err := rig.store.Get(context.Background(), "task-1")
	assert.ErrorIs(t, err, taskstore.ErrNotFound, "terminal write must not resurrect a deleted record")
	assert.Empty(t, rig.hooks.deliveries, "dropped result must not notify")
}

func TestHandleConversionBadPayload(t *testing.T) {
	rig := newRig(t, passthroughEngine(), 3)
	err := rig.processor.HandleConversion(context.Background(), asynq.NewTask(queue.TypeConversionProcess, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

// Package api exposes the HTTP surface: submission, task and batch reads,
// deletion, health and queue statistics. Handlers translate gateway results
// into status codes; admission semantics live in the gateway.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/config"
	"github.com/docpipehq/docpipe/internal/gateway"
	"github.com/docpipehq/docpipe/internal/taskstore"
	"github.com/docpipehq/docpipe/internal/uploadstore"
)

// Server hosts the HTTP API.
type Server struct {
	cfg       *config.Config
	gw        *gateway.Gateway
	store     *taskstore.Store
	uploads   *uploadstore.Storage
	inspector *asynq.Inspector
	log       *zap.Logger
	srv       *http.Server
	once      sync.Once
}

// New constructs a Server. uploads may be nil when direct uploads are
// disabled; inspector may be nil to drop the stats endpoint.
func New(
	cfg *config.Config,
	gw *gateway.Gateway,
	store *taskstore.Store,
	uploads *uploadstore.Storage,
	inspector *asynq.Inspector,
	log *zap.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		gw:        gw,
		store:     store,
		uploads:   uploads,
		inspector: inspector,
		log:       log,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.srv = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Post("/convert", s.handleConvert)
	r.Post("/convert/upload", s.handleConvertUpload)
	r.Post("/convert/batch", s.handleConvertBatch)
	r.Get("/tasks/{taskID}", s.handleGetTask)
	r.Delete("/tasks/{taskID}", s.handleDeleteTask)
	r.Get("/batches/{batchID}", s.handleGetBatch)
	r.Get("/healthz", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if s.inspector != nil {
		r.Get("/stats", s.handleStats)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 503 until the result store is reachable, so load
// balancers hold traffic during Redis outages.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "result store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogger logs one line per request with status and duration.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

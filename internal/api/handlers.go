package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/gateway"
	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/queue"
)

// submitBody is the JSON request for POST /convert and each batch member's
// shared fields.
type submitBody struct {
	URL        string                   `json:"url,omitempty"`
	UploadRef  string                   `json:"uploaded_file_ref,omitempty"`
	Options    *model.ConversionOptions `json:"options,omitempty"`
	WebhookURL string                   `json:"webhook_url,omitempty"`
	Metadata   map[string]string        `json:"metadata,omitempty"`
	Filename   string                   `json:"filename,omitempty"`
}

type batchBody struct {
	Inputs     []model.Source           `json:"inputs"`
	Options    *model.ConversionOptions `json:"options,omitempty"`
	WebhookURL string                   `json:"webhook_url,omitempty"`
	Metadata   map[string]string        `json:"metadata,omitempty"`
}

type batchResponse struct {
	BatchID   string              `json:"batch_id"`
	Status    model.BatchStatus   `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	Tasks     []*model.TaskRecord `json:"tasks"`
	Missing   []string            `json:"missing_task_ids,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.gw.Submit(r.Context(), gateway.SubmitRequest{
		Source:     model.Source{URL: body.URL, UploadRef: body.UploadRef},
		Options:    body.Options,
		WebhookURL: body.WebhookURL,
		Metadata:   body.Metadata,
		Filename:   body.Filename,
	})
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, rec)
}

// handleConvertUpload accepts a multipart form with a "file" part and an
// optional "options" JSON part, stores the document in the upload bucket and
// admits a task referencing it.
func (s *Server) handleConvertUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		respondError(w, http.StatusBadRequest, "upload storage is not configured on this deployment")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form within the size limit")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	var opts *model.ConversionOptions
	if raw := r.FormValue("options"); raw != "" {
		opts = &model.ConversionOptions{}
		if err := json.Unmarshal([]byte(raw), opts); err != nil {
			respondError(w, http.StatusBadRequest, "invalid options JSON")
			return
		}
	}

	filename := model.SanitizeFilename(filepath.Base(header.Filename))
	objectKey := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), filename)
	contentType := header.Header.Get("Content-Type")
	if err := s.uploads.Put(r.Context(), objectKey, file, header.Size, contentType); err != nil {
		s.log.Error("store upload", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "failed to store uploaded file")
		return
	}

	rec, err := s.gw.Submit(r.Context(), gateway.SubmitRequest{
		Source:     model.Source{UploadRef: objectKey},
		Options:    opts,
		WebhookURL: r.FormValue("webhook_url"),
		Filename:   filename,
	})
	if err != nil {
		// The object is orphaned if admission fails; remove it best-effort.
		if derr := s.uploads.Delete(r.Context(), objectKey); derr != nil {
			s.log.Warn("remove orphaned upload", zap.String("object_key", objectKey), zap.Error(derr))
		}
		s.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleConvertBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	batch, members, err := s.gw.SubmitBatch(r.Context(), gateway.BatchRequest{
		Inputs:     body.Inputs,
		Options:    body.Options,
		WebhookURL: body.WebhookURL,
		Metadata:   body.Metadata,
	})
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	statuses := make([]model.TaskStatus, 0, len(members))
	for _, rec := range members {
		statuses = append(statuses, rec.Status)
	}
	respondJSON(w, http.StatusAccepted, batchResponse{
		BatchID:   batch.BatchID,
		Status:    model.DeriveBatchStatus(statuses),
		CreatedAt: batch.CreatedAt,
		Tasks:     members,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gw.Get(r.Context(), chi.URLParam(r, "taskID"))
	if errors.Is(err, gateway.ErrNotFound) {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error("read task", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "result store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.gw.Delete(r.Context(), chi.URLParam(r, "taskID"))
	if errors.Is(err, gateway.ErrNotFound) {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error("delete task", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "result store unreachable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.gw.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if errors.Is(err, gateway.ErrBatchNotFound) {
		respondError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.log.Error("read batch", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "result store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, batchResponse{
		BatchID:   view.BatchID,
		Status:    view.Status,
		CreatedAt: view.CreatedAt,
		Tasks:     view.Members,
		Missing:   view.Missing,
	})
}

// handleStats surfaces queue depth per queue for operators.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	queues := []string{queue.QueueConversion, queue.QueueWebhooks}
	out := make(map[string]any, len(queues))
	for _, q := range queues {
		info, err := s.inspector.GetQueueInfo(q)
		if err != nil {
			s.log.Error("queue stats", zap.String("queue", q), zap.Error(err))
			respondError(w, http.StatusServiceUnavailable, "queue stats unavailable")
			return
		}
		out[q] = map[string]int{
			"pending":   info.Pending,
			"active":    info.Active,
			"scheduled": info.Scheduled,
			"retry":     info.Retry,
			"archived":  info.Archived,
			"completed": info.Completed,
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error) {
	if gateway.IsValidation(err) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Error("admission failed", zap.Error(err))
	respondError(w, http.StatusServiceUnavailable, "submission could not be accepted")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

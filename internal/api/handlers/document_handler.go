package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/ingest"
	"github.com/tidewater-labs/quarry/internal/models"
)

const maxUploadBytes = 50 << 20

// allowedContentTypes is the upload allowlist. Anything else is rejected
// before a document row or job exists.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
	"text/plain":         true,
	"text/markdown":      true,
	"text/html":          true,
}

var extContentTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
}

type DocumentHandler struct {
	store    core.Store
	objects  core.ObjectStore
	pipeline *ingest.Pipeline
	bucket   string
	logger   *slog.Logger
}

func NewDocumentHandler(store core.Store, objects core.ObjectStore, pipeline *ingest.Pipeline, bucket string, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{store: store, objects: objects, pipeline: pipeline, bucket: bucket, logger: logger}
}

// Upload accepts a multipart file, stores it, creates the document and job
// rows and enqueues ingestion. Validation failures happen before any row is
// written.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, core.NewError(core.CodeValidation, "invalid multipart form", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, core.NewError(core.CodeValidation, "missing file field", err))
		return
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	if override := strings.TrimSpace(r.FormValue("filename")); override != "" {
		fileName = filepath.Base(override)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = extContentTypes[strings.ToLower(filepath.Ext(fileName))]
	}
	if mt, _, found := strings.Cut(contentType, ";"); found {
		contentType = strings.TrimSpace(mt)
	}
	if !allowedContentTypes[contentType] {
		writeError(w, core.NewError(core.CodeValidation,
			fmt.Sprintf("unsupported file type %q", contentType), nil))
		return
	}

	docID := uuid.NewString()
	key := fmt.Sprintf("documents/%s/%s", docID, fileName)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	url, err := h.objects.UploadFile(uploadCtx, h.bucket, key, file, contentType)
	if err != nil {
		writeError(w, core.NewError(core.CodeInternal, "storing file failed", err))
		return
	}

	doc := &models.Document{
		ID:          docID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   header.Size,
		StorageURL:  url,
		Status:      string(ingest.StageQueued),
	}
	if err := h.store.CreateDocument(uploadCtx, doc); err != nil {
		writeError(w, core.NewError(core.CodeInternal, "storing document metadata failed", err))
		return
	}

	job := &models.Job{ID: uuid.NewString(), DocumentID: docID, Stage: string(ingest.StageQueued)}
	if err := h.store.CreateJob(uploadCtx, job); err != nil {
		writeError(w, core.NewError(core.CodeInternal, "creating ingestion job failed", err))
		return
	}

	if err := h.pipeline.Submit(job.ID, docID); err != nil {
		writeError(w, core.NewError(core.CodeInternal, "scheduling ingestion failed", err))
		return
	}

	writeJSON(w, http.StatusAccepted, envelope{
		"success":     true,
		"job_id":      job.ID,
		"document_id": docID,
		"status":      wireStatus(job.Stage),
		"message":     "document accepted for processing",
	})
}

// Status reports one job's stage and progress. Progress is guaranteed
// non-decreasing across polls.
func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, core.NewError(core.CodeNotFound, "job not found", core.ErrNotFound))
		return
	}

	body := envelope{
		"success":     true,
		"job_id":      job.ID,
		"document_id": job.DocumentID,
		"status":      wireStatus(job.Stage),
		"progress":    job.Progress,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, body)
}

// Cancel requests cooperative cancellation of a running job.
func (h *DocumentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !h.pipeline.Cancel(jobID) {
		writeError(w, core.NewError(core.CodeNotFound, "job not running", core.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{
		"success": true,
		"job_id":  jobID,
		"message": "cancellation requested",
	})
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "documents": docs, "total": len(docs)})
}

// Delete removes a document, its chunks and its stored file.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.store.GetDocumentByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		writeError(w, core.NewError(core.CodeNotFound, "document not found", core.ErrNotFound))
		return
	}

	if err := h.store.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if bucket, key := objectLocation(doc.StorageURL); key != "" {
		if err := h.objects.DeleteFile(r.Context(), bucket, key); err != nil {
			h.logger.Warn("deleting stored file failed", "document", id, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "document_id": id})
}

// wireStatus maps the internal stage to the public status vocabulary: a job
// that has not started extraction yet reads as "processing".
func wireStatus(stage string) string {
	if stage == string(ingest.StageQueued) {
		return "processing"
	}
	return stage
}

func objectLocation(storageURL string) (bucket, key string) {
	rest, ok := strings.CutPrefix(storageURL, "https://")
	if !ok {
		return "", ""
	}
	host, path, ok := strings.Cut(rest, "/")
	if !ok {
		return "", ""
	}
	bucket, _, _ = strings.Cut(host, ".")
	return bucket, path
}

package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/evidenceflow/internal/evidence"
	"github.com/your-org/evidenceflow/internal/pipeline"
)

// HTTPHandler exposes REST endpoints for submitting media and reading
// bundles.
type HTTPHandler struct {
	service      *Service
	logger       *zap.Logger
	maxSizeBytes int64
	formMemBytes int64
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger, maxSizeBytes, formMemBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		service:      service,
		logger:       logger,
		maxSizeBytes: maxSizeBytes,
		formMemBytes: formMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Post("/api/v1/analyses", h.handleAnalyze)
	r.Get("/api/v1/analyses/{digest}", h.handleGetBundle)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 && r.ContentLength > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds max size limit")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	bundle, err := h.service.AnalyzeUpload(r.Context(), file, UploadOptions{
		Filename:    header.Filename,
		ContentType: contentType,
	})
	if err != nil {
		h.writeRunFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

func (h *HTTPHandler) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	digest := chi.URLParam(r, "digest")
	if digest == "" {
		writeError(w, http.StatusBadRequest, "digest is required")
		return
	}

	bundle, err := h.service.GetBundle(r.Context(), digest)
	if err != nil {
		writeError(w, http.StatusNotFound, "bundle not found")
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// writeRunFailure maps a pipeline failure to the structured descriptor
// callers rely on: the failing stage and error kind, never a silent empty
// result.
func (h *HTTPHandler) writeRunFailure(w http.ResponseWriter, err error) {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		kind, _ := evidence.KindOf(stageErr.Err)
		status := http.StatusUnprocessableEntity
		switch kind {
		case evidence.KindProbeUnavailable, evidence.KindTimeout:
			status = http.StatusServiceUnavailable
		case evidence.KindCancelled:
			status = 499
		}
		writeJSON(w, status, map[string]string{
			"stage": string(stageErr.Stage),
			"kind":  kind.String(),
			"error": stageErr.Err.Error(),
		})
		return
	}

	h.logger.Error("analysis failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "analysis failed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

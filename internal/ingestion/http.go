package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/scormflow/internal/courseio"
	"github.com/your-org/scormflow/internal/events"
	"github.com/your-org/scormflow/internal/jobs"
)

// JobReader serves polling clients.
type JobReader interface {
	Get(ctx context.Context, key string) (jobs.Job, error)
}

// CourseExporter packages a course for download.
type CourseExporter interface {
	Export(ctx context.Context, courseID string, courseData json.RawMessage) (courseio.ExportResult, error)
}

// HTTPHandler exposes REST endpoints for the ingestion service.
type HTTPHandler struct {
	service      *Service
	jobs         JobReader
	dispatcher   *events.Dispatcher
	exporter     CourseExporter
	logger       *zap.Logger
	maxSizeBytes int64
	formMemBytes int64
	router       chi.Router

	// webhook dispatches outlive their request
	inflight sync.WaitGroup
}

type HTTPParams struct {
	Service      *Service
	Jobs         JobReader
	Dispatcher   *events.Dispatcher
	Exporter     CourseExporter
	Logger       *zap.Logger
	MaxSizeBytes int64
	FormMemBytes int64
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(p HTTPParams) *HTTPHandler {
	h := &HTTPHandler{
		service:      p.Service,
		jobs:         p.Jobs,
		dispatcher:   p.Dispatcher,
		exporter:     p.Exporter,
		logger:       p.Logger,
		maxSizeBytes: p.MaxSizeBytes,
		formMemBytes: p.FormMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/packages", h.handleUpload)
		r.Get("/jobs/{jobKey}", h.handleGetJob)
		r.Post("/events", h.handleEvents)
		r.Post("/courses/{courseId}/export", h.handleExport)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

// Wait blocks until webhook-triggered runs have finished.
func (h *HTTPHandler) Wait() {
	h.inflight.Wait()
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
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

	metadata := map[string]string{}
	for key, values := range r.MultipartForm.Value {
		if key == "file" || key == "course_id" || len(values) == 0 {
			continue
		}
		metadata[strings.ToLower(key)] = values[len(values)-1]
	}

	result, err := h.service.ProcessUpload(r.Context(), file, header.Size, UploadOptions{
		CourseID:    r.FormValue("course_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Metadata:    metadata,
	})
	if errors.Is(err, ErrInvalidUpload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_key":     result.JobKey,
		"object_key":  result.ObjectKey,
		"checksum":    result.Checksum,
		"size_bytes":  result.Size,
		"uploaded_at": result.UploadedAt,
	})
}

func (h *HTTPHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobKey"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleEvents accepts a raw bucket notification. Matching runs continue in
// the background after the response is written.
func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	evs, err := events.ParseNotification(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		if err := h.dispatcher.Dispatch(ctx, evs); err != nil {
			h.logger.Warn("webhook dispatch finished with errors", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]int{
		"events": len(evs),
	})
}

func (h *HTTPHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CourseData json.RawMessage `json:"courseData"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, h.formMemBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := h.exporter.Export(r.Context(), chi.URLParam(r, "courseId"), body.CourseData)
	if errors.Is(err, courseio.ErrInvalidCourse) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
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

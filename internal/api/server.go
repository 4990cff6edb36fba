// Package api exposes the HTTP surface: upload and batch creation,
// ledger listing, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imageship/internal/batch"
	"github.com/dunamismax/imageship/internal/config"
	"github.com/dunamismax/imageship/internal/domain"
	"github.com/dunamismax/imageship/internal/id"
	"github.com/dunamismax/imageship/internal/provider"
	"github.com/dunamismax/imageship/internal/queue"
	"github.com/dunamismax/imageship/internal/source"
	"github.com/dunamismax/imageship/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	ledger                store.UploadLedger
	uploader              provider.Provider
	defaults              config.OptimizeConfig
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueUploadImage(ctx context.Context, payload queue.UploadImagePayload) (*asynq.TaskInfo, error)
}

type Option func(*Server)

func WithRateLimiter(limiter RateLimiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = limiter
		s.rateLimitUserIDHeader = userIDHeader
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// WithProvider enables the delete and stats routes, which talk to the
// storage backend directly instead of going through the queue.
func WithProvider(p provider.Provider) Option {
	return func(s *Server) { s.uploader = p }
}

func NewServer(
	logger *log.Logger,
	queueClient queueEnqueuer,
	jobStore store.JobStore,
	ledger store.UploadLedger,
	defaults config.OptimizeConfig,
	opts ...Option,
) *Server {
	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		ledger:                ledger,
		defaults:              defaults,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		mux:                   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/uploads", s.handleCreateUpload)
	s.mux.HandleFunc("GET /v1/uploads", s.handleListUploads)
	s.mux.HandleFunc("POST /v1/batches", s.handleCreateBatch)
	s.mux.HandleFunc("DELETE /v1/uploads/{file_name}", s.handleDeleteUpload)
	s.mux.HandleFunc("GET /v1/stats", s.handleProviderStats)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job := s.buildJob(req)
	if job.SourceType == domain.SourceTypeLocalFile {
		if _, err := os.Stat(job.LocalPath); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": fmt.Sprintf("local file is missing: %s", job.LocalPath),
			})
			return
		}
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.enqueueJob(r.Context(), job, "")
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

type createBatchRequest struct {
	CSVPath         string `json:"csv_path,omitempty"`
	LocalDir        string `json:"local_dir,omitempty"`
	MappingPath     string `json:"mapping_path,omitempty"`
	Quality         int    `json:"quality,omitempty"`
	MaxWidth        int    `json:"max_width,omitempty"`
	SmartFormat     *bool  `json:"smart_format,omitempty"`
	AddTimestamp    *bool  `json:"add_timestamp,omitempty"`
	GenerateAltText bool   `json:"generate_alt_text,omitempty"`
	AltTextKeywords string `json:"alt_text_keywords,omitempty"`
	WebhookURL      string `json:"webhook_url,omitempty"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	switch {
	case strings.TrimSpace(req.CSVPath) != "":
		s.createCSVBatch(w, r, req)
	case strings.TrimSpace(req.LocalDir) != "":
		s.createFolderBatch(w, r, req)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "csv_path or local_dir is required"})
	}
}

// createCSVBatch enqueues one remote-URL job per source URL that does
// not already have a mapping recorded.
func (s *Server) createCSVBatch(w http.ResponseWriter, r *http.Request, req createBatchRequest) {
	urls, err := batch.ReadSourceURLs(req.CSVPath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	mappingPath := strings.TrimSpace(req.MappingPath)
	if mappingPath == "" {
		mappingPath = defaultMappingPath(req.CSVPath)
	}
	mappings, err := batch.OpenMappingFile(mappingPath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	pending := mappings.Unmapped(urls)

	jobIDs := make([]string, 0, len(pending))
	for _, sourceURL := range pending {
		job := s.buildJob(domain.CreateUploadRequest{
			SourceType:      domain.SourceTypeRemoteURL,
			SourceURL:       sourceURL,
			Quality:         req.Quality,
			MaxWidth:        req.MaxWidth,
			SmartFormat:     req.SmartFormat,
			AddTimestamp:    req.AddTimestamp,
			GenerateAltText: req.GenerateAltText,
			AltTextKeywords: req.AltTextKeywords,
			WebhookURL:      req.WebhookURL,
		})
		if err := s.jobStore.Create(r.Context(), job); err != nil {
			s.logger.Printf("create batch job failed url=%s: %v", sourceURL, err)
			continue
		}
		if _, err := s.enqueueJob(r.Context(), job, mappingPath); err != nil {
			s.logger.Printf("enqueue batch job failed url=%s: %v", sourceURL, err)
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"total":        len(urls),
		"skipped":      len(urls) - len(pending),
		"enqueued":     len(jobIDs),
		"job_ids":      jobIDs,
		"mapping_path": mappingPath,
	})
}

// createFolderBatch enqueues one local-file job per image in the
// folder. The worker's ledger check handles idempotency.
func (s *Server) createFolderBatch(w http.ResponseWriter, r *http.Request, req createBatchRequest) {
	files, err := source.ListLocalImages(req.LocalDir)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	jobIDs := make([]string, 0, len(files))
	for _, path := range files {
		job := s.buildJob(domain.CreateUploadRequest{
			SourceType:      domain.SourceTypeLocalFile,
			LocalPath:       path,
			Quality:         req.Quality,
			MaxWidth:        req.MaxWidth,
			SmartFormat:     req.SmartFormat,
			AddTimestamp:    req.AddTimestamp,
			GenerateAltText: req.GenerateAltText,
			AltTextKeywords: req.AltTextKeywords,
			WebhookURL:      req.WebhookURL,
		})
		if err := s.jobStore.Create(r.Context(), job); err != nil {
			s.logger.Printf("create batch job failed path=%s: %v", path, err)
			continue
		}
		if _, err := s.enqueueJob(r.Context(), job, ""); err != nil {
			s.logger.Printf("enqueue batch job failed path=%s: %v", path, err)
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"total":    len(files),
		"enqueued": len(jobIDs),
		"job_ids":  jobIDs,
	})
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, map[string]any{"uploads": []domain.UploadRecord{}, "count": 0})
		return
	}
	records, err := s.ledger.List(r.Context())
	if err != nil {
		s.logger.Printf("list uploads failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list uploads"})
		return
	}
	if records == nil {
		records = []domain.UploadRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uploads": records,
		"count":   len(records),
	})
}

// handleDeleteUpload removes the stored object and its ledger entry.
// A ledger entry whose object is already gone is still cleaned up.
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil || s.ledger == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no storage provider configured"})
		return
	}

	fileName := r.PathValue("file_name")
	rec, ok, err := s.ledger.Lookup(r.Context(), fileName)
	if err != nil {
		s.logger.Printf("ledger lookup failed file=%s: %v", fileName, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to look up upload"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no upload recorded for %s", fileName)})
		return
	}

	if err := s.uploader.Delete(r.Context(), rec.StorageKey); err != nil && !errors.Is(err, provider.ErrObjectNotFound) {
		s.logger.Printf("provider delete failed key=%s: %v", rec.StorageKey, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to delete stored object"})
		return
	}
	if err := s.ledger.Delete(r.Context(), fileName); err != nil {
		s.logger.Printf("ledger delete failed file=%s: %v", fileName, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete ledger entry"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"deleted":     fileName,
		"storage_key": rec.StorageKey,
	})
}

func (s *Server) handleProviderStats(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no storage provider configured"})
		return
	}
	stats, err := s.uploader.Stats(r.Context())
	if err != nil {
		s.logger.Printf("provider stats failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to fetch provider stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// buildJob fills a job from the request, applying server defaults for
// anything the caller left unset.
func (s *Server) buildJob(req domain.CreateUploadRequest) domain.UploadJob {
	now := time.Now().UTC()

	quality := req.Quality
	if quality == 0 {
		quality = s.defaults.Quality
	}
	maxWidth := req.MaxWidth
	if maxWidth == 0 {
		maxWidth = s.defaults.MaxWidth
	}
	smartFormat := s.defaults.SmartFormat
	if req.SmartFormat != nil {
		smartFormat = *req.SmartFormat
	}
	addTimestamp := true
	if req.AddTimestamp != nil {
		addTimestamp = *req.AddTimestamp
	}

	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	fileName := ""
	switch sourceType {
	case domain.SourceTypeLocalFile:
		fileName = filepath.Base(strings.TrimSpace(req.LocalPath))
	case domain.SourceTypeRemoteURL:
		if name, err := source.FileNameFromURL(req.SourceURL); err == nil {
			fileName = name
		}
	}

	return domain.UploadJob{
		ID:              id.New(),
		Status:          domain.JobStatusCreated,
		SourceType:      sourceType,
		SourceURL:       strings.TrimSpace(req.SourceURL),
		LocalPath:       strings.TrimSpace(req.LocalPath),
		FileName:        fileName,
		Quality:         quality,
		MaxWidth:        maxWidth,
		SmartFormat:     smartFormat,
		AddTimestamp:    addTimestamp,
		GenerateAltText: req.GenerateAltText,
		AltTextKeywords: req.AltTextKeywords,
		WebhookURL:      req.WebhookURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *Server) enqueueJob(ctx context.Context, job domain.UploadJob, mappingPath string) (*asynq.TaskInfo, error) {
	taskInfo, err := s.queueClient.EnqueueUploadImage(ctx, queue.UploadImagePayload{
		JobID:           job.ID,
		SourceType:      job.SourceType,
		SourceURL:       job.SourceURL,
		LocalPath:       job.LocalPath,
		FileName:        job.FileName,
		Quality:         job.Quality,
		MaxWidth:        job.MaxWidth,
		SmartFormat:     job.SmartFormat,
		AddTimestamp:    job.AddTimestamp,
		GenerateAltText: job.GenerateAltText,
		AltTextKeywords: job.AltTextKeywords,
		WebhookURL:      job.WebhookURL,
		MappingPath:     mappingPath,
		RequestedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.jobStore.UpdateStatus(ctx, job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()
	return taskInfo, nil
}

// defaultMappingPath puts the mapping next to the input list.
func defaultMappingPath(csvPath string) string {
	ext := filepath.Ext(csvPath)
	return strings.TrimSuffix(csvPath, ext) + "_mapping.csv"
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Package worker consumes upload tasks from the queue and runs the
// full pipeline: fetch, optimize, upload, record, notify.
package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dunamismax/imageship/internal/alttext"
	"github.com/dunamismax/imageship/internal/batch"
	"github.com/dunamismax/imageship/internal/config"
	"github.com/dunamismax/imageship/internal/domain"
	"github.com/dunamismax/imageship/internal/optimize"
	"github.com/dunamismax/imageship/internal/provider"
	"github.com/dunamismax/imageship/internal/queue"
	"github.com/dunamismax/imageship/internal/source"
	"github.com/dunamismax/imageship/internal/store"
	"github.com/dunamismax/imageship/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type optimizer interface {
	Optimize(ctx context.Context, path string, params optimize.Params) (optimize.Result, error)
}

type downloader interface {
	Download(ctx context.Context, sourceURL, destDir string) (string, error)
}

type altTextGenerator interface {
	Enabled() bool
	Generate(ctx context.Context, imageURL, keywords string) (string, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, eventType string, event webhook.Event) error
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	downloadDir   string
	optimizer     optimizer
	downloader    downloader
	uploader      provider.Provider
	webhookClient webhookSender
	altText       altTextGenerator
	jobStore      store.JobStore
	ledger        store.UploadLedger
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	uploader provider.Provider,
	opt *optimize.Optimizer,
	webhookClient *webhook.Client,
	altClient *alttext.Client,
	jobStore store.JobStore,
	ledger store.UploadLedger,
) (*Server, error) {
	if uploader == nil {
		return nil, fmt.Errorf("storage provider is required")
	}
	if opt == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if err := os.MkdirAll(workerCfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		downloadDir:   workerCfg.DownloadDir,
		optimizer:     opt,
		downloader:    source.NewDownloader(0),
		uploader:      uploader,
		webhookClient: webhookClient,
		altText:       altClient,
		jobStore:      jobStore,
		ledger:        ledger,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imageship/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeUploadImage, s.handleUploadImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleUploadImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseUploadImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.upload_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
	)
	defer span.End()
	defer func() {
		s.metrics.uploadDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.uploadsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeUploads.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeUploads.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s source_url=%s local_path=%s",
		payload.JobID,
		payload.SourceType,
		payload.SourceURL,
		payload.LocalPath,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	// Resolve the file name before fetching so an already-uploaded
	// remote image is skipped without downloading it again.
	fileName := payload.FileName
	if fileName == "" {
		switch payload.SourceType {
		case domain.SourceTypeLocalFile:
			fileName = filepath.Base(payload.LocalPath)
		case domain.SourceTypeRemoteURL:
			if name, err := source.FileNameFromURL(payload.SourceURL); err == nil {
				fileName = name
			}
		}
	}
	if existing, ok, err := s.lookupLedger(ctx, fileName); err == nil && ok {
		s.logger.Printf("Skipping job_id=%s file=%s already_at=%s", payload.JobID, fileName, existing.PublicURL)
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSkipped)
		s.dispatchWebhook(ctx, payload, webhook.EventUploadSkipped, webhook.Event{
			JobID:  payload.JobID,
			Status: domain.JobStatusSkipped,
			Record: &existing,
		})
		outcome = domain.JobStatusSkipped
		span.SetStatus(codes.Ok, "already uploaded")
		return nil
	}

	localPath, cleanup, err := s.fetch(ctx, payload)
	if err != nil {
		return s.fail(ctx, span, payload, fmt.Errorf("fetch source: %w", err))
	}
	defer cleanup()

	if fileName == "" {
		fileName = filepath.Base(localPath)
	}

	var originalSize int64
	if info, statErr := os.Stat(localPath); statErr == nil {
		originalSize = info.Size()
	}

	result, err := s.optimizer.Optimize(ctx, localPath, optimize.Params{
		Quality:     payload.Quality,
		SmartFormat: payload.SmartFormat,
		MaxWidth:    payload.MaxWidth,
	})
	if err != nil {
		// Upload the untouched original rather than dropping the job.
		s.logger.Printf("optimize failed job_id=%s file=%s err=%v", payload.JobID, fileName, err)
		info, statErr := os.Stat(localPath)
		if statErr != nil {
			return s.fail(ctx, span, payload, fmt.Errorf("optimize and stat failed: %v: %w", err, statErr))
		}
		result = optimize.Result{
			Path:     localPath,
			Format:   optimize.FormatFromExtension(localPath),
			ByteSize: info.Size(),
		}
	}

	uploadResult, err := s.uploader.Upload(ctx, result.Path, filepath.Base(result.Path), provider.UploadOptions{
		AddTimestamp: payload.AddTimestamp,
		ContentType:  optimize.ContentTypeForFormat(result.Format),
	})
	if err != nil {
		return s.fail(ctx, span, payload, fmt.Errorf("upload to %s: %w", s.uploader.Name(), err))
	}

	record := domain.UploadRecord{
		FileName:   fileName,
		SourceURL:  payload.SourceURL,
		PublicURL:  uploadResult.PublicURL,
		StorageKey: uploadResult.Key,
		Provider:   s.uploader.Name(),
		Format:     result.Format,
		ByteSize:   result.ByteSize,
		UploadedAt: time.Now().UTC(),
	}

	if payload.GenerateAltText && s.altText != nil && s.altText.Enabled() {
		altText, altErr := s.altText.Generate(ctx, uploadResult.PublicURL, payload.AltTextKeywords)
		if altErr != nil {
			s.logger.Printf("alt text generation failed job_id=%s err=%v", payload.JobID, altErr)
		} else {
			record.AltText = altText
			s.metrics.altTextGeneratedTotal.Inc()
		}
	}

	if s.ledger != nil {
		if err := s.ledger.Put(ctx, record); err != nil {
			s.logger.Printf("ledger write failed job_id=%s file=%s err=%v", payload.JobID, fileName, err)
		}
	}

	s.recordMapping(payload, record)

	s.logger.Printf(
		"Uploaded job_id=%s file=%s provider=%s format=%s bytes=%d url=%s",
		payload.JobID, fileName, record.Provider, record.Format, record.ByteSize, record.PublicURL,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)

	if saved := originalSize - result.ByteSize; saved > 0 {
		s.metrics.bytesSavedTotal.Add(float64(saved))
	}
	if result.FormatChanged {
		s.metrics.formatConversionsTotal.Inc()
	}

	if err := s.dispatchWebhook(ctx, payload, webhook.EventUploadSucceeded, webhook.Event{
		JobID:  payload.JobID,
		Status: domain.JobStatusSucceeded,
		Record: &record,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "uploaded")
	return nil
}

// fetch resolves the task's source to a local file. For remote URLs it
// downloads into a per-job directory; the returned cleanup removes it.
func (s *Server) fetch(ctx context.Context, payload queue.UploadImagePayload) (string, func(), error) {
	switch payload.SourceType {
	case domain.SourceTypeRemoteURL:
		jobDir := filepath.Join(s.downloadDir, payload.JobID)
		if err := os.MkdirAll(jobDir, 0o755); err != nil {
			return "", func() {}, fmt.Errorf("create job dir: %w", err)
		}
		path, err := s.downloader.Download(ctx, payload.SourceURL, jobDir)
		if err != nil {
			os.RemoveAll(jobDir)
			return "", func() {}, err
		}
		return path, func() { os.RemoveAll(jobDir) }, nil
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(payload.LocalPath); err != nil {
			return "", func() {}, fmt.Errorf("local file: %w", err)
		}
		return payload.LocalPath, func() {}, nil
	default:
		return "", func() {}, fmt.Errorf("unsupported source_type: %s", payload.SourceType)
	}
}

// recordMapping appends the source→public URL pair to the batch
// mapping CSV when the task came from one.
func (s *Server) recordMapping(payload queue.UploadImagePayload, record domain.UploadRecord) {
	if payload.MappingPath == "" || payload.SourceURL == "" {
		return
	}
	mappings, err := batch.OpenMappingFile(payload.MappingPath)
	if err != nil {
		s.logger.Printf("open mapping file failed job_id=%s path=%s err=%v", payload.JobID, payload.MappingPath, err)
		return
	}
	err = mappings.Record(batch.Mapping{
		SourceURL:   payload.SourceURL,
		PublicURL:   record.PublicURL,
		MaxWidth:    payload.MaxWidth,
		Quality:     payload.Quality,
		SmartFormat: payload.SmartFormat,
		AltText:     record.AltText,
	})
	if err != nil {
		s.logger.Printf("record mapping failed job_id=%s err=%v", payload.JobID, err)
	}
}

func (s *Server) lookupLedger(ctx context.Context, fileName string) (domain.UploadRecord, bool, error) {
	if s.ledger == nil {
		return domain.UploadRecord{}, false, nil
	}
	rec, ok, err := s.ledger.Lookup(ctx, fileName)
	if err != nil {
		s.logger.Printf("ledger lookup failed file=%s err=%v", fileName, err)
		return domain.UploadRecord{}, false, err
	}
	return rec, ok, nil
}

func (s *Server) fail(ctx context.Context, span trace.Span, payload queue.UploadImagePayload, err error) error {
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "upload pipeline failed")
	s.dispatchWebhook(ctx, payload, webhook.EventUploadFailed, webhook.Event{
		JobID:  payload.JobID,
		Status: domain.JobStatusFailed,
		Error:  err.Error(),
	})
	return err
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.UploadImagePayload, eventType string, event webhook.Event) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, eventType, event); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, eventType, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

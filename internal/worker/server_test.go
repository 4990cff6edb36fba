package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/imageship/internal/domain"
	"github.com/dunamismax/imageship/internal/optimize"
	"github.com/dunamismax/imageship/internal/provider"
	"github.com/dunamismax/imageship/internal/queue"
	"github.com/dunamismax/imageship/internal/store"
	"github.com/dunamismax/imageship/internal/webhook"
	"go.opentelemetry.io/otel"
)

type fakeOptimizer struct {
	result optimize.Result
	err    error
	called bool
}

func (f *fakeOptimizer) Optimize(_ context.Context, path string, _ optimize.Params) (optimize.Result, error) {
	f.called = true
	if f.err != nil {
		return optimize.Result{}, f.err
	}
	if f.result.Path == "" {
		f.result.Path = path
	}
	return f.result, nil
}

type fakeUploader struct {
	result provider.UploadResult
	err    error
	called bool
	opts   provider.UploadOptions
}

func (f *fakeUploader) Name() string                                  { return "fake" }
func (f *fakeUploader) TestConnection(context.Context) error          { return nil }
func (f *fakeUploader) Delete(context.Context, string) error          { return nil }
func (f *fakeUploader) Stats(context.Context) (map[string]any, error) { return nil, nil }

func (f *fakeUploader) Upload(_ context.Context, _, fileName string, opts provider.UploadOptions) (provider.UploadResult, error) {
	f.called = true
	f.opts = opts
	if f.err != nil {
		return provider.UploadResult{}, f.err
	}
	if f.result.Key == "" {
		f.result = provider.UploadResult{
			Key:       fileName,
			PublicURL: "https://cdn.example.com/" + fileName,
		}
	}
	return f.result, nil
}

type fakeAltText struct {
	text   string
	err    error
	called bool
}

func (f *fakeAltText) Enabled() bool { return true }

func (f *fakeAltText) Generate(context.Context, string, string) (string, error) {
	f.called = true
	return f.text, f.err
}

type captureWebhook struct {
	eventType string
	event     webhook.Event
	called    bool
}

func (c *captureWebhook) Send(_ context.Context, _ string, eventType string, event webhook.Event) error {
	c.called = true
	c.eventType = eventType
	c.event = event
	return nil
}

func newTestServer(t *testing.T, opt optimizer, up provider.Provider, ledger store.UploadLedger) (*Server, *store.MemoryStore) {
	t.Helper()
	jobStore := store.NewMemoryStore()
	if ledger == nil {
		ledger = jobStore
	}
	return &Server{
		logger:    log.New(io.Discard, "", 0),
		sem:       make(chan struct{}, 1),
		optimizer: opt,
		uploader:  up,
		jobStore:  jobStore,
		ledger:    ledger,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("imageship/worker-test"),
	}, jobStore
}

func writeTempImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not really an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func seedJob(t *testing.T, jobStore *store.MemoryStore, id string) {
	t.Helper()
	err := jobStore.Create(context.Background(), domain.UploadJob{
		ID:     id,
		Status: domain.JobStatusQueued,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func runTask(t *testing.T, s *Server, payload queue.UploadImagePayload) error {
	t.Helper()
	task, err := queue.NewUploadImageTask(payload)
	if err != nil {
		t.Fatal(err)
	}
	return s.handleUploadImage(context.Background(), task)
}

func TestHandleUploadImageSuccess(t *testing.T) {
	localPath := writeTempImage(t, "photo.png")
	opt := &fakeOptimizer{result: optimize.Result{
		Path:          localPath,
		Format:        optimize.FormatJPEG,
		ByteSize:      5,
		FormatChanged: true,
	}}
	up := &fakeUploader{}
	wh := &captureWebhook{}

	s, jobStore := newTestServer(t, opt, up, nil)
	s.webhookClient = wh
	seedJob(t, jobStore, "job-1")

	err := runTask(t, s, queue.UploadImagePayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		LocalPath:  localPath,
		Quality:    82,
		WebhookURL: "https://hooks.example.com/done",
	})
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}

	if !opt.called || !up.called {
		t.Fatalf("pipeline stages skipped: optimize=%v upload=%v", opt.called, up.called)
	}
	if up.opts.ContentType != "image/jpeg" {
		t.Fatalf("content type = %q", up.opts.ContentType)
	}

	job, ok, _ := jobStore.Get(context.Background(), "job-1")
	if !ok || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status = %q", job.Status)
	}

	rec, ok, _ := jobStore.Lookup(context.Background(), "photo.png")
	if !ok {
		t.Fatal("expected ledger record")
	}
	if rec.Provider != "fake" || rec.Format != optimize.FormatJPEG {
		t.Fatalf("record = %+v", rec)
	}

	if !wh.called || wh.eventType != webhook.EventUploadSucceeded {
		t.Fatalf("webhook event = %q called=%v", wh.eventType, wh.called)
	}
	if wh.event.Record == nil || wh.event.Record.PublicURL == "" {
		t.Fatalf("webhook record = %+v", wh.event.Record)
	}
}

func TestHandleUploadImageSkipsAlreadyUploaded(t *testing.T) {
	localPath := writeTempImage(t, "seen.png")
	opt := &fakeOptimizer{}
	up := &fakeUploader{}

	s, jobStore := newTestServer(t, opt, up, nil)
	seedJob(t, jobStore, "job-2")
	err := jobStore.Put(context.Background(), domain.UploadRecord{
		FileName:  "seen.png",
		PublicURL: "https://cdn.example.com/seen.png",
	})
	if err != nil {
		t.Fatal(err)
	}

	err = runTask(t, s, queue.UploadImagePayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		LocalPath:  localPath,
	})
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}

	if opt.called || up.called {
		t.Fatal("expected no optimize or upload for a ledgered file")
	}
	job, _, _ := jobStore.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusSkipped {
		t.Fatalf("job status = %q, want skipped", job.Status)
	}
}

func TestHandleUploadImageOptimizeFailureUploadsOriginal(t *testing.T) {
	localPath := writeTempImage(t, "stubborn.jpg")
	opt := &fakeOptimizer{err: optimize.ErrAllEncodingsFailed}
	up := &fakeUploader{}

	s, jobStore := newTestServer(t, opt, up, nil)
	seedJob(t, jobStore, "job-3")

	err := runTask(t, s, queue.UploadImagePayload{
		JobID:      "job-3",
		SourceType: domain.SourceTypeLocalFile,
		LocalPath:  localPath,
	})
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}

	if !up.called {
		t.Fatal("expected the original file to be uploaded")
	}
	rec, ok, _ := jobStore.Lookup(context.Background(), "stubborn.jpg")
	if !ok {
		t.Fatal("expected ledger record for original upload")
	}
	if rec.Format != optimize.FormatJPEG {
		t.Fatalf("record format = %q", rec.Format)
	}
}

func TestHandleUploadImageUploadFailure(t *testing.T) {
	localPath := writeTempImage(t, "doomed.png")
	opt := &fakeOptimizer{result: optimize.Result{Format: optimize.FormatPNG, ByteSize: 10}}
	up := &fakeUploader{err: errors.New("bucket unavailable")}
	wh := &captureWebhook{}

	s, jobStore := newTestServer(t, opt, up, nil)
	s.webhookClient = wh
	seedJob(t, jobStore, "job-4")

	err := runTask(t, s, queue.UploadImagePayload{
		JobID:      "job-4",
		SourceType: domain.SourceTypeLocalFile,
		LocalPath:  localPath,
		WebhookURL: "https://hooks.example.com/done",
	})
	if err == nil {
		t.Fatal("expected error from failed upload")
	}

	job, _, _ := jobStore.Get(context.Background(), "job-4")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("job status = %q, want failed", job.Status)
	}
	if wh.eventType != webhook.EventUploadFailed {
		t.Fatalf("webhook event = %q", wh.eventType)
	}
}

func TestHandleUploadImageGeneratesAltText(t *testing.T) {
	localPath := writeTempImage(t, "described.png")
	opt := &fakeOptimizer{result: optimize.Result{Format: optimize.FormatPNG, ByteSize: 10}}
	up := &fakeUploader{}
	alt := &fakeAltText{text: "A lighthouse at dusk"}

	s, jobStore := newTestServer(t, opt, up, nil)
	s.altText = alt
	seedJob(t, jobStore, "job-5")

	err := runTask(t, s, queue.UploadImagePayload{
		JobID:           "job-5",
		SourceType:      domain.SourceTypeLocalFile,
		LocalPath:       localPath,
		GenerateAltText: true,
	})
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}

	if !alt.called {
		t.Fatal("expected alt text generation")
	}
	rec, _, _ := jobStore.Lookup(context.Background(), "described.png")
	if rec.AltText != "A lighthouse at dusk" {
		t.Fatalf("alt text = %q", rec.AltText)
	}

	// Generation failures must not fail the upload.
	alt2 := &fakeAltText{err: errors.New("quota exceeded")}
	s2, jobStore2 := newTestServer(t, &fakeOptimizer{result: optimize.Result{Format: optimize.FormatPNG}}, &fakeUploader{}, nil)
	s2.altText = alt2
	seedJob(t, jobStore2, "job-6")

	path2 := writeTempImage(t, "quota.png")
	err = runTask(t, s2, queue.UploadImagePayload{
		JobID:           "job-6",
		SourceType:      domain.SourceTypeLocalFile,
		LocalPath:       path2,
		GenerateAltText: true,
	})
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if job, _, _ := jobStore2.Get(context.Background(), "job-6"); job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job status = %q, want succeeded", job.Status)
	}
}

func TestFetchRejectsUnknownSourceType(t *testing.T) {
	s, _ := newTestServer(t, &fakeOptimizer{}, &fakeUploader{}, nil)
	_, _, err := s.fetch(context.Background(), queue.UploadImagePayload{SourceType: "carrier_pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown source type")
	}
}

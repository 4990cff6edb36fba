package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/imageship/internal/batch"
	"github.com/dunamismax/imageship/internal/config"
	"github.com/dunamismax/imageship/internal/domain"
	"github.com/dunamismax/imageship/internal/provider"
	"github.com/dunamismax/imageship/internal/queue"
	"github.com/dunamismax/imageship/internal/store"
	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	payloads []queue.UploadImagePayload
	err      error
}

func (f *fakeEnqueuer) EnqueueUploadImage(_ context.Context, payload queue.UploadImagePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: "task-" + payload.JobID, Queue: "default"}, nil
}

func newTestAPI(t *testing.T) (*Server, *fakeEnqueuer, *store.MemoryStore) {
	t.Helper()
	enqueuer := &fakeEnqueuer{}
	memStore := store.NewMemoryStore()
	srv := NewServer(
		log.New(io.Discard, "", 0),
		enqueuer,
		memStore,
		memStore,
		config.OptimizeConfig{Quality: 82, SmartFormat: true},
	)
	return srv, enqueuer, memStore
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateUploadAppliesDefaultsAndEnqueues(t *testing.T) {
	srv, enqueuer, memStore := newTestAPI(t)

	localPath := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(localPath, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	body := `{"source_type":"local_file","local_path":"` + localPath + `"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("enqueued %d payloads", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.Quality != 82 {
		t.Fatalf("quality = %d, want default 82", payload.Quality)
	}
	if !payload.SmartFormat {
		t.Fatal("expected smart_format default true")
	}
	if !payload.AddTimestamp {
		t.Fatal("expected add_timestamp default true")
	}

	job, ok, _ := memStore.Get(context.Background(), payload.JobID)
	if !ok || job.Status != domain.JobStatusQueued {
		t.Fatalf("job status = %q ok=%v", job.Status, ok)
	}
	if job.FileName != "photo.png" {
		t.Fatalf("file name = %q", job.FileName)
	}
}

func TestCreateUploadValidation(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing source type", `{}`, http.StatusBadRequest},
		{"bad source type", `{"source_type":"ftp"}`, http.StatusBadRequest},
		{"url without source_url", `{"source_type":"remote_url"}`, http.StatusBadRequest},
		{"quality out of range", `{"source_type":"remote_url","source_url":"https://x.test/a.jpg","quality":200}`, http.StatusBadRequest},
		{"missing local file", `{"source_type":"local_file","local_path":"/nonexistent/a.png"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListUploads(t *testing.T) {
	srv, _, memStore := newTestAPI(t)
	err := memStore.Put(context.Background(), domain.UploadRecord{
		FileName:   "a.png",
		PublicURL:  "https://cdn.example.com/a.png",
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/uploads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Uploads []domain.UploadRecord `json:"uploads"`
		Count   int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Uploads) != 1 {
		t.Fatalf("count = %d uploads = %d", resp.Count, len(resp.Uploads))
	}
	if resp.Uploads[0].FileName != "a.png" {
		t.Fatalf("file name = %q", resp.Uploads[0].FileName)
	}
}

func TestCreateBatchSkipsMappedURLs(t *testing.T) {
	srv, enqueuer, _ := newTestAPI(t)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sources.csv")
	csvData := "url\nhttps://example.com/a.jpg\nhttps://example.com/b.png\n"
	if err := os.WriteFile(csvPath, []byte(csvData), 0o644); err != nil {
		t.Fatal(err)
	}

	mappingPath := filepath.Join(dir, "sources_mapping.csv")
	mappings, err := batch.OpenMappingFile(mappingPath)
	if err != nil {
		t.Fatal(err)
	}
	err = mappings.Record(batch.Mapping{
		SourceURL: "https://example.com/a.jpg",
		PublicURL: "https://cdn.example.com/a.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}

	body := `{"csv_path":"` + csvPath + `","max_width":800}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Total    int    `json:"total"`
		Skipped  int    `json:"skipped"`
		Enqueued int    `json:"enqueued"`
		Mapping  string `json:"mapping_path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || resp.Skipped != 1 || resp.Enqueued != 1 {
		t.Fatalf("counts = %+v", resp)
	}
	if resp.Mapping != mappingPath {
		t.Fatalf("mapping path = %q, want %q", resp.Mapping, mappingPath)
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("enqueued %d payloads", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.SourceURL != "https://example.com/b.png" {
		t.Fatalf("source url = %q", payload.SourceURL)
	}
	if payload.MaxWidth != 800 {
		t.Fatalf("max width = %d", payload.MaxWidth)
	}
	if payload.MappingPath != mappingPath {
		t.Fatalf("mapping path = %q", payload.MappingPath)
	}
}

func TestCreateBatchFromLocalFolder(t *testing.T) {
	srv, enqueuer, _ := newTestAPI(t)

	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	body := `{"local_dir":"` + dir + `"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	if len(enqueuer.payloads) != 2 {
		t.Fatalf("enqueued %d payloads, want 2 images", len(enqueuer.payloads))
	}
	for _, payload := range enqueuer.payloads {
		if payload.SourceType != domain.SourceTypeLocalFile {
			t.Fatalf("source type = %q", payload.SourceType)
		}
	}
}

func TestCreateBatchRequiresSource(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("expected runtime metrics in output")
	}
}

type fakeProvider struct {
	deleted   []string
	deleteErr error
	stats     map[string]any
}

func (f *fakeProvider) Name() string                         { return "fake" }
func (f *fakeProvider) TestConnection(context.Context) error { return nil }

func (f *fakeProvider) Upload(context.Context, string, string, provider.UploadOptions) (provider.UploadResult, error) {
	return provider.UploadResult{}, nil
}

func (f *fakeProvider) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeProvider) Stats(context.Context) (map[string]any, error) {
	return f.stats, nil
}

func newTestAPIWithProvider(t *testing.T, p provider.Provider) (*Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	srv := NewServer(
		log.New(io.Discard, "", 0),
		&fakeEnqueuer{},
		memStore,
		memStore,
		config.OptimizeConfig{Quality: 82, SmartFormat: true},
		WithProvider(p),
	)
	return srv, memStore
}

func TestDeleteUploadRemovesObjectAndLedgerEntry(t *testing.T) {
	p := &fakeProvider{}
	srv, memStore := newTestAPIWithProvider(t, p)

	err := memStore.Put(context.Background(), domain.UploadRecord{
		FileName:   "hero.png",
		StorageKey: "hero_1700000000.png",
		PublicURL:  "https://cdn.example.com/hero_1700000000.png",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/uploads/hero.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(p.deleted) != 1 || p.deleted[0] != "hero_1700000000.png" {
		t.Fatalf("deleted keys = %v", p.deleted)
	}
	if _, ok, _ := memStore.Lookup(context.Background(), "hero.png"); ok {
		t.Fatal("expected ledger entry removed")
	}
}

func TestDeleteUploadUnknownFile(t *testing.T) {
	srv, _ := newTestAPIWithProvider(t, &fakeProvider{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/uploads/ghost.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteUploadCleansLedgerWhenObjectAlreadyGone(t *testing.T) {
	p := &fakeProvider{deleteErr: provider.ErrObjectNotFound}
	srv, memStore := newTestAPIWithProvider(t, p)

	err := memStore.Put(context.Background(), domain.UploadRecord{
		FileName:   "stale.png",
		StorageKey: "stale.png",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/uploads/stale.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if _, ok, _ := memStore.Lookup(context.Background(), "stale.png"); ok {
		t.Fatal("expected stale ledger entry removed")
	}
}

func TestDeleteUploadWithoutProvider(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/uploads/x.png", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProviderStats(t *testing.T) {
	p := &fakeProvider{stats: map[string]any{"provider": "fake", "bucket": "media"}}
	srv, _ := newTestAPIWithProvider(t, p)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["bucket"] != "media" {
		t.Fatalf("stats = %v", got)
	}
}

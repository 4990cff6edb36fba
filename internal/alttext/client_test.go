package alttext

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateSynchronous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/images" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q", got)
		}
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Image.URL != "https://cdn.example.com/cat.jpg" {
			t.Errorf("image url = %q", req.Image.URL)
		}
		if req.Keywords != "cat, tabby" {
			t.Errorf("keywords = %q", req.Keywords)
		}
		json.NewEncoder(w).Encode(Result{AltText: "A tabby cat on a windowsill"})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithPollInterval(10*time.Millisecond))
	got, err := c.Generate(context.Background(), "https://cdn.example.com/cat.jpg", "cat, tabby")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "A tabby cat on a windowsill" {
		t.Fatalf("alt text = %q", got)
	}
}

func TestGenerateAsyncPollsUntilComplete(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Result{JobID: "job-42"})
	})
	mux.HandleFunc("/jobs/job-42", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			json.NewEncoder(w).Encode(Result{Status: "processing"})
			return
		}
		json.NewEncoder(w).Encode(Result{Status: "completed", AltText: "A red barn at sunset"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := c.Generate(ctx, "https://cdn.example.com/barn.jpg", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "A red barn at sunset" {
		t.Fatalf("alt text = %q", got)
	}
	if polls != 2 {
		t.Fatalf("polls = %d, want 2", polls)
	}
}

func TestGenerateAsyncJobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Result{JobID: "job-7"})
	})
	mux.HandleFunc("/jobs/job-7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Status: "failed", Error: "unreadable image"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.Generate(ctx, "https://cdn.example.com/bad.jpg", "")
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found is fine", http.StatusNotFound, nil},
		{"ok is fine", http.StatusOK, nil},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient("test-key", WithBaseURL(srv.URL), WithPollInterval(10*time.Millisecond))
			err := c.TestConnection(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateDisabledClient(t *testing.T) {
	c := NewClient("")
	if c.Enabled() {
		t.Fatal("client with empty key should be disabled")
	}
	if _, err := c.Generate(context.Background(), "https://example.com/x.jpg", ""); err == nil {
		t.Fatal("expected error from disabled client")
	}
}

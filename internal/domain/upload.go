package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusSkipped    = "skipped"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile = "local_file"
	SourceTypeRemoteURL = "remote_url"
)

// CreateUploadRequest is the API payload for a single upload job.
type CreateUploadRequest struct {
	SourceType      string `json:"source_type"`
	SourceURL       string `json:"source_url,omitempty"`
	LocalPath       string `json:"local_path,omitempty"`
	Quality         int    `json:"quality,omitempty"`
	MaxWidth        int    `json:"max_width,omitempty"`
	SmartFormat     *bool  `json:"smart_format,omitempty"`
	AddTimestamp    *bool  `json:"add_timestamp,omitempty"`
	GenerateAltText bool   `json:"generate_alt_text,omitempty"`
	AltTextKeywords string `json:"alt_text_keywords,omitempty"`
	WebhookURL      string `json:"webhook_url,omitempty"`
}

// UploadJob tracks one upload through the queue.
type UploadJob struct {
	ID              string
	Status          string
	SourceType      string
	SourceURL       string
	LocalPath       string
	FileName        string
	Quality         int
	MaxWidth        int
	SmartFormat     bool
	AddTimestamp    bool
	GenerateAltText bool
	AltTextKeywords string
	WebhookURL      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r CreateUploadRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeRemoteURL {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.LocalPath) == "" {
		return errors.New("local_path is required for source_type=local_file")
	}
	if sourceType == SourceTypeRemoteURL && strings.TrimSpace(r.SourceURL) == "" {
		return errors.New("source_url is required for source_type=remote_url")
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("quality must be in 1..100, got %d", r.Quality)
	}
	if r.MaxWidth < 0 {
		return fmt.Errorf("max_width must be positive, got %d", r.MaxWidth)
	}
	return nil
}

// IsImageFileName reports whether the name carries one of the image
// extensions the pipeline optimizes.
func IsImageFileName(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

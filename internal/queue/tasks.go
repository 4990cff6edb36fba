package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeUploadImage = "upload:image"

type UploadImagePayload struct {
	JobID           string    `json:"job_id"`
	SourceType      string    `json:"source_type"`
	SourceURL       string    `json:"source_url,omitempty"`
	LocalPath       string    `json:"local_path,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	Quality         int       `json:"quality"`
	MaxWidth        int       `json:"max_width"`
	SmartFormat     bool      `json:"smart_format"`
	AddTimestamp    bool      `json:"add_timestamp"`
	GenerateAltText bool      `json:"generate_alt_text,omitempty"`
	AltTextKeywords string    `json:"alt_text_keywords,omitempty"`
	WebhookURL      string    `json:"webhook_url,omitempty"`
	MappingPath     string    `json:"mapping_path,omitempty"`
	RequestedAt     time.Time `json:"requested_at"`
}

func NewUploadImageTask(payload UploadImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upload payload: %w", err)
	}
	return asynq.NewTask(TypeUploadImage, body), nil
}

func ParseUploadImagePayload(task *asynq.Task) (UploadImagePayload, error) {
	var payload UploadImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return UploadImagePayload{}, fmt.Errorf("unmarshal upload payload: %w", err)
	}
	return payload, nil
}

package domain

import "time"

// UploadRecord is one entry in the idempotent upload ledger, keyed by the
// local file name after optimization.
type UploadRecord struct {
	FileName   string    `json:"file_name"`
	SourceURL  string    `json:"source_url,omitempty"`
	PublicURL  string    `json:"public_url"`
	StorageKey string    `json:"storage_key"`
	Provider   string    `json:"provider"`
	Format     string    `json:"format"`
	ByteSize   int64     `json:"byte_size"`
	AltText    string    `json:"alt_text,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

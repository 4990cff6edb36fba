// Package provider abstracts the storage/CDN backends an optimized image can
// be uploaded to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Delete when the stored object is gone.
var ErrObjectNotFound = errors.New("object not found")

// UploadOptions carries per-upload knobs shared by all providers.
type UploadOptions struct {
	// AddTimestamp appends a unix timestamp to the stored name so repeated
	// uploads of the same file never collide on the CDN.
	AddTimestamp bool
	ContentType  string
}

// UploadResult identifies the stored object and its public address.
type UploadResult struct {
	Key       string
	PublicURL string
}

// Provider is a storage backend for optimized images.
type Provider interface {
	Name() string
	TestConnection(ctx context.Context) error
	Upload(ctx context.Context, localPath, fileName string, opts UploadOptions) (UploadResult, error)
	Delete(ctx context.Context, key string) error
	Stats(ctx context.Context) (map[string]any, error)
}

// StorageKeyName builds the stored object name: lowercased, optionally
// suffixed with a unix timestamp before the extension.
func StorageKeyName(fileName string, addTimestamp bool, now time.Time) string {
	fileName = strings.ToLower(strings.TrimSpace(fileName))
	if !addTimestamp {
		return fileName
	}
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	return fmt.Sprintf("%s_%d%s", base, now.Unix(), ext)
}

// Package source resolves upload inputs: files already present in the local
// image folder, and remote URLs that must be downloaded first.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imageship/internal/domain"
)

// ListLocalImages returns the image files directly inside dir, skipping
// subdirectories and non-image extensions.
func ListLocalImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image folder %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !domain.IsImageFileName(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// Downloader fetches remote images over HTTP. Some origins refuse requests
// without browser-looking headers, so every request carries them.
type Downloader struct {
	httpClient *http.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Download streams the image at sourceURL into destDir and returns the local
// path. The file name is taken from the URL path.
func (d *Downloader) Download(ctx context.Context, sourceURL, destDir string) (string, error) {
	fileName, err := FileNameFromURL(sourceURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: unexpected status %d", sourceURL, resp.StatusCode)
	}

	destPath := filepath.Join(destDir, fileName)
	f, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create download target: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		_ = os.Remove(destPath)
		return "", fmt.Errorf("save %s: %w", sourceURL, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(destPath)
		return "", fmt.Errorf("flush download target: %w", err)
	}

	return destPath, nil
}

// FileNameFromURL extracts the base file name from a URL's path component.
func FileNameFromURL(sourceURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("source url has no file name: %s", sourceURL)
	}
	return name, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dunamismax/imageship/internal/domain"
)

// FileLedger is an UploadLedger persisted as a single JSON file keyed
// by file name. The file is rewritten atomically on every Put so a
// crash mid-write never corrupts the ledger.
type FileLedger struct {
	path    string
	mu      sync.Mutex
	records map[string]domain.UploadRecord
}

// OpenFileLedger loads the ledger at path, creating an empty one if
// the file does not exist yet.
func OpenFileLedger(path string) (*FileLedger, error) {
	l := &FileLedger{
		path:    path,
		records: make(map[string]domain.UploadRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	return l, nil
}

func (l *FileLedger) Lookup(_ context.Context, fileName string) (domain.UploadRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[fileName]
	return rec, ok, nil
}

func (l *FileLedger) Put(_ context.Context, rec domain.UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[rec.FileName] = rec
	return l.persist()
}

func (l *FileLedger) Delete(_ context.Context, fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[fileName]; !ok {
		return nil
	}
	delete(l.records, fileName)
	return l.persist()
}

func (l *FileLedger) List(_ context.Context) ([]domain.UploadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := make([]domain.UploadRecord, 0, len(l.records))
	for _, rec := range l.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UploadedAt.After(records[j].UploadedAt)
	})
	return records, nil
}

// persist writes the map to a sibling temp file and renames it over
// the ledger path. Callers must hold l.mu.
func (l *FileLedger) persist() error {
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Package batch reads lists of source image URLs from CSV files and
// maintains a mapping CSV from source URL to the public URL each image
// landed at after upload.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Mapping is one row of the output mapping CSV.
type Mapping struct {
	SourceURL   string
	PublicURL   string
	MaxWidth    int
	Quality     int
	SmartFormat bool
	AltText     string
}

var mappingHeader = []string{"source_url", "public_url", "max_width", "quality", "smart_format", "alt_text"}

// ReadSourceURLs parses a CSV of source URLs: one URL in the first
// column per row. A header row is skipped, as are blank lines and rows
// whose first cell is empty.
func ReadSourceURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var urls []string
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse source csv: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		cell := strings.TrimSpace(row[0])
		if first {
			first = false
			if !strings.Contains(cell, "://") {
				continue
			}
		}
		if cell == "" {
			continue
		}
		urls = append(urls, cell)
	}
	return urls, nil
}

// MappingFile tracks which source URLs have already been uploaded so a
// batch can be re-run without re-processing finished rows.
type MappingFile struct {
	path     string
	mu       sync.Mutex
	mappings map[string]Mapping
}

// OpenMappingFile loads an existing mapping CSV, or starts empty when
// the file does not exist.
func OpenMappingFile(path string) (*MappingFile, error) {
	m := &MappingFile{
		path:     path,
		mappings: make(map[string]Mapping),
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("open mapping csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse mapping csv: %w", err)
	}
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "source_url" {
			continue
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		mapping := Mapping{SourceURL: row[0], PublicURL: row[1]}
		if len(row) > 2 {
			mapping.MaxWidth, _ = strconv.Atoi(row[2])
		}
		if len(row) > 3 {
			mapping.Quality, _ = strconv.Atoi(row[3])
		}
		if len(row) > 4 {
			mapping.SmartFormat, _ = strconv.ParseBool(row[4])
		}
		if len(row) > 5 {
			mapping.AltText = row[5]
		}
		m.mappings[mapping.SourceURL] = mapping
	}
	return m, nil
}

// Mapped reports whether sourceURL already has a public URL recorded.
func (m *MappingFile) Mapped(sourceURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mappings[sourceURL]
	return ok
}

// Unmapped filters urls down to the ones without a recorded mapping,
// preserving input order.
func (m *MappingFile) Unmapped(urls []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, u := range urls {
		if _, ok := m.mappings[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

// Record appends the mapping as a new CSV row and remembers it in
// memory. Appending through O_APPEND keeps rows written by other
// handles on the same path intact, so concurrent uploads from one
// batch never lose each other's mappings.
func (m *MappingFile) Record(mapping Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open mapping csv: %w", err)
	}

	w := csv.NewWriter(f)
	if info, statErr := f.Stat(); statErr == nil && info.Size() == 0 {
		if err := w.Write(mappingHeader); err != nil {
			f.Close()
			return fmt.Errorf("write mapping header: %w", err)
		}
	}
	row := []string{
		mapping.SourceURL,
		mapping.PublicURL,
		strconv.Itoa(mapping.MaxWidth),
		strconv.Itoa(mapping.Quality),
		strconv.FormatBool(mapping.SmartFormat),
		mapping.AltText,
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("write mapping row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush mapping csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close mapping csv: %w", err)
	}

	m.mappings[mapping.SourceURL] = mapping
	return nil
}

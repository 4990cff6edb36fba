package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/imageship/internal/domain"
)

// MemoryStore implements JobStore and UploadLedger in process memory.
// Used when no Postgres DSN is configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]domain.UploadJob
	records map[string]domain.UploadRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]domain.UploadJob),
		records: make(map[string]domain.UploadRecord),
	}
}

func (s *MemoryStore) Create(_ context.Context, job domain.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.UploadJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id, status string) (domain.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.UploadJob{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryStore) Lookup(_ context.Context, fileName string) (domain.UploadRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fileName]
	return rec, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, rec domain.UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.FileName] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fileName)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.UploadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.UploadRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	return records, nil
}

package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imageship/internal/domain"
)

var ErrJobNotFound = errors.New("upload job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.UploadJob) error
	Get(ctx context.Context, id string) (domain.UploadJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.UploadJob, error)
}

// UploadLedger is the idempotent record of everything already uploaded,
// keyed by local file name. The worker skips files it finds here.
type UploadLedger interface {
	Lookup(ctx context.Context, fileName string) (domain.UploadRecord, bool, error)
	Put(ctx context.Context, record domain.UploadRecord) error
	Delete(ctx context.Context, fileName string) error
	List(ctx context.Context) ([]domain.UploadRecord, error)
}

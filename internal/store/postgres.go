package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/imageship/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS upload_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	quality INT NOT NULL,
	max_width INT NOT NULL,
	smart_format BOOLEAN NOT NULL,
	add_timestamp BOOLEAN NOT NULL,
	generate_alt_text BOOLEAN NOT NULL,
	alt_text_keywords TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS uploads (
	file_name TEXT PRIMARY KEY,
	source_url TEXT NOT NULL DEFAULT '',
	public_url TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	provider TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	byte_size BIGINT NOT NULL DEFAULT 0,
	alt_text TEXT NOT NULL DEFAULT '',
	uploaded_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements both JobStore and UploadLedger on one database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, job domain.UploadJob) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO upload_jobs (
			id, status, source_type, source_url, local_path, file_name,
			quality, max_width, smart_format, add_timestamp,
			generate_alt_text, alt_text_keywords, webhook_url,
			created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID,
		job.Status,
		job.SourceType,
		job.SourceURL,
		job.LocalPath,
		job.FileName,
		job.Quality,
		job.MaxWidth,
		job.SmartFormat,
		job.AddTimestamp,
		job.GenerateAltText,
		job.AltTextKeywords,
		job.WebhookURL,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.UploadJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, source_type, source_url, local_path, file_name,
			quality, max_width, smart_format, add_timestamp,
			generate_alt_text, alt_text_keywords, webhook_url,
			created_at, updated_at
		 FROM upload_jobs
		 WHERE id = $1`,
		id,
	)

	var job domain.UploadJob
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&job.SourceURL,
		&job.LocalPath,
		&job.FileName,
		&job.Quality,
		&job.MaxWidth,
		&job.SmartFormat,
		&job.AddTimestamp,
		&job.GenerateAltText,
		&job.AltTextKeywords,
		&job.WebhookURL,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.UploadJob{}, false, nil
		}
		return domain.UploadJob{}, false, fmt.Errorf("query upload job: %w", err)
	}

	return job, true, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) (domain.UploadJob, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.UploadJob{}, fmt.Errorf("update job status: %w", err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.UploadJob{}, err
	}
	if !ok {
		return domain.UploadJob{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, fileName string) (domain.UploadRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT file_name, source_url, public_url, storage_key, provider,
			format, byte_size, alt_text, uploaded_at
		 FROM uploads
		 WHERE file_name = $1`,
		fileName,
	)

	var rec domain.UploadRecord
	if err := row.Scan(
		&rec.FileName,
		&rec.SourceURL,
		&rec.PublicURL,
		&rec.StorageKey,
		&rec.Provider,
		&rec.Format,
		&rec.ByteSize,
		&rec.AltText,
		&rec.UploadedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.UploadRecord{}, false, nil
		}
		return domain.UploadRecord{}, false, fmt.Errorf("query upload record: %w", err)
	}

	return rec, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec domain.UploadRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO uploads (
			file_name, source_url, public_url, storage_key, provider,
			format, byte_size, alt_text, uploaded_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (file_name) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			public_url = EXCLUDED.public_url,
			storage_key = EXCLUDED.storage_key,
			provider = EXCLUDED.provider,
			format = EXCLUDED.format,
			byte_size = EXCLUDED.byte_size,
			alt_text = EXCLUDED.alt_text,
			uploaded_at = EXCLUDED.uploaded_at`,
		rec.FileName,
		rec.SourceURL,
		rec.PublicURL,
		rec.StorageKey,
		rec.Provider,
		rec.Format,
		rec.ByteSize,
		rec.AltText,
		rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert upload record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, fileName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE file_name = $1`, fileName); err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.UploadRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT file_name, source_url, public_url, storage_key, provider,
			format, byte_size, alt_text, uploaded_at
		 FROM uploads
		 ORDER BY uploaded_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list upload records: %w", err)
	}
	defer rows.Close()

	var records []domain.UploadRecord
	for rows.Next() {
		var rec domain.UploadRecord
		if err := rows.Scan(
			&rec.FileName,
			&rec.SourceURL,
			&rec.PublicURL,
			&rec.StorageKey,
			&rec.Provider,
			&rec.Format,
			&rec.ByteSize,
			&rec.AltText,
			&rec.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan upload record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload records: %w", err)
	}

	return records, nil
}

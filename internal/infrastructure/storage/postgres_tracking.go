package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
)

const trackedFilesSchema = `
CREATE TABLE IF NOT EXISTS tracked_files (
    trial_name        TEXT NOT NULL,
    storage_bucket    TEXT NOT NULL,
    storage_key       TEXT NOT NULL,
    file_name         TEXT NOT NULL,
    content_hash      TEXT NOT NULL DEFAULT '',
    storage_etag      TEXT NOT NULL DEFAULT '',
    file_size         BIGINT NOT NULL DEFAULT 0,
    last_modified     TIMESTAMPTZ,
    processed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status            TEXT NOT NULL,
    error_message     TEXT NOT NULL DEFAULT '',
    analysis_metadata JSONB,
    PRIMARY KEY (storage_bucket, storage_key)
);
CREATE INDEX IF NOT EXISTS tracked_files_trial_idx ON tracked_files (trial_name);
`

var trackedFileColumns = []string{
	"trial_name", "storage_bucket", "storage_key", "file_name", "content_hash",
	"storage_etag", "file_size", "last_modified", "processed_at", "status",
	"error_message", "analysis_metadata",
}

// PostgresTrackingStore persists per-file processing state in Postgres.
type PostgresTrackingStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType

	ready    sync.Once
	readyErr error
}

var _ ports.TrackingStore = (*PostgresTrackingStore)(nil)

// NewPostgresTrackingStore wires a sql.DB implementation.
func NewPostgresTrackingStore(db *sql.DB) *PostgresTrackingStore {
	return &PostgresTrackingStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresTrackingStore) ensureReady(ctx context.Context) error {
	s.ready.Do(func() {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_, s.readyErr = s.db.ExecContext(cctx, trackedFilesSchema)
	})
	if s.readyErr != nil {
		return fmt.Errorf("tracking schema: %w", s.readyErr)
	}
	return nil
}

// GetByKey loads one row by its unique (bucket, key) pair.
func (s *PostgresTrackingStore) GetByKey(ctx context.Context, bucket, key string) (domain.TrackedFile, bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return domain.TrackedFile{}, false, err
	}

	query, args, err := s.selectFiles().
		Where(sq.Eq{"storage_bucket": bucket, "storage_key": key}).
		ToSql()
	if err != nil {
		return domain.TrackedFile{}, false, fmt.Errorf("build query: %w", err)
	}

	file, err := scanTrackedFile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TrackedFile{}, false, nil
	}
	if err != nil {
		return domain.TrackedFile{}, false, fmt.Errorf("get tracked file: %w", err)
	}
	return file, true, nil
}

// GetByTrial returns the trial's rows, optionally narrowed to statuses.
func (s *PostgresTrackingStore) GetByTrial(ctx context.Context, trialName string, statuses ...domain.FileStatus) ([]domain.TrackedFile, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	builder := s.selectFiles().
		Where(sq.Eq{"trial_name": trialName}).
		OrderBy("storage_key")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = string(status)
		}
		builder = builder.Where("status = ANY(?)", pq.StringArray(values))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracked files: %w", err)
	}

	var files []domain.TrackedFile
	for rows.Next() {
		file, err := scanTrackedFile(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan tracked file: %w", err)
		}
		files = append(files, file)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return files, nil
}

// Upsert writes the row keyed on (storage_bucket, storage_key), replacing
// any previous state in place.
func (s *PostgresTrackingStore) Upsert(ctx context.Context, file domain.TrackedFile) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}

	var metadata any
	if file.AnalysisMetadata != nil {
		raw, err := json.Marshal(file.AnalysisMetadata)
		if err != nil {
			return fmt.Errorf("marshal analysis metadata: %w", err)
		}
		metadata = raw
	}

	processedAt := file.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	query, args, err := s.builder.
		Insert("tracked_files").
		Columns(trackedFileColumns...).
		Values(
			file.TrialName, file.StorageBucket, file.StorageKey, file.FileName, file.ContentHash,
			file.StorageETag, file.FileSize, nullableTime(file.LastModified), processedAt, string(file.Status),
			file.ErrorMessage, metadata,
		).
		Suffix(`ON CONFLICT (storage_bucket, storage_key) DO UPDATE SET
            trial_name = EXCLUDED.trial_name,
            file_name = EXCLUDED.file_name,
            content_hash = EXCLUDED.content_hash,
            storage_etag = EXCLUDED.storage_etag,
            file_size = EXCLUDED.file_size,
            last_modified = EXCLUDED.last_modified,
            processed_at = EXCLUDED.processed_at,
            status = EXCLUDED.status,
            error_message = EXCLUDED.error_message,
            analysis_metadata = EXCLUDED.analysis_metadata`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert tracked file: %w", err)
	}
	return nil
}

// DeleteByKey removes one row; deleting an absent row is not an error.
func (s *PostgresTrackingStore) DeleteByKey(ctx context.Context, bucket, key string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}

	query, args, err := s.builder.
		Delete("tracked_files").
		Where(sq.Eq{"storage_bucket": bucket, "storage_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete tracked file: %w", err)
	}
	return nil
}

// ListTrialNames returns the distinct trial names present in the ledger.
func (s *PostgresTrackingStore) ListTrialNames(ctx context.Context) ([]string, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	query, args, err := s.builder.
		Select("DISTINCT trial_name").
		From("tracked_files").
		OrderBy("trial_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trial names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan trial name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return names, nil
}

func (s *PostgresTrackingStore) selectFiles() sq.SelectBuilder {
	return s.builder.Select(trackedFileColumns...).From("tracked_files")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedFile(row rowScanner) (domain.TrackedFile, error) {
	var (
		file         domain.TrackedFile
		status       string
		lastModified sql.NullTime
		metadata     []byte
	)

	err := row.Scan(
		&file.TrialName, &file.StorageBucket, &file.StorageKey, &file.FileName, &file.ContentHash,
		&file.StorageETag, &file.FileSize, &lastModified, &file.ProcessedAt, &status,
		&file.ErrorMessage, &metadata,
	)
	if err != nil {
		return domain.TrackedFile{}, err
	}

	file.Status = domain.FileStatus(status)
	if lastModified.Valid {
		file.LastModified = lastModified.Time
	}
	if len(metadata) > 0 {
		var extract domain.AnalysisMetadata
		if err := json.Unmarshal(metadata, &extract); err != nil {
			return domain.TrackedFile{}, fmt.Errorf("decode analysis metadata: %w", err)
		}
		file.AnalysisMetadata = &extract
	}
	return file, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

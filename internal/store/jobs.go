package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
	"github.com/notesgen/notesgen-be/shared/postgresql"
)

// JobRecordStore durably persists bulk job records. The in-memory tracker is
// authoritative while the process runs; this store only provides
// cross-restart visibility of accepted and finished jobs.
type JobRecordStore struct {
	db *sqlx.DB
}

// NewJobRecordStore creates a JobRecordStore on top of the shared client.
func NewJobRecordStore(pg *postgresql.Client) *JobRecordStore {
	return &JobRecordStore{db: pg.GetDB()}
}

type jobRow struct {
	JobID           string       `db:"job_id"`
	PresentationRef string       `db:"presentation_id"`
	TotalSlides     int          `db:"total_slides"`
	CompletedSlides int          `db:"completed_slides"`
	FailedSlides    int          `db:"failed_slides"`
	Status          string       `db:"status"`
	ErrorLog        []byte       `db:"error_log"`
	CreatedAt       time.Time    `db:"created_at"`
	StartedAt       sql.NullTime `db:"started_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
}

// Save upserts a job record snapshot.
func (s *JobRecordStore) Save(ctx context.Context, record domain.JobRecord) error {
	errorLog, err := json.Marshal(record.ErrorLog)
	if err != nil {
		return fmt.Errorf("failed to marshal error log: %w", err)
	}

	query := `
		INSERT INTO bulk_jobs (
			job_id, presentation_id, total_slides, completed_slides,
			failed_slides, status, error_log, created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (job_id) DO UPDATE
		SET completed_slides = EXCLUDED.completed_slides,
		    failed_slides = EXCLUDED.failed_slides,
		    status = EXCLUDED.status,
		    error_log = EXCLUDED.error_log,
		    started_at = EXCLUDED.started_at,
		    completed_at = EXCLUDED.completed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		record.JobID,
		record.PresentationRef,
		record.TotalSlides,
		record.CompletedSlides,
		record.FailedSlides,
		record.Status,
		errorLog,
		record.CreatedAt,
		nullTime(record.StartedAt),
		nullTime(record.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	return nil
}

// Load reads a persisted job record by id.
func (s *JobRecordStore) Load(ctx context.Context, jobID string) (domain.JobRecord, error) {
	var row jobRow
	query := `
		SELECT job_id, presentation_id, total_slides, completed_slides,
		       failed_slides, status, error_log, created_at, started_at, completed_at
		FROM bulk_jobs
		WHERE job_id = $1
	`
	err := s.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JobRecord{}, domain.ErrJobNotFound
		}
		return domain.JobRecord{}, fmt.Errorf("failed to load job record: %w", err)
	}

	record := domain.JobRecord{
		JobID:           row.JobID,
		PresentationRef: row.PresentationRef,
		TotalSlides:     row.TotalSlides,
		CompletedSlides: row.CompletedSlides,
		FailedSlides:    row.FailedSlides,
		Status:          row.Status,
		CreatedAt:       row.CreatedAt,
	}
	if len(row.ErrorLog) > 0 {
		if err := json.Unmarshal(row.ErrorLog, &record.ErrorLog); err != nil {
			return domain.JobRecord{}, fmt.Errorf("failed to unmarshal error log: %w", err)
		}
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		record.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		record.CompletedAt = &t
	}
	return record, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

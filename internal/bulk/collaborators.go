package bulk

import (
	"context"
	"time"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
	"github.com/notesgen/notesgen-be/internal/notes"
)

// SlideStore resolves presentation references and persists generated notes.
// Implementations map an unknown presentation to domain.ErrPresentationNotFound.
type SlideStore interface {
	SlideCount(ctx context.Context, presentationRef string) (int, error)
	SlideContent(ctx context.Context, presentationRef string, slideIndex int) (notes.SlideContent, error)
	PersistGeneratedNotes(ctx context.Context, presentationRef string, slideIndex int, generated notes.GeneratedNotes) error
}

// JobStore durably persists job records across restarts. The in-memory
// tracker stays authoritative for a running process; store failures are
// logged and never fail the job.
type JobStore interface {
	Save(ctx context.Context, record domain.JobRecord) error
	Load(ctx context.Context, jobID string) (domain.JobRecord, error)
}

// JobEvent is a lifecycle notification published when a job starts and when
// it reaches a terminal status.
type JobEvent struct {
	Type            string    `json:"type"`
	JobID           string    `json:"job_id"`
	PresentationRef string    `json:"presentation_ref"`
	Status          string    `json:"status"`
	TotalSlides     int       `json:"total_slides"`
	CompletedSlides int       `json:"completed_slides"`
	FailedSlides    int       `json:"failed_slides"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Job event types.
const (
	JobEventStarted  = "bulk_job.started"
	JobEventFinished = "bulk_job.finished"
)

// EventPublisher forwards job lifecycle events to external consumers.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
}

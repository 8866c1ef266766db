package bulk

import (
	"context"
	"log/slog"
	"time"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
)

// ProgressEvent is one snapshot pushed to a streaming subscriber.
type ProgressEvent struct {
	JobID                 string     `json:"job_id"`
	Status                string     `json:"status"`
	TotalSlides           int        `json:"total_slides"`
	CompletedSlides       int        `json:"completed_slides"`
	FailedSlides          int        `json:"failed_slides"`
	ProgressPercent       float64    `json:"progress_percent"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`
	HasErrors             bool       `json:"has_errors"`
	Final                 bool       `json:"final"`
}

// Gateway translates point-in-time tracker snapshots into a push sequence
// for one subscriber by re-querying on a fixed interval.
type Gateway struct {
	logger   *slog.Logger
	tracker  *Tracker
	interval time.Duration
}

// NewGateway creates a gateway polling the tracker every interval.
func NewGateway(logger *slog.Logger, tracker *Tracker, interval time.Duration) *Gateway {
	if interval <= 0 {
		interval = time.Second
	}
	return &Gateway{
		logger:   logger,
		tracker:  tracker,
		interval: interval,
	}
}

// Stream emits one snapshot immediately and then one per poll interval until
// the job reaches a terminal status, the job disappears from the tracker, or
// ctx is done. The terminal snapshot carries Final=true. A vanished job is
// reported as domain.ErrJobNotFound so the transport can emit an error event
// before closing.
func (g *Gateway) Stream(ctx context.Context, jobID string, send func(ProgressEvent) error) error {
	emit := func() (done bool, err error) {
		record, err := g.tracker.Get(jobID)
		if err != nil {
			return true, err
		}

		event := snapshotEvent(record)
		if err := send(event); err != nil {
			return true, err
		}
		return event.Final, nil
	}

	if done, err := emit(); done || err != nil {
		return err
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("Progress stream subscriber disconnected",
				slog.String("job_id", jobID),
			)
			return ctx.Err()
		case <-ticker.C:
			if done, err := emit(); done || err != nil {
				return err
			}
		}
	}
}

func snapshotEvent(record domain.JobRecord) ProgressEvent {
	return ProgressEvent{
		JobID:                 record.JobID,
		Status:                record.Status,
		TotalSlides:           record.TotalSlides,
		CompletedSlides:       record.CompletedSlides,
		FailedSlides:          record.FailedSlides,
		ProgressPercent:       record.ProgressPercent(),
		EstimatedCompletionAt: record.EstimatedCompletionAt,
		HasErrors:             record.FailedSlides > 0,
		Final:                 record.IsTerminal(),
	}
}

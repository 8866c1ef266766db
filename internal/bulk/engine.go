package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
	"github.com/notesgen/notesgen-be/internal/notes"
)

const defaultPreStartSecondsPerSlide = 3

// EngineConfig holds engine tuning knobs and collaborators.
type EngineConfig struct {
	Logger    *slog.Logger
	Tracker   *Tracker
	Slides    SlideStore
	Generator notes.Generator

	// JobStore and Events are optional; nil disables durability and
	// lifecycle events respectively.
	JobStore JobStore
	Events   EventPublisher

	// Concurrency bounds simultaneous in-flight generator calls per job.
	Concurrency int
	// SlideTimeout bounds each generator call.
	SlideTimeout time.Duration
	// ErrorLogCap bounds stored error entries per job; <= 0 means unbounded.
	ErrorLogCap int
	// PreStartSecondsPerSlide seeds the flat estimate returned before any
	// slide has completed. Defaults to 3.
	PreStartSecondsPerSlide int
	// ModelPreference is passed through to the generator.
	ModelPreference string
}

// Engine orchestrates bulk notes generation: one background goroutine per
// job, bounded per-slide concurrency, partial-failure tolerance and
// cooperative cancellation.
type Engine struct {
	logger    *slog.Logger
	tracker   *Tracker
	slides    SlideStore
	generator notes.Generator
	jobStore  JobStore
	events    EventPublisher

	concurrency      int
	slideTimeout     time.Duration
	errorLogCap      int
	preStartPerSlide time.Duration
	modelPreference  string

	baseCtx  context.Context
	baseStop context.CancelFunc
	wg       sync.WaitGroup

	cancelMu sync.Mutex
	cancels  map[string]chan struct{}
}

// NewEngine creates an engine. Call Stop to drain background jobs on
// shutdown.
func NewEngine(cfg *EngineConfig) *Engine {
	preStart := cfg.PreStartSecondsPerSlide
	if preStart <= 0 {
		preStart = defaultPreStartSecondsPerSlide
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		logger:           cfg.Logger,
		tracker:          cfg.Tracker,
		slides:           cfg.Slides,
		generator:        cfg.Generator,
		jobStore:         cfg.JobStore,
		events:           cfg.Events,
		concurrency:      concurrency,
		slideTimeout:     cfg.SlideTimeout,
		errorLogCap:      cfg.ErrorLogCap,
		preStartPerSlide: time.Duration(preStart) * time.Second,
		modelPreference:  cfg.ModelPreference,
		baseCtx:          ctx,
		baseStop:         stop,
		cancels:          make(map[string]chan struct{}),
	}
}

// StartResult is returned to the caller as soon as a bulk job is accepted.
type StartResult struct {
	JobID                string
	TotalSlides          int
	EstimatedTimeSeconds int
}

// StartBulkProcessing validates the presentation, registers a pending job
// record and schedules the background routine. It returns before any slide
// work has started.
func (e *Engine) StartBulkProcessing(ctx context.Context, presentationRef string) (StartResult, error) {
	count, err := e.slides.SlideCount(ctx, presentationRef)
	if err != nil {
		return StartResult{}, fmt.Errorf("resolve presentation %q: %w", presentationRef, err)
	}
	if count <= 0 {
		return StartResult{}, domain.ErrEmptyPresentation
	}

	jobID := uuid.New().String()
	record := domain.NewJobRecord(jobID, presentationRef, count)

	if err := e.tracker.Register(record); err != nil {
		// UUID collisions should not happen; favor status availability and
		// report the job as not started.
		return StartResult{}, fmt.Errorf("register job: %w", err)
	}

	e.saveRecord(record.Clone())

	cancelCh := make(chan struct{})
	e.cancelMu.Lock()
	e.cancels[jobID] = cancelCh
	e.cancelMu.Unlock()

	e.logger.Info("Bulk job accepted",
		slog.String("job_id", jobID),
		slog.String("presentation_ref", presentationRef),
		slog.Int("total_slides", count),
	)

	e.wg.Add(1)
	go e.runJob(jobID, presentationRef, count, cancelCh)

	return StartResult{
		JobID:                jobID,
		TotalSlides:          count,
		EstimatedTimeSeconds: count * int(e.preStartPerSlide/time.Second),
	}, nil
}

// GetJobStatus returns a snapshot of the job record.
func (e *Engine) GetJobStatus(jobID string) (domain.JobRecord, error) {
	return e.tracker.Get(jobID)
}

// ListJobs returns job snapshots, newest first.
func (e *Engine) ListJobs(limit int, status string) []domain.JobRecord {
	return e.tracker.List(limit, status)
}

// CancelJob requests cooperative cancellation. The flag is recorded
// immediately; in-flight slide units finish naturally and no new units are
// dispatched afterwards. Terminal jobs report domain.ErrInvalidJobState.
func (e *Engine) CancelJob(jobID string) error {
	record, err := e.tracker.Get(jobID)
	if err != nil {
		return err
	}
	if record.IsTerminal() {
		return domain.ErrInvalidJobState
	}

	e.cancelMu.Lock()
	cancelCh, ok := e.cancels[jobID]
	if ok {
		delete(e.cancels, jobID)
	}
	e.cancelMu.Unlock()

	if ok {
		close(cancelCh)
	}

	// A job cancelled before the worker claims it transitions straight from
	// pending to cancelled; the worker's claim is dropped by the freeze.
	if record.Status == domain.JobStatusPending {
		e.tracker.Update(jobID, func(rec *domain.JobRecord) {
			now := time.Now()
			rec.Status = domain.JobStatusCancelled
			rec.CompletedAt = &now
		})
	}

	e.logger.Info("Bulk job cancellation requested",
		slog.String("job_id", jobID),
		slog.String("status", record.Status),
	)
	return nil
}

// Stop cancels in-flight slide work and waits for all background routines to
// record their terminal status.
func (e *Engine) Stop() {
	e.baseStop()
	e.wg.Wait()
}

// runJob is the background routine for one job. It runs to completion or
// cancellation and always leaves the record in a terminal status.
func (e *Engine) runJob(jobID, presentationRef string, totalSlides int, cancelCh <-chan struct{}) {
	defer e.wg.Done()
	defer e.clearCancel(jobID)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Bulk job routine panicked",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
			e.tracker.Update(jobID, func(rec *domain.JobRecord) {
				now := time.Now()
				rec.RecordFailure(0, fmt.Sprintf("processing aborted: %v", r), e.errorLogCap)
				rec.Status = domain.JobStatusFailed
				rec.CompletedAt = &now
			})
			e.finishJob(jobID)
		}
	}()

	startedAt := time.Now()
	e.tracker.Update(jobID, func(rec *domain.JobRecord) {
		rec.Status = domain.JobStatusProcessing
		rec.StartedAt = &startedAt
		eta := startedAt.Add(time.Duration(totalSlides) * e.preStartPerSlide)
		rec.EstimatedCompletionAt = &eta
	})

	e.publishEvent(JobEventStarted, jobID)

	sem := semaphore.NewWeighted(int64(e.concurrency))
	var units sync.WaitGroup
	cancelled := false

dispatch:
	for idx := 1; idx <= totalSlides; idx++ {
		select {
		case <-cancelCh:
			cancelled = true
			break dispatch
		case <-e.baseCtx.Done():
			cancelled = true
			break dispatch
		default:
		}

		if err := sem.Acquire(e.baseCtx, 1); err != nil {
			cancelled = true
			break dispatch
		}

		units.Add(1)
		go func(slideIndex int) {
			defer units.Done()
			defer sem.Release(1)
			e.processSlide(jobID, presentationRef, slideIndex, startedAt)
		}(idx)
	}

	// In-flight units finish naturally; their outcomes are recorded before
	// the terminal transition.
	units.Wait()

	e.tracker.Update(jobID, func(rec *domain.JobRecord) {
		now := time.Now()
		switch {
		case cancelled:
			rec.Status = domain.JobStatusCancelled
		case rec.FailedSlides == rec.TotalSlides:
			rec.Status = domain.JobStatusFailed
		default:
			rec.Status = domain.JobStatusCompleted
		}
		rec.CompletedAt = &now
		rec.EstimatedCompletionAt = nil
	})

	e.finishJob(jobID)
}

// processSlide runs one slide unit: fetch content, generate notes, persist,
// and record the outcome. Failures never abort the batch.
func (e *Engine) processSlide(jobID, presentationRef string, slideIndex int, startedAt time.Time) {
	ctx, cancel := context.WithTimeout(e.baseCtx, e.slideTimeout)
	defer cancel()

	outcome := func() (err error) {
		// A panicking slide unit is a failed slide, never a crashed job.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("slide unit panicked: %v", r)
			}
		}()
		return e.generateAndPersist(ctx, presentationRef, slideIndex)
	}()

	e.tracker.Update(jobID, func(rec *domain.JobRecord) {
		if outcome == nil {
			rec.RecordSuccess()
		} else {
			rec.RecordFailure(slideIndex, outcome.Error(), e.errorLogCap)
		}
		e.recomputeEstimate(rec, startedAt)
	})

	if outcome != nil {
		e.logger.Warn("Slide unit failed",
			slog.String("job_id", jobID),
			slog.Int("slide_index", slideIndex),
			slog.String("error", outcome.Error()),
		)
	}
}

func (e *Engine) generateAndPersist(ctx context.Context, presentationRef string, slideIndex int) error {
	content, err := e.slides.SlideContent(ctx, presentationRef, slideIndex)
	if err != nil {
		return fmt.Errorf("load slide content: %w", err)
	}

	generated, err := e.generator.Generate(ctx, content, e.modelPreference)
	if err != nil {
		if errors.Is(err, notes.ErrGenerationTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("generation timed out after %s", e.slideTimeout)
		}
		return err
	}

	if err := e.slides.PersistGeneratedNotes(ctx, presentationRef, slideIndex, generated); err != nil {
		return fmt.Errorf("persist generated notes: %w", err)
	}
	return nil
}

// recomputeEstimate derives the ETA from the observed average per completed
// slide. Called under the job's lock while the status is processing.
func (e *Engine) recomputeEstimate(rec *domain.JobRecord, startedAt time.Time) {
	if rec.CompletedSlides == 0 {
		return
	}
	remaining := rec.TotalSlides - rec.AttemptedSlides()
	if remaining <= 0 {
		return
	}
	avg := time.Since(startedAt) / time.Duration(rec.CompletedSlides)
	eta := time.Now().Add(time.Duration(remaining) * avg)
	rec.EstimatedCompletionAt = &eta
}

// finishJob persists and announces the terminal record.
func (e *Engine) finishJob(jobID string) {
	record, err := e.tracker.Get(jobID)
	if err != nil {
		return
	}

	e.saveRecord(record)
	e.publishEvent(JobEventFinished, jobID)

	e.logger.Info("Bulk job finished",
		slog.String("job_id", jobID),
		slog.String("status", record.Status),
		slog.Int("completed_slides", record.CompletedSlides),
		slog.Int("failed_slides", record.FailedSlides),
	)
}

func (e *Engine) clearCancel(jobID string) {
	e.cancelMu.Lock()
	delete(e.cancels, jobID)
	e.cancelMu.Unlock()
}

func (e *Engine) saveRecord(record domain.JobRecord) {
	if e.jobStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.jobStore.Save(ctx, record); err != nil {
		e.logger.Warn("Failed to persist job record",
			slog.String("job_id", record.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publishEvent(eventType, jobID string) {
	if e.events == nil {
		return
	}
	record, err := e.tracker.Get(jobID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := JobEvent{
		Type:            eventType,
		JobID:           record.JobID,
		PresentationRef: record.PresentationRef,
		Status:          record.Status,
		TotalSlides:     record.TotalSlides,
		CompletedSlides: record.CompletedSlides,
		FailedSlides:    record.FailedSlides,
		OccurredAt:      time.Now(),
	}
	if err := e.events.PublishJobEvent(ctx, event); err != nil {
		e.logger.Warn("Failed to publish job event",
			slog.String("job_id", jobID),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

package bulk

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
)

// Tracker is the in-process registry of bulk job records. It is the single
// source of truth for job status within a running service. Each record is
// guarded by its own mutex so unrelated jobs never contend; the registry
// lock only covers map access.
type Tracker struct {
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*trackedJob
}

type trackedJob struct {
	mu     sync.Mutex
	record *domain.JobRecord
}

// NewTracker creates an empty tracker. Trackers are constructed and injected,
// never shared as package state, so tests can run several side by side.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		jobs:   make(map[string]*trackedJob),
	}
}

// Register inserts a new job record keyed by its job id.
func (t *Tracker) Register(record *domain.JobRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.jobs[record.JobID]; exists {
		return domain.ErrDuplicateJob
	}
	t.jobs[record.JobID] = &trackedJob{record: record}
	return nil
}

// Get returns a point-in-time snapshot of a job record.
func (t *Tracker) Get(jobID string) (domain.JobRecord, error) {
	t.mu.RLock()
	entry, ok := t.jobs[jobID]
	t.mu.RUnlock()

	if !ok {
		return domain.JobRecord{}, domain.ErrJobNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.record.Clone(), nil
}

// Update applies a serialized mutation to a job's record. Unknown job ids are
// logged and ignored so a mutation racing a removal never crashes the worker.
// Records in a terminal status are frozen: the mutation is dropped.
func (t *Tracker) Update(jobID string, mutate func(*domain.JobRecord)) {
	t.mu.RLock()
	entry, ok := t.jobs[jobID]
	t.mu.RUnlock()

	if !ok {
		t.logger.Warn("Update for unknown job ignored",
			slog.String("job_id", jobID),
		)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.record.IsTerminal() {
		t.logger.Warn("Update for terminal job ignored",
			slog.String("job_id", jobID),
			slog.String("status", entry.record.Status),
		)
		return
	}

	mutate(entry.record)
}

// Remove drops a job from the registry. Only needed to bound memory once a
// terminal status has been observed by the client.
func (t *Tracker) Remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

// List returns snapshots of tracked jobs, newest first, optionally filtered
// by status and truncated to limit. A limit <= 0 returns all matches.
func (t *Tracker) List(limit int, status string) []domain.JobRecord {
	t.mu.RLock()
	entries := make([]*trackedJob, 0, len(t.jobs))
	for _, entry := range t.jobs {
		entries = append(entries, entry)
	}
	t.mu.RUnlock()

	records := make([]domain.JobRecord, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		rec := entry.record.Clone()
		entry.mu.Unlock()

		if status != "" && rec.Status != status {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].JobID > records[j].JobID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

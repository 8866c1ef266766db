package domain

import (
	"math"
	"time"
)

// Job status values. completed, failed and cancelled are terminal.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// SlideError is one entry of a job's append-only error log.
type SlideError struct {
	SlideIndex int       `json:"slide_index"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// JobRecord captures one bulk notes-generation run: its identity, the
// presentation it covers, and the mutable progress state maintained by the
// background worker. All mutation goes through the tracker's serialized
// update path; readers only ever see value snapshots.
type JobRecord struct {
	JobID           string `json:"job_id"`
	PresentationRef string `json:"presentation_ref"`

	TotalSlides     int `json:"total_slides"`
	CompletedSlides int `json:"completed_slides"`
	FailedSlides    int `json:"failed_slides"`

	Status   string       `json:"status"`
	ErrorLog []SlideError `json:"error_log,omitempty"`
	// ErrorLogTruncated counts failures whose log entries were dropped once
	// the per-job cap was reached. FailedSlides stays accurate regardless.
	ErrorLogTruncated int `json:"error_log_truncated,omitempty"`

	CreatedAt             time.Time  `json:"created_at"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`
}

// NewJobRecord creates a pending record for a presentation with the given
// slide count.
func NewJobRecord(jobID, presentationRef string, totalSlides int) *JobRecord {
	return &JobRecord{
		JobID:           jobID,
		PresentationRef: presentationRef,
		TotalSlides:     totalSlides,
		Status:          JobStatusPending,
		CreatedAt:       time.Now(),
	}
}

// IsTerminal reports whether the record has reached a final status.
func (j *JobRecord) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AttemptedSlides is the number of slides with a recorded outcome.
func (j *JobRecord) AttemptedSlides() int {
	return j.CompletedSlides + j.FailedSlides
}

// ProgressPercent is completed/total as a percentage, one decimal place.
func (j *JobRecord) ProgressPercent() float64 {
	if j.TotalSlides <= 0 {
		return 0
	}
	p := float64(j.CompletedSlides) / float64(j.TotalSlides) * 100
	return math.Round(p*10) / 10
}

// SuccessRate is completed/attempted as a percentage, one decimal place.
// Zero while no slide has finished.
func (j *JobRecord) SuccessRate() float64 {
	attempted := j.AttemptedSlides()
	if attempted == 0 {
		return 0
	}
	r := float64(j.CompletedSlides) / float64(attempted) * 100
	return math.Round(r*10) / 10
}

// RecordSuccess registers one successfully generated slide.
func (j *JobRecord) RecordSuccess() {
	j.CompletedSlides++
}

// RecordFailure registers one failed slide and appends to the error log,
// dropping the entry (but never the count) once the cap is reached.
// A cap <= 0 means unbounded.
func (j *JobRecord) RecordFailure(slideIndex int, reason string, logCap int) {
	j.FailedSlides++
	if logCap > 0 && len(j.ErrorLog) >= logCap {
		j.ErrorLogTruncated++
		return
	}
	j.ErrorLog = append(j.ErrorLog, SlideError{
		SlideIndex: slideIndex,
		Reason:     reason,
		OccurredAt: time.Now(),
	})
}

// Clone returns an independent copy of the record. The error log is copied
// so callers can hold the snapshot without racing the worker.
func (j *JobRecord) Clone() JobRecord {
	c := *j
	if j.ErrorLog != nil {
		c.ErrorLog = make([]SlideError, len(j.ErrorLog))
		copy(c.ErrorLog, j.ErrorLog)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.EstimatedCompletionAt != nil {
		t := *j.EstimatedCompletionAt
		c.EstimatedCompletionAt = &t
	}
	return c
}

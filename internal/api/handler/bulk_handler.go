package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/notesgen/notesgen-be/internal/api/dto"
	"github.com/notesgen/notesgen-be/internal/bulk"
	"github.com/notesgen/notesgen-be/internal/bulk/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// StartBulkGeneration handles POST /api/v1/presentations/:presentation_id/notes/bulk
// Accepts a bulk generation job and returns immediately with 202.
func (h *BulkHandler) StartBulkGeneration(c *gin.Context) {
	presentationID := c.Param("presentation_id")
	if presentationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "presentation_id is required",
		})
		return
	}

	h.logger.Info("StartBulkGeneration called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("presentation_id", presentationID),
	)

	result, err := h.engine.StartBulkProcessing(c.Request.Context(), presentationID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPresentationNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "presentation not found",
			})
		case errors.Is(err, domain.ErrEmptyPresentation):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "presentation has no slides",
			})
		default:
			h.logger.Error("Failed to start bulk generation", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to start bulk generation",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.StartBulkResponse{
		JobID:                result.JobID,
		PresentationID:       presentationID,
		TotalSlides:          result.TotalSlides,
		Status:               domain.JobStatusPending,
		EstimatedTimeSeconds: result.EstimatedTimeSeconds,
	})
}

// GetBulkStatus handles GET /api/v1/bulk-jobs/:job_id
// Returns a point-in-time snapshot of the job record.
func (h *BulkHandler) GetBulkStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	record, err := h.engine.GetJobStatus(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job status",
		})
		return
	}

	c.JSON(http.StatusOK, toJobStatusResponse(record))
}

// ListBulkJobs handles GET /api/v1/bulk-jobs
// Lists tracked jobs, newest first, with optional status filtering.
func (h *BulkHandler) ListBulkJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}

	records := h.engine.ListJobs(req.Limit, req.Status)

	jobs := make([]dto.JobSummaryDTO, len(records))
	for i, record := range records {
		jobs[i] = dto.JobSummaryDTO{
			JobID:           record.JobID,
			PresentationID:  record.PresentationRef,
			Status:          record.Status,
			TotalSlides:     record.TotalSlides,
			ProgressPercent: record.ProgressPercent(),
			CreatedAt:       record.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobs})
}

// CancelBulkJob handles DELETE /api/v1/bulk-jobs/:job_id
// Requests cooperative cancellation of a non-terminal job.
func (h *BulkHandler) CancelBulkJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("CancelBulkJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if err := h.engine.CancelJob(jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
		case errors.Is(err, domain.ErrInvalidJobState):
			c.JSON(http.StatusConflict, gin.H{
				"error": "job is already in a terminal state",
			})
		default:
			h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		JobID:  jobID,
		Status: domain.JobStatusCancelled,
	})
}

// StreamProgress handles GET /api/v1/bulk-jobs/:job_id/stream
// Pushes progress snapshots over Server-Sent Events until the job reaches a
// terminal status or the client disconnects.
func (h *BulkHandler) StreamProgress(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := h.engine.GetJobStatus(jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job status",
		})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	err := h.gateway.Stream(c.Request.Context(), jobID, func(event bulk.ProgressEvent) error {
		c.SSEvent("progress", event)
		c.Writer.Flush()
		return nil
	})
	if err != nil && errors.Is(err, domain.ErrJobNotFound) {
		// The job was evicted mid-stream; tell the subscriber before closing.
		c.SSEvent("error", gin.H{"error": "job no longer tracked"})
		c.Writer.Flush()
	}
}

func toJobStatusResponse(record domain.JobRecord) dto.JobStatusResponse {
	errs := make([]dto.SlideErrorDTO, len(record.ErrorLog))
	for i, e := range record.ErrorLog {
		errs[i] = dto.SlideErrorDTO{
			SlideIndex: e.SlideIndex,
			Reason:     e.Reason,
			OccurredAt: e.OccurredAt.Format(time.RFC3339),
		}
	}

	return dto.JobStatusResponse{
		JobID:                 record.JobID,
		PresentationID:        record.PresentationRef,
		Status:                record.Status,
		TotalSlides:           record.TotalSlides,
		CompletedSlides:       record.CompletedSlides,
		FailedSlides:          record.FailedSlides,
		ProgressPercent:       record.ProgressPercent(),
		SuccessRate:           record.SuccessRate(),
		Errors:                errs,
		ErrorsTruncated:       record.ErrorLogTruncated > 0,
		CreatedAt:             record.CreatedAt.Format(time.RFC3339),
		StartedAt:             formatTimePtr(record.StartedAt),
		CompletedAt:           formatTimePtr(record.CompletedAt),
		EstimatedCompletionAt: formatTimePtr(record.EstimatedCompletionAt),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

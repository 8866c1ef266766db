package dto

type StartBulkResponse struct {
	JobID                string `json:"job_id"`
	PresentationID       string `json:"presentation_id"`
	TotalSlides          int    `json:"total_slides"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

type ListJobsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

type ListJobsResponse struct {
	Jobs []JobSummaryDTO `json:"jobs"`
}

type JobSummaryDTO struct {
	JobID           string  `json:"job_id"`
	PresentationID  string  `json:"presentation_id"`
	Status          string  `json:"status"`
	TotalSlides     int     `json:"total_slides"`
	ProgressPercent float64 `json:"progress_percent"`
	CreatedAt       string  `json:"created_at"`
}

type SlideErrorDTO struct {
	SlideIndex int    `json:"slide_index"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

type JobStatusResponse struct {
	JobID                 string          `json:"job_id"`
	PresentationID        string          `json:"presentation_id"`
	Status                string          `json:"status"`
	TotalSlides           int             `json:"total_slides"`
	CompletedSlides       int             `json:"completed_slides"`
	FailedSlides          int             `json:"failed_slides"`
	ProgressPercent       float64         `json:"progress_percent"`
	SuccessRate           float64         `json:"success_rate"`
	Errors                []SlideErrorDTO `json:"errors"`
	ErrorsTruncated       bool            `json:"errors_truncated"`
	CreatedAt             string          `json:"created_at"`
	StartedAt             *string         `json:"started_at,omitempty"`
	CompletedAt           *string         `json:"completed_at,omitempty"`
	EstimatedCompletionAt *string         `json:"estimated_completion_at,omitempty"`
}

type CancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

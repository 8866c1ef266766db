package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id is not in the tracker.
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when registering a job id that already
	// exists. Should not occur with UUID job ids.
	ErrDuplicateJob = errors.New("job already registered")

	// ErrInvalidJobState is returned when an operation is not valid for the
	// job's current status, e.g. cancelling a terminal job.
	ErrInvalidJobState = errors.New("job is not in a cancellable state")

	// ErrPresentationNotFound is returned when the presentation reference
	// cannot be resolved by the slide store.
	ErrPresentationNotFound = errors.New("presentation not found")

	// ErrEmptyPresentation is returned when a bulk run is requested for a
	// presentation with zero slides.
	ErrEmptyPresentation = errors.New("presentation has no slides")
)

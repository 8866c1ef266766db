package notes

import "errors"

// SlideContent is the per-slide source material the generator builds its
// prompt from.
type SlideContent struct {
	SlideIndex int    `json:"slide_index"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// GeneratedNotes is the AI-authored speaker-note content for one slide.
type GeneratedNotes struct {
	Notes   string `json:"notes"`
	Summary string `json:"summary"`
	Model   string `json:"model"`
}

var (
	// ErrGeneration is returned when the generator produced an error response.
	ErrGeneration = errors.New("note generation failed")

	// ErrGenerationTimeout is returned when a generation call exceeded its
	// per-slide deadline.
	ErrGenerationTimeout = errors.New("note generation timed out")
)

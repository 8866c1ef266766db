package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
	"github.com/notesgen/notesgen-be/internal/notes"
	"github.com/notesgen/notesgen-be/shared/postgresql"
)

// SlideStore resolves presentations and slides from PostgreSQL and persists
// generated speaker notes.
type SlideStore struct {
	db *sqlx.DB
}

// NewSlideStore creates a SlideStore on top of the shared client.
func NewSlideStore(pg *postgresql.Client) *SlideStore {
	return &SlideStore{db: pg.GetDB()}
}

// SlideCount returns the number of slides in a presentation, or
// domain.ErrPresentationNotFound for an unknown reference.
func (s *SlideStore) SlideCount(ctx context.Context, presentationRef string) (int, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM presentations WHERE id = $1)`, presentationRef)
	if err != nil {
		return 0, fmt.Errorf("failed to check presentation: %w", err)
	}
	if !exists {
		return 0, domain.ErrPresentationNotFound
	}

	var count int
	err = s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM slides WHERE presentation_id = $1`, presentationRef)
	if err != nil {
		return 0, fmt.Errorf("failed to count slides: %w", err)
	}
	return count, nil
}

// SlideContent loads the source text of one slide for prompt construction.
func (s *SlideStore) SlideContent(ctx context.Context, presentationRef string, slideIndex int) (notes.SlideContent, error) {
	var row struct {
		Title string `db:"title"`
		Body  string `db:"body_text"`
	}

	query := `
		SELECT COALESCE(title, '') AS title, COALESCE(body_text, '') AS body_text
		FROM slides
		WHERE presentation_id = $1 AND slide_index = $2
	`
	err := s.db.GetContext(ctx, &row, query, presentationRef, slideIndex)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notes.SlideContent{}, fmt.Errorf("slide %d: %w", slideIndex, domain.ErrPresentationNotFound)
		}
		return notes.SlideContent{}, fmt.Errorf("failed to load slide content: %w", err)
	}

	return notes.SlideContent{
		SlideIndex: slideIndex,
		Title:      row.Title,
		Body:       row.Body,
	}, nil
}

// PersistGeneratedNotes upserts the AI notes for one slide.
func (s *SlideStore) PersistGeneratedNotes(ctx context.Context, presentationRef string, slideIndex int, generated notes.GeneratedNotes) error {
	query := `
		INSERT INTO slide_notes (
			presentation_id, slide_index, notes, summary, model, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (presentation_id, slide_index) DO UPDATE
		SET notes = EXCLUDED.notes,
		    summary = EXCLUDED.summary,
		    model = EXCLUDED.model,
		    generated_at = EXCLUDED.generated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		presentationRef,
		slideIndex,
		generated.Notes,
		generated.Summary,
		generated.Model,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist generated notes: %w", err)
	}
	return nil
}

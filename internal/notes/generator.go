package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Generator produces speaker notes for a single slide. Implementations must
// be safe for concurrent use up to the engine's concurrency limit and must
// honor the deadline on ctx.
type Generator interface {
	Generate(ctx context.Context, content SlideContent, modelPreference string) (GeneratedNotes, error)
}

// HTTPGeneratorConfig holds settings for the HTTP note generator.
type HTTPGeneratorConfig struct {
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
	// Client is optional; http.DefaultClient is used when nil. Timeouts are
	// driven by the caller's context, not the client.
	Client *http.Client
}

// HTTPGenerator calls an external AI endpoint to author speaker notes.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPGenerator creates a generator client for the configured endpoint.
func NewHTTPGenerator(cfg *HTTPGeneratorConfig) *HTTPGenerator {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGenerator{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  cfg.Logger,
	}
}

type generateRequest struct {
	SlideIndex int    `json:"slide_index"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Model      string `json:"model,omitempty"`
}

type generateResponse struct {
	Notes   string `json:"notes"`
	Summary string `json:"summary"`
	Model   string `json:"model"`
	Error   string `json:"error,omitempty"`
}

// Generate posts the slide content to the generation endpoint and decodes the
// authored notes. Deadline expiry is reported as ErrGenerationTimeout, any
// other failure as ErrGeneration.
func (g *HTTPGenerator) Generate(ctx context.Context, content SlideContent, modelPreference string) (GeneratedNotes, error) {
	body, err := json.Marshal(generateRequest{
		SlideIndex: content.SlideIndex,
		Title:      content.Title,
		Body:       content.Body,
		Model:      modelPreference,
	})
	if err != nil {
		return GeneratedNotes{}, fmt.Errorf("%w: encode request: %v", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/notes", bytes.NewReader(body))
	if err != nil {
		return GeneratedNotes{}, fmt.Errorf("%w: build request: %v", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return GeneratedNotes{}, fmt.Errorf("%w: slide %d", ErrGenerationTimeout, content.SlideIndex)
		}
		return GeneratedNotes{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Warn("Generator returned non-OK status",
			slog.Int("status", resp.StatusCode),
			slog.Int("slide_index", content.SlideIndex),
		)
		return GeneratedNotes{}, fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return GeneratedNotes{}, fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if decoded.Error != "" {
		return GeneratedNotes{}, fmt.Errorf("%w: %s", ErrGeneration, decoded.Error)
	}
	if decoded.Notes == "" {
		return GeneratedNotes{}, fmt.Errorf("%w: empty notes in response", ErrGeneration)
	}

	return GeneratedNotes{
		Notes:   decoded.Notes,
		Summary: decoded.Summary,
		Model:   decoded.Model,
	}, nil
}

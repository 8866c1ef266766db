package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesgen/notesgen-be/internal/bulk/domain"
	"github.com/notesgen/notesgen-be/internal/notes"
)

// fakeSlideStore serves fixed slide counts and records persisted notes.
type fakeSlideStore struct {
	mu         sync.Mutex
	counts     map[string]int
	persistErr map[int]error
	persisted  map[int]notes.GeneratedNotes
}

func newFakeSlideStore(counts map[string]int) *fakeSlideStore {
	return &fakeSlideStore{
		counts:     counts,
		persistErr: make(map[int]error),
		persisted:  make(map[int]notes.GeneratedNotes),
	}
}

func (s *fakeSlideStore) SlideCount(_ context.Context, presentationRef string) (int, error) {
	count, ok := s.counts[presentationRef]
	if !ok {
		return 0, domain.ErrPresentationNotFound
	}
	return count, nil
}

func (s *fakeSlideStore) SlideContent(_ context.Context, presentationRef string, slideIndex int) (notes.SlideContent, error) {
	return notes.SlideContent{
		SlideIndex: slideIndex,
		Title:      fmt.Sprintf("Slide %d", slideIndex),
		Body:       "body text",
	}, nil
}

func (s *fakeSlideStore) PersistGeneratedNotes(_ context.Context, _ string, slideIndex int, generated notes.GeneratedNotes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.persistErr[slideIndex]; ok {
		return err
	}
	s.persisted[slideIndex] = generated
	return nil
}

func (s *fakeSlideStore) persistedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persisted)
}

// scriptedGenerator fails the configured slide indexes and optionally delays
// each call.
type scriptedGenerator struct {
	mu          sync.Mutex
	failSlides  map[int]error
	panicSlides map[int]bool
	delay       time.Duration
	calls       int
}

func (g *scriptedGenerator) Generate(ctx context.Context, content notes.SlideContent, _ string) (notes.GeneratedNotes, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return notes.GeneratedNotes{}, fmt.Errorf("%w: slide %d", notes.ErrGenerationTimeout, content.SlideIndex)
		}
	}

	if g.panicSlides[content.SlideIndex] {
		panic(fmt.Sprintf("generator exploded on slide %d", content.SlideIndex))
	}
	if err, ok := g.failSlides[content.SlideIndex]; ok {
		return notes.GeneratedNotes{}, err
	}
	return notes.GeneratedNotes{
		Notes: fmt.Sprintf("notes for slide %d", content.SlideIndex),
		Model: "test-model",
	}, nil
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingPublisher captures published job events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []JobEvent
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, event JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]JobEvent, len(p.events))
	copy(out, p.events)
	return out
}

func newTestEngine(t *testing.T, store SlideStore, gen notes.Generator, opts ...func(*EngineConfig)) *Engine {
	t.Helper()

	cfg := &EngineConfig{
		Logger:       testLogger(),
		Tracker:      NewTracker(testLogger()),
		Slides:       store,
		Generator:    gen,
		Concurrency:  4,
		SlideTimeout: time.Second,
		ErrorLogCap:  100,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	engine := NewEngine(cfg)
	t.Cleanup(engine.Stop)
	return engine
}

func waitTerminal(t *testing.T, engine *Engine, jobID string) domain.JobRecord {
	t.Helper()

	var record domain.JobRecord
	require.Eventually(t, func() bool {
		rec, err := engine.GetJobStatus(jobID)
		if err != nil {
			return false
		}
		record = rec
		return rec.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached a terminal status", jobID)
	return record
}

func TestEngine_StartBulkProcessing_ReturnsImmediately(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 6})
	gen := &scriptedGenerator{delay: 50 * time.Millisecond}
	engine := newTestEngine(t, store, gen)

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, 6, result.TotalSlides)
	assert.Equal(t, 18, result.EstimatedTimeSeconds) // flat 3s/slide placeholder

	record, err := engine.GetJobStatus(result.JobID)
	require.NoError(t, err)
	assert.Contains(t, []string{domain.JobStatusPending, domain.JobStatusProcessing}, record.Status)

	waitTerminal(t, engine, result.JobID)
}

func TestEngine_StartBulkProcessing_UnknownPresentation(t *testing.T) {
	engine := newTestEngine(t, newFakeSlideStore(nil), &scriptedGenerator{})

	_, err := engine.StartBulkProcessing(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPresentationNotFound)
}

func TestEngine_StartBulkProcessing_EmptyPresentation(t *testing.T) {
	engine := newTestEngine(t, newFakeSlideStore(map[string]int{"empty": 0}), &scriptedGenerator{})

	_, err := engine.StartBulkProcessing(context.Background(), "empty")
	assert.ErrorIs(t, err, domain.ErrEmptyPresentation)
}

func TestEngine_AllSlidesSucceed(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 8})
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, store, gen)

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusCompleted, record.Status)
	assert.Equal(t, 8, record.CompletedSlides)
	assert.Equal(t, 0, record.FailedSlides)
	assert.Empty(t, record.ErrorLog)
	require.NotNil(t, record.StartedAt)
	require.NotNil(t, record.CompletedAt)
	assert.Nil(t, record.EstimatedCompletionAt)
	assert.Equal(t, 8, store.persistedCount())
}

func TestEngine_PartialFailureStillCompletes(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 10})
	gen := &scriptedGenerator{failSlides: map[int]error{
		3: notes.ErrGeneration,
		7: notes.ErrGenerationTimeout,
	}}
	engine := newTestEngine(t, store, gen)

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusCompleted, record.Status)
	assert.Equal(t, 8, record.CompletedSlides)
	assert.Equal(t, 2, record.FailedSlides)
	require.Len(t, record.ErrorLog, 2)

	failedIndexes := []int{record.ErrorLog[0].SlideIndex, record.ErrorLog[1].SlideIndex}
	assert.ElementsMatch(t, []int{3, 7}, failedIndexes)
	assert.Equal(t, 8, store.persistedCount())
	assert.Equal(t, 10, gen.callCount())
}

func TestEngine_TotalFailure(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 5})
	gen := &scriptedGenerator{failSlides: map[int]error{
		1: notes.ErrGeneration,
		2: notes.ErrGeneration,
		3: notes.ErrGeneration,
		4: notes.ErrGeneration,
		5: notes.ErrGeneration,
	}}
	engine := newTestEngine(t, store, gen)

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, 0, record.CompletedSlides)
	assert.Equal(t, 5, record.FailedSlides)
	assert.Len(t, record.ErrorLog, 5)
}

func TestEngine_PersistFailureCountsAsFailedSlide(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 4})
	store.persistErr[2] = errors.New("disk full")
	engine := newTestEngine(t, store, &scriptedGenerator{})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusCompleted, record.Status)
	assert.Equal(t, 3, record.CompletedSlides)
	assert.Equal(t, 1, record.FailedSlides)
	require.Len(t, record.ErrorLog, 1)
	assert.Equal(t, 2, record.ErrorLog[0].SlideIndex)
	assert.Contains(t, record.ErrorLog[0].Reason, "disk full")
}

func TestEngine_SlideTimeoutIsRecordedFailure(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 3})
	gen := &scriptedGenerator{delay: time.Second}
	engine := newTestEngine(t, store, gen, func(cfg *EngineConfig) {
		cfg.SlideTimeout = 30 * time.Millisecond
	})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, 3, record.FailedSlides)
	require.NotEmpty(t, record.ErrorLog)
	assert.Contains(t, record.ErrorLog[0].Reason, "timed out")
}

func TestEngine_CancelJob(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 100})
	gen := &scriptedGenerator{delay: 20 * time.Millisecond}
	engine := newTestEngine(t, store, gen, func(cfg *EngineConfig) {
		cfg.Concurrency = 2
	})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	require.NoError(t, engine.CancelJob(result.JobID))

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusCancelled, record.Status)
	assert.Less(t, record.AttemptedSlides(), record.TotalSlides)
	require.NotNil(t, record.CompletedAt)
}

func TestEngine_CancelJob_Terminal(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 2})
	engine := newTestEngine(t, store, &scriptedGenerator{})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)
	waitTerminal(t, engine, result.JobID)

	err = engine.CancelJob(result.JobID)
	assert.ErrorIs(t, err, domain.ErrInvalidJobState)
}

func TestEngine_CancelJob_Unknown(t *testing.T) {
	engine := newTestEngine(t, newFakeSlideStore(nil), &scriptedGenerator{})

	err := engine.CancelJob("nonexistent")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestEngine_GetJobStatus_Unknown(t *testing.T) {
	engine := newTestEngine(t, newFakeSlideStore(nil), &scriptedGenerator{})

	_, err := engine.GetJobStatus("nonexistent")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestEngine_CounterInvariantHoldsThroughout(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 40})
	gen := &scriptedGenerator{
		delay:      2 * time.Millisecond,
		failSlides: map[int]error{5: notes.ErrGeneration, 11: notes.ErrGeneration},
	}
	engine := newTestEngine(t, store, gen)

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	lastAttempted := 0
	for {
		record, err := engine.GetJobStatus(result.JobID)
		require.NoError(t, err)

		attempted := record.AttemptedSlides()
		assert.LessOrEqual(t, attempted, record.TotalSlides)
		assert.GreaterOrEqual(t, attempted, lastAttempted, "attempted count must be monotonic")
		lastAttempted = attempted

		if record.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_PanickingGeneratorBecomesFailedSlides(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 3})
	gen := &scriptedGenerator{panicSlides: map[int]bool{1: true, 2: true, 3: true}}
	engine := newTestEngine(t, store, gen)

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, 3, record.FailedSlides)
	require.NotEmpty(t, record.ErrorLog)
	assert.Contains(t, record.ErrorLog[0].Reason, "panicked")
}

func TestEngine_ErrorLogCap(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 20})
	failAll := make(map[int]error, 20)
	for i := 1; i <= 20; i++ {
		failAll[i] = notes.ErrGeneration
	}
	engine := newTestEngine(t, store, &scriptedGenerator{failSlides: failAll}, func(cfg *EngineConfig) {
		cfg.ErrorLogCap = 5
	})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	record := waitTerminal(t, engine, result.JobID)

	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, 20, record.FailedSlides)
	assert.Len(t, record.ErrorLog, 5)
	assert.Equal(t, 15, record.ErrorLogTruncated)
}

func TestEngine_EstimateConvergesFromObservedAverage(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 30})
	gen := &scriptedGenerator{delay: 10 * time.Millisecond}
	engine := newTestEngine(t, store, gen, func(cfg *EngineConfig) {
		cfg.Concurrency = 1
	})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)

	sawObservedEstimate := false
	for {
		record, err := engine.GetJobStatus(result.JobID)
		require.NoError(t, err)
		if record.IsTerminal() {
			break
		}
		if record.CompletedSlides > 0 && record.EstimatedCompletionAt != nil {
			// The flat placeholder would put the ETA ~90s out; the observed
			// average keeps it within a couple of seconds.
			assert.Less(t, time.Until(*record.EstimatedCompletionAt), 10*time.Second)
			sawObservedEstimate = true
		}
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, sawObservedEstimate, "never observed a recomputed estimate")
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 2})
	publisher := &recordingPublisher{}
	engine := newTestEngine(t, store, &scriptedGenerator{}, func(cfg *EngineConfig) {
		cfg.Events = publisher
	})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)
	waitTerminal(t, engine, result.JobID)

	require.Eventually(t, func() bool {
		return len(publisher.snapshot()) >= 2
	}, time.Second, 5*time.Millisecond)

	events := publisher.snapshot()
	assert.Equal(t, JobEventStarted, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, JobEventFinished, last.Type)
	assert.Equal(t, domain.JobStatusCompleted, last.Status)
	assert.Equal(t, 2, last.CompletedSlides)
}

func TestEngine_ConcurrencyLimitIsRespected(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	gen := generatorFunc(func(ctx context.Context, content notes.SlideContent, _ string) (notes.GeneratedNotes, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return notes.GeneratedNotes{Notes: "ok"}, nil
	})

	store := newFakeSlideStore(map[string]int{"pres-1": 20})
	engine := newTestEngine(t, store, gen, func(cfg *EngineConfig) {
		cfg.Concurrency = 3
	})

	result, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)
	waitTerminal(t, engine, result.JobID)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 3)
}

func TestEngine_IndependentJobsRunConcurrently(t *testing.T) {
	store := newFakeSlideStore(map[string]int{"pres-1": 5, "pres-2": 5})
	engine := newTestEngine(t, store, &scriptedGenerator{delay: 5 * time.Millisecond})

	first, err := engine.StartBulkProcessing(context.Background(), "pres-1")
	require.NoError(t, err)
	second, err := engine.StartBulkProcessing(context.Background(), "pres-2")
	require.NoError(t, err)

	recA := waitTerminal(t, engine, first.JobID)
	recB := waitTerminal(t, engine, second.JobID)

	assert.Equal(t, domain.JobStatusCompleted, recA.Status)
	assert.Equal(t, domain.JobStatusCompleted, recB.Status)
	assert.NotEqual(t, first.JobID, second.JobID)
}

// generatorFunc adapts a function to the notes.Generator interface.
type generatorFunc func(ctx context.Context, content notes.SlideContent, modelPreference string) (notes.GeneratedNotes, error)

func (f generatorFunc) Generate(ctx context.Context, content notes.SlideContent, modelPreference string) (notes.GeneratedNotes, error) {
	return f(ctx, content, modelPreference)
}

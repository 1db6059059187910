// Package session runs a guest's selfie through validation, extraction,
// matching and persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/extractor"
	"github.com/kozaktomas/event-photos/internal/index"
	"github.com/kozaktomas/event-photos/internal/observability"
	"github.com/kozaktomas/event-photos/internal/storage"
	"go.uber.org/zap"
)

// State is a step of a guest match session.
type State string

const (
	StateValidating State = "validating"
	StateExtracting State = "extracting"
	StateMatching   State = "matching"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Kind classifies session failures for callers.
type Kind string

const (
	KindEventNotFound         Kind = "event_not_found"
	KindInvalidImage          Kind = "invalid_image"
	KindExtractionUnavailable Kind = "extraction_unavailable"
	KindIndexCorruption       Kind = "index_corruption"
	KindCanceled              Kind = "canceled"
	KindInternal              Kind = "internal"
)

// Error is returned by FindPhotos. errors.Is matches the wrapped sentinel.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("guest session %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindExtractionUnavailable || e.Kind == KindIndexCorruption
}

// Matcher ranks an event's photos against a probe.
type Matcher interface {
	Match(ctx context.Context, eventID string, probe []float32) ([]index.Candidate, error)
}

// Match is one photo returned to the guest.
type Match struct {
	PhotoID     string  `json:"photoId"`
	DownloadRef string  `json:"downloadRef"`
	Score       float64 `json:"score"`
}

// Result is the outcome of a completed session.
type Result struct {
	MatchID string  `json:"matchId"`
	EventID string  `json:"eventId"`
	Matches []Match `json:"photos"`
}

// DownloadRef returns the public download path of a photo.
func DownloadRef(photoID string) string {
	return "/api/v1/photos/" + photoID + "/download"
}

// Service runs guest match sessions. Sessions share no state besides the
// injected collaborators.
type Service struct {
	events    database.EventReader
	blobs     storage.BlobStore
	extractor extractor.Extractor
	matcher   Matcher
	records   database.MatchRecordRepository
	logger    *zap.Logger

	// OnTransition is called on every state change, if set.
	OnTransition func(State)
}

// NewService wires a session service.
func NewService(
	events database.EventReader,
	blobs storage.BlobStore,
	ex extractor.Extractor,
	matcher Matcher,
	records database.MatchRecordRepository,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		events:    events,
		blobs:     blobs,
		extractor: ex,
		matcher:   matcher,
		records:   records,
		logger:    logger,
	}
}

// run tracks the current state and its timing.
type run struct {
	svc   *Service
	state State
	start time.Time
}

func (r *run) enter(s State) {
	if r.state != "" {
		observability.SessionStageDuration.WithLabelValues(string(r.state)).Observe(time.Since(r.start).Seconds())
	}
	r.state = s
	r.start = time.Now()
	if r.svc.OnTransition != nil {
		r.svc.OnTransition(s)
	}
}

func (r *run) fail(kind Kind, err error) error {
	state := r.state
	r.enter(StateFailed)
	observability.GuestSessions.WithLabelValues(string(kind)).Inc()
	return &Error{Kind: kind, State: state, Err: err}
}

// FindPhotos resolves the event, extracts the selfie descriptor, matches it
// against the event's photos and records the result. Nothing is written if the
// context is canceled before persisting starts; once the record write has
// begun it completes.
func (s *Service) FindPhotos(ctx context.Context, eventCode string, selfie []byte, contentType string) (*Result, error) {
	r := &run{svc: s}

	r.enter(StateValidating)
	event, err := s.events.ResolveEventByCode(ctx, eventCode)
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			return nil, r.fail(KindEventNotFound, err)
		}
		return nil, r.fail(classifyContext(ctx, KindInternal), fmt.Errorf("resolve event: %w", err))
	}
	if !event.IsActive {
		return nil, r.fail(KindEventNotFound, fmt.Errorf("%w: event %s is inactive", database.ErrEventNotFound, event.Code))
	}

	r.enter(StateExtracting)
	selfieRef, err := s.blobs.Store(ctx, selfie, contentType)
	if err != nil {
		return nil, r.fail(classifyContext(ctx, KindInternal), fmt.Errorf("store selfie: %w", err))
	}
	probe, err := s.extractor.Extract(ctx, selfie)
	if err != nil {
		return nil, r.fail(classifyExtraction(ctx, err), err)
	}

	r.enter(StateMatching)
	candidates, err := s.matcher.Match(ctx, event.ID, probe)
	if err != nil {
		return nil, r.fail(classifyMatch(ctx, err), err)
	}

	if err := ctx.Err(); err != nil {
		return nil, r.fail(KindCanceled, err)
	}

	r.enter(StatePersisting)
	record := &database.MatchRecord{
		EventID:   event.ID,
		SelfieRef: selfieRef,
		Matches:   make([]database.MatchedPhoto, len(candidates)),
	}
	for i, c := range candidates {
		record.Matches[i] = database.MatchedPhoto{PhotoID: c.PhotoID, Score: c.Score, Rank: i + 1}
	}
	// The write is not abandoned once started, even if the guest disconnects.
	if err := s.records.CreateMatchRecord(context.WithoutCancel(ctx), record); err != nil {
		return nil, r.fail(KindInternal, fmt.Errorf("persist match record: %w", err))
	}

	r.enter(StateCompleted)
	observability.GuestSessions.WithLabelValues("completed").Inc()
	observability.MatchResults.Observe(float64(len(candidates)))

	result := &Result{
		MatchID: record.ID,
		EventID: event.ID,
		Matches: make([]Match, len(candidates)),
	}
	for i, c := range candidates {
		result.Matches[i] = Match{PhotoID: c.PhotoID, DownloadRef: DownloadRef(c.PhotoID), Score: c.Score}
	}

	s.logger.Info("guest match completed",
		zap.String("event_id", event.ID),
		zap.String("match_id", record.ID),
		zap.Int("matches", len(candidates)))
	return result, nil
}

func classifyExtraction(ctx context.Context, err error) Kind {
	switch {
	case errors.Is(err, extractor.ErrInvalidImage):
		return KindInvalidImage
	case errors.Is(err, extractor.ErrExtractionUnavailable):
		return KindExtractionUnavailable
	}
	return classifyContext(ctx, KindInternal)
}

// classifyMatch maps failures of the match step. Building a non-resident
// index extracts photos, so the extractor can be unavailable here too.
func classifyMatch(ctx context.Context, err error) Kind {
	switch {
	case errors.Is(err, index.ErrIndexCorruption):
		return classifyContext(ctx, KindIndexCorruption)
	case errors.Is(err, extractor.ErrExtractionUnavailable):
		return classifyContext(ctx, KindExtractionUnavailable)
	}
	return classifyContext(ctx, KindInternal)
}

// classifyContext reports cancellation in preference to the fallback kind.
func classifyContext(ctx context.Context, fallback Kind) Kind {
	if ctx.Err() != nil {
		return KindCanceled
	}
	return fallback
}

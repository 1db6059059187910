// Package indexer computes photo descriptors and feeds the per-event indexes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/extractor"
	"github.com/kozaktomas/event-photos/internal/index"
	"github.com/kozaktomas/event-photos/internal/observability"
	"github.com/kozaktomas/event-photos/internal/storage"
	"go.uber.org/zap"
)

// DefaultConcurrency bounds parallel extractions during an event load.
const DefaultConcurrency = 4

// Progress reports how far an event load has got.
type Progress struct {
	EventID string
	Current int
	Total   int
	PhotoID string
}

// Indexer extracts and stores photo descriptors. It is the index.Loader used
// by the arena to rebuild events that are not resident.
type Indexer struct {
	photos      database.PhotoRepository
	blobs       storage.BlobStore
	extractor   extractor.Extractor
	logger      *zap.Logger
	concurrency int

	// OnProgress is called after each photo of a LoadEvent, if set.
	OnProgress func(Progress)
}

// New creates an indexer.
func New(photos database.PhotoRepository, blobs storage.BlobStore, ex extractor.Extractor, concurrency int, logger *zap.Logger) *Indexer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		photos:      photos,
		blobs:       blobs,
		extractor:   ex,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Model returns the descriptor model of the configured extractor.
func (ix *Indexer) Model() string {
	return ix.extractor.Model()
}

// LoadEvent returns the descriptors of every indexable photo of an event.
// Photos without a stored descriptor are extracted from their blob and the
// result is persisted. Photos that cannot be decoded, whose blob is gone, or
// whose descriptor came from a different model, are skipped. An unavailable
// extractor fails the load with ErrExtractionUnavailable.
func (ix *Indexer) LoadEvent(ctx context.Context, eventID string) ([]index.Entry, error) {
	refs, err := ix.photos.PhotosForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}

	entries := make([]index.Entry, len(refs))
	errs := make([]error, len(refs))

	sem := make(chan struct{}, ix.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, ref := range refs {
		if len(ref.Descriptor) > 0 {
			if ref.DescriptorModel != "" && ref.DescriptorModel != ix.extractor.Model() {
				ix.logger.Warn("skipping photo indexed by another model",
					zap.String("photo_id", ref.PhotoID),
					zap.String("model", ref.DescriptorModel))
			} else {
				entries[i] = index.Entry{PhotoID: ref.PhotoID, Descriptor: ref.Descriptor}
			}
			ix.report(&mu, &done, eventID, len(refs), ref.PhotoID)
			continue
		}

		wg.Add(1)
		go func(i int, ref database.PhotoRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			descriptor, err := ix.describe(ctx, ref.PhotoID, ref.BlobRef, nil)
			if err == nil {
				entries[i] = index.Entry{PhotoID: ref.PhotoID, Descriptor: descriptor}
			} else {
				errs[i] = err
			}
			ix.report(&mu, &done, eventID, len(refs), ref.PhotoID)
		}(i, ref)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]index.Entry, 0, len(entries))
	for i, e := range entries {
		if errs[i] != nil {
			if !skippable(errs[i]) {
				return nil, errs[i]
			}
			ix.logger.Warn("photo not indexed",
				zap.String("event_id", eventID),
				zap.String("photo_id", refs[i].PhotoID),
				zap.Error(errs[i]))
			continue
		}
		if e.PhotoID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func (ix *Indexer) report(mu *sync.Mutex, done *int, eventID string, total int, photoID string) {
	if ix.OnProgress == nil {
		return
	}
	mu.Lock()
	*done++
	p := Progress{EventID: eventID, Current: *done, Total: total, PhotoID: photoID}
	ix.OnProgress(p)
	mu.Unlock()
}

// IndexPhoto returns the photo's descriptor, extracting and persisting it if
// the photo has none yet. data may carry the image bytes to skip a blob fetch.
func (ix *Indexer) IndexPhoto(ctx context.Context, photo *database.Photo, data []byte) ([]float32, error) {
	if photo.Indexed() {
		return photo.Descriptor, nil
	}
	return ix.describe(ctx, photo.ID, photo.BlobRef, data)
}

// describe extracts a descriptor and stores it. If another process stored one
// first, that descriptor wins.
func (ix *Indexer) describe(ctx context.Context, photoID, blobRef string, data []byte) ([]float32, error) {
	if data == nil {
		var err error
		data, err = ix.blobs.Fetch(ctx, blobRef)
		if err != nil {
			observability.PhotosIndexed.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("fetch photo %s: %w", photoID, err)
		}
	}

	start := time.Now()
	descriptor, err := ix.extractor.Extract(ctx, data)
	observability.ExtractionDuration.WithLabelValues(ix.extractor.Model(), extractionResult(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.PhotosIndexed.WithLabelValues(extractionResult(err)).Inc()
		return nil, fmt.Errorf("extract photo %s: %w", photoID, err)
	}

	err = ix.photos.SetDescriptor(ctx, photoID, descriptor, ix.extractor.Model())
	if errors.Is(err, database.ErrDescriptorExists) {
		stored, getErr := ix.photos.Get(ctx, photoID)
		if getErr != nil {
			return nil, fmt.Errorf("reload photo %s: %w", photoID, getErr)
		}
		observability.PhotosIndexed.WithLabelValues("ok").Inc()
		return stored.Descriptor, nil
	}
	if err != nil {
		observability.PhotosIndexed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store descriptor of photo %s: %w", photoID, err)
	}

	observability.PhotosIndexed.WithLabelValues("ok").Inc()
	ix.logger.Debug("indexed photo", zap.String("photo_id", photoID), zap.Duration("took", time.Since(start)))
	return descriptor, nil
}

// skippable errors leave one photo out of a build instead of failing it. They
// are permanent for the photo; a transient extraction failure fails the build
// so that no incomplete index is cached.
func skippable(err error) bool {
	return errors.Is(err, extractor.ErrInvalidImage) ||
		errors.Is(err, storage.ErrNotFound)
}

func extractionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, extractor.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, extractor.ErrExtractionUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

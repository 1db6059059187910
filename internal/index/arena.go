package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kozaktomas/event-photos/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxResident is used when the arena is created without a bound.
const DefaultMaxResident = 64

// Loader returns every indexable descriptor of an event. It is called when an
// event's index is not resident.
type Loader interface {
	LoadEvent(ctx context.Context, eventID string) ([]Entry, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, eventID string) ([]Entry, error)

// LoadEvent calls f.
func (f LoaderFunc) LoadEvent(ctx context.Context, eventID string) ([]Entry, error) {
	return f(ctx, eventID)
}

// Arena keeps at most maxResident event indexes in memory, evicting the least
// recently queried one, and rebuilds evicted indexes on demand.
type Arena struct {
	opts   Options
	loader Loader
	logger *zap.Logger

	mu       sync.Mutex
	cache    *lru.Cache[string, *PhotoIndex]
	building map[string]*PhotoIndex
	group    singleflight.Group
}

// NewArena creates an arena bounded to maxResident events.
func NewArena(maxResident int, opts Options, loader Loader, logger *zap.Logger) (*Arena, error) {
	if maxResident <= 0 {
		maxResident = DefaultMaxResident
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Arena{
		opts:     opts,
		loader:   loader,
		logger:   logger,
		building: make(map[string]*PhotoIndex),
	}

	cache, err := lru.NewWithEvict(maxResident, func(eventID string, _ *PhotoIndex) {
		observability.IndexEvictions.Inc()
		a.logger.Debug("evicted event index", zap.String("event_id", eventID))
	})
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	a.cache = cache
	return a, nil
}

// Get returns the event's index, building it from the loader if it is not
// resident. Counts as a use for eviction purposes.
func (a *Arena) Get(ctx context.Context, eventID string) (*PhotoIndex, error) {
	if idx, ok := a.cache.Get(eventID); ok {
		return idx, nil
	}

	// The build outlives any single caller; callers stop waiting on cancel.
	ch := a.group.DoChan(eventID, func() (any, error) {
		return a.build(context.WithoutCancel(ctx), eventID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PhotoIndex), nil
	}
}

func (a *Arena) build(ctx context.Context, eventID string) (*PhotoIndex, error) {
	if idx, ok := a.cache.Get(eventID); ok {
		return idx, nil
	}

	start := time.Now()
	idx := New(eventID, a.opts)

	// Register before loading so uploads that commit during the load still land.
	a.mu.Lock()
	a.building[eventID] = idx
	a.mu.Unlock()

	entries, err := a.loader.LoadEvent(ctx, eventID)
	if err != nil {
		a.mu.Lock()
		if a.building[eventID] == idx {
			delete(a.building, eventID)
		}
		a.mu.Unlock()
		observability.IndexBuilds.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	skipped := 0
	for _, e := range entries {
		if err := idx.Insert(e.PhotoID, e.Descriptor); err != nil {
			skipped++
			a.logger.Warn("skipping photo during index build",
				zap.String("event_id", eventID),
				zap.String("photo_id", e.PhotoID),
				zap.Error(err))
		}
	}

	a.mu.Lock()
	if a.building[eventID] == idx {
		delete(a.building, eventID)
		a.cache.Add(eventID, idx)
		observability.ResidentIndexes.Set(float64(a.cache.Len()))
	}
	a.mu.Unlock()

	observability.IndexBuilds.WithLabelValues("ok").Inc()
	observability.IndexBuildDuration.Observe(time.Since(start).Seconds())
	a.logger.Info("built event index",
		zap.String("event_id", eventID),
		zap.Int("photos", idx.Len()),
		zap.Int("skipped", skipped),
		zap.Duration("took", time.Since(start)))

	return idx, nil
}

// Insert adds a descriptor to the event's index if it is resident or being
// built. Non-resident events pick the photo up from storage on their next build.
func (a *Arena) Insert(eventID, photoID string, descriptor []float32) error {
	idx := a.lookup(eventID)
	if idx == nil {
		return nil
	}
	return idx.Insert(photoID, descriptor)
}

// Remove drops a photo from the event's index if present.
func (a *Arena) Remove(eventID, photoID string) {
	if idx := a.lookup(eventID); idx != nil {
		idx.Remove(photoID)
	}
}

// lookup finds a resident or building index without touching recency.
func (a *Arena) lookup(eventID string) *PhotoIndex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok := a.building[eventID]; ok {
		return idx
	}
	if idx, ok := a.cache.Peek(eventID); ok {
		return idx
	}
	return nil
}

// Invalidate drops the event's index. The next Get rebuilds it from storage.
func (a *Arena) Invalidate(eventID string) {
	a.mu.Lock()
	delete(a.building, eventID)
	a.cache.Remove(eventID)
	observability.ResidentIndexes.Set(float64(a.cache.Len()))
	a.mu.Unlock()
	a.group.Forget(eventID)
}

// HandleQueryError invalidates and rebuilds the event's index when err reports corruption.
func (a *Arena) HandleQueryError(eventID string, err error) {
	if !errors.Is(err, ErrIndexCorruption) {
		return
	}
	observability.IndexCorruptions.Inc()
	a.logger.Error("event index corrupted, scheduling rebuild",
		zap.String("event_id", eventID),
		zap.Error(err))
	a.Invalidate(eventID)

	go func() {
		if _, err := a.Get(context.Background(), eventID); err != nil {
			a.logger.Error("rebuilding event index failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}()
}

// Resident returns the number of indexes held in memory.
func (a *Arena) Resident() int {
	return a.cache.Len()
}

// IsResident reports whether the event's index is in memory.
func (a *Arena) IsResident(eventID string) bool {
	return a.cache.Contains(eventID)
}

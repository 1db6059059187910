// Package match ranks an event's photos against a guest probe descriptor.
package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/event-photos/internal/index"
	"go.uber.org/zap"
)

// Default policy values.
const (
	DefaultTopK      = 200
	DefaultThreshold = 0.55
)

// Policy bounds a match result.
type Policy struct {
	K         int
	Threshold float64
}

// DefaultPolicy returns k=200, threshold=0.55.
func DefaultPolicy() Policy {
	return Policy{K: DefaultTopK, Threshold: DefaultThreshold}
}

// Validate checks that the policy can produce results.
func (p Policy) Validate() error {
	if p.K <= 0 {
		return fmt.Errorf("match k must be positive, got %d", p.K)
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("match threshold must be within [0,1], got %v", p.Threshold)
	}
	return nil
}

// IndexSource resolves the resident index of an event and is told about
// query failures. *index.Arena implements it.
type IndexSource interface {
	Get(ctx context.Context, eventID string) (*index.PhotoIndex, error)
	HandleQueryError(eventID string, err error)
}

// Engine answers top-k queries for events.
type Engine struct {
	source IndexSource
	policy Policy
	logger *zap.Logger
	extra  func(eventID string) []index.Shard
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtraShards adds partitions that live outside the local index, such as
// remote replicas, to every query of an event.
func WithExtraShards(fn func(eventID string) []index.Shard) Option {
	return func(e *Engine) {
		e.extra = fn
	}
}

// NewEngine creates an engine using the given policy.
func NewEngine(source IndexSource, policy Policy, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{source: source, policy: policy, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Match returns the event photos most similar to probe. An event without
// photos yields an empty result. A corrupted index is invalidated before the
// error is returned.
func (e *Engine) Match(ctx context.Context, eventID string, probe []float32) ([]index.Candidate, error) {
	idx, err := e.source.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load index for event %s: %w", eventID, err)
	}

	shards := idx.Shards()
	if e.extra != nil {
		shards = append(shards, e.extra(eventID)...)
	}

	results, err := Search(ctx, shards, probe, e.policy)
	if err != nil {
		e.source.HandleQueryError(eventID, err)
		return nil, fmt.Errorf("query index for event %s: %w", eventID, err)
	}

	e.logger.Debug("matched probe",
		zap.String("event_id", eventID),
		zap.Int("photos", idx.Len()),
		zap.Int("matches", len(results)))
	return results, nil
}

// Search queries every shard concurrently with the policy's k and threshold
// and merges the partial results into the global top k.
func Search(ctx context.Context, shards []index.Shard, probe []float32, policy Policy) ([]index.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	partials := make([][]index.Candidate, len(shards))
	errs := make([]error, len(shards))

	var wg sync.WaitGroup
	for i, s := range shards {
		wg.Go(func() {
			partials[i], errs[i] = s.Query(probe, policy.K, policy.Threshold)
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return MergeTopK(partials, policy.K), nil
}

// MergeTopK combines per-shard results, each already limited to k, into one
// list ordered by descending score and ascending photo id. A photo reported by
// several shards keeps its best score.
func MergeTopK(partials [][]index.Candidate, k int) []index.Candidate {
	seen := make(map[string]int)
	merged := []index.Candidate{}
	for _, part := range partials {
		for _, c := range part {
			if i, ok := seen[c.PhotoID]; ok {
				if c.Score > merged[i].Score {
					merged[i].Score = c.Score
				}
				continue
			}
			seen[c.PhotoID] = len(merged)
			merged = append(merged, c)
		}
	}

	index.SortCandidates(merged)
	if k >= 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

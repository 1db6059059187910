// Package index holds per-event photo descriptor indexes and the arena that
// keeps a bounded number of them resident in memory.
package index

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrIndexCorruption means an entry no longer matches the descriptor it was
	// inserted with. The index must be rebuilt; its results cannot be trusted.
	ErrIndexCorruption = errors.New("index corruption")
	// ErrDimensionMismatch is returned for descriptors of the wrong length.
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
	// ErrInvalidDescriptor is returned for zero, NaN or infinite descriptors.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Candidate is one scored photo returned by a query.
type Candidate struct {
	PhotoID string  `json:"photoId"`
	Score   float64 `json:"score"`
}

// Entry is a photo descriptor as loaded from storage.
type Entry struct {
	PhotoID    string
	Descriptor []float32
}

// Options configures a PhotoIndex.
type Options struct {
	Dim    int // required descriptor length
	Shards int // number of independently published shards (default 1)
	// HNSWMinEntries builds an HNSW graph for shards at least this large; 0
	// disables it. Such shards may miss qualifying entries since HNSW recall is
	// approximate; scores of returned entries stay exact.
	HNSWMinEntries int
}

// Shard is a queryable partition of a photo index. Remote partitions can
// implement it as well so the match engine can merge them with local ones.
type Shard interface {
	Query(probe []float32, k int, threshold float64) ([]Candidate, error)
}

// entry is immutable once published.
type entry struct {
	photoID    string
	descriptor []float32
	norm       float64
	checksum   uint64
}

// snapshot is an immutable view of one shard.
type snapshot struct {
	entries map[string]*entry

	graphOnce sync.Once
	hnsw      *hnswGraph
}

type shard struct {
	mu      sync.Mutex // serialises writers only
	current atomic.Pointer[snapshot]
	dim     int
	hnswMin int
}

// PhotoIndex maps photo ids to descriptors for one event. Writers copy the
// affected shard and publish it atomically, so queries never take a lock and
// never observe a partially written descriptor.
type PhotoIndex struct {
	eventID string
	dim     int
	shards  []*shard
}

// New creates an empty index for the event.
func New(eventID string, opts Options) *PhotoIndex {
	n := max(opts.Shards, 1)
	x := &PhotoIndex{
		eventID: eventID,
		dim:     opts.Dim,
		shards:  make([]*shard, n),
	}
	for i := range x.shards {
		s := &shard{dim: opts.Dim, hnswMin: opts.HNSWMinEntries}
		s.current.Store(&snapshot{entries: map[string]*entry{}})
		x.shards[i] = s
	}
	return x
}

// EventID returns the event this index belongs to.
func (x *PhotoIndex) EventID() string {
	return x.eventID
}

// Dim returns the descriptor length accepted by the index.
func (x *PhotoIndex) Dim() int {
	return x.dim
}

func (x *PhotoIndex) shardFor(photoID string) *shard {
	if len(x.shards) == 1 {
		return x.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(photoID))
	return x.shards[h.Sum32()%uint32(len(x.shards))]
}

// Insert adds or replaces the descriptor of a photo. The descriptor is copied.
// Inserting the same pair again leaves the index unchanged.
func (x *PhotoIndex) Insert(photoID string, descriptor []float32) error {
	if photoID == "" {
		return fmt.Errorf("%w: empty photo id", ErrInvalidDescriptor)
	}
	if x.dim > 0 && len(descriptor) != x.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(descriptor), x.dim)
	}
	norm, ok := vectorNorm(descriptor)
	if !ok || norm == 0 {
		return fmt.Errorf("%w: photo %s", ErrInvalidDescriptor, photoID)
	}

	e := &entry{
		photoID:    photoID,
		descriptor: slices.Clone(descriptor),
		norm:       norm,
	}
	e.checksum = checksum(e.descriptor)

	s := x.shardFor(photoID)
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	if prev, ok := old.entries[photoID]; ok && prev.checksum == e.checksum && slices.Equal(prev.descriptor, e.descriptor) {
		return nil
	}

	next := make(map[string]*entry, len(old.entries)+1)
	for k, v := range old.entries {
		next[k] = v
	}
	next[photoID] = e
	s.current.Store(&snapshot{entries: next})
	return nil
}

// Remove deletes a photo from the index. Removing an absent photo is a no-op.
func (x *PhotoIndex) Remove(photoID string) {
	s := x.shardFor(photoID)
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	if _, ok := old.entries[photoID]; !ok {
		return
	}
	next := make(map[string]*entry, len(old.entries))
	for k, v := range old.entries {
		if k != photoID {
			next[k] = v
		}
	}
	s.current.Store(&snapshot{entries: next})
}

// Len returns the number of indexed photos.
func (x *PhotoIndex) Len() int {
	n := 0
	for _, s := range x.shards {
		n += len(s.current.Load().entries)
	}
	return n
}

// Contains reports whether a photo is indexed.
func (x *PhotoIndex) Contains(photoID string) bool {
	_, ok := x.shardFor(photoID).current.Load().entries[photoID]
	return ok
}

// Descriptor returns a copy of the stored descriptor, or nil.
func (x *PhotoIndex) Descriptor(photoID string) []float32 {
	e, ok := x.shardFor(photoID).current.Load().entries[photoID]
	if !ok {
		return nil
	}
	return slices.Clone(e.descriptor)
}

// Shards exposes the partitions for fan-out queries.
func (x *PhotoIndex) Shards() []Shard {
	out := make([]Shard, len(x.shards))
	for i, s := range x.shards {
		out[i] = s
	}
	return out
}

// Query returns up to k photos whose similarity to probe is at least threshold,
// by descending score with ties broken by ascending photo id.
func (x *PhotoIndex) Query(probe []float32, k int, threshold float64) ([]Candidate, error) {
	all := []Candidate{}
	for _, s := range x.shards {
		c, err := s.Query(probe, k, threshold)
		if err != nil {
			return nil, err
		}
		all = append(all, c...)
	}
	SortCandidates(all)
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Query scores one snapshot of the shard.
func (s *shard) Query(probe []float32, k int, threshold float64) ([]Candidate, error) {
	snap := s.current.Load()
	if k <= 0 || len(snap.entries) == 0 {
		return []Candidate{}, nil
	}
	if s.dim > 0 && len(probe) != s.dim {
		return nil, fmt.Errorf("%w: probe has %d dimensions, want %d", ErrDimensionMismatch, len(probe), s.dim)
	}
	probeNorm, ok := vectorNorm(probe)
	if !ok || probeNorm == 0 {
		return nil, fmt.Errorf("%w: probe", ErrInvalidDescriptor)
	}

	// Below the HNSW cutoff every entry is scored, so the result is complete.
	var scan []*entry
	if s.hnswMin > 0 && len(snap.entries) >= s.hnswMin {
		scan = snap.graph().candidates(probe, k)
	} else {
		scan = make([]*entry, 0, len(snap.entries))
		for _, e := range snap.entries {
			scan = append(scan, e)
		}
	}

	out := make([]Candidate, 0, min(k, len(scan)))
	for _, e := range scan {
		score, err := e.score(probe, probeNorm)
		if err != nil {
			return nil, err
		}
		if score >= threshold {
			out = append(out, Candidate{PhotoID: e.photoID, Score: score})
		}
	}

	SortCandidates(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// score computes the normalised similarity and verifies the entry checksum in the same pass.
func (e *entry) score(probe []float32, probeNorm float64) (float64, error) {
	if len(e.descriptor) != len(probe) {
		return 0, fmt.Errorf("%w: photo %s has %d dimensions", ErrIndexCorruption, e.photoID, len(e.descriptor))
	}

	h := uint64(fnvOffset)
	var dot float64
	for i, v := range e.descriptor {
		dot += float64(v) * float64(probe[i])
		h = mixChecksum(h, v)
	}
	if h != e.checksum {
		return 0, fmt.Errorf("%w: checksum mismatch for photo %s", ErrIndexCorruption, e.photoID)
	}

	return normalizeScore(clampCosine(dot / (e.norm * probeNorm))), nil
}

// SortCandidates orders by descending score, then ascending photo id.
func SortCandidates(c []Candidate) {
	slices.SortFunc(c, func(a, b Candidate) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.PhotoID, b.PhotoID)
	})
}

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

func checksum(v []float32) uint64 {
	h := uint64(fnvOffset)
	for _, x := range v {
		h = mixChecksum(h, x)
	}
	return h
}

// mixChecksum folds the four bytes of one component into an FNV-1a hash.
func mixChecksum(h uint64, v float32) uint64 {
	bits := math.Float32bits(v)
	for range 4 {
		h ^= uint64(bits & 0xff)
		h *= fnvPrime
		bits >>= 8
	}
	return h
}

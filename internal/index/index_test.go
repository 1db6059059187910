package index

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"
)

// unitWithCosine returns a 2-d unit vector whose cosine with (1, 0) is c.
func unitWithCosine(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestQuery_ScenarioThresholdAndOrder(t *testing.T) {
	idx := New("event-e", Options{Dim: 2})
	idx.Insert("P1", unitWithCosine(0.9))
	idx.Insert("P2", unitWithCosine(0.6))
	idx.Insert("P3", unitWithCosine(0.3))

	got, err := idx.Query([]float32{1, 0}, 10, 0.55)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(got), got)
	}
	if got[0].PhotoID != "P1" || math.Abs(got[0].Score-0.9) > 1e-6 {
		t.Errorf("expected P1@0.9 first, got %+v", got[0])
	}
	if got[1].PhotoID != "P2" || math.Abs(got[1].Score-0.6) > 1e-6 {
		t.Errorf("expected P2@0.6 second, got %+v", got[1])
	}
}

func TestQuery_EmptyIndex(t *testing.T) {
	tests := []struct {
		name  string
		probe []float32
	}{
		{"valid probe", []float32{1, 0, 0}},
		{"wrong dimension", []float32{1}},
		{"zero probe", []float32{0, 0, 0}},
	}

	idx := New("empty", Options{Dim: 3, Shards: 4})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := idx.Query(tc.probe, 10, 0.5)
			if err != nil {
				t.Fatalf("expected no error on empty index, got %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("expected empty non-nil result, got %#v", got)
			}
		})
	}
}

func TestQuery_SortedAndAboveThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	idx := New("random", Options{Dim: 16, Shards: 3})
	for i := range 300 {
		if err := idx.Insert(fmt.Sprintf("photo-%03d", i), randomVector(rng, 16)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	for q := range 20 {
		threshold := rng.Float64() * 0.5
		got, err := idx.Query(randomVector(rng, 16), 25, threshold)
		if err != nil {
			t.Fatalf("Query %d failed: %v", q, err)
		}
		if len(got) > 25 {
			t.Fatalf("expected at most 25 results, got %d", len(got))
		}
		for i, c := range got {
			if c.Score < threshold {
				t.Errorf("query %d: score %v below threshold %v", q, c.Score, threshold)
			}
			if c.Score < 0 || c.Score > 1 {
				t.Errorf("query %d: score %v outside [0,1]", q, c.Score)
			}
			if i > 0 && c.Score > got[i-1].Score {
				t.Errorf("query %d: scores increase at %d: %v > %v", q, i, c.Score, got[i-1].Score)
			}
		}
	}
}

func TestQuery_TiesBrokenByPhotoID(t *testing.T) {
	idx := New("ties", Options{Dim: 2, Shards: 4})
	same := []float32{0.6, 0.8}
	for _, id := range []string{"d", "b", "a", "c"} {
		idx.Insert(id, same)
	}

	got, _ := idx.Query([]float32{0.6, 0.8}, 3, 0.5)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.PhotoID
	}
	if !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("expected [a b c], got %v", ids)
	}
}

func TestQuery_ThresholdInclusive(t *testing.T) {
	idx := New("inclusive", Options{Dim: 2})
	idx.Insert("exact", []float32{1, 0})

	got, err := idx.Query([]float32{1, 0}, 5, 1.0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Score != 1 {
		t.Errorf("expected the exact match at threshold 1.0, got %+v", got)
	}
}

func TestQuery_NegativeCosineScoresZero(t *testing.T) {
	idx := New("opposite", Options{Dim: 2})
	idx.Insert("opposite", []float32{-1, 0})

	got, _ := idx.Query([]float32{1, 0}, 5, 0)
	if len(got) != 1 || got[0].Score != 0 {
		t.Errorf("expected opposite vector to score 0, got %+v", got)
	}
}

func TestInsert_Idempotent(t *testing.T) {
	idx := New("idem", Options{Dim: 3, Shards: 2})
	d := []float32{0.1, 0.2, 0.3}

	if err := idx.Insert("p", d); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	before := idx.shardFor("p").current.Load()

	if err := idx.Insert("p", d); err != nil {
		t.Fatalf("second Insert failed: %v", err)
	}
	if idx.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", idx.Len())
	}
	if idx.shardFor("p").current.Load() != before {
		t.Error("expected repeated insert to keep the published snapshot")
	}
}

func TestInsert_CopiesDescriptor(t *testing.T) {
	idx := New("copy", Options{Dim: 2})
	d := []float32{1, 0}
	idx.Insert("p", d)
	d[0] = -1

	got, err := idx.Query([]float32{1, 0}, 1, 0.9)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected caller mutation not to affect the index, got %+v", got)
	}
}

func TestInsert_Replace(t *testing.T) {
	idx := New("replace", Options{Dim: 2})
	idx.Insert("p", []float32{0, 1})
	idx.Insert("p", []float32{1, 0})

	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", idx.Len())
	}
	if d := idx.Descriptor("p"); d[0] != 1 {
		t.Errorf("expected replaced descriptor, got %v", d)
	}
}

func TestInsert_Rejects(t *testing.T) {
	idx := New("reject", Options{Dim: 3})

	tests := []struct {
		name    string
		id      string
		desc    []float32
		wantErr error
	}{
		{"wrong dimension", "p", []float32{1, 2}, ErrDimensionMismatch},
		{"zero vector", "p", []float32{0, 0, 0}, ErrInvalidDescriptor},
		{"nan", "p", []float32{1, float32(math.NaN()), 0}, ErrInvalidDescriptor},
		{"inf", "p", []float32{1, float32(math.Inf(1)), 0}, ErrInvalidDescriptor},
		{"empty id", "", []float32{1, 0, 0}, ErrInvalidDescriptor},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := idx.Insert(tc.id, tc.desc); !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
	if idx.Len() != 0 {
		t.Errorf("expected nothing inserted, got %d", idx.Len())
	}
}

func TestRemove(t *testing.T) {
	idx := New("remove", Options{Dim: 2, Shards: 2})
	idx.Insert("a", []float32{1, 0})
	idx.Insert("b", []float32{0, 1})

	idx.Remove("a")
	idx.Remove("missing")

	if idx.Contains("a") || !idx.Contains("b") || idx.Len() != 1 {
		t.Errorf("unexpected contents after remove: len=%d", idx.Len())
	}
}

func TestQuery_DetectsCorruption(t *testing.T) {
	idx := New("corrupt", Options{Dim: 2})
	idx.Insert("p", []float32{1, 0})

	// Simulate memory corruption of a published entry.
	idx.shards[0].current.Load().entries["p"].descriptor[1] = 0.5

	_, err := idx.Query([]float32{1, 0}, 5, 0)
	if !errors.Is(err, ErrIndexCorruption) {
		t.Errorf("expected ErrIndexCorruption, got %v", err)
	}
}

func TestQuery_ShardedMatchesSingleShard(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	single := New("s", Options{Dim: 8})
	sharded := New("s", Options{Dim: 8, Shards: 5})
	for i := range 200 {
		v := randomVector(rng, 8)
		id := fmt.Sprintf("p%d", i)
		single.Insert(id, v)
		sharded.Insert(id, v)
	}

	probe := randomVector(rng, 8)
	a, _ := single.Query(probe, 30, 0.1)
	b, _ := sharded.Query(probe, 30, 0.1)
	if !slices.Equal(a, b) {
		t.Errorf("sharded results differ from single shard:\n%v\n%v", a, b)
	}
}

func TestQuery_NoTornReadsDuringInsert(t *testing.T) {
	const dim = 256
	idx := New("torn", Options{Dim: dim, Shards: 2})

	// Every stored descriptor is constant across dimensions, so a torn write
	// would show up as a score below 1 against the all-ones probe.
	probe := make([]float32, dim)
	for i := range probe {
		probe[i] = 1
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)

	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := idx.Query(probe, 1000, 0)
				if err != nil {
					errs <- err
					return
				}
				for _, c := range got {
					if math.Abs(c.Score-1) > 1e-9 {
						errs <- fmt.Errorf("observed torn descriptor for %s: score %v", c.PhotoID, c.Score)
						return
					}
				}
			}
		})
	}

	for i := range 500 {
		d := make([]float32, dim)
		for j := range d {
			d[j] = float32(i%7 + 1)
		}
		if err := idx.Insert(fmt.Sprintf("p%d", i%50), d); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestQuery_HNSWCandidatesAreRescoredExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	exact := New("h", Options{Dim: 12})
	approx := New("h", Options{Dim: 12, HNSWMinEntries: 50})
	for i := range 150 {
		v := randomVector(rng, 12)
		id := fmt.Sprintf("p%03d", i)
		exact.Insert(id, v)
		approx.Insert(id, v)
	}

	probe := exact.Descriptor("p042")
	want, _ := exact.Query(probe, 5, 0.2)
	got, err := approx.Query(probe, 5, 0.2)
	if err != nil {
		t.Fatalf("HNSW query failed: %v", err)
	}

	if len(got) == 0 || got[0].PhotoID != "p042" || got[0].Score < 0.999 {
		t.Fatalf("expected the probe's own photo first, got %+v", got)
	}
	for i, c := range got {
		if i < len(want) && c.PhotoID == want[i].PhotoID && c.Score != want[i].Score {
			t.Errorf("score for %s differs from exact scoring: %v vs %v", c.PhotoID, c.Score, want[i].Score)
		}
	}

	again, _ := approx.Query(probe, 5, 0.2)
	if !slices.Equal(got, again) {
		t.Errorf("HNSW query not deterministic for the same snapshot")
	}
}

func TestQuery_BelowHNSWCutoffIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	exact := New("h", Options{Dim: 12})
	capped := New("h", Options{Dim: 12, HNSWMinEntries: 1000})
	for i := range 150 {
		v := randomVector(rng, 12)
		id := fmt.Sprintf("p%03d", i)
		exact.Insert(id, v)
		capped.Insert(id, v)
	}

	probe := exact.Descriptor("p007")
	want, _ := exact.Query(probe, 200, 0)
	got, err := capped.Query(probe, 200, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !slices.Equal(got, want) {
		t.Errorf("shards below the HNSW cutoff must return the exact result")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Similarity(tc.a, tc.b); math.Abs(got-tc.expected) > 1e-6 {
				t.Errorf("Similarity() = %v; want %v", got, tc.expected)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("expected distance 2 for opposite vectors, got %v", d)
	}
	if d := CosineDistance(nil, nil); d != 2 {
		t.Errorf("expected max distance for empty input, got %v", d)
	}
}

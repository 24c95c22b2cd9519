package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// FakeIndex is an in-memory Index for tests. It scores by cosine
// similarity over whatever has been upserted.
type FakeIndex struct {
	mu      sync.Mutex
	records []Record

	// UpsertErr and QueryErr, when set, make the corresponding call fail.
	UpsertErr error
	QueryErr  error
}

func NewFakeIndex() *FakeIndex {
	return &FakeIndex{}
}

func (f *FakeIndex) Upsert(ctx context.Context, rec Record) error {
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *FakeIndex) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error) {
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []Match
	for _, rec := range f.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		matches = append(matches, Match{
			Record:     rec,
			Similarity: cosineSimilarity(vector, rec.Vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Records returns a snapshot of everything upserted so far.
func (f *FakeIndex) Records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.records...)
}

func (f *FakeIndex) Close() error {
	return nil
}

func matchesFilter(rec Record, filter map[string]string) bool {
	for key, want := range filter {
		switch key {
		case "chat_id":
			if rec.ChatID != want {
				return false
			}
		case "user_id":
			if rec.UserID != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}

// Package memstore is a thread-safe, in-memory retrieval.Store for tests
// and local development. State does not persist past process lifetime.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/coursetutor/ragdebate/retrieval"
)

// Document is one chunk seeded into the store.
type Document struct {
	CourseID string
	Content  string
	Vector   []float32
	Source   string
	Metadata map[string]any
}

// Store is an in-memory retrieval.Store scoring by cosine similarity
// against a caller-supplied query embedding function.
type Store struct {
	mu    sync.RWMutex
	docs  []Document
	embed func(ctx context.Context, text string) ([]float32, error)
}

// New constructs an empty Store. embed computes a query vector;
// documents are seeded pre-embedded via Add.
func New(embed func(ctx context.Context, text string) ([]float32, error)) *Store {
	return &Store{embed: embed}
}

// Add seeds a document into the store.
func (s *Store) Add(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
}

// Search implements retrieval.Store.
func (s *Store) Search(ctx context.Context, courseID, query string, k int) ([]retrieval.Result, error) {
	k = retrieval.NormalizeK(k)

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, retrieval.Unavailable(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]retrieval.Result, 0, len(s.docs))
	for _, d := range s.docs {
		if d.CourseID != courseID {
			continue
		}
		results = append(results, retrieval.Result{
			Content:  d.Content,
			Score:    cosineSimilarity(queryVec, d.Vector),
			Source:   d.Source,
			Metadata: d.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DebugList implements retrieval.Store: unfiltered, insertion order.
func (s *Store) DebugList(ctx context.Context, k int) ([]retrieval.Result, error) {
	k = retrieval.NormalizeK(k)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]retrieval.Result, 0, k)
	for i, d := range s.docs {
		if i >= k {
			break
		}
		results = append(results, retrieval.Result{
			Content:  d.Content,
			Source:   d.Source,
			Metadata: d.Metadata,
		})
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	return sim
}

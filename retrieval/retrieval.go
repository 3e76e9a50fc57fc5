// Package retrieval defines the thin vector-store interface the
// speculative retrieval chain is built on: a similarity-search store,
// scoped by course.
package retrieval

import (
	"context"
	"fmt"

	"github.com/coursetutor/ragdebate/ragerr"
)

// Result is one retrieved chunk, score preserved verbatim end-to-end;
// the adapter never collapses or normalizes scores across queries.
type Result struct {
	Content  string
	Score    float64
	Source   string
	Metadata map[string]any
}

// Store is the adapter over an external vector store.
type Store interface {
	// Search returns the top-k RetrievalResults for query, filtered to
	// courseID. k defaults to 5 when callers pass k<=0. Returns
	// ragerr.ErrRetrievalUnavailable if the underlying store cannot be
	// reached; callers treat this as an empty-result, zero-quality
	// outcome rather than aborting.
	Search(ctx context.Context, courseID, query string, k int) ([]Result, error)

	// DebugList returns an unfiltered top-k across all courses, for
	// diagnostics only.
	DebugList(ctx context.Context, k int) ([]Result, error)
}

const defaultK = 5

// NormalizeK applies the "k defaults to 5" rule for non-positive k.
func NormalizeK(k int) int {
	if k <= 0 {
		return defaultK
	}
	return k
}

// CanonicalSource formats the "<document_id>:chunk_<index>" source tag.
func CanonicalSource(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:chunk_%d", documentID, chunkIndex)
}

// Unavailable wraps ragerr.ErrRetrievalUnavailable with adapter context.
func Unavailable(cause error) error {
	return fmt.Errorf("%w: %s", ragerr.ErrRetrievalUnavailable, cause.Error())
}

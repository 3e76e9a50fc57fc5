// Package qdrant adapts github.com/qdrant/go-client to retrieval.Store.
package qdrant

import (
	"context"
	"fmt"

	qdrantsdk "github.com/qdrant/go-client/qdrant"

	"github.com/coursetutor/ragdebate/retrieval"
)

// Config configures the Qdrant-backed course store.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Embed      func(ctx context.Context, text string) ([]float32, error)
}

// Store implements retrieval.Store against a Qdrant collection. Course
// scoping is implemented as a payload filter on a "course_id" field
// rather than per-course collections, so debug_list can scan the whole
// collection unfiltered.
type Store struct {
	client     *qdrantsdk.Client
	collection string
	embed      func(ctx context.Context, text string) ([]float32, error)
}

// New dials the Qdrant gRPC endpoint described by cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrantsdk.NewClient(&qdrantsdk.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Store{client: client, collection: cfg.Collection, embed: cfg.Embed}, nil
}

// Search implements retrieval.Store.
func (s *Store) Search(ctx context.Context, courseID, query string, k int) ([]retrieval.Result, error) {
	k = retrieval.NormalizeK(k)

	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, retrieval.Unavailable(err)
	}

	resp, err := s.client.GetPointsClient().Search(ctx, &qdrantsdk.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    qdrantsdk.NewWithPayload(true),
		Filter:         courseFilter(courseID),
	})
	if err != nil {
		return nil, retrieval.Unavailable(err)
	}

	return convertPoints(resp.Result), nil
}

// DebugList implements retrieval.Store: an unfiltered scroll over the
// collection, ordered however Qdrant returns points (no similarity
// ranking applies without a query vector).
func (s *Store) DebugList(ctx context.Context, k int) ([]retrieval.Result, error) {
	k = retrieval.NormalizeK(k)

	limit := uint32(k)
	resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrantsdk.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &limit,
		WithPayload:    qdrantsdk.NewWithPayload(true),
	})
	if err != nil {
		return nil, retrieval.Unavailable(err)
	}
	return convertScrollPoints(resp.Result), nil
}

func courseFilter(courseID string) *qdrantsdk.Filter {
	return &qdrantsdk.Filter{
		Must: []*qdrantsdk.Condition{
			{
				ConditionOneOf: &qdrantsdk.Condition_Field{
					Field: &qdrantsdk.FieldCondition{
						Key: "course_id",
						Match: &qdrantsdk.Match{
							MatchValue: &qdrantsdk.Match_Keyword{Keyword: courseID},
						},
					},
				},
			},
		},
	}
}

func convertPoints(points []*qdrantsdk.ScoredPoint) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(points))
	for _, p := range points {
		out = append(out, toResult(p.Payload, float64(p.Score), pointID(p.Id)))
	}
	return out
}

func convertScrollPoints(points []*qdrantsdk.RetrievedPoint) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(points))
	for _, p := range points {
		out = append(out, toResult(p.Payload, 0, pointID(p.Id)))
	}
	return out
}

func pointID(id *qdrantsdk.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrantsdk.PointId_Uuid:
		return v.Uuid
	case *qdrantsdk.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func toResult(payload map[string]*qdrantsdk.Value, score float64, id string) retrieval.Result {
	metadata := make(map[string]any, len(payload))
	var content, docID string
	var chunkIndex int
	for key, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrantsdk.Value_StringValue:
			metadata[key] = val.StringValue
			if key == "content" {
				content = val.StringValue
			}
			if key == "document_id" {
				docID = val.StringValue
			}
		case *qdrantsdk.Value_IntegerValue:
			metadata[key] = val.IntegerValue
			if key == "chunk_index" {
				chunkIndex = int(val.IntegerValue)
			}
		case *qdrantsdk.Value_DoubleValue:
			metadata[key] = val.DoubleValue
		case *qdrantsdk.Value_BoolValue:
			metadata[key] = val.BoolValue
		}
	}

	source := id
	if docID != "" {
		source = retrieval.CanonicalSource(docID, chunkIndex)
	}

	return retrieval.Result{Content: content, Score: score, Source: source, Metadata: metadata}
}

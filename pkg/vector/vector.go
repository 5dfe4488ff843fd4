// Package vector provides the embedding storage backends behind knowledge
// bases. A Backend holds named collections of records; similarity search uses
// cosine distance, where lower means more similar.
package vector

import (
	"context"
	"math"

	"github.com/liliang-cn/ragroom/pkg/domain"
)

// Record is one stored chunk: its text, its embedding and the bookkeeping
// metadata used to detect already-ingested documents.
type Record struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Vector   []float64      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Backend stores and searches records grouped into collections. Where
// filters are equality matches on metadata keys, all of which must hold.
type Backend interface {
	// Get returns the records whose metadata matches every entry of where.
	// A nil or empty where returns the whole collection.
	Get(ctx context.Context, collection string, where map[string]any) ([]Record, error)

	// Add inserts records, failing on duplicate IDs is not required; Update
	// semantics apply when an ID already exists.
	Add(ctx context.Context, collection string, records []Record) error

	// Update overwrites existing records by ID.
	Update(ctx context.Context, collection string, records []Record) error

	// SimilaritySearch returns up to k records closest to vector, ordered by
	// ascending cosine distance.
	SimilaritySearch(ctx context.Context, collection string, vector []float64, k int) ([]domain.RetrievedDocument, error)

	// DeleteCollection removes a collection and all its records.
	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

// CosineDistance returns 1 - cos(a, b). Zero-magnitude vectors are treated
// as maximally distant.
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func matchesWhere(metadata, where map[string]any) bool {
	for key, want := range where {
		got, ok := metadata[key]
		if !ok || !looselyEqual(got, want) {
			return false
		}
	}
	return true
}

// looselyEqual compares metadata values across the numeric widenings JSON
// round-trips introduce.
func looselyEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

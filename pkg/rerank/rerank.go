// Package rerank filters RAG lookup hits down to the distinct, relevant
// documents that get injected into the model context.
package rerank

import (
	"context"
	"sort"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/vector"
)

// Rerank prunes retrieved documents in three passes: drop everything past
// the irrelevance distance threshold, keep only documents close to the best
// score, then collapse near-duplicate content, keeping the best-scoring
// member of each duplicate group. Input order is preserved. Scores use
// distance semantics, lower is more relevant.
func Rerank(ctx context.Context, documents []domain.RetrievedDocument, embedder domain.Embedder, settings domain.RAGSettings) ([]domain.RetrievedDocument, error) {
	var relevant []domain.RetrievedDocument
	for _, doc := range documents {
		if doc.SimilarityScore < settings.CosineDistanceIrrelevance {
			relevant = append(relevant, doc)
		}
	}
	if len(relevant) == 0 {
		return relevant, nil
	}

	minScore := relevant[0].SimilarityScore
	for _, doc := range relevant[1:] {
		if doc.SimilarityScore < minScore {
			minScore = doc.SimilarityScore
		}
	}
	var candidates []domain.RetrievedDocument
	for _, doc := range relevant {
		if doc.SimilarityScore < minScore+settings.ScoreMargin {
			candidates = append(candidates, doc)
		}
	}

	embeddings := make([][]float64, len(candidates))
	for i, doc := range candidates {
		vec, err := embedder.Embed(ctx, doc.Content)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}

	// Pairwise content similarity; a group is every candidate whose content
	// sits above the similarity threshold relative to one candidate.
	var groups [][]int
	for i := range embeddings {
		var group []int
		for j := range embeddings {
			similarity := vector.CosineSimilarity(embeddings[i], embeddings[j])
			if similarity > settings.SimilarityScoreThreshold {
				group = append(group, j)
			}
		}
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	groups = dedupeGroups(groups)

	skip := make(map[int]bool)
	for _, group := range groups {
		best := -1
		for _, idx := range group {
			if best == -1 {
				best = idx
				continue
			}
			if candidates[idx].SimilarityScore < candidates[best].SimilarityScore {
				skip[best] = true
				best = idx
			} else {
				skip[idx] = true
			}
		}
	}

	var result []domain.RetrievedDocument
	for i, doc := range candidates {
		if !skip[i] {
			result = append(result, doc)
		}
	}
	return result, nil
}

// dedupeGroups sorts the groups and removes consecutive duplicates, so the
// same duplicate set discovered from several members is handled once.
func dedupeGroups(groups [][]int) [][]int {
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})

	var out [][]int
	for _, group := range groups {
		if len(out) > 0 && equalInts(out[len(out)-1], group) {
			continue
		}
		out = append(out, group)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

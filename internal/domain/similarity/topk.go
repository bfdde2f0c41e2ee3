// Package similarity ranks candidate vectors against a query vector.
package similarity

import (
	"sort"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
)

// Candidate pairs an item with its embedding.
type Candidate[T any] struct {
	Item   T
	Vector []float32
}

// Scored pairs an item with its similarity to the query.
type Scored[T any] struct {
	Item  T
	Score float64
}

// TopK returns at most k candidates ordered by descending dot-product score.
// Ties keep input order. Vectors are assumed unit-normalized upstream, so the
// dot product is the cosine similarity; only zero vectors are guarded against.
// An empty or zero-norm query yields no results. Candidates whose dimensionality
// differs from the query, or whose vector is zero, are skipped.
func TopK[T any](query []float32, candidates []Candidate[T], k int) []Scored[T] {
	if len(query) == 0 || k <= 0 || domain.IsZero(query) {
		return nil
	}

	scored := make([]Scored[T], 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) || domain.IsZero(c.Vector) {
			continue
		}
		score, err := domain.Dot(query, c.Vector)
		if err != nil {
			continue
		}
		scored = append(scored, Scored[T]{Item: c.Item, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

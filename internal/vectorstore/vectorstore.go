package vectorstore

import (
	"context"
	"math"

	"localrag/internal/models"
)

// Entry pairs a document with its embedding.
type Entry struct {
	Doc    models.Document
	Vector []float32
}

// Result is a single nearest-neighbor match, most similar first.
type Result struct {
	Doc   models.Document
	Score float64
}

// Meta describes a store instance. Every vector in one store has the same
// dimension, produced by the same embedding model.
type Meta struct {
	Model     string
	Dim       int
	Documents int
}

// Store holds (document, embedding) pairs and answers similarity queries.
// Implementations must make Add atomic: either all entries are durably
// written or none are.
type Store interface {
	Meta(ctx context.Context) (Meta, error)
	Sources(ctx context.Context) (map[string]struct{}, error)
	Add(ctx context.Context, model string, entries []Entry) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Reset(ctx context.Context) error
	Close() error
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK partially sorts results so the first k entries are the best scores
// in descending order.
func topK(results []Result, k int) []Result {
	if k <= 0 {
		return nil
	}
	if k > len(results) {
		k = len(results)
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[best].Score {
				best = j
			}
		}
		results[i], results[best] = results[best], results[i]
	}
	return results[:k]
}

// Package vector ranks chunks by embedding similarity and manages the
// Weaviate class used by the alternative chunk store.
package vector

import (
	"math"
	"sort"

	"finsight/internal/chunk"
)

const (
	DefaultThreshold = 0.6
	DefaultTopK      = 15
)

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, empty vectors and zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type Scored struct {
	Chunk chunk.Chunk
	Score float64
}

// Rank scores chunks against query, keeps those scoring strictly above
// threshold and returns at most topK in descending score order. Ties keep
// input order.
func Rank(query []float32, chunks []chunk.Chunk, threshold float64, topK int) []Scored {
	if topK <= 0 {
		topK = DefaultTopK
	}
	var out []Scored
	for _, c := range chunks {
		s := Cosine(query, c.Embedding)
		if s <= threshold {
			continue
		}
		out = append(out, Scored{Chunk: c, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

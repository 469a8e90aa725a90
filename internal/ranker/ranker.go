// Package ranker orders projects by cosine similarity to a query vector.
//
// Ranking is a brute-force scan: every entry is scored against the query and
// the result is sorted by descending score. Ties are broken by ascending
// project ID so that a fixed corpus and query always produce the same order.
// Cost is O(n·D) per query, which is fine for corpora of a few thousand
// projects.
package ranker

import (
	"cmp"
	"math"
	"slices"
)

// Entry is a project ID paired with its stored embedding
type Entry struct {
	ProjectID int64
	Vector    []float32
}

// Scored is a ranked entry
type Scored struct {
	ProjectID int64
	Score     float64
}

// Cosine computes dot(a,b) / (|a|·|b|).
// A zero-norm operand or a length mismatch yields 0, never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// Rank scores every entry against query and sorts the result.
// The input slice and its vectors are not modified.
func Rank(query []float32, entries []Entry) []Scored {
	scored := make([]Scored, len(entries))
	for i, e := range entries {
		scored[i] = Scored{ProjectID: e.ProjectID, Score: Cosine(query, e.Vector)}
	}
	SortScored(scored)
	return scored
}

// SortScored sorts by descending score, then ascending project ID
func SortScored(scored []Scored) {
	slices.SortFunc(scored, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ProjectID, b.ProjectID)
	})
}

// TopK truncates a ranked slice to at most k entries. k <= 0 keeps everything.
func TopK(scored []Scored, k int) []Scored {
	if k <= 0 || k >= len(scored) {
		return scored
	}
	return scored[:k]
}

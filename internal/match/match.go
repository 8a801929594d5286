// Package match decides which enrolled identity, if any, a face embedding belongs to.
package match

import (
	"math"

	"github.com/andresmejia3/facevote/internal/faceset"
	"github.com/andresmejia3/facevote/internal/types"
)

// DefaultThreshold is face_recognition's default tolerance.
const DefaultThreshold = 0.6

// UnknownLabel is what annotations show for an unidentified face.
const UnknownLabel = "Unknown"

// Result is the outcome of Match. The zero value is Unknown.
type Result struct {
	Label string
	Votes int
}

// Identified reports whether a label was found.
func (r Result) Identified() bool {
	return r.Votes > 0
}

func (r Result) String() string {
	if !r.Identified() {
		return UnknownLabel
	}
	return r.Label
}

// Distance is the Euclidean distance between two embeddings. Vectors of different length are
// infinitely far apart.
func Distance(a, b types.Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Distances returns the distance from candidate to each known embedding, in order.
func Distances(known []types.Embedding, candidate types.Embedding) []float64 {
	out := make([]float64, len(known))
	for i, k := range known {
		out[i] = Distance(k, candidate)
	}
	return out
}

// Compare flags each known embedding whose distance to candidate is within threshold.
func Compare(known []types.Embedding, candidate types.Embedding, threshold float64) ([]bool, []float64) {
	distances := Distances(known, candidate)
	matches := make([]bool, len(distances))
	for i, d := range distances {
		matches[i] = d <= threshold
	}
	return matches, distances
}

// Match runs the vote: every stored embedding within threshold gives one vote to its label, and
// the label with the most votes wins. Ties go to the label whose first entry comes earliest in
// the set, whether or not that entry matched.
func Match(unknown types.Embedding, set *faceset.LabeledFaceSet, threshold float64) Result {
	if set.Len() == 0 {
		return Result{}
	}

	matches, _ := Compare(set.Encodings, unknown, threshold)

	votes := make(map[string]int)
	var order []string
	for i, name := range set.Names {
		if _, seen := votes[name]; !seen {
			order = append(order, name)
			votes[name] = 0
		}
		if matches[i] {
			votes[name]++
		}
	}

	var best Result
	for _, name := range order {
		if votes[name] > best.Votes {
			best = Result{Label: name, Votes: votes[name]}
		}
	}
	return best
}

package match

import (
	"math"
	"testing"

	"github.com/andresmejia3/facevote/internal/faceset"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/stretchr/testify/assert"
)

func newSet(names []string, vecs ...types.Embedding) *faceset.LabeledFaceSet {
	return &faceset.LabeledFaceSet{Names: names, Encodings: vecs}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Embedding
		want float64
	}{
		{"identical", types.Embedding{0.3, 0.4}, types.Embedding{0.3, 0.4}, 0},
		{"3-4-5", types.Embedding{0, 0}, types.Embedding{3, 4}, 5},
		{"empty", types.Embedding{}, types.Embedding{}, 0},
		{"length mismatch", types.Embedding{1}, types.Embedding{1, 2}, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestCompareUsesInclusiveThreshold(t *testing.T) {
	known := []types.Embedding{{0, 0}, {0.6, 0}, {0.7, 0}}
	matches, distances := Compare(known, types.Embedding{0, 0}, 0.6)
	assert.Equal(t, []bool{true, true, false}, matches)
	assert.InDeltaSlice(t, []float64{0, 0.6, 0.7}, distances, 1e-12)
}

func TestMatchExactEmbeddingReturnsItsLabel(t *testing.T) {
	set := newSet([]string{"alice", "bob", "carol"},
		types.Embedding{0, 0, 0},
		types.Embedding{5, 5, 5},
		types.Embedding{-5, 5, -5},
	)
	for i, vec := range set.Encodings {
		for _, threshold := range []float64{0, 0.01, DefaultThreshold} {
			got := Match(vec, set, threshold)
			assert.Equal(t, set.Names[i], got.Label, "threshold %v", threshold)
			assert.True(t, got.Identified())
		}
	}
}

func TestMatchEmptySetIsUnknown(t *testing.T) {
	for _, threshold := range []float64{0, 0.6, 100} {
		got := Match(types.Embedding{1, 2, 3}, &faceset.LabeledFaceSet{}, threshold)
		assert.False(t, got.Identified())
		assert.Equal(t, UnknownLabel, got.String())
	}
	assert.False(t, Match(types.Embedding{1}, nil, 1).Identified())
}

func TestMatchNoneWithinThreshold(t *testing.T) {
	set := newSet([]string{"alice"}, types.Embedding{10, 10})
	got := Match(types.Embedding{0, 0}, set, DefaultThreshold)
	assert.Equal(t, Result{}, got)
}

func TestMatchVoting(t *testing.T) {
	near := types.Embedding{0, 0}
	far := types.Embedding{9, 9}
	query := types.Embedding{0.1, 0}

	tests := []struct {
		name  string
		names []string
		vecs  []types.Embedding
		want  Result
	}{
		{
			name:  "two votes beat one",
			names: []string{"A", "A", "B", "B"},
			vecs:  []types.Embedding{near, near, near, far},
			want:  Result{Label: "A", Votes: 2},
		},
		{
			name:  "tie goes to the label seen first",
			names: []string{"A", "A", "B", "B"},
			vecs:  []types.Embedding{near, far, near, far},
			want:  Result{Label: "A", Votes: 1},
		},
		{
			name:  "tie goes to first appearance even when that entry did not match",
			names: []string{"A", "B", "A"},
			vecs:  []types.Embedding{far, near, near},
			want:  Result{Label: "A", Votes: 1},
		},
		{
			name:  "majority wins regardless of position",
			names: []string{"A", "B", "B", "B"},
			vecs:  []types.Embedding{near, near, near, near},
			want:  Result{Label: "B", Votes: 3},
		},
		{
			name:  "votes counted per embedding not per identity",
			names: []string{"A", "B", "B", "B", "B", "B"},
			vecs:  []types.Embedding{near, near, near, near, near, near},
			want:  Result{Label: "B", Votes: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(query, newSet(tt.names, tt.vecs...), DefaultThreshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

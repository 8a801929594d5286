// Package faceset persists the table of enrolled faces: an ordered list of (label, embedding)
// pairs. The order is significant since the matcher breaks vote ties by first appearance.
package faceset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facevote/internal/domain"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/google/renameio"
)

// LabeledFaceSet holds parallel label and embedding lists. Labels repeat once per enrolled face.
type LabeledFaceSet struct {
	Names     []string          `json:"names"`
	Encodings []types.Embedding `json:"encodings"`
}

// Append adds one enrolled face to the end of the set.
func (s *LabeledFaceSet) Append(name string, vec types.Embedding) {
	s.Names = append(s.Names, name)
	s.Encodings = append(s.Encodings, vec)
}

// Len returns the number of stored embeddings.
func (s *LabeledFaceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Names)
}

// Dim returns the embedding dimensionality, or 0 for an empty set.
func (s *LabeledFaceSet) Dim() int {
	if s.Len() == 0 {
		return 0
	}
	return len(s.Encodings[0])
}

// LabelCount is one row of Summary.
type LabelCount struct {
	Name  string
	Count int
}

// Summary counts embeddings per label, in order of first appearance.
func (s *LabeledFaceSet) Summary() []LabelCount {
	idx := make(map[string]int)
	var out []LabelCount
	for _, name := range s.Names {
		i, ok := idx[name]
		if !ok {
			i = len(out)
			idx[name] = i
			out = append(out, LabelCount{Name: name})
		}
		out[i].Count++
	}
	return out
}

// validate checks the shape invariants: parallel lists of equal length and a single dimensionality.
func (s *LabeledFaceSet) validate() error {
	if len(s.Names) != len(s.Encodings) {
		return fmt.Errorf("%d names but %d encodings", len(s.Names), len(s.Encodings))
	}
	dim := s.Dim()
	for i, vec := range s.Encodings {
		if len(vec) == 0 {
			return fmt.Errorf("encoding %d is empty", i)
		}
		if len(vec) != dim {
			return fmt.Errorf("encoding %d has dimension %d, expected %d", i, len(vec), dim)
		}
	}
	return nil
}

// Save writes the set to path, replacing any existing file. The file is written to a temporary
// sibling and renamed into place, so readers never see a partial write.
func Save(s *LabeledFaceSet, path string) error {
	if s == nil {
		s = &LabeledFaceSet{}
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("refusing to save inconsistent face set: %w", err)
	}

	// Normalise nil slices so an empty set serialises as [] rather than null.
	out := LabeledFaceSet{Names: s.Names, Encodings: s.Encodings}
	if out.Names == nil {
		out.Names = []string{}
	}
	if out.Encodings == nil {
		out.Encodings = []types.Embedding{}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode face set: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Load reads a set written by Save.
func Load(path string) (*LabeledFaceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrStoreNotFound.WithError(err)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw struct {
		Names     *[]string          `json:"names"`
		Encodings *[]types.Embedding `json:"encodings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.ErrStoreCorrupt.WithError(err)
	}
	if raw.Names == nil || raw.Encodings == nil {
		return nil, domain.ErrStoreCorrupt.WithError(errors.New("missing names or encodings"))
	}

	s := LabeledFaceSet{Names: *raw.Names, Encodings: *raw.Encodings}
	if err := s.validate(); err != nil {
		return nil, domain.ErrStoreCorrupt.WithError(err)
	}
	return &s, nil
}

package types

import (
	"fmt"
	"image"
)

// Model selects the face detector variant used by the external library.
type Model string

const (
	// ModelFast is the HOG detector (CPU).
	ModelFast Model = "fast"
	// ModelAccurate is the CNN detector (GPU when available).
	ModelAccurate Model = "accurate"
)

// ParseModel accepts the CLI names as well as the library's own names (hog, cnn).
func ParseModel(s string) (Model, error) {
	switch s {
	case "fast", "hog":
		return ModelFast, nil
	case "accurate", "cnn":
		return ModelAccurate, nil
	}
	return "", fmt.Errorf("unknown model %q (want fast or accurate)", s)
}

// LibraryName is the name face_recognition uses for the detector.
func (m Model) LibraryName() string {
	if m == ModelAccurate {
		return "cnn"
	}
	return "hog"
}

// BoundingBox is a face location in source-image pixels, ordered as the detector reports it.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// BoxFromRect is the inverse of Rect.
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.Left, b.Top, b.Right, b.Bottom)
}

// Embedding is a fixed-length face descriptor produced by the external embedder.
type Embedding []float64

// FaceResult pairs a detected face with its embedding.
type FaceResult struct {
	Box BoundingBox `json:"box"`
	Vec Embedding   `json:"vec"`
}

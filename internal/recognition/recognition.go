// Package recognition holds the enrolled face catalog and the matching rules
// applied to faces found by an Engine.
package recognition

import (
	"context"
	"errors"
	"image"
	"math"
	"strings"
)

// UnknownLabel is assigned to faces that match no catalog entry
const UnknownLabel = "UNKNOWN"

// DefaultTolerance is the distance at or below which two embeddings belong to the same person
const DefaultTolerance = 0.6

// ErrEmbeddingSize is returned when two embeddings of different length are compared
var ErrEmbeddingSize = errors.New("embedding length mismatch")

// Embedding is the fixed-length vector describing one face
type Embedding []float32

// Face is a face found by an Engine
type Face struct {
	// Region is the bounding box in the coordinates of the image given to the engine
	Region image.Rectangle

	// Embedding describes the identity-relevant features of the face
	Embedding Embedding
}

// Engine detects faces and extracts one embedding per face.
type Engine interface {
	// Recognize returns every face found in img. An image without faces yields an empty slice.
	Recognize(ctx context.Context, img image.Image) ([]Face, error)

	// Close releases the engine's resources
	Close() error
}

// Entry is one enrolled reference face
type Entry struct {
	Label     string    `json:"label"`
	Embedding Embedding `json:"-"`
}

// Match is the result of comparing one face against the catalog
type Match struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
	Known    bool    `json:"known"`
}

// Distance returns the Euclidean distance between two embeddings
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrEmbeddingSize
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Distances compares probe with every embedding and keeps the input order.
// Entries of a different length get +Inf so they can never win.
func Distances(known []Embedding, probe Embedding) []float64 {
	out := make([]float64, len(known))
	for i, k := range known {
		d, err := Distance(k, probe)
		if err != nil {
			d = math.Inf(1)
		}
		out[i] = d
	}
	return out
}

// DisplayLabel is the text drawn in the label strip of a face
func (m Match) DisplayLabel() string {
	return strings.ToUpper(m.Label)
}

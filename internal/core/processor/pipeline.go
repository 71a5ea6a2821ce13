package processor

import (
	"context"
	"fmt"
	"image"
	"math"

	"esp32-facecam/internal/core/models"
	"esp32-facecam/internal/imaging"
	"esp32-facecam/internal/recognition"
)

// PipelineOptions tunes the per-frame work
type PipelineOptions struct {
	// Tolerance is the maximum embedding distance accepted as a match
	Tolerance float64

	// Downscale is applied to each frame before detection
	Downscale float64
}

// Pipeline turns one frame into an annotated frame and its face results
type Pipeline struct {
	engine    recognition.Engine
	catalog   *recognition.Catalog
	tolerance float64
	downscale float64
}

// Result is the outcome of one processed frame
type Result struct {
	Image image.Image
	Faces []models.FaceResult
}

// NewPipeline creates a pipeline matching against a fixed catalog
func NewPipeline(engine recognition.Engine, catalog *recognition.Catalog, opts PipelineOptions) *Pipeline {
	if opts.Tolerance <= 0 {
		opts.Tolerance = recognition.DefaultTolerance
	}
	if opts.Downscale <= 0 || opts.Downscale > 1 {
		opts.Downscale = 0.25
	}
	return &Pipeline{
		engine:    engine,
		catalog:   catalog,
		tolerance: opts.Tolerance,
		downscale: opts.Downscale,
	}
}

// Catalog returns the catalog used for matching
func (p *Pipeline) Catalog() *recognition.Catalog {
	return p.catalog
}

// Process detects, matches and annotates the faces of frame.
// A frame without faces is returned as is.
func (p *Pipeline) Process(ctx context.Context, frame image.Image) (*Result, error) {
	small := imaging.Downscale(frame, p.downscale)

	faces, err := p.engine.Recognize(ctx, small)
	if err != nil {
		return nil, fmt.Errorf("face recognition failed: %w", err)
	}

	origin := frame.Bounds().Min
	smallOrigin := small.Bounds().Min
	results := make([]models.FaceResult, 0, len(faces))
	annotations := make([]imaging.Annotation, 0, len(faces))

	for _, face := range faces {
		match := p.catalog.Match(face.Embedding, p.tolerance)
		region := recognition.ScaleRect(face.Region.Sub(smallOrigin), 1/p.downscale).Add(origin)

		distance := match.Distance
		if math.IsInf(distance, 0) {
			distance = models.NoDistance
		}

		results = append(results, models.FaceResult{
			Label:    match.Label,
			Distance: distance,
			Known:    match.Known,
			Box:      models.BoxFromRect(region),
		})
		annotations = append(annotations, imaging.Annotation{
			Region: region,
			Label:  match.DisplayLabel(),
		})
	}

	return &Result{
		Image: imaging.Annotate(frame, annotations),
		Faces: results,
	}, nil
}

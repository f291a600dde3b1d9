package ocr

import (
	"context"
	"image"
)

// Engine is the text line source consumed by the locator and selector.
//
// Detect runs a full-image pass for the given languages and drops lines below
// minConfidence. DetectRegion restricts detection to a pixel rectangle with
// multi-crop voting: `votes` crops with growing padding are attempted and the
// crop whose lines carry the highest average confidence wins. Returned line
// coordinates are always in full-image space.
type Engine interface {
	Detect(ctx context.Context, img image.Image, langs []Language, minConfidence float64) ([]TextLine, error)
	DetectRegion(ctx context.Context, img image.Image, region Rect, langs []Language, minConfidence float64, padding, votes int) ([]TextLine, error)

	// Warmup runs one throwaway inference so the first real document does not
	// pay the engine initialization cost. Call once at process start.
	Warmup(ctx context.Context) error

	Close() error
}

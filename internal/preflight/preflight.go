/**
 * Preflight image checks and enhancement
 *
 * Rejects images too blurry to OCR reliably, then applies a contrast and
 * sharpening chain tuned for printed cheque text.
 */

package preflight

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/chequeflow/cheque-worker/internal/errors"
)

// Config holds preflight thresholds
type Config struct {
	// BlurThreshold is the Laplacian variance below which an image is
	// considered blurry and rejected.
	BlurThreshold float64
}

// DefaultConfig mirrors production settings
func DefaultConfig() Config {
	return Config{BlurThreshold: 120.0}
}

// Meta carries preflight measurements for audit
type Meta struct {
	BlurVariance float64 `json:"blur_variance"`
}

// Process runs the preflight pipeline on a single image. It returns the
// enhanced image and measurements, or PREFLIGHT_REJECTED when sharpness is
// below threshold.
func Process(img image.Image, cfg Config, fileID string) (image.Image, Meta, error) {
	gray := imaging.Grayscale(img)

	blurVar := laplacianVariance(gray)
	meta := Meta{BlurVariance: blurVar}
	if blurVar < cfg.BlurThreshold {
		return nil, meta, errors.NewPreflightRejectedError(fileID, blurVar, cfg.BlurThreshold)
	}

	enhanced := imaging.AdjustContrast(gray, 30)
	enhanced = imaging.Sharpen(enhanced, 1.5)
	enhanced = imaging.AdjustBrightness(enhanced, 10)
	enhanced = imaging.AdjustGamma(enhanced, 1.2)

	return enhanced, meta, nil
}

// laplacianVariance measures sharpness as the variance of the 4-neighbor
// Laplacian over the grayscale image.
func laplacianVariance(img *image.NRGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	// Grayscale NRGBA stores identical R/G/B; read the red channel.
	lum := func(x, y int) float64 {
		return float64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	n := 0
	sum := 0.0
	sumSq := 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := lum(x-1, y) + lum(x+1, y) + lum(x, y-1) + lum(x, y+1) - 4*lum(x, y)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

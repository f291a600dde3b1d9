/**
 * Tesseract text line source
 *
 * Wraps gosseract with line-level bounding boxes. One client is created per
 * call; gosseract clients are not safe for concurrent reuse, and creation is
 * cheap next to inference.
 */

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine implements Engine on top of a local tesseract install
type TesseractEngine struct {
	tessdataPrefix string
	warmupOnce     sync.Once
	warmupErr      error
}

// TesseractConfig holds engine configuration
type TesseractConfig struct {
	// TessdataPrefix points tesseract at a non-default traineddata
	// directory; empty uses the system default.
	TessdataPrefix string
}

// NewTesseractEngine creates a new Tesseract-backed engine
func NewTesseractEngine(cfg *TesseractConfig) (*TesseractEngine, error) {
	return &TesseractEngine{
		tessdataPrefix: cfg.TessdataPrefix,
	}, nil
}

func tessLang(lang Language) string {
	if lang == LangArabic {
		return "ara"
	}
	return "eng"
}

// Warmup runs a throwaway inference on a small synthetic image
func (t *TesseractEngine) Warmup(ctx context.Context) error {
	t.warmupOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 120, 40))
		for y := 0; y < 40; y++ {
			for x := 0; x < 120; x++ {
				img.Set(x, y, color.White)
			}
		}
		_, t.warmupErr = t.Detect(ctx, img, []Language{LangLatin}, 0)
	})
	return t.warmupErr
}

// Close releases engine resources
func (t *TesseractEngine) Close() error {
	return nil
}

// Detect runs a full-image pass per requested language and merges the results
func (t *TesseractEngine) Detect(ctx context.Context, img image.Image, langs []Language, minConfidence float64) ([]TextLine, error) {
	if len(langs) == 0 {
		langs = []Language{LangLatin}
	}

	encoded, err := encodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	var out []TextLine
	for _, lang := range langs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := t.detectOnce(encoded, lang, minConfidence)
		if err != nil {
			return nil, fmt.Errorf("tesseract detection failed (lang=%s): %w", lang, err)
		}
		out = append(out, lines...)
	}
	return out, nil
}

// DetectRegion runs bounded multi-crop voting over a pixel rectangle
func (t *TesseractEngine) DetectRegion(ctx context.Context, img image.Image, region Rect, langs []Language, minConfidence float64, padding, votes int) ([]TextLine, error) {
	if votes < 1 {
		votes = 1
	}
	if votes > 5 {
		votes = 5
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var best []TextLine
	bestAvg := -1.0
	for i := 0; i < votes; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pad := padding * (i + 1)
		crop := region.Pad(pad).Clip(w, h)
		sub := imaging.Crop(img, image.Rect(crop.X1, crop.Y1, crop.X2, crop.Y2))

		encoded, err := encodePNG(sub)
		if err != nil {
			return nil, fmt.Errorf("failed to encode crop: %w", err)
		}

		var lines []TextLine
		for _, lang := range langs {
			got, err := t.detectOnce(encoded, lang, minConfidence)
			if err != nil {
				return nil, fmt.Errorf("tesseract region detection failed (lang=%s): %w", lang, err)
			}
			lines = append(lines, got...)
		}
		if len(lines) == 0 {
			continue
		}

		// Translate crop-local coordinates back into full-image space
		for j := range lines {
			lines[j].Center.X += crop.X1
			lines[j].Center.Y += crop.Y1
			for k := range lines[j].Polygon {
				lines[j].Polygon[k].X += crop.X1
				lines[j].Polygon[k].Y += crop.Y1
			}
		}

		sum := 0.0
		for _, ln := range lines {
			sum += ln.Confidence
		}
		avg := sum / float64(len(lines))
		if avg > bestAvg {
			bestAvg = avg
			best = lines
		}
	}
	return best, nil
}

func (t *TesseractEngine) detectOnce(encoded []byte, lang Language, minConfidence float64) ([]TextLine, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.tessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(tessLang(lang)); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(encoded); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to get bounding boxes: %w", err)
	}

	lines := make([]TextLine, 0, len(boxes))
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		if conf < minConfidence {
			continue
		}
		text := b.Word
		if text == "" {
			continue
		}
		if lang == LangArabic {
			text = FixArabicText(text)
		} else {
			text = NormalizeDigits(text)
		}
		r := b.Box
		lines = append(lines, TextLine{
			Text:       text,
			Confidence: conf,
			Language:   lang,
			Center:     Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2},
			Polygon: []Point{
				{X: r.Min.X, Y: r.Min.Y},
				{X: r.Max.X, Y: r.Min.Y},
				{X: r.Max.X, Y: r.Max.Y},
				{X: r.Min.X, Y: r.Max.Y},
			},
		})
	}
	return lines, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

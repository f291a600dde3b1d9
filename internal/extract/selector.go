/**
 * Candidate Value Selector
 *
 * Given a located region, picks the best raw-text candidate for a field:
 * region-restricted detection with multi-crop voting, format-regex
 * preference, and field-specific widened retries before giving up.
 */

package extract

import (
	"context"
	"image"
	"regexp"
	"sort"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/ocr"
)

var (
	amountRx    = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`)
	amountDecRx = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*\.\d{2}\b`)
	dateRx      = regexp.MustCompile(`\b\d{1,2}[/-][A-Za-z0-9]{3}[/-]\d{2,4}\b`)
	numberRx    = regexp.MustCompile(`\b\d{6,}\b`)
	labelNoRx   = regexp.MustCompile(`\b[nN][oO0]\b`)
)

// Candidate is a selected raw-text value for one field
type Candidate struct {
	Text       string
	Confidence float64
	Language   ocr.Language
	Source     string
}

// Selector picks field candidates from image regions
type Selector struct {
	engine  ocr.Engine
	minConf float64
	padding int
	votes   int
}

// NewSelector creates a selector over the given engine
func NewSelector(engine ocr.Engine, minConf float64) *Selector {
	return &Selector{
		engine:  engine,
		minConf: minConf,
		padding: 6,
		votes:   3,
	}
}

func langsFor(field cheque.FieldName) []ocr.Language {
	if field == cheque.FieldPayeeName {
		return []ocr.Language{ocr.LangArabic}
	}
	return []ocr.Language{ocr.LangLatin}
}

// Select returns the best candidate for the field within the region. A region
// that yields nothing acceptable produces an empty candidate, never an error
// beyond engine failures.
func (s *Selector) Select(ctx context.Context, img image.Image, region ocr.Rect, field cheque.FieldName) (Candidate, error) {
	langs := langsFor(field)
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	region = region.Clip(w, h)

	lines, err := s.engine.DetectRegion(ctx, img, region, langs, s.minConf, s.padding, s.votes)
	if err != nil {
		return Candidate{}, err
	}
	if len(lines) == 0 {
		return Candidate{Source: "roi"}, nil
	}

	if field == cheque.FieldPayeeName {
		text, conf := mergeArabicName(lines, h)
		return Candidate{Text: text, Confidence: conf, Language: ocr.LangArabic, Source: "roi"}, nil
	}

	text, conf, lang := selectBestText(field, lines)

	if field == cheque.FieldDate && !dateRx.MatchString(text) {
		// Widen by 12% of the region width (6% each side), 4% of its height
		dw := int(0.06 * float64(region.Width()))
		dh := int(0.02 * float64(region.Height()))
		wide := ocr.Rect{X1: region.X1 - dw, Y1: region.Y1 - dh, X2: region.X2 + dw, Y2: region.Y2 + dh}.Clip(w, h)
		if retry, err := s.engine.DetectRegion(ctx, img, wide, langs, s.minConf, s.padding, s.votes); err == nil && len(retry) > 0 {
			t2, c2, l2 := selectBestText(field, retry)
			if dateRx.MatchString(t2) && c2 >= conf {
				text, conf, lang = t2, c2, l2
			}
		}
	}

	if field == cheque.FieldAmountNumeric && !amountDecRx.MatchString(text) {
		// Widen to the right only; the decimal tail is the part that gets cut
		dw := int(0.06 * float64(region.Width()))
		wide := ocr.Rect{X1: region.X1, Y1: region.Y1, X2: region.X2 + dw, Y2: region.Y2}.Clip(w, h)
		if retry, err := s.engine.DetectRegion(ctx, img, wide, langs, s.minConf, s.padding, s.votes); err == nil && len(retry) > 0 {
			t2, c2, l2 := selectBestText(field, retry)
			if amountDecRx.MatchString(t2) && c2 >= conf {
				text, conf, lang = t2, c2, l2
			}
		}
	}

	if field == cheque.FieldDate && !dateRx.MatchString(text) {
		return Candidate{Source: "roi"}, nil
	}
	if field == cheque.FieldAmountNumeric && !amountDecRx.MatchString(text) && !amountRx.MatchString(text) {
		return Candidate{Source: "roi"}, nil
	}

	return Candidate{Text: text, Confidence: conf, Language: lang, Source: "roi"}, nil
}

// selectBestText prefers lines matching the field's format regex, then takes
// the highest confidence among the survivors.
func selectBestText(field cheque.FieldName, lines []ocr.TextLine) (string, float64, ocr.Language) {
	if len(lines) == 0 {
		return "", 0, ""
	}
	candidates := lines
	switch field {
	case cheque.FieldAmountNumeric:
		if dec := filterLines(lines, amountDecRx); len(dec) > 0 {
			candidates = dec
		} else if any := filterLines(lines, amountRx); len(any) > 0 {
			candidates = any
		}
	case cheque.FieldDate:
		if m := filterLines(lines, dateRx); len(m) > 0 {
			candidates = m
		}
	case cheque.FieldChequeNumber:
		if m := filterLines(lines, numberRx); len(m) > 0 {
			candidates = m
		}
	}
	best := candidates[0]
	for _, ln := range candidates[1:] {
		if ln.Confidence > best.Confidence {
			best = ln
		}
	}
	return best.Text, best.Confidence, best.Language
}

func filterLines(lines []ocr.TextLine, rx *regexp.Regexp) []ocr.TextLine {
	var out []ocr.TextLine
	for _, ln := range lines {
		if rx.MatchString(ln.Text) {
			out = append(out, ln)
		}
	}
	return out
}

// mergeArabicName joins name fragments in stable logical order: cluster by
// y-band (5% of image height), order bands top-down and tokens right-to-left
// within each band, then infer spaces from inter-token gaps.
func mergeArabicName(lines []ocr.TextLine, imgH int) (string, float64) {
	type frag struct {
		line ocr.TextLine
		cx   float64
		cy   float64
	}
	frags := make([]frag, 0, len(lines))
	for _, ln := range lines {
		if ln.Text == "" {
			continue
		}
		frags = append(frags, frag{line: ln, cx: float64(ln.Center.X), cy: float64(ln.Center.Y)})
	}
	if len(frags) == 0 {
		return "", 0
	}

	sort.SliceStable(frags, func(i, j int) bool { return frags[i].cy < frags[j].cy })

	yTol := 0.05 * float64(imgH)
	var groups [][]frag
	for _, f := range frags {
		placed := false
		for gi := range groups {
			sum := 0.0
			for _, g := range groups[gi] {
				sum += g.cy
			}
			gy := sum / float64(len(groups[gi]))
			if abs(f.cy-gy) <= yTol {
				groups[gi] = append(groups[gi], f)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []frag{f})
		}
	}

	var ordered []ocr.TextLine
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].cx > g[j].cx })
		for _, f := range g {
			ordered = append(ordered, f.line)
		}
	}

	type bound struct{ left, right float64 }
	bounds := make([]bound, 0, len(ordered))
	widths := make([]float64, 0, len(ordered))
	for _, ln := range ordered {
		minX, maxX := ln.XBounds()
		bounds = append(bounds, bound{left: float64(minX), right: float64(maxX)})
		if maxX > minX {
			widths = append(widths, float64(maxX-minX))
		}
	}
	medianW := 1.0
	if len(widths) > 0 {
		sort.Float64s(widths)
		medianW = widths[len(widths)/2]
	}
	var gaps []float64
	for i := 1; i < len(bounds); i++ {
		gaps = append(gaps, bounds[i-1].left-bounds[i].right)
	}
	medianGap := 0.0
	if len(gaps) > 0 {
		sort.Float64s(gaps)
		medianGap = gaps[len(gaps)/2]
	}
	thr := 0.5 * medianW
	if 1.5*medianGap > thr {
		thr = 1.5 * medianGap
	}

	joined := ""
	confSum := 0.0
	lastIdx := -1
	for i, ln := range ordered {
		confSum += ln.Confidence
		if joined != "" && lastIdx >= 0 {
			gap := bounds[lastIdx].left - bounds[i].right
			if gap > thr {
				joined += " "
			}
		}
		joined += ln.Text
		lastIdx = i
	}
	joined = ocr.FixArabicText(joined)
	return joined, confSum / float64(len(ordered))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

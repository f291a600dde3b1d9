/**
 * Field Locator
 *
 * Produces one candidate pixel region per target field from the full set of
 * detected text lines. Strategy order for templated banks: anchor-based payee
 * search, pattern + region search, anchor-refined date/amount, static ROI.
 * Unknown banks fall back to regex sweeps and an Arabic payee heuristic.
 */

package locator

import (
	"math"
	"regexp"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/ocr"

	"golang.org/x/text/unicode/norm"
)

// Location methods
const (
	MethodTemplateROI     = "template_roi"
	MethodRegionRegex     = "region_regex"
	MethodAnchorPayee     = "anchor_payee_scored"
	MethodAnchorDateRight = "anchor_date_right"
	MethodAnchorEGPRight  = "anchor_egp_right"
	MethodUnknownRegex    = "unknown_regex"
	MethodUnknownPayee    = "unknown_payee"
	MethodUnknownBank     = "unknown_bank"
)

// Region is a located field candidate
type Region struct {
	Box        ocr.Rect
	Confidence float64
	Method     string
	Engine     ocr.Language
	AnchorName string
	Text       string
}

var (
	strictDateRx  = regexp.MustCompile(`\b\d{1,2}[/-][A-Za-z]{3}[/-]\d{2,4}\b`)
	anchorDateRx  = regexp.MustCompile(`\b\d{1,2}[/-][A-Za-z]{3}[/-]\d{4}\b`)
	amountSweepRx = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*(?:\.\d{2})?\b`)
	numberSweepRx = regexp.MustCompile(`\b\d{6,}\b`)
	dateSweepRx   = regexp.MustCompile(`\b\d{1,2}[/-][A-Za-z]{3}[/-]\d{2,4}\b`)

	labelLatinRx  = regexp.MustCompile(`(?i)\b(pay\s*to|against\s+this\s+cheque|date|egp)\b`)
	labelArabicRx = regexp.MustCompile(`شيك|ادفع|بموجب|الشيك|هذا`)

	sumOfRx       = regexp.MustCompile(`(?i)\bthe\s+sum\s+of\b`)
	egpTokenRx    = regexp.MustCompile(`(?i)\begp\b`)
	payOrderRx    = regexp.MustCompile(`(?i)pay\s+.*this\s+cheque\s+.*order\s+of`)
	againstRx     = regexp.MustCompile(`(?i)\bagainst\s+this\s+cheque\b`)
	payToRx       = regexp.MustCompile(`(?i)\bpay\s*to\b|\bpayto\b`)
	orderVariants = regexp.MustCompile(`ل\s*أ\s*مر|لا\s*مر|لٱمر|لآمر`)
	compactPayRx  = regexp.MustCompile(`هذا.*الشيك`)
	companyArRx   = regexp.MustCompile(`شركة|شركه`)
	companyEnRx   = regexp.MustCompile(`(?i)\bcompany\b|\bco\.?\b`)
	spacesOnlyRx  = regexp.MustCompile(`\s+`)
)

// Locator maps text lines to field regions using templates
type Locator struct {
	loader *Loader
}

// New creates a locator backed by the given template loader
func New(loader *Loader) *Locator {
	return &Locator{loader: loader}
}

// Locate returns one Region per field that produced any signal. Fields with
// no signal are omitted.
func (l *Locator) Locate(imgW, imgH int, bank, templateID string, lines []ocr.TextLine, nameEnabled bool) map[cheque.FieldName]Region {
	tmpl, err := l.loader.Load(bank, templateID)
	if err != nil {
		return locateUnknown(imgW, imgH, lines, nameEnabled)
	}
	return locateTemplated(imgW, imgH, tmpl, lines, nameEnabled)
}

func nfkc(s string) string { return norm.NFKC.String(s) }

func normRectOf(v []float64) (ocr.NormRect, bool) {
	if len(v) != 4 {
		return ocr.NormRect{}, false
	}
	return ocr.NormRect{X: v[0], Y: v[1], W: v[2], H: v[3]}, true
}

func linesInRegion(lines []ocr.TextLine, region ocr.NormRect, imgW, imgH int) []ocr.TextLine {
	box := region.ToPixels(imgW, imgH)
	var hits []ocr.TextLine
	for _, ln := range lines {
		if box.ContainsPoint(ln.Center) {
			hits = append(hits, ln)
		}
	}
	return hits
}

func bestRegexMatch(lines []ocr.TextLine, rx *regexp.Regexp) (ocr.TextLine, bool) {
	var best ocr.TextLine
	bestScore := -1.0
	for _, ln := range lines {
		if rx.MatchString(nfkc(ln.Text)) && ln.Confidence > bestScore {
			best = ln
			bestScore = ln.Confidence
		}
	}
	return best, bestScore >= 0
}

// boxAround builds a rectangle of the given normalized size centered on a
// line's position, clipped to the image.
func boxAround(p ocr.Point, imgW, imgH int, wf, hf float64) ocr.Rect {
	bw := int(wf * float64(imgW))
	bh := int(hf * float64(imgH))
	x1 := p.X - bw/2
	if x1 < 0 {
		x1 = 0
	}
	y1 := p.Y - bh/2
	if y1 < 0 {
		y1 = 0
	}
	return ocr.Rect{X1: x1, Y1: y1, X2: x1 + bw, Y2: y1 + bh}.Clip(imgW, imgH)
}

func engineOf(spec FieldSpec) ocr.Language {
	if spec.OCREngine == "arabic" {
		return ocr.LangArabic
	}
	return ocr.LangLatin
}

func locateTemplated(imgW, imgH int, tmpl *Template, lines []ocr.TextLine, nameEnabled bool) map[cheque.FieldName]Region {
	results := make(map[cheque.FieldName]Region)

	// Resolve anchors first; fields key off them by name
	anchors := make(map[string]ocr.TextLine)
	for _, a := range tmpl.Anchors {
		region, ok := normRectOf(a.RegionNorm)
		if !ok || a.Pattern == "" {
			continue
		}
		rx, err := regexp.Compile("(?i)" + a.Pattern)
		if err != nil {
			continue
		}
		if hit, found := bestRegexMatch(linesInRegion(lines, region, imgW, imgH), rx); found {
			anchors[a.Name] = hit
		}
	}

	for _, spec := range tmpl.Fields {
		field := cheque.FieldName(spec.Name)
		if field == cheque.FieldPayeeName && !nameEnabled {
			continue
		}
		engine := engineOf(spec)

		if field == cheque.FieldPayeeName && len(lines) > 0 {
			if r, ok := locatePayeeByAnchor(imgW, imgH, anchors, lines); ok {
				r.Engine = engine
				results[field] = r
				continue
			}
		}

		if spec.Pattern != "" {
			if region, ok := normRectOf(spec.RegionNorm); ok && len(lines) > 0 {
				rx, err := regexp.Compile("(?i)" + spec.Pattern)
				if err == nil {
					match, found := bestRegexMatch(linesInRegion(lines, region, imgW, imgH), rx)
					// The date field demands a strict date shape; loose hits fall
					// through to anchor refinement.
					if found && field == cheque.FieldDate && !strictDateRx.MatchString(nfkc(match.Text)) {
						found = false
					}
					if found {
						results[field] = Region{
							Box:        boxAround(match.Center, imgW, imgH, 0.20, 0.08),
							Confidence: match.Confidence,
							Method:     MethodRegionRegex,
							Engine:     engine,
							Text:       match.Text,
						}
						continue
					}
				}
			}
		}

		if field == cheque.FieldDate && len(spec.ROINorm) == 4 && len(lines) > 0 {
			if lab, ok := anchors["date_label"]; ok {
				if r, found := refineByAnchor(imgW, imgH, lab, lines, anchorDateRx, 0.35, 0.22, 0.20, 0.08); found {
					r.Method = MethodAnchorDateRight
					r.AnchorName = "date_label"
					r.Engine = engine
					results[field] = r
					continue
				}
			}
		}

		if field == cheque.FieldAmountNumeric && len(spec.ROINorm) == 4 && len(lines) > 0 {
			if lab, ok := anchors["egp_label"]; ok {
				if r, found := refineByAnchor(imgW, imgH, lab, lines, amountSweepRx, 0.40, 0.25, 0.22, 0.10); found {
					r.Method = MethodAnchorEGPRight
					r.AnchorName = "egp_label"
					r.Engine = engine
					results[field] = r
					continue
				}
			}
		}

		if roi, ok := normRectOf(spec.ROINorm); ok {
			results[field] = Region{
				Box:        roi.ToPixels(imgW, imgH),
				Confidence: 0.9,
				Method:     MethodTemplateROI,
				Engine:     engine,
			}
		}
	}

	return results
}

// refineByAnchor searches a band to the right of a label anchor for a line
// matching rx and wraps it in a tight box.
func refineByAnchor(imgW, imgH int, anchor ocr.TextLine, lines []ocr.TextLine, rx *regexp.Regexp, bandW, bandH, boxW, boxH float64) (Region, bool) {
	ax := float64(anchor.Center.X)
	ay := float64(anchor.Center.Y)
	w := float64(imgW)
	h := float64(imgH)
	region := ocr.NormRect{
		X: math.Min(1.0, ax/w),
		Y: math.Max(0.0, (ay-0.10*h)/h),
		W: math.Min(bandW, 1.0-ax/w),
		H: bandH,
	}
	match, found := bestRegexMatch(linesInRegion(lines, region, imgW, imgH), rx)
	if !found {
		return Region{}, false
	}
	return Region{
		Box:        boxAround(match.Center, imgW, imgH, boxW, boxH),
		Confidence: match.Confidence,
		Text:       match.Text,
	}, true
}

// locatePayeeByAnchor selects the payee line from the band implied by the
// pay-to anchors, scoring candidates by confidence, proximity, script and
// keyword cues, with exclusion rules for label/amount noise.
func locatePayeeByAnchor(imgW, imgH int, anchors map[string]ocr.TextLine, lines []ocr.TextLine) (Region, bool) {
	payEn, hasEn := anchors["pay_to_label"]
	payAr, hasAr := anchors["pay_to_label_ar"]
	if !hasEn && !hasAr {
		return Region{}, false
	}
	w := float64(imgW)
	h := float64(imgH)

	var region ocr.NormRect
	var anchorY int
	xMid := -1.0
	switch {
	case hasEn && hasAr:
		xLeft, xRight := payEn.Center.X, payAr.Center.X
		if xLeft > xRight {
			xLeft, xRight = xRight, xLeft
		}
		cy := (payEn.Center.Y + payAr.Center.Y) / 2
		yTop := cy - int(0.10*h)
		if yTop < 0 {
			yTop = 0
		}
		xMargin := int(0.02 * w)
		xl := xLeft + xMargin
		if xl < 0 {
			xl = 0
		}
		xr := xRight - xMargin
		if xr > imgW {
			xr = imgW
		}
		region = ocr.NormRect{X: float64(xl) / w, Y: float64(yTop) / h, W: math.Max(0, float64(xr-xl)/w), H: 0.22}
		anchorY = cy
		xMid = float64(xl+xr) / 2.0
	case hasEn:
		yTop := payEn.Center.Y - int(0.08*h)
		if yTop < 0 {
			yTop = 0
		}
		region = ocr.NormRect{X: float64(payEn.Center.X) / w, Y: float64(yTop) / h, W: math.Max(0, 1.0-float64(payEn.Center.X)/w), H: 0.20}
		anchorY = payEn.Center.Y
	default:
		yTop := payAr.Center.Y - int(0.08*h)
		if yTop < 0 {
			yTop = 0
		}
		region = ocr.NormRect{X: 0, Y: float64(yTop) / h, W: math.Min(0.98, float64(payAr.Center.X)/w), H: 0.20}
		anchorY = payAr.Center.Y
	}

	sumAnchor, hasSum := anchors["sum_label"]

	var best ocr.TextLine
	bestScore := math.Inf(-1)
	found := false
	for _, ln := range linesInRegion(lines, region, imgW, imgH) {
		px, py := ln.Center.X, ln.Center.Y
		if hasEn && !hasAr && px <= payEn.Center.X+int(0.02*w) {
			continue
		}
		if hasAr && !hasEn && px >= payAr.Center.X-int(0.02*w) {
			continue
		}
		t := nfkc(ln.Text)
		if ln.Confidence < 0.6 {
			continue
		}
		if sumOfRx.MatchString(t) || egpTokenRx.MatchString(t) {
			continue
		}
		if payOrderRx.MatchString(t) || againstRx.MatchString(t) || payToRx.MatchString(t) {
			continue
		}
		tNoSpace := spacesOnlyRx.ReplaceAllString(t, "")
		if labelArabicRx.MatchString(t) || orderVariants.MatchString(t) || compactPayRx.MatchString(tNoSpace) {
			continue
		}
		if hasSum && py > sumAnchor.Center.Y-int(0.02*h) {
			continue
		}
		if ocr.DigitRatio(t) > 0.3 {
			continue
		}
		length := len([]rune(t))
		arChars := ocr.ArabicRuneCount(t)
		if arChars > 0 && arChars < 6 {
			continue
		}
		if arChars == 0 && length < 6 {
			continue
		}

		dy := math.Abs(float64(py-anchorY)) / h
		isAr := 0.0
		if ocr.ContainsArabic(t) {
			isAr = 1.0
		}
		kwBoost := 0.0
		if companyArRx.MatchString(t) {
			kwBoost += 0.2
		}
		if companyEnRx.MatchString(t) {
			kwBoost += 0.1
		}
		shortPenalty := 0.0
		if length < 10 {
			shortPenalty = -0.2
		}
		score := ln.Confidence - 0.6*dy + 0.1*isAr + kwBoost + shortPenalty
		if xMid >= 0 {
			score -= 0.4 * math.Abs(float64(px)-xMid) / w
		}
		if score > bestScore {
			best = ln
			bestScore = score
			found = true
		}
	}
	if !found {
		return Region{}, false
	}
	return Region{
		Box:        boxAround(best.Center, imgW, imgH, 0.45, 0.10),
		Confidence: best.Confidence,
		Method:     MethodAnchorPayee,
		AnchorName: "pay_to",
		Text:       best.Text,
	}, true
}

// locateUnknown applies heuristics when no template exists for the bank
func locateUnknown(imgW, imgH int, lines []ocr.TextLine, nameEnabled bool) map[cheque.FieldName]Region {
	results := make(map[cheque.FieldName]Region)
	if len(lines) == 0 {
		return results
	}
	w := float64(imgW)
	h := float64(imgH)

	results[cheque.FieldBankName] = Region{
		Box:        ocr.Rect{X1: 0, Y1: 0, X2: int(0.2 * w), Y2: int(0.1 * h)},
		Confidence: 0.5,
		Method:     MethodUnknownBank,
		Engine:     ocr.LangLatin,
		Text:       cheque.BankUnknown,
	}

	if ln, found := bestRegexMatch(lines, dateSweepRx); found {
		results[cheque.FieldDate] = Region{
			Box:        boxAround(ln.Center, imgW, imgH, 0.20, 0.08),
			Confidence: ln.Confidence,
			Method:     MethodUnknownRegex,
			Engine:     ocr.LangLatin,
			Text:       ln.Text,
		}
	}

	if ln, found := bestRegexMatch(lines, amountSweepRx); found {
		results[cheque.FieldAmountNumeric] = Region{
			Box:        boxAround(ln.Center, imgW, imgH, 0.22, 0.10),
			Confidence: ln.Confidence,
			Method:     MethodUnknownRegex,
			Engine:     ocr.LangLatin,
			Text:       ln.Text,
		}
	}

	if ln, found := bestRegexMatch(lines, numberSweepRx); found {
		results[cheque.FieldChequeNumber] = Region{
			Box:        boxAround(ln.Center, imgW, imgH, 0.26, 0.10),
			Confidence: ln.Confidence,
			Method:     MethodUnknownRegex,
			Engine:     ocr.LangLatin,
			Text:       ln.Text,
		}
	}

	if nameEnabled {
		if r, ok := locatePayeeUnknown(imgW, imgH, lines); ok {
			results[cheque.FieldPayeeName] = r
		}
	}
	return results
}

// locatePayeeUnknown scores Arabic lines by confidence, upper-middle
// position, low digit ratio and absence of boilerplate.
func locatePayeeUnknown(imgW, imgH int, lines []ocr.TextLine) (Region, bool) {
	w := float64(imgW)
	h := float64(imgH)
	var best ocr.TextLine
	bestScore := math.Inf(-1)
	found := false
	for _, ln := range lines {
		t := ln.Text
		if labelLatinRx.MatchString(t) || labelArabicRx.MatchString(t) {
			continue
		}
		if !ocr.ContainsArabic(t) {
			continue
		}
		if ocr.DigitRatio(t) > 0.2 {
			continue
		}
		length := len([]rune(t))
		if length < 1 {
			length = 1
		}
		dy := math.Abs(float64(ln.Center.Y)-0.35*h) / h
		dx := math.Abs(float64(ln.Center.X)-0.55*w) / w
		score := ln.Confidence + 0.2 - 0.3*dy - 0.2*dx + 0.1*math.Min(1.0, float64(length)/20.0)
		if score > bestScore {
			best = ln
			bestScore = score
			found = true
		}
	}
	if !found {
		return Region{}, false
	}
	return Region{
		Box:        boxAround(best.Center, imgW, imgH, 0.45, 0.10),
		Confidence: best.Confidence,
		Method:     MethodUnknownPayee,
		Engine:     ocr.LangArabic,
		Text:       best.Text,
	}, true
}

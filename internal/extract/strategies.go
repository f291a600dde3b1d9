/**
 * Extraction strategies
 *
 * Bank-specific fallback chains modeled as an ordered table of named
 * strategies per field. Each strategy is a pure function over the located
 * region and the full line set; the first success short-circuits the rest.
 */

package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/ocr"
)

var contiguousDigitsRx = regexp.MustCompile(`\d{16,}`)

// IsMICRLine flags text that belongs to the machine-readable strip at the
// bottom of a cheque: colon-delimited groups or 16+ contiguous digits.
func IsMICRLine(text string) bool {
	if strings.Contains(text, ":") {
		return true
	}
	return contiguousDigitsRx.MatchString(text)
}

// expectedChequeDigits is the target digit length per bank, used as a
// tie-break. Unknown banks use the historical default of 8.
func expectedChequeDigits(bank string) int {
	switch bank {
	case cheque.BankCIB:
		return 12
	case cheque.BankNBE:
		return 14
	case cheque.BankAAIB:
		return 9
	case cheque.BankQNB, cheque.BankFABMisr:
		return 10
	default:
		return 8
	}
}

// StrategyInput is the read-only context a strategy works over
type StrategyInput struct {
	Bank      string
	Region    ocr.Rect
	ImgW      int
	ImgH      int
	FullLines []ocr.TextLine // full-image Latin pass
}

// Strategy is one named extraction attempt
type Strategy struct {
	Name  string
	Apply func(in StrategyInput) (Candidate, bool)
}

// Run tries the strategies in priority order
func Run(strategies []Strategy, in StrategyInput) (Candidate, bool) {
	for _, s := range strategies {
		if cand, ok := s.Apply(in); ok {
			cand.Source = s.Name
			return cand, true
		}
	}
	return Candidate{}, false
}

// ChequeNumberStrategies is the fallback chain used when region OCR produced
// no acceptable cheque number: label-anchored same-row search, then a
// region-constrained digit-group search, then a global sweep.
func ChequeNumberStrategies() []Strategy {
	return []Strategy{
		{Name: "label_row", Apply: chequeNumberLabelRow},
		{Name: "region_digits", Apply: chequeNumberRegionDigits},
		{Name: "global_sweep", Apply: chequeNumberGlobalSweep},
	}
}

type numberCandidate struct {
	token     string
	line      ocr.TextLine
	hasNo     bool
	hasNoNear bool
	leadZeros int
}

func leadZeroCount(tok string) int {
	n := 0
	for _, r := range tok {
		if r != '0' {
			break
		}
		n++
	}
	return n
}

// collectNumberCandidates gathers 6+ digit runs from the given lines,
// excluding MICR noise, and annotates label adjacency.
func collectNumberCandidates(lines []ocr.TextLine, noLines []ocr.TextLine, imgW, imgH int) []numberCandidate {
	var out []numberCandidate
	for _, ln := range lines {
		if IsMICRLine(ln.Text) {
			continue
		}
		tok := numberRx.FindString(ln.Text)
		if tok == "" {
			continue
		}
		nc := numberCandidate{
			token:     tok,
			line:      ln,
			hasNo:     labelNoRx.MatchString(ln.Text),
			leadZeros: leadZeroCount(tok),
		}
		for _, nl := range noLines {
			dy := ln.Center.Y - nl.Center.Y
			if dy < 0 {
				dy = -dy
			}
			if float64(dy) <= 0.05*float64(imgH) &&
				ln.Center.X >= nl.Center.X &&
				float64(ln.Center.X) <= float64(nl.Center.X)+0.35*float64(imgW) {
				nc.hasNoNear = true
				break
			}
		}
		out = append(out, nc)
	}
	return out
}

func labelNoLines(lines []ocr.TextLine) []ocr.TextLine {
	var out []ocr.TextLine
	for _, ln := range lines {
		if labelNoRx.MatchString(ln.Text) {
			out = append(out, ln)
		}
	}
	return out
}

// pickBestNumber orders candidates by: label adjacency first, fewer leading
// zeros, closeness to the bank's expected digit length, proximity to the
// region center with vertical distance weighted double, upper-band
// preference, then raw confidence descending.
func pickBestNumber(cands []numberCandidate, in StrategyInput) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	center := in.Region.Center()
	expected := expectedChequeDigits(in.Bank)
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		aLabel := a.hasNo || a.hasNoNear
		bLabel := b.hasNo || b.hasNoNear
		if aLabel != bLabel {
			return aLabel
		}
		if a.leadZeros != b.leadZeros {
			return a.leadZeros < b.leadZeros
		}
		aLen := absInt(len(a.token) - expected)
		bLen := absInt(len(b.token) - expected)
		if aLen != bLen {
			return aLen < bLen
		}
		aDist := float64(absInt(a.line.Center.Y-center.Y)) + 0.5*float64(absInt(a.line.Center.X-center.X))
		bDist := float64(absInt(b.line.Center.Y-center.Y)) + 0.5*float64(absInt(b.line.Center.X-center.X))
		if aDist != bDist {
			return aDist < bDist
		}
		aUpper := float64(a.line.Center.Y) <= 0.4*float64(in.ImgH)
		bUpper := float64(b.line.Center.Y) <= 0.4*float64(in.ImgH)
		if aUpper != bUpper {
			return aUpper
		}
		return a.line.Confidence > b.line.Confidence
	})
	best := cands[0]
	return Candidate{
		Text:       best.token,
		Confidence: best.line.Confidence,
		Language:   best.line.Language,
	}, true
}

// chequeNumberLabelRow accepts only digit groups sitting on the same row as a
// "No"-style label, to the label's right.
func chequeNumberLabelRow(in StrategyInput) (Candidate, bool) {
	noLines := labelNoLines(in.FullLines)
	if len(noLines) == 0 {
		return Candidate{}, false
	}
	all := collectNumberCandidates(in.FullLines, noLines, in.ImgW, in.ImgH)
	var anchored []numberCandidate
	for _, c := range all {
		if c.hasNo || c.hasNoNear {
			anchored = append(anchored, c)
		}
	}
	return pickBestNumber(anchored, in)
}

// chequeNumberRegionDigits searches digit groups inside the located region,
// grown by half its width to catch numbers printed past the template box.
func chequeNumberRegionDigits(in StrategyInput) (Candidate, bool) {
	grown := ocr.Rect{
		X1: in.Region.X1 - in.Region.Width()/2,
		Y1: in.Region.Y1 - in.Region.Height()/2,
		X2: in.Region.X2 + in.Region.Width()/2,
		Y2: in.Region.Y2 + in.Region.Height()/2,
	}.Clip(in.ImgW, in.ImgH)
	var inRegion []ocr.TextLine
	for _, ln := range in.FullLines {
		if grown.ContainsPoint(ln.Center) {
			inRegion = append(inRegion, ln)
		}
	}
	cands := collectNumberCandidates(inRegion, labelNoLines(in.FullLines), in.ImgW, in.ImgH)
	return pickBestNumber(cands, in)
}

// chequeNumberGlobalSweep is the last resort over every detected line
func chequeNumberGlobalSweep(in StrategyInput) (Candidate, bool) {
	cands := collectNumberCandidates(in.FullLines, labelNoLines(in.FullLines), in.ImgW, in.ImgH)
	return pickBestNumber(cands, in)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

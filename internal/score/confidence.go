/**
 * Confidence scoring
 *
 * fieldConfidence = ocr × location × parseFactor, all clamped to [0, 1].
 * A near-zero component dominates: a poorly located field cannot be rescued
 * by a perfect OCR read.
 */

package score

// DefaultGlobalThreshold gates auto-approval
const DefaultGlobalThreshold = 0.995

// DefaultParseFailFactor is applied when parsing failed
const DefaultParseFailFactor = 0.97

// Clamp01 bounds a value to [0, 1]
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// FieldConfidence combines OCR confidence, locator confidence and parse
// success into one composite per-field confidence.
func FieldConfidence(ocrConf, locConf float64, parseOK bool, parseFailFactor float64) float64 {
	pf := 1.0
	if !parseOK {
		pf = Clamp01(parseFailFactor)
	}
	return Clamp01(Clamp01(ocrConf) * Clamp01(locConf) * pf)
}

// MeetsThreshold reports whether a field confidence passes the global gate
func MeetsThreshold(fieldConf, threshold float64) bool {
	return Clamp01(fieldConf) >= threshold
}

// Sanitize rounds a confidence to 4 decimal places and clamps it to [0, 1].
// Float64 representations like 0.9632000000000001 trip NUMERIC(5,4) casts in
// Postgres, so every confidence is bounded before persistence.
func Sanitize(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

package ocr

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Arabic-Indic digit to ASCII digit mapping
var arabicIndicDigits = strings.NewReplacer(
	"٠", "0",
	"١", "1",
	"٢", "2",
	"٣", "3",
	"٤", "4",
	"٥", "5",
	"٦", "6",
	"٧", "7",
	"٨", "8",
	"٩", "9",
)

// Alef/yeh/waw variants collapse to canonical forms. Teh marbuta is kept as is
// for names.
var arabicLetterNorm = strings.NewReplacer(
	"إ", "ا", // alef with hamza below
	"أ", "ا", // alef with hamza above
	"آ", "ا", // alef with madda
	"ٱ", "ا", // alef wasla
	"ى", "ي", // alef maksura -> yeh
	"ئ", "ي", // yeh with hamza
	"ؤ", "و", // waw with hamza
)

// Zero-width and bidi control characters that break Arabic joining
var zeroWidthChars = strings.NewReplacer(
	"\u200B", "", // zero width space
	"\u200C", "", // zero width non-joiner
	"\u200E", "", // left-to-right mark
	"\u200F", "", // right-to-left mark
	"\u202A", "", // LRE
	"\u202B", "", // RLE
	"\u202C", "", // PDF
	"\u202D", "", // LRO
	"\u202E", "", // RLO
	"\u2066", "", // LRI
	"\u2067", "", // RLI
	"\u2068", "", // FSI
	"\u2069", "", // PDI
)

var (
	whitespaceRx = regexp.MustCompile(`\s+`)
	arabicRx     = regexp.MustCompile("[؀-ۿ]")
)

// NormalizeDigits maps Arabic-Indic digits to ASCII digits
func NormalizeDigits(text string) string {
	if text == "" {
		return text
	}
	return arabicIndicDigits.Replace(text)
}

// StripDiacritics removes Unicode combining marks
func StripDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// FixArabicText normalizes OCR'd Arabic text into a stable logical form:
// NFKC, canonical letter forms, ASCII digits, no tatweel, no diacritics,
// no zero-width/bidi controls, collapsed whitespace.
func FixArabicText(text string) string {
	if text == "" {
		return text
	}
	s := norm.NFKC.String(text)
	s = arabicLetterNorm.Replace(s)
	s = NormalizeDigits(s)
	s = strings.ReplaceAll(s, "ـ", "") // tatweel
	s = StripDiacritics(s)
	s = zeroWidthChars.Replace(s)
	s = strings.TrimSpace(whitespaceRx.ReplaceAllString(s, " "))
	return s
}

// ContainsArabic reports whether the text has any Arabic-block rune
func ContainsArabic(text string) bool {
	return arabicRx.MatchString(text)
}

// ArabicRuneCount counts runes in the Arabic block
func ArabicRuneCount(text string) int {
	return len(arabicRx.FindAllString(text, -1))
}

// DigitRatio returns the fraction of runes that are decimal digits
func DigitRatio(text string) float64 {
	total := 0
	digits := 0
	for _, r := range text {
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}

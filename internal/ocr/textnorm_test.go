package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDigits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "arabic indic digits", input: "١٢٣٤٥٦٧٨٩٠", want: "1234567890"},
		{name: "mixed with latin", input: "No ١١٦٣٧٥١٠", want: "No 11637510"},
		{name: "latin untouched", input: "21,116.00", want: "21,116.00"},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDigits(tt.input))
		})
	}
}

func TestFixArabicText(t *testing.T) {
	// Alef variants collapse to bare alef
	assert.Equal(t, FixArabicText("أحمد"), FixArabicText("احمد"))
	assert.Equal(t, FixArabicText("إبراهيم"), FixArabicText("ابراهيم"))

	// Tatweel stripped
	assert.Equal(t, "محمد", FixArabicText("محـــمد"))

	// Whitespace collapsed and trimmed
	assert.Equal(t, "شركة النور", FixArabicText("  شركة   النور "))

	// Arabic-Indic digits normalized inside Arabic text
	assert.Equal(t, "شارع 15", FixArabicText("شارع ١٥"))
}

func TestStripDiacritics(t *testing.T) {
	assert.Equal(t, "محمد", StripDiacritics("مُحَمَّد"))
	assert.Equal(t, "plain", StripDiacritics("plain"))
}

func TestContainsArabic(t *testing.T) {
	assert.True(t, ContainsArabic("شركة"))
	assert.True(t, ContainsArabic("mixed شركة text"))
	assert.False(t, ContainsArabic("latin only"))
	assert.False(t, ContainsArabic(""))
}

func TestArabicRuneCount(t *testing.T) {
	assert.Equal(t, 4, ArabicRuneCount("شركة"))
	assert.Equal(t, 0, ArabicRuneCount("abc 123"))
	assert.Equal(t, 4, ArabicRuneCount("co شركة 12"))
}

func TestDigitRatio(t *testing.T) {
	assert.InDelta(t, 1.0, DigitRatio("12345"), 1e-9)
	assert.InDelta(t, 0.0, DigitRatio("abcde"), 1e-9)
	assert.InDelta(t, 0.5, DigitRatio("ab12"), 1e-9)
	assert.InDelta(t, 0.0, DigitRatio(""), 1e-9)
}

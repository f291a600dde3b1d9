package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/ocr"
)

const (
	imgW = 1000
	imgH = 500
)

func line(text string, x, y int, conf float64, lang ocr.Language) ocr.TextLine {
	return ocr.TextLine{Text: text, Confidence: conf, Language: lang, Center: ocr.Point{X: x, Y: y}}
}

func TestLoaderEmbeddedTemplates(t *testing.T) {
	loader := NewLoader("")
	for _, bank := range []string{"QNB", "FABMISR", "CIB", "BANQUE_MISR", "AAIB", "NBE"} {
		tmpl, err := loader.Load(bank, "default")
		require.NoError(t, err, "bank %s", bank)
		assert.Equal(t, bank, tmpl.Bank)
		assert.NotEmpty(t, tmpl.Fields)
	}
}

func TestLoaderAutoResolvesDefault(t *testing.T) {
	loader := NewLoader("")
	tmpl, err := loader.Load("QNB", "auto")
	require.NoError(t, err)
	assert.Equal(t, "default", tmpl.TemplateID)

	tmpl, err = loader.Load("QNB", "")
	require.NoError(t, err)
	assert.Equal(t, "default", tmpl.TemplateID)
}

func TestLoaderUnknownTemplate(t *testing.T) {
	loader := NewLoader("")
	_, err := loader.Load("UNKNOWN", "default")
	assert.Error(t, err)
}

func TestLocateUnknownBankHeuristics(t *testing.T) {
	lines := []ocr.TextLine{
		line("31/Dec/25", 800, 60, 0.9, ocr.LangLatin),
		line("21,116.00", 850, 200, 0.92, ocr.LangLatin),
		line("11637510", 500, 90, 0.88, ocr.LangLatin),
		line("شركة النور للتجارة", 550, 170, 0.85, ocr.LangArabic),
	}
	regions := locateUnknown(imgW, imgH, lines, true)

	date, ok := regions[cheque.FieldDate]
	require.True(t, ok)
	assert.Equal(t, MethodUnknownRegex, date.Method)
	assert.Equal(t, "31/Dec/25", date.Text)
	assert.True(t, date.Box.ContainsPoint(ocr.Point{X: 800, Y: 60}))

	amount, ok := regions[cheque.FieldAmountNumeric]
	require.True(t, ok)
	assert.Equal(t, "21,116.00", amount.Text)

	number, ok := regions[cheque.FieldChequeNumber]
	require.True(t, ok)
	assert.Equal(t, "11637510", number.Text)

	payee, ok := regions[cheque.FieldPayeeName]
	require.True(t, ok)
	assert.Equal(t, MethodUnknownPayee, payee.Method)
	assert.Equal(t, ocr.LangArabic, payee.Engine)

	bank, ok := regions[cheque.FieldBankName]
	require.True(t, ok)
	assert.Equal(t, MethodUnknownBank, bank.Method)
}

func TestLocateUnknownNameDisabled(t *testing.T) {
	lines := []ocr.TextLine{
		line("شركة النور للتجارة", 550, 170, 0.85, ocr.LangArabic),
	}
	regions := locateUnknown(imgW, imgH, lines, false)
	_, ok := regions[cheque.FieldPayeeName]
	assert.False(t, ok)
}

func TestLocateUnknownEmptyLines(t *testing.T) {
	assert.Empty(t, locateUnknown(imgW, imgH, nil, true))
}

func TestLocatePayeeUnknownSkipsBoilerplateAndDigits(t *testing.T) {
	lines := []ocr.TextLine{
		line("ادفعوا بموجب هذا الشيك", 500, 150, 0.95, ocr.LangArabic), // label boilerplate
		line("١٢٣٤ ٥٦٧٨", 500, 170, 0.95, ocr.LangArabic),              // digits
		line("شركة النور للتجارة", 520, 180, 0.80, ocr.LangArabic),
	}
	r, ok := locatePayeeUnknown(imgW, imgH, lines)
	require.True(t, ok)
	assert.Equal(t, "شركة النور للتجارة", r.Text)
}

func TestLocateFallsBackWithoutTemplate(t *testing.T) {
	loc := New(NewLoader(""))
	lines := []ocr.TextLine{
		line("31/Dec/25", 800, 60, 0.9, ocr.LangLatin),
	}
	regions := loc.Locate(imgW, imgH, "UNKNOWN", "", lines, false)
	_, ok := regions[cheque.FieldDate]
	assert.True(t, ok)
}

func TestLocateTemplatedStaticROI(t *testing.T) {
	// No lines at all: every field with an roi_norm still yields a region
	loc := New(NewLoader(""))
	regions := loc.Locate(imgW, imgH, "QNB", "default", nil, true)

	for _, field := range []cheque.FieldName{cheque.FieldDate, cheque.FieldAmountNumeric, cheque.FieldChequeNumber} {
		r, ok := regions[field]
		require.True(t, ok, "field %s", field)
		assert.Equal(t, MethodTemplateROI, r.Method)
		assert.InDelta(t, 0.9, r.Confidence, 1e-9)
		assert.GreaterOrEqual(t, r.Box.Width(), 1)
	}
}

func TestLocateTemplatedRegionRegex(t *testing.T) {
	loc := New(NewLoader(""))
	tmpl, err := loc.loader.Load("QNB", "default")
	require.NoError(t, err)

	// Place a strict date line inside the template's date search region
	var dateSpec *FieldSpec
	for i := range tmpl.Fields {
		if tmpl.Fields[i].Name == "date" {
			dateSpec = &tmpl.Fields[i]
		}
	}
	require.NotNil(t, dateSpec)
	require.Len(t, dateSpec.RegionNorm, 4)

	region, ok := normRectOf(dateSpec.RegionNorm)
	require.True(t, ok)
	box := region.ToPixels(imgW, imgH)
	cx, cy := (box.X1+box.X2)/2, (box.Y1+box.Y2)/2

	lines := []ocr.TextLine{line("31/Dec/25", cx, cy, 0.93, ocr.LangLatin)}
	regions := loc.Locate(imgW, imgH, "QNB", "default", lines, false)

	date, found := regions[cheque.FieldDate]
	require.True(t, found)
	assert.Equal(t, MethodRegionRegex, date.Method)
	assert.InDelta(t, 0.93, date.Confidence, 1e-9)
}

func TestLocateTemplatedStrictDateShape(t *testing.T) {
	loc := New(NewLoader(""))
	tmpl, err := loc.loader.Load("QNB", "default")
	require.NoError(t, err)

	var dateSpec *FieldSpec
	for i := range tmpl.Fields {
		if tmpl.Fields[i].Name == "date" {
			dateSpec = &tmpl.Fields[i]
		}
	}
	require.NotNil(t, dateSpec)
	region, _ := normRectOf(dateSpec.RegionNorm)
	box := region.ToPixels(imgW, imgH)
	cx, cy := (box.X1+box.X2)/2, (box.Y1+box.Y2)/2

	// A loose numeric line in the date region must not win via region regex
	lines := []ocr.TextLine{line("123456", cx, cy, 0.99, ocr.LangLatin)}
	regions := loc.Locate(imgW, imgH, "QNB", "default", lines, false)

	date, found := regions[cheque.FieldDate]
	require.True(t, found)
	assert.NotEqual(t, MethodRegionRegex, date.Method)
}

func TestBoxAroundStaysInImage(t *testing.T) {
	box := boxAround(ocr.Point{X: 5, Y: 5}, imgW, imgH, 0.2, 0.1)
	assert.GreaterOrEqual(t, box.X1, 0)
	assert.GreaterOrEqual(t, box.Y1, 0)
	assert.LessOrEqual(t, box.X2, imgW)
	assert.LessOrEqual(t, box.Y2, imgH)
}

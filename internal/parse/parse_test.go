package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chequeflow/cheque-worker/internal/cheque"
)

func TestDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr Code
	}{
		{name: "slash separated", input: "31/Dec/25", want: "2025-12-31"},
		{name: "dash separated", input: "01-Jan-2026", want: "2026-01-01"},
		{name: "dot separated", input: "5.Mar.26", want: "2026-03-05"},
		{name: "spaces around separators", input: "31 / Dec / 25", want: "2025-12-31"},
		{name: "embedded in noise", input: "Date: 15/Aug/2025 EGP", want: "2025-08-15"},
		{name: "zero for O in Oct", input: "12/0ct/25", want: "2025-10-12"},
		{name: "zero for D in Dec", input: "12/0ec/25", want: "2025-12-12"},
		{name: "zero in Nov", input: "03/N0V/2025", want: "2025-11-03"},
		{name: "arabic indic digits", input: "٣١/Dec/٢٥", want: "2025-12-31"},
		{name: "two digit year expands", input: "1/Feb/24", want: "2024-02-01"},
		{name: "month-first layout rejected", input: "Dec 31 2026", wantErr: CodeNoMatch},
		{name: "unknown month token", input: "31/Foo/25", wantErr: CodeBadMonth},
		{name: "empty", input: "", wantErr: CodeEmpty},
		{name: "no date at all", input: "PAY TO THE ORDER OF", wantErr: CodeNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Date(tt.input)
			if tt.wantErr != "" {
				assert.False(t, got.OK)
				assert.Equal(t, tt.wantErr, got.Err)
				return
			}
			assert.True(t, got.OK)
			assert.Equal(t, tt.want, got.Norm)
		})
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr Code
	}{
		{name: "thousands comma with decimals", input: "21,116.00", want: "21116.00"},
		{name: "plain decimal", input: "500.25", want: "500.25"},
		{name: "thousands only gets fraction", input: "1,000", want: "1000.00"},
		{name: "bare integer", input: "750", want: "750.00"},
		{name: "thousands group without fraction", input: "12,345", want: "12345.00"},
		{name: "currency noise stripped", input: "EGP 21,116.00 **", want: "21116.00"},
		{name: "first token wins over later groups", input: "No 123 amount 4,500.00", want: "123.00"},
		{name: "arabic indic digits", input: "٥٠٠.٢٥", want: "500.25"},
		{name: "empty", input: "", wantErr: CodeEmpty},
		{name: "no digits", input: "pay to the order", wantErr: CodeNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Amount(tt.input)
			if tt.wantErr != "" {
				assert.False(t, got.OK)
				assert.Equal(t, tt.wantErr, got.Err)
				return
			}
			assert.True(t, got.OK)
			assert.Equal(t, tt.want, got.Norm)
		})
	}
}

func TestChequeNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr Code
	}{
		{name: "labelled number", input: "No : 11637510", want: "11637510"},
		{name: "bare digits", input: "000123456789", want: "000123456789"},
		{name: "first long run wins", input: "123 11637510 99887766", want: "11637510"},
		{name: "arabic indic digits", input: "١١٦٣٧٥١٠", want: "11637510"},
		{name: "too short", input: "12345", wantErr: CodeNoMatch},
		{name: "empty", input: "", wantErr: CodeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChequeNumber(tt.input)
			if tt.wantErr != "" {
				assert.False(t, got.OK)
				assert.Equal(t, tt.wantErr, got.Err)
				return
			}
			assert.True(t, got.OK)
			assert.Equal(t, tt.want, got.Norm)
		})
	}
}

func TestPayeeName(t *testing.T) {
	got := PayeeName("شركة  النور   للتجارة")
	assert.True(t, got.OK)
	assert.Equal(t, "شركة النور للتجارة", got.Norm)

	short := PayeeName("اب")
	assert.False(t, short.OK)
	assert.Equal(t, CodeTooShort, short.Err)

	empty := PayeeName("")
	assert.False(t, empty.OK)
	assert.Equal(t, CodeEmpty, empty.Err)
}

func TestDateRoundTrip(t *testing.T) {
	// Canonical output re-parses through the validation shape used downstream
	got := Date("31/Dec/25")
	assert.True(t, got.OK)
	again := Date("31/Dec/2025")
	assert.True(t, again.OK)
	assert.Equal(t, got.Norm, again.Norm)
}

func TestFieldDispatch(t *testing.T) {
	assert.Equal(t, "2025-12-31", mustNorm(t, Field(cheque.FieldDate, "31/Dec/25")))
	assert.Equal(t, "21116.00", mustNorm(t, Field(cheque.FieldAmountNumeric, "21,116.00")))
	assert.Equal(t, "11637510", mustNorm(t, Field(cheque.FieldChequeNumber, "No : 11637510")))
	assert.Equal(t, "QNB", mustNorm(t, Field(cheque.FieldBankName, "QNB")))

	empty := Field(cheque.FieldBankName, "")
	assert.False(t, empty.OK)
	assert.Equal(t, CodeEmpty, empty.Err)
}

func mustNorm(t *testing.T, r Result) string {
	t.Helper()
	if !r.OK {
		t.Fatalf("expected parse success, got %s", r.Err)
	}
	return r.Norm
}

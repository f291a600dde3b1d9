package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
		code  ErrorCode
	}{
		{name: "valid", value: "2025-12-31", ok: true},
		{name: "leap day", value: "2024-02-29", ok: true},
		{name: "non leap feb 29", value: "2025-02-29", ok: false, code: CodeDateInvalid},
		{name: "month overflow", value: "2025-13-01", ok: false, code: CodeDateInvalid},
		{name: "year below range", value: "2019-01-01", ok: false, code: CodeDateRange},
		{name: "year above range", value: "2031-01-01", ok: false, code: CodeDateRange},
		{name: "not canonical", value: "31/Dec/25", ok: false, code: CodeDateInvalid},
		{name: "empty", value: "", ok: false, code: CodeDateEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Date(tt.value, 2020, 2030)
			assert.Equal(t, tt.ok, got.OK)
			if !tt.ok {
				assert.Equal(t, tt.code, got.Code)
			}
		})
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
		code  ErrorCode
	}{
		{name: "valid", value: "21116.00", ok: true},
		{name: "minimum", value: "1", ok: true},
		{name: "zero", value: "0", ok: false, code: CodeAmountNonPos},
		{name: "negative", value: "-5.00", ok: false, code: CodeAmountNonPos},
		{name: "above max", value: "2000000.00", ok: false, code: CodeAmountRange},
		{name: "not a number", value: "abc", ok: false, code: CodeAmountRange},
		{name: "empty", value: "", ok: false, code: CodeAmountEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Amount(tt.value, 1, 1000000)
			assert.Equal(t, tt.ok, got.OK)
			if !tt.ok {
				assert.Equal(t, tt.code, got.Code)
			}
		})
	}
}

func TestChequeNumber(t *testing.T) {
	tests := []struct {
		name  string
		value string
		bank  string
		ok    bool
	}{
		{name: "CIB exact twelve", value: "123456789012", bank: "CIB", ok: true},
		{name: "CIB wrong length", value: "12345678901", bank: "CIB", ok: false},
		{name: "NBE fourteen", value: "12345678901234", bank: "NBE", ok: true},
		{name: "QNB ten", value: "1163751012", bank: "QNB", ok: true},
		{name: "QNB eight lower bound", value: "11637510", bank: "QNB", ok: true},
		{name: "QNB seven too short", value: "1163751", bank: "QNB", ok: false},
		{name: "AAIB nine", value: "123456789", bank: "AAIB", ok: true},
		{name: "unknown bank generic length", value: "123456", bank: "UNKNOWN", ok: true},
		{name: "unknown bank too long", value: "12345678901234567", bank: "UNKNOWN", ok: false},
		{name: "non digits stripped before check", value: "No: 123456789012", bank: "CIB", ok: true},
		{name: "empty", value: "", bank: "CIB", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChequeNumber(tt.value, tt.bank)
			assert.Equal(t, tt.ok, got.OK, "code=%s", got.Code)
		})
	}
}

func TestPayee(t *testing.T) {
	master := []string{"شركة النور للتجارة", "مؤسسة الامل"}

	exact := Payee("شركة النور للتجارة", master, 0.85)
	assert.True(t, exact.OK)

	oneEdit := Payee("شركة النور للتجاره", master, 0.85)
	assert.True(t, oneEdit.OK)

	unrelated := Payee("مصنع الحديد والصلب", master, 0.85)
	assert.False(t, unrelated.OK)
	assert.Equal(t, CodePayeeNotInMaster, unrelated.Code)

	noMaster := Payee("أي اسم مقبول", nil, 0.85)
	assert.True(t, noMaster.OK)

	short := Payee("اب", master, 0.85)
	assert.False(t, short.OK)
	assert.Equal(t, CodePayeeTooShort, short.Code)

	empty := Payee("   ", master, 0.85)
	assert.False(t, empty.OK)
	assert.Equal(t, CodePayeeEmpty, empty.Code)
}

func TestCurrency(t *testing.T) {
	assert.True(t, Currency("EGP", nil).OK)
	assert.True(t, Currency("usd", nil).OK)
	assert.False(t, Currency("GBP", nil).OK)
	assert.False(t, Currency("", nil).OK)
	assert.True(t, Currency("GBP", []string{"GBP"}).OK)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, similarity("abc", "xyz"), 1e-9)
	assert.InDelta(t, 2.0/3.0, similarity("abc", "abd"), 1e-9)
}

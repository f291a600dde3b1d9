/**
 * Field parsers
 *
 * Pure, deterministic, OCR-noise tolerant converters from raw OCR text to
 * canonical values. Failures are typed codes returned as data.
 */

package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/ocr"
)

// Code is a typed parse failure
type Code string

const (
	CodeEmpty     Code = "EMPTY"
	CodeNoMatch   Code = "NO_MATCH"
	CodeBadMonth  Code = "BAD_MONTH"
	CodeBadNumber Code = "BAD_NUMBER"
	CodeTooShort  Code = "TOO_SHORT"
)

// Result holds a canonical value or a typed failure
type Result struct {
	Norm string
	OK   bool
	Err  Code
}

func fail(code Code) Result { return Result{OK: false, Err: code} }

var (
	dateRx       = regexp.MustCompile(`(?i)\b(\d{1,2})\s*[-/.]\s*([A-Za-z0-9]{3})\s*[-/.]\s*(\d{2,4})\b`)
	amountRx     = regexp.MustCompile(`\b\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{2})?\b`)
	amountTailRx = regexp.MustCompile(`^(\d{1,3}(?:[.,]\d{3})*)[.,](\d{2})$`)
	chequeRx     = regexp.MustCompile(`\b\d{6,}\b`)
	sepRx        = regexp.MustCompile(`[.,]`)
	nonDigitRx   = regexp.MustCompile(`\D`)
	nonAmountRx  = regexp.MustCompile(`[^\d.,]`)
)

// Month names keyed by uppercase token, with OCR-confusable aliases: a zero
// can stand in for 'O' (Oct) or 'D' (Dec) on some bank fonts.
var monthMap = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
	"0CT": 10, "0EC": 12, "N0V": 11,
}

// Date parses D[-/.]MMM[-/.]YY(YY) spellings into canonical YYYY-MM-DD
func Date(text string) Result {
	if text == "" {
		return fail(CodeEmpty)
	}
	s := ocr.NormalizeDigits(text)
	m := dateRx.FindStringSubmatch(s)
	if m == nil {
		return fail(CodeNoMatch)
	}
	day := atoiSafe(m[1])
	monTok := strings.ToUpper(strings.TrimSpace(m[2]))
	year := atoiSafe(m[3])
	if year < 100 {
		year += 2000
	}

	month := 0
	for _, key := range []string{monTok, strings.ReplaceAll(monTok, "0", "O"), strings.ReplaceAll(monTok, "0", "D")} {
		if v, ok := monthMap[key]; ok {
			month = v
			break
		}
	}
	if month == 0 {
		return fail(CodeBadMonth)
	}
	return Result{Norm: fmt.Sprintf("%04d-%02d-%02d", year, month, day), OK: true}
}

// Amount extracts the best digit group and normalizes to a fixed two-decimal
// string. The rightmost separator is the decimal point only when exactly two
// digits follow it; otherwise separators are treated as thousands marks, and
// as a last resort the digits are kept with an assumed .00 fraction.
func Amount(text string) Result {
	if text == "" {
		return fail(CodeEmpty)
	}
	s := ocr.NormalizeDigits(text)
	token := amountRx.FindString(s)
	if token == "" {
		token = nonAmountRx.ReplaceAllString(s, "")
		if token == "" {
			return fail(CodeNoMatch)
		}
	}

	val := ""
	idx := strings.LastIndexAny(token, ".,")
	if idx != -1 && len(token)-idx-1 == 2 {
		frac := token[idx+1 : idx+3]
		intPart := sepRx.ReplaceAllString(token[:idx], "")
		if isDigits(frac) && isDigits(intPart) && intPart != "" {
			val = intPart + "." + frac
		}
	}
	if val == "" {
		if m := amountTailRx.FindStringSubmatch(token); m != nil {
			val = sepRx.ReplaceAllString(m[1], "") + "." + m[2]
		}
	}
	if val == "" {
		digits := nonDigitRx.ReplaceAllString(token, "")
		if digits != "" {
			val = digits + ".00"
		}
	}
	if val == "" {
		return fail(CodeBadNumber)
	}
	return Result{Norm: val, OK: true}
}

// ChequeNumber extracts the first run of 6+ digits
func ChequeNumber(text string) Result {
	if text == "" {
		return fail(CodeEmpty)
	}
	s := ocr.NormalizeDigits(text)
	m := chequeRx.FindString(s)
	if m == "" {
		return fail(CodeNoMatch)
	}
	return Result{Norm: m, OK: true}
}

// PayeeName normalizes a payee name into stable logical form and rejects
// strings shorter than 3 characters.
func PayeeName(text string) Result {
	if text == "" {
		return fail(CodeEmpty)
	}
	s := ocr.FixArabicText(text)
	if len([]rune(s)) < 3 {
		return fail(CodeTooShort)
	}
	return Result{Norm: s, OK: true}
}

// Field dispatches to the parser for the given field. bank_name passes
// through unchanged: it is an input label, not an OCR read.
func Field(field cheque.FieldName, text string) Result {
	switch field {
	case cheque.FieldDate:
		return Date(text)
	case cheque.FieldAmountNumeric:
		return Amount(text)
	case cheque.FieldChequeNumber:
		return ChequeNumber(text)
	case cheque.FieldPayeeName:
		return PayeeName(text)
	case cheque.FieldBankName:
		if text == "" {
			return fail(CodeEmpty)
		}
		return Result{Norm: text, OK: true}
	default:
		if text == "" {
			return fail(CodeEmpty)
		}
		return Result{Norm: text, OK: true}
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

/**
 * Business-rule validation gates
 *
 * A failed gate always forces the document to review, independent of
 * extraction confidence.
 */

package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// Result is the outcome of one gate
type Result struct {
	OK   bool
	Code ErrorCode
	Meta map[string]interface{}
}

func ok(meta map[string]interface{}) Result {
	return Result{OK: true, Code: CodeOK, Meta: meta}
}

func bad(code ErrorCode, meta map[string]interface{}) Result {
	return Result{OK: false, Code: code, Meta: meta}
}

var (
	isoDateRx  = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	nonDigitRx = regexp.MustCompile(`\D+`)
	spacesRx   = regexp.MustCompile(`\s+`)
)

// Date accepts canonical YYYY-MM-DD strings with a calendar-valid date whose
// year falls in [minYear, maxYear].
func Date(value string, minYear, maxYear int) Result {
	if value == "" {
		return bad(CodeDateEmpty, nil)
	}
	m := isoDateRx.FindStringSubmatch(value)
	if m == nil {
		return bad(CodeDateInvalid, map[string]interface{}{"value": value})
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if y < minYear || y > maxYear {
		return bad(CodeDateRange, map[string]interface{}{"y": y, "min": minYear, "max": maxYear})
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return bad(CodeDateInvalid, map[string]interface{}{"d": d, "m": mo, "y": y})
	}
	return ok(map[string]interface{}{"d": d, "m": mo, "y": y})
}

// Amount accepts positive values within [minAmount, maxAmount]
func Amount(value string, minAmount, maxAmount float64) Result {
	if value == "" {
		return bad(CodeAmountEmpty, nil)
	}
	amt, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return bad(CodeAmountRange, map[string]interface{}{"value": value})
	}
	if amt <= 0 {
		return bad(CodeAmountNonPos, map[string]interface{}{"amount": amt})
	}
	if amt < minAmount || amt > maxAmount {
		return bad(CodeAmountRange, map[string]interface{}{"amount": amt, "min": minAmount, "max": maxAmount})
	}
	return ok(map[string]interface{}{"amount": amt})
}

// ChequeNumber checks the digits against the bank's shape when known, else a
// generic 6-16 digit length.
func ChequeNumber(value, bank string) Result {
	if value == "" {
		return bad(CodeChequeEmpty, nil)
	}
	digits := nonDigitRx.ReplaceAllString(value, "")
	if rx, found := ChequeNumberPattern(bank); found {
		if !rx.MatchString(digits) {
			return bad(CodeChequePattern, map[string]interface{}{"digits": digits, "len": len(digits), "bank": bank})
		}
		return ok(map[string]interface{}{"digits": digits, "bank": bank})
	}
	if len(digits) < 6 || len(digits) > 16 {
		return bad(CodeChequePattern, map[string]interface{}{"digits": digits, "len": len(digits), "bank": bank})
	}
	return ok(map[string]interface{}{"digits": digits, "bank": bank})
}

// Payee checks the name against a master list with a similarity threshold.
// An empty master list accepts any well-formed name.
func Payee(name string, master []string, threshold float64) Result {
	s := strings.TrimSpace(spacesRx.ReplaceAllString(name, " "))
	if s == "" {
		return bad(CodePayeeEmpty, nil)
	}
	if len([]rune(s)) < 3 {
		return bad(CodePayeeTooShort, map[string]interface{}{"name": s})
	}
	if len(master) == 0 {
		return ok(map[string]interface{}{"name": s})
	}
	bestRatio := 0.0
	bestMatch := ""
	for _, cand := range master {
		r := similarity(s, cand)
		if r > bestRatio {
			bestRatio = r
			bestMatch = cand
		}
	}
	if bestRatio >= threshold {
		return ok(map[string]interface{}{"name": s, "match": bestMatch, "ratio": bestRatio})
	}
	return bad(CodePayeeNotInMaster, map[string]interface{}{"name": s, "best": bestMatch, "ratio": bestRatio, "threshold": threshold})
}

// Currency accepts only the allowed ISO codes
func Currency(currency string, allowed []string) Result {
	if len(allowed) == 0 {
		allowed = []string{"EGP", "USD", "EUR", "AED", "SAR"}
	}
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		return bad(CodeCurrencyInvalid, map[string]interface{}{"currency": currency, "allowed": allowed})
	}
	for _, a := range allowed {
		if c == a {
			return ok(map[string]interface{}{"currency": c})
		}
	}
	return bad(CodeCurrencyInvalid, map[string]interface{}{"currency": c, "allowed": allowed})
}

// similarity maps edit distance into a [0, 1] ratio over rune length
func similarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	if la == 0 && lb == 0 {
		return 1.0
	}
	max := la
	if lb > max {
		max = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	r := 1.0 - float64(dist)/float64(max)
	if r < 0 {
		return 0
	}
	return r
}

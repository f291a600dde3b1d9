package validate

import "regexp"

// Bank-specific cheque number shapes. Digit-length regex per bank for now;
// unknown banks fall back to the generic 6-16 length check.
var chequeNumberPatterns = map[string]*regexp.Regexp{
	"QNB":         regexp.MustCompile(`^\d{8,12}$`),
	"FABMISR":     regexp.MustCompile(`^\d{8,12}$`),
	"BANQUE_MISR": regexp.MustCompile(`^\d{6,}$`),
	"CIB":         regexp.MustCompile(`^\d{12}$`),
	"AAIB":        regexp.MustCompile(`^\d{9,10}$`),
	"NBE":         regexp.MustCompile(`^\d{14}$`),
}

// ChequeNumberPattern returns the bank's cheque-number regex, if one exists
func ChequeNumberPattern(bank string) (*regexp.Regexp, bool) {
	rx, ok := chequeNumberPatterns[bank]
	return rx, ok
}

/**
 * Cheque domain model
 *
 * Field records, routing decisions and corrections shared by the pipeline,
 * the audit store and the relational store.
 */

package cheque

import "time"

// FieldName is the closed set of extracted cheque fields
type FieldName string

const (
	FieldBankName      FieldName = "bank_name"
	FieldDate          FieldName = "date"
	FieldChequeNumber  FieldName = "cheque_number"
	FieldAmountNumeric FieldName = "amount_numeric"
	FieldPayeeName     FieldName = "name"
)

// AllFields lists every known field in stable order
var AllFields = []FieldName{FieldBankName, FieldDate, FieldChequeNumber, FieldAmountNumeric, FieldPayeeName}

// KPIFields are the fields counted in batch error-rate metrics
var KPIFields = map[FieldName]bool{
	FieldDate:          true,
	FieldChequeNumber:  true,
	FieldAmountNumeric: true,
}

// RequiredFields returns the routing-required set. bank_name never gates
// routing; the payee name participates only when enabled.
func RequiredFields(nameEnabled bool) []FieldName {
	req := []FieldName{FieldDate, FieldAmountNumeric, FieldChequeNumber}
	if nameEnabled {
		req = append(req, FieldPayeeName)
	}
	return req
}

// Bank codes with dedicated templates or validation patterns
const (
	BankQNB        = "QNB"
	BankFABMisr    = "FABMISR"
	BankBanqueMisr = "BANQUE_MISR"
	BankCIB        = "CIB"
	BankAAIB       = "AAIB"
	BankNBE        = "NBE"
	BankUnknown    = "UNKNOWN"
)

// AllBanks lists the known bank labels
var AllBanks = []string{BankQNB, BankFABMisr, BankBanqueMisr, BankCIB, BankAAIB, BankNBE, BankUnknown}

// IsValidBank reports whether the label is one of the known banks
func IsValidBank(label string) bool {
	for _, b := range AllBanks {
		if b == label {
			return true
		}
	}
	return false
}

// Validation is the outcome of a business-rule gate for one field
type Validation struct {
	OK   bool   `json:"ok"`
	Code string `json:"code,omitempty"`
}

// FieldRecord is the canonical extracted-field result for one field of one
// document. Immutable after the pipeline run except for the corrected /
// normalized-value mutation performed by the correction path.
type FieldRecord struct {
	FieldConf      float64     `json:"field_conf"`
	LocConf        float64     `json:"loc_conf"`
	OCRConf        float64     `json:"ocr_conf"`
	ParseOK        bool        `json:"parse_ok"`
	ParseNorm      *string     `json:"parse_norm"`
	ParseError     string      `json:"parse_error,omitempty"`
	OCRText        *string     `json:"ocr_text"`
	OCRLang        *string     `json:"ocr_lang"`
	MeetsThreshold bool        `json:"meets_threshold"`
	Validation     *Validation `json:"validation,omitempty"`
	Corrected      bool        `json:"corrected,omitempty"`
	Source         string      `json:"source,omitempty"`
	BBox           []int       `json:"bbox,omitempty"`
}

// DecisionRecord is the per-document routing outcome
type DecisionRecord struct {
	Decision      string   `json:"decision"` // "auto_approve" | "review"
	STP           bool     `json:"stp"`
	OverallConf   float64  `json:"overall_conf"`
	LowConfFields []string `json:"low_conf_fields"`
	Reasons       []string `json:"reasons"`
}

// Routing decisions
const (
	DecisionAutoApprove = "auto_approve"
	DecisionReview      = "review"
)

// Correction is one append-only reviewer correction event
type Correction struct {
	ReviewerID string    `json:"reviewer_id"`
	Field      string    `json:"field"`
	Before     *string   `json:"before"`
	After      string    `json:"after"`
	Reason     *string   `json:"reason"`
	At         time.Time `json:"at"`
}

/**
 * Router
 *
 * Threshold-gated state machine: pending -> auto_approve | review.
 * Reasons are machine-readable strings consumed by the review UI and audit.
 */

package route

import (
	"fmt"
	"strings"

	"github.com/chequeflow/cheque-worker/internal/cheque"
)

// Decide routes one document from its per-field records. A required field
// that is absent from perField counts as confidence zero. Validation
// failures force review independent of confidence.
func Decide(perField map[cheque.FieldName]*cheque.FieldRecord, requiredFields []cheque.FieldName, threshold float64) cheque.DecisionRecord {
	lowConf := make([]string, 0, len(requiredFields))
	reasons := make([]string, 0, len(requiredFields))
	confValues := make([]float64, 0, len(requiredFields))

	for _, f := range requiredFields {
		conf := 0.0
		var validation *cheque.Validation
		if rec, ok := perField[f]; ok && rec != nil {
			conf = rec.FieldConf
			validation = rec.Validation
		}
		confValues = append(confValues, conf)

		if conf < threshold {
			lowConf = append(lowConf, string(f))
			reasons = append(reasons, fmt.Sprintf("low_confidence:%s:%.3f<thr%.3f", f, conf, threshold))
		}
		if validation != nil && !validation.OK {
			code := validation.Code
			if code == "" {
				code = "VALIDATION_FAIL"
			}
			reasons = append(reasons, fmt.Sprintf("validation_failed:%s:%s", f, code))
		}
	}

	overall := 0.0
	if len(confValues) > 0 {
		overall = confValues[0]
		for _, c := range confValues[1:] {
			if c < overall {
				overall = c
			}
		}
	}

	validationFailed := false
	for _, r := range reasons {
		if strings.HasPrefix(r, "validation_failed:") {
			validationFailed = true
			break
		}
	}

	stp := len(lowConf) == 0 && !validationFailed
	decision := cheque.DecisionReview
	if stp {
		decision = cheque.DecisionAutoApprove
	}

	return cheque.DecisionRecord{
		Decision:      decision,
		STP:           stp,
		OverallConf:   overall,
		LowConfFields: lowConf,
		Reasons:       reasons,
	}
}

package batch

import "math"

// ChequeStat is the per-cheque input to KPI computation: how many of the
// cheque's fields exist and how many KPI-relevant ones were corrected by a
// reviewer.
type ChequeStat struct {
	TotalFields        int
	CorrectedKPIFields int
}

// Metrics is the batch KPI record
type Metrics struct {
	TotalCheques      int      `json:"total_cheques"`
	ChequesWithErrors int      `json:"cheques_with_errors"`
	TotalFields       int      `json:"total_fields"`
	IncorrectFields   int      `json:"incorrect_fields"`
	ErrorRateCheques  *float64 `json:"error_rate_cheques"`
	ErrorRateFields   *float64 `json:"error_rate_fields"`
	Flagged           bool     `json:"flagged"`
}

// Ratio divides n by d rounded to 4 decimals. A zero denominator yields 0,
// so empty batches report a zero error rate rather than an absent one.
func Ratio(n, d int) *float64 {
	var r float64
	if d != 0 {
		r = math.Round(float64(n)/float64(d)*10000) / 10000
	}
	return &r
}

// ComputeKPIs derives batch error rates purely from the corrected state of
// the cheques' fields. A cheque counts as erroneous when at least one of its
// KPI-relevant fields was corrected. A batch is flagged when strictly more
// than 80% of its cheques are erroneous.
func ComputeKPIs(cheques []ChequeStat) Metrics {
	m := Metrics{TotalCheques: len(cheques)}
	for _, c := range cheques {
		m.TotalFields += c.TotalFields
		m.IncorrectFields += c.CorrectedKPIFields
		if c.CorrectedKPIFields > 0 {
			m.ChequesWithErrors++
		}
	}
	m.ErrorRateCheques = Ratio(m.ChequesWithErrors, m.TotalCheques)
	m.ErrorRateFields = Ratio(m.IncorrectFields, m.TotalFields)
	m.Flagged = *m.ErrorRateCheques > 0.8
	return m
}

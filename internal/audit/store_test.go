package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	pkgerrors "github.com/chequeflow/cheque-worker/internal/errors"
)

func strPtr(s string) *string { return &s }

func sampleDoc() *Document {
	return &Document{
		Bank: "QNB",
		File: "job-123",
		Decision: cheque.DecisionRecord{
			Decision:    cheque.DecisionReview,
			OverallConf: 0.92,
			Reasons:     []string{"low_confidence:date:0.920<thr0.995"},
		},
		Fields: map[string]*cheque.FieldRecord{
			"date": {
				FieldConf: 0.92,
				ParseOK:   true,
				ParseNorm: strPtr("2025-12-31"),
			},
			"amount_numeric": {
				FieldConf: 0.999,
				ParseOK:   true,
				ParseNorm: strPtr("21116.00"),
			},
		},
		BatchName: "07_03_2025_QNB_01",
	}
}

func TestWriteAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())

	path, err := s.Write(sampleDoc())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.root, "QNB", "job-123.json"), path)

	doc, err := s.Load("QNB", "job-123")
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	assert.False(t, doc.GeneratedAt.IsZero())
	assert.Equal(t, "2025-12-31", *doc.Fields["date"].ParseNorm)
}

func TestLoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Load("QNB", "nope")
	require.Error(t, err)
	perr, ok := err.(*pkgerrors.PipelineError)
	require.True(t, ok)
	assert.Equal(t, pkgerrors.ErrorAuditNotFound, perr.Code)
}

func TestListBanksAndFiles(t *testing.T) {
	s := NewStore(t.TempDir())

	doc := sampleDoc()
	_, err := s.Write(doc)
	require.NoError(t, err)

	other := sampleDoc()
	other.Bank = "CIB"
	other.File = "job-456"
	_, err = s.Write(other)
	require.NoError(t, err)

	banks, err := s.ListBanks()
	require.NoError(t, err)
	assert.Equal(t, []string{"CIB", "QNB"}, banks)

	files, err := s.ListFiles("QNB")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-123"}, files)

	empty, err := s.ListFiles("NBE")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAppendCorrections(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Write(sampleDoc())
	require.NoError(t, err)

	doc, applied, err := s.AppendCorrections("QNB", "job-123", "rev-1", map[string]CorrectionInput{
		"date": {Value: "2026-01-01", Reason: strPtr("misread year")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"date"}, applied)

	rec := doc.Fields["date"]
	assert.Equal(t, "2026-01-01", *rec.ParseNorm)
	assert.True(t, rec.Corrected)

	require.Len(t, doc.Corrections, 1)
	corr := doc.Corrections[0]
	assert.Equal(t, "rev-1", corr.ReviewerID)
	assert.Equal(t, "2025-12-31", *corr.Before)
	assert.Equal(t, "2026-01-01", corr.After)

	// Changes survive a reload
	reloaded, err := s.Load("QNB", "job-123")
	require.NoError(t, err)
	assert.True(t, reloaded.Fields["date"].Corrected)
	assert.Len(t, reloaded.Corrections, 1)
}

func TestAppendCorrectionsLeavesScoringUntouched(t *testing.T) {
	s := NewStore(t.TempDir())

	doc := sampleDoc()
	doc.Fields["date"] = &cheque.FieldRecord{
		FieldConf:      0.42,
		ParseOK:        false,
		ParseError:     "NO_MATCH",
		MeetsThreshold: false,
	}
	_, err := s.Write(doc)
	require.NoError(t, err)

	updated, applied, err := s.AppendCorrections("QNB", "job-123", "rev-1", map[string]CorrectionInput{
		"date": {Value: "2026-01-01"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"date"}, applied)

	// Only the canonical value and the corrected marker change; the
	// machine-computed scoring stays as it was at processing time
	rec := updated.Fields["date"]
	assert.Equal(t, "2026-01-01", *rec.ParseNorm)
	assert.True(t, rec.Corrected)
	assert.False(t, rec.ParseOK)
	assert.False(t, rec.MeetsThreshold)
	assert.InDelta(t, 0.42, rec.FieldConf, 1e-9)

	reloaded, err := s.Load("QNB", "job-123")
	require.NoError(t, err)
	assert.False(t, reloaded.Fields["date"].ParseOK)
	assert.False(t, reloaded.Fields["date"].MeetsThreshold)
}

func TestAppendCorrectionsIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Write(sampleDoc())
	require.NoError(t, err)

	update := map[string]CorrectionInput{"date": {Value: "2026-01-01"}}

	_, applied, err := s.AppendCorrections("QNB", "job-123", "rev-1", update)
	require.NoError(t, err)
	assert.Equal(t, []string{"date"}, applied)

	// Same value again is a no-op: no second event appended
	doc, applied, err := s.AppendCorrections("QNB", "job-123", "rev-1", update)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Len(t, doc.Corrections, 1)
}

func TestAppendCorrectionsUnknownField(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Write(sampleDoc())
	require.NoError(t, err)

	doc, applied, err := s.AppendCorrections("QNB", "job-123", "rev-1", map[string]CorrectionInput{
		"not_a_field": {Value: "x"},
	})
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, doc.Corrections)
}

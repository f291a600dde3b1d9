package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chequeflow/cheque-worker/internal/audit"
	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/config"
)

func strPtr(s string) *string { return &s }

func testServer(t *testing.T) (*Server, *audit.Store) {
	t.Helper()
	audits := audit.NewStore(t.TempDir())
	cfg := &config.Config{
		HTTPAddr:          ":0",
		MaxUploadSize:     1 << 20,
		ProcessingTimeout: 1000,
		GlobalThreshold:   0.995,
		BatchTZ:           "UTC",
		UploadDir:         t.TempDir(),
	}
	return New(cfg, nil, nil, audits, nil, nil), audits
}

func seedDoc(t *testing.T, audits *audit.Store, bank, file string, corrected bool) {
	t.Helper()
	rec := &cheque.FieldRecord{
		FieldConf: 0.92,
		ParseOK:   true,
		ParseNorm: strPtr("2025-12-31"),
		Corrected: corrected,
	}
	_, err := audits.Write(&audit.Document{
		Bank:      bank,
		File:      file,
		BatchName: "07_03_2025_" + bank + "_01",
		Decision: cheque.DecisionRecord{
			Decision:    cheque.DecisionReview,
			OverallConf: 0.92,
		},
		Fields: map[string]*cheque.FieldRecord{
			"date":           rec,
			"amount_numeric": {FieldConf: 0.999, ParseOK: true, ParseNorm: strPtr("21116.00")},
		},
	})
	require.NoError(t, err)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	return w
}

func TestHealthWithoutDatabase(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(s, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["database"])
}

func TestListItems(t *testing.T) {
	s, audits := testServer(t)
	seedDoc(t, audits, "QNB", "job-1", false)
	seedDoc(t, audits, "CIB", "job-2", false)

	w := doRequest(s, http.MethodGet, "/api/review/items", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Items []map[string]interface{} `json:"items"`
		Count int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	filtered := doRequest(s, http.MethodGet, "/api/review/items?bank=QNB", nil)
	require.NoError(t, json.Unmarshal(filtered.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "QNB", body.Items[0]["bank"])
}

func TestGetItem(t *testing.T) {
	s, audits := testServer(t)
	seedDoc(t, audits, "QNB", "job-1", false)

	w := doRequest(s, http.MethodGet, "/api/review/items/QNB/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc audit.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "job-1", doc.File)
	assert.Equal(t, "2025-12-31", *doc.Fields["date"].ParseNorm)

	missing := doRequest(s, http.MethodGet, "/api/review/items/QNB/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCorrections(t *testing.T) {
	s, audits := testServer(t)
	seedDoc(t, audits, "QNB", "job-1", false)

	payload := []byte(`{"reviewer_id":"rev-1","updates":{"date":{"value":"2026-01-01","reason":"misread"}}}`)
	w := doRequest(s, http.MethodPost, "/api/review/items/QNB/job-1/corrections", payload)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Applied  []string       `json:"applied"`
		Document audit.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"date"}, body.Applied)
	assert.True(t, body.Document.Fields["date"].Corrected)
	assert.Equal(t, "2026-01-01", *body.Document.Fields["date"].ParseNorm)

	empty := doRequest(s, http.MethodPost, "/api/review/items/QNB/job-1/corrections", []byte(`{"updates":{}}`))
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	missing := doRequest(s, http.MethodPost, "/api/review/items/QNB/nope/corrections", payload)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestExportCSV(t *testing.T) {
	s, audits := testServer(t)
	seedDoc(t, audits, "QNB", "job-1", false)

	w := doRequest(s, http.MethodGet, "/api/review/export", nil)
	require.Equal(t, http.StatusOK, w.Code)

	raw := w.Body.Bytes()
	// UTF-8 BOM for spreadsheet compatibility
	require.True(t, bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))
	assert.Contains(t, string(raw), "bank,file,batch_name,decision")
	assert.Contains(t, string(raw), "2025-12-31")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
}

func TestUploadStagesRawFile(t *testing.T) {
	s, _ := testServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("bank", "QNB"))
	fw, err := mw.CreateFormFile("file", "cheques.zip")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not a real archive"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/review/upload", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	// No queue wired, so the archive is rejected, but the raw upload was
	// already staged for later reprocessing
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	staged, err := os.ReadDir(filepath.Join(s.cfg.UploadDir, "QNB"))
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, ".zip", filepath.Ext(staged[0].Name()))
}

func TestBatchesRequireDatabase(t *testing.T) {
	s, _ := testServer(t)

	list := doRequest(s, http.MethodGet, "/api/batches", nil)
	assert.Equal(t, http.StatusServiceUnavailable, list.Code)

	get := doRequest(s, http.MethodGet, "/api/batches/QNB/07_03_2025_QNB_01", nil)
	assert.Equal(t, http.StatusServiceUnavailable, get.Code)

	finalize := doRequest(s, http.MethodPost, "/api/batches/finalize", []byte(`{"bank":"QNB","name":"x"}`))
	assert.Equal(t, http.StatusServiceUnavailable, finalize.Code)
}

func TestKPIPerBank(t *testing.T) {
	s, audits := testServer(t)
	seedDoc(t, audits, "QNB", "job-1", true)  // corrected date -> erroneous cheque
	seedDoc(t, audits, "QNB", "job-2", false) // untouched

	w := doRequest(s, http.MethodGet, "/api/metrics/kpi-per-bank", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Banks map[string]struct {
			TotalCheques      int      `json:"total_cheques"`
			ChequesWithErrors int      `json:"cheques_with_errors"`
			ErrorRateCheques  *float64 `json:"error_rate_cheques"`
			Flagged           bool     `json:"flagged"`
		} `json:"banks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	qnb, ok := body.Banks["QNB"]
	require.True(t, ok)
	assert.Equal(t, 2, qnb.TotalCheques)
	assert.Equal(t, 1, qnb.ChequesWithErrors)
	require.NotNil(t, qnb.ErrorRateCheques)
	assert.InDelta(t, 0.5, *qnb.ErrorRateCheques, 1e-9)
	assert.False(t, qnb.Flagged)
}

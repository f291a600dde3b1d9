/**
 * Audit store
 *
 * One JSON document per (bank, file id), schema_version 1. Corrections are
 * append-only events that also mutate the owning field's canonical value.
 */

package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	pkgerrors "github.com/chequeflow/cheque-worker/internal/errors"
)

// SchemaVersion of the audit document layout
const SchemaVersion = 1

// Document is one per-cheque audit record
type Document struct {
	SchemaVersion int                            `json:"schema_version"`
	GeneratedAt   time.Time                      `json:"generated_at"`
	CorrelationID *string                        `json:"correlation_id"`
	Bank          string                         `json:"bank"`
	File          string                         `json:"file"`
	BatchName     string                         `json:"batch_name,omitempty"`
	Decision      cheque.DecisionRecord          `json:"decision"`
	Fields        map[string]*cheque.FieldRecord `json:"fields"`
	Corrections   []cheque.Correction            `json:"corrections,omitempty"`
	Meta          map[string]interface{}         `json:"meta,omitempty"`
}

// CorrectionInput is one reviewer-submitted field update
type CorrectionInput struct {
	Value  string
	Reason *string
}

// Store persists audit documents under root/<bank>/<file>.json
type Store struct {
	root string
}

// NewStore creates an audit store rooted at dir
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(bank, fileID string) string {
	return filepath.Join(s.root, bank, fileID+".json")
}

// Write persists a document, creating bank directories as needed
func (s *Store) Write(doc *Document) (string, error) {
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = SchemaVersion
	}
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now().UTC()
	}
	dir := filepath.Join(s.root, doc.Bank)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audit dir: %w", err)
	}
	path := s.path(doc.Bank, doc.File)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audit document: %w", err)
	}
	return path, nil
}

// Load reads the document for (bank, file id)
func (s *Store) Load(bank, fileID string) (*Document, error) {
	data, err := os.ReadFile(s.path(bank, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &pkgerrors.PipelineError{
				Code:      pkgerrors.ErrorAuditNotFound,
				Message:   fmt.Sprintf("Audit record not found: %s/%s", bank, fileID),
				FileID:    fileID,
				Timestamp: time.Now(),
			}
		}
		return nil, fmt.Errorf("failed to read audit document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode audit document: %w", err)
	}
	return &doc, nil
}

// ListBanks returns bank directories present in the store
func (s *Store) ListBanks() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var banks []string
	for _, e := range entries {
		if e.IsDir() {
			banks = append(banks, e.Name())
		}
	}
	sort.Strings(banks)
	return banks, nil
}

// ListFiles returns file ids with audit records for a bank
func (s *Store) ListFiles(bank string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, bank))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(files)
	return files, nil
}

// AppendCorrections applies reviewer corrections to a document: it updates
// each field's canonical value, flips its corrected state and appends one
// correction event. A correction whose after equals the current value is a
// no-op; applying the same correction twice therefore leaves one entry.
// Returns the updated document and the fields actually changed.
func (s *Store) AppendCorrections(bank, fileID, reviewerID string, updates map[string]CorrectionInput) (*Document, []string, error) {
	doc, err := s.Load(bank, fileID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]*cheque.FieldRecord)
	}

	now := time.Now().UTC()
	var applied []string

	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, fieldName := range names {
		update := updates[fieldName]
		rec, ok := doc.Fields[fieldName]
		if !ok || rec == nil {
			continue
		}
		before := rec.ParseNorm
		after := update.Value
		if before != nil && *before == after {
			continue
		}
		afterCopy := after
		rec.ParseNorm = &afterCopy
		rec.Corrected = true
		doc.Corrections = append(doc.Corrections, cheque.Correction{
			ReviewerID: reviewerID,
			Field:      fieldName,
			Before:     before,
			After:      after,
			Reason:     update.Reason,
			At:         now,
		})
		applied = append(applied, fieldName)
	}

	if len(applied) == 0 {
		return doc, nil, nil
	}

	if _, err := s.Write(doc); err != nil {
		return nil, nil, err
	}

	// Corrections CSV queue feeds template/dataset updates; best-effort only
	s.appendCorrectionsCSV(doc, applied, now)

	return doc, applied, nil
}

func (s *Store) appendCorrectionsCSV(doc *Document, applied []string, at time.Time) {
	out := os.Getenv("CORRECTIONS_OUT")
	if out == "" {
		out = filepath.Join(s.root, "corrections", "corrections.csv")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return
	}
	_, statErr := os.Stat(out)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if writeHeader {
		_ = w.Write([]string{"bank", "file", "field", "before", "after", "reason", "reviewer_id", "at"})
	}
	for _, fieldName := range applied {
		for i := len(doc.Corrections) - 1; i >= 0; i-- {
			c := doc.Corrections[i]
			if c.Field != fieldName || !c.At.Equal(at) {
				continue
			}
			before := ""
			if c.Before != nil {
				before = *c.Before
			}
			reason := ""
			if c.Reason != nil {
				reason = *c.Reason
			}
			_ = w.Write([]string{doc.Bank, doc.File, c.Field, before, c.After, reason, c.ReviewerID, c.At.Format(time.RFC3339)})
			break
		}
	}
}

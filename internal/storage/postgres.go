/**
 * PostgreSQL client for the cheque worker
 *
 * Persists batches, cheques, per-field extraction results and reviewer
 * corrections, and maintains correction-driven batch KPIs.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/chequeflow/cheque-worker/internal/batch"
	"github.com/chequeflow/cheque-worker/internal/cheque"
	pkgerrors "github.com/chequeflow/cheque-worker/internal/errors"
	"github.com/chequeflow/cheque-worker/internal/score"
)

// Client handles database operations
type Client struct {
	db *sql.DB
}

// Batch is one persisted batch row
type Batch struct {
	ID                  string     `json:"id"`
	BankCode            string     `json:"bank"`
	Name                string     `json:"name"`
	BatchDate           time.Time  `json:"batch_date"`
	Seq                 int        `json:"seq"`
	Status              string     `json:"status"`
	Flagged             bool       `json:"flagged"`
	TotalCheques        int        `json:"total_cheques"`
	ChequesWithErrors   int        `json:"cheques_with_errors"`
	TotalFields         int        `json:"total_fields"`
	IncorrectFields     int        `json:"incorrect_fields"`
	ErrorRateCheques    *float64   `json:"error_rate_cheques"`
	ErrorRateFields     *float64   `json:"error_rate_fields"`
	ProcessingStartedAt time.Time  `json:"processing_started_at"`
	ProcessingEndedAt   *time.Time `json:"processing_ended_at"`
	ProcessingMs        *int64     `json:"processing_ms"`
}

// NewClient creates a PostgreSQL client and verifies connectivity
func NewClient(databaseURL string) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// EnsureSchema creates the worker's tables when missing
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS banks (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			bank_code TEXT NOT NULL REFERENCES banks(code),
			name TEXT NOT NULL,
			batch_date DATE NOT NULL,
			seq INT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			flagged BOOLEAN NOT NULL DEFAULT FALSE,
			total_cheques INT NOT NULL DEFAULT 0,
			cheques_with_errors INT NOT NULL DEFAULT 0,
			total_fields INT NOT NULL DEFAULT 0,
			incorrect_fields INT NOT NULL DEFAULT 0,
			error_rate_cheques NUMERIC(5,4),
			error_rate_fields NUMERIC(5,4),
			created_at TIMESTAMPTZ NOT NULL,
			processing_started_at TIMESTAMPTZ,
			processing_ended_at TIMESTAMPTZ,
			processing_ms BIGINT,
			UNIQUE (bank_code, name),
			UNIQUE (bank_code, batch_date, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS cheques (
			id UUID PRIMARY KEY,
			batch_id UUID NOT NULL REFERENCES batches(id),
			bank_code TEXT NOT NULL,
			file_id TEXT NOT NULL,
			original_filename TEXT,
			image_path TEXT,
			decision JSONB,
			stp BOOLEAN,
			overall_conf NUMERIC(5,4),
			corrected_kpi_fields INT NOT NULL DEFAULT 0,
			index_in_batch INT,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			UNIQUE (bank_code, file_id)
		)`,
		`CREATE TABLE IF NOT EXISTS cheque_fields (
			id UUID PRIMARY KEY,
			cheque_id UUID NOT NULL REFERENCES cheques(id),
			name TEXT NOT NULL,
			field_conf NUMERIC(5,4),
			loc_conf NUMERIC(5,4),
			ocr_conf NUMERIC(5,4),
			parse_ok BOOLEAN,
			meets_threshold BOOLEAN,
			parse_norm TEXT,
			ocr_text TEXT,
			ocr_lang TEXT,
			validation JSONB,
			corrected BOOLEAN NOT NULL DEFAULT FALSE,
			last_corrected_at TIMESTAMPTZ,
			UNIQUE (cheque_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			id UUID PRIMARY KEY,
			cheque_field_id UUID NOT NULL REFERENCES cheque_fields(id),
			reviewer_id TEXT,
			before TEXT,
			after TEXT NOT NULL,
			reason TEXT,
			at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureBank inserts the bank row when missing
func (c *Client) EnsureBank(ctx context.Context, code, name string) error {
	if name == "" {
		name = code
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO banks (code, name) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`,
		code, name)
	if err != nil {
		return fmt.Errorf("failed to ensure bank %s: %w", code, err)
	}
	return nil
}

// AllocateBatch creates the next batch for (bank, today). Sequence
// allocation is serialized with a transaction-scoped advisory lock so
// concurrent uploads never share a sequence number.
func (c *Client) AllocateBatch(ctx context.Context, bankCode, tz string) (*Batch, error) {
	d := batch.LocalToday(time.Now(), tz)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch allocation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		fmt.Sprintf("batchseq:%s:%s", bankCode, d.Format("2006-01-02"))); err != nil {
		return nil, fmt.Errorf("failed to lock batch sequence: %w", err)
	}

	var maxSeq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM batches WHERE bank_code = $1 AND batch_date = $2`,
		bankCode, d).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("failed to read max batch seq: %w", err)
	}

	now := time.Now().UTC()
	b := &Batch{
		ID:                  uuid.NewString(),
		BankCode:            bankCode,
		BatchDate:           d,
		Seq:                 maxSeq + 1,
		Name:                batch.FormatName(d, bankCode, maxSeq+1),
		Status:              "open",
		ProcessingStartedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, bank_code, name, batch_date, seq, status, created_at, processing_started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		b.ID, b.BankCode, b.Name, b.BatchDate, b.Seq, b.Status, now); err != nil {
		return nil, fmt.Errorf("failed to insert batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch allocation: %w", err)
	}
	return b, nil
}

const batchColumns = `id, bank_code, name, batch_date, seq, status, flagged,
	total_cheques, cheques_with_errors, total_fields, incorrect_fields,
	error_rate_cheques, error_rate_fields,
	processing_started_at, processing_ended_at, processing_ms`

func scanBatch(row interface{ Scan(...interface{}) error }) (*Batch, error) {
	var b Batch
	var startedAt sql.NullTime
	var endedAt sql.NullTime
	var ms sql.NullInt64
	var erc, erf sql.NullFloat64
	err := row.Scan(
		&b.ID, &b.BankCode, &b.Name, &b.BatchDate, &b.Seq, &b.Status, &b.Flagged,
		&b.TotalCheques, &b.ChequesWithErrors, &b.TotalFields, &b.IncorrectFields,
		&erc, &erf, &startedAt, &endedAt, &ms,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		b.ProcessingStartedAt = startedAt.Time
	}
	if endedAt.Valid {
		t := endedAt.Time
		b.ProcessingEndedAt = &t
	}
	if ms.Valid {
		v := ms.Int64
		b.ProcessingMs = &v
	}
	if erc.Valid {
		v := erc.Float64
		b.ErrorRateCheques = &v
	}
	if erf.Valid {
		v := erf.Float64
		b.ErrorRateFields = &v
	}
	return &b, nil
}

// GetBatchByName loads a batch row
func (c *Client) GetBatchByName(ctx context.Context, bankCode, name string) (*Batch, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE bank_code = $1 AND name = $2`,
		bankCode, name)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewBatchNotFoundError(bankCode, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s/%s: %w", bankCode, name, err)
	}
	return b, nil
}

// ListBatches returns batches, optionally filtered by bank, newest first
func (c *Client) ListBatches(ctx context.Context, bankCode string) ([]*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches`
	args := []interface{}{}
	if bankCode != "" {
		query += ` WHERE bank_code = $1`
		args = append(args, bankCode)
	}
	query += ` ORDER BY batch_date DESC, seq DESC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveCheque upserts a cheque and its field rows after a pipeline run
func (c *Client) SaveCheque(ctx context.Context, batchID, bankCode, fileID, originalFilename, imagePath string,
	decision cheque.DecisionRecord, fields map[cheque.FieldName]*cheque.FieldRecord, indexInBatch int) error {

	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cheque save: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var chequeID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO cheques (id, batch_id, bank_code, file_id, original_filename, image_path,
			decision, stp, overall_conf, index_in_batch, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC(5,4), $10, $11, $11)
		ON CONFLICT (bank_code, file_id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			decision = EXCLUDED.decision,
			stp = EXCLUDED.stp,
			overall_conf = EXCLUDED.overall_conf,
			processed_at = EXCLUDED.processed_at
		RETURNING id`,
		uuid.NewString(), batchID, bankCode, fileID, nullString(originalFilename), nullString(imagePath),
		decisionJSON, decision.STP, score.Sanitize(decision.OverallConf), indexInBatch, now,
	).Scan(&chequeID)
	if err != nil {
		return fmt.Errorf("failed to upsert cheque %s/%s: %w", bankCode, fileID, err)
	}

	for name, rec := range fields {
		validationJSON, err := json.Marshal(rec.Validation)
		if err != nil {
			return fmt.Errorf("failed to marshal validation for %s: %w", name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cheque_fields (id, cheque_id, name, field_conf, loc_conf, ocr_conf,
				parse_ok, meets_threshold, parse_norm, ocr_text, ocr_lang, validation)
			VALUES ($1, $2, $3, $4::NUMERIC(5,4), $5::NUMERIC(5,4), $6::NUMERIC(5,4), $7, $8, $9, $10, $11, $12)
			ON CONFLICT (cheque_id, name) DO UPDATE SET
				field_conf = EXCLUDED.field_conf,
				loc_conf = EXCLUDED.loc_conf,
				ocr_conf = EXCLUDED.ocr_conf,
				parse_ok = EXCLUDED.parse_ok,
				meets_threshold = EXCLUDED.meets_threshold,
				parse_norm = EXCLUDED.parse_norm,
				ocr_text = EXCLUDED.ocr_text,
				ocr_lang = EXCLUDED.ocr_lang,
				validation = EXCLUDED.validation`,
			uuid.NewString(), chequeID, string(name),
			score.Sanitize(rec.FieldConf), score.Sanitize(rec.LocConf), score.Sanitize(rec.OCRConf),
			rec.ParseOK, rec.MeetsThreshold,
			nullStringPtr(rec.ParseNorm), nullStringPtr(rec.OCRText), nullStringPtr(rec.OCRLang),
			validationJSON)
		if err != nil {
			return fmt.Errorf("failed to upsert cheque field %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cheque save: %w", err)
	}
	return nil
}

// ApplyCorrections records reviewer corrections against the stored cheque:
// each corrected field gets its canonical value replaced, its corrected flag
// set, and one corrections row appended.
func (c *Client) ApplyCorrections(ctx context.Context, bankCode, fileID string, corrections []cheque.Correction) error {
	if len(corrections) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin corrections: %w", err)
	}
	defer tx.Rollback()

	var chequeID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM cheques WHERE bank_code = $1 AND file_id = $2`,
		bankCode, fileID).Scan(&chequeID)
	if err == sql.ErrNoRows {
		// Cheque was processed without DB persistence; nothing to mutate here
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find cheque %s/%s: %w", bankCode, fileID, err)
	}

	for _, corr := range corrections {
		var fieldID string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO cheque_fields (id, cheque_id, name)
			VALUES ($1, $2, $3)
			ON CONFLICT (cheque_id, name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			uuid.NewString(), chequeID, corr.Field).Scan(&fieldID)
		if err != nil {
			return fmt.Errorf("failed to resolve cheque field %s: %w", corr.Field, err)
		}

		// Confidence flags keep their machine-computed values; only the
		// canonical value and the corrected marker change
		if _, err := tx.ExecContext(ctx, `
			UPDATE cheque_fields SET
				parse_norm = $2,
				corrected = TRUE,
				last_corrected_at = $3
			WHERE id = $1`,
			fieldID, corr.After, corr.At); err != nil {
			return fmt.Errorf("failed to update cheque field %s: %w", corr.Field, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (id, cheque_field_id, reviewer_id, before, after, reason, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), fieldID, nullString(corr.ReviewerID),
			nullStringPtr(corr.Before), corr.After, nullStringPtr(corr.Reason), corr.At); err != nil {
			return fmt.Errorf("failed to insert correction for %s: %w", corr.Field, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cheques SET corrected_kpi_fields = (
			SELECT COUNT(*) FROM cheque_fields
			WHERE cheque_id = $1 AND corrected AND name IN ('date', 'cheque_number', 'amount_numeric')
		) WHERE id = $1`, chequeID); err != nil {
		return fmt.Errorf("failed to refresh corrected field count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit corrections: %w", err)
	}
	return nil
}

// RecomputeBatchKPIs derives the batch's error rates from the corrected
// state of its cheques' fields and writes them back. Safe to run repeatedly
// and concurrently with uploads; last write wins.
func (c *Client) RecomputeBatchKPIs(ctx context.Context, batchID string) (batch.Metrics, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.id,
			COUNT(f.id),
			COUNT(f.id) FILTER (WHERE f.corrected AND f.name IN ('date', 'cheque_number', 'amount_numeric'))
		FROM cheques c
		LEFT JOIN cheque_fields f ON f.cheque_id = c.id
		WHERE c.batch_id = $1
		GROUP BY c.id`, batchID)
	if err != nil {
		return batch.Metrics{}, fmt.Errorf("failed to read batch field stats: %w", err)
	}
	defer rows.Close()

	var stats []batch.ChequeStat
	for rows.Next() {
		var id string
		var s batch.ChequeStat
		if err := rows.Scan(&id, &s.TotalFields, &s.CorrectedKPIFields); err != nil {
			return batch.Metrics{}, fmt.Errorf("failed to scan batch field stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return batch.Metrics{}, err
	}

	m := batch.ComputeKPIs(stats)
	if _, err := c.db.ExecContext(ctx, `
		UPDATE batches SET
			total_cheques = $2,
			cheques_with_errors = $3,
			total_fields = $4,
			incorrect_fields = $5,
			error_rate_cheques = $6,
			error_rate_fields = $7,
			flagged = $8
		WHERE id = $1`,
		batchID, m.TotalCheques, m.ChequesWithErrors, m.TotalFields, m.IncorrectFields,
		nullFloatPtr(m.ErrorRateCheques), nullFloatPtr(m.ErrorRateFields), m.Flagged); err != nil {
		return batch.Metrics{}, fmt.Errorf("failed to update batch KPIs: %w", err)
	}
	return m, nil
}

// FinalizeBatch marks processing finished and recomputes KPIs. The first
// call sets the end timestamp and duration; repeated calls leave them
// untouched but still succeed and recompute.
func (c *Client) FinalizeBatch(ctx context.Context, bankCode, name string) (*Batch, batch.Metrics, error) {
	b, err := c.GetBatchByName(ctx, bankCode, name)
	if err != nil {
		return nil, batch.Metrics{}, err
	}

	if _, err := c.db.ExecContext(ctx, `
		UPDATE batches SET
			status = 'finalized',
			processing_ended_at = COALESCE(processing_ended_at, NOW()),
			processing_ms = COALESCE(processing_ms,
				(EXTRACT(EPOCH FROM (NOW() - processing_started_at)) * 1000)::BIGINT)
		WHERE id = $1`, b.ID); err != nil {
		return nil, batch.Metrics{}, fmt.Errorf("failed to finalize batch: %w", err)
	}

	m, err := c.RecomputeBatchKPIs(ctx, b.ID)
	if err != nil {
		return nil, batch.Metrics{}, err
	}

	updated, err := c.GetBatchByName(ctx, bankCode, name)
	if err != nil {
		return nil, batch.Metrics{}, err
	}
	return updated, m, nil
}

// Ping checks database connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (c *Client) GetStats() sql.DBStats {
	return c.db.Stats()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

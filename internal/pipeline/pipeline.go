/**
 * Cheque processing pipeline
 *
 * Orchestrates one document end to end: decode, preflight, full-image OCR,
 * field location, candidate selection, parsing, validation gates, confidence
 * scoring, routing, audit persistence and best-effort relational persistence.
 */

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/chequeflow/cheque-worker/internal/audit"
	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/config"
	pkgerrors "github.com/chequeflow/cheque-worker/internal/errors"
	"github.com/chequeflow/cheque-worker/internal/extract"
	"github.com/chequeflow/cheque-worker/internal/locator"
	"github.com/chequeflow/cheque-worker/internal/logging"
	"github.com/chequeflow/cheque-worker/internal/ocr"
	"github.com/chequeflow/cheque-worker/internal/parse"
	"github.com/chequeflow/cheque-worker/internal/preflight"
	"github.com/chequeflow/cheque-worker/internal/route"
	"github.com/chequeflow/cheque-worker/internal/score"
	"github.com/chequeflow/cheque-worker/internal/storage"
	"github.com/chequeflow/cheque-worker/internal/validate"
)

const totalSteps = 7

// ProcessRequest describes one document to process
type ProcessRequest struct {
	JobID         string
	Bank          string
	TemplateID    string
	Filename      string
	FileBuffer    []byte
	CorrelationID *string
	BatchName     string
	BatchID       string
	IndexInBatch  int
}

// ProcessResult is the outcome of one pipeline run
type ProcessResult struct {
	FileID    string
	Bank      string
	BatchName string
	Decision  cheque.DecisionRecord
	Fields    map[cheque.FieldName]*cheque.FieldRecord
	AuditPath string
	Persisted bool
	Meta      map[string]interface{}
}

// Processor runs the cheque pipeline
type Processor struct {
	cfg      *config.Config
	engine   ocr.Engine
	locator  *locator.Locator
	selector *extract.Selector
	audits   *audit.Store
	db       *storage.Client // nil disables relational persistence
	logger   *logging.Logger
}

// NewProcessor wires the pipeline. db may be nil; runs then persist to the
// audit store only.
func NewProcessor(cfg *config.Config, engine ocr.Engine, loc *locator.Locator, audits *audit.Store, db *storage.Client) *Processor {
	return &Processor{
		cfg:      cfg,
		engine:   engine,
		locator:  loc,
		selector: extract.NewSelector(engine, cfg.MinOCRConfidence),
		audits:   audits,
		db:       db,
		logger:   logging.NewLogger("pipeline"),
	}
}

// Process runs one document through the full pipeline
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	jobLog := p.logger.WithJob(req.JobID)

	bank := strings.ToUpper(strings.TrimSpace(req.Bank))
	if !cheque.IsValidBank(bank) {
		bank = cheque.BankUnknown
	}
	fileID := req.JobID

	jobLog.Info(fmt.Sprintf("Step 1/%d: Decoding image", totalSteps), "bank", bank, "filename", req.Filename, "bytes", len(req.FileBuffer))
	img, err := imaging.Decode(bytes.NewReader(req.FileBuffer), imaging.AutoOrientation(true))
	if err != nil {
		return nil, pkgerrors.NewUnsupportedFormatError(fileID, req.Filename)
	}

	jobLog.Info(fmt.Sprintf("Step 2/%d: Preflight checks", totalSteps))
	enhanced, preMeta, err := preflight.Process(img, preflight.Config{BlurThreshold: p.cfg.BlurThreshold}, fileID)
	if err != nil {
		return nil, err
	}
	bounds := enhanced.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()

	jobLog.Info(fmt.Sprintf("Step 3/%d: Full-image OCR", totalSteps), "width", imgW, "height", imgH)
	latinLines, err := p.engine.Detect(ctx, enhanced, []ocr.Language{ocr.LangLatin}, p.cfg.MinOCRConfidence)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pkgerrors.NewProcessingTimeoutError(fileID, time.Since(start), ctx.Err())
		}
		return nil, pkgerrors.NewOCRFailedError(fileID, string(ocr.LangLatin), err)
	}

	allLines := latinLines
	if p.cfg.EnableArabicOCR {
		arabicLines, err := p.engine.Detect(ctx, enhanced, []ocr.Language{ocr.LangArabic}, p.cfg.MinOCRConfidence)
		if err != nil {
			// Degraded run: Latin fields still extract, the payee will come up empty
			jobLog.Warn("Arabic OCR pass failed, continuing without it", "error", err)
		} else {
			allLines = append(allLines, arabicLines...)
		}
	}

	nameEnabled := p.cfg.EnableNameField && p.cfg.EnableArabicOCR

	jobLog.Info(fmt.Sprintf("Step 4/%d: Locating fields", totalSteps), "lines", len(allLines))
	regions := p.locator.Locate(imgW, imgH, bank, req.TemplateID, allLines, nameEnabled)

	jobLog.Info(fmt.Sprintf("Step 5/%d: Extracting and parsing fields", totalSteps), "regions", len(regions))
	fields := make(map[cheque.FieldName]*cheque.FieldRecord)
	for _, field := range cheque.AllFields {
		if field == cheque.FieldPayeeName && !nameEnabled {
			continue
		}
		rec, err := p.extractField(ctx, enhanced, bank, field, regions, latinLines, imgW, imgH)
		if err != nil {
			if ctx.Err() != nil {
				return nil, pkgerrors.NewProcessingTimeoutError(fileID, time.Since(start), ctx.Err())
			}
			jobLog.Warn("Field extraction failed", "field", field, "error", err)
			rec = emptyRecord()
		}
		fields[field] = rec
	}

	jobLog.Info(fmt.Sprintf("Step 6/%d: Routing decision", totalSteps))
	decision := route.Decide(fields, cheque.RequiredFields(nameEnabled), p.cfg.GlobalThreshold)
	jobLog.Info("Decision computed", "decision", decision.Decision, "overall_conf", decision.OverallConf, "reasons", len(decision.Reasons))

	jobLog.Info(fmt.Sprintf("Step 7/%d: Persisting results", totalSteps))
	meta := map[string]interface{}{
		"blur_variance": preMeta.BlurVariance,
		"image_width":   imgW,
		"image_height":  imgH,
		"duration_ms":   time.Since(start).Milliseconds(),
		"filename":      req.Filename,
	}
	doc := &audit.Document{
		CorrelationID: req.CorrelationID,
		Bank:          bank,
		File:          fileID,
		BatchName:     req.BatchName,
		Decision:      decision,
		Fields:        fieldMapForAudit(fields),
		Meta:          meta,
	}
	auditPath, err := p.audits.Write(doc)
	if err != nil {
		return nil, pkgerrors.NewStorageFailedError(fileID, err)
	}

	persisted := false
	if p.db != nil && req.BatchID != "" {
		if err := p.db.SaveCheque(ctx, req.BatchID, bank, fileID, req.Filename, "", decision, fields, req.IndexInBatch); err != nil {
			// Audit record already exists; the run is still usable
			jobLog.Error("Database persistence failed", "error", err)
		} else {
			persisted = true
		}
	}

	jobLog.Info("Processing complete", "duration_ms", time.Since(start).Milliseconds(), "persisted", persisted)
	return &ProcessResult{
		FileID:    fileID,
		Bank:      bank,
		BatchName: req.BatchName,
		Decision:  decision,
		Fields:    fields,
		AuditPath: auditPath,
		Persisted: persisted,
		Meta:      meta,
	}, nil
}

// extractField produces the full record for one field: locate, select, parse,
// validate, score.
func (p *Processor) extractField(ctx context.Context, img image.Image, bank string, field cheque.FieldName,
	regions map[cheque.FieldName]locator.Region, latinLines []ocr.TextLine, imgW, imgH int) (*cheque.FieldRecord, error) {

	// The bank label arrives with the upload; it is trusted, not read
	if field == cheque.FieldBankName {
		res := parse.Field(field, bank)
		norm := res.Norm
		return &cheque.FieldRecord{
			FieldConf:      1.0,
			LocConf:        1.0,
			OCRConf:        1.0,
			ParseOK:        res.OK,
			ParseNorm:      &norm,
			MeetsThreshold: true,
			Source:         "input",
		}, nil
	}

	region, located := regions[field]
	if !located {
		if field == cheque.FieldChequeNumber {
			return p.chequeNumberFallback(bank, locator.Region{}, latinLines, imgW, imgH, 0.6), nil
		}
		return emptyRecord(), nil
	}

	box := region.Box
	if field == cheque.FieldChequeNumber {
		// Serial digits often run past the template box horizontally
		dw := int(0.06 * float64(imgW))
		box = ocr.Rect{X1: box.X1 - dw, Y1: box.Y1, X2: box.X2 + dw, Y2: box.Y2}.Clip(imgW, imgH)
	}

	cand, err := p.selector.Select(ctx, img, box, field)
	if err != nil {
		return nil, err
	}

	rec := buildRecord(bank, field, cand, region.Confidence, box, p.cfg.ParseFailFactor, p.cfg.GlobalThreshold)

	if field == cheque.FieldChequeNumber && !(rec.ParseOK && rec.Validation != nil && rec.Validation.OK) {
		if fb := p.chequeNumberFallback(bank, region, latinLines, imgW, imgH, region.Confidence); fb != nil {
			if fb.FieldConf > rec.FieldConf || (fb.ParseOK && !rec.ParseOK) {
				return fb, nil
			}
		}
	}
	return rec, nil
}

// chequeNumberFallback runs the strategy chain over the full-image Latin
// lines. Returns nil when no strategy produced a candidate.
func (p *Processor) chequeNumberFallback(bank string, region locator.Region, latinLines []ocr.TextLine, imgW, imgH int, locConf float64) *cheque.FieldRecord {
	in := extract.StrategyInput{
		Bank:      bank,
		Region:    region.Box,
		ImgW:      imgW,
		ImgH:      imgH,
		FullLines: latinLines,
	}
	cand, ok := extract.Run(extract.ChequeNumberStrategies(), in)
	if !ok {
		if region.Box == (ocr.Rect{}) {
			return emptyRecord()
		}
		return nil
	}
	return buildRecord(bank, cheque.FieldChequeNumber, cand, locConf, region.Box, p.cfg.ParseFailFactor, p.cfg.GlobalThreshold)
}

// buildRecord parses, validates and scores one selected candidate
func buildRecord(bank string, field cheque.FieldName, cand extract.Candidate, locConf float64, box ocr.Rect, parseFailFactor, threshold float64) *cheque.FieldRecord {
	res := parse.Field(field, cand.Text)

	rec := &cheque.FieldRecord{
		LocConf: score.Clamp01(locConf),
		OCRConf: score.Clamp01(cand.Confidence),
		ParseOK: res.OK,
		Source:  cand.Source,
	}
	if cand.Text != "" {
		t := cand.Text
		rec.OCRText = &t
	}
	if cand.Language != "" {
		l := string(cand.Language)
		rec.OCRLang = &l
	}
	if box != (ocr.Rect{}) {
		rec.BBox = []int{box.X1, box.Y1, box.X2, box.Y2}
	}
	if res.OK {
		norm := res.Norm
		rec.ParseNorm = &norm
	} else {
		rec.ParseError = string(res.Err)
	}

	if res.OK {
		if v, gated := gateField(bank, field, res.Norm); gated {
			rec.Validation = &v
		}
	}

	rec.FieldConf = score.FieldConfidence(rec.OCRConf, rec.LocConf, rec.ParseOK, parseFailFactor)
	rec.MeetsThreshold = score.MeetsThreshold(rec.FieldConf, threshold)
	return rec
}

// gateField applies the business-rule gate for the field, when one exists
func gateField(bank string, field cheque.FieldName, norm string) (cheque.Validation, bool) {
	var r validate.Result
	switch field {
	case cheque.FieldDate:
		year := time.Now().Year()
		r = validate.Date(norm, year-1, year+3)
	case cheque.FieldAmountNumeric:
		r = validate.Amount(norm, 1, 100000000)
	case cheque.FieldChequeNumber:
		r = validate.ChequeNumber(norm, bank)
	case cheque.FieldPayeeName:
		r = validate.Payee(norm, nil, 0.85)
	default:
		return cheque.Validation{}, false
	}
	v := cheque.Validation{OK: r.OK}
	if !r.OK {
		v.Code = string(r.Code)
	}
	return v, true
}

func emptyRecord() *cheque.FieldRecord {
	return &cheque.FieldRecord{
		ParseOK:    false,
		ParseError: string(parse.CodeEmpty),
	}
}

func fieldMapForAudit(fields map[cheque.FieldName]*cheque.FieldRecord) map[string]*cheque.FieldRecord {
	out := make(map[string]*cheque.FieldRecord, len(fields))
	for k, v := range fields {
		out[string(k)] = v
	}
	return out
}

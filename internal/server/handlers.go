package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chequeflow/cheque-worker/internal/audit"
	"github.com/chequeflow/cheque-worker/internal/batch"
	"github.com/chequeflow/cheque-worker/internal/cheque"
	pkgerrors "github.com/chequeflow/cheque-worker/internal/errors"
	"github.com/chequeflow/cheque-worker/internal/pipeline"
	"github.com/chequeflow/cheque-worker/internal/queue"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true, ".bmp": true,
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			health["status"] = "degraded"
			health["database"] = "unreachable"
		} else {
			health["database"] = "ok"
		}
	} else {
		health["database"] = "disabled"
	}
	c.JSON(http.StatusOK, health)
}

// handleUpload accepts one cheque image (processed inline) or a zip archive
// (fanned out through the queue). Form fields: file, bank, template_id,
// correlation_id.
func (s *Server) handleUpload(c *gin.Context) {
	bank := strings.ToUpper(strings.TrimSpace(c.PostForm("bank")))
	if bank == "" || !cheque.IsValidBank(bank) {
		abortError(c, http.StatusBadRequest, "INVALID_BANK", fmt.Sprintf("bank must be one of %v", cheque.AllBanks))
		return
	}
	templateID := c.PostForm("template_id")
	var correlationID *string
	if cid := strings.TrimSpace(c.PostForm("correlation_id")); cid != "" {
		correlationID = &cid
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortError(c, http.StatusBadRequest, "MISSING_FILE", "multipart field 'file' is required")
		return
	}
	if fileHeader.Size > s.cfg.MaxUploadSize {
		abortError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadSize))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		abortError(c, http.StatusBadRequest, "UNREADABLE_FILE", err.Error())
		return
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		abortError(c, http.StatusBadRequest, "UNREADABLE_FILE", err.Error())
		return
	}

	jobID := uuid.NewString()
	s.stageUpload(bank, jobID+strings.ToLower(filepath.Ext(fileHeader.Filename)), buf)

	batchName, batchID, err := s.resolveBatch(c.Request.Context(), bank, correlationID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "BATCH_ALLOCATION_FAILED", err.Error())
		return
	}

	if strings.EqualFold(filepath.Ext(fileHeader.Filename), ".zip") {
		s.enqueueArchive(c, bank, templateID, correlationID, batchName, batchID, fileHeader.Filename, buf)
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !imageExtensions[ext] {
		abortError(c, http.StatusBadRequest, string(pkgerrors.ErrorUnsupportedFormat),
			fmt.Sprintf("unsupported file type: %s", fileHeader.Filename))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(),
		time.Duration(s.cfg.ProcessingTimeout)*time.Millisecond)
	defer cancel()

	result, err := s.processor.Process(ctx, pipeline.ProcessRequest{
		JobID:         jobID,
		Bank:          bank,
		TemplateID:    templateID,
		Filename:      fileHeader.Filename,
		FileBuffer:    buf,
		CorrelationID: correlationID,
		BatchName:     batchName,
		BatchID:       batchID,
	})
	if err != nil {
		abortPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file":       result.FileID,
		"bank":       result.Bank,
		"batch_name": result.BatchName,
		"decision":   result.Decision,
		"fields":     result.Fields,
		"persisted":  result.Persisted,
		"meta":       result.Meta,
	})
}

// stageUpload keeps the raw upload bytes under UPLOAD_DIR so rejected or
// disputed documents can be reprocessed; failure never blocks the request
func (s *Server) stageUpload(bank, name string, buf []byte) {
	if s.cfg.UploadDir == "" {
		return
	}
	dir := filepath.Join(s.cfg.UploadDir, bank)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("Failed to create upload dir", "dir", dir, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
		s.logger.Warn("Failed to stage upload", "file", name, "error", err)
	}
}

// enqueueArchive expands a zip upload into one queued job per image
func (s *Server) enqueueArchive(c *gin.Context, bank, templateID string, correlationID *string,
	batchName, batchID, archiveName string, buf []byte) {

	if s.consumer == nil {
		abortError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "bulk uploads require the job queue")
		return
	}

	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		abortError(c, http.StatusBadRequest, string(pkgerrors.ErrorUnsupportedFormat),
			fmt.Sprintf("unreadable zip archive: %s", archiveName))
		return
	}

	var jobs []gin.H
	index := 0
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(entry.Name)
		if strings.HasPrefix(entry.Name, "__MACOSX/") || strings.HasPrefix(base, ".") {
			continue
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(base))] {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			s.logger.Warn("Skipping unreadable zip entry", "entry", entry.Name, "error", err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			s.logger.Warn("Skipping unreadable zip entry", "entry", entry.Name, "error", err)
			continue
		}

		jobID := uuid.NewString()
		index++
		if err := s.consumer.Enqueue(c.Request.Context(), queue.JobData{
			JobID:         jobID,
			Bank:          bank,
			TemplateID:    templateID,
			Filename:      base,
			FileBuffer:    data,
			CorrelationID: correlationID,
			BatchName:     batchName,
			BatchID:       batchID,
			IndexInBatch:  index,
		}); err != nil {
			abortError(c, http.StatusInternalServerError, "ENQUEUE_FAILED", err.Error())
			return
		}
		jobs = append(jobs, gin.H{"job_id": jobID, "filename": base})
	}

	if len(jobs) == 0 {
		abortError(c, http.StatusBadRequest, "EMPTY_ARCHIVE", "archive contains no processable images")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_name": batchName,
		"bank":       bank,
		"queued":     len(jobs),
		"jobs":       jobs,
	})
}

// resolveBatch maps (bank, correlation id) to a stable batch. Concurrent
// uploads sharing a correlation id converge on one batch through the Redis
// claim; without a correlation id every upload opens a fresh batch.
func (s *Server) resolveBatch(ctx context.Context, bank string, correlationID *string) (string, string, error) {
	allocate := func() (string, string, error) {
		if s.db != nil {
			b, err := s.db.AllocateBatch(ctx, bank, s.cfg.BatchTZ)
			if err != nil {
				return "", "", err
			}
			return b.Name, b.ID, nil
		}
		id := batch.NextIdentity(bank, nil, time.Now(), s.cfg.BatchTZ)
		return id.Name, "", nil
	}

	if correlationID == nil || *correlationID == "" || s.mapper == nil {
		return allocate()
	}

	name, found, err := s.mapper.Resolve(ctx, bank, *correlationID)
	if err != nil {
		return "", "", err
	}
	if !found {
		allocName, allocID, err := allocate()
		if err != nil {
			return "", "", err
		}
		winner, err := s.mapper.Claim(ctx, bank, *correlationID, allocName)
		if err != nil {
			return "", "", err
		}
		if winner == allocName {
			return allocName, allocID, nil
		}
		name = winner
	}

	if s.db != nil {
		b, err := s.db.GetBatchByName(ctx, bank, name)
		if err != nil {
			return "", "", err
		}
		return b.Name, b.ID, nil
	}
	return name, "", nil
}

func (s *Server) handleListItems(c *gin.Context) {
	bankFilter := strings.ToUpper(strings.TrimSpace(c.Query("bank")))
	decisionFilter := c.Query("decision")

	banks, err := s.audits.ListBanks()
	if err != nil {
		abortError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	items := make([]gin.H, 0)
	for _, bank := range banks {
		if bankFilter != "" && bank != bankFilter {
			continue
		}
		files, err := s.audits.ListFiles(bank)
		if err != nil {
			continue
		}
		for _, fileID := range files {
			doc, err := s.audits.Load(bank, fileID)
			if err != nil {
				continue
			}
			if decisionFilter != "" && doc.Decision.Decision != decisionFilter {
				continue
			}
			items = append(items, gin.H{
				"bank":            doc.Bank,
				"file":            doc.File,
				"batch_name":      doc.BatchName,
				"decision":        doc.Decision.Decision,
				"overall_conf":    doc.Decision.OverallConf,
				"low_conf_fields": doc.Decision.LowConfFields,
				"corrections":     len(doc.Corrections),
				"generated_at":    doc.GeneratedAt,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (s *Server) handleGetItem(c *gin.Context) {
	doc, err := s.audits.Load(c.Param("bank"), c.Param("file"))
	if err != nil {
		abortPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type correctionsRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Updates    map[string]struct {
		Value  string  `json:"value"`
		Reason *string `json:"reason"`
	} `json:"updates" binding:"required"`
}

func (s *Server) handleCorrections(c *gin.Context) {
	bank := c.Param("bank")
	fileID := c.Param("file")

	var req correctionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if len(req.Updates) == 0 {
		abortError(c, http.StatusBadRequest, "EMPTY_UPDATES", "at least one field update is required")
		return
	}

	updates := make(map[string]audit.CorrectionInput, len(req.Updates))
	for field, u := range req.Updates {
		updates[field] = audit.CorrectionInput{Value: u.Value, Reason: u.Reason}
	}

	doc, applied, err := s.audits.AppendCorrections(bank, fileID, req.ReviewerID, updates)
	if err != nil {
		abortPipelineError(c, err)
		return
	}

	// Mirror into the relational store and refresh batch KPIs, best-effort
	if s.db != nil && len(applied) > 0 {
		newCorrections := doc.Corrections[len(doc.Corrections)-len(applied):]
		if err := s.db.ApplyCorrections(c.Request.Context(), bank, fileID, newCorrections); err != nil {
			s.logger.Error("Failed to persist corrections", "bank", bank, "file", fileID, "error", err)
		} else if doc.BatchName != "" {
			if b, err := s.db.GetBatchByName(c.Request.Context(), bank, doc.BatchName); err == nil {
				if _, err := s.db.RecomputeBatchKPIs(c.Request.Context(), b.ID); err != nil {
					s.logger.Error("Failed to recompute batch KPIs", "batch", doc.BatchName, "error", err)
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"applied": applied, "document": doc})
}

// handleExport streams every audit record as flat CSV, one row per field.
// The UTF-8 BOM keeps Arabic names intact when the file lands in Excel.
func (s *Server) handleExport(c *gin.Context) {
	bankFilter := strings.ToUpper(strings.TrimSpace(c.Query("bank")))

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="review_export.csv"`)
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(c.Writer)
	defer w.Flush()
	w.Write([]string{"bank", "file", "batch_name", "decision", "stp", "overall_conf",
		"field", "value", "ocr_text", "field_conf", "meets_threshold", "corrected", "validation_code"})

	banks, err := s.audits.ListBanks()
	if err != nil {
		return
	}
	for _, bank := range banks {
		if bankFilter != "" && bank != bankFilter {
			continue
		}
		files, err := s.audits.ListFiles(bank)
		if err != nil {
			continue
		}
		for _, fileID := range files {
			doc, err := s.audits.Load(bank, fileID)
			if err != nil {
				continue
			}
			for _, field := range cheque.AllFields {
				rec, ok := doc.Fields[string(field)]
				if !ok || rec == nil {
					continue
				}
				value, ocrText, vcode := "", "", ""
				if rec.ParseNorm != nil {
					value = *rec.ParseNorm
				}
				if rec.OCRText != nil {
					ocrText = *rec.OCRText
				}
				if rec.Validation != nil {
					vcode = rec.Validation.Code
				}
				w.Write([]string{
					doc.Bank, doc.File, doc.BatchName,
					doc.Decision.Decision, fmt.Sprintf("%t", doc.Decision.STP),
					fmt.Sprintf("%.4f", doc.Decision.OverallConf),
					string(field), value, ocrText,
					fmt.Sprintf("%.4f", rec.FieldConf),
					fmt.Sprintf("%t", rec.MeetsThreshold),
					fmt.Sprintf("%t", rec.Corrected),
					vcode,
				})
			}
		}
	}
}

func (s *Server) handleListBatches(c *gin.Context) {
	if s.db == nil {
		abortError(c, http.StatusServiceUnavailable, string(pkgerrors.ErrorDatabaseDisabled), "batch listing requires the database")
		return
	}
	bank := strings.ToUpper(strings.TrimSpace(c.Query("bank")))
	batches, err := s.db.ListBatches(c.Request.Context(), bank)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	if s.db == nil {
		abortError(c, http.StatusServiceUnavailable, string(pkgerrors.ErrorDatabaseDisabled), "batch lookup requires the database")
		return
	}
	b, err := s.db.GetBatchByName(c.Request.Context(), c.Param("bank"), c.Param("name"))
	if err != nil {
		abortPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type finalizeRequest struct {
	Bank          string `json:"bank" binding:"required"`
	Name          string `json:"name"`
	CorrelationID string `json:"correlation_id"`
}

// handleFinalizeBatch closes a batch: end timestamp, duration, KPI recompute,
// and release of the correlation mapping.
func (s *Server) handleFinalizeBatch(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if s.db == nil {
		abortError(c, http.StatusServiceUnavailable, string(pkgerrors.ErrorDatabaseDisabled), "batch finalize requires the database")
		return
	}
	bank := strings.ToUpper(strings.TrimSpace(req.Bank))

	name := req.Name
	if name == "" {
		if req.CorrelationID == "" || s.mapper == nil {
			abortError(c, http.StatusBadRequest, "MISSING_BATCH", "either name or correlation_id is required")
			return
		}
		resolved, found, err := s.mapper.Resolve(c.Request.Context(), bank, req.CorrelationID)
		if err != nil {
			abortError(c, http.StatusInternalServerError, "MAPPING_FAILED", err.Error())
			return
		}
		if !found {
			abortError(c, http.StatusNotFound, string(pkgerrors.ErrorBatchNotFound),
				fmt.Sprintf("no batch mapped to correlation id %s", req.CorrelationID))
			return
		}
		name = resolved
	}

	b, metrics, err := s.db.FinalizeBatch(c.Request.Context(), bank, name)
	if err != nil {
		abortPipelineError(c, err)
		return
	}

	if req.CorrelationID != "" && s.mapper != nil {
		if err := s.mapper.Remove(c.Request.Context(), bank, req.CorrelationID); err != nil {
			s.logger.Warn("Failed to remove batch mapping", "bank", bank, "correlation_id", req.CorrelationID, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"batch": b, "metrics": metrics})
}

// handleKPIPerBank computes correction-driven error rates per bank straight
// from the audit store, so it works with or without the database.
func (s *Server) handleKPIPerBank(c *gin.Context) {
	banks, err := s.audits.ListBanks()
	if err != nil {
		abortError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	perBank := make(map[string]batch.Metrics)
	for _, bank := range banks {
		files, err := s.audits.ListFiles(bank)
		if err != nil {
			continue
		}
		var stats []batch.ChequeStat
		for _, fileID := range files {
			doc, err := s.audits.Load(bank, fileID)
			if err != nil {
				continue
			}
			stat := batch.ChequeStat{TotalFields: len(doc.Fields)}
			for name, rec := range doc.Fields {
				if rec != nil && rec.Corrected && cheque.KPIFields[cheque.FieldName(name)] {
					stat.CorrectedKPIFields++
				}
			}
			stats = append(stats, stat)
		}
		perBank[bank] = batch.ComputeKPIs(stats)
	}
	c.JSON(http.StatusOK, gin.H{"banks": perBank})
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": message})
}

// abortPipelineError maps structured pipeline errors onto HTTP statuses
func abortPipelineError(c *gin.Context, err error) {
	var perr *pkgerrors.PipelineError
	if !stderrors.As(err, &perr) {
		abortError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch perr.Code {
	case pkgerrors.ErrorUnsupportedFormat, pkgerrors.ErrorPreflightRejected:
		status = http.StatusBadRequest
	case pkgerrors.ErrorBatchNotFound, pkgerrors.ErrorAuditNotFound, pkgerrors.ErrorTemplateNotFound:
		status = http.StatusNotFound
	case pkgerrors.ErrorDatabaseDisabled:
		status = http.StatusServiceUnavailable
	case pkgerrors.ErrorProcessingTimeout:
		status = http.StatusGatewayTimeout
	}
	c.AbortWithStatusJSON(status, gin.H{"code": string(perr.Code), "error": perr.Message, "details": perr.Details})
}

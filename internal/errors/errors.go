package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for Cheque Worker
 *
 * Structured errors carry a machine-readable code, the owning file id,
 * and optional details for audit persistence.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorPreflightRejected ErrorCode = "PREFLIGHT_REJECTED"
	ErrorTemplateNotFound  ErrorCode = "TEMPLATE_NOT_FOUND"

	// Storage errors
	ErrorStorageFailed    ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseDisabled ErrorCode = "DATABASE_DISABLED"
	ErrorBatchNotFound    ErrorCode = "BATCH_NOT_FOUND"
	ErrorAuditNotFound    ErrorCode = "AUDIT_NOT_FOUND"
)

// PipelineError represents a structured processing error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	FileID    string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewProcessingTimeoutError(fileID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		FileID:    fileID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(fileID string, lang string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed for language: %s", lang),
		FileID:    fileID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ocr_lang": lang,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(fileID string, filename string) *PipelineError {
	return &PipelineError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", filename),
		FileID:    fileID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"filename": filename,
		},
	}
}

func NewPreflightRejectedError(fileID string, blurVariance, threshold float64) *PipelineError {
	return &PipelineError{
		Code:      ErrorPreflightRejected,
		Message:   "Image rejected due to low sharpness",
		FileID:    fileID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"blur_variance": blurVariance,
			"threshold":     threshold,
		},
	}
}

func NewTemplateNotFoundError(bank, templateID string) *PipelineError {
	return &PipelineError{
		Code:      ErrorTemplateNotFound,
		Message:   fmt.Sprintf("Template not found: %s/%s", bank, templateID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"bank":        bank,
			"template_id": templateID,
		},
	}
}

func NewStorageFailedError(fileID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		FileID:    fileID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewBatchNotFoundError(bank, name string) *PipelineError {
	return &PipelineError{
		Code:      ErrorBatchNotFound,
		Message:   fmt.Sprintf("Batch not found: %s/%s", bank, name),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"bank": bank,
			"name": name,
		},
	}
}

// ToMap converts error to map for audit/database storage
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

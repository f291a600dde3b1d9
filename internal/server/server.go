/**
 * HTTP API for the cheque worker
 *
 * Serves uploads, the review queue, corrections, batch lifecycle and KPI
 * metrics. Single images process inline; zip archives fan out through the
 * job queue.
 */

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chequeflow/cheque-worker/internal/audit"
	"github.com/chequeflow/cheque-worker/internal/batch"
	"github.com/chequeflow/cheque-worker/internal/config"
	"github.com/chequeflow/cheque-worker/internal/logging"
	"github.com/chequeflow/cheque-worker/internal/pipeline"
	"github.com/chequeflow/cheque-worker/internal/queue"
	"github.com/chequeflow/cheque-worker/internal/storage"
)

// Server exposes the worker's HTTP API
type Server struct {
	cfg       *config.Config
	processor *pipeline.Processor
	consumer  *queue.Consumer
	audits    *audit.Store
	db        *storage.Client // nil when persistence is disabled
	mapper    batch.Mapper    // nil when Redis is unavailable
	logger    *logging.Logger
	http      *http.Server
}

// New builds the server and its routes
func New(cfg *config.Config, processor *pipeline.Processor, consumer *queue.Consumer,
	audits *audit.Store, db *storage.Client, mapper batch.Mapper) *Server {

	s := &Server{
		cfg:       cfg,
		processor: processor,
		consumer:  consumer,
		audits:    audits,
		db:        db,
		mapper:    mapper,
		logger:    logging.NewLogger("http"),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.MaxUploadSize

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/review/upload", s.handleUpload)
		api.GET("/review/items", s.handleListItems)
		api.GET("/review/items/:bank/:file", s.handleGetItem)
		api.POST("/review/items/:bank/:file/corrections", s.handleCorrections)
		api.GET("/review/export", s.handleExport)

		api.GET("/batches", s.handleListBatches)
		api.GET("/batches/:bank/:name", s.handleGetBatch)
		api.POST("/batches/finalize", s.handleFinalizeBatch)

		api.GET("/metrics/kpi-per-bank", s.handleKPIPerBank)
	}

	s.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the underlying handler, for tests
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown or a listener error
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.cfg.HTTPAddr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

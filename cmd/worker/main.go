/**
 * Cheque Worker - Main Entry Point
 *
 * Field location, extraction, confidence gating and routing for scanned bank
 * cheques.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue (zip uploads fan out here)
 * - Gin HTTP API for uploads, review, corrections, batches and KPI metrics
 * - Tesseract OCR (Latin + Arabic passes) behind a warm engine
 * - JSON audit store as the durable record; PostgreSQL persistence optional
 * - Redis correlation map so concurrent uploads share one batch
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chequeflow/cheque-worker/internal/audit"
	"github.com/chequeflow/cheque-worker/internal/batch"
	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/config"
	"github.com/chequeflow/cheque-worker/internal/locator"
	"github.com/chequeflow/cheque-worker/internal/ocr"
	"github.com/chequeflow/cheque-worker/internal/pipeline"
	"github.com/chequeflow/cheque-worker/internal/queue"
	"github.com/chequeflow/cheque-worker/internal/server"
	"github.com/chequeflow/cheque-worker/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Cheque Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, HTTP=%s, Workers=%d, Threshold=%.3f",
		cfg.RedisURL, cfg.HTTPAddr, cfg.WorkerConcurrency, cfg.GlobalThreshold)

	// Relational persistence is optional: without DATABASE_URL the worker
	// still processes and audits, it just skips batches and SQL KPIs
	var db *storage.Client
	if cfg.PersistenceEnabled() {
		log.Printf("Connecting to PostgreSQL...")
		db, err = storage.NewClient(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure database schema: %v", err)
		}
		for _, bank := range cheque.AllBanks {
			if err := db.EnsureBank(ctx, bank, bank); err != nil {
				cancel()
				log.Fatalf("Failed to ensure bank %s: %v", bank, err)
			}
		}
		cancel()
		log.Printf("PostgreSQL connected, schema ensured")
	} else {
		log.Printf("DATABASE_URL not set, running without relational persistence")
	}

	log.Printf("Connecting batch correlation map (Redis)...")
	mapper, err := batch.NewRedisMapper(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect batch correlation map: %v", err)
	}
	defer mapper.Close()

	audits := audit.NewStore(cfg.AuditDir)

	log.Printf("Initializing OCR engine (tessdata=%q, arabic=%v)...", cfg.TessdataPrefix, cfg.EnableArabicOCR)
	engine, err := ocr.NewTesseractEngine(&ocr.TesseractConfig{TessdataPrefix: cfg.TessdataPrefix})
	if err != nil {
		log.Fatalf("Failed to initialize OCR engine: %v", err)
	}
	defer engine.Close()

	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := engine.Warmup(warmupCtx); err != nil {
		log.Printf("Warning: OCR warmup failed: %v", err)
	}
	warmupCancel()

	templates := locator.NewLoader(cfg.TemplatesDir)
	processor := pipeline.NewProcessor(cfg, engine, locator.New(templates), audits, db)

	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         processor,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}
	log.Printf("Queue consumer started with concurrency=%d", cfg.WorkerConcurrency)

	httpServer := server.New(cfg, processor, consumer, audits, db, mapper)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Printf("===========================================")
	log.Printf("Cheque Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("HTTP API: %s", cfg.HTTPAddr)
	log.Printf("Auto-approve threshold: %.3f", cfg.GlobalThreshold)
	log.Printf("Name field: %v, Arabic OCR: %v", cfg.EnableNameField, cfg.EnableArabicOCR)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Printf("HTTP server stopped")
	}

	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped")
	}

	log.Printf("Shutdown complete")
}

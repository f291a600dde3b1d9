/**
 * Queue Consumer for the cheque worker
 *
 * Consumes cheque-processing jobs from a Redis-backed queue. Uses Asynq for
 * queue management; bulk (zip) uploads enqueue one task per image and the
 * worker pool drains them concurrently.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/chequeflow/cheque-worker/internal/errors"
	"github.com/chequeflow/cheque-worker/internal/pipeline"
)

// TaskProcessCheque is the task type for one cheque image
const TaskProcessCheque = "cheque:process"

// JobData is the payload of one queued cheque job
type JobData struct {
	JobID         string  `json:"jobId"`
	Bank          string  `json:"bank"`
	TemplateID    string  `json:"templateId,omitempty"`
	Filename      string  `json:"filename"`
	FileBuffer    []byte  `json:"fileBuffer"`
	CorrelationID *string `json:"correlationId,omitempty"`
	BatchName     string  `json:"batchName,omitempty"`
	BatchID       string  `json:"batchId,omitempty"`
	IndexInBatch  int     `json:"indexInBatch,omitempty"`
}

// Processor is the pipeline surface the consumer drives
type Processor interface {
	Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResult, error)
}

// Consumer handles job consumption from the Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor Processor
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         Processor
	ProcessingTimeout int64 // milliseconds
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
	}

	mux.HandleFunc(TaskProcessCheque, consumer.handleProcessCheque)

	return consumer, nil
}

// Enqueue submits one cheque job to the queue
func (c *Consumer) Enqueue(ctx context.Context, job JobData) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}
	_, err = c.client.EnqueueContext(ctx,
		asynq.NewTask(TaskProcessCheque, payload),
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Duration(c.config.ProcessingTimeout)*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleProcessCheque processes one queued cheque image
func (c *Consumer) handleProcessCheque(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var jobData JobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	log.Printf("[Job %s] Processing cheque: bank=%s, filename=%s, size=%d bytes",
		jobData.JobID, jobData.Bank, jobData.Filename, len(jobData.FileBuffer))

	timeout := time.Duration(120000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.Process(processCtx, pipeline.ProcessRequest{
		JobID:         jobData.JobID,
		Bank:          jobData.Bank,
		TemplateID:    jobData.TemplateID,
		Filename:      jobData.Filename,
		FileBuffer:    jobData.FileBuffer,
		CorrelationID: jobData.CorrelationID,
		BatchName:     jobData.BatchName,
		BatchID:       jobData.BatchID,
		IndexInBatch:  jobData.IndexInBatch,
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out after %v (timeout: %v)", jobData.JobID, duration, timeout)
			return fmt.Errorf("processing timeout: %w", errors.NewProcessingTimeoutError(jobData.JobID, timeout, err))
		}

		log.Printf("[Job %s] Processing failed after %v: %v", jobData.JobID, duration, err)
		return fmt.Errorf("cheque processing failed: %w", err)
	}

	log.Printf("[Job %s] Processing completed in %v: decision=%s, overall_conf=%.4f, persisted=%v",
		jobData.JobID, duration, result.Decision.Decision, result.Decision.OverallConf, result.Persisted)

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

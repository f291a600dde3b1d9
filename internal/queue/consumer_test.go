package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chequeflow/cheque-worker/internal/cheque"
	"github.com/chequeflow/cheque-worker/internal/pipeline"
)

type stubProcessor struct {
	lastReq pipeline.ProcessRequest
	result  *pipeline.ProcessResult
	err     error
}

func (s *stubProcessor) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestConsumer(t *testing.T, p Processor) *Consumer {
	t.Helper()
	c, err := NewConsumer(&ConsumerConfig{
		RedisURL:          "redis://localhost:6379",
		QueueName:         "cheque:jobs",
		Concurrency:       1,
		Processor:         p,
		ProcessingTimeout: 5000,
	})
	require.NoError(t, err)
	return c
}

func TestNewConsumerValidation(t *testing.T) {
	p := &stubProcessor{}

	_, err := NewConsumer(&ConsumerConfig{QueueName: "q", Processor: p})
	assert.Error(t, err)

	_, err = NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", Processor: p})
	assert.Error(t, err)

	_, err = NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "q"})
	assert.Error(t, err)

	_, err = NewConsumer(&ConsumerConfig{RedisURL: "not a uri", QueueName: "q", Processor: p})
	assert.Error(t, err)
}

func TestJobDataRoundTrip(t *testing.T) {
	cid := "corr-1"
	job := JobData{
		JobID:         "job-1",
		Bank:          "QNB",
		Filename:      "cheque.png",
		FileBuffer:    []byte{1, 2, 3},
		CorrelationID: &cid,
		BatchName:     "07_03_2025_QNB_01",
		BatchID:       "b-1",
		IndexInBatch:  2,
	}

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"jobId":"job-1"`)
	assert.Contains(t, string(raw), `"correlationId":"corr-1"`)

	var back JobData
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, job, back)
}

func TestHandleProcessCheque(t *testing.T) {
	p := &stubProcessor{result: &pipeline.ProcessResult{
		FileID: "job-1",
		Bank:   "QNB",
		Decision: cheque.DecisionRecord{
			Decision:    cheque.DecisionAutoApprove,
			STP:         true,
			OverallConf: 0.999,
		},
	}}
	c := newTestConsumer(t, p)

	payload, err := json.Marshal(JobData{
		JobID:      "job-1",
		Bank:       "QNB",
		Filename:   "cheque.png",
		FileBuffer: []byte{1},
		BatchName:  "07_03_2025_QNB_01",
	})
	require.NoError(t, err)

	err = c.handleProcessCheque(context.Background(), asynq.NewTask(TaskProcessCheque, payload))
	require.NoError(t, err)

	assert.Equal(t, "job-1", p.lastReq.JobID)
	assert.Equal(t, "QNB", p.lastReq.Bank)
	assert.Equal(t, "07_03_2025_QNB_01", p.lastReq.BatchName)
}

func TestHandleProcessChequeBadPayload(t *testing.T) {
	c := newTestConsumer(t, &stubProcessor{})
	err := c.handleProcessCheque(context.Background(), asynq.NewTask(TaskProcessCheque, []byte("not json")))
	assert.Error(t, err)
}

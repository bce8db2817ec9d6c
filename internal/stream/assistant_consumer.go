package stream

import (
	"context"

	"github.com/goccy/go-json"

	"assistant_server/adapter/in/worker"
	"assistant_server/pkg/logger"
)

// Consumer reads jobs off the streams and feeds them into the worker
// pool. Workflow resumes carry a user decision someone is waiting on,
// so they go through the priority queue.
type Consumer struct {
	stream *RedisStream
	pool   *worker.Pool
	name   string
}

func NewConsumer(stream *RedisStream, pool *worker.Pool, name string) *Consumer {
	return &Consumer{
		stream: stream,
		pool:   pool,
		name:   name,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	streams := []string{StreamMail, StreamWorkflow, StreamIndexing, StreamNotify}
	for _, s := range streams {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			logger.Error("failed to create group for %s: %v", s, err)
		}
	}

	for _, s := range streams {
		go c.consume(ctx, s)
	}
}

func (c *Consumer) consume(ctx context.Context, stream string) {
	c.stream.Consume(ctx, stream, c.name, func(id string, data []byte) error {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			logger.Error("failed to unmarshal job: %v", err)
			return err
		}

		msg := &worker.Message{
			ID:        job.ID,
			Type:      job.Type,
			Payload:   job.Payload,
			CreatedAt: job.CreatedAt,
		}

		if job.Type == worker.JobWorkflowResume {
			msg.Priority = worker.PriorityHigh
			c.pool.SubmitPriority(msg)
			return nil
		}
		c.pool.Submit(msg)
		return nil
	})
}

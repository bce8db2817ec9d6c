package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"assistant_server/adapter/in/worker"
)

// Producer publishes typed jobs to the streams. It satisfies the
// worker package's Enqueuer and TickProducer interfaces.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func newJob(jobType string, payload map[string]any) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// PublishMailPoll enqueues a mailbox poll. userID zero polls all users.
func (p *Producer) PublishMailPoll(ctx context.Context, userID int64) (string, error) {
	payload := map[string]any{}
	if userID != 0 {
		payload["user_id"] = userID
	}
	return p.stream.Publish(ctx, StreamMail, newJob(worker.JobMailPoll, payload))
}

func (p *Producer) PublishWorkflowStart(ctx context.Context, emailID int64) (string, error) {
	return p.stream.Publish(ctx, StreamWorkflow, newJob(worker.JobWorkflowStart, map[string]any{
		"email_id": emailID,
	}))
}

func (p *Producer) PublishWorkflowResume(ctx context.Context, threadID string, decision map[string]any) (string, error) {
	return p.stream.Publish(ctx, StreamWorkflow, newJob(worker.JobWorkflowResume, map[string]any{
		"thread_id": threadID,
		"decision":  decision,
	}))
}

func (p *Producer) PublishIndexingStart(ctx context.Context, userID int64) (string, error) {
	return p.stream.Publish(ctx, StreamIndexing, newJob(worker.JobIndexingStart, map[string]any{
		"user_id": userID,
	}))
}

func (p *Producer) PublishIndexingResume(ctx context.Context, userID int64) (string, error) {
	return p.stream.Publish(ctx, StreamIndexing, newJob(worker.JobIndexingResume, map[string]any{
		"user_id": userID,
	}))
}

func (p *Producer) PublishIndexingSupervise(ctx context.Context) (string, error) {
	return p.stream.Publish(ctx, StreamIndexing, newJob(worker.JobIndexingSupervise, map[string]any{}))
}

func (p *Producer) PublishIndexingCleanup(ctx context.Context) (string, error) {
	return p.stream.Publish(ctx, StreamIndexing, newJob(worker.JobIndexingCleanup, map[string]any{}))
}

func (p *Producer) PublishNotifyFlush(ctx context.Context) (string, error) {
	return p.stream.Publish(ctx, StreamNotify, newJob(worker.JobNotifyFlush, map[string]any{}))
}

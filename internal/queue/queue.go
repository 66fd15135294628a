package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/models"
)

const (
	QueueRunTask = "queue:run_task"

	progressChannelPrefix = "progress:"
)

type Queue struct {
	client *redis.Client
}

// Job is one unit of queued work: run (or resume) the generation task.
type Job struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	ChapterID uuid.UUID `json:"chapter_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueRunTask queues a task run. Called on start and on resume; the worker
// picks the job up and drives the pipeline for all still-pending sentences.
func (q *Queue) EnqueueRunTask(ctx context.Context, taskID, chapterID uuid.UUID) error {
	job := &Job{
		ID:        uuid.New(),
		TaskID:    taskID,
		ChapterID: chapterID,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, QueueRunTask, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueRunTask).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueRunTask).Result()
}

// PublishProgress fans a progress event out to subscribers in every process.
// Best effort: a dropped publish is tolerable because status polling always
// reflects the persisted counts.
func (q *Queue) PublishProgress(ctx context.Context, event *models.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	return q.client.Publish(ctx, progressChannelPrefix+event.TaskID.String(), data).Err()
}

// SubscribeProgress returns a channel of progress events for one task.
// The returned cancel func must be called to release the subscription.
func (q *Queue) SubscribeProgress(ctx context.Context, taskID uuid.UUID) (<-chan models.ProgressEvent, func(), error) {
	sub := q.client.Subscribe(ctx, progressChannelPrefix+taskID.String())

	// Force the subscription to be established before returning
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to progress channel: %w", err)
	}

	out := make(chan models.ProgressEvent, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event models.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { sub.Close() }, nil
}

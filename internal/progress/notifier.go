package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/models"
)

// Publisher is the pub/sub surface events go out on. *queue.Queue satisfies it.
type Publisher interface {
	PublishProgress(ctx context.Context, event *models.ProgressEvent) error
}

// Notifier converts task transitions and per-sentence completions into the
// outward progress stream. Events go through Redis pub/sub so subscribers in
// any process (the WebSocket endpoint included) see them; delivery is
// at-least-once and percent never decreases for a task.
type Notifier struct {
	publisher Publisher

	mu          sync.Mutex
	lastPercent map[uuid.UUID]float64
}

func New(p Publisher) *Notifier {
	return &Notifier{
		publisher:   p,
		lastPercent: make(map[uuid.UUID]float64),
	}
}

// NotifyProgress publishes one event. Events whose percent would move
// backwards (stale snapshots racing ahead of fresher ones) are dropped.
// Publish failures are logged, not propagated: polling the status endpoint
// always reflects persisted counts.
func (n *Notifier) NotifyProgress(ctx context.Context, event *models.ProgressEvent) {
	n.mu.Lock()
	last, seen := n.lastPercent[event.TaskID]
	if seen && event.Percent < last {
		n.mu.Unlock()
		return
	}
	n.lastPercent[event.TaskID] = event.Percent
	if event.TaskStatus.Terminal() {
		// Terminal event is the last one; stop tracking the task
		delete(n.lastPercent, event.TaskID)
	}
	n.mu.Unlock()

	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}

	if err := n.publisher.PublishProgress(ctx, event); err != nil {
		log.Printf("[Progress] Failed to publish event for task %s: %v", event.TaskID, err)
	}
}

// EventFromTask builds a progress event snapshot from a task's current state.
func EventFromTask(task *models.GenerationTask) *models.ProgressEvent {
	return &models.ProgressEvent{
		TaskID:         task.ID,
		SucceededCount: task.SucceededCount,
		FailedCount:    task.FailedCount,
		Total:          task.TotalCount,
		Percent:        task.Percent(),
		TaskStatus:     task.Status,
		EmittedAt:      time.Now(),
	}
}

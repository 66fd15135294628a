package pipeline

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/lumivox/chapterreel/internal/models"
)

// Controller executes a task's pending sentences with a bounded number of
// simultaneous compositing invocations. The semaphore is process-wide: the
// cap holds across every active task, not per task.
//
// Dispatch follows sentence index order; completion order is unconstrained.
// Results land in a pre-allocated arena slot per sentence so downstream
// assembly never depends on completion order.
type Controller struct {
	store    Store
	composer ClipComposer
	notifier Notifier
	retry    RetryPolicy
	sem      *semaphore.Weighted
}

func NewController(store Store, composer ClipComposer, notifier Notifier, retry RetryPolicy, sem *semaphore.Weighted) *Controller {
	return &Controller{
		store:    store,
		composer: composer,
		notifier: notifier,
		retry:    retry,
		sem:      sem,
	}
}

// SlotResult is one sentence's terminal outcome, written into its arena slot
// by whichever worker finishes it.
type SlotResult struct {
	Sentence *models.Sentence
	ClipRef  string
	Err      error
	Attempts int
	Done     bool
}

// Outcome aggregates a processing round. Succeeded/Failed include counts
// carried in from earlier rounds of the same task (pause/resume).
type Outcome struct {
	Succeeded   int
	Failed      int
	Interrupted bool // pause or cancel stopped dispatch before the last sentence
	Slots       []SlotResult
}

// Process dispatches every given sentence through the retry-wrapped
// compositor and blocks until each dispatched sentence reaches a terminal
// status. Pause and cancel are polled from persisted task status at sentence
// boundaries only: in-flight jobs always run to completion (bounded by their
// own timeout) so no external process is orphaned mid-write.
func (c *Controller) Process(ctx context.Context, task *models.GenerationTask, sentences []models.Sentence) (*Outcome, error) {
	outcome := &Outcome{
		Succeeded: task.SucceededCount,
		Failed:    task.FailedCount,
		Slots:     make([]SlotResult, len(sentences)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := range sentences {
		// Sentence boundary: the only point where pause/cancel take effect
		status, err := c.store.GetTaskStatus(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if status != models.TaskStatusRunning {
			log.Printf("[Controller] Task %s is %s, stopping dispatch at sentence %d/%d",
				task.ID, status, i, len(sentences))
			outcome.Interrupted = true
			break
		}

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}

		// The acquire can block behind other tasks' renders; a pause or
		// cancel that landed during the wait must still stop dispatch.
		status, err = c.store.GetTaskStatus(ctx, task.ID)
		if err != nil {
			c.sem.Release(1)
			return nil, err
		}
		if status != models.TaskStatusRunning {
			c.sem.Release(1)
			log.Printf("[Controller] Task %s is %s, stopping dispatch at sentence %d/%d",
				task.ID, status, i, len(sentences))
			outcome.Interrupted = true
			break
		}

		sentence := &sentences[i]
		if err := c.store.UpdateSentenceStatus(ctx, sentence.ID, models.SentenceStatusProcessing); err != nil {
			c.sem.Release(1)
			return nil, err
		}

		wg.Add(1)
		go func(slot int, sentence *models.Sentence) {
			defer wg.Done()
			defer c.sem.Release(1)

			clipRef, attempts, err := c.retry.Do(ctx, func(ctx context.Context) (string, error) {
				return c.composer.Compose(ctx, task, sentence)
			})

			// Workers write only their own slot; the arena preserves
			// sentence order regardless of completion order.
			outcome.Slots[slot] = SlotResult{
				Sentence: sentence,
				ClipRef:  clipRef,
				Err:      err,
				Attempts: attempts,
				Done:     true,
			}

			c.commitResult(ctx, task, &outcome.Slots[slot], outcome, &mu)
		}(i, sentence)
	}

	// Let already-dispatched jobs finish even when dispatch stopped early
	wg.Wait()

	return outcome, nil
}

// commitResult persists one sentence's terminal status, bumps the task
// counts, and emits a progress event.
func (c *Controller) commitResult(ctx context.Context, task *models.GenerationTask, res *SlotResult, outcome *Outcome, mu *sync.Mutex) {
	retries := res.Attempts - 1
	if retries < 0 {
		retries = 0
	}

	if res.Err == nil {
		if err := c.store.MarkSentenceSucceeded(ctx, res.Sentence.ID, res.ClipRef, retries); err != nil {
			log.Printf("[Controller] Failed to persist success for sentence %d: %v", res.Sentence.SentenceIndex, err)
		}
	} else {
		log.Printf("[Controller] Sentence %d failed after %d attempt(s): %v",
			res.Sentence.SentenceIndex, res.Attempts, res.Err)
		if err := c.store.MarkSentenceFailed(ctx, res.Sentence.ID, res.Err.Error(), retries); err != nil {
			log.Printf("[Controller] Failed to persist failure for sentence %d: %v", res.Sentence.SentenceIndex, err)
		}
	}

	// The counts persist under the same lock that produced them: writes are
	// absolute snapshots, so a slower stale write racing past a fresher one
	// would walk the persisted totals backwards.
	mu.Lock()
	if res.Err == nil {
		outcome.Succeeded++
	} else {
		outcome.Failed++
	}
	succeeded, failed := outcome.Succeeded, outcome.Failed
	if err := c.store.UpdateTaskCounts(ctx, task.ID, succeeded, failed); err != nil {
		log.Printf("[Controller] Failed to update task counts: %v", err)
	}
	mu.Unlock()

	percent := 0.0
	if task.TotalCount > 0 {
		percent = float64(succeeded+failed) / float64(task.TotalCount) * 100
	}
	c.notifier.NotifyProgress(ctx, &models.ProgressEvent{
		TaskID:         task.ID,
		SucceededCount: succeeded,
		FailedCount:    failed,
		Total:          task.TotalCount,
		Percent:        percent,
		TaskStatus:     models.TaskStatusRunning,
	})
}

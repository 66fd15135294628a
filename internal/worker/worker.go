package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lumivox/chapterreel/internal/pipeline"
	"github.com/lumivox/chapterreel/internal/queue"
)

const dequeueTimeout = 5 * time.Second

// Worker pulls run jobs off the Redis queue and hands them to the pipeline
// runner. Several pollers run in parallel so multiple tasks can progress at
// once; the actual compositing load stays bounded by the process-wide render
// semaphore, not by the poller count.
type Worker struct {
	queue   *queue.Queue
	runner  *pipeline.Runner
	pollers int

	wg sync.WaitGroup
}

func New(q *queue.Queue, runner *pipeline.Runner, pollers int) *Worker {
	if pollers < 1 {
		pollers = 1
	}
	return &Worker{
		queue:   q,
		runner:  runner,
		pollers: pollers,
	}
}

// Start launches the poll loops. They stop when ctx is cancelled; Wait blocks
// until every in-progress run has wound down.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[Worker] Starting %d queue poller(s)", w.pollers)
	for i := 0; i < w.pollers; i++ {
		w.wg.Add(1)
		go w.poll(ctx, i)
	}
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) poll(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] Poller %d stopping", id)
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker] Poller %d dequeue error: %v", id, err)
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timed out empty, poll again
		}

		log.Printf("[Worker] Poller %d picked up task %s (chapter %s)", id, job.TaskID, job.ChapterID)
		if err := w.runner.Run(ctx, job.TaskID); err != nil {
			// The run aborted before reaching a terminal transition. The task
			// row still says running; an operator can re-enqueue or cancel it.
			log.Printf("[Worker] Run aborted for task %s: %v", job.TaskID, err)
		}
	}
}

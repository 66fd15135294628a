package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lumivox/chapterreel/internal/models"
	"github.com/lumivox/chapterreel/internal/services"
)

func newRunningTask(store *fakeStore, total int) *models.GenerationTask {
	task := &models.GenerationTask{
		ID:         uuid.New(),
		ChapterID:  uuid.New(),
		Settings:   models.DefaultSettings(),
		Status:     models.TaskStatusRunning,
		TotalCount: total,
	}
	store.CreateTask(context.Background(), task)
	return task
}

func TestProcessRespectsConcurrencyBound(t *testing.T) {
	store := newFakeStore()
	task := newRunningTask(store, 8)
	sentences := store.addSentences(task.ChapterID, 8, true)

	var inFlight, maxInFlight int64
	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			observed := atomic.LoadInt64(&maxInFlight)
			if cur <= observed || atomic.CompareAndSwapInt64(&maxInFlight, observed, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return fmt.Sprintf("clip_%d.mp4", s.SentenceIndex), nil
	}}

	c := NewController(store, composer, &fakeNotifier{}, quickRetry(0), semaphore.NewWeighted(2))
	outcome, err := c.Process(context.Background(), task, sentences)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := atomic.LoadInt64(&maxInFlight); got > 2 {
		t.Errorf("concurrency bound exceeded: %d simultaneous composes", got)
	}
	if outcome.Succeeded != 8 || outcome.Failed != 0 {
		t.Errorf("expected 8 succeeded, got %d succeeded %d failed", outcome.Succeeded, outcome.Failed)
	}
	if outcome.Interrupted {
		t.Error("unexpected interruption")
	}

	// Counts persisted on the task row
	fresh, _ := store.GetTask(context.Background(), task.ID)
	if fresh.SucceededCount != 8 {
		t.Errorf("persisted succeeded count = %d", fresh.SucceededCount)
	}
}

func TestProcessArenaPreservesSentenceOrder(t *testing.T) {
	store := newFakeStore()
	task := newRunningTask(store, 4)
	sentences := store.addSentences(task.ChapterID, 4, true)

	// Later sentences finish first
	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		time.Sleep(time.Duration(4-s.SentenceIndex) * 15 * time.Millisecond)
		return fmt.Sprintf("clip_%d.mp4", s.SentenceIndex), nil
	}}

	c := NewController(store, composer, &fakeNotifier{}, quickRetry(0), semaphore.NewWeighted(4))
	outcome, err := c.Process(context.Background(), task, sentences)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	for i, slot := range outcome.Slots {
		if !slot.Done {
			t.Fatalf("slot %d not done", i)
		}
		if slot.Sentence.SentenceIndex != i {
			t.Errorf("slot %d holds sentence %d", i, slot.Sentence.SentenceIndex)
		}
		if want := fmt.Sprintf("clip_%d.mp4", i); slot.ClipRef != want {
			t.Errorf("slot %d clip ref = %q, want %q", i, slot.ClipRef, want)
		}
	}
}

func TestProcessRecordsFailuresAsTerminalOutcomes(t *testing.T) {
	store := newFakeStore()
	task := newRunningTask(store, 4)
	sentences := store.addSentences(task.ChapterID, 4, true)

	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		if s.SentenceIndex%2 == 1 {
			return "", &services.CompositionError{Reason: "exit status 1", ExitCode: 1}
		}
		return fmt.Sprintf("clip_%d.mp4", s.SentenceIndex), nil
	}}

	c := NewController(store, composer, &fakeNotifier{}, quickRetry(1), semaphore.NewWeighted(2))
	outcome, err := c.Process(context.Background(), task, sentences)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if outcome.Succeeded != 2 || outcome.Failed != 2 {
		t.Fatalf("expected 2/2 split, got %d succeeded %d failed", outcome.Succeeded, outcome.Failed)
	}

	all, _ := store.GetChapterSentences(context.Background(), task.ChapterID)
	for _, s := range all {
		if s.SentenceIndex%2 == 1 {
			if s.Status != models.SentenceStatusFailed {
				t.Errorf("sentence %d status = %s", s.SentenceIndex, s.Status)
			}
			if s.ErrorDetail == nil {
				t.Errorf("sentence %d missing error detail", s.SentenceIndex)
			}
			if s.RetryCount != 1 {
				t.Errorf("sentence %d retry count = %d, want 1", s.SentenceIndex, s.RetryCount)
			}
		} else {
			if s.Status != models.SentenceStatusSucceeded {
				t.Errorf("sentence %d status = %s", s.SentenceIndex, s.Status)
			}
			if s.ClipRef == nil {
				t.Errorf("sentence %d missing clip ref", s.SentenceIndex)
			}
		}
	}
}

func TestProcessStopsWhenTaskNotRunning(t *testing.T) {
	store := newFakeStore()
	task := newRunningTask(store, 3)
	sentences := store.addSentences(task.ChapterID, 3, true)

	// Paused before processing starts: nothing may dispatch
	store.TransitionTask(context.Background(), task.ID, models.TaskStatusRunning, models.TaskStatusPaused)

	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		t.Error("compose must not run for a paused task")
		return "", nil
	}}

	c := NewController(store, composer, &fakeNotifier{}, quickRetry(0), semaphore.NewWeighted(2))
	outcome, err := c.Process(context.Background(), task, sentences)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if !outcome.Interrupted {
		t.Error("expected interrupted outcome")
	}
	for i, slot := range outcome.Slots {
		if slot.Done {
			t.Errorf("slot %d dispatched after pause", i)
		}
	}
}

func TestProcessPauseLetsInFlightFinish(t *testing.T) {
	store := newFakeStore()
	task := newRunningTask(store, 5)
	sentences := store.addSentences(task.ChapterID, 5, true)

	started := make(chan struct{}, 5)
	release := make(chan struct{})
	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		started <- struct{}{}
		<-release
		return fmt.Sprintf("clip_%d.mp4", s.SentenceIndex), nil
	}}

	c := NewController(store, composer, &fakeNotifier{}, quickRetry(0), semaphore.NewWeighted(2))

	var (
		outcome *Outcome
		perr    error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome, perr = c.Process(context.Background(), task, sentences)
	}()

	// Wait for the first two composes to hold the semaphore, then pause
	<-started
	<-started
	store.TransitionTask(context.Background(), task.ID, models.TaskStatusRunning, models.TaskStatusPaused)
	close(release)
	wg.Wait()

	if perr != nil {
		t.Fatalf("process failed: %v", perr)
	}
	if !outcome.Interrupted {
		t.Fatal("expected interrupted outcome")
	}

	done := 0
	for _, slot := range outcome.Slots {
		if slot.Done {
			done++
			if slot.Err != nil {
				t.Errorf("in-flight sentence %d did not finish cleanly: %v", slot.Sentence.SentenceIndex, slot.Err)
			}
		}
	}
	if done < 2 || done >= len(sentences) {
		t.Errorf("expected partial completion, %d of %d done", done, len(sentences))
	}

	// Everything dispatched reached a terminal status; the rest stayed pending
	all, _ := store.GetChapterSentences(context.Background(), task.ChapterID)
	for _, s := range all {
		if s.Status == models.SentenceStatusProcessing {
			t.Errorf("sentence %d left in processing", s.SentenceIndex)
		}
	}
}

// slowCountStore delays persisting partial counts. A snapshot write that
// escaped the commit lock would let a stale total land after a fresher one.
type slowCountStore struct {
	*fakeStore
	total int

	recMu sync.Mutex
	sums  []int
}

func (s *slowCountStore) UpdateTaskCounts(ctx context.Context, id uuid.UUID, succeeded, failed int) error {
	if succeeded+failed < s.total {
		time.Sleep(30 * time.Millisecond)
	}
	s.recMu.Lock()
	s.sums = append(s.sums, succeeded+failed)
	s.recMu.Unlock()
	return s.fakeStore.UpdateTaskCounts(ctx, id, succeeded, failed)
}

func TestProcessPersistedCountsNeverRegress(t *testing.T) {
	base := newFakeStore()
	store := &slowCountStore{fakeStore: base, total: 4}
	task := newRunningTask(base, 4)
	sentences := base.addSentences(task.ChapterID, 4, true)

	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		return fmt.Sprintf("clip_%d.mp4", s.SentenceIndex), nil
	}}

	c := NewController(store, composer, &fakeNotifier{}, quickRetry(0), semaphore.NewWeighted(4))
	outcome, err := c.Process(context.Background(), task, sentences)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if outcome.Succeeded != 4 {
		t.Fatalf("expected 4 succeeded, got %d", outcome.Succeeded)
	}

	fresh, _ := base.GetTask(context.Background(), task.ID)
	if fresh.SucceededCount != 4 || fresh.FailedCount != 0 {
		t.Errorf("persisted counts = %d/%d, want 4/0", fresh.SucceededCount, fresh.FailedCount)
	}

	store.recMu.Lock()
	defer store.recMu.Unlock()
	for i := 1; i < len(store.sums); i++ {
		if store.sums[i] < store.sums[i-1] {
			t.Errorf("persisted count total went backwards: %v", store.sums)
			break
		}
	}
}

func TestProcessPauseWhileWaitingForSlot(t *testing.T) {
	store := newFakeStore()
	task := newRunningTask(store, 2)
	sentences := store.addSentences(task.ChapterID, 2, true)

	var composes int64
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	composer := &fakeComposer{fn: func(ctx context.Context, task *models.GenerationTask, s *models.Sentence) (string, error) {
		atomic.AddInt64(&composes, 1)
		started <- struct{}{}
		<-release
		return fmt.Sprintf("clip_%d.mp4", s.SentenceIndex), nil
	}}

	// One slot: the second sentence queues behind the first
	c := NewController(store, composer, &fakeNotifier{}, quickRetry(0), semaphore.NewWeighted(1))

	var (
		outcome *Outcome
		perr    error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome, perr = c.Process(context.Background(), task, sentences)
	}()

	// Pause lands while the first sentence holds the only slot; the second
	// sentence's slot wait must not turn into a dispatch afterwards.
	<-started
	store.TransitionTask(context.Background(), task.ID, models.TaskStatusRunning, models.TaskStatusPaused)
	close(release)
	wg.Wait()

	if perr != nil {
		t.Fatalf("process failed: %v", perr)
	}
	if !outcome.Interrupted {
		t.Fatal("expected interrupted outcome")
	}
	if got := atomic.LoadInt64(&composes); got != 1 {
		t.Errorf("expected 1 compose, got %d", got)
	}

	all, _ := store.GetChapterSentences(context.Background(), task.ChapterID)
	if all[1].Status != models.SentenceStatusPending {
		t.Errorf("queued sentence status = %s, want pending", all[1].Status)
	}
}

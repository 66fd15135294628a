package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/models"
)

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*models.GenerationTask
	sentences map[uuid.UUID]*models.Sentence
	leases    map[uuid.UUID]uuid.UUID // chapterID -> taskID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[uuid.UUID]*models.GenerationTask),
		sentences: make(map[uuid.UUID]*models.Sentence),
		leases:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeStore) addSentences(chapterID uuid.UUID, n int, withMaterial bool) []models.Sentence {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Sentence, 0, n)
	for i := 0; i < n; i++ {
		s := &models.Sentence{
			ID:            uuid.New(),
			ChapterID:     chapterID,
			SentenceIndex: i,
			Text:          fmt.Sprintf("sentence %d", i),
			Status:        models.SentenceStatusPending,
		}
		if withMaterial {
			img := fmt.Sprintf("img_%d.png", i)
			aud := fmt.Sprintf("aud_%d.mp3", i)
			dur := 3000
			s.ImageRef, s.AudioRef, s.AudioDurationMs = &img, &aud, &dur
		}
		f.sentences[s.ID] = s
		out = append(out, *s)
	}
	return out
}

func (f *fakeStore) CreateTask(ctx context.Context, task *models.GenerationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found")
	}
	cp := *task
	return &cp, nil
}

func (f *fakeStore) GetTaskStatus(ctx context.Context, id uuid.UUID) (models.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return "", fmt.Errorf("task not found")
	}
	return task.Status, nil
}

func (f *fakeStore) TransitionTask(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return false, fmt.Errorf("task not found")
	}
	if task.Status != from {
		return false, nil
	}
	task.Status = to
	return true, nil
}

func (f *fakeStore) UpdateTaskCounts(ctx context.Context, id uuid.UUID, succeeded, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[id]; ok {
		task.SucceededCount = succeeded
		task.FailedCount = failed
	}
	return nil
}

func (f *fakeStore) SetTaskFinalVideo(ctx context.Context, id uuid.UUID, videoRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[id]; ok {
		task.FinalVideoRef = &videoRef
	}
	return nil
}

func (f *fakeStore) UpdateTaskError(ctx context.Context, id uuid.UUID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[id]; ok {
		task.ErrorSummary = &summary
	}
	return nil
}

func (f *fakeStore) GetChapterSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Sentence
	for i := 0; ; i++ {
		found := false
		for _, s := range f.sentences {
			if s.ChapterID == chapterID && s.SentenceIndex == i {
				out = append(out, *s)
				found = true
				break
			}
		}
		if !found {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetPendingSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error) {
	all, _ := f.GetChapterSentences(ctx, chapterID)
	var out []models.Sentence
	for _, s := range all {
		if s.Status == models.SentenceStatusPending {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSentenceStatus(ctx context.Context, id uuid.UUID, status models.SentenceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sentences[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeStore) MarkSentenceSucceeded(ctx context.Context, id uuid.UUID, clipRef string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sentences[id]; ok {
		s.Status = models.SentenceStatusSucceeded
		s.ClipRef = &clipRef
		s.RetryCount = retryCount
		s.ErrorDetail = nil
	}
	return nil
}

func (f *fakeStore) MarkSentenceFailed(ctx context.Context, id uuid.UUID, errorDetail string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sentences[id]; ok {
		s.Status = models.SentenceStatusFailed
		s.ErrorDetail = &errorDetail
		s.RetryCount = retryCount
	}
	return nil
}

func (f *fakeStore) ResetProcessingSentences(ctx context.Context, chapterID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sentences {
		if s.ChapterID == chapterID && s.Status == models.SentenceStatusProcessing {
			s.Status = models.SentenceStatusPending
		}
	}
	return nil
}

func (f *fakeStore) CountSentencesMissingMaterial(ctx context.Context, chapterID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.sentences {
		if s.ChapterID != chapterID {
			continue
		}
		if s.ImageRef == nil || *s.ImageRef == "" || s.AudioRef == nil || *s.AudioRef == "" {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) AcquireChapterLease(ctx context.Context, chapterID, taskID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.leases[chapterID]; held {
		return false, nil
	}
	f.leases[chapterID] = taskID
	return true, nil
}

func (f *fakeStore) ReleaseChapterLease(ctx context.Context, chapterID, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if holder, held := f.leases[chapterID]; held && holder == taskID {
		delete(f.leases, chapterID)
	}
	return nil
}

func (f *fakeStore) leaseHolder(chapterID uuid.UUID) (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	holder, held := f.leases[chapterID]
	return holder, held
}

// fakeQueue records enqueued run jobs. Set failWith to simulate an
// unreachable broker.
type fakeQueue struct {
	mu       sync.Mutex
	jobs     []uuid.UUID
	failWith error
}

func (f *fakeQueue) EnqueueRunTask(ctx context.Context, taskID, chapterID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.jobs = append(f.jobs, taskID)
	return nil
}

func (f *fakeQueue) enqueued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// fakeNotifier records emitted progress events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (f *fakeNotifier) NotifyProgress(ctx context.Context, event *models.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
}

func (f *fakeNotifier) last() (models.ProgressEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return models.ProgressEvent{}, false
	}
	return f.events[len(f.events)-1], true
}

// fakeComposer runs a configurable compose function per sentence.
type fakeComposer struct {
	fn func(ctx context.Context, task *models.GenerationTask, sentence *models.Sentence) (string, error)
}

func (f *fakeComposer) Compose(ctx context.Context, task *models.GenerationTask, sentence *models.Sentence) (string, error) {
	return f.fn(ctx, task, sentence)
}

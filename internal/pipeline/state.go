package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/models"
)

// Manager is the generation task state machine: the only surface the outside
// world (API handlers, WebSocket) talks to. Every transition is a
// compare-and-set on persisted status, so concurrent control requests and
// multiple worker processes cannot double-apply a transition.
//
// Legal transitions:
//
//	pending -> running            (Start)
//	running -> paused             (Pause, effective at a sentence boundary)
//	paused  -> running            (Resume)
//	running -> completed|failed   (runner finalization)
//	running|paused -> cancelled   (Cancel, effective at a sentence boundary)
//
// completed, failed, and cancelled are terminal.
type Manager struct {
	store    Store
	queue    TaskQueue
	notifier Notifier
}

func NewManager(store Store, queue TaskQueue, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		queue:    queue,
		notifier: notifier,
	}
}

// Create makes a pending task for a chapter whose sentences all carry image
// and audio material. Settings are frozen into the task row; nil settings
// get the defaults.
func (m *Manager) Create(ctx context.Context, chapterID uuid.UUID, settings *models.GenerationSettings) (*models.GenerationTask, error) {
	sentences, err := m.store.GetChapterSentences(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, fmt.Errorf("chapter %s has no sentences", chapterID)
	}

	missing, err := m.store.CountSentencesMissingMaterial(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if missing > 0 {
		return nil, fmt.Errorf("%w: %d sentence(s) missing image or audio", ErrMaterialUnavailable, missing)
	}

	s := models.DefaultSettings()
	if settings != nil {
		s = *settings
		applySettingsDefaults(&s)
	}

	task := &models.GenerationTask{
		ID:         uuid.New(),
		ChapterID:  chapterID,
		Settings:   s,
		Status:     models.TaskStatusPending,
		TotalCount: len(sentences),
	}

	if err := m.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return task, nil
}

// Start moves a pending task to running and hands it to the worker pool.
// The chapter lease is acquired first: only one task per chapter may run.
func (m *Manager) Start(ctx context.Context, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status != models.TaskStatusPending {
		return nil, fmt.Errorf("%w: cannot start a %s task", ErrInvalidTransition, task.Status)
	}

	acquired, err := m.store.AcquireChapterLease(ctx, task.ChapterID, task.ID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrChapterBusy
	}

	ok, err := m.store.TransitionTask(ctx, task.ID, models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		m.store.ReleaseChapterLease(ctx, task.ChapterID, task.ID)
		return nil, err
	}
	if !ok {
		m.store.ReleaseChapterLease(ctx, task.ChapterID, task.ID)
		return nil, fmt.Errorf("%w: task is no longer pending", ErrInvalidTransition)
	}

	if err := m.queue.EnqueueRunTask(ctx, task.ID, task.ChapterID); err != nil {
		// No worker will ever pick the task up; leaving it running would
		// strand the chapter lease. Roll back so start can be retried.
		if _, rbErr := m.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusPending); rbErr != nil {
			log.Printf("[Tasks] Failed to roll back task %s after enqueue failure: %v", task.ID, rbErr)
		}
		m.store.ReleaseChapterLease(ctx, task.ChapterID, task.ID)
		return nil, fmt.Errorf("failed to enqueue task run: %w", err)
	}

	task.Status = models.TaskStatusRunning
	m.emit(ctx, task)
	return task, nil
}

// Pause requests that a running task stop at the next sentence boundary.
// In-flight compositing jobs finish; no new ones dispatch. Pausing an
// already-paused task is a no-op returning current state.
func (m *Manager) Pause(ctx context.Context, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == models.TaskStatusPaused {
		return task, nil // idempotent
	}

	ok, err := m.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusPaused)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot pause a %s task", ErrInvalidTransition, task.Status)
	}

	task.Status = models.TaskStatusPaused
	m.emit(ctx, task)
	return task, nil
}

// Resume re-enters the pipeline with the sentences still pending. Already
// succeeded or failed sentences are never re-processed.
func (m *Manager) Resume(ctx context.Context, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.TransitionTask(ctx, task.ID, models.TaskStatusPaused, models.TaskStatusRunning)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot resume a %s task", ErrInvalidTransition, task.Status)
	}

	if err := m.queue.EnqueueRunTask(ctx, task.ID, task.ChapterID); err != nil {
		// Same rollback as Start: without a queued job the task would sit
		// running forever. The lease stays held, as for any paused task.
		if _, rbErr := m.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusPaused); rbErr != nil {
			log.Printf("[Tasks] Failed to roll back task %s after enqueue failure: %v", task.ID, rbErr)
		}
		return nil, fmt.Errorf("failed to enqueue task run: %w", err)
	}

	task.Status = models.TaskStatusRunning
	m.emit(ctx, task)
	return task, nil
}

// Cancel moves a running or paused task to cancelled, effective at the next
// sentence boundary. In-flight jobs finish but their task never reaches
// assembly and no final video reference is set.
func (m *Manager) Cancel(ctx context.Context, taskID uuid.UUID) (*models.GenerationTask, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	for _, from := range []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusPaused} {
		ok, err := m.store.TransitionTask(ctx, task.ID, from, models.TaskStatusCancelled)
		if err != nil {
			return nil, err
		}
		if ok {
			// Terminal transition: free the chapter for the next task. The
			// runner's own release at wind-down is a no-op after this.
			if err := m.store.ReleaseChapterLease(ctx, task.ChapterID, task.ID); err != nil {
				log.Printf("[Tasks] Failed to release lease for chapter %s: %v", task.ChapterID, err)
			}
			task.Status = models.TaskStatusCancelled
			m.emit(ctx, task)
			return task, nil
		}
	}

	return nil, fmt.Errorf("%w: cannot cancel a %s task", ErrInvalidTransition, task.Status)
}

// Progress returns the task's current persisted state and counts.
func (m *Manager) Progress(ctx context.Context, taskID uuid.UUID) (*models.GenerationTask, error) {
	return m.store.GetTask(ctx, taskID)
}

func (m *Manager) emit(ctx context.Context, task *models.GenerationTask) {
	m.notifier.NotifyProgress(ctx, &models.ProgressEvent{
		TaskID:         task.ID,
		SucceededCount: task.SucceededCount,
		FailedCount:    task.FailedCount,
		Total:          task.TotalCount,
		Percent:        task.Percent(),
		TaskStatus:     task.Status,
		EmittedAt:      time.Now(),
	})
}

// applySettingsDefaults fills zero-valued required fields so a partial
// settings object from the API still renders.
func applySettingsDefaults(s *models.GenerationSettings) {
	def := models.DefaultSettings()
	if s.Width <= 0 {
		s.Width = def.Width
	}
	if s.Height <= 0 {
		s.Height = def.Height
	}
	if s.FPS <= 0 {
		s.FPS = def.FPS
	}
	if s.VideoCodec == "" {
		s.VideoCodec = def.VideoCodec
	}
	if s.AudioCodec == "" {
		s.AudioCodec = def.AudioCodec
	}
	if s.SubtitleFont == "" {
		s.SubtitleFont = def.SubtitleFont
	}
	if s.SubtitleFontSize <= 0 {
		s.SubtitleFontSize = def.SubtitleFontSize
	}
	if s.SubtitleColor == "" {
		s.SubtitleColor = def.SubtitleColor
	}
	if s.SubtitlePosition == "" {
		s.SubtitlePosition = def.SubtitlePosition
	}
	if s.MotionSpeed <= 0 {
		s.MotionSpeed = def.MotionSpeed
	}
	if s.BackgroundMixLevel <= 0 {
		s.BackgroundMixLevel = def.BackgroundMixLevel
	}
	if s.PlaybackSpeed <= 0 {
		s.PlaybackSpeed = def.PlaybackSpeed
	}
}

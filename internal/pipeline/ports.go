package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/models"
)

// Store is the persistence surface the pipeline needs. *db.DB satisfies it;
// tests use an in-memory fake.
type Store interface {
	CreateTask(ctx context.Context, task *models.GenerationTask) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	GetTaskStatus(ctx context.Context, id uuid.UUID) (models.TaskStatus, error)
	TransitionTask(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error)
	UpdateTaskCounts(ctx context.Context, id uuid.UUID, succeeded, failed int) error
	SetTaskFinalVideo(ctx context.Context, id uuid.UUID, videoRef string) error
	UpdateTaskError(ctx context.Context, id uuid.UUID, summary string) error

	GetChapterSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error)
	GetPendingSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error)
	UpdateSentenceStatus(ctx context.Context, id uuid.UUID, status models.SentenceStatus) error
	MarkSentenceSucceeded(ctx context.Context, id uuid.UUID, clipRef string, retryCount int) error
	MarkSentenceFailed(ctx context.Context, id uuid.UUID, errorDetail string, retryCount int) error
	ResetProcessingSentences(ctx context.Context, chapterID uuid.UUID) error
	CountSentencesMissingMaterial(ctx context.Context, chapterID uuid.UUID) (int, error)

	AcquireChapterLease(ctx context.Context, chapterID, taskID uuid.UUID) (bool, error)
	ReleaseChapterLease(ctx context.Context, chapterID, taskID uuid.UUID) error
}

// TaskQueue hands run jobs to the worker pool. *queue.Queue satisfies it.
type TaskQueue interface {
	EnqueueRunTask(ctx context.Context, taskID, chapterID uuid.UUID) error
}

// Notifier receives progress events. *progress.Notifier satisfies it.
type Notifier interface {
	NotifyProgress(ctx context.Context, event *models.ProgressEvent)
}

// ClipComposer turns one sentence into one clip artifact and returns its
// storage reference. Failures are *services.CompositionError (retryable) or
// wrap ErrMaterialUnavailable (terminal).
type ClipComposer interface {
	Compose(ctx context.Context, task *models.GenerationTask, sentence *models.Sentence) (string, error)
}

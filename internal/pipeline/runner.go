package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/models"
	"github.com/lumivox/chapterreel/internal/services"
	"github.com/lumivox/chapterreel/internal/storage"
)

// Runner drives one task end to end: crash recovery, sentence processing,
// tolerance tally, final assembly, and terminal bookkeeping. Workers invoke
// it once per dequeued run job; a task paused and resumed goes through Run
// again and picks up only the sentences still pending.
type Runner struct {
	store      Store
	controller *Controller
	storage    *storage.Storage
	ffmpeg     *services.FFmpegService
	notifier   Notifier

	// tolerance is the accepted failed fraction: a finished task whose
	// failed/total exceeds it goes to failed instead of completed.
	tolerance float64
}

func NewRunner(store Store, controller *Controller, stor *storage.Storage, ffmpeg *services.FFmpegService, notifier Notifier, tolerance float64) *Runner {
	return &Runner{
		store:      store,
		controller: controller,
		storage:    stor,
		ffmpeg:     ffmpeg,
		notifier:   notifier,
		tolerance:  tolerance,
	}
}

func (r *Runner) Run(ctx context.Context, taskID uuid.UUID) error {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	// A stale job can outlive a cancel or a completed run; only running
	// tasks get processed.
	if task.Status != models.TaskStatusRunning {
		log.Printf("[Runner] Task %s is %s, skipping run", task.ID, task.Status)
		return nil
	}

	// Crash recovery: sentences stuck in processing belong to a run that
	// never finished. Their clip may or may not exist; re-render them.
	if err := r.store.ResetProcessingSentences(ctx, task.ChapterID); err != nil {
		return fmt.Errorf("failed to reset stale sentences: %w", err)
	}

	pending, err := r.store.GetPendingSentences(ctx, task.ChapterID)
	if err != nil {
		return fmt.Errorf("failed to load pending sentences: %w", err)
	}

	outcome := &Outcome{Succeeded: task.SucceededCount, Failed: task.FailedCount}
	if len(pending) > 0 {
		outcome, err = r.controller.Process(ctx, task, pending)
		if err != nil {
			return fmt.Errorf("sentence processing aborted for task %s: %w", task.ID, err)
		}
	}

	if outcome.Interrupted {
		return r.windDown(ctx, task, outcome)
	}

	return r.finish(ctx, task, outcome)
}

// windDown handles a run whose dispatch stopped at a sentence boundary
// because the task left running state. In-flight work has already drained.
func (r *Runner) windDown(ctx context.Context, task *models.GenerationTask, outcome *Outcome) error {
	status, err := r.store.GetTaskStatus(ctx, task.ID)
	if err != nil {
		return err
	}

	switch status {
	case models.TaskStatusPaused:
		// Lease stays held: a paused task still owns its chapter.
		log.Printf("[Runner] Task %s paused with %d succeeded, %d failed",
			task.ID, outcome.Succeeded, outcome.Failed)
		r.emit(ctx, task, outcome, status)
		return nil
	case models.TaskStatusCancelled:
		log.Printf("[Runner] Task %s cancelled, discarding partial work", task.ID)
		r.releaseLease(ctx, task)
		r.emit(ctx, task, outcome, status)
		r.cleanupScratch(task)
		return nil
	default:
		// Another process already moved the task on; nothing to own here.
		log.Printf("[Runner] Task %s is %s after interruption, leaving as-is", task.ID, status)
		return nil
	}
}

// finish tallies the round and either assembles the final video or marks the
// task failed. Sentence failures are normal terminal outcomes; only the
// tolerance threshold and assembly itself can fail the task.
func (r *Runner) finish(ctx context.Context, task *models.GenerationTask, outcome *Outcome) error {
	if outcome.Succeeded == 0 {
		return r.fail(ctx, task, outcome, "no sentence produced a clip")
	}

	if task.TotalCount > 0 {
		failedFraction := float64(outcome.Failed) / float64(task.TotalCount)
		if failedFraction > r.tolerance {
			return r.fail(ctx, task, outcome,
				fmt.Sprintf("%d of %d sentences failed, above tolerance", outcome.Failed, task.TotalCount))
		}
	}

	videoRef, err := r.assemble(ctx, task)
	if err != nil {
		log.Printf("[Runner] Assembly failed for task %s: %v", task.ID, err)
		return r.fail(ctx, task, outcome, fmt.Sprintf("assembly failed: %v", err))
	}

	// The transition gates the reference: a task that left running during
	// assembly (cancel) must never carry a final video reference.
	ok, err := r.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		// Cancelled mid-assembly. The video exists in storage but the task
		// stays cancelled and never advertises it.
		log.Printf("[Runner] Task %s left running during assembly, not completing", task.ID)
		r.releaseLease(ctx, task)
		r.cleanupScratch(task)
		return nil
	}

	if err := r.store.SetTaskFinalVideo(ctx, task.ID, videoRef); err != nil {
		log.Printf("[Runner] Failed to record final video for task %s: %v", task.ID, err)
	}

	log.Printf("[Runner] Task %s completed: %d succeeded, %d failed, final video %s",
		task.ID, outcome.Succeeded, outcome.Failed, videoRef)

	r.releaseLease(ctx, task)
	r.emit(ctx, task, outcome, models.TaskStatusCompleted)
	r.cleanupScratch(task)
	return nil
}

// assemble fetches every succeeded clip in sentence order plus the optional
// background track, concatenates and post-processes them, and uploads the
// final video. Returns the final video's storage reference.
func (r *Runner) assemble(ctx context.Context, task *models.GenerationTask) (string, error) {
	sentences, err := r.store.GetChapterSentences(ctx, task.ChapterID)
	if err != nil {
		return "", err
	}

	taskID := task.ID.String()
	if _, err := r.ffmpeg.TaskScratchDir(taskID); err != nil {
		return "", err
	}

	var clipPaths []string
	for i := range sentences {
		s := &sentences[i]
		if s.Status != models.SentenceStatusSucceeded {
			continue
		}
		if s.ClipRef == nil || *s.ClipRef == "" {
			return "", fmt.Errorf("sentence %d succeeded without a clip reference", s.SentenceIndex)
		}
		localPath := r.ffmpeg.ScratchFile(taskID, fmt.Sprintf("asm_clip_%d.mp4", s.SentenceIndex))
		if err := r.storage.FetchToFile(ctx, *s.ClipRef, localPath); err != nil {
			return "", fmt.Errorf("failed to fetch clip for sentence %d: %w", s.SentenceIndex, err)
		}
		clipPaths = append(clipPaths, localPath)
	}

	backgroundPath := ""
	if task.Settings.BackgroundTrackRef != nil && *task.Settings.BackgroundTrackRef != "" {
		backgroundPath = r.ffmpeg.ScratchFile(taskID, "background"+refExt(*task.Settings.BackgroundTrackRef, ".mp3"))
		if err := r.storage.FetchToFile(ctx, *task.Settings.BackgroundTrackRef, backgroundPath); err != nil {
			// The narration carries the video; ship it without music.
			log.Printf("[Runner] Background track %s unavailable, assembling without it: %v",
				*task.Settings.BackgroundTrackRef, err)
			backgroundPath = ""
		}
	}

	final, err := r.ffmpeg.Assemble(ctx, services.AssembleInput{
		TaskID:         taskID,
		ClipPaths:      clipPaths,
		BackgroundPath: backgroundPath,
		OutputPath:     r.ffmpeg.ScratchFile(taskID, "final.mp4"),
		Settings:       task.Settings,
	})
	if err != nil {
		return "", err
	}

	videoRef := storage.FinalVideoRef(task.ChapterID, task.ID)
	if err := r.storage.UploadFile(ctx, videoRef, final.Path, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to upload final video: %w", err)
	}

	log.Printf("[Runner] Uploaded final video for task %s (%d clips, %dms)",
		task.ID, len(clipPaths), final.DurationMs)
	return videoRef, nil
}

func (r *Runner) fail(ctx context.Context, task *models.GenerationTask, outcome *Outcome, summary string) error {
	log.Printf("[Runner] Task %s failed: %s", task.ID, summary)

	if err := r.store.UpdateTaskError(ctx, task.ID, summary); err != nil {
		log.Printf("[Runner] Failed to record task error: %v", err)
	}
	ok, err := r.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusFailed)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("[Runner] Task %s left running before failure could be recorded", task.ID)
	}

	r.releaseLease(ctx, task)
	r.emit(ctx, task, outcome, models.TaskStatusFailed)
	r.cleanupScratch(task)
	return nil
}

func (r *Runner) releaseLease(ctx context.Context, task *models.GenerationTask) {
	if err := r.store.ReleaseChapterLease(ctx, task.ChapterID, task.ID); err != nil {
		log.Printf("[Runner] Failed to release lease for chapter %s: %v", task.ChapterID, err)
	}
}

func (r *Runner) cleanupScratch(task *models.GenerationTask) {
	if err := r.ffmpeg.CleanupTask(task.ID.String()); err != nil {
		log.Printf("[Runner] Failed to clean scratch for task %s: %v", task.ID, err)
	}
}

func (r *Runner) emit(ctx context.Context, task *models.GenerationTask, outcome *Outcome, status models.TaskStatus) {
	percent := 0.0
	if task.TotalCount > 0 {
		percent = float64(outcome.Succeeded+outcome.Failed) / float64(task.TotalCount) * 100
	}
	r.notifier.NotifyProgress(ctx, &models.ProgressEvent{
		TaskID:         task.ID,
		SucceededCount: outcome.Succeeded,
		FailedCount:    outcome.Failed,
		Total:          task.TotalCount,
		Percent:        percent,
		TaskStatus:     status,
		EmittedAt:      time.Now(),
	})
}

package pipeline

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"

	"github.com/lumivox/chapterreel/internal/models"
	"github.com/lumivox/chapterreel/internal/services"
	"github.com/lumivox/chapterreel/internal/storage"
)

// SentenceComposer is the production ClipComposer: it resolves a sentence's
// materials into task scratch space, optionally corrects and renders the
// subtitle, runs the compositing invocation, and persists the clip artifact
// so a crashed task can resume without re-rendering succeeded sentences.
type SentenceComposer struct {
	storage   *storage.Storage
	ffmpeg    *services.FFmpegService
	corrector *services.CorrectorService // nil = subtitle correction disabled
}

func NewSentenceComposer(stor *storage.Storage, ffmpeg *services.FFmpegService, corrector *services.CorrectorService) *SentenceComposer {
	return &SentenceComposer{
		storage:   stor,
		ffmpeg:    ffmpeg,
		corrector: corrector,
	}
}

func (c *SentenceComposer) Compose(ctx context.Context, task *models.GenerationTask, sentence *models.Sentence) (string, error) {
	if sentence.ImageRef == nil || *sentence.ImageRef == "" {
		return "", fmt.Errorf("%w: sentence %d has no image", ErrMaterialUnavailable, sentence.SentenceIndex)
	}
	if sentence.AudioRef == nil || *sentence.AudioRef == "" {
		return "", fmt.Errorf("%w: sentence %d has no audio", ErrMaterialUnavailable, sentence.SentenceIndex)
	}

	taskID := task.ID.String()
	if _, err := c.ffmpeg.TaskScratchDir(taskID); err != nil {
		return "", &services.CompositionError{Reason: "scratch dir unavailable", ExitCode: -1, Err: err}
	}

	imagePath := c.ffmpeg.ScratchFile(taskID, fmt.Sprintf("image_%d%s", sentence.SentenceIndex, refExt(*sentence.ImageRef, ".png")))
	audioPath := c.ffmpeg.ScratchFile(taskID, fmt.Sprintf("audio_%d%s", sentence.SentenceIndex, refExt(*sentence.AudioRef, ".mp3")))
	outputPath := c.ffmpeg.ScratchFile(taskID, fmt.Sprintf("clip_%d.mp4", sentence.SentenceIndex))

	if err := c.storage.FetchToFile(ctx, *sentence.ImageRef, imagePath); err != nil {
		return "", fmt.Errorf("%w: image %s: %v", ErrMaterialUnavailable, *sentence.ImageRef, err)
	}
	if err := c.storage.FetchToFile(ctx, *sentence.AudioRef, audioPath); err != nil {
		return "", fmt.Errorf("%w: audio %s: %v", ErrMaterialUnavailable, *sentence.AudioRef, err)
	}

	// Audio duration drives the motion effect's frame budget. The stored
	// value is preferred; probe as a fallback.
	durationMs := 0
	if sentence.AudioDurationMs != nil {
		durationMs = *sentence.AudioDurationMs
	}
	if durationMs <= 0 {
		probed, err := c.ffmpeg.ProbeDurationMs(ctx, audioPath)
		if err != nil {
			return "", &services.CompositionError{Reason: "failed to probe audio duration", ExitCode: -1, Err: err}
		}
		durationMs = probed
	}

	subtitlePath := c.prepareSubtitle(ctx, task, sentence, durationMs)

	in := services.ComposeInput{
		ImagePath:       imagePath,
		AudioPath:       audioPath,
		SubtitlePath:    subtitlePath,
		OutputPath:      outputPath,
		AudioDurationMs: durationMs,
		SentenceIndex:   sentence.SentenceIndex,
		Settings:        task.Settings,
	}
	if err := c.ffmpeg.Compose(ctx, in); err != nil {
		return "", err
	}

	// Persist the clip so assembly (and crash recovery) can fetch it back
	clipRef := ClipRef(task, sentence.SentenceIndex)
	if err := c.storage.UploadFile(ctx, clipRef, outputPath, "video/mp4"); err != nil {
		return "", &services.CompositionError{Reason: "failed to persist clip artifact", ExitCode: -1, Err: err}
	}

	return clipRef, nil
}

// prepareSubtitle returns the path of a rendered ASS file, or "" when the
// sentence has no subtitle text or rendering failed. Correction and
// rendering failures never fail the sentence.
func (c *SentenceComposer) prepareSubtitle(ctx context.Context, task *models.GenerationTask, sentence *models.Sentence, durationMs int) string {
	if sentence.SubtitleText == nil || *sentence.SubtitleText == "" {
		return ""
	}

	text := *sentence.SubtitleText
	if c.corrector != nil && task.Settings.SubtitleCorrectModel != nil && *task.Settings.SubtitleCorrectModel != "" {
		corrected, err := c.corrector.CorrectSubtitle(ctx, text, *task.Settings.SubtitleCorrectModel)
		if err != nil {
			log.Printf("[Compose] Subtitle correction failed for sentence %d, using raw text: %v", sentence.SentenceIndex, err)
		} else {
			text = corrected
		}
	}

	subtitlePath := c.ffmpeg.ScratchFile(task.ID.String(), fmt.Sprintf("subs_%d.ass", sentence.SentenceIndex))
	if err := services.WriteASSSubtitles(text, durationMs, task.Settings, subtitlePath); err != nil {
		log.Printf("[Compose] Failed to render subtitles for sentence %d, burning nothing in: %v", sentence.SentenceIndex, err)
		return ""
	}
	return subtitlePath
}

// ClipRef builds the storage reference for one sentence's clip artifact.
func ClipRef(task *models.GenerationTask, sentenceIndex int) string {
	return path.Join(task.ChapterID.String(), task.ID.String(), "clips", fmt.Sprintf("clip_%d.mp4", sentenceIndex))
}

// refExt keeps the material's file extension when it has one so ffmpeg sees
// a familiar suffix.
func refExt(ref, fallback string) string {
	if ext := filepath.Ext(ref); ext != "" {
		return ext
	}
	return fallback
}

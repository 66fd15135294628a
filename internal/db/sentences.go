package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lumivox/chapterreel/internal/models"
)

const sentenceColumns = `
	id, chapter_id, sentence_index, text, image_ref, audio_ref,
	audio_duration_ms, subtitle_text, status, retry_count, clip_ref,
	error_detail, created_at, updated_at
`

func scanSentence(row interface{ Scan(...interface{}) error }, s *models.Sentence) error {
	return row.Scan(
		&s.ID, &s.ChapterID, &s.SentenceIndex, &s.Text, &s.ImageRef, &s.AudioRef,
		&s.AudioDurationMs, &s.SubtitleText, &s.Status, &s.RetryCount, &s.ClipRef,
		&s.ErrorDetail, &s.CreatedAt, &s.UpdatedAt,
	)
}

func (db *DB) GetSentence(ctx context.Context, id uuid.UUID) (*models.Sentence, error) {
	query := `SELECT ` + sentenceColumns + ` FROM sentences WHERE id = $1`

	s := &models.Sentence{}
	err := scanSentence(db.QueryRowContext(ctx, query, id), s)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sentence not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sentence: %w", err)
	}

	return s, nil
}

// GetChapterSentences returns every sentence in the chapter, ascending by
// sentence_index. The pipeline relies on this ordering for dispatch.
func (db *DB) GetChapterSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error) {
	query := `SELECT ` + sentenceColumns + ` FROM sentences WHERE chapter_id = $1 ORDER BY sentence_index`

	rows, err := db.QueryContext(ctx, query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentences: %w", err)
	}
	defer rows.Close()

	var sentences []models.Sentence
	for rows.Next() {
		var s models.Sentence
		if err := scanSentence(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan sentence: %w", err)
		}
		sentences = append(sentences, s)
	}

	return sentences, rows.Err()
}

// GetPendingSentences returns the chapter's sentences still in pending status,
// ascending by sentence_index. Resume and crash recovery both start here, so
// already-terminal sentences are never re-processed.
func (db *DB) GetPendingSentences(ctx context.Context, chapterID uuid.UUID) ([]models.Sentence, error) {
	query := `SELECT ` + sentenceColumns + ` FROM sentences WHERE chapter_id = $1 AND status = $2 ORDER BY sentence_index`

	rows, err := db.QueryContext(ctx, query, chapterID, models.SentenceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending sentences: %w", err)
	}
	defer rows.Close()

	var sentences []models.Sentence
	for rows.Next() {
		var s models.Sentence
		if err := scanSentence(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan sentence: %w", err)
		}
		sentences = append(sentences, s)
	}

	return sentences, rows.Err()
}

func (db *DB) UpdateSentenceStatus(ctx context.Context, id uuid.UUID, status models.SentenceStatus) error {
	query := `UPDATE sentences SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// MarkSentenceSucceeded records the clip artifact and clears any stale error
// from an earlier attempt.
func (db *DB) MarkSentenceSucceeded(ctx context.Context, id uuid.UUID, clipRef string, retryCount int) error {
	query := `
		UPDATE sentences
		SET status = $1, clip_ref = $2, retry_count = $3, error_detail = NULL, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.SentenceStatusSucceeded, clipRef, retryCount, id)
	return err
}

func (db *DB) MarkSentenceFailed(ctx context.Context, id uuid.UUID, errorDetail string, retryCount int) error {
	query := `
		UPDATE sentences
		SET status = $1, error_detail = $2, retry_count = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.SentenceStatusFailed, errorDetail, retryCount, id)
	return err
}

// ResetProcessingSentences returns sentences stuck in processing back to
// pending. Called before a run so a crashed worker's half-done dispatches are
// picked up again.
func (db *DB) ResetProcessingSentences(ctx context.Context, chapterID uuid.UUID) error {
	query := `UPDATE sentences SET status = $1, updated_at = NOW() WHERE chapter_id = $2 AND status = $3`
	_, err := db.ExecContext(ctx, query, models.SentenceStatusPending, chapterID, models.SentenceStatusProcessing)
	return err
}

// CountSentencesMissingMaterial returns how many sentences in the chapter
// lack an image or audio reference. Task creation requires zero.
func (db *DB) CountSentencesMissingMaterial(ctx context.Context, chapterID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sentences
		WHERE chapter_id = $1 AND (image_ref IS NULL OR audio_ref IS NULL)
	`
	var count int
	err := db.QueryRowContext(ctx, query, chapterID).Scan(&count)
	return count, err
}

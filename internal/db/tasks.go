package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lumivox/chapterreel/internal/models"
)

func (db *DB) CreateTask(ctx context.Context, task *models.GenerationTask) error {
	settings, err := json.Marshal(task.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO generation_tasks (
			id, chapter_id, settings, status, succeeded_count, failed_count, total_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		task.ID, task.ChapterID, settings, task.Status,
		task.SucceededCount, task.FailedCount, task.TotalCount,
	).Scan(&task.CreatedAt)
}

func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	query := `
		SELECT
			id, chapter_id, settings, status, succeeded_count, failed_count,
			total_count, final_video_ref, error_summary,
			created_at, started_at, finished_at
		FROM generation_tasks
		WHERE id = $1
	`

	task := &models.GenerationTask{}
	var settings []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &task.ChapterID, &settings, &task.Status,
		&task.SucceededCount, &task.FailedCount, &task.TotalCount,
		&task.FinalVideoRef, &task.ErrorSummary,
		&task.CreatedAt, &task.StartedAt, &task.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if err := json.Unmarshal(settings, &task.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	return task, nil
}

func (db *DB) GetChapterTasks(ctx context.Context, chapterID uuid.UUID) ([]models.GenerationTask, error) {
	query := `
		SELECT
			id, chapter_id, settings, status, succeeded_count, failed_count,
			total_count, final_video_ref, error_summary,
			created_at, started_at, finished_at
		FROM generation_tasks
		WHERE chapter_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.GenerationTask
	for rows.Next() {
		var task models.GenerationTask
		var settings []byte
		err := rows.Scan(
			&task.ID, &task.ChapterID, &settings, &task.Status,
			&task.SucceededCount, &task.FailedCount, &task.TotalCount,
			&task.FinalVideoRef, &task.ErrorSummary,
			&task.CreatedAt, &task.StartedAt, &task.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if err := json.Unmarshal(settings, &task.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// TransitionTask moves a task from one status to another atomically.
// Returns false when the task was not in the expected status, which is how
// concurrent control requests lose the race without corrupting state.
func (db *DB) TransitionTask(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error) {
	var res sql.Result
	var err error

	switch {
	case to == models.TaskStatusRunning && from == models.TaskStatusPending:
		res, err = db.ExecContext(ctx,
			`UPDATE generation_tasks SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
			to, time.Now(), id, from)
	case to.Terminal():
		res, err = db.ExecContext(ctx,
			`UPDATE generation_tasks SET status = $1, finished_at = $2 WHERE id = $3 AND status = $4`,
			to, time.Now(), id, from)
	default:
		// paused <-> running carries no timestamp change
		res, err = db.ExecContext(ctx,
			`UPDATE generation_tasks SET status = $1 WHERE id = $2 AND status = $3`,
			to, id, from)
	}
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n == 1, err
}

func (db *DB) GetTaskStatus(ctx context.Context, id uuid.UUID) (models.TaskStatus, error) {
	var status models.TaskStatus
	err := db.QueryRowContext(ctx, `SELECT status FROM generation_tasks WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("task not found")
	}
	return status, err
}

func (db *DB) UpdateTaskCounts(ctx context.Context, id uuid.UUID, succeeded, failed int) error {
	query := `UPDATE generation_tasks SET succeeded_count = $1, failed_count = $2 WHERE id = $3`
	_, err := db.ExecContext(ctx, query, succeeded, failed, id)
	return err
}

func (db *DB) SetTaskFinalVideo(ctx context.Context, id uuid.UUID, videoRef string) error {
	query := `UPDATE generation_tasks SET final_video_ref = $1 WHERE id = $2`
	_, err := db.ExecContext(ctx, query, videoRef, id)
	return err
}

func (db *DB) UpdateTaskError(ctx context.Context, id uuid.UUID, summary string) error {
	query := `UPDATE generation_tasks SET error_summary = $1 WHERE id = $2`
	_, err := db.ExecContext(ctx, query, summary, id)
	return err
}

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Chapter leases enforce the one-running-task-per-chapter invariant across
// worker processes. A lease row is inserted atomically at start and deleted
// on every terminal transition; in-process locking alone is not enough when
// several workers share the database.

// AcquireChapterLease attempts to claim the chapter for the given task.
// Returns false when another task already holds the lease.
func (db *DB) AcquireChapterLease(ctx context.Context, chapterID, taskID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO chapter_leases (chapter_id, task_id, acquired_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chapter_id) DO NOTHING
	`

	res, err := db.ExecContext(ctx, query, chapterID, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire chapter lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseChapterLease drops the lease, but only if this task holds it.
func (db *DB) ReleaseChapterLease(ctx context.Context, chapterID, taskID uuid.UUID) error {
	query := `DELETE FROM chapter_leases WHERE chapter_id = $1 AND task_id = $2`
	_, err := db.ExecContext(ctx, query, chapterID, taskID)
	if err != nil {
		return fmt.Errorf("failed to release chapter lease: %w", err)
	}
	return nil
}

// GetChapterLeaseHolder returns the task currently holding the chapter's
// lease, or nil when the chapter is free.
func (db *DB) GetChapterLeaseHolder(ctx context.Context, chapterID uuid.UUID) (*uuid.UUID, error) {
	var taskID uuid.UUID
	err := db.QueryRowContext(ctx,
		`SELECT task_id FROM chapter_leases WHERE chapter_id = $1`, chapterID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &taskID, nil
}

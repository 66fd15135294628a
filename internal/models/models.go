package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a task status can never change again.
// paused is not terminal: a paused task can be resumed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

type SentenceStatus string

const (
	SentenceStatusPending    SentenceStatus = "pending"
	SentenceStatusProcessing SentenceStatus = "processing"
	SentenceStatusSucceeded  SentenceStatus = "succeeded"
	SentenceStatusFailed     SentenceStatus = "failed"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// Sentence is the smallest narration unit: one still image, one narration
// audio clip, optional subtitle text. SentenceIndex is the stable ordering
// key within the chapter and never changes after creation.
type Sentence struct {
	ID              uuid.UUID      `json:"id"`
	ChapterID       uuid.UUID      `json:"chapter_id"`
	SentenceIndex   int            `json:"sentence_index"`
	Text            string         `json:"text"`
	ImageRef        *string        `json:"image_ref,omitempty"`
	AudioRef        *string        `json:"audio_ref,omitempty"`
	AudioDurationMs *int           `json:"audio_duration_ms,omitempty"`
	SubtitleText    *string        `json:"subtitle_text,omitempty"`
	Status          SentenceStatus `json:"status"`
	RetryCount      int            `json:"retry_count"`
	ClipRef         *string        `json:"clip_ref,omitempty"`
	ErrorDetail     *string        `json:"error_detail,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// GenerationSettings is a value object frozen when a task starts.
// Stored as JSONB on the task row so a run always replays with the
// settings it was created with.
type GenerationSettings struct {
	Width                int     `json:"width"`
	Height               int     `json:"height"`
	FPS                  int     `json:"fps"`
	VideoCodec           string  `json:"video_codec"`
	AudioCodec           string  `json:"audio_codec"`
	SubtitleFont         string  `json:"subtitle_font"`
	SubtitleFontSize     int     `json:"subtitle_font_size"`
	SubtitleColor        string  `json:"subtitle_color"`    // ASS &HAABBGGRR color
	SubtitlePosition     string  `json:"subtitle_position"` // "bottom", "middle", "top"
	MotionSpeed          float64 `json:"motion_speed"`      // zoom/pan speed coefficient, 1.0 = default
	BackgroundTrackRef   *string `json:"background_track_ref,omitempty"`
	BackgroundMixLevel   float64 `json:"background_mix_level"` // 0..1 relative volume under narration
	PlaybackSpeed        float64 `json:"playback_speed"`       // 1.0 = unchanged
	SubtitleCorrectModel *string `json:"subtitle_correct_model,omitempty"`
}

// DefaultSettings returns the settings applied when a create request omits
// fields: 1080x1920 portrait at 30fps, H.264/AAC, bottom subtitles.
func DefaultSettings() GenerationSettings {
	return GenerationSettings{
		Width:              1080,
		Height:             1920,
		FPS:                30,
		VideoCodec:         "libx264",
		AudioCodec:         "aac",
		SubtitleFont:       "Noto Sans",
		SubtitleFontSize:   64,
		SubtitleColor:      "&H00FFFFFF",
		SubtitlePosition:   "bottom",
		MotionSpeed:        1.0,
		BackgroundMixLevel: 0.12,
		PlaybackSpeed:      1.0,
	}
}

// GenerationTask is the aggregate root for one generation attempt.
// At most one task per chapter may be running at a time.
type GenerationTask struct {
	ID             uuid.UUID          `json:"id"`
	ChapterID      uuid.UUID          `json:"chapter_id"`
	Settings       GenerationSettings `json:"settings"`
	Status         TaskStatus         `json:"status"`
	SucceededCount int                `json:"succeeded_count"`
	FailedCount    int                `json:"failed_count"`
	TotalCount     int                `json:"total_count"`
	FinalVideoRef  *string            `json:"final_video_ref,omitempty"`
	ErrorSummary   *string            `json:"error_summary,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// Percent returns completion as terminal sentences over total, 0-100.
func (t *GenerationTask) Percent() float64 {
	if t.TotalCount == 0 {
		return 0
	}
	return float64(t.SucceededCount+t.FailedCount) / float64(t.TotalCount) * 100
}

// ProgressEvent is pushed to subscribers on every per-sentence terminal
// result and every task-level transition. Delivery is at-least-once;
// percent never decreases for a given task.
type ProgressEvent struct {
	TaskID         uuid.UUID  `json:"task_id"`
	SucceededCount int        `json:"succeeded_count"`
	FailedCount    int        `json:"failed_count"`
	Total          int        `json:"total"`
	Percent        float64    `json:"percent"`
	TaskStatus     TaskStatus `json:"task_status"`
	EmittedAt      time.Time  `json:"emitted_at"`
}

// DTOs for API responses

type CreateTaskRequest struct {
	Settings *GenerationSettings `json:"settings,omitempty"`
}

type CreateTaskResponse struct {
	TaskID uuid.UUID  `json:"task_id"`
	Status TaskStatus `json:"status"`
}

type TaskStatusResponse struct {
	TaskID        uuid.UUID  `json:"task_id"`
	ChapterID     uuid.UUID  `json:"chapter_id"`
	Status        TaskStatus `json:"status"`
	Percent       float64    `json:"percent"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	Total         int        `json:"total"`
	FinalVideoRef *string    `json:"final_video_ref,omitempty"`
	FinalVideoURL *string    `json:"final_video_url,omitempty"`
	ErrorSummary  *string    `json:"error_summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

type ListTasksResponse struct {
	Tasks []TaskStatusResponse `json:"tasks"`
	Total int                  `json:"total"`
}

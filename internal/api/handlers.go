package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumivox/chapterreel/internal/db"
	"github.com/lumivox/chapterreel/internal/models"
	"github.com/lumivox/chapterreel/internal/pipeline"
	"github.com/lumivox/chapterreel/internal/queue"
	"github.com/lumivox/chapterreel/internal/storage"
)

type Handler struct {
	db      *db.DB
	manager *pipeline.Manager
	queue   *queue.Queue
	storage *storage.Storage
}

func NewHandler(database *db.DB, manager *pipeline.Manager, q *queue.Queue, stor *storage.Storage) *Handler {
	return &Handler{
		db:      database,
		manager: manager,
		queue:   q,
		storage: stor,
	}
}

// CreateTask handles POST /v1/chapters/{chapterId}/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	chapterID, err := uuid.Parse(chi.URLParam(r, "chapterId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chapter ID")
		return
	}

	var req models.CreateTaskRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	task, err := h.manager.Create(r.Context(), chapterID, req.Settings)
	if err != nil {
		if errors.Is(err, pipeline.ErrMaterialUnavailable) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateTaskResponse{
		TaskID: task.ID,
		Status: task.Status,
	})
}

// ListChapterTasks handles GET /v1/chapters/{chapterId}/tasks
func (h *Handler) ListChapterTasks(w http.ResponseWriter, r *http.Request) {
	chapterID, err := uuid.Parse(chi.URLParam(r, "chapterId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chapter ID")
		return
	}

	tasks, err := h.db.GetChapterTasks(r.Context(), chapterID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	responses := make([]models.TaskStatusResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, h.buildTaskResponse(&tasks[i]))
	}

	respondJSON(w, http.StatusOK, models.ListTasksResponse{
		Tasks: responses,
		Total: len(responses),
	})
}

// GetTask handles GET /v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.manager.Progress(r.Context(), taskID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}

	respondJSON(w, http.StatusOK, h.buildTaskResponse(task))
}

// StartTask handles POST /v1/tasks/{id}/start
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Start)
}

// PauseTask handles POST /v1/tasks/{id}/pause
func (h *Handler) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Pause)
}

// ResumeTask handles POST /v1/tasks/{id}/resume
func (h *Handler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Resume)
}

// CancelTask handles POST /v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Cancel)
}

// GetTaskDownload handles GET /v1/tasks/{id}/download
func (h *Handler) GetTaskDownload(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.manager.Progress(r.Context(), taskID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}

	if task.FinalVideoRef == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	// Signed URL valid for 1 hour
	signedURL, err := h.storage.GetSignedURL(r.Context(), *task.FinalVideoRef, 3600)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// transition applies one state machine operation and maps its failures onto
// HTTP status codes.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := op(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, pipeline.ErrChapterBusy):
			respondError(w, http.StatusConflict, "Another task already holds this chapter")
		case err.Error() == "task not found":
			respondError(w, http.StatusNotFound, "Task not found")
		default:
			respondError(w, http.StatusInternalServerError, "Failed to apply transition")
		}
		return
	}

	respondJSON(w, http.StatusOK, h.buildTaskResponse(task))
}

func (h *Handler) buildTaskResponse(task *models.GenerationTask) models.TaskStatusResponse {
	resp := models.TaskStatusResponse{
		TaskID:        task.ID,
		ChapterID:     task.ChapterID,
		Status:        task.Status,
		Percent:       task.Percent(),
		Succeeded:     task.SucceededCount,
		Failed:        task.FailedCount,
		Total:         task.TotalCount,
		FinalVideoRef: task.FinalVideoRef,
		ErrorSummary:  task.ErrorSummary,
		CreatedAt:     task.CreatedAt,
		StartedAt:     task.StartedAt,
		FinishedAt:    task.FinishedAt,
	}

	if task.FinalVideoRef != nil {
		url := h.storage.GetPublicURL(*task.FinalVideoRef)
		resp.FinalVideoURL = &url
	}

	return resp
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumivox/chapterreel/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS already ran before the upgrade; the chi middleware is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// StreamTaskEvents handles GET /v1/tasks/{id}/events. It upgrades to a
// WebSocket, sends a snapshot of current task state, then forwards progress
// events from the Redis subscription until the task reaches a terminal
// status or the client goes away. Delivery is at-least-once: a reconnecting
// client may see an event twice, and percent never moves backwards.
func (h *Handler) StreamTaskEvents(w http.ResponseWriter, r *http.Request) {
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

	// Subscribe before the snapshot so no event slips between the two.
	events, cancel, err := h.queue.SubscribeProgress(r.Context(), taskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to subscribe to progress")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] WebSocket upgrade failed for task %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	// Drain client frames so pongs and close frames get processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial snapshot in the same event shape the stream uses
	snapshot := progress.EventFromTask(task)
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if task.Status.Terminal() {
		return
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.TaskStatus.Terminal() {
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

package api

import (
	"context"
	"net/http"

	"github.com/okian/matchengine/internal/domain/model"
)

// TaskDependencies defines the interface for task inspection.
type TaskDependencies interface {
	Task(taskID string) (model.Task, bool)
	Cancel(ctx context.Context, taskID string) (model.Status, bool)
}

type cancelResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

// TasksHandler handles task lookups and cancellation.
type TasksHandler struct {
	deps TaskDependencies
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(deps TaskDependencies) *TasksHandler {
	return &TasksHandler{deps: deps}
}

// HandleGetTask handles GET /tasks/{id}.
func (h *TasksHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, ok := h.deps.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", NewKind("api.get_task", ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, taskView(&task))
}

// HandleDeleteTask handles DELETE /tasks/{id}. Pending tasks are discarded
// at once; a processing task finishes as discarded.
func (h *TasksHandler) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	const op = "api.cancel_task"
	id := r.PathValue("id")
	status, ok := h.deps.Cancel(r.Context(), id)
	switch {
	case ok:
		writeJSON(w, http.StatusOK, cancelResponse{TaskID: id, Status: string(status), Cancelled: true})
	case status == "":
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
	default:
		writeError(w, http.StatusConflict, "conflict", NewKind(op, ErrConflict))
	}
}

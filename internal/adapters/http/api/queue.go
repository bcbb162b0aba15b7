package api

import (
	"net/http"

	"github.com/okian/matchengine/internal/domain/types"
)

// QueueDependencies defines the interface for queue introspection.
type QueueDependencies interface {
	QueueStatus() types.QueueStatus
}

// QueueHandler handles queue status requests.
type QueueHandler struct {
	deps QueueDependencies
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(deps QueueDependencies) *QueueHandler {
	return &QueueHandler{deps: deps}
}

// HandleQueueStatus handles GET /queue.
func (h *QueueHandler) HandleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.QueueStatus())
}

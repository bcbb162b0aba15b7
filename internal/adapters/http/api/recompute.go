package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/matchengine/internal/domain/dedupe"
	"github.com/okian/matchengine/internal/domain/model"
)

// RecomputeDependencies defines the interface for recompute requests.
type RecomputeDependencies interface {
	EnqueueRecompute(ctx context.Context, subjectType model.SubjectType, subjectID string, reason model.Reason, priority model.Priority) (string, error)
}

// recomputeRequest is the body of POST /recompute.
type recomputeRequest struct {
	RequestID   string `json:"request_id"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Reason      string `json:"reason"`
	Priority    string `json:"priority"`
}

type parsedRecompute struct {
	subjectType model.SubjectType
	subjectID   string
	reason      model.Reason
	priority    model.Priority
}

// parse validates the request. Reason defaults to EXPLICIT_REQUEST and
// priority to NORMAL.
func (req recomputeRequest) parse() (parsedRecompute, error) {
	out := parsedRecompute{
		subjectType: model.SubjectType(strings.ToUpper(strings.TrimSpace(req.SubjectType))),
		subjectID:   strings.TrimSpace(req.SubjectID),
		reason:      model.ReasonExplicitRequest,
		priority:    model.PriorityNormal,
	}
	switch {
	case !out.subjectType.Valid():
		return out, errors.New("subject_type must be STUDENT, OPPORTUNITY or PAIR")
	case out.subjectID == "":
		return out, errors.New("missing subject_id")
	}
	if req.Reason != "" {
		r, ok := model.ParseReason(req.Reason)
		if !ok {
			return out, errors.New("invalid reason")
		}
		out.reason = r
	}
	if req.Priority != "" {
		p, ok := model.ParsePriority(req.Priority)
		if !ok {
			return out, errors.New("invalid priority")
		}
		out.priority = p
	}
	return out, nil
}

// RecomputeHandler handles recompute requests.
type RecomputeHandler struct {
	deps    RecomputeDependencies
	deduper dedupe.Deduper
}

// NewRecomputeHandler creates a new recompute handler.
func NewRecomputeHandler(deps RecomputeDependencies, deduper dedupe.Deduper) *RecomputeHandler {
	return &RecomputeHandler{deps: deps, deduper: deduper}
}

// HandlePostRecompute handles POST /recompute. A repeated request_id is
// acknowledged as a duplicate without enqueueing again.
func (h *RecomputeHandler) HandlePostRecompute(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_recompute"
	ctx := r.Context()

	var req recomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	parsed, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID != "" && h.deduper.SeenAndRecord(ctx, requestID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	taskID, err := h.deps.EnqueueRecompute(ctx, parsed.subjectType, parsed.subjectID, parsed.reason, parsed.priority)
	if err != nil {
		// Rollback the "seen" status since enqueue failed
		if requestID != "" {
			h.deduper.Unrecord(ctx, requestID)
		}
		writeFailure(ctx, w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", TaskID: taskID})
}

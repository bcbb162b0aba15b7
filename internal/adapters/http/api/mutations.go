package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/internal/domain/trigger"
)

// MutationDependencies defines the interface for mutation events.
type MutationDependencies interface {
	SubmitMutation(ctx context.Context, ev model.Event) (trigger.Result, error)
}

// mutationRequest is the body of POST /mutations.
type mutationRequest struct {
	EventID       string `json:"event_id"`
	Kind          string `json:"kind"`
	StudentID     string `json:"student_id"`
	OpportunityID string `json:"opportunity_id"`
	TS            string `json:"ts"` // RFC3339, optional
}

func (req mutationRequest) toEvent() (model.Event, error) {
	ev := model.Event{
		EventID:       strings.TrimSpace(req.EventID),
		Kind:          model.MutationKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		StudentID:     strings.TrimSpace(req.StudentID),
		OpportunityID: strings.TrimSpace(req.OpportunityID),
	}
	if req.TS != "" {
		ts, err := time.Parse(time.RFC3339, req.TS)
		if err != nil {
			return ev, fmt.Errorf("invalid ts: %w", err)
		}
		ev.TS = ts
	}
	return ev, nil
}

// MutationsHandler handles mutation notifications from data collaborators.
type MutationsHandler struct {
	deps MutationDependencies
}

// NewMutationsHandler creates a new mutations handler.
func NewMutationsHandler(deps MutationDependencies) *MutationsHandler {
	return &MutationsHandler{deps: deps}
}

// HandlePostMutation handles POST /mutations.
func (h *MutationsHandler) HandlePostMutation(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_mutation"
	ctx := r.Context()

	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.SubmitMutation(ctx, ev)
	if err != nil {
		writeFailure(ctx, w, fmt.Errorf("%s: %w", op, err))
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", TaskID: res.TaskID})
}

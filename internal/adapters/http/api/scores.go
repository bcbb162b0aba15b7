package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/internal/domain/types"
)

const (
	defaultLimit    = 10
	defaultMaxLimit = 100
)

// ScoreDependencies defines the interface for score reads.
type ScoreDependencies interface {
	GetScore(ctx context.Context, studentID, opportunityID string) (model.MatchScore, bool, error)
	TopN(ctx context.Context, studentID string, n int) ([]model.MatchScore, error)
	RequestImmediateScore(ctx context.Context, studentID, opportunityID string) (model.MatchScore, error)
}

// ScoresHandler handles score reads and previews.
type ScoresHandler struct {
	deps     ScoreDependencies
	maxLimit int
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoreDependencies, maxLimit int) *ScoresHandler {
	if maxLimit <= 0 {
		maxLimit = defaultMaxLimit
	}
	return &ScoresHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetScore handles GET /scores/{studentId}/{opportunityId}.
func (h *ScoresHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	ctx := r.Context()

	score, ok, err := h.deps.GetScore(ctx, r.PathValue("studentId"), r.PathValue("opportunityId"))
	if err != nil {
		writeFailure(ctx, w, fmt.Errorf("%s: %w", op, err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, scoreView(&score))
}

// HandleGetTopScores handles GET /scores/{studentId}?limit=N.
func (h *ScoresHandler) HandleGetTopScores(w http.ResponseWriter, r *http.Request) {
	const op = "api.top_scores"
	ctx := r.Context()

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	scores, err := h.deps.TopN(ctx, r.PathValue("studentId"), limit)
	if err != nil {
		writeFailure(ctx, w, fmt.Errorf("%s: %w", op, err))
		return
	}
	out := make([]types.ScoreView, 0, len(scores))
	for i := range scores {
		out = append(out, scoreView(&scores[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePreview handles GET /preview/{studentId}/{opportunityId}. The score
// is computed from current data and not stored.
func (h *ScoresHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	const op = "api.preview"
	ctx := r.Context()

	score, err := h.deps.RequestImmediateScore(ctx, r.PathValue("studentId"), r.PathValue("opportunityId"))
	if err != nil {
		writeFailure(ctx, w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusOK, scoreView(&score))
}

// Package repository defines the match score store and its implementations.
package repository

import (
	"context"

	"github.com/okian/matchengine/internal/domain/model"
)

// Store persists the latest MatchScore of each (student, opportunity) pair.
// A Put replaces the stored score as a whole.
type Store interface {
	// Get returns the stored score, or ErrNotFound.
	Get(ctx context.Context, pair model.PairKey) (model.MatchScore, error)

	// Put stores a score, replacing any previous one for the pair.
	Put(ctx context.Context, score model.MatchScore) error

	// TopN returns the best n scores of a student, overall desc then
	// opportunity id asc.
	TopN(ctx context.Context, studentID string, n int) ([]model.MatchScore, error)

	// Count returns the number of stored scores.
	Count(ctx context.Context) int
}

// Package source holds the read-only collaborators the engine loads
// student and opportunity snapshots from.
package source

import (
	"context"
	"errors"

	"github.com/okian/matchengine/internal/domain/model"
)

// ErrNotFound is returned when the entity does not exist or was deleted.
// Every other error from a Source is treated as transient.
var ErrNotFound = errors.New("entity not found")

// Source is the data layer as seen by the engine.
type Source interface {
	FetchCandidate(ctx context.Context, studentID string) (*model.CandidateSnapshot, error)
	FetchOpportunity(ctx context.Context, opportunityID string) (*model.OpportunitySnapshot, error)
	ListActiveOpportunityIDs(ctx context.Context) ([]string, error)
	ListEligibleStudentIDs(ctx context.Context, opportunityID string) ([]string, error)
	CurrentDataVersion(ctx context.Context, entity model.EntityType, id string) (int64, error)
}

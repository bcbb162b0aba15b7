// Package model contains domain models passed between layers.
package model

import "time"

// MutationKind names what changed in the data layer.
type MutationKind string

// Mutation kinds reported by data collaborators.
const (
	MutationStudentChanged     MutationKind = "student_changed"
	MutationOpportunityChanged MutationKind = "opportunity_changed"
	MutationExplicitRequest    MutationKind = "explicit_request"
)

// Event is a mutation notification submitted by a data collaborator.
type Event struct {
	EventID       string       // unique id for idempotency
	Kind          MutationKind // what changed
	StudentID     string       // set for student changes and pair requests
	OpportunityID string       // set for opportunity changes and pair requests
	TS            time.Time    // event timestamp
}

// Package types contains common types used across the application
package types

import "time"

// ScoreView is the read shape of a stored match score.
type ScoreView struct {
	StudentID          string    `json:"student_id"`
	OpportunityID      string    `json:"opportunity_id"`
	Skill              float64   `json:"skill"`
	Academic           float64   `json:"academic"`
	Experience         float64   `json:"experience"`
	Preference         float64   `json:"preference"`
	Overall            float64   `json:"overall"`
	CandidateVersion   int64     `json:"candidate_version"`
	OpportunityVersion int64     `json:"opportunity_version"`
	ComputedAt         time.Time `json:"computed_at"`
	AlgorithmVersion   string    `json:"algorithm_version"`
}

// QueueStatus summarizes the recompute queue.
type QueueStatus struct {
	PendingByPriority map[string]int `json:"pending_by_priority"`
	Processing        int            `json:"processing"`
	FailedLast24h     int            `json:"failed_last_24h"`
}

// TaskView is the read shape of a recompute task.
type TaskView struct {
	TaskID      string    `json:"task_id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Reason      string    `json:"reason"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Outcome     string    `json:"outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Students       int           // Size of the student id space
	Opportunities  int           // Size of the opportunity id space
	Mutations      int           // Number of mutation events to submit
	DuplicateRatio float64       // Share of events that replay an earlier event id
	Workers        int           // Number of concurrent submitters
	Timeout        time.Duration // HTTP request timeout
	IdleTimeout    time.Duration // Bound on the wait for the queue to empty
	PollInterval   time.Duration // Queue polling interval
	TopN           int           // Scores fetched per student during verification
	Verbose        bool          // Enable verbose logging
}

// Mutation is the body of POST /mutations.
type Mutation struct {
	EventID       string `json:"event_id"`
	Kind          string `json:"kind"`
	StudentID     string `json:"student_id,omitempty"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	TS            string `json:"ts"`
}

// ScoreEntry is one element of GET /scores/{studentId}.
type ScoreEntry struct {
	StudentID     string  `json:"student_id"`
	OpportunityID string  `json:"opportunity_id"`
	Overall       float64 `json:"overall"`
}

// AckResponse represents the response from mutation submission.
type AckResponse struct {
	Status    string `json:"status"`
	TaskID    string `json:"task_id"`
	Duplicate bool   `json:"duplicate"`
}

// QueueStatus is the body of GET /queue.
type QueueStatus struct {
	PendingByPriority map[string]int `json:"pending_by_priority"`
	Processing        int            `json:"processing"`
	FailedLast24h     int            `json:"failed_last_24h"`
}

// Pending sums the pending tasks of every priority.
func (q QueueStatus) Pending() int {
	n := 0
	for _, v := range q.PendingByPriority {
		n += v
	}
	return n
}

// Stats holds run statistics.
type Stats struct {
	MutationsGenerated int
	Submitted          int
	Accepted           int
	Duplicate          int
	Rejected           int
	Failed             int
	StudentsVerified   int
	ScoresRead         int
	FailedTasks        int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

package model

import (
	"strings"
	"time"
)

// SubjectType names what a recompute task is about.
type SubjectType string

// Subject types.
const (
	SubjectStudent     SubjectType = "STUDENT"
	SubjectOpportunity SubjectType = "OPPORTUNITY"
	SubjectPair        SubjectType = "PAIR"
)

// Valid reports whether t is a known subject type.
func (t SubjectType) Valid() bool {
	switch t {
	case SubjectStudent, SubjectOpportunity, SubjectPair:
		return true
	}
	return false
}

// Reason records why a recompute was requested. Higher values win when
// two pending tasks for the same subject are merged.
type Reason int

// Reasons, ordered by precedence.
const (
	ReasonBatchSweep Reason = iota
	ReasonDataChanged
	ReasonExplicitRequest
)

var reasonNames = [...]string{"BATCH_SWEEP", "DATA_CHANGED", "EXPLICIT_REQUEST"}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "UNKNOWN"
	}
	return reasonNames[r]
}

// Valid reports whether r is one of the defined reasons.
func (r Reason) Valid() bool { return r >= ReasonBatchSweep && r <= ReasonExplicitRequest }

// ParseReason converts the wire name of a reason.
func ParseReason(s string) (Reason, bool) {
	for i, n := range reasonNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return Reason(i), true
		}
	}
	return 0, false
}

// Priority selects the queue bucket. Higher values are served first.
type Priority int

// Priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Priorities lists every priority from highest to lowest.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

var priorityNames = [...]string{"LOW", "NORMAL", "HIGH"}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return "UNKNOWN"
	}
	return priorityNames[p]
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p >= PriorityLow && p <= PriorityHigh }

// ParsePriority converts the wire name of a priority.
func ParsePriority(s string) (Priority, bool) {
	for i, n := range priorityNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return Priority(i), true
		}
	}
	return 0, false
}

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Outcome describes how a finished task ended.
type Outcome string

// Task outcomes.
const (
	OutcomeComputed    Outcome = "computed"
	OutcomeNoOp        Outcome = "no_op"
	OutcomeSubjectGone Outcome = "subject_gone"
	OutcomeExpanded    Outcome = "expanded"
	OutcomeDiscarded   Outcome = "discarded"
	OutcomeDropped     Outcome = "dropped"
	OutcomeMerged      Outcome = "merged"
	OutcomeFailed      Outcome = "failed"
)

// pairSeparator joins the two ids of a PAIR subject. Separators and
// escapes inside an id are escaped with pairEscape, so every pair has
// exactly one subject id.
const (
	pairSeparator = '|'
	pairEscape    = '\\'
)

// PairKey identifies a (student, opportunity) pair.
type PairKey struct {
	StudentID     string
	OpportunityID string
}

// String renders the pair as a PAIR subject id.
func (k PairKey) String() string {
	var b strings.Builder
	b.Grow(len(k.StudentID) + len(k.OpportunityID) + 1)
	escapePairID(&b, k.StudentID)
	b.WriteByte(pairSeparator)
	escapePairID(&b, k.OpportunityID)
	return b.String()
}

func escapePairID(b *strings.Builder, id string) {
	for i := 0; i < len(id); i++ {
		if c := id[i]; c == pairSeparator || c == pairEscape {
			b.WriteByte(pairEscape)
		}
		b.WriteByte(id[i])
	}
}

// ParsePair splits a PAIR subject id produced by PairKey.String. Ids that
// are not in that exact form are rejected.
func ParsePair(subjectID string) (PairKey, bool) {
	var (
		parts [2]strings.Builder
		part  int
	)
	for i := 0; i < len(subjectID); i++ {
		c := subjectID[i]
		switch {
		case c == pairEscape:
			i++
			if i == len(subjectID) {
				return PairKey{}, false
			}
			parts[part].WriteByte(subjectID[i])
		case c == pairSeparator:
			if part == 1 {
				return PairKey{}, false
			}
			part = 1
		default:
			parts[part].WriteByte(c)
		}
	}
	k := PairKey{StudentID: parts[0].String(), OpportunityID: parts[1].String()}
	if part != 1 || k.StudentID == "" || k.OpportunityID == "" || k.String() != subjectID {
		return PairKey{}, false
	}
	return k, true
}

// Task is a pending or finished recompute request.
type Task struct {
	ID          string
	SubjectType SubjectType
	SubjectID   string
	Reason      Reason
	Priority    Priority
	Status      Status
	Attempts    int
	CreatedAt   time.Time
	EnqueuedAt  time.Time
	NotBefore   time.Time // zero means immediately claimable
	Outcome     Outcome
	LastError   string
}

// NewPairTask builds a PAIR task for the given ids.
func NewPairTask(studentID, opportunityID string, reason Reason, priority Priority) Task {
	return Task{
		SubjectType: SubjectPair,
		SubjectID:   PairKey{StudentID: studentID, OpportunityID: opportunityID}.String(),
		Reason:      reason,
		Priority:    priority,
	}
}

// Key returns the dedup key of the task's subject.
func (t *Task) Key() string { return string(t.SubjectType) + ":" + t.SubjectID }

// Pair returns the pair for PAIR tasks.
func (t *Task) Pair() (PairKey, bool) {
	if t.SubjectType != SubjectPair {
		return PairKey{}, false
	}
	return ParsePair(t.SubjectID)
}

// Terminal reports whether the task reached DONE or FAILED.
func (t *Task) Terminal() bool { return t.Status == StatusDone || t.Status == StatusFailed }

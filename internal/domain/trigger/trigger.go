// Package trigger translates data mutations into recompute tasks.
//
// Collaborators that change student or opportunity data report the change
// as an Event. The detector maps it onto a task and hands the task to the
// dispatcher. Replayed events are recognised by their id and ignored.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/matchengine/internal/domain/dedupe"
	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

// ErrInvalidEvent is returned for events that cannot be mapped to a task.
var ErrInvalidEvent = errors.New("invalid mutation event")

// Enqueuer accepts recompute tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t model.Task) (string, error)
}

// EnqueueFunc adapts a function to Enqueuer.
type EnqueueFunc func(ctx context.Context, t model.Task) (string, error)

// Enqueue calls f.
func (f EnqueueFunc) Enqueue(ctx context.Context, t model.Task) (string, error) { //nolint:gocritic // Task is copied into the queue
	return f(ctx, t)
}

// OpportunityLister lists the opportunities a batch sweep covers.
type OpportunityLister interface {
	ListActiveOpportunityIDs(ctx context.Context) ([]string, error)
}

// Result reports what happened to a submitted event.
type Result struct {
	TaskID    string
	Duplicate bool
}

// Detector maps mutation events onto recompute tasks.
type Detector struct {
	enqueuer Enqueuer
	deduper  dedupe.Deduper
	lister   OpportunityLister
	logger   logger.Logger
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithDeduper replaces the default event id cache.
func WithDeduper(d dedupe.Deduper) Option {
	return func(det *Detector) {
		if d != nil {
			det.deduper = d
		}
	}
}

// WithLister sets the source of active opportunities used by Sweep.
func WithLister(l OpportunityLister) Option {
	return func(det *Detector) {
		det.lister = l
	}
}

// WithLogger sets a custom logger for the detector.
func WithLogger(l logger.Logger) Option {
	return func(det *Detector) {
		if l != nil {
			det.logger = l
		}
	}
}

// NewDetector creates a detector that submits tasks to enqueuer.
func NewDetector(enqueuer Enqueuer, opts ...Option) *Detector {
	d := &Detector{
		enqueuer: enqueuer,
		deduper:  dedupe.NewInMemoryDeduper(),
		logger:   logger.Get().Named("trigger"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan maps an event onto the task it should produce.
//
// A student change fans out over every active opportunity and an
// opportunity change over every eligible student, both at NORMAL priority.
// An explicit request runs at HIGH priority and targets the pair when both
// ids are set, otherwise the single subject.
func Plan(ev model.Event) (model.Task, error) { //nolint:gocritic // Event is a value type
	switch ev.Kind {
	case model.MutationStudentChanged:
		if ev.StudentID == "" {
			return model.Task{}, fmt.Errorf("%w: %s without student_id", ErrInvalidEvent, ev.Kind)
		}
		return subjectTask(model.SubjectStudent, ev.StudentID, model.ReasonDataChanged, model.PriorityNormal), nil
	case model.MutationOpportunityChanged:
		if ev.OpportunityID == "" {
			return model.Task{}, fmt.Errorf("%w: %s without opportunity_id", ErrInvalidEvent, ev.Kind)
		}
		return subjectTask(model.SubjectOpportunity, ev.OpportunityID, model.ReasonDataChanged, model.PriorityNormal), nil
	case model.MutationExplicitRequest:
		switch {
		case ev.StudentID != "" && ev.OpportunityID != "":
			return model.NewPairTask(ev.StudentID, ev.OpportunityID, model.ReasonExplicitRequest, model.PriorityHigh), nil
		case ev.StudentID != "":
			return subjectTask(model.SubjectStudent, ev.StudentID, model.ReasonExplicitRequest, model.PriorityHigh), nil
		case ev.OpportunityID != "":
			return subjectTask(model.SubjectOpportunity, ev.OpportunityID, model.ReasonExplicitRequest, model.PriorityHigh), nil
		}
		return model.Task{}, fmt.Errorf("%w: %s without subject", ErrInvalidEvent, ev.Kind)
	default:
		return model.Task{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
}

func subjectTask(st model.SubjectType, id string, r model.Reason, p model.Priority) model.Task {
	return model.Task{SubjectType: st, SubjectID: id, Reason: r, Priority: p}
}

// Handle submits the task for ev. Events without an id are never treated
// as duplicates. A failed enqueue forgets the id so the caller may retry.
func (d *Detector) Handle(ctx context.Context, ev model.Event) (Result, error) { //nolint:gocritic // Event is a value type
	task, err := Plan(ev)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordMutationReceived(string(ev.Kind))

	if ev.EventID != "" && d.deduper.SeenAndRecord(ctx, ev.EventID) {
		metrics.RecordMutationDuplicate()
		d.logger.Debug(ctx, "duplicate mutation ignored", logger.String("event_id", ev.EventID))
		return Result{Duplicate: true}, nil
	}
	if !ev.TS.IsZero() {
		task.CreatedAt = ev.TS
	}

	id, err := d.enqueuer.Enqueue(ctx, task)
	if err != nil {
		if ev.EventID != "" {
			d.deduper.Unrecord(ctx, ev.EventID)
		}
		return Result{}, err
	}

	d.logger.Debug(ctx, "mutation enqueued",
		logger.String("event_id", ev.EventID),
		logger.String("kind", string(ev.Kind)),
		logger.String("task_id", id),
	)
	return Result{TaskID: id}, nil
}

// Sweep enqueues a LOW priority BATCH_SWEEP task for every active
// opportunity and returns how many were accepted.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	if d.lister == nil {
		return 0, nil
	}
	ids, err := d.lister.ListActiveOpportunityIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active opportunities: %w", err)
	}

	var (
		accepted int
		errs     []error
	)
	for _, id := range ids {
		task := subjectTask(model.SubjectOpportunity, id, model.ReasonBatchSweep, model.PriorityLow)
		if _, err := d.enqueuer.Enqueue(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", id, err))
			continue
		}
		accepted++
	}

	d.logger.Info(ctx, "batch sweep enqueued",
		logger.Int("opportunities", len(ids)),
		logger.Int("accepted", accepted),
	)
	return accepted, errors.Join(errs...)
}

// Seen returns how many event ids are remembered.
func (d *Detector) Seen() int64 {
	return d.deduper.Size()
}

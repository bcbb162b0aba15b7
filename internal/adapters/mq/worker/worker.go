// Package worker runs recompute tasks claimed from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/matchengine/internal/adapters/lock"
	"github.com/okian/matchengine/internal/adapters/mq/queue"
	"github.com/okian/matchengine/internal/adapters/repository"
	"github.com/okian/matchengine/internal/adapters/source"
	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/internal/domain/scoring"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultTaskTimeout    = 10 * time.Second
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	backoffMultiplier     = 2.0
	claimErrorPause       = 50 * time.Millisecond
)

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent task failure")

// Queue is the part of the recompute queue a worker needs.
type Queue interface {
	Enqueue(ctx context.Context, t model.Task) (string, error)
	Claim(ctx context.Context) (model.Task, error)
	Complete(ctx context.Context, id string, outcome model.Outcome) error
	Retry(ctx context.Context, id string, cause error, notBefore time.Time) (bool, error)
	Fail(ctx context.Context, id string, cause error) error
}

// Scorer computes the components of a pair.
type Scorer interface {
	Compute(cand *model.CandidateSnapshot, opp *model.OpportunitySnapshot) model.Components
}

// Deps are the collaborators shared by every worker of a pool.
type Deps struct {
	Queue  Queue
	Source source.Source
	Store  repository.Store
	Locker lock.PairLocker
	Scorer Scorer
}

// Worker processes tasks until stopped.
type Worker interface {
	// Run claims and executes tasks until ctx is canceled, the queue is
	// closed or Shutdown is called.
	Run(ctx context.Context) error

	// Shutdown stops claiming and waits for the in-flight task.
	Shutdown(ctx context.Context) error
}

// TaskWorker executes recompute tasks.
type TaskWorker struct {
	deps Deps
	name string

	taskTimeout    time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitter         float64
	now            func() time.Time

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewTaskWorker creates a worker with configuration options.
func NewTaskWorker(deps Deps, opts ...Option) *TaskWorker {
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewComputer()
	}
	w := &TaskWorker{
		deps:           deps,
		name:           "worker",
		taskTimeout:    defaultTaskTimeout,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		jitter:         backoff.DefaultRandomizationFactor,
		now:            time.Now,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		logger:         logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *TaskWorker) Run(ctx context.Context) error {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		task, err := w.deps.Queue.Claim(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrQueueClosed), ctx.Err() != nil:
			return nil
		default:
			w.logger.Error(ctx, "claim failed", logger.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(claimErrorPause):
			}
			continue
		}
		// the in-flight task outlives a shutdown request; its own timeout bounds it
		w.Process(context.WithoutCancel(ctx), task)
	}
}

// Shutdown gracefully stops the worker.
func (w *TaskWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Process executes one claimed task and reports the result to the queue.
func (w *TaskWorker) Process(ctx context.Context, task model.Task) { //nolint:gocritic // Task is a value snapshot
	start := w.now()
	metrics.IncWorkerActive()
	defer func() {
		metrics.DecWorkerActive()
		metrics.RecordTaskDuration(string(task.SubjectType), float64(time.Since(start).Microseconds())/1000)
	}()

	tctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	outcome, err := w.execute(tctx, &task)
	cancel()

	w.report(ctx, &task, outcome, err)
}

func (w *TaskWorker) execute(ctx context.Context, task *model.Task) (model.Outcome, error) {
	switch task.SubjectType {
	case model.SubjectPair:
		return w.executePair(ctx, task)
	case model.SubjectStudent:
		return w.expandStudent(ctx, task)
	case model.SubjectOpportunity:
		return w.expandOpportunity(ctx, task)
	default:
		return "", fmt.Errorf("%w: unknown subject type %q", errPermanent, task.SubjectType)
	}
}

// expandStudent enqueues a PAIR task for every active opportunity.
func (w *TaskWorker) expandStudent(ctx context.Context, task *model.Task) (model.Outcome, error) {
	if _, err := w.deps.Source.CurrentDataVersion(ctx, model.EntityStudent, task.SubjectID); err != nil {
		return gone(err)
	}
	opps, err := w.deps.Source.ListActiveOpportunityIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("list active opportunities: %w", err)
	}
	for _, o := range opps {
		if err := w.fanOut(ctx, model.NewPairTask(task.SubjectID, o, task.Reason, task.Priority)); err != nil {
			return "", err
		}
	}
	w.logger.Debug(ctx, "student expanded",
		logger.String("student_id", task.SubjectID),
		logger.Int("pairs", len(opps)),
	)
	return model.OutcomeExpanded, nil
}

// expandOpportunity enqueues a PAIR task for every eligible student.
func (w *TaskWorker) expandOpportunity(ctx context.Context, task *model.Task) (model.Outcome, error) {
	students, err := w.deps.Source.ListEligibleStudentIDs(ctx, task.SubjectID)
	if err != nil {
		return gone(err)
	}
	for _, s := range students {
		if err := w.fanOut(ctx, model.NewPairTask(s, task.SubjectID, task.Reason, task.Priority)); err != nil {
			return "", err
		}
	}
	w.logger.Debug(ctx, "opportunity expanded",
		logger.String("opportunity_id", task.SubjectID),
		logger.Int("pairs", len(students)),
	)
	return model.OutcomeExpanded, nil
}

// fanOut enqueues a child task. Saturation is transient: the whole
// expansion is retried and already queued pairs merge.
func (w *TaskWorker) fanOut(ctx context.Context, child model.Task) error { //nolint:gocritic // Task is copied into the queue
	if _, err := w.deps.Queue.Enqueue(ctx, child); err != nil {
		return fmt.Errorf("enqueue %s: %w", child.Key(), err)
	}
	return nil
}

// executePair recomputes one pair under its exclusion lock.
func (w *TaskWorker) executePair(ctx context.Context, task *model.Task) (model.Outcome, error) {
	pair, ok := task.Pair()
	if !ok {
		return "", fmt.Errorf("%w: malformed pair id %q", errPermanent, task.SubjectID)
	}

	release, err := w.deps.Locker.Lock(ctx, pair)
	if err != nil {
		return "", err
	}
	defer release()

	cv, err := w.deps.Source.CurrentDataVersion(ctx, model.EntityStudent, pair.StudentID)
	if err != nil {
		return gone(err)
	}
	ov, err := w.deps.Source.CurrentDataVersion(ctx, model.EntityOpportunity, pair.OpportunityID)
	if err != nil {
		return gone(err)
	}

	existing, err := w.deps.Store.Get(ctx, pair)
	switch {
	case err == nil && existing.Fresh(cv, ov, scoring.AlgorithmVersion):
		return model.OutcomeNoOp, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return "", fmt.Errorf("read stored score: %w", err)
	}

	cand, err := w.deps.Source.FetchCandidate(ctx, pair.StudentID)
	if err != nil {
		return gone(err)
	}
	opp, err := w.deps.Source.FetchOpportunity(ctx, pair.OpportunityID)
	if err != nil {
		return gone(err)
	}

	computeStart := time.Now()
	components := w.deps.Scorer.Compute(cand, opp)
	metrics.RecordScoringLatency(float64(time.Since(computeStart).Microseconds()) / 1000)

	// a subject deleted while we computed must not get a score
	if _, err := w.deps.Source.CurrentDataVersion(ctx, model.EntityStudent, pair.StudentID); err != nil {
		return gone(err)
	}
	if _, err := w.deps.Source.CurrentDataVersion(ctx, model.EntityOpportunity, pair.OpportunityID); err != nil {
		return gone(err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	score := model.MatchScore{
		StudentID:          pair.StudentID,
		OpportunityID:      pair.OpportunityID,
		Components:         components,
		CandidateVersion:   versionOr(cand.Version, cv),
		OpportunityVersion: versionOr(opp.Version, ov),
		ComputedAt:         w.now().UTC(),
		AlgorithmVersion:   scoring.AlgorithmVersion,
	}
	if err := w.deps.Store.Put(ctx, score); err != nil {
		return "", fmt.Errorf("write score: %w", err)
	}
	metrics.RecordScoreWritten()
	return model.OutcomeComputed, nil
}

// gone turns a NotFound from the source into the subject_gone outcome and
// passes every other error through as transient.
func gone(err error) (model.Outcome, error) {
	if errors.Is(err, source.ErrNotFound) {
		return model.OutcomeSubjectGone, nil
	}
	return "", err
}

func versionOr(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func (w *TaskWorker) report(ctx context.Context, task *model.Task, outcome model.Outcome, err error) {
	if err == nil {
		if cerr := w.deps.Queue.Complete(ctx, task.ID, outcome); cerr != nil {
			w.logger.Error(ctx, "complete failed", logger.String("task_id", task.ID), logger.Error(cerr))
			return
		}
		metrics.RecordTaskCompleted(string(outcome))
		return
	}

	attempts := task.Attempts + 1
	if errors.Is(err, errPermanent) || attempts >= w.maxAttempts {
		if ferr := w.deps.Queue.Fail(ctx, task.ID, err); ferr != nil {
			w.logger.Error(ctx, "fail failed", logger.String("task_id", task.ID), logger.Error(ferr))
			return
		}
		metrics.RecordTaskFailed()
		return
	}

	delay := w.retryDelay(attempts)
	requeued, rerr := w.deps.Queue.Retry(ctx, task.ID, err, w.now().Add(delay))
	if rerr != nil {
		w.logger.Error(ctx, "retry failed", logger.String("task_id", task.ID), logger.Error(rerr))
		return
	}
	if requeued {
		metrics.RecordTaskRetried()
		w.logger.Warn(ctx, "task failed, retrying",
			logger.String("task_id", task.ID),
			logger.String("subject", task.Key()),
			logger.Int("attempt", attempts),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	}
}

// retryDelay returns the backoff before the given attempt.
func (w *TaskWorker) retryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.initialBackoff,
		RandomizationFactor: w.jitter,
		Multiplier:          backoffMultiplier,
		MaxInterval:         w.maxBackoff,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

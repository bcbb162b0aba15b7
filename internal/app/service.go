// Package service provides the dispatcher that owns the recompute queue and
// worker pool and implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/matchengine/internal/adapters/lock"
	"github.com/okian/matchengine/internal/adapters/mq/queue"
	"github.com/okian/matchengine/internal/adapters/mq/worker"
	"github.com/okian/matchengine/internal/adapters/repository"
	"github.com/okian/matchengine/internal/adapters/source"
	"github.com/okian/matchengine/internal/domain/dedupe"
	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/internal/domain/scoring"
	"github.com/okian/matchengine/internal/domain/trigger"
	"github.com/okian/matchengine/internal/domain/types"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueCapacity  = 10000
	defaultDedupeSize     = 50000
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultTaskTimeout    = 10 * time.Second
	defaultTargetMonths   = 12
	defaultLockStripes    = 64
)

// Service is the dispatcher. It owns the queue and the worker pool and
// exposes the recompute and read operations.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	source source.Source
	store  repository.Store
	locker lock.PairLocker

	// Core components, built by Start
	queue    *queue.InMemoryQueue
	computer *scoring.Computer
	detector *trigger.Detector
	pool     *worker.Pool
	previews singleflight.Group

	// Configuration
	workerCount    int
	capacities     [3]int // indexed high, normal, low
	dedupeSize     int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	taskTimeout    time.Duration
	targetMonths   float64
	sweepInterval  time.Duration

	// State
	started  bool
	draining atomic.Bool
	stopCh   chan struct{}
	sweepWG  sync.WaitGroup

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:    runtime.NumCPU() * 2,
		capacities:     [3]int{defaultQueueCapacity, defaultQueueCapacity, defaultQueueCapacity},
		dedupeSize:     defaultDedupeSize,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		taskTimeout:    defaultTaskTimeout,
		targetMonths:   defaultTargetMonths,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting match engine...")

	if s.source == nil {
		s.source = source.NewMemorySource()
		s.logger.Info(ctx, "using in-memory data source")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory score store")
	}
	if s.locker == nil {
		s.locker = lock.NewMemoryLocker(defaultLockStripes)
	}

	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacities(s.capacities[0], s.capacities[1], s.capacities[2]),
	)
	s.computer = scoring.NewComputer(scoring.WithTargetMonths(s.targetMonths))
	s.detector = trigger.NewDetector(
		trigger.EnqueueFunc(s.enqueue),
		trigger.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
		trigger.WithLister(s.source),
	)
	s.pool = worker.NewPool(s.workerCount, worker.Deps{
		Queue:  s.queue,
		Source: s.source,
		Store:  s.store,
		Locker: s.locker,
		Scorer: s.computer,
	},
		worker.WithTaskTimeout(s.taskTimeout),
		worker.WithMaxAttempts(s.maxAttempts),
		worker.WithBackoff(s.initialBackoff, s.maxBackoff),
	)
	s.pool.Start(context.WithoutCancel(ctx))

	if s.sweepInterval > 0 {
		s.sweepWG.Add(1)
		go s.sweepLoop(context.WithoutCancel(ctx))
	}

	s.started = true
	s.logger.Info(ctx, "match engine started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_high", s.capacities[0]),
		logger.Int("queue_normal", s.capacities[1]),
		logger.Int("queue_low", s.capacities[2]),
		logger.Duration("sweep_interval", s.sweepInterval),
	)
	return nil
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.detector.Sweep(ctx); err != nil {
				s.logger.Warn(ctx, "batch sweep incomplete", logger.Error(err))
			}
		}
	}
}

// ready returns the queue once the service has started.
func (s *Service) ready() (*queue.InMemoryQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.queue, nil
}

// enqueue admits a task unless the service is draining.
func (s *Service) enqueue(ctx context.Context, t model.Task) (string, error) { //nolint:gocritic // Task is copied into the queue
	if s.draining.Load() {
		metrics.RecordTaskRejected("draining")
		return "", ErrDraining
	}
	q, err := s.ready()
	if err != nil {
		return "", err
	}
	return q.Enqueue(ctx, t)
}

// EnqueueRecompute submits a recompute request. It returns the id of the
// task that will do the work, which is an existing task's id on merge.
func (s *Service) EnqueueRecompute(
	ctx context.Context,
	subjectType model.SubjectType,
	subjectID string,
	reason model.Reason,
	priority model.Priority,
) (string, error) {
	if !subjectType.Valid() || subjectID == "" || !priority.Valid() || !reason.Valid() {
		return "", fmt.Errorf("%w: subject %q/%q priority %d reason %d", ErrInvalidRequest, subjectType, subjectID, priority, reason)
	}
	if subjectType == model.SubjectPair {
		if _, ok := model.ParsePair(subjectID); !ok {
			return "", fmt.Errorf("%w: pair id %q must be student|opportunity", ErrInvalidRequest, subjectID)
		}
	}
	id, err := s.enqueue(ctx, model.Task{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Reason:      reason,
		Priority:    priority,
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "recompute enqueued",
		logger.String("task_id", id),
		logger.String("subject_type", string(subjectType)),
		logger.String("subject_id", subjectID),
		logger.String("priority", priority.String()),
	)
	return id, nil
}

// SubmitMutation reports a data change through the trigger detector.
func (s *Service) SubmitMutation(ctx context.Context, ev model.Event) (trigger.Result, error) { //nolint:gocritic // Event is a value type
	if _, err := s.ready(); err != nil {
		return trigger.Result{}, err
	}
	return s.detector.Handle(ctx, ev)
}

// Sweep enqueues a batch sweep over every active opportunity.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if _, err := s.ready(); err != nil {
		return 0, err
	}
	return s.detector.Sweep(ctx)
}

// GetScore returns the stored score of a pair. It never waits on a
// recompute in progress. The bool is false when no score is stored.
func (s *Service) GetScore(ctx context.Context, studentID, opportunityID string) (model.MatchScore, bool, error) {
	store, err := s.scoreStore()
	if err != nil {
		return model.MatchScore{}, false, err
	}
	score, err := store.Get(ctx, model.PairKey{StudentID: studentID, OpportunityID: opportunityID})
	if errors.Is(err, repository.ErrNotFound) {
		return model.MatchScore{}, false, nil
	}
	if err != nil {
		return model.MatchScore{}, false, err
	}
	return score, true, nil
}

// TopN returns the best stored scores of a student.
func (s *Service) TopN(ctx context.Context, studentID string, n int) ([]model.MatchScore, error) {
	store, err := s.scoreStore()
	if err != nil {
		return nil, err
	}
	return store.TopN(ctx, studentID, n)
}

// scoreStore allows reads from a configured store before Start.
func (s *Service) scoreStore() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// RequestImmediateScore computes a pair synchronously, bypassing the queue.
// The result is not stored. Concurrent previews of one pair share a single
// computation. Missing subjects return source.ErrNotFound.
func (s *Service) RequestImmediateScore(ctx context.Context, studentID, opportunityID string) (model.MatchScore, error) {
	if _, err := s.ready(); err != nil {
		return model.MatchScore{}, err
	}
	pair := model.PairKey{StudentID: studentID, OpportunityID: opportunityID}
	v, err, shared := s.previews.Do(pair.String(), func() (any, error) {
		return s.preview(ctx, pair)
	})
	if err != nil {
		return model.MatchScore{}, err
	}
	if shared {
		s.logger.Debug(ctx, "preview shared", logger.String("pair", pair.String()))
	}
	return v.(model.MatchScore), nil
}

func (s *Service) preview(ctx context.Context, pair model.PairKey) (model.MatchScore, error) {
	cand, err := s.source.FetchCandidate(ctx, pair.StudentID)
	if err != nil {
		return model.MatchScore{}, fmt.Errorf("fetch student %s: %w", pair.StudentID, err)
	}
	opp, err := s.source.FetchOpportunity(ctx, pair.OpportunityID)
	if err != nil {
		return model.MatchScore{}, fmt.Errorf("fetch opportunity %s: %w", pair.OpportunityID, err)
	}

	start := time.Now()
	components := s.computer.Compute(cand, opp)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)

	return model.MatchScore{
		StudentID:          pair.StudentID,
		OpportunityID:      pair.OpportunityID,
		Components:         components,
		CandidateVersion:   cand.Version,
		OpportunityVersion: opp.Version,
		ComputedAt:         time.Now().UTC(),
		AlgorithmVersion:   scoring.AlgorithmVersion,
	}, nil
}

// QueueStatus summarizes pending, processing and recently failed tasks.
func (s *Service) QueueStatus() types.QueueStatus {
	q, err := s.ready()
	if err != nil {
		return types.QueueStatus{PendingByPriority: map[string]int{}}
	}
	return q.Status()
}

// Cancel removes a pending task or marks a processing one for discard. It
// returns the task status at the time of the request.
func (s *Service) Cancel(ctx context.Context, taskID string) (model.Status, bool) {
	q, err := s.ready()
	if err != nil {
		return "", false
	}
	status, ok := q.Cancel(ctx, taskID)
	if ok {
		s.logger.Info(ctx, "task cancelled", logger.String("task_id", taskID), logger.String("status", string(status)))
	}
	return status, ok
}

// Task returns a copy of a live or recently finished task.
func (s *Service) Task(taskID string) (model.Task, bool) {
	q, err := s.ready()
	if err != nil {
		return model.Task{}, false
	}
	return q.Task(taskID)
}

// DeadLetters returns the tasks that failed within the retention window.
func (s *Service) DeadLetters() []queue.DeadLetter {
	q, err := s.ready()
	if err != nil {
		return nil
	}
	return q.DeadLetters()
}

// Drain stops accepting new requests, waits up to timeout for the queue to
// empty and then stops the workers. It returns the number of tasks left.
// Fan-out from tasks already running still enters the queue while it drains.
// A drained service cannot be started again.
func (s *Service) Drain(timeout time.Duration) int {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return 0
	}
	s.started = false
	s.mu.Unlock()

	ctx := context.Background()
	s.draining.Store(true)
	s.logger.Info(ctx, "draining match engine...", logger.Duration("timeout", timeout))

	close(s.stopCh)
	s.sweepWG.Wait()

	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	remaining := s.queue.Drain(drainCtx)
	cancel()

	if err := s.queue.Close(); err != nil {
		s.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	// running tasks are bounded by their own timeout
	stopCtx, stop := context.WithTimeout(ctx, s.taskTimeout+time.Second)
	defer stop()
	if err := s.pool.Shutdown(stopCtx); err != nil {
		s.logger.Warn(ctx, "worker pool did not stop cleanly", logger.Error(err))
	}

	remaining = s.queue.Len()
	s.logger.Info(ctx, "match engine drained", logger.Int("remaining", remaining))
	return remaining
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"draining":    s.draining.Load(),
		"workerCount": s.workerCount,
	}
	if s.queue != nil {
		stats["queueLength"] = s.queue.Len()
	}
	if s.store != nil {
		stats["storedScores"] = s.store.Count(ctx)
	}
	if s.detector != nil {
		stats["seenEvents"] = s.detector.Seen()
	}
	return stats
}

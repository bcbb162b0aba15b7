// Package queue implements the deduplicating, priority-aware recompute queue.
//
// Tasks wait in one FIFO bucket per priority. A pending task is unique per
// subject key; a second enqueue for the same subject merges into it. While
// a task is being processed its key is busy and later tasks for the same
// subject stay pending until it finishes.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/internal/domain/types"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultBucketCapacity = 10000
	defaultHistorySize    = 10000
	defaultDeadLetterTTL  = 24 * time.Hour
)

// Queue is the contract shared by the dispatcher and the worker pool.
type Queue interface {
	// Enqueue admits a task or merges it into a pending task for the same
	// subject. It returns the id of the task that will do the work.
	Enqueue(ctx context.Context, t model.Task) (string, error)

	// Claim blocks until a task is claimable and marks it PROCESSING.
	Claim(ctx context.Context) (model.Task, error)

	// Complete marks a claimed task DONE with the given outcome.
	Complete(ctx context.Context, id string, outcome model.Outcome) error

	// Retry puts a claimed task back as PENDING, claimable after notBefore.
	// It returns false when the task was not requeued.
	Retry(ctx context.Context, id string, cause error, notBefore time.Time) (bool, error)

	// Fail moves a claimed task to the dead-letter log.
	Fail(ctx context.Context, id string, cause error) error

	// Cancel removes a pending task or marks a processing one for discard.
	// It returns the status at the time of the request.
	Cancel(ctx context.Context, id string) (model.Status, bool)

	// Drain waits until nothing is pending or processing, or ctx ends.
	// It returns the number of tasks left.
	Drain(ctx context.Context) int

	Task(id string) (model.Task, bool)
	Status() types.QueueStatus
	Len() int
	Close() error
	IsClosed() bool
}

type entry struct {
	task    model.Task
	elem    *list.Element // set while pending
	discard bool          // cancelled while processing
}

// DeadLetter is a task that exhausted its attempts.
type DeadLetter struct {
	Task     model.Task
	FailedAt time.Time
}

// InMemoryQueue implements Queue. Every operation runs under one mutex.
type InMemoryQueue struct {
	mu sync.Mutex

	buckets  [3]*list.List // indexed by model.Priority
	capacity [3]int

	pending map[string]*entry // subject key -> pending entry
	active  map[string]*entry // task id -> pending or processing entry
	busy    map[string]string // subject key -> processing task id

	history     map[string]*list.Element
	historyList *list.List
	historySize int

	deadLetters   []DeadLetter
	deadLetterTTL time.Duration

	changed chan struct{}
	closed  bool

	now func() time.Time
	log logger.Logger
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		pending:       make(map[string]*entry),
		active:        make(map[string]*entry),
		busy:          make(map[string]string),
		history:       make(map[string]*list.Element),
		historyList:   list.New(),
		historySize:   defaultHistorySize,
		deadLetterTTL: defaultDeadLetterTTL,
		changed:       make(chan struct{}),
		now:           time.Now,
		log:           logger.Get().Named("queue"),
	}
	for i := range q.buckets {
		q.buckets[i] = list.New()
		q.capacity[i] = defaultBucketCapacity
	}
	for _, opt := range opts {
		opt(q)
	}
	q.updateGauges()
	return q
}

// Enqueue adds a task to its priority bucket or merges it into the pending
// task with the same subject.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t model.Task) (string, error) { //nolint:gocritic // Task is copied into the queue
	if !t.SubjectType.Valid() || t.SubjectID == "" || !t.Priority.Valid() || !t.Reason.Valid() {
		return "", fmt.Errorf("%w: subject %q/%q priority %d reason %d", ErrInvalidTask, t.SubjectType, t.SubjectID, t.Priority, t.Reason)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordTaskRejected("closed")
		return "", ErrQueueClosed
	}

	key := t.Key()
	if e, ok := q.pending[key]; ok {
		if err := q.merge(e, t.Priority, t.Reason); err != nil {
			metrics.RecordTaskRejected("saturated")
			return "", err
		}
		metrics.RecordTaskMerged()
		q.signal()
		return e.task.ID, nil
	}

	bucket := q.buckets[t.Priority]
	if bucket.Len() >= q.capacity[t.Priority] {
		if t.Priority != model.PriorityLow {
			metrics.RecordTaskRejected("saturated")
			return "", fmt.Errorf("%w: %s bucket holds %d tasks", ErrQueueSaturated, t.Priority, bucket.Len())
		}
		q.dropOldestLow(ctx)
	}

	now := q.now()
	t.ID = uuid.NewString()
	t.Status = model.StatusPending
	t.Attempts = 0
	t.Outcome = ""
	t.LastError = ""
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.EnqueuedAt = now

	e := &entry{task: t}
	e.elem = bucket.PushBack(e)
	q.pending[key] = e
	q.active[t.ID] = e

	metrics.RecordTaskEnqueued(string(t.SubjectType), t.Priority.String())
	q.updateGauges()
	q.signal()
	return t.ID, nil
}

// merge folds a request into a pending entry. A promotion into a full
// bucket is rejected and leaves the entry untouched.
func (q *InMemoryQueue) merge(e *entry, p model.Priority, r model.Reason) error {
	if p > e.task.Priority && q.buckets[p].Len() >= q.capacity[p] {
		return fmt.Errorf("%w: cannot promote %s task to %s, bucket holds %d tasks",
			ErrQueueSaturated, e.task.Priority, p, q.buckets[p].Len())
	}
	q.fold(e, p, r)
	return nil
}

// fold raises the entry's reason and priority. A promoted task moves to the
// back of the higher bucket.
func (q *InMemoryQueue) fold(e *entry, p model.Priority, r model.Reason) {
	if r >= e.task.Reason {
		e.task.Reason = r
	}
	if p <= e.task.Priority {
		return
	}
	q.buckets[e.task.Priority].Remove(e.elem)
	e.task.Priority = p
	e.elem = q.buckets[p].PushBack(e)
	q.updateGauges()
}

func (q *InMemoryQueue) dropOldestLow(ctx context.Context) {
	front := q.buckets[model.PriorityLow].Front()
	if front == nil {
		return
	}
	e := front.Value.(*entry)
	q.removePending(e)
	e.task.Status = model.StatusDone
	e.task.Outcome = model.OutcomeDropped
	q.remember(e.task)

	q.log.Warn(ctx, "dropped oldest low priority task",
		logger.String("task_id", e.task.ID),
		logger.String("subject", e.task.Key()),
	)
	metrics.RecordTaskDropped(model.PriorityLow.String())
}

// Claim returns the oldest claimable task of the highest non-empty priority.
// Tasks whose subject is busy or whose retry gate is in the future are skipped.
func (q *InMemoryQueue) Claim(ctx context.Context) (model.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return model.Task{}, ErrQueueClosed
		}
		now := q.now()
		e, wake := q.next(now)
		if e != nil {
			t := q.claim(e, now)
			q.mu.Unlock()
			return t, nil
		}
		changed := q.changed
		q.mu.Unlock()

		var (
			tm    *time.Timer
			timer <-chan time.Time
		)
		if !wake.IsZero() {
			tm = time.NewTimer(wake.Sub(now))
			timer = tm.C
		}
		select {
		case <-ctx.Done():
			stopTimer(tm)
			return model.Task{}, ctx.Err()
		case <-changed:
		case <-timer:
		}
		stopTimer(tm)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// next scans buckets from HIGH to LOW. It returns the first claimable entry,
// or the earliest retry gate if none is claimable yet.
func (q *InMemoryQueue) next(now time.Time) (*entry, time.Time) {
	var wake time.Time
	for _, p := range model.Priorities {
		for el := q.buckets[p].Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if _, busy := q.busy[e.task.Key()]; busy {
				continue
			}
			if nb := e.task.NotBefore; !nb.IsZero() && nb.After(now) {
				if wake.IsZero() || nb.Before(wake) {
					wake = nb
				}
				continue
			}
			return e, time.Time{}
		}
	}
	return nil, wake
}

func (q *InMemoryQueue) claim(e *entry, now time.Time) model.Task {
	q.removePending(e)
	q.active[e.task.ID] = e
	q.busy[e.task.Key()] = e.task.ID
	e.task.Status = model.StatusProcessing

	metrics.RecordQueueWait(float64(now.Sub(e.task.EnqueuedAt).Milliseconds()))
	q.updateGauges()
	return e.task
}

// Complete marks a processing task DONE.
func (q *InMemoryQueue) Complete(_ context.Context, id string, outcome model.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.processing(id)
	if err != nil {
		return err
	}
	if e.discard {
		outcome = model.OutcomeDiscarded
	}
	q.finish(e, model.StatusDone, outcome)
	return nil
}

// Retry reschedules a processing task. A newer pending request for the same
// subject absorbs it instead, and a discarded task is not requeued.
func (q *InMemoryQueue) Retry(_ context.Context, id string, cause error, notBefore time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.processing(id)
	if err != nil {
		return false, err
	}
	if cause != nil {
		e.task.LastError = cause.Error()
	}
	e.task.Attempts++
	if e.discard {
		q.finish(e, model.StatusDone, model.OutcomeDiscarded)
		return false, nil
	}

	key := e.task.Key()
	if newer, ok := q.pending[key]; ok {
		// retries were admitted once and may exceed the bucket capacity
		q.fold(newer, e.task.Priority, e.task.Reason)
		q.finish(e, model.StatusDone, model.OutcomeMerged)
		return false, nil
	}

	delete(q.busy, key)
	e.task.Status = model.StatusPending
	e.task.NotBefore = notBefore
	e.task.EnqueuedAt = q.now()
	// retries were admitted once and may exceed the bucket capacity
	e.elem = q.buckets[e.task.Priority].PushBack(e)
	q.pending[key] = e

	q.updateGauges()
	q.signal()
	return true, nil
}

// Fail moves a processing task to FAILED and records it as a dead letter.
func (q *InMemoryQueue) Fail(ctx context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.processing(id)
	if err != nil {
		return err
	}
	if cause != nil {
		e.task.LastError = cause.Error()
	}
	e.task.Attempts++
	if e.discard {
		q.finish(e, model.StatusDone, model.OutcomeDiscarded)
		return nil
	}
	q.finish(e, model.StatusFailed, model.OutcomeFailed)

	now := q.now()
	q.pruneDeadLetters(now)
	q.deadLetters = append(q.deadLetters, DeadLetter{Task: e.task, FailedAt: now})

	q.log.Error(ctx, "task moved to dead letters",
		logger.String("task_id", e.task.ID),
		logger.String("subject", e.task.Key()),
		logger.Int("attempts", e.task.Attempts),
		logger.String("last_error", e.task.LastError),
	)
	return nil
}

func (q *InMemoryQueue) processing(id string) (*entry, error) {
	e, ok := q.active[id]
	if !ok || e.task.Status != model.StatusProcessing {
		return nil, fmt.Errorf("%w: %s is not processing", ErrTaskNotFound, id)
	}
	return e, nil
}

func (q *InMemoryQueue) finish(e *entry, status model.Status, outcome model.Outcome) {
	delete(q.active, e.task.ID)
	if q.busy[e.task.Key()] == e.task.ID {
		delete(q.busy, e.task.Key())
	}
	e.task.Status = status
	e.task.Outcome = outcome
	q.remember(e.task)
	q.updateGauges()
	q.signal()
}

// Cancel removes a pending task or flags a processing task for discard.
func (q *InMemoryQueue) Cancel(_ context.Context, id string) (model.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.active[id]
	if !ok {
		if el, seen := q.history[id]; seen {
			return el.Value.(model.Task).Status, false
		}
		return "", false
	}

	status := e.task.Status
	switch status {
	case model.StatusPending:
		q.removePending(e)
		e.task.Status = model.StatusDone
		e.task.Outcome = model.OutcomeDiscarded
		q.remember(e.task)
		q.updateGauges()
		q.signal()
	case model.StatusProcessing:
		e.discard = true
	}
	metrics.RecordTaskCancelled()
	return status, true
}

func (q *InMemoryQueue) removePending(e *entry) {
	if e.elem != nil {
		q.buckets[e.task.Priority].Remove(e.elem)
		e.elem = nil
	}
	if q.pending[e.task.Key()] == e {
		delete(q.pending, e.task.Key())
	}
	delete(q.active, e.task.ID)
}

// remember keeps a bounded history of finished tasks for inspection.
func (q *InMemoryQueue) remember(t model.Task) { //nolint:gocritic // stored by value
	if el, ok := q.history[t.ID]; ok {
		q.historyList.Remove(el)
	}
	q.history[t.ID] = q.historyList.PushBack(t)
	for q.historyList.Len() > q.historySize {
		oldest := q.historyList.Front()
		q.historyList.Remove(oldest)
		delete(q.history, oldest.Value.(model.Task).ID)
	}
}

// Drain waits for the queue to empty. New tasks are still accepted so that
// in-flight expansions can finish; callers stop producers first.
func (q *InMemoryQueue) Drain(ctx context.Context) int {
	for {
		q.mu.Lock()
		n := q.lenLocked()
		changed := q.changed
		q.mu.Unlock()
		if n == 0 {
			return 0
		}
		select {
		case <-ctx.Done():
			return q.Len()
		case <-changed:
		}
	}
}

// Task returns a copy of an active or recently finished task.
func (q *InMemoryQueue) Task(id string) (model.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.active[id]; ok {
		return e.task, true
	}
	if el, ok := q.history[id]; ok {
		return el.Value.(model.Task), true
	}
	return model.Task{}, false
}

// Status reports pending counts per priority, processing count and the
// number of dead letters in the retention window.
func (q *InMemoryQueue) Status() types.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneDeadLetters(q.now())
	st := types.QueueStatus{
		PendingByPriority: make(map[string]int, len(q.buckets)),
		Processing:        len(q.busy),
		FailedLast24h:     len(q.deadLetters),
	}
	for _, p := range model.Priorities {
		st.PendingByPriority[p.String()] = q.buckets[p].Len()
	}
	return st
}

// DeadLetters returns the failed tasks still in the retention window.
func (q *InMemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneDeadLetters(q.now())
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

func (q *InMemoryQueue) pruneDeadLetters(now time.Time) {
	cutoff := now.Add(-q.deadLetterTTL)
	i := 0
	for i < len(q.deadLetters) && q.deadLetters[i].FailedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		q.deadLetters = append(q.deadLetters[:0], q.deadLetters[i:]...)
	}
}

// Len returns the number of pending and processing tasks.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *InMemoryQueue) lenLocked() int {
	n := len(q.busy)
	for _, b := range q.buckets {
		n += b.Len()
	}
	return n
}

// Close stops the queue. Enqueue and Claim return ErrQueueClosed afterwards.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.signal()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// signal wakes every goroutine waiting on the current state.
func (q *InMemoryQueue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *InMemoryQueue) updateGauges() {
	for _, p := range model.Priorities {
		metrics.UpdateQueuePending(p.String(), q.buckets[p].Len())
	}
	metrics.UpdateQueueProcessing(len(q.busy))
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchengine/internal/adapters/lock"
	"github.com/okian/matchengine/internal/adapters/mq/queue"
	"github.com/okian/matchengine/internal/adapters/source"
	service "github.com/okian/matchengine/internal/app"
	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// gateLocker blocks every Lock until the gate is opened.
type gateLocker struct {
	inner lock.PairLocker
	gate  chan struct{}
	once  sync.Once
}

func newGateLocker() *gateLocker {
	return &gateLocker{inner: lock.NewMemoryLocker(4), gate: make(chan struct{})}
}

func (g *gateLocker) Lock(ctx context.Context, pair model.PairKey) (lock.Release, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Lock(ctx, pair)
}

func (g *gateLocker) open() { g.once.Do(func() { close(g.gate) }) }

// countingSource counts candidate fetches.
type countingSource struct {
	*source.MemorySource
	fetches atomic.Int32
	delay   time.Duration
}

func (c *countingSource) FetchCandidate(ctx context.Context, id string) (*model.CandidateSnapshot, error) {
	c.fetches.Add(1)
	time.Sleep(c.delay)
	return c.MemorySource.FetchCandidate(ctx, id)
}

func seededSource() *source.MemorySource {
	src := source.NewMemorySource()
	gpa := 3.6
	src.UpsertCandidate(model.CandidateSnapshot{
		StudentID: "s1",
		Skills:    []model.SkillLevel{{SkillID: "go", Proficiency: 5, Years: 3}},
		Academic:  model.Academic{GPA: &gpa},
	})
	src.UpsertOpportunity(model.OpportunitySnapshot{
		OpportunityID: "o1",
		Skills:        []model.SkillRequirement{{SkillID: "go", Weight: 5, Required: true}},
	})
	return src
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(3),
			service.WithQueueCapacities(10, 20, 30),
			service.WithDedupeSize(100),
			service.WithMaxAttempts(2),
			service.WithRetryBackoff(time.Millisecond, 10*time.Millisecond),
			service.WithTaskTimeout(time.Second),
			service.WithExperienceTarget(6),
		)

		Convey("Then it is not started", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats(context.Background())
			So(stats["started"], ShouldEqual, false)
			So(stats["workerCount"], ShouldEqual, 3)
		})

		Convey("Then operations report that it is not started", func() {
			_, err := svc.EnqueueRecompute(context.Background(), model.SubjectStudent, "s1", model.ReasonDataChanged, model.PriorityNormal)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.RequestImmediateScore(context.Background(), "s1", "o1")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.QueueStatus().PendingByPriority, ShouldBeEmpty)
			So(svc.Drain(time.Millisecond), ShouldEqual, 0)
		})
	})
}

func TestService_EnqueueRecompute(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service over a seeded source", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithSource(seededSource()))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)

		Convey("When a pair recompute is requested", func() {
			id, err := svc.EnqueueRecompute(ctx, model.SubjectPair, "s1|o1", model.ReasonExplicitRequest, model.PriorityHigh)
			So(err, ShouldBeNil)

			Convey("Then the score becomes readable and the task is DONE", func() {
				So(waitFor(func() bool {
					_, ok, _ := svc.GetScore(ctx, "s1", "o1")
					return ok
				}), ShouldBeTrue)
				score, _, err := svc.GetScore(ctx, "s1", "o1")
				So(err, ShouldBeNil)
				So(score.Components.Overall, ShouldBeGreaterThan, 0.5)

				So(waitFor(func() bool {
					task, _ := svc.Task(id)
					return task.Status == model.StatusDone
				}), ShouldBeTrue)
				task, _ := svc.Task(id)
				So(task.Outcome, ShouldEqual, model.OutcomeComputed)
			})
		})

		Convey("When requests are malformed", func() {
			_, err1 := svc.EnqueueRecompute(ctx, "TEAM", "x", model.ReasonDataChanged, model.PriorityNormal)
			_, err2 := svc.EnqueueRecompute(ctx, model.SubjectStudent, "", model.ReasonDataChanged, model.PriorityNormal)
			_, err3 := svc.EnqueueRecompute(ctx, model.SubjectPair, "s1", model.ReasonDataChanged, model.PriorityNormal)
			_, err4 := svc.EnqueueRecompute(ctx, model.SubjectStudent, "s1", model.ReasonDataChanged, model.Priority(9))
			_, err5 := svc.EnqueueRecompute(ctx, model.SubjectStudent, "s1", model.Reason(7), model.PriorityNormal)

			Convey("Then each is rejected as invalid", func() {
				for _, err := range []error{err1, err2, err3, err4, err5} {
					So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
				}
			})
		})

		Convey("When a pair has no stored score", func() {
			_, ok, err := svc.GetScore(ctx, "s1", "nope")

			Convey("Then it is reported absent", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestService_CancelAndBackpressure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a single worker stuck on a pair lock", t, func() {
		gate := newGateLocker()
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithQueueCapacities(1, 1, 1),
			service.WithSource(seededSource()),
			service.WithPairLocker(gate),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)
		defer gate.open()

		first, err := svc.EnqueueRecompute(ctx, model.SubjectPair, "s1|o1", model.ReasonDataChanged, model.PriorityNormal)
		So(err, ShouldBeNil)
		So(waitFor(func() bool { return svc.QueueStatus().Processing == 1 }), ShouldBeTrue)

		Convey("When the same pair is requested again", func() {
			second, err := svc.EnqueueRecompute(ctx, model.SubjectPair, "s1|o1", model.ReasonDataChanged, model.PriorityNormal)
			So(err, ShouldBeNil)

			Convey("Then it waits as a separate pending task", func() {
				So(second, ShouldNotEqual, first)
				So(svc.QueueStatus().PendingByPriority["NORMAL"], ShouldEqual, 1)
			})

			Convey("Then the NORMAL bucket is full", func() {
				_, err := svc.EnqueueRecompute(ctx, model.SubjectPair, "s1|o2", model.ReasonDataChanged, model.PriorityNormal)
				So(errors.Is(err, queue.ErrQueueSaturated), ShouldBeTrue)
			})

			Convey("Then the pending task can be cancelled", func() {
				status, ok := svc.Cancel(ctx, second)
				So(ok, ShouldBeTrue)
				So(status, ShouldEqual, model.StatusPending)
				task, _ := svc.Task(second)
				So(task.Outcome, ShouldEqual, model.OutcomeDiscarded)
			})
		})

		Convey("When the processing task is cancelled", func() {
			status, ok := svc.Cancel(ctx, first)
			gate.open()

			Convey("Then it finishes as discarded", func() {
				So(ok, ShouldBeTrue)
				So(status, ShouldEqual, model.StatusProcessing)
				So(waitFor(func() bool {
					task, _ := svc.Task(first)
					return task.Status == model.StatusDone
				}), ShouldBeTrue)
				task, _ := svc.Task(first)
				So(task.Outcome, ShouldEqual, model.OutcomeDiscarded)
			})
		})

		Convey("When an unknown task is cancelled", func() {
			_, ok := svc.Cancel(ctx, "missing")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestService_RequestImmediateScore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service over a slow source", t, func() {
		src := &countingSource{MemorySource: seededSource(), delay: 20 * time.Millisecond}
		svc := service.New(service.WithWorkerCount(1), service.WithSource(src))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)

		Convey("When many previews of one pair run at once", func() {
			var wg sync.WaitGroup
			results := make([]float64, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					score, err := svc.RequestImmediateScore(ctx, "s1", "o1")
					if err == nil {
						results[i] = score.Components.Overall
					}
				}(i)
			}
			wg.Wait()

			Convey("Then they share computations and nothing is stored", func() {
				So(src.fetches.Load(), ShouldBeLessThan, 8)
				for _, r := range results {
					So(r, ShouldEqual, results[0])
				}
				_, ok, _ := svc.GetScore(ctx, "s1", "o1")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the student does not exist", func() {
			_, err := svc.RequestImmediateScore(ctx, "ghost", "o1")

			Convey("Then not found is reported", func() {
				So(errors.Is(err, source.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

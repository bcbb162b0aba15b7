package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchengine/internal/adapters/repository"
	"github.com/okian/matchengine/internal/adapters/source"
	service "github.com/okian/matchengine/internal/app"
	"github.com/okian/matchengine/internal/domain/model"
)

func TestServiceIntegration(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over ten students and five opportunities", t, func() {
		src := source.NewMemorySource()
		for i := 0; i < 10; i++ {
			src.UpsertCandidate(model.CandidateSnapshot{
				StudentID: fmt.Sprintf("s%d", i),
				Skills:    []model.SkillLevel{{SkillID: "go", Proficiency: 1 + i%5, Years: float64(i % 4)}},
			})
		}
		for i := 0; i < 5; i++ {
			src.UpsertOpportunity(model.OpportunitySnapshot{
				OpportunityID: fmt.Sprintf("o%d", i),
				Skills:        []model.SkillRequirement{{SkillID: "go", Weight: 1 + i, Required: i%2 == 0}},
			})
		}
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithWorkerCount(4),
			service.WithSource(src),
			service.WithStore(store),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)

		Convey("When an opportunity change is reported", func() {
			res, err := svc.SubmitMutation(ctx, model.Event{
				EventID:       "evt-1",
				Kind:          model.MutationOpportunityChanged,
				OpportunityID: "o2",
			})
			So(err, ShouldBeNil)
			So(res.TaskID, ShouldNotBeEmpty)

			Convey("Then every eligible student is scored against it", func() {
				So(waitFor(func() bool { return store.Count(ctx) == 10 }), ShouldBeTrue)
			})

			Convey("Then a replay of the event is ignored", func() {
				again, err := svc.SubmitMutation(ctx, model.Event{
					EventID:       "evt-1",
					Kind:          model.MutationOpportunityChanged,
					OpportunityID: "o2",
				})
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
			})
		})

		Convey("When a student change is reported", func() {
			_, err := svc.SubmitMutation(ctx, model.Event{Kind: model.MutationStudentChanged, StudentID: "s3"})
			So(err, ShouldBeNil)

			Convey("Then the student is scored against every opportunity in rank order", func() {
				So(waitFor(func() bool { return store.Count(ctx) == 5 }), ShouldBeTrue)
				top, err := svc.TopN(ctx, "s3", 3)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 3)
				So(top[0].Components.Overall, ShouldBeGreaterThanOrEqualTo, top[1].Components.Overall)
				So(top[1].Components.Overall, ShouldBeGreaterThanOrEqualTo, top[2].Components.Overall)
			})
		})

		Convey("When a full sweep runs", func() {
			n, err := svc.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)

			Convey("Then every pair is scored and the queue empties", func() {
				So(waitFor(func() bool { return store.Count(ctx) == 50 }), ShouldBeTrue)
				So(waitFor(func() bool {
					st := svc.QueueStatus()
					return st.Processing == 0 && st.PendingByPriority["LOW"] == 0
				}), ShouldBeTrue)
				So(svc.QueueStatus().FailedLast24h, ShouldEqual, 0)
			})
		})

		Convey("When the service is drained", func() {
			for i := 0; i < 10; i++ {
				_, err := svc.EnqueueRecompute(ctx, model.SubjectStudent, fmt.Sprintf("s%d", i), model.ReasonDataChanged, model.PriorityNormal)
				So(err, ShouldBeNil)
			}
			remaining := svc.Drain(2 * time.Second)

			Convey("Then all queued work finished and new requests are refused", func() {
				So(remaining, ShouldEqual, 0)
				So(store.Count(ctx), ShouldEqual, 50)
				_, err := svc.EnqueueRecompute(ctx, model.SubjectStudent, "s1", model.ReasonDataChanged, model.PriorityNormal)
				So(errors.Is(err, service.ErrDraining), ShouldBeTrue)
				So(svc.GetStats(ctx)["draining"], ShouldEqual, true)
			})
		})
	})

	Convey("Given a service with a periodic sweep", t, func() {
		src := seededSource()
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithSource(src),
			service.WithStore(store),
			service.WithSweepInterval(20*time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)

		Convey("Then scores appear without any explicit request", func() {
			So(waitFor(func() bool { return store.Count(ctx) == 1 }), ShouldBeTrue)
		})
	})

	Convey("Given ids that contain the pair separator", t, func() {
		src := source.NewMemorySource()
		for _, id := range []string{"s|x", "s"} {
			src.UpsertCandidate(model.CandidateSnapshot{
				StudentID: id,
				Skills:    []model.SkillLevel{{SkillID: "go", Proficiency: 3, Years: 1}},
			})
		}
		for _, id := range []string{"o", "x|o"} {
			src.UpsertOpportunity(model.OpportunitySnapshot{
				OpportunityID: id,
				Skills:        []model.SkillRequirement{{SkillID: "go", Weight: 2}},
			})
		}
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithSource(src),
			service.WithStore(store),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)

		Convey("When one of those pairs is requested explicitly", func() {
			res, err := svc.SubmitMutation(ctx, model.Event{
				Kind:          model.MutationExplicitRequest,
				StudentID:     "s|x",
				OpportunityID: "o",
			})
			So(err, ShouldBeNil)

			Convey("Then exactly that pair is scored", func() {
				So(waitFor(func() bool {
					task, ok := svc.Task(res.TaskID)
					return ok && task.Terminal()
				}), ShouldBeTrue)
				task, _ := svc.Task(res.TaskID)
				So(task.Status, ShouldEqual, model.StatusDone)
				So(task.Outcome, ShouldEqual, model.OutcomeComputed)

				_, ok, err := svc.GetScore(ctx, "s|x", "o")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				_, ok, err = svc.GetScore(ctx, "s", "x|o")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(store.Count(ctx), ShouldEqual, 1)
			})
		})
	})
}

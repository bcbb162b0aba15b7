package loadgen

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchengine/internal/adapters/http/api"
	"github.com/okian/matchengine/internal/adapters/repository"
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

func TestGenerateMutations(t *testing.T) {
	Convey("Given a configuration with replays", t, func() {
		cfg := &Config{Mutations: 200, Students: 5, Opportunities: 3, DuplicateRatio: 0.5}
		cfg.Normalize()
		stats := &Stats{}
		muts := generateMutations(context.Background(), cfg, stats)

		Convey("Then every event stays in the id space", func() {
			So(muts, ShouldHaveLength, 200)
			So(stats.MutationsGenerated, ShouldEqual, 200)
			seen := map[string]int{}
			for _, m := range muts {
				seen[m.EventID]++
				So([]string{kindStudentChanged, kindOpportunityChanged}, ShouldContain, m.Kind)
				if m.Kind == kindStudentChanged {
					So(m.StudentID, ShouldStartWith, "student-")
				} else {
					So(m.OpportunityID, ShouldStartWith, "opportunity-")
				}
			}
			So(len(seen), ShouldBeLessThan, 200)
		})
	})
}

func TestCheckOrdering(t *testing.T) {
	Convey("Given score lists", t, func() {
		So(checkOrdering(nil), ShouldBeNil)
		So(checkOrdering([]ScoreEntry{{Overall: 0.9}, {Overall: 0.4}}), ShouldBeNil)
		So(errors.Is(checkOrdering([]ScoreEntry{{Overall: 0.4}, {Overall: 0.9}}), ErrUnordered), ShouldBeTrue)
		So(errors.Is(checkOrdering([]ScoreEntry{{Overall: 1.2}}), ErrOutOfRange), ShouldBeTrue)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running engine behind an HTTP server", t, func() {
		const students, opportunities = 20, 4
		src := source.NewMemorySource()
		for i := 0; i < students; i++ {
			src.UpsertCandidate(model.CandidateSnapshot{
				StudentID: StudentID(i),
				Skills:    []model.SkillLevel{{SkillID: "go", Proficiency: 1 + i%5, Years: float64(i % 3)}},
			})
		}
		for i := 0; i < opportunities; i++ {
			src.UpsertOpportunity(model.OpportunitySnapshot{
				OpportunityID: OpportunityID(i),
				Skills:        []model.SkillRequirement{{SkillID: "go", Weight: 2, Required: i%2 == 0}},
			})
		}
		store := repository.NewMemoryStore()
		svc := service.New(service.WithWorkerCount(4), service.WithSource(src), service.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Drain(time.Second)

		srv := httptest.NewServer(api.NewServer(svc).Handler(ctx))
		defer srv.Close()

		Convey("When a load run completes", func() {
			stats, err := Run(ctx, &Config{
				BaseURL:        srv.URL,
				Students:       students,
				Opportunities:  opportunities,
				Mutations:      100,
				DuplicateRatio: 0.2,
				Workers:        8,
				IdleTimeout:    10 * time.Second,
				PollInterval:   10 * time.Millisecond,
			})

			Convey("Then every submission is answered and scores verify", func() {
				So(err, ShouldBeNil)
				So(stats.Submitted, ShouldEqual, 100)
				So(stats.Accepted+stats.Duplicate, ShouldEqual, 100)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.StudentsVerified, ShouldEqual, students)
				So(stats.FailedTasks, ShouldEqual, 0)
			})
		})
	})
}

package model_test

import (
	"testing"

	model "github.com/okian/matchengine/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestPairKey(t *testing.T) {
	convey.Convey("Given a pair key", t, func() {
		k := model.PairKey{StudentID: "s-1", OpportunityID: "o-9"}

		convey.Convey("When rendered and parsed back", func() {
			parsed, ok := model.ParsePair(k.String())

			convey.Convey("Then it should round-trip", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(parsed, convey.ShouldResemble, k)
			})
		})

		convey.Convey("When parsing malformed subject ids", func() {
			for _, s := range []string{"", "s-1", "|o-9", "s-1|"} {
				_, ok := model.ParsePair(s)
				convey.So(ok, convey.ShouldBeFalse)
			}
		})
	})
}

func TestTask(t *testing.T) {
	convey.Convey("Given a pair task", t, func() {
		task := model.NewPairTask("s-1", "o-2", model.ReasonDataChanged, model.PriorityNormal)

		convey.Convey("Then its key and pair should reflect the subject", func() {
			convey.So(task.Key(), convey.ShouldEqual, "PAIR:s-1|o-2")
			p, ok := task.Pair()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(p.StudentID, convey.ShouldEqual, "s-1")
			convey.So(p.OpportunityID, convey.ShouldEqual, "o-2")
		})

		convey.Convey("Then a student task should not expose a pair", func() {
			st := model.Task{SubjectType: model.SubjectStudent, SubjectID: "s-1"}
			_, ok := st.Pair()
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("Then it is terminal only once done or failed", func() {
			convey.So(task.Terminal(), convey.ShouldBeFalse)
			task.Status = model.StatusDone
			convey.So(task.Terminal(), convey.ShouldBeTrue)
			task.Status = model.StatusFailed
			convey.So(task.Terminal(), convey.ShouldBeTrue)
		})
	})
}

func TestReasonAndPriority(t *testing.T) {
	convey.Convey("Given wire names", t, func() {
		convey.Convey("Then reasons parse case-insensitively and keep precedence", func() {
			r, ok := model.ParseReason("explicit_request")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(r, convey.ShouldEqual, model.ReasonExplicitRequest)
			convey.So(model.ReasonExplicitRequest, convey.ShouldBeGreaterThan, model.ReasonDataChanged)
			convey.So(model.ReasonDataChanged, convey.ShouldBeGreaterThan, model.ReasonBatchSweep)
			_, ok = model.ParseReason("whenever")
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("Then priorities parse and render", func() {
			p, ok := model.ParsePriority(" high ")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(p, convey.ShouldEqual, model.PriorityHigh)
			convey.So(p.String(), convey.ShouldEqual, "HIGH")
			convey.So(model.Priority(7).Valid(), convey.ShouldBeFalse)
			convey.So(model.Priority(7).String(), convey.ShouldEqual, "UNKNOWN")
		})
	})
}

func TestMatchScoreFresh(t *testing.T) {
	convey.Convey("Given a stored score", t, func() {
		s := model.MatchScore{CandidateVersion: 3, OpportunityVersion: 5, AlgorithmVersion: "v1"}

		convey.Convey("Then it is fresh only when both versions and the algorithm match", func() {
			convey.So(s.Fresh(3, 5, "v1"), convey.ShouldBeTrue)
			convey.So(s.Fresh(4, 5, "v1"), convey.ShouldBeFalse)
			convey.So(s.Fresh(3, 6, "v1"), convey.ShouldBeFalse)
			convey.So(s.Fresh(3, 5, "v2"), convey.ShouldBeFalse)
		})
	})
}

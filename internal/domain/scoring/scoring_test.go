package scoring_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/okian/matchengine/internal/domain/model"
	scoring "github.com/okian/matchengine/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func ptr(f float64) *float64 { return &f }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestComputer_Scenario(t *testing.T) {
	Convey("Given a Python candidate and a Python opportunity", t, func() {
		c := scoring.NewComputer()
		cand := &model.CandidateSnapshot{
			StudentID: "s-1",
			Skills:    []model.SkillLevel{{SkillID: "python", Proficiency: 4, Years: 2}},
			Academic:  model.Academic{GPA: ptr(3.8)},
		}
		opp := &model.OpportunitySnapshot{
			OpportunityID: "o-1",
			Skills:        []model.SkillRequirement{{SkillID: "python", Weight: 5, Required: true}},
			GPAThreshold:  ptr(3.0),
		}

		Convey("When computing the score", func() {
			got := c.Compute(cand, opp)

			Convey("Then the skill score blends proficiency and years", func() {
				So(got.Skill, ShouldAlmostEqual, 0.7*0.8+0.3*(2.0/3.0), scoring.Epsilon)
				So(got.Skill, ShouldAlmostEqual, 0.76, 1e-2)
			})

			Convey("Then the academic score scales toward 1 above the threshold", func() {
				So(got.Academic, ShouldAlmostEqual, 0.96, scoring.Epsilon)
				So(got.Academic, ShouldBeLessThan, 1.0)
			})

			Convey("Then missing experience and preferences use their defaults", func() {
				So(got.Experience, ShouldEqual, 0)
				So(got.Preference, ShouldEqual, scoring.Neutral)
			})

			Convey("Then the overall score follows the fixed weights", func() {
				want := 0.40*got.Skill + 0.25*got.Academic + 0.25*got.Experience + 0.10*got.Preference
				So(got.Overall, ShouldAlmostEqual, want, scoring.Epsilon)
			})

			Convey("Then repeated computation is bit-for-bit identical", func() {
				again := c.Compute(cand, opp)
				So(math.Float64bits(again.Overall), ShouldEqual, math.Float64bits(got.Overall))
				So(again, ShouldResemble, got)
			})
		})
	})
}

func TestComputer_NeutralDefaults(t *testing.T) {
	Convey("Given a candidate with no gpa and no preferences", t, func() {
		c := scoring.NewComputer()
		cand := &model.CandidateSnapshot{StudentID: "s-2"}
		opp := &model.OpportunitySnapshot{
			OpportunityID: "o-2",
			GPAThreshold:  ptr(3.5),
			Industries:    []string{"fintech"},
			Locations:     []string{"Berlin"},
		}

		Convey("Then academic and preference scores are exactly 0.5", func() {
			got := c.Compute(cand, opp)
			So(got.Academic, ShouldEqual, 0.5)
			So(got.Preference, ShouldEqual, 0.5)
		})
	})

	Convey("Given nil snapshots", t, func() {
		Convey("Then computing does not panic and stays in range", func() {
			var got model.Components
			So(func() { got = scoring.NewComputer().Compute(nil, nil) }, ShouldNotPanic)
			So(got.Overall, ShouldBeBetweenOrEqual, 0, 1)
		})
	})
}

func TestSkillScore(t *testing.T) {
	Convey("Given an opportunity with a required and an optional skill", t, func() {
		want := []model.SkillRequirement{
			{SkillID: "go", Weight: 4, Required: true},
			{SkillID: "sql", Weight: 1, Required: false},
		}

		Convey("When the candidate lacks the required skill", func() {
			have := []model.SkillLevel{{SkillID: "sql", Proficiency: 5, Years: 10}}
			got := scoring.SkillScore(have, want)

			Convey("Then the score never exceeds the penalty ceiling", func() {
				ceiling := (5.0 - 4.0) / 5.0
				So(got, ShouldBeLessThanOrEqualTo, ceiling+scoring.Epsilon)
				So(got, ShouldAlmostEqual, ceiling, scoring.Epsilon)
			})
		})

		Convey("When the candidate lacks only the optional skill", func() {
			have := []model.SkillLevel{{SkillID: "GO", Proficiency: 5, Years: 3}}
			got := scoring.SkillScore(have, want)

			Convey("Then the required skill still counts fully", func() {
				So(got, ShouldAlmostEqual, 4.0/5.0, scoring.Epsilon)
			})
		})

		Convey("When weights fall outside 1..5", func() {
			clamped := []model.SkillRequirement{{SkillID: "go", Weight: 0}, {SkillID: "sql", Weight: 99}}
			have := []model.SkillLevel{{SkillID: "go", Proficiency: 5, Years: 3}}

			Convey("Then they are clamped before averaging", func() {
				So(scoring.SkillScore(have, clamped), ShouldAlmostEqual, 1.0/6.0, scoring.Epsilon)
			})
		})

		Convey("When the opportunity lists no skills", func() {
			Convey("Then the score is neutral", func() {
				So(scoring.SkillScore(nil, nil), ShouldEqual, scoring.Neutral)
			})
		})
	})
}

func TestAcademicScore(t *testing.T) {
	Convey("Given gpa thresholds", t, func() {
		Convey("Then a gpa below the threshold is penalized steeply", func() {
			So(scoring.AcademicScore(ptr(2.4), ptr(3.0)), ShouldAlmostEqual, 0.6, scoring.Epsilon)
			So(scoring.AcademicScore(ptr(0.3), ptr(3.0)), ShouldEqual, 0)
		})

		Convey("Then meeting the threshold starts at 0.8 and reaches 1 at 4.0", func() {
			So(scoring.AcademicScore(ptr(3.0), ptr(3.0)), ShouldAlmostEqual, 0.8, scoring.Epsilon)
			So(scoring.AcademicScore(ptr(4.0), ptr(3.0)), ShouldAlmostEqual, 1.0, scoring.Epsilon)
		})

		Convey("Then without a threshold the gpa scales linearly", func() {
			So(scoring.AcademicScore(ptr(3.0), nil), ShouldAlmostEqual, 0.75, scoring.Epsilon)
		})

		Convey("Then out-of-range gpa values are clamped", func() {
			So(scoring.AcademicScore(ptr(5.2), nil), ShouldEqual, 1)
			So(scoring.AcademicScore(ptr(-1), nil), ShouldEqual, 0)
		})
	})
}

func TestExperienceScore(t *testing.T) {
	Convey("Given an opportunity requiring go", t, func() {
		c := scoring.NewComputer()
		want := []model.SkillRequirement{{SkillID: "go", Weight: 3}}

		Convey("Then paid experience at the target scores 0.8", func() {
			e := []model.ExperienceEntry{{Kind: model.ExperiencePaid, SkillIDs: []string{"go"}, DurationMonths: 12}}
			So(c.ExperienceScore(e, want), ShouldAlmostEqual, 0.8, scoring.Epsilon)
		})

		Convey("Then internships count less than paid roles", func() {
			paid := []model.ExperienceEntry{{Kind: model.ExperiencePaid, SkillIDs: []string{"go"}, DurationMonths: 6}}
			intern := []model.ExperienceEntry{{Kind: model.ExperienceInternship, SkillIDs: []string{"go"}, DurationMonths: 6}}
			So(c.ExperienceScore(intern, want), ShouldBeLessThan, c.ExperienceScore(paid, want))
		})

		Convey("Then irrelevant experience does not count", func() {
			e := []model.ExperienceEntry{{Kind: model.ExperiencePaid, SkillIDs: []string{"cobol"}, DurationMonths: 48}}
			So(c.ExperienceScore(e, want), ShouldEqual, 0)
		})

		Convey("Then returns diminish past the target", func() {
			e24 := []model.ExperienceEntry{{Kind: model.ExperiencePaid, SkillIDs: []string{"go"}, DurationMonths: 24}}
			e240 := []model.ExperienceEntry{{Kind: model.ExperiencePaid, SkillIDs: []string{"go"}, DurationMonths: 240}}
			So(c.ExperienceScore(e24, want), ShouldAlmostEqual, 0.9, scoring.Epsilon)
			So(c.ExperienceScore(e240, want), ShouldBeLessThan, 1.0)
			So(c.ExperienceScore(e240, want), ShouldBeGreaterThan, 0.9)
		})

		Convey("Then a custom target changes the normalization", func() {
			short := scoring.NewComputer(scoring.WithTargetMonths(6))
			e := []model.ExperienceEntry{{Kind: model.ExperiencePaid, SkillIDs: []string{"go"}, DurationMonths: 6}}
			So(short.ExperienceScore(e, want), ShouldAlmostEqual, 0.8, scoring.Epsilon)
		})
	})
}

func TestPreferenceScore(t *testing.T) {
	Convey("Given an opportunity with four tags", t, func() {
		opp := &model.OpportunitySnapshot{
			Industries:       []string{"fintech"},
			Locations:        []string{"Berlin"},
			JobTypes:         []string{"full-time"},
			WorkEnvironments: []string{"remote"},
		}

		Convey("Then the score is the matched fraction within each category", func() {
			p := model.Preferences{Industries: []string{"FinTech"}, Locations: []string{"Paris"}, WorkEnvironments: []string{"remote"}}
			So(scoring.PreferenceScore(p, opp), ShouldAlmostEqual, 0.5, scoring.Epsilon)
		})

		Convey("Then tags only match inside their own category", func() {
			p := model.Preferences{Industries: []string{"remote"}}
			So(scoring.PreferenceScore(p, opp), ShouldEqual, 0)
		})
	})
}

func TestScoreBounds(t *testing.T) {
	Convey("Given a grid of inputs", t, func() {
		c := scoring.NewComputer()

		Convey("Then every component and the overall stay within [0,1] and follow the weights", func() {
			for prof := -1; prof <= 7; prof += 2 {
				for _, gpa := range []float64{-1, 0, 2.5, 3.9, 4.5} {
					for _, months := range []float64{-3, 0, 5, 30} {
						cand := &model.CandidateSnapshot{
							Skills:      []model.SkillLevel{{SkillID: "go", Proficiency: prof, Years: months / 12}},
							Academic:    model.Academic{GPA: ptr(gpa)},
							Experience:  []model.ExperienceEntry{{Kind: model.ExperienceProject, SkillIDs: []string{"go", "k8s"}, DurationMonths: months}},
							Preferences: model.Preferences{Locations: []string{"remote"}},
						}
						opp := &model.OpportunitySnapshot{
							Skills:       []model.SkillRequirement{{SkillID: "go", Weight: 5, Required: true}, {SkillID: "k8s", Weight: 2}},
							GPAThreshold: ptr(3.0),
							Locations:    []string{"remote", "NYC"},
						}
						got := c.Compute(cand, opp)
						for _, v := range []float64{got.Skill, got.Academic, got.Experience, got.Preference, got.Overall} {
							So(v, ShouldBeBetweenOrEqual, 0, 1)
						}
						want := 0.40*got.Skill + 0.25*got.Academic + 0.25*got.Experience + 0.10*got.Preference
						So(approx(got.Overall, want), ShouldBeTrue)
					}
				}
			}
		})

		Convey("Then the weights sum to one", func() {
			sum := scoring.WeightSkill + scoring.WeightAcademic + scoring.WeightExperience + scoring.WeightPreference
			So(sum, ShouldAlmostEqual, 1.0, scoring.Epsilon)
			So(fmt.Sprint(scoring.AlgorithmVersion), ShouldNotBeEmpty)
		})
	})
}

// Package scoring computes match scores from candidate and opportunity snapshots.
//
// Computation is pure: no I/O, no shared state, no error path. Incomplete
// input degrades to documented defaults instead of failing.
package scoring

import (
	"math"
	"strings"

	"github.com/okian/matchengine/internal/domain/model"
)

// AlgorithmVersion tags every score produced by this package. Bump it when
// the formulas change so stored scores get recomputed.
const AlgorithmVersion = "match-v1"

// Component weights of the overall score. They sum to 1.
const (
	WeightSkill      = 0.40
	WeightAcademic   = 0.25
	WeightExperience = 0.25
	WeightPreference = 0.10
)

// Neutral is the score used when a dimension has no data to judge.
const Neutral = 0.5

// Epsilon is the tolerance used when comparing scores.
const Epsilon = 1e-9

// Default scoring configuration constants.
const (
	proficiencyShare       = 0.7
	experienceShare        = 0.3
	maxProficiency         = 5.0
	saturationYears        = 3.0
	minSkillWeight         = 1
	maxSkillWeight         = 5
	maxGPA                 = 4.0
	belowThresholdPenalty  = 0.2
	thresholdFloor         = 0.8
	defaultTargetMonths    = 12.0
	experienceAtTarget     = 0.8
	paidExperienceWeight   = 1.0
	internshipWeight       = 0.6
	projectWeight          = 0.4
	unknownExperienceShare = 0.4
)

// Option applies a configuration option to the Computer.
type Option func(*Computer)

// WithTargetMonths sets the relevant-experience duration that scores 0.8.
func WithTargetMonths(months float64) Option {
	return func(c *Computer) {
		if months > 0 {
			c.targetMonths = months
		}
	}
}

// WithExperienceWeights overrides the per-kind experience multipliers.
func WithExperienceWeights(weights map[model.ExperienceKind]float64) Option {
	return func(c *Computer) {
		for k, w := range weights {
			if w >= 0 {
				c.kindWeights[k] = w
			}
		}
	}
}

// Computer scores candidate/opportunity pairs. It is safe for concurrent use
// once constructed.
type Computer struct {
	targetMonths float64
	kindWeights  map[model.ExperienceKind]float64
}

// NewComputer creates a Computer with configuration options.
func NewComputer(opts ...Option) *Computer {
	c := &Computer{
		targetMonths: defaultTargetMonths,
		kindWeights: map[model.ExperienceKind]float64{
			model.ExperiencePaid:       paidExperienceWeight,
			model.ExperienceInternship: internshipWeight,
			model.ExperienceProject:    projectWeight,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute returns the component and overall scores of a pair.
func (c *Computer) Compute(cand *model.CandidateSnapshot, opp *model.OpportunitySnapshot) model.Components {
	if cand == nil {
		cand = &model.CandidateSnapshot{}
	}
	if opp == nil {
		opp = &model.OpportunitySnapshot{}
	}
	comp := model.Components{
		Skill:      SkillScore(cand.Skills, opp.Skills),
		Academic:   AcademicScore(cand.Academic.GPA, opp.GPAThreshold),
		Experience: c.ExperienceScore(cand.Experience, opp.Skills),
		Preference: PreferenceScore(cand.Preferences, opp),
	}
	comp.Overall = Combine(comp)
	return comp
}

// Combine blends the four components with the fixed weights.
func Combine(c model.Components) float64 {
	return clamp01(WeightSkill*clamp01(c.Skill) +
		WeightAcademic*clamp01(c.Academic) +
		WeightExperience*clamp01(c.Experience) +
		WeightPreference*clamp01(c.Preference))
}

// SkillScore is the weight-averaged proficiency factor over the
// opportunity's requirements. Missing skills contribute zero, so a missing
// required skill caps the score at (total weight - its weight) / total weight.
func SkillScore(have []model.SkillLevel, want []model.SkillRequirement) float64 {
	if len(want) == 0 {
		return Neutral
	}
	levels := make(map[string]model.SkillLevel, len(have))
	for _, s := range have {
		levels[normalizeTag(s.SkillID)] = s
	}
	var total, sum float64
	for _, req := range want {
		w := float64(clampInt(req.Weight, minSkillWeight, maxSkillWeight))
		total += w
		lvl, ok := levels[normalizeTag(req.SkillID)]
		if !ok {
			continue
		}
		sum += w * proficiencyFactor(lvl)
	}
	return clamp01(sum / total)
}

func proficiencyFactor(s model.SkillLevel) float64 {
	prof := clamp01(float64(s.Proficiency) / maxProficiency)
	years := 0.0
	if s.Years > 0 {
		years = math.Min(s.Years/saturationYears, 1)
	}
	return proficiencyShare*prof + experienceShare*years
}

// AcademicScore scores a GPA against an optional threshold. A missing GPA
// scores Neutral.
func AcademicScore(gpa, threshold *float64) float64 {
	if gpa == nil || math.IsNaN(*gpa) {
		return Neutral
	}
	g := math.Max(0, math.Min(*gpa, maxGPA))
	if threshold == nil || *threshold <= 0 || math.IsNaN(*threshold) {
		return clamp01(g / maxGPA)
	}
	t := math.Min(*threshold, maxGPA)
	if g < t {
		return clamp01(g/t - belowThresholdPenalty)
	}
	if t >= maxGPA {
		return 1
	}
	return clamp01(thresholdFloor + (1-thresholdFloor)*(g-t)/(maxGPA-t))
}

// ExperienceScore weighs experience durations by skill overlap with the
// opportunity and entry kind, then normalizes with diminishing returns past
// the target duration.
func (c *Computer) ExperienceScore(entries []model.ExperienceEntry, want []model.SkillRequirement) float64 {
	wanted := make(map[string]struct{}, len(want))
	for _, r := range want {
		wanted[normalizeTag(r.SkillID)] = struct{}{}
	}
	var months float64
	for _, e := range entries {
		if e.DurationMonths <= 0 {
			continue
		}
		months += e.DurationMonths * overlap(e.SkillIDs, wanted) * c.kindWeight(e.Kind)
	}
	ratio := months / c.targetMonths
	if ratio <= 1 {
		return clamp01(experienceAtTarget * ratio)
	}
	return clamp01(experienceAtTarget + (1-experienceAtTarget)*(1-1/ratio))
}

func (c *Computer) kindWeight(k model.ExperienceKind) float64 {
	if w, ok := c.kindWeights[k]; ok {
		return w
	}
	return unknownExperienceShare
}

// overlap is the share of an entry's skills the opportunity asks for. With no
// requirements every entry counts fully.
func overlap(skills []string, wanted map[string]struct{}) float64 {
	if len(wanted) == 0 {
		return 1
	}
	if len(skills) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(skills))
	hits := 0
	for _, s := range skills {
		n := normalizeTag(s)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if _, ok := wanted[n]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}

// PreferenceScore is the fraction of the opportunity's tags matched by the
// candidate's preferences in the same category.
func PreferenceScore(p model.Preferences, opp *model.OpportunitySnapshot) float64 {
	if p.Empty() {
		return Neutral
	}
	categories := []struct {
		offered []string
		liked   []string
	}{
		{opp.Industries, p.Industries},
		{opp.Locations, p.Locations},
		{opp.JobTypes, p.JobTypes},
		{opp.WorkEnvironments, p.WorkEnvironments},
	}
	var offered, matched int
	for _, cat := range categories {
		liked := tagSet(cat.liked)
		for tag := range tagSet(cat.offered) {
			offered++
			if _, ok := liked[tag]; ok {
				matched++
			}
		}
	}
	if offered == 0 {
		return Neutral
	}
	return clamp01(float64(matched) / float64(offered))
}

func tagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if n := normalizeTag(t); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func normalizeTag(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package model

import "time"

// EntityType names a versioned entity kind in the data layer.
type EntityType string

// Entity types.
const (
	EntityStudent     EntityType = "student"
	EntityOpportunity EntityType = "opportunity"
)

// SkillLevel is a candidate's level in one skill.
type SkillLevel struct {
	SkillID     string  `json:"skill_id"`
	Proficiency int     `json:"proficiency"` // 1..5
	Years       float64 `json:"years"`
}

// Academic is a candidate's academic record. GPA is nil when unknown.
type Academic struct {
	GPA            *float64  `json:"gpa,omitempty"`
	GraduationDate time.Time `json:"graduation_date,omitempty"`
}

// ExperienceKind classifies an experience entry.
type ExperienceKind string

// Experience kinds.
const (
	ExperiencePaid       ExperienceKind = "paid"
	ExperienceInternship ExperienceKind = "internship"
	ExperienceProject    ExperienceKind = "project"
)

// ExperienceEntry is one job, internship or project.
type ExperienceEntry struct {
	Kind           ExperienceKind `json:"kind"`
	SkillIDs       []string       `json:"skill_ids"`
	DurationMonths float64        `json:"duration_months"`
}

// Preferences holds tag sets per category.
type Preferences struct {
	Industries       []string `json:"industries,omitempty"`
	Locations        []string `json:"locations,omitempty"`
	JobTypes         []string `json:"job_types,omitempty"`
	WorkEnvironments []string `json:"work_environments,omitempty"`
}

// Empty reports whether no tag is set in any category.
func (p Preferences) Empty() bool {
	return len(p.Industries)+len(p.Locations)+len(p.JobTypes)+len(p.WorkEnvironments) == 0
}

// CandidateSnapshot is a read-only projection of a student profile.
type CandidateSnapshot struct {
	StudentID   string            `json:"student_id"`
	Version     int64             `json:"version"`
	Skills      []SkillLevel      `json:"skills"`
	Academic    Academic          `json:"academic"`
	Experience  []ExperienceEntry `json:"experience"`
	Preferences Preferences       `json:"preferences"`
}

// SkillRequirement is one skill an opportunity asks for.
type SkillRequirement struct {
	SkillID  string `json:"skill_id"`
	Weight   int    `json:"weight"` // 1..5
	Required bool   `json:"required"`
}

// OpportunitySnapshot is a read-only projection of a posted opportunity.
type OpportunitySnapshot struct {
	OpportunityID    string             `json:"opportunity_id"`
	Version          int64              `json:"version"`
	Skills           []SkillRequirement `json:"skills"`
	GPAThreshold     *float64           `json:"gpa_threshold,omitempty"`
	JobTypes         []string           `json:"job_types,omitempty"`
	Industries       []string           `json:"industries,omitempty"`
	Locations        []string           `json:"locations,omitempty"`
	WorkEnvironments []string           `json:"work_environments,omitempty"`
	Technical        bool               `json:"technical"`
}

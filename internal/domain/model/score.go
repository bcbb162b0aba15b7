package model

import "time"

// Components are the per-dimension scores and their weighted blend.
type Components struct {
	Skill      float64 `json:"skill"`
	Academic   float64 `json:"academic"`
	Experience float64 `json:"experience"`
	Preference float64 `json:"preference"`
	Overall    float64 `json:"overall"`
}

// MatchScore is the stored score for one pair.
type MatchScore struct {
	StudentID          string     `json:"student_id"`
	OpportunityID      string     `json:"opportunity_id"`
	Components         Components `json:"components"`
	CandidateVersion   int64      `json:"candidate_version"`
	OpportunityVersion int64      `json:"opportunity_version"`
	ComputedAt         time.Time  `json:"computed_at"`
	AlgorithmVersion   string     `json:"algorithm_version"`
}

// Pair returns the key of the score.
func (s *MatchScore) Pair() PairKey {
	return PairKey{StudentID: s.StudentID, OpportunityID: s.OpportunityID}
}

// Fresh reports whether s was computed from the given data versions by the
// given algorithm.
func (s *MatchScore) Fresh(candidateVersion, opportunityVersion int64, algorithm string) bool {
	return s.CandidateVersion == candidateVersion &&
		s.OpportunityVersion == opportunityVersion &&
		s.AlgorithmVersion == algorithm
}

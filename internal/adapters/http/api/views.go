package api

import (
	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/internal/domain/types"
)

func scoreView(s *model.MatchScore) types.ScoreView {
	return types.ScoreView{
		StudentID:          s.StudentID,
		OpportunityID:      s.OpportunityID,
		Skill:              s.Components.Skill,
		Academic:           s.Components.Academic,
		Experience:         s.Components.Experience,
		Preference:         s.Components.Preference,
		Overall:            s.Components.Overall,
		CandidateVersion:   s.CandidateVersion,
		OpportunityVersion: s.OpportunityVersion,
		ComputedAt:         s.ComputedAt,
		AlgorithmVersion:   s.AlgorithmVersion,
	}
}

func taskView(t *model.Task) types.TaskView {
	return types.TaskView{
		TaskID:      t.ID,
		SubjectType: string(t.SubjectType),
		SubjectID:   t.SubjectID,
		Reason:      t.Reason.String(),
		Priority:    t.Priority.String(),
		Status:      string(t.Status),
		Attempts:    t.Attempts,
		Outcome:     string(t.Outcome),
		LastError:   t.LastError,
		CreatedAt:   t.CreatedAt,
	}
}

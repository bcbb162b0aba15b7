package source

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/okian/matchengine/internal/domain/model"
)

type opportunityRecord struct {
	snap     model.OpportunitySnapshot
	active   bool
	eligible []string // nil means every student
}

// MemorySource is an in-process Source. Every upsert bumps the entity's
// data version. Versions survive deletion so a re-created entity never
// reuses a version of its previous life.
type MemorySource struct {
	mu            sync.RWMutex
	candidates    map[string]model.CandidateSnapshot
	opportunities map[string]*opportunityRecord
	lastVersion   map[string]int64 // "<entity>:<id>" -> highest version issued
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		candidates:    make(map[string]model.CandidateSnapshot),
		opportunities: make(map[string]*opportunityRecord),
		lastVersion:   make(map[string]int64),
	}
}

func (m *MemorySource) bump(entity model.EntityType, id string) int64 {
	key := string(entity) + ":" + id
	m.lastVersion[key]++
	return m.lastVersion[key]
}

// UpsertCandidate stores a candidate and returns its new version.
func (m *MemorySource) UpsertCandidate(c model.CandidateSnapshot) int64 { //nolint:gocritic // stored by value
	m.mu.Lock()
	defer m.mu.Unlock()

	c.Version = m.bump(model.EntityStudent, c.StudentID)
	m.candidates[c.StudentID] = cloneCandidate(c)
	return c.Version
}

// DeleteCandidate removes a candidate.
func (m *MemorySource) DeleteCandidate(studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.candidates, studentID)
}

// UpsertOpportunity stores an active opportunity and returns its new version.
func (m *MemorySource) UpsertOpportunity(o model.OpportunitySnapshot) int64 { //nolint:gocritic // stored by value
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.opportunities[o.OpportunityID]
	if !ok {
		rec = &opportunityRecord{active: true}
		m.opportunities[o.OpportunityID] = rec
	}
	o.Version = m.bump(model.EntityOpportunity, o.OpportunityID)
	rec.snap = cloneOpportunity(o)
	return o.Version
}

// DeleteOpportunity removes an opportunity.
func (m *MemorySource) DeleteOpportunity(opportunityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.opportunities, opportunityID)
}

// SetActive opens or closes an opportunity for matching.
func (m *MemorySource) SetActive(opportunityID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.opportunities[opportunityID]
	if !ok {
		return fmt.Errorf("opportunity %s: %w", opportunityID, ErrNotFound)
	}
	rec.active = active
	return nil
}

// SetEligible restricts which students an opportunity is matched against.
// A nil list makes every student eligible again.
func (m *MemorySource) SetEligible(opportunityID string, studentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.opportunities[opportunityID]
	if !ok {
		return fmt.Errorf("opportunity %s: %w", opportunityID, ErrNotFound)
	}
	rec.eligible = slices.Clone(studentIDs)
	return nil
}

// FetchCandidate implements Source.
func (m *MemorySource) FetchCandidate(_ context.Context, studentID string) (*model.CandidateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.candidates[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	}
	out := cloneCandidate(c)
	return &out, nil
}

// FetchOpportunity implements Source.
func (m *MemorySource) FetchOpportunity(_ context.Context, opportunityID string) (*model.OpportunitySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.opportunities[opportunityID]
	if !ok {
		return nil, fmt.Errorf("opportunity %s: %w", opportunityID, ErrNotFound)
	}
	out := cloneOpportunity(rec.snap)
	return &out, nil
}

// ListActiveOpportunityIDs implements Source.
func (m *MemorySource) ListActiveOpportunityIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.opportunities))
	for id, rec := range m.opportunities {
		if rec.active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListEligibleStudentIDs implements Source.
func (m *MemorySource) ListEligibleStudentIDs(_ context.Context, opportunityID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.opportunities[opportunityID]
	if !ok {
		return nil, fmt.Errorf("opportunity %s: %w", opportunityID, ErrNotFound)
	}
	var ids []string
	if rec.eligible != nil {
		for _, id := range rec.eligible {
			if _, exists := m.candidates[id]; exists {
				ids = append(ids, id)
			}
		}
	} else {
		ids = make([]string, 0, len(m.candidates))
		for id := range m.candidates {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CurrentDataVersion implements Source.
func (m *MemorySource) CurrentDataVersion(_ context.Context, entity model.EntityType, id string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch entity {
	case model.EntityStudent:
		if c, ok := m.candidates[id]; ok {
			return c.Version, nil
		}
	case model.EntityOpportunity:
		if rec, ok := m.opportunities[id]; ok {
			return rec.snap.Version, nil
		}
	default:
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}
	return 0, fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

func cloneCandidate(c model.CandidateSnapshot) model.CandidateSnapshot { //nolint:gocritic // value copy is the point
	c.Skills = slices.Clone(c.Skills)
	if c.Academic.GPA != nil {
		g := *c.Academic.GPA
		c.Academic.GPA = &g
	}
	exp := make([]model.ExperienceEntry, len(c.Experience))
	for i, e := range c.Experience {
		e.SkillIDs = slices.Clone(e.SkillIDs)
		exp[i] = e
	}
	c.Experience = exp
	c.Preferences = model.Preferences{
		Industries:       slices.Clone(c.Preferences.Industries),
		Locations:        slices.Clone(c.Preferences.Locations),
		JobTypes:         slices.Clone(c.Preferences.JobTypes),
		WorkEnvironments: slices.Clone(c.Preferences.WorkEnvironments),
	}
	return c
}

func cloneOpportunity(o model.OpportunitySnapshot) model.OpportunitySnapshot { //nolint:gocritic // value copy is the point
	o.Skills = slices.Clone(o.Skills)
	if o.GPAThreshold != nil {
		t := *o.GPAThreshold
		o.GPAThreshold = &t
	}
	o.JobTypes = slices.Clone(o.JobTypes)
	o.Industries = slices.Clone(o.Industries)
	o.Locations = slices.Clone(o.Locations)
	o.WorkEnvironments = slices.Clone(o.WorkEnvironments)
	return o
}

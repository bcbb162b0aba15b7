package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/metrics"
)

// scoreRow is the relational shape of a MatchScore.
type scoreRow struct {
	StudentID          string    `gorm:"column:student_id;primaryKey;size:128;index:idx_match_scores_student_overall,priority:1"`
	OpportunityID      string    `gorm:"column:opportunity_id;primaryKey;size:128"`
	Skill              float64   `gorm:"column:skill;not null"`
	Academic           float64   `gorm:"column:academic;not null"`
	Experience         float64   `gorm:"column:experience;not null"`
	Preference         float64   `gorm:"column:preference;not null"`
	Overall            float64   `gorm:"column:overall;not null;index:idx_match_scores_student_overall,priority:2,sort:desc"`
	CandidateVersion   int64     `gorm:"column:candidate_version;not null"`
	OpportunityVersion int64     `gorm:"column:opportunity_version;not null"`
	AlgorithmVersion   string    `gorm:"column:algorithm_version;size:32;not null"`
	ComputedAt         time.Time `gorm:"column:computed_at;not null"`
}

func (scoreRow) TableName() string { return "match_scores" }

func toRow(s *model.MatchScore) scoreRow {
	return scoreRow{
		StudentID:          s.StudentID,
		OpportunityID:      s.OpportunityID,
		Skill:              s.Components.Skill,
		Academic:           s.Components.Academic,
		Experience:         s.Components.Experience,
		Preference:         s.Components.Preference,
		Overall:            s.Components.Overall,
		CandidateVersion:   s.CandidateVersion,
		OpportunityVersion: s.OpportunityVersion,
		AlgorithmVersion:   s.AlgorithmVersion,
		ComputedAt:         s.ComputedAt.UTC(),
	}
}

func (r *scoreRow) toModel() model.MatchScore {
	return model.MatchScore{
		StudentID:     r.StudentID,
		OpportunityID: r.OpportunityID,
		Components: model.Components{
			Skill:      r.Skill,
			Academic:   r.Academic,
			Experience: r.Experience,
			Preference: r.Preference,
			Overall:    r.Overall,
		},
		CandidateVersion:   r.CandidateVersion,
		OpportunityVersion: r.OpportunityVersion,
		AlgorithmVersion:   r.AlgorithmVersion,
		ComputedAt:         r.ComputedAt,
	}
}

// GormStore is a relational Store.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres opens a gorm connection on the Postgres driver.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open score database: %w", err)
	}
	return db, nil
}

// NewGormStore migrates the score table and returns the store.
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&scoreRow{}); err != nil {
		return nil, fmt.Errorf("migrate match_scores: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Get implements Store.
func (g *GormStore) Get(ctx context.Context, pair model.PairKey) (model.MatchScore, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("get", float64(time.Since(start).Microseconds())/1000)
	}()

	var row scoreRow
	err := g.db.WithContext(ctx).
		Where("student_id = ? AND opportunity_id = ?", pair.StudentID, pair.OpportunityID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.MatchScore{}, fmt.Errorf("%s: %w", pair, ErrNotFound)
	}
	if err != nil {
		return model.MatchScore{}, fmt.Errorf("get score %s: %w", pair, err)
	}
	return row.toModel(), nil
}

// Put implements Store as an upsert on the pair key.
func (g *GormStore) Put(ctx context.Context, score model.MatchScore) error { //nolint:gocritic // stored by value
	if score.StudentID == "" || score.OpportunityID == "" {
		return fmt.Errorf("%w: empty pair", ErrInvalidScore)
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("put", float64(time.Since(start).Microseconds())/1000)
	}()

	row := toRow(&score)
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "opportunity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"skill",
			"academic",
			"experience",
			"preference",
			"overall",
			"candidate_version",
			"opportunity_version",
			"algorithm_version",
			"computed_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put score %s: %w", score.Pair(), err)
	}
	return nil
}

// TopN implements Store.
func (g *GormStore) TopN(ctx context.Context, studentID string, n int) ([]model.MatchScore, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	var rows []scoreRow
	err := g.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("overall DESC").
		Order("opportunity_id ASC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top scores of %s: %w", studentID, err)
	}
	out := make([]model.MatchScore, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// Count implements Store. Errors count as zero.
func (g *GormStore) Count(ctx context.Context) int {
	var n int64
	if err := g.db.WithContext(ctx).Model(&scoreRow{}).Count(&n).Error; err != nil {
		return 0
	}
	return int(n)
}

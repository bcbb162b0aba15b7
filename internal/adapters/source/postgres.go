package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/metrics"
)

// Schema creates the tables PostgresSource reads. Profile writers own the
// data; the engine only reads it.
const Schema = `
CREATE TABLE IF NOT EXISTS students (
	id                TEXT PRIMARY KEY,
	version           BIGINT NOT NULL DEFAULT 1,
	skills            JSONB NOT NULL DEFAULT '[]',
	gpa               DOUBLE PRECISION,
	graduation_date   DATE,
	experience        JSONB NOT NULL DEFAULT '[]',
	industries        TEXT[] NOT NULL DEFAULT '{}',
	locations         TEXT[] NOT NULL DEFAULT '{}',
	job_types         TEXT[] NOT NULL DEFAULT '{}',
	work_environments TEXT[] NOT NULL DEFAULT '{}',
	deleted_at        TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS opportunities (
	id                TEXT PRIMARY KEY,
	version           BIGINT NOT NULL DEFAULT 1,
	skills            JSONB NOT NULL DEFAULT '[]',
	gpa_threshold     DOUBLE PRECISION,
	job_types         TEXT[] NOT NULL DEFAULT '{}',
	industries        TEXT[] NOT NULL DEFAULT '{}',
	locations         TEXT[] NOT NULL DEFAULT '{}',
	work_environments TEXT[] NOT NULL DEFAULT '{}',
	technical         BOOLEAN NOT NULL DEFAULT FALSE,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	deleted_at        TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS opportunity_eligibility (
	opportunity_id TEXT NOT NULL,
	student_id     TEXT NOT NULL,
	PRIMARY KEY (opportunity_id, student_id)
);`

const (
	queryCandidate = `
		SELECT version, skills, gpa, graduation_date, experience,
		       industries, locations, job_types, work_environments
		FROM students WHERE id = $1 AND deleted_at IS NULL`

	queryOpportunity = `
		SELECT version, skills, gpa_threshold, job_types, industries,
		       locations, work_environments, technical
		FROM opportunities WHERE id = $1 AND deleted_at IS NULL`

	queryActiveOpportunities = `
		SELECT id FROM opportunities
		WHERE active AND deleted_at IS NULL ORDER BY id`

	queryEligibleStudents = `
		SELECT s.id FROM students s
		WHERE s.deleted_at IS NULL
		  AND (NOT EXISTS (SELECT 1 FROM opportunity_eligibility e WHERE e.opportunity_id = $1)
		       OR EXISTS (SELECT 1 FROM opportunity_eligibility e
		                  WHERE e.opportunity_id = $1 AND e.student_id = s.id))
		ORDER BY s.id`

	queryStudentVersion     = `SELECT version FROM students WHERE id = $1 AND deleted_at IS NULL`
	queryOpportunityVersion = `SELECT version FROM opportunities WHERE id = $1 AND deleted_at IS NULL`
)

// PostgresSource reads snapshots from Postgres through database/sql.
type PostgresSource struct {
	db *sql.DB
}

// OpenPostgres opens a lib/pq connection pool.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewPostgresSource wraps an open pool.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// EnsureSchema creates missing tables.
func (p *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create source schema: %w", err)
	}
	return nil
}

// Ping tests the database connection.
func (p *PostgresSource) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// FetchCandidate implements Source.
func (p *PostgresSource) FetchCandidate(ctx context.Context, studentID string) (*model.CandidateSnapshot, error) {
	c := model.CandidateSnapshot{StudentID: studentID}
	var skills, exp []byte
	var gpa sql.NullFloat64
	var graduation sql.NullTime
	var ind, loc, jt, we pq.StringArray
	err := p.db.QueryRowContext(ctx, queryCandidate, studentID).Scan(
		&c.Version, &skills, &gpa, &graduation, &exp, &ind, &loc, &jt, &we,
	)
	if err != nil {
		return nil, p.wrap(model.EntityStudent, studentID, err)
	}
	if err := json.Unmarshal(skills, &c.Skills); err != nil {
		return nil, fmt.Errorf("decode skills of student %s: %w", studentID, err)
	}
	if err := json.Unmarshal(exp, &c.Experience); err != nil {
		return nil, fmt.Errorf("decode experience of student %s: %w", studentID, err)
	}
	if gpa.Valid {
		g := gpa.Float64
		c.Academic.GPA = &g
	}
	if graduation.Valid {
		c.Academic.GraduationDate = graduation.Time
	}
	c.Preferences = model.Preferences{
		Industries:       ind,
		Locations:        loc,
		JobTypes:         jt,
		WorkEnvironments: we,
	}
	return &c, nil
}

// FetchOpportunity implements Source.
func (p *PostgresSource) FetchOpportunity(ctx context.Context, opportunityID string) (*model.OpportunitySnapshot, error) {
	o := model.OpportunitySnapshot{OpportunityID: opportunityID}
	var skills []byte
	var threshold sql.NullFloat64
	var jt, ind, loc, we pq.StringArray
	err := p.db.QueryRowContext(ctx, queryOpportunity, opportunityID).Scan(
		&o.Version, &skills, &threshold, &jt, &ind, &loc, &we, &o.Technical,
	)
	if err != nil {
		return nil, p.wrap(model.EntityOpportunity, opportunityID, err)
	}
	if err := json.Unmarshal(skills, &o.Skills); err != nil {
		return nil, fmt.Errorf("decode skills of opportunity %s: %w", opportunityID, err)
	}
	if threshold.Valid {
		t := threshold.Float64
		o.GPAThreshold = &t
	}
	o.JobTypes, o.Industries, o.Locations, o.WorkEnvironments = jt, ind, loc, we
	return &o, nil
}

// ListActiveOpportunityIDs implements Source.
func (p *PostgresSource) ListActiveOpportunityIDs(ctx context.Context) ([]string, error) {
	return p.ids(ctx, model.EntityOpportunity, queryActiveOpportunities)
}

// ListEligibleStudentIDs implements Source.
func (p *PostgresSource) ListEligibleStudentIDs(ctx context.Context, opportunityID string) ([]string, error) {
	if _, err := p.CurrentDataVersion(ctx, model.EntityOpportunity, opportunityID); err != nil {
		return nil, err
	}
	return p.ids(ctx, model.EntityStudent, queryEligibleStudents, opportunityID)
}

// CurrentDataVersion implements Source.
func (p *PostgresSource) CurrentDataVersion(ctx context.Context, entity model.EntityType, id string) (int64, error) {
	var q string
	switch entity {
	case model.EntityStudent:
		q = queryStudentVersion
	case model.EntityOpportunity:
		q = queryOpportunityVersion
	default:
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}
	var v int64
	if err := p.db.QueryRowContext(ctx, q, id).Scan(&v); err != nil {
		return 0, p.wrap(entity, id, err)
	}
	return v, nil
}

func (p *PostgresSource) ids(ctx context.Context, entity model.EntityType, q string, args ...any) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		metrics.RecordSourceError(string(entity))
		return nil, fmt.Errorf("list %s ids: %w", entity, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", entity, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordSourceError(string(entity))
		return nil, fmt.Errorf("list %s ids: %w", entity, err)
	}
	return out, nil
}

func (p *PostgresSource) wrap(entity model.EntityType, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	metrics.RecordSourceError(string(entity))
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

package source

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/matchengine/internal/domain/model"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresSource_FetchCandidate(t *testing.T) {
	db, mock := setupMockDB(t)
	src := NewPostgresSource(db)
	grad := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM students WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"version", "skills", "gpa", "graduation_date", "experience",
			"industries", "locations", "job_types", "work_environments",
		}).AddRow(
			int64(7),
			[]byte(`[{"skill_id":"go","proficiency":4,"years":2}]`),
			3.5,
			grad,
			[]byte(`[{"kind":"paid","skill_ids":["go"],"duration_months":12}]`),
			[]byte(`{fintech}`),
			[]byte(`{berlin,remote}`),
			[]byte(`{}`),
			[]byte(`{hybrid}`),
		))

	c, err := src.FetchCandidate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Version)
	assert.Equal(t, "s1", c.StudentID)
	require.Len(t, c.Skills, 1)
	assert.Equal(t, 4, c.Skills[0].Proficiency)
	require.NotNil(t, c.Academic.GPA)
	assert.InDelta(t, 3.5, *c.Academic.GPA, 1e-9)
	assert.True(t, c.Academic.GraduationDate.Equal(grad))
	require.Len(t, c.Experience, 1)
	assert.Equal(t, model.ExperiencePaid, c.Experience[0].Kind)
	assert.Equal(t, []string{"berlin", "remote"}, c.Preferences.Locations)
	assert.Empty(t, c.Preferences.JobTypes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_FetchCandidateNullGPA(t *testing.T) {
	db, mock := setupMockDB(t)
	src := NewPostgresSource(db)

	mock.ExpectQuery(`FROM students WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"version", "skills", "gpa", "graduation_date", "experience",
			"industries", "locations", "job_types", "work_environments",
		}).AddRow(int64(1), []byte(`[]`), nil, nil, []byte(`[]`), []byte(`{}`), []byte(`{}`), []byte(`{}`), []byte(`{}`)))

	c, err := src.FetchCandidate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, c.Academic.GPA)
	assert.True(t, c.Preferences.Empty())
}

func TestPostgresSource_NotFoundAndTransient(t *testing.T) {
	db, mock := setupMockDB(t)
	src := NewPostgresSource(db)

	mock.ExpectQuery(`FROM opportunities WHERE id = \$1`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM opportunities WHERE id = \$1`).
		WithArgs("o1").
		WillReturnError(errors.New("connection reset"))

	_, err := src.FetchOpportunity(context.Background(), "gone")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = src.FetchOpportunity(context.Background(), "o1")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_FetchOpportunity(t *testing.T) {
	db, mock := setupMockDB(t)
	src := NewPostgresSource(db)

	mock.ExpectQuery(`FROM opportunities WHERE id = \$1`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{
			"version", "skills", "gpa_threshold", "job_types", "industries",
			"locations", "work_environments", "technical",
		}).AddRow(
			int64(3),
			[]byte(`[{"skill_id":"go","weight":4,"required":true}]`),
			3.0,
			[]byte(`{full_time}`),
			[]byte(`{fintech}`),
			[]byte(`{berlin}`),
			[]byte(`{remote}`),
			true,
		))

	o, err := src.FetchOpportunity(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), o.Version)
	require.NotNil(t, o.GPAThreshold)
	assert.InDelta(t, 3.0, *o.GPAThreshold, 1e-9)
	assert.True(t, o.Skills[0].Required)
	assert.Equal(t, []string{"full_time"}, o.JobTypes)
	assert.True(t, o.Technical)
}

func TestPostgresSource_ListAndVersion(t *testing.T) {
	db, mock := setupMockDB(t)
	src := NewPostgresSource(db)

	mock.ExpectQuery(`SELECT id FROM opportunities`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o1").AddRow("o2"))
	mock.ExpectQuery(`SELECT version FROM opportunities WHERE id = \$1`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))
	mock.ExpectQuery(`SELECT s.id FROM students s`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2").AddRow("s3"))
	mock.ExpectQuery(`SELECT version FROM students WHERE id = \$1`).
		WithArgs("s9").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(11)))

	ctx := context.Background()
	ids, err := src.ListActiveOpportunityIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, ids)

	students, err := src.ListEligibleStudentIDs(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, students)

	v, err := src.CurrentDataVersion(ctx, model.EntityStudent, "s9")
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)

	_, err = src.CurrentDataVersion(ctx, "team", "x")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_EnsureSchema(t *testing.T) {
	db, mock := setupMockDB(t)
	src := NewPostgresSource(db)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS students`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, src.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/models"
	"github.com/soaringjerry/Coursepulse/internal/privacy"
	"github.com/soaringjerry/Coursepulse/internal/sheets"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	repo      *store.Repository
	clock     *clock
	courses   *CourseService
	stats     *StatsService
	responses *ResponseService
	analyses  *AnalysisService
	analytics *AnalyticsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, sheets.NewMemory())
}

func newFixtureOn(t *testing.T, backend sheets.Backend) *fixture {
	t.Helper()
	repo := store.NewRepository(store.New(backend, store.Options{Logger: quietLog}))
	_, err := repo.Guard.EnsureSchema(context.Background())
	require.NoError(t, err)

	codec, err := privacy.NewCodec("test-salt")
	require.NoError(t, err)
	clk := &clock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	f := &fixture{repo: repo, clock: clk}
	f.courses = NewCourseService(repo, quietLog)
	f.courses.now = clk.now
	f.stats = NewStatsService(repo, quietLog)
	f.stats.now = clk.now
	f.responses = NewResponseService(repo, codec, f.stats, quietLog)
	f.responses.now = clk.now
	f.analyses = NewAnalysisService(repo, quietLog)
	f.analyses.now = clk.now
	f.analytics = NewAnalyticsService(repo)
	return f
}

// seedC1 creates the three-question course used across the tests: a 1-5
// rating, an A/B single choice and a required short text of 100 chars.
func (f *fixture) seedC1(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.courses.SaveCourse(ctx, models.Course{ID: "C1", Title: "Go Basics", Status: models.CourseActive})
	require.NoError(t, err)
	_, err = f.courses.SaveSettings(ctx, models.SurveySettings{CourseID: "C1", IsActive: true})
	require.NoError(t, err)
	for _, q := range []models.Question{
		{ID: "q1", CourseID: "C1", Order: 1, Text: "Overall rating", Type: models.Rating, RatingMax: 5},
		{ID: "q2", CourseID: "C1", Order: 2, Text: "Pace", Type: models.SingleChoice, ChoicesJSON: `["A","B"]`},
		{ID: "q3", CourseID: "C1", Order: 3, Text: "Comments", Type: models.ShortText, IsRequired: true, MaxChars: 100},
	} {
		_, err := f.courses.SaveQuestion(ctx, q)
		require.NoError(t, err)
	}
}

func (f *fixture) responseRows(t *testing.T, courseID string) []models.Response {
	t.Helper()
	rs, err := f.repo.ListResponses(context.Background(), courseID, "")
	require.NoError(t, err)
	return rs
}

func requireCode(t *testing.T, err error, code ErrorCode) *ServiceError {
	t.Helper()
	require.Error(t, err)
	se, ok := AsServiceError(err)
	require.True(t, ok, "expected ServiceError, got %T: %v", err, err)
	require.Equal(t, code, se.Code, se.Message)
	return se
}

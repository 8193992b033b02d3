package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/models"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

func TestSaveCourseKeepsCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.courses.idGenerator = func() string { return "CNEW" }

	c, err := f.courses.SaveCourse(ctx, models.Course{Title: "  Kubernetes  "})
	require.NoError(t, err)
	assert.Equal(t, "CNEW", c.ID)
	assert.Equal(t, "Kubernetes", c.Title)
	assert.Equal(t, models.CourseDraft, c.Status)
	created := c.CreatedAt

	f.clock.advance(time.Hour)
	c, err = f.courses.SaveCourse(ctx, models.Course{ID: "CNEW", Title: "Kubernetes 2", Status: models.CourseActive})
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(created))
	assert.True(t, c.UpdatedAt.Equal(f.clock.t))

	got, err := f.courses.GetCourse(ctx, "CNEW")
	require.NoError(t, err)
	assert.Equal(t, "Kubernetes 2", got.Title)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestSaveCourseValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.courses.SaveCourse(context.Background(), models.Course{ID: "C1"})
	se := requireCode(t, err, ErrorInvalidInput)
	assert.Equal(t, "title", se.Key)

	_, err = f.courses.SaveCourse(context.Background(), models.Course{ID: "C1", Title: "x", Status: "paused"})
	se = requireCode(t, err, ErrorInvalidInput)
	assert.Equal(t, "status", se.Key)
}

func TestListCoursesByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range []models.Course{
		{ID: "C1", Title: "a", Status: models.CourseActive},
		{ID: "C2", Title: "b", Status: models.CourseArchived},
		{ID: "C3", Title: "c", Status: models.CourseActive},
	} {
		_, err := f.courses.SaveCourse(ctx, c)
		require.NoError(t, err)
	}
	active, err := f.courses.ListCourses(ctx, models.CourseActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "C1", active[0].ID)
	assert.Equal(t, "C3", active[1].ID)

	all, err := f.courses.ListCourses(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.courses.ListCourses(ctx, "bogus")
	requireCode(t, err, ErrorInvalidInput)
}

func TestSaveSettingsRules(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()
	now := f.clock.t

	_, err := f.courses.SaveSettings(ctx, models.SurveySettings{CourseID: "C404"})
	requireCode(t, err, ErrorNotFound)

	_, err = f.courses.SaveSettings(ctx, models.SurveySettings{CourseID: "C1", StartDate: now, EndDate: now.Add(-time.Hour)})
	se := requireCode(t, err, ErrorInvalidInput)
	assert.Equal(t, "endDate", se.Key)

	_, err = f.courses.SaveSettings(ctx, models.SurveySettings{CourseID: "C1", IsActive: true, EndDate: now.Add(-time.Hour)})
	se = requireCode(t, err, ErrorInvalidInput)
	assert.Equal(t, "isActive", se.Key)

	_, err = f.courses.SaveSettings(ctx, models.SurveySettings{CourseID: "C1", MaxResponses: -1})
	requireCode(t, err, ErrorInvalidInput)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.courses.SaveCourse(ctx, models.Course{ID: "C9", Title: "x"})
	require.NoError(t, err)

	_, err = f.courses.GetSettings(ctx, "C9")
	requireCode(t, err, ErrorNotFound)

	st, err := f.courses.SetActive(ctx, "C9", true)
	require.NoError(t, err)
	assert.True(t, st.IsActive)

	st, err = f.courses.SetActive(ctx, "C9", false)
	require.NoError(t, err)
	assert.False(t, st.IsActive)
	got, err := f.courses.GetSettings(ctx, "C9")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestSaveQuestionShape(t *testing.T) {
	cases := []struct {
		name  string
		q     models.Question
		field string
	}{
		{"choice without choices", models.Question{Type: models.SingleChoice}, "choicesJson"},
		{"duplicate choices", models.Question{Type: models.MultiChoice, ChoicesJSON: `["a","a"]`}, "choicesJson"},
		{"choices on text", models.Question{Type: models.ShortText, ChoicesJSON: `["a"]`}, "choicesJson"},
		{"rating without max", models.Question{Type: models.Rating, RatingMax: 1}, "ratingMax"},
		{"ratingMax on choice", models.Question{Type: models.SingleChoice, ChoicesJSON: `["a"]`, RatingMax: 5}, "ratingMax"},
		{"maxChars on rating", models.Question{Type: models.Rating, RatingMax: 5, MaxChars: 10}, "maxChars"},
		{"unknown type", models.Question{Type: "slider"}, "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedC1(t)
			q := tc.q
			q.CourseID, q.Text, q.Order = "C1", "?", 9
			_, err := f.courses.SaveQuestion(context.Background(), q)
			se := requireCode(t, err, ErrorInvalidInput)
			assert.Equal(t, tc.field, se.Key)
		})
	}
}

func TestSaveQuestionOrderAndOwnership(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()

	_, err := f.courses.SaveQuestion(ctx, models.Question{CourseID: "C1", Order: 2, Text: "dup", Type: models.ShortText})
	se := requireCode(t, err, ErrorConflict)
	assert.Equal(t, "order_unique", se.Rule)
	assert.Equal(t, store.TableQuestions, se.Table)
	assert.Equal(t, "q2", se.QuestionID)

	_, err = f.courses.SaveCourse(ctx, models.Course{ID: "C2", Title: "other"})
	require.NoError(t, err)
	_, err = f.courses.SaveQuestion(ctx, models.Question{ID: "q1", CourseID: "C2", Order: 1, Text: "steal", Type: models.ShortText})
	requireCode(t, err, ErrorConflict)

	// moving a question onto its own order is not a conflict
	q, err := f.courses.SaveQuestion(ctx, models.Question{ID: "q2", CourseID: "C1", Order: 2, Text: "Pace?", Type: models.SingleChoice, ChoicesJSON: `[ "A", "B", "C" ]`})
	require.NoError(t, err)
	assert.Equal(t, `["A","B","C"]`, q.ChoicesJSON)

	qs, err := f.courses.ListQuestions(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, qs, 3)
	assert.Equal(t, []string{"q1", "q2", "q3"}, []string{qs[0].ID, qs[1].ID, qs[2].ID})
}

func TestDeleteCourseCascades(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()
	_, err := f.responses.Submit(ctx, SubmitRequest{CourseID: "C1", SessionID: "a", Answers: map[string]any{"q1": 3, "q3": "x"}})
	require.NoError(t, err)

	rep, err := f.courses.DeleteCourse(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Deleted[store.TableQuestions])
	assert.Equal(t, 1, rep.Deleted[store.TableCourses])
	assert.Equal(t, 2, rep.Orphaned[store.TableResponses])

	_, err = f.courses.GetCourse(ctx, "C1")
	requireCode(t, err, ErrorNotFound)
	_, err = f.courses.DeleteCourse(ctx, "C1")
	requireCode(t, err, ErrorNotFound)
}

func TestFormReflectsWindow(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()

	form, err := f.courses.Form(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, form.Open)
	assert.Len(t, form.Questions, 3)
	assert.Nil(t, form.EndDate)

	_, err = f.courses.SetActive(ctx, "C1", false)
	require.NoError(t, err)
	form, err = f.courses.Form(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, form.Open)
}

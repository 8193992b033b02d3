package store

import (
	"context"
	"slices"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// getOrNil maps a NotFoundError to a nil result.
func getOrNil[T any](ctx context.Context, c *Collection[T], key string) (*T, error) {
	v, err := c.Get(ctx, key)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func byCourse(courseID string) Filter { return Where(Eq(ColCourseID, courseID)) }

func (r *Repository) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	return getOrNil(ctx, r.Courses, id)
}

func (r *Repository) ListCourses(ctx context.Context, status models.CourseStatus) ([]models.Course, error) {
	var f Filter
	if status != "" {
		f = Where(Eq("status", string(status)))
	}
	return r.Courses.All(ctx, f)
}

func (r *Repository) UpsertCourse(ctx context.Context, c models.Course) (bool, error) {
	return r.Courses.Upsert(ctx, c)
}

func (r *Repository) DeleteCourse(ctx context.Context, id string) (*models.CascadeReport, error) {
	res, err := r.Guard.DeleteCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Repository) GetSettings(ctx context.Context, courseID string) (*models.SurveySettings, error) {
	return getOrNil(ctx, r.Settings, courseID)
}

func (r *Repository) UpsertSettings(ctx context.Context, s models.SurveySettings) error {
	_, err := r.Settings.Upsert(ctx, s)
	return err
}

func (r *Repository) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	return getOrNil(ctx, r.Questions, id)
}

func (r *Repository) ListQuestions(ctx context.Context, courseID string) ([]models.Question, error) {
	return r.Questions.All(ctx, byCourse(courseID))
}

func (r *Repository) UpsertQuestion(ctx context.Context, q models.Question) (bool, error) {
	return r.Questions.Upsert(ctx, q)
}

func (r *Repository) DeleteQuestion(ctx context.Context, id string) error {
	return r.Questions.Delete(ctx, id)
}

func (r *Repository) ListResponses(ctx context.Context, courseID, questionID string) ([]models.Response, error) {
	f := byCourse(courseID)
	if questionID != "" {
		f = append(f, Eq(ColQuestionID, questionID))
	}
	return r.Responses.All(ctx, f)
}

// AddResponses appends every row in one backend call.
func (r *Repository) AddResponses(ctx context.Context, rs []models.Response) error {
	_, err := r.Responses.InsertMany(ctx, rs)
	return err
}

func (r *Repository) GetStats(ctx context.Context, courseID string) (*models.ResponseStats, error) {
	return getOrNil(ctx, r.Stats, courseID)
}

func (r *Repository) PutStats(ctx context.Context, st models.ResponseStats) error {
	_, err := r.Stats.Upsert(ctx, st)
	return err
}

func (r *Repository) AddAnalysis(ctx context.Context, a models.Analysis) error {
	_, err := r.Analyses.Insert(ctx, a)
	return err
}

// ListAnalyses returns the course's analyses oldest first.
func (r *Repository) ListAnalyses(ctx context.Context, courseID string) ([]models.Analysis, error) {
	out, err := r.Analyses.All(ctx, byCourse(courseID))
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b models.Analysis) int { return a.AnalyzedAt.Compare(b.AnalyzedAt) })
	return out, nil
}

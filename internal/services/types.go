package services

import (
	"context"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// The interfaces below are the slices of persistence each service needs.
// Get* methods return nil, nil when the row does not exist.

type CourseReader interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	ListCourses(ctx context.Context, status models.CourseStatus) ([]models.Course, error)
}

type SettingsReader interface {
	GetSettings(ctx context.Context, courseID string) (*models.SurveySettings, error)
}

type QuestionReader interface {
	ListQuestions(ctx context.Context, courseID string) ([]models.Question, error)
}

type ResponseReader interface {
	// ListResponses returns the course's rows in storage order; an empty
	// questionID selects every question.
	ListResponses(ctx context.Context, courseID, questionID string) ([]models.Response, error)
}

type SubmissionStore interface {
	SettingsReader
	QuestionReader
	ResponseReader
	AddResponses(ctx context.Context, rs []models.Response) error
}

type StatsStore interface {
	CourseReader
	SettingsReader
	QuestionReader
	ResponseReader
	GetStats(ctx context.Context, courseID string) (*models.ResponseStats, error)
	PutStats(ctx context.Context, st models.ResponseStats) error
}

type AnalysisStore interface {
	AddAnalysis(ctx context.Context, a models.Analysis) error
	ListAnalyses(ctx context.Context, courseID string) ([]models.Analysis, error)
}

type CourseStore interface {
	CourseReader
	SettingsReader
	QuestionReader
	UpsertCourse(ctx context.Context, c models.Course) (bool, error)
	DeleteCourse(ctx context.Context, id string) (*models.CascadeReport, error)
	UpsertSettings(ctx context.Context, s models.SurveySettings) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	UpsertQuestion(ctx context.Context, q models.Question) (bool, error)
	DeleteQuestion(ctx context.Context, id string) error
}

type SummaryStore interface {
	CourseReader
	QuestionReader
	ResponseReader
}

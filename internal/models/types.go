// Package models holds the strongly typed records stored in the workbook.
// JSON-valued columns stay as raw strings; callers own their encoding.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type CourseStatus string

const (
	CourseDraft    CourseStatus = "draft"
	CourseActive   CourseStatus = "active"
	CourseArchived CourseStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseDraft, CourseActive, CourseArchived:
		return true
	}
	return false
}

type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	MultiChoice  QuestionType = "multi_choice"
	ShortText    QuestionType = "short_text"
	LongText     QuestionType = "long_text"
	Rating       QuestionType = "rating"
)

func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoice, MultiChoice, ShortText, LongText, Rating:
		return true
	}
	return false
}

// IsChoice reports whether answers must come from the declared choices.
func (t QuestionType) IsChoice() bool { return t == SingleChoice || t == MultiChoice }

// IsText reports whether answers are free text bounded by maxChars.
func (t QuestionType) IsText() bool { return t == ShortText || t == LongText }

// Course is a single survey instance tied to a training program.
type Course struct {
	ID          string       `json:"courseId" validate:"required"`
	Title       string       `json:"title" validate:"required"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	CreatedAt   time.Time    `json:"createdAt"`
	Status      CourseStatus `json:"status" validate:"required,oneof=draft active archived"`
	OwnerID     string       `json:"ownerId"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// SurveySettings controls whether a course accepts submissions.
// Zero StartDate/EndDate mean unbounded; zero MaxResponses means no cap.
type SurveySettings struct {
	CourseID     string    `json:"courseId" validate:"required"`
	IsActive     bool      `json:"isActive"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	MaxResponses int       `json:"maxResponses" validate:"gte=0"`
}

// OpenAt reports whether the survey accepts submissions at t.
func (s SurveySettings) OpenAt(t time.Time) bool {
	if !s.IsActive {
		return false
	}
	if !s.StartDate.IsZero() && t.Before(s.StartDate) {
		return false
	}
	if !s.EndDate.IsZero() && t.After(s.EndDate) {
		return false
	}
	return true
}

// Question is one item of a course survey.
type Question struct {
	ID          string       `json:"questionId" validate:"required"`
	CourseID    string       `json:"courseId" validate:"required"`
	Order       int          `json:"order" validate:"gte=0"`
	Text        string       `json:"text" validate:"required"`
	Type        QuestionType `json:"type" validate:"required,oneof=single_choice multi_choice short_text long_text rating"`
	ChoicesJSON string       `json:"choicesJson"`
	RatingMax   int          `json:"ratingMax" validate:"gte=0"`
	IsRequired  bool         `json:"isRequired"`
	MaxChars    int          `json:"maxChars" validate:"gte=0"`
}

// Choices decodes ChoicesJSON, a JSON array of strings.
func (q Question) Choices() ([]string, error) {
	if q.ChoicesJSON == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(q.ChoicesJSON), &out); err != nil {
		return nil, fmt.Errorf("question %s: choicesJson: %w", q.ID, err)
	}
	return out, nil
}

// Response is a single answered question of one submission.
type Response struct {
	ID             string    `json:"responseId"`
	CourseID       string    `json:"courseId"`
	QuestionID     string    `json:"questionId"`
	Answer         string    `json:"answer"`
	AnsweredAt     time.Time `json:"answeredAt"`
	RespondentHash string    `json:"respondentHash"`
	SessionID      string    `json:"sessionId"`
	IPMasked       string    `json:"ipMasked"`
	SubmissionID   string    `json:"submissionId"`
}

// ResponseStats holds the derived counters for a course. ResponseRate is nil
// when no denominator is configured.
type ResponseStats struct {
	CourseID       string    `json:"courseId"`
	TotalQuestions int       `json:"totalQuestions"`
	TotalResponses int       `json:"totalResponses"`
	ResponseRate   *float64  `json:"responseRate"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
}

// Analysis is one stored analysis result. Rows are append-only.
type Analysis struct {
	ID              string    `json:"analysisId"`
	CourseID        string    `json:"courseId"`
	AnalyzedAt      time.Time `json:"analyzedAt"`
	ObjectiveJSON   string    `json:"objectiveJson"`
	RatingJSON      string    `json:"ratingJson"`
	SubjectiveJSON  string    `json:"subjectiveJson"`
	InsightsText    string    `json:"insightsText"`
	ActionItemsText string    `json:"actionItemsText"`
	Confidence      float64   `json:"confidence"`
}

// CascadeReport counts rows removed per owned table and rows left in place
// per table that only references the deleted course.
type CascadeReport struct {
	Deleted  map[string]int `json:"deleted"`
	Orphaned map[string]int `json:"orphaned"`
}

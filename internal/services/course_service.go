package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/soaringjerry/Coursepulse/internal/models"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct reports the first failing field as an invalid input error.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return NewInvalidInputError(fe.Field(), "failed "+fe.Tag())
	}
	return NewInvalidError(err.Error())
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// CourseService manages courses, their survey settings and their questions.
type CourseService struct {
	store       CourseStore
	log         *slog.Logger
	now         func() time.Time
	idGenerator func() string
}

func NewCourseService(store CourseStore, logger *slog.Logger) *CourseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CourseService{
		store:       store,
		log:         logger.With(slog.String("component", "courses")),
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: func() string { return "C" + shortID(8) },
	}
}

// SaveCourse creates the course or replaces its editable fields. createdAt
// is set once and kept on every later save.
func (s *CourseService) SaveCourse(ctx context.Context, in models.Course) (*models.Course, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	if in.Status == "" {
		in.Status = models.CourseDraft
	}
	created := in.ID == ""
	if created {
		in.ID = s.idGenerator()
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	now := s.now()
	existing, err := s.store.GetCourse(ctx, in.ID)
	if err != nil {
		return nil, fromStore(err)
	}
	if existing != nil {
		in.CreatedAt = existing.CreatedAt
	} else {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	if _, err := s.store.UpsertCourse(ctx, in); err != nil {
		return nil, fromStore(err)
	}
	s.log.Info("course saved", slog.String("course_id", in.ID), slog.Bool("created", existing == nil))
	return &in, nil
}

func (s *CourseService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	c, err := s.store.GetCourse(ctx, id)
	if err != nil {
		return nil, fromStore(err)
	}
	if c == nil {
		return nil, NewNotFoundError("course " + id + " not found")
	}
	return c, nil
}

// ListCourses returns courses in storage order, optionally by status.
func (s *CourseService) ListCourses(ctx context.Context, status models.CourseStatus) ([]models.Course, error) {
	if status != "" && !status.Valid() {
		return nil, NewInvalidInputError("status", fmt.Sprintf("unknown status %q", status))
	}
	out, err := s.store.ListCourses(ctx, status)
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// DeleteCourse removes the course with its settings, questions and stats,
// and reports the responses and analyses left referencing it.
func (s *CourseService) DeleteCourse(ctx context.Context, id string) (*models.CascadeReport, error) {
	rep, err := s.store.DeleteCourse(ctx, id)
	if err != nil {
		return nil, fromStore(err)
	}
	return rep, nil
}

func (s *CourseService) GetSettings(ctx context.Context, courseID string) (*models.SurveySettings, error) {
	st, err := s.store.GetSettings(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	if st == nil {
		return nil, NewNotFoundError("no survey settings for course " + courseID)
	}
	return st, nil
}

// SaveSettings stores the window and cap of a course survey. An active
// survey must not already be past its end date.
func (s *CourseService) SaveSettings(ctx context.Context, in models.SurveySettings) (*models.SurveySettings, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if _, err := s.GetCourse(ctx, in.CourseID); err != nil {
		return nil, err
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate) {
		return nil, NewInvalidInputError("endDate", "before startDate")
	}
	if in.IsActive && !in.EndDate.IsZero() && s.now().After(in.EndDate) {
		return nil, NewInvalidInputError("isActive", "survey already ended")
	}
	if err := s.store.UpsertSettings(ctx, in); err != nil {
		return nil, fromStore(err)
	}
	return &in, nil
}

// SetActive flips the active flag, creating default settings when the
// course has none.
func (s *CourseService) SetActive(ctx context.Context, courseID string, active bool) (*models.SurveySettings, error) {
	st, err := s.store.GetSettings(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	if st == nil {
		st = &models.SurveySettings{CourseID: courseID}
	}
	st.IsActive = active
	return s.SaveSettings(ctx, *st)
}

// ListQuestions returns the course's questions in display order.
func (s *CourseService) ListQuestions(ctx context.Context, courseID string) ([]models.Question, error) {
	qs, err := s.store.ListQuestions(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	sortQuestions(qs)
	return qs, nil
}

// SaveQuestion creates or replaces a question after checking that its
// type-specific fields are consistent and its order is free in the course.
func (s *CourseService) SaveQuestion(ctx context.Context, q models.Question) (*models.Question, error) {
	q.ID = strings.TrimSpace(q.ID)
	if q.ID == "" {
		q.ID = "q" + shortID(8)
	}
	if err := validateStruct(q); err != nil {
		return nil, err
	}
	if err := checkQuestionShape(&q); err != nil {
		return nil, err
	}
	if _, err := s.GetCourse(ctx, q.CourseID); err != nil {
		return nil, err
	}
	if prev, err := s.store.GetQuestion(ctx, q.ID); err != nil {
		return nil, fromStore(err)
	} else if prev != nil && prev.CourseID != q.CourseID {
		return nil, NewConflictError(fmt.Sprintf("question %s belongs to course %s", q.ID, prev.CourseID))
	}
	siblings, err := s.store.ListQuestions(ctx, q.CourseID)
	if err != nil {
		return nil, fromStore(err)
	}
	for _, o := range siblings {
		if o.ID != q.ID && o.Order == q.Order {
			return nil, &ServiceError{
				Code:       ErrorConflict,
				Table:      store.TableQuestions,
				Key:        q.CourseID,
				QuestionID: o.ID,
				Rule:       "order_unique",
				Message:    fmt.Sprintf("order %d already used by question %s", q.Order, o.ID),
			}
		}
	}
	if _, err := s.store.UpsertQuestion(ctx, q); err != nil {
		return nil, fromStore(err)
	}
	return &q, nil
}

// checkQuestionShape enforces choicesJson iff a choice type and ratingMax iff
// a rating, normalizing choicesJson to a compact array.
func checkQuestionShape(q *models.Question) error {
	if q.Type.IsChoice() {
		var choices []string
		if err := json.Unmarshal([]byte(q.ChoicesJSON), &choices); err != nil || len(choices) == 0 {
			return NewInvalidInputError("choicesJson", "a choice question needs a non-empty JSON array of strings")
		}
		seen := map[string]bool{}
		for _, c := range choices {
			if strings.TrimSpace(c) == "" || seen[c] {
				return NewInvalidInputError("choicesJson", "choices must be unique and non-empty")
			}
			seen[c] = true
		}
		b, _ := json.Marshal(choices)
		q.ChoicesJSON = string(b)
	} else if q.ChoicesJSON != "" {
		return NewInvalidInputError("choicesJson", "only choice questions take choices")
	}
	if q.Type == models.Rating {
		if q.RatingMax < 2 {
			return NewInvalidInputError("ratingMax", "a rating question needs ratingMax >= 2")
		}
	} else if q.RatingMax != 0 {
		return NewInvalidInputError("ratingMax", "only rating questions take ratingMax")
	}
	if !q.Type.IsText() && q.MaxChars != 0 {
		return NewInvalidInputError("maxChars", "only text questions take maxChars")
	}
	return nil
}

func (s *CourseService) DeleteQuestion(ctx context.Context, id string) error {
	return fromStore(s.store.DeleteQuestion(ctx, id))
}

// SurveyForm is the public view of a course survey: what a respondent needs
// to render the form, without admin-only fields.
type SurveyForm struct {
	CourseID  string            `json:"courseId"`
	Title     string            `json:"title"`
	Open      bool              `json:"open"`
	EndDate   *time.Time        `json:"endDate,omitempty"`
	Questions []models.Question `json:"questions"`
}

func (s *CourseService) Form(ctx context.Context, courseID string) (*SurveyForm, error) {
	c, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	st, err := s.store.GetSettings(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	qs, err := s.ListQuestions(ctx, courseID)
	if err != nil {
		return nil, err
	}
	f := &SurveyForm{CourseID: c.ID, Title: c.Title, Questions: qs}
	if st != nil {
		f.Open = st.OpenAt(s.now())
		if !st.EndDate.IsZero() {
			end := st.EndDate
			f.EndDate = &end
		}
	}
	return f, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/soaringjerry/Coursepulse/internal/models"
	"github.com/soaringjerry/Coursepulse/internal/privacy"
)

// Recomputer refreshes derived statistics after a submission.
type Recomputer interface {
	Recompute(ctx context.Context, courseID string) (*models.ResponseStats, error)
}

// SubmitRequest carries one respondent's answers. Answers map questionId to
// the decoded JSON value: a string, a number, or a list of strings for
// multi-choice questions.
type SubmitRequest struct {
	CourseID     string
	SessionID    string
	RemoteAddr   string
	SubmissionID string
	Answers      map[string]any
}

type SubmitResult struct {
	SubmissionID string                `json:"submissionId"`
	RowsWritten  int                   `json:"rowsWritten"`
	Duplicate    bool                  `json:"duplicate"`
	Stats        *models.ResponseStats `json:"stats,omitempty"`
}

// ResponseService validates answer sets and writes them as one Response row
// per answered question.
type ResponseService struct {
	store       SubmissionStore
	codec       *privacy.Codec
	stats       Recomputer
	log         *slog.Logger
	now         func() time.Time
	idGenerator func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewResponseService(store SubmissionStore, codec *privacy.Codec, stats Recomputer, logger *slog.Logger) *ResponseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseService{
		store:       store,
		codec:       codec,
		stats:       stats,
		log:         logger.With(slog.String("component", "responses")),
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
		locks:       map[string]*sync.Mutex{},
	}
}

// courseLock serializes the read of existing responses and the append of new
// ones, so concurrent retries of one submissionId write each row once.
func (s *ResponseService) courseLock(courseID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[courseID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[courseID] = l
	}
	return l
}

// Submit runs the checks in order (open window, capacity, required answers,
// answer constraints) and writes nothing unless all pass. A SubmissionID seen
// before only fills in questions not yet stored for it.
func (s *ResponseService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if s.store == nil || s.codec == nil {
		return nil, errors.New("response service not configured")
	}
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.CourseID == "" {
		return nil, NewInvalidInputError("courseId", "required")
	}
	if req.SessionID == "" {
		return nil, NewInvalidInputError("sessionId", "required")
	}
	now := s.now()

	settings, err := s.store.GetSettings(ctx, req.CourseID)
	if err != nil {
		return nil, fromStore(err)
	}
	if err := checkOpen(req.CourseID, settings, now); err != nil {
		return nil, err
	}

	questions, err := s.store.ListQuestions(ctx, req.CourseID)
	if err != nil {
		return nil, fromStore(err)
	}
	sortQuestions(questions)

	lock := s.courseLock(req.CourseID)
	lock.Lock()
	result, err := s.write(ctx, req, settings, questions, now)
	lock.Unlock()
	if err != nil {
		return nil, err
	}
	s.log.Info("submission stored",
		slog.String("course_id", req.CourseID),
		slog.String("submission_id", result.SubmissionID),
		slog.Int("rows", result.RowsWritten),
		slog.Bool("duplicate", result.Duplicate))

	if s.stats != nil {
		st, err := s.stats.Recompute(ctx, req.CourseID)
		if err != nil {
			// rows are in; a retry with the same submissionId writes nothing and recomputes
			return nil, err
		}
		result.Stats = st
	}
	return result, nil
}

// write runs the capacity, answer and duplicate checks against the stored
// responses and appends what is new. Callers hold the course lock.
func (s *ResponseService) write(ctx context.Context, req SubmitRequest, settings *models.SurveySettings, questions []models.Question, now time.Time) (*SubmitResult, error) {
	hash := s.codec.RespondentHash(req.SessionID, req.CourseID)
	existing, err := s.store.ListResponses(ctx, req.CourseID, "")
	if err != nil {
		return nil, fromStore(err)
	}
	if limit := settings.MaxResponses; limit > 0 {
		respondents := map[string]struct{}{}
		for _, r := range existing {
			respondents[r.RespondentHash] = struct{}{}
		}
		if _, seen := respondents[hash]; !seen && len(respondents) >= limit {
			return nil, NewCapacityError(req.CourseID, limit)
		}
	}

	answers, err := normalizeAnswers(req.CourseID, questions, req.Answers)
	if err != nil {
		return nil, err
	}

	submissionID := strings.TrimSpace(req.SubmissionID)
	if submissionID == "" {
		submissionID = s.idGenerator()
	}
	stored := map[string]bool{}
	for _, r := range existing {
		if r.SubmissionID != submissionID {
			continue
		}
		if r.RespondentHash != hash {
			return nil, NewConflictError(fmt.Sprintf("submission %s belongs to another respondent", submissionID))
		}
		stored[r.QuestionID] = true
	}

	ipMasked := privacy.MaskIP(req.RemoteAddr)
	rows := make([]models.Response, 0, len(answers))
	for _, a := range answers {
		if stored[a.questionID] {
			continue
		}
		rows = append(rows, models.Response{
			CourseID:       req.CourseID,
			QuestionID:     a.questionID,
			Answer:         a.value,
			AnsweredAt:     now,
			RespondentHash: hash,
			SessionID:      req.SessionID,
			IPMasked:       ipMasked,
			SubmissionID:   submissionID,
		})
	}
	if len(rows) > 0 {
		if err := s.store.AddResponses(ctx, rows); err != nil {
			return nil, fromStore(err)
		}
	}
	return &SubmitResult{
		SubmissionID: submissionID,
		RowsWritten:  len(rows),
		Duplicate:    len(stored) > 0,
	}, nil
}

// List returns the stored rows of a course, optionally one question only.
func (s *ResponseService) List(ctx context.Context, courseID, questionID string) ([]models.Response, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, NewInvalidInputError("courseId", "required")
	}
	out, err := s.store.ListResponses(ctx, courseID, questionID)
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

func checkOpen(courseID string, st *models.SurveySettings, now time.Time) error {
	switch {
	case st == nil:
		return NewSurveyClosedError(courseID, "no survey settings")
	case !st.IsActive:
		return NewSurveyClosedError(courseID, "inactive")
	case !st.StartDate.IsZero() && now.Before(st.StartDate):
		return NewSurveyClosedError(courseID, "not started")
	case !st.EndDate.IsZero() && now.After(st.EndDate):
		return NewSurveyClosedError(courseID, "ended")
	}
	return nil
}

func sortQuestions(qs []models.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].Order != qs[j].Order {
			return qs[i].Order < qs[j].Order
		}
		return qs[i].ID < qs[j].ID
	})
}

type normalizedAnswer struct {
	questionID string
	value      string
}

// normalizeAnswers validates raw answers against questions, which must be in
// display order, and returns the cell values to store in that order.
func normalizeAnswers(courseID string, questions []models.Question, raw map[string]any) ([]normalizedAnswer, error) {
	byID := make(map[string]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for _, q := range questions {
		if q.IsRequired && isBlank(raw[q.ID]) {
			return nil, NewMissingRequiredAnswerError(courseID, q.ID)
		}
	}
	out := make([]normalizedAnswer, 0, len(raw))
	for _, q := range questions {
		v, ok := raw[q.ID]
		if !ok || isBlank(v) {
			continue
		}
		cell, err := encodeAnswer(q, v)
		if err != nil {
			return nil, err
		}
		out = append(out, normalizedAnswer{questionID: q.ID, value: cell})
	}
	var unknown []string
	for id := range raw {
		if _, ok := byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, NewInvalidAnswerError(unknown[0], RuleUnknownQuestion, "not a question of course "+courseID)
	}
	return out, nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

// encodeAnswer checks v against q and renders the stored cell: the rating
// as an integer, a multi-choice selection as a JSON array, text verbatim.
func encodeAnswer(q models.Question, v any) (string, error) {
	switch q.Type {
	case models.Rating:
		n, ok := asInt(v)
		if !ok {
			return "", NewInvalidAnswerError(q.ID, RuleType, "rating must be an integer")
		}
		if n < 1 || n > q.RatingMax {
			return "", NewInvalidAnswerError(q.ID, RuleRatingBound, fmt.Sprintf("rating %d outside [1, %d]", n, q.RatingMax))
		}
		return strconv.Itoa(n), nil
	case models.SingleChoice:
		choice, ok := v.(string)
		if !ok {
			return "", NewInvalidAnswerError(q.ID, RuleType, "expected a single choice")
		}
		if err := checkChoices(q, []string{choice}); err != nil {
			return "", err
		}
		return choice, nil
	case models.MultiChoice:
		picked, ok := asStrings(v)
		if !ok {
			return "", NewInvalidAnswerError(q.ID, RuleType, "expected a list of choices")
		}
		if err := checkChoices(q, picked); err != nil {
			return "", err
		}
		b, err := json.Marshal(picked)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case models.ShortText, models.LongText:
		text, ok := v.(string)
		if !ok {
			return "", NewInvalidAnswerError(q.ID, RuleType, "expected text")
		}
		if q.MaxChars > 0 && utf8.RuneCountInString(text) > q.MaxChars {
			return "", NewInvalidAnswerError(q.ID, RuleMaxChars, fmt.Sprintf("text longer than %d characters", q.MaxChars))
		}
		return text, nil
	}
	return "", NewInvalidAnswerError(q.ID, RuleType, fmt.Sprintf("unsupported question type %q", q.Type))
}

func checkChoices(q models.Question, picked []string) error {
	choices, err := q.Choices()
	if err != nil {
		return NewInvalidAnswerError(q.ID, RuleChoice, "question has malformed choices")
	}
	seen := map[string]bool{}
	for _, p := range picked {
		if !slices.Contains(choices, p) {
			return NewInvalidAnswerError(q.ID, RuleChoice, fmt.Sprintf("%q is not one of the choices", p))
		}
		if seen[p] {
			return NewInvalidAnswerError(q.ID, RuleChoice, fmt.Sprintf("%q selected twice", p))
		}
		seen[p] = true
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return asInt(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func asStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

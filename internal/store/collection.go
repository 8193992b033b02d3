package store

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// Codec converts between a typed record and its row representation.
type Codec[T any] struct {
	Encode func(T) Record
	Decode func(Record) (T, error)
}

// Collection is a typed view over one table.
type Collection[T any] struct {
	store *Store
	table *Table
	codec Codec[T]
}

func NewCollection[T any](s *Store, t *Table, c Codec[T]) *Collection[T] {
	return &Collection[T]{store: s, table: t, codec: c}
}

func (c *Collection[T]) Table() *Table { return c.table }

func (c *Collection[T]) decode(rec Record) (T, error) {
	v, err := c.codec.Decode(rec)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s %q: %w", c.table.Name, rec[c.table.Key], err)
	}
	return v, nil
}

// List yields decoded records matching filter in storage order.
func (c *Collection[T]) List(ctx context.Context, filter Filter) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for rec, err := range c.store.List(ctx, c.table.Name, filter) {
			var v T
			if err == nil {
				v, err = c.decode(rec)
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

func (c *Collection[T]) All(ctx context.Context, filter Filter) ([]T, error) {
	var out []T
	for v, err := range c.List(ctx, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, key string) (T, error) {
	rec, err := c.store.Get(ctx, c.table.Name, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.decode(rec)
}

func (c *Collection[T]) Insert(ctx context.Context, v T) (string, error) {
	return c.store.Insert(ctx, c.table.Name, c.codec.Encode(v))
}

func (c *Collection[T]) InsertMany(ctx context.Context, vs []T) ([]string, error) {
	recs := make([]Record, 0, len(vs))
	for _, v := range vs {
		recs = append(recs, c.codec.Encode(v))
	}
	return c.store.InsertMany(ctx, c.table.Name, recs)
}

func (c *Collection[T]) Upsert(ctx context.Context, v T) (bool, error) {
	return c.store.Upsert(ctx, c.table.Name, c.codec.Encode(v))
}

func (c *Collection[T]) Update(ctx context.Context, key string, patch Record) error {
	return c.store.Update(ctx, c.table.Name, key, patch)
}

func (c *Collection[T]) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.table.Name, key)
}

func (c *Collection[T]) DeleteWhere(ctx context.Context, filter Filter) (int, error) {
	return c.store.DeleteWhere(ctx, c.table.Name, filter)
}

// Repository bundles the typed collections of the six tables.
type Repository struct {
	Store     *Store
	Guard     *Guard
	Courses   *Collection[models.Course]
	Settings  *Collection[models.SurveySettings]
	Questions *Collection[models.Question]
	Responses *Collection[models.Response]
	Stats     *Collection[models.ResponseStats]
	Analyses  *Collection[models.Analysis]
}

func NewRepository(s *Store) *Repository {
	return &Repository{
		Store:     s,
		Guard:     NewGuard(s),
		Courses:   NewCollection(s, Courses, CourseCodec),
		Settings:  NewCollection(s, SurveySettings, SettingsCodec),
		Questions: NewCollection(s, Questions, QuestionCodec),
		Responses: NewCollection(s, Responses, ResponseCodec),
		Stats:     NewCollection(s, ResponseStats, StatsCodec),
		Analyses:  NewCollection(s, Analysis, AnalysisCodec),
	}
}

func formatInt(n int) string { return strconv.Itoa(n) }

// formatOptInt renders zero as an empty cell.
func formatOptInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func parseInt(rec Record, col string) (int, error) {
	v := rec[col]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", col, err)
	}
	return n, nil
}

func parseFloat(rec Record, col string) (float64, error) {
	v := rec[col]
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", col, err)
	}
	return f, nil
}

func parseTime(rec Record, col string) (time.Time, error) {
	t, err := ParseTime(rec[col])
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", col, err)
	}
	return t, nil
}

func parseBool(rec Record, col string) (bool, error) {
	b, ok := ParseBool(rec[col])
	if !ok {
		return false, fmt.Errorf("%s: invalid boolean %q", col, rec[col])
	}
	return b, nil
}

// firstErr returns the first non-nil error.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

var CourseCodec = Codec[models.Course]{
	Encode: func(c models.Course) Record {
		return Record{
			"courseId":    c.ID,
			"title":       c.Title,
			"description": c.Description,
			"category":    c.Category,
			"createdAt":   FormatTime(c.CreatedAt),
			"status":      string(c.Status),
			"ownerId":     c.OwnerID,
			"updatedAt":   FormatTime(c.UpdatedAt),
		}
	},
	Decode: func(r Record) (models.Course, error) {
		created, err1 := parseTime(r, "createdAt")
		updated, err2 := parseTime(r, "updatedAt")
		return models.Course{
			ID:          r["courseId"],
			Title:       r["title"],
			Description: r["description"],
			Category:    r["category"],
			CreatedAt:   created,
			Status:      models.CourseStatus(r["status"]),
			OwnerID:     r["ownerId"],
			UpdatedAt:   updated,
		}, firstErr(err1, err2)
	},
}

var SettingsCodec = Codec[models.SurveySettings]{
	Encode: func(s models.SurveySettings) Record {
		return Record{
			"courseId":     s.CourseID,
			"isActive":     FormatBool(s.IsActive),
			"startDate":    FormatTime(s.StartDate),
			"endDate":      FormatTime(s.EndDate),
			"maxResponses": formatOptInt(s.MaxResponses),
		}
	},
	Decode: func(r Record) (models.SurveySettings, error) {
		active, err1 := parseBool(r, "isActive")
		start, err2 := parseTime(r, "startDate")
		end, err3 := ParseEndTime(r["endDate"])
		if err3 != nil {
			err3 = fmt.Errorf("endDate: %w", err3)
		}
		maxResp, err4 := parseInt(r, "maxResponses")
		return models.SurveySettings{
			CourseID:     r["courseId"],
			IsActive:     active,
			StartDate:    start,
			EndDate:      end,
			MaxResponses: maxResp,
		}, firstErr(err1, err2, err3, err4)
	},
}

var QuestionCodec = Codec[models.Question]{
	Encode: func(q models.Question) Record {
		return Record{
			"questionId":  q.ID,
			"courseId":    q.CourseID,
			"order":       formatInt(q.Order),
			"text":        q.Text,
			"type":        string(q.Type),
			"choicesJson": q.ChoicesJSON,
			"ratingMax":   formatOptInt(q.RatingMax),
			"isRequired":  FormatBool(q.IsRequired),
			"maxChars":    formatOptInt(q.MaxChars),
		}
	},
	Decode: func(r Record) (models.Question, error) {
		order, err1 := parseInt(r, "order")
		ratingMax, err2 := parseInt(r, "ratingMax")
		required, err3 := parseBool(r, "isRequired")
		maxChars, err4 := parseInt(r, "maxChars")
		return models.Question{
			ID:          r["questionId"],
			CourseID:    r["courseId"],
			Order:       order,
			Text:        r["text"],
			Type:        models.QuestionType(r["type"]),
			ChoicesJSON: r["choicesJson"],
			RatingMax:   ratingMax,
			IsRequired:  required,
			MaxChars:    maxChars,
		}, firstErr(err1, err2, err3, err4)
	},
}

var ResponseCodec = Codec[models.Response]{
	Encode: func(r models.Response) Record {
		return Record{
			"responseId":     r.ID,
			"courseId":       r.CourseID,
			"questionId":     r.QuestionID,
			"answer":         r.Answer,
			"answeredAt":     FormatTime(r.AnsweredAt),
			"respondentHash": r.RespondentHash,
			"sessionId":      r.SessionID,
			"ipMasked":       r.IPMasked,
			"submissionId":   r.SubmissionID,
		}
	},
	Decode: func(r Record) (models.Response, error) {
		at, err := parseTime(r, "answeredAt")
		return models.Response{
			ID:             r["responseId"],
			CourseID:       r["courseId"],
			QuestionID:     r["questionId"],
			Answer:         r["answer"],
			AnsweredAt:     at,
			RespondentHash: r["respondentHash"],
			SessionID:      r["sessionId"],
			IPMasked:       r["ipMasked"],
			SubmissionID:   r["submissionId"],
		}, err
	},
}

var StatsCodec = Codec[models.ResponseStats]{
	Encode: func(s models.ResponseStats) Record {
		rate := ""
		if s.ResponseRate != nil {
			rate = formatFloat(*s.ResponseRate)
		}
		return Record{
			"courseId":       s.CourseID,
			"totalQuestions": formatInt(s.TotalQuestions),
			"totalResponses": formatInt(s.TotalResponses),
			"responseRate":   rate,
			"lastUpdatedAt":  FormatTime(s.LastUpdatedAt),
		}
	},
	Decode: func(r Record) (models.ResponseStats, error) {
		tq, err1 := parseInt(r, "totalQuestions")
		tr, err2 := parseInt(r, "totalResponses")
		updated, err3 := parseTime(r, "lastUpdatedAt")
		var rate *float64
		var err4 error
		if r["responseRate"] != "" {
			var f float64
			f, err4 = parseFloat(r, "responseRate")
			rate = &f
		}
		return models.ResponseStats{
			CourseID:       r["courseId"],
			TotalQuestions: tq,
			TotalResponses: tr,
			ResponseRate:   rate,
			LastUpdatedAt:  updated,
		}, firstErr(err1, err2, err3, err4)
	},
}

var AnalysisCodec = Codec[models.Analysis]{
	Encode: func(a models.Analysis) Record {
		return Record{
			"analysisId":      a.ID,
			"courseId":        a.CourseID,
			"analyzedAt":      FormatTime(a.AnalyzedAt),
			"objectiveJson":   a.ObjectiveJSON,
			"ratingJson":      a.RatingJSON,
			"subjectiveJson":  a.SubjectiveJSON,
			"insightsText":    a.InsightsText,
			"actionItemsText": a.ActionItemsText,
			"confidence":      formatFloat(a.Confidence),
		}
	},
	Decode: func(r Record) (models.Analysis, error) {
		at, err1 := parseTime(r, "analyzedAt")
		conf, err2 := parseFloat(r, "confidence")
		return models.Analysis{
			ID:              r["analysisId"],
			CourseID:        r["courseId"],
			AnalyzedAt:      at,
			ObjectiveJSON:   r["objectiveJson"],
			RatingJSON:      r["ratingJson"],
			SubjectiveJSON:  r["subjectiveJson"],
			InsightsText:    r["insightsText"],
			ActionItemsText: r["actionItemsText"],
			Confidence:      conf,
		}, firstErr(err1, err2)
	},
}

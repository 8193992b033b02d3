package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"time"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// Export formats for course responses.
const (
	ExportLong = "long"
	ExportWide = "wide"
)

// Export renders a course's responses as CSV. The long format has one line
// per stored row; the wide format one line per submission with a column per
// question in display order. Session ids and masked IPs are never exported.
func (s *ResponseService) Export(ctx context.Context, courseID, format string) ([]byte, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, NewInvalidInputError("courseId", "required")
	}
	if format == "" {
		format = ExportLong
	}
	if format != ExportLong && format != ExportWide {
		return nil, NewInvalidInputError("format", "must be long or wide")
	}
	rs, err := s.store.ListResponses(ctx, courseID, "")
	if err != nil {
		return nil, fromStore(err)
	}
	if format == ExportLong {
		return exportLongCSV(rs)
	}
	qs, err := s.store.ListQuestions(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	sortQuestions(qs)
	return exportWideCSV(qs, rs)
}

func exportLongCSV(rs []models.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"submission_id", "respondent_hash", "question_id", "answer", "answered_at"})
	for _, r := range rs {
		rec := []string{r.SubmissionID, r.RespondentHash, r.QuestionID, r.Answer, r.AnsweredAt.UTC().Format(time.RFC3339)}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// exportWideCSV keeps submissions in first-seen order. Answers to questions
// no longer in qs are dropped.
func exportWideCSV(qs []models.Question, rs []models.Response) ([]byte, error) {
	col := make(map[string]int, len(qs))
	header := []string{"submission_id", "respondent_hash", "answered_at"}
	for i, q := range qs {
		col[q.ID] = i
		header = append(header, q.ID)
	}
	type line struct {
		id, hash, at string
		cells        []string
	}
	lines := map[[2]string]*line{}
	var order [][2]string
	for _, r := range rs {
		key := submissionKey(r)
		l, ok := lines[key]
		if !ok {
			l = &line{id: r.SubmissionID, hash: r.RespondentHash, at: r.AnsweredAt.UTC().Format(time.RFC3339), cells: make([]string, len(qs))}
			lines[key] = l
			order = append(order, key)
		}
		if j, ok := col[r.QuestionID]; ok {
			l.cells[j] = r.Answer
		}
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(header)
	for _, key := range order {
		l := lines[key]
		if err := w.Write(append([]string{l.id, l.hash, l.at}, l.cells...)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

package services

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// AnalyticsService builds the aggregated view handed to the insight
// collaborator and chart readers. Raw rows never leave it; free-text answers
// are returned without respondent columns.
type AnalyticsService struct {
	store SummaryStore
}

type ChoiceCount struct {
	Choice string `json:"choice"`
	Count  int    `json:"count"`
}

type ObjectiveSummary struct {
	QuestionID string        `json:"questionId"`
	Text       string        `json:"text"`
	Type       string        `json:"type"`
	Total      int           `json:"total"`
	Counts     []ChoiceCount `json:"counts"`
}

type RatingSummary struct {
	QuestionID string  `json:"questionId"`
	Text       string  `json:"text"`
	RatingMax  int     `json:"ratingMax"`
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	Histogram  []int   `json:"histogram"`
}

type SubjectiveSummary struct {
	QuestionID string   `json:"questionId"`
	Text       string   `json:"text"`
	Count      int      `json:"count"`
	Answers    []string `json:"answers"`
}

type AnalyticsTimeseries struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type CourseSummary struct {
	CourseID         string                `json:"courseId"`
	Title            string                `json:"title"`
	TotalSubmissions int                   `json:"totalSubmissions"`
	Objective        []ObjectiveSummary    `json:"objective"`
	Rating           []RatingSummary       `json:"rating"`
	Subjective       []SubjectiveSummary   `json:"subjective"`
	Timeseries       []AnalyticsTimeseries `json:"timeseries"`
	// Reliability is set once two rating questions have two complete
	// submissions between them.
	Reliability *RatingReliability `json:"reliability,omitempty"`
}

func NewAnalyticsService(store SummaryStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

func (s *AnalyticsService) Summary(ctx context.Context, courseID string) (*CourseSummary, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	if course == nil {
		return nil, NewNotFoundError("course " + courseID + " not found")
	}
	questions, err := s.store.ListQuestions(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	responses, err := s.store.ListResponses(ctx, courseID, "")
	if err != nil {
		return nil, fromStore(err)
	}
	sortQuestions(questions)
	byQuestion := map[string][]models.Response{}
	for _, r := range responses {
		byQuestion[r.QuestionID] = append(byQuestion[r.QuestionID], r)
	}

	out := &CourseSummary{
		CourseID:         courseID,
		Title:            course.Title,
		TotalSubmissions: countSubmissions(responses),
		Objective:        []ObjectiveSummary{},
		Rating:           []RatingSummary{},
		Subjective:       []SubjectiveSummary{},
		Timeseries:       buildTimeseries(submissionsByDay(responses)),
	}
	var ratingQs []models.Question
	for _, q := range questions {
		rows := byQuestion[q.ID]
		switch {
		case q.Type.IsChoice():
			out.Objective = append(out.Objective, summarizeChoice(q, rows))
		case q.Type == models.Rating:
			out.Rating = append(out.Rating, summarizeRating(q, rows))
			ratingQs = append(ratingQs, q)
		case q.Type.IsText():
			sub := SubjectiveSummary{QuestionID: q.ID, Text: q.Text, Answers: make([]string, 0, len(rows))}
			for _, r := range rows {
				sub.Answers = append(sub.Answers, r.Answer)
			}
			sub.Count = len(sub.Answers)
			out.Subjective = append(out.Subjective, sub)
		}
	}
	out.Reliability = ratingReliability(ratingQs, responses)
	return out, nil
}

func summarizeChoice(q models.Question, rows []models.Response) ObjectiveSummary {
	choices, _ := q.Choices()
	counts := make(map[string]int, len(choices))
	for _, r := range rows {
		picked := []string{r.Answer}
		if q.Type == models.MultiChoice {
			var many []string
			if err := json.Unmarshal([]byte(r.Answer), &many); err == nil {
				picked = many
			}
		}
		for _, p := range picked {
			counts[p]++
		}
	}
	sum := ObjectiveSummary{QuestionID: q.ID, Text: q.Text, Type: string(q.Type), Total: len(rows), Counts: []ChoiceCount{}}
	for _, c := range choices {
		sum.Counts = append(sum.Counts, ChoiceCount{Choice: c, Count: counts[c]})
		delete(counts, c)
	}
	// answers to choices since removed from the question
	var extra []string
	for c := range counts {
		extra = append(extra, c)
	}
	sort.Strings(extra)
	for _, c := range extra {
		sum.Counts = append(sum.Counts, ChoiceCount{Choice: c, Count: counts[c]})
	}
	return sum
}

func summarizeRating(q models.Question, rows []models.Response) RatingSummary {
	points := q.RatingMax
	if points <= 0 {
		points = 5
	}
	sum := RatingSummary{QuestionID: q.ID, Text: q.Text, RatingMax: points, Histogram: make([]int, points)}
	total := 0
	for _, r := range rows {
		v, err := strconv.Atoi(r.Answer)
		if err != nil || v < 1 || v > points {
			continue
		}
		sum.Histogram[v-1]++
		sum.Count++
		total += v
	}
	if sum.Count > 0 {
		sum.Mean = math.Round(float64(total)/float64(sum.Count)*100) / 100
	}
	return sum
}

func submissionsByDay(rs []models.Response) map[string]int {
	days := map[string]map[[2]string]struct{}{}
	for _, r := range rs {
		day := r.AnsweredAt.UTC().Format("2006-01-02")
		if days[day] == nil {
			days[day] = map[[2]string]struct{}{}
		}
		days[day][submissionKey(r)] = struct{}{}
	}
	out := make(map[string]int, len(days))
	for d, subs := range days {
		out[d] = len(subs)
	}
	return out
}

func buildTimeseries(counts map[string]int) []AnalyticsTimeseries {
	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)
	out := make([]AnalyticsTimeseries, 0, len(days))
	for _, d := range days {
		out = append(out, AnalyticsTimeseries{Date: d, Count: counts[d]})
	}
	return out
}

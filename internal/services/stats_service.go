package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// StatsService derives ResponseStats from the stored Responses. It never
// keeps counters of its own, so a rerun after any failure converges.
type StatsService struct {
	store StatsStore
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStatsService(store StatsStore, logger *slog.Logger) *StatsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsService{
		store: store,
		log:   logger.With(slog.String("component", "stats")),
		now:   func() time.Time { return time.Now().UTC() },
		locks: map[string]*sync.Mutex{},
	}
}

// courseLock serializes recomputes of one course inside this process so the
// last writer has read every row written before it.
func (s *StatsService) courseLock(courseID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[courseID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[courseID] = l
	}
	return l
}

// Recompute rebuilds the stats row of courseID. When the metrics match the
// stored row it is left as is, lastUpdatedAt included.
func (s *StatsService) Recompute(ctx context.Context, courseID string) (*models.ResponseStats, error) {
	if s.store == nil {
		return nil, errors.New("stats service store is nil")
	}
	if strings.TrimSpace(courseID) == "" {
		return nil, NewInvalidInputError("courseId", "required")
	}
	l := s.courseLock(courseID)
	l.Lock()
	defer l.Unlock()

	questions, err := s.store.ListQuestions(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	responses, err := s.store.ListResponses(ctx, courseID, "")
	if err != nil {
		return nil, fromStore(err)
	}
	settings, err := s.store.GetSettings(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	maxResponses := 0
	if settings != nil {
		maxResponses = settings.MaxResponses
	}
	total := countSubmissions(responses)
	next := models.ResponseStats{
		CourseID:       courseID,
		TotalQuestions: len(questions),
		TotalResponses: total,
		ResponseRate:   responseRate(total, maxResponses),
	}

	current, err := s.store.GetStats(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	if current != nil && sameMetrics(*current, next) {
		return current, nil
	}
	next.LastUpdatedAt = s.now()
	if err := s.store.PutStats(ctx, next); err != nil {
		return nil, fromStore(err)
	}
	s.log.Info("stats updated",
		slog.String("course_id", courseID),
		slog.Int("total_questions", next.TotalQuestions),
		slog.Int("total_responses", next.TotalResponses))
	return &next, nil
}

// RecomputeAll reconciles every course and reports how many rows changed.
// It keeps going past failing courses and returns their errors joined.
func (s *StatsService) RecomputeAll(ctx context.Context) (int, error) {
	courses, err := s.store.ListCourses(ctx, "")
	if err != nil {
		return 0, fromStore(err)
	}
	var errs []error
	changed := 0
	for _, c := range courses {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		before, err := s.store.GetStats(ctx, c.ID)
		if err != nil {
			errs = append(errs, fromStore(err))
			continue
		}
		after, err := s.Recompute(ctx, c.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if before == nil || !sameMetrics(*before, *after) {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// Get returns the stored stats row.
func (s *StatsService) Get(ctx context.Context, courseID string) (*models.ResponseStats, error) {
	st, err := s.store.GetStats(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	if st == nil {
		return nil, NewNotFoundError("no stats for course " + courseID)
	}
	return st, nil
}

// countSubmissions counts distinct (respondentHash, submissionId) pairs.
// Rows written before submission ids existed group by their timestamp.
// submissionKey identifies the submission a row belongs to. Rows written
// before submission ids existed are grouped by answeredAt.
func submissionKey(r models.Response) [2]string {
	sub := r.SubmissionID
	if sub == "" {
		sub = "@" + r.AnsweredAt.UTC().Format(time.RFC3339Nano)
	}
	return [2]string{r.RespondentHash, sub}
}

func countSubmissions(rs []models.Response) int {
	seen := map[[2]string]struct{}{}
	for _, r := range rs {
		seen[submissionKey(r)] = struct{}{}
	}
	return len(seen)
}

// responseRate is total/max capped at 1 and rounded to four decimals; nil
// without a cap.
func responseRate(total, maxResponses int) *float64 {
	if maxResponses <= 0 {
		return nil
	}
	r := math.Min(1, float64(total)/float64(maxResponses))
	r = math.Round(r*10000) / 10000
	return &r
}

func sameMetrics(a, b models.ResponseStats) bool {
	if a.TotalQuestions != b.TotalQuestions || a.TotalResponses != b.TotalResponses {
		return false
	}
	if (a.ResponseRate == nil) != (b.ResponseRate == nil) {
		return false
	}
	return a.ResponseRate == nil || *a.ResponseRate == *b.ResponseRate
}

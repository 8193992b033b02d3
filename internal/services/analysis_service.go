package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// AnalysisInput is what the insight collaborator hands back. The JSON
// payloads are stored verbatim once they parse.
type AnalysisInput struct {
	CourseID        string          `json:"courseId"`
	Objective       json.RawMessage `json:"objective,omitempty"`
	Rating          json.RawMessage `json:"rating,omitempty"`
	Subjective      json.RawMessage `json:"subjective,omitempty"`
	InsightsText    string          `json:"insightsText"`
	ActionItemsText string          `json:"actionItemsText"`
	Confidence      float64         `json:"confidence"`
}

// AnalysisService appends analysis rows. It never edits or removes them.
type AnalysisService struct {
	store       AnalysisStore
	log         *slog.Logger
	now         func() time.Time
	idGenerator func() string
}

func NewAnalysisService(store AnalysisStore, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		store:       store,
		log:         logger.With(slog.String("component", "analysis")),
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
	}
}

func (s *AnalysisService) Record(ctx context.Context, in AnalysisInput) (*models.Analysis, error) {
	if s.store == nil {
		return nil, errors.New("analysis service store is nil")
	}
	courseID := strings.TrimSpace(in.CourseID)
	if courseID == "" {
		return nil, NewInvalidInputError("courseId", "required")
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		return nil, NewInvalidInputError("confidence", fmt.Sprintf("%v outside [0, 1]", in.Confidence))
	}
	fields := []struct {
		name string
		raw  json.RawMessage
	}{
		{"objective", in.Objective},
		{"rating", in.Rating},
		{"subjective", in.Subjective},
	}
	payloads := make([]string, len(fields))
	for i, f := range fields {
		p, err := compactJSON(f.raw)
		if err != nil {
			return nil, NewInvalidInputError(f.name, "not valid JSON")
		}
		payloads[i] = p
	}
	a := models.Analysis{
		ID:              s.idGenerator(),
		CourseID:        courseID,
		AnalyzedAt:      s.now(),
		ObjectiveJSON:   payloads[0],
		RatingJSON:      payloads[1],
		SubjectiveJSON:  payloads[2],
		InsightsText:    in.InsightsText,
		ActionItemsText: in.ActionItemsText,
		Confidence:      in.Confidence,
	}
	if err := s.store.AddAnalysis(ctx, a); err != nil {
		return nil, fromStore(err)
	}
	s.log.Info("analysis recorded", slog.String("course_id", courseID), slog.String("analysis_id", a.ID))
	return &a, nil
}

// List returns the course's analyses ordered by analyzedAt.
func (s *AnalysisService) List(ctx context.Context, courseID string) ([]models.Analysis, error) {
	out, err := s.store.ListAnalyses(ctx, courseID)
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

func compactJSON(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if !json.Valid([]byte(trimmed)) {
		return "", errors.New("invalid JSON")
	}
	return trimmed, nil
}

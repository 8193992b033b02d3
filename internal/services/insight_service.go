package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// InsightConfig points at an OpenAI-compatible chat completions endpoint.
// An empty APIKey disables insight generation.
type InsightConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// InsightService asks the configured model to read a course summary and
// records what it returns through the AnalysisService.
type InsightService struct {
	cfg       InsightConfig
	client    HTTPClient
	summaries *AnalyticsService
	analyses  *AnalysisService
}

type insightReply struct {
	InsightsText    string          `json:"insightsText"`
	ActionItemsText json.RawMessage `json:"actionItemsText"`
	Confidence      json.RawMessage `json:"confidence"`
}

func NewInsightService(cfg InsightConfig, client HTTPClient, summaries *AnalyticsService, analyses *AnalysisService) *InsightService {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &InsightService{cfg: cfg, client: client, summaries: summaries, analyses: analyses}
}

// Enabled reports whether an AI credential is configured.
func (s *InsightService) Enabled() bool {
	return s != nil && strings.TrimSpace(s.cfg.APIKey) != ""
}

func (s *InsightService) Generate(ctx context.Context, courseID string) (*AnalysisRecord, error) {
	if !s.Enabled() {
		return nil, NewUnavailableError("AI insight generation is disabled: no API key configured")
	}
	summary, err := s.summaries.Summary(ctx, courseID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"model":       s.cfg.Model,
		"temperature": 0.3,
		"messages": []map[string]string{
			{"role": "system", "content": insightPrompt()},
			{"role": "user", "content": string(body)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodPost, normalizeOpenAIEndpoint(s.cfg.BaseURL), bytes.NewReader(pb))
	if err != nil {
		return nil, err
	}
	reqHTTP.Header.Set("Content-Type", "application/json")
	reqHTTP.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	resp, err := s.client.Do(reqHTTP)
	if err != nil {
		return nil, NewBadGatewayError(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewBadGatewayError(string(b))
	}
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return nil, NewBadGatewayError(err.Error())
	}
	if len(cc.Choices) == 0 {
		return nil, NewBadGatewayError("no choices")
	}
	var reply insightReply
	if err := json.Unmarshal([]byte(stripCodeFence(cc.Choices[0].Message.Content)), &reply); err != nil {
		return nil, NewBadGatewayError("invalid JSON from model")
	}
	objective, _ := json.Marshal(summary.Objective)
	rating, _ := json.Marshal(summary.Rating)
	subjective, _ := json.Marshal(summary.Subjective)
	a, err := s.analyses.Record(ctx, AnalysisInput{
		CourseID:        courseID,
		Objective:       objective,
		Rating:          rating,
		Subjective:      subjective,
		InsightsText:    reply.InsightsText,
		ActionItemsText: flattenText(reply.ActionItemsText),
		Confidence:      parseConfidence(reply.Confidence),
	})
	if err != nil {
		return nil, err
	}
	return &AnalysisRecord{Analysis: *a, Summary: summary}, nil
}

// AnalysisRecord pairs a stored analysis with the summary it was built from.
type AnalysisRecord struct {
	Analysis models.Analysis `json:"analysis"`
	Summary  *CourseSummary  `json:"summary"`
}

func insightPrompt() string {
	return "You review course feedback surveys. The user message is a JSON summary with objective (choice counts), rating (histograms and means) and subjective (free-text answers) sections. Return ONLY a JSON object with fields: insightsText (string, the key findings), actionItemsText (string, concrete improvements, one per line), confidence (number between 0 and 1)."
}

// flattenText accepts a string or a list of strings and joins lists by line.
func flattenText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "\n")
	}
	return ""
}

// parseConfidence reads a number or numeric string as given; range checks
// are left to AnalysisService.Record. A missing value falls back to 0.85.
func parseConfidence(raw json.RawMessage) float64 {
	var f float64
	var s string
	switch {
	case json.Unmarshal(raw, &f) == nil:
		return f
	case json.Unmarshal(raw, &s) == nil:
		if p, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return p
		}
	}
	return 0.85
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func normalizeOpenAIEndpoint(base string) string {
	endpoint := strings.TrimRight(strings.TrimSpace(base), "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	switch {
	case strings.HasSuffix(endpoint, "/chat/completions"):
		return endpoint
	case strings.HasSuffix(endpoint, "/v1"), strings.HasSuffix(endpoint, "/openai"):
		return endpoint + "/chat/completions"
	default:
		return endpoint + "/v1/chat/completions"
	}
}

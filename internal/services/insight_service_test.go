package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsightGenerateRecordsAnalysis(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()
	_, err := f.responses.Submit(ctx, SubmitRequest{CourseID: "C1", SessionID: "a", Answers: map[string]any{"q1": 4, "q3": "more exercises please"}})
	require.NoError(t, err)

	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		content := "```json\n{\"insightsText\":\"Students want practice\",\"actionItemsText\":[\"Add labs\",\"Slow down\"],\"confidence\":\"0.7\"}\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	defer srv.Close()

	svc := NewInsightService(InsightConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}, srv.Client(), f.analytics, f.analyses)
	rec, err := svc.Generate(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])

	assert.Equal(t, "Students want practice", rec.Analysis.InsightsText)
	assert.Equal(t, "Add labs\nSlow down", rec.Analysis.ActionItemsText)
	assert.Equal(t, 0.7, rec.Analysis.Confidence)
	assert.Contains(t, rec.Analysis.SubjectiveJSON, "more exercises please")
	assert.Equal(t, 1, rec.Summary.TotalSubmissions)

	list, err := f.analyses.List(ctx, "C1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInsightGenerateUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc := NewInsightService(InsightConfig{APIKey: "k", BaseURL: srv.URL}, srv.Client(), f.analytics, f.analyses)
	_, err := svc.Generate(context.Background(), "C1")
	se := requireCode(t, err, ErrorBadGateway)
	assert.True(t, strings.Contains(se.Message, "quota"))
	list, err := f.analyses.List(context.Background(), "C1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInsightDisabledWithoutKey(t *testing.T) {
	svc := NewInsightService(InsightConfig{}, nil, nil, nil)
	assert.False(t, svc.Enabled())
	_, err := svc.Generate(context.Background(), "C1")
	requireCode(t, err, ErrorUnavailable)
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, 0.85, parseConfidence(nil))
	assert.Equal(t, 0.85, parseConfidence(json.RawMessage(`"high"`)))
	assert.Equal(t, 0.4, parseConfidence(json.RawMessage(`0.4`)))
	assert.Equal(t, 3.0, parseConfidence(json.RawMessage(`3`)))
	assert.Equal(t, -1.0, parseConfidence(json.RawMessage(`"-1"`)))
}

func TestInsightGenerateRejectsOutOfRangeConfidence(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"insightsText":"ok","confidence":1.5}`}}},
		})
	}))
	defer srv.Close()

	svc := NewInsightService(InsightConfig{APIKey: "k", BaseURL: srv.URL}, srv.Client(), f.analytics, f.analyses)
	_, err := svc.Generate(context.Background(), "C1")
	se := requireCode(t, err, ErrorInvalidInput)
	assert.Contains(t, se.Message, "1.5")
	list, err := f.analyses.List(context.Background(), "C1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNormalizeOpenAIEndpoint(t *testing.T) {
	cases := map[string]string{
		"":                              "https://api.openai.com/v1/chat/completions",
		"https://api.example.com/":      "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1":    "https://api.example.com/v1/chat/completions",
		"https://x.example.com/openai":  "https://x.example.com/openai/chat/completions",
		"https://h/v1/chat/completions": "https://h/v1/chat/completions",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeOpenAIEndpoint(in), in)
	}
}

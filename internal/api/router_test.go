package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/privacy"
	"github.com/soaringjerry/Coursepulse/internal/services"
	"github.com/soaringjerry/Coursepulse/internal/sheets"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

type testServer struct {
	*httptest.Server
	token string
}

func newTestServer(t *testing.T, submitPerMinute int) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewRepository(store.New(sheets.NewMemory(), store.Options{Logger: log}))
	_, err := repo.Guard.EnsureSchema(context.Background())
	require.NoError(t, err)
	codec, err := privacy.NewCodec("salt")
	require.NoError(t, err)
	auth, err := services.NewAuthService("pw", "0123456789abcdef", time.Hour)
	require.NoError(t, err)

	stats := services.NewStatsService(repo, log)
	analytics := services.NewAnalyticsService(repo)
	analyses := services.NewAnalysisService(repo, log)
	rt := NewRouter(Services{
		Courses:   services.NewCourseService(repo, log),
		Responses: services.NewResponseService(repo, codec, stats, log),
		Stats:     stats,
		Analyses:  analyses,
		Analytics: analytics,
		Insights:  services.NewInsightService(services.InsightConfig{}, nil, analytics, analyses),
		Auth:      auth,
		Guard:     repo.Guard,
	}, Options{Logger: log, CORSOrigins: []string{"*"}, SubmitPerMinute: submitPerMinute})

	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)
	ts := &testServer{Server: srv}

	var login struct {
		Token string `json:"token"`
	}
	resp := ts.do(t, http.MethodPost, "/api/admin/login", map[string]any{"password": "pw"}, &login)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ts.token = login.Token
	return ts
}

func (ts *testServer) request(t *testing.T, method, path string, body any, auth bool, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if auth && ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (ts *testServer) do(t *testing.T, method, path string, body, out any) *http.Response {
	return ts.request(t, method, path, body, true, out)
}

func (ts *testServer) seed(t *testing.T) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/courses", map[string]any{"courseId": "C1", "title": "Go Basics", "status": "active"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, "/api/courses/C1/settings", map[string]any{"isActive": true, "endDate": "2999-12-31"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, q := range []map[string]any{
		{"questionId": "q1", "order": 1, "text": "Rating", "type": "rating", "ratingMax": 5},
		{"questionId": "q2", "order": 2, "text": "Pace", "type": "single_choice", "choices": []string{"A", "B"}},
		{"questionId": "q3", "order": 3, "text": "Comments", "type": "short_text", "isRequired": true, "maxChars": 100},
	} {
		resp := ts.do(t, http.MethodPost, "/api/courses/C1/questions", q, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
}

func TestSubmissionFlow(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seed(t)

	var form services.SurveyForm
	resp := ts.request(t, http.MethodGet, "/api/courses/C1/form", nil, false, &form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, form.Open)
	require.Len(t, form.Questions, 3)
	require.NotNil(t, form.EndDate)
	assert.Equal(t, 23, form.EndDate.Hour())

	body := map[string]any{
		"sessionId":    "browser-1",
		"submissionId": "sub-1",
		"answers":      map[string]any{"q1": 4, "q2": "A", "q3": "Clear"},
	}
	var res services.SubmitResult
	resp = ts.request(t, http.MethodPost, "/api/courses/C1/submissions", body, false, &res)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 3, res.RowsWritten)
	assert.Equal(t, 1, res.Stats.TotalResponses)

	resp = ts.request(t, http.MethodPost, "/api/courses/C1/submissions", body, false, &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, res.Duplicate)

	var list struct {
		Responses []map[string]any `json:"responses"`
	}
	resp = ts.do(t, http.MethodGet, "/api/courses/C1/responses?questionId=q1", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Responses, 1)
	assert.Equal(t, "4", list.Responses[0]["answer"])

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/courses/C1/export?format=wide", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	csvResp, err := ts.Client().Do(req)
	require.NoError(t, err)
	csvBody, _ := io.ReadAll(csvResp.Body)
	csvResp.Body.Close()
	assert.Equal(t, "text/csv; charset=utf-8", csvResp.Header.Get("Content-Type"))
	assert.Contains(t, csvResp.Header.Get("Content-Disposition"), "C1_responses_wide.csv")
	assert.Contains(t, string(csvBody), "sub-1,")

	var sum services.CourseSummary
	resp = ts.do(t, http.MethodGet, "/api/courses/C1/summary", nil, &sum)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, sum.TotalSubmissions)

	resp = ts.do(t, http.MethodPost, "/api/courses/C1/analyses", map[string]any{
		"insightsText": "fine", "confidence": 0.8, "rating": map[string]any{"q1": 4},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var analyses struct {
		Analyses []map[string]any `json:"analyses"`
	}
	ts.do(t, http.MethodGet, "/api/courses/C1/analyses", nil, &analyses)
	require.Len(t, analyses.Analyses, 1)
	assert.Equal(t, `{"q1":4}`, analyses.Analyses[0]["ratingJson"])
}

func TestSubmissionErrors(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seed(t)

	cases := []struct {
		name    string
		answers map[string]any
		status  int
		code    string
		qid     string
		rule    string
	}{
		{"missing required", map[string]any{"q1": 4}, http.StatusUnprocessableEntity, "missing_required_answer", "q3", "required"},
		{"rating bound", map[string]any{"q1": 7, "q3": "x"}, http.StatusUnprocessableEntity, "invalid_answer", "q1", "rating_bound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e errorBody
			resp := ts.request(t, http.MethodPost, "/api/courses/C1/submissions", map[string]any{"sessionId": "s", "answers": tc.answers}, false, &e)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.qid, e.QuestionID)
			assert.Equal(t, tc.rule, e.Rule)
		})
	}

	resp := ts.do(t, http.MethodPost, "/api/courses/C1/settings/active", map[string]any{"active": false}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var e errorBody
	resp = ts.request(t, http.MethodPost, "/api/courses/C1/submissions", map[string]any{"sessionId": "s", "answers": map[string]any{"q3": "x"}}, false, &e)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "survey_closed", e.Code)

	resp = ts.request(t, http.MethodPost, "/api/courses/C1/submissions", map[string]any{"bogus": 1}, false, &e)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, 0)
	for _, path := range []string{"/api/courses", "/api/courses/C1/responses", "/api/courses/C1/stats", "/api/courses/C1/summary"} {
		resp := ts.request(t, http.MethodGet, path, nil, false, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp := ts.request(t, http.MethodPost, "/api/admin/login", map[string]any{"password": "nope"}, false, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCourseLifecycle(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seed(t)

	var e errorBody
	resp := ts.do(t, http.MethodPost, "/api/courses/C1/questions", map[string]any{"order": 1, "text": "dup", "type": "short_text"}, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "order_unique", e.Rule)

	resp = ts.do(t, http.MethodGet, "/api/courses/C1/stats", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var st map[string]any
	resp = ts.do(t, http.MethodPost, "/api/courses/C1/stats/recompute", nil, &st)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, st["totalQuestions"])
	assert.Nil(t, st["responseRate"])

	resp = ts.do(t, http.MethodPost, "/api/courses/C1/analyses/generate", nil, &e)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var rep struct {
		Deleted map[string]int `json:"deleted"`
	}
	resp = ts.do(t, http.MethodDelete, "/api/courses/C1", nil, &rep)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, rep.Deleted[store.TableQuestions])

	resp = ts.do(t, http.MethodGet, "/api/courses/C1", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmissionRateLimit(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.seed(t)
	body := map[string]any{"sessionId": "s", "answers": map[string]any{"q3": "x"}}
	resp := ts.request(t, http.MethodPost, "/api/courses/C1/submissions", body, false, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.request(t, http.MethodPost, "/api/courses/C1/submissions", body, false, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSubmissionIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seed(t)

	b, err := json.Marshal(map[string]any{"sessionId": "s", "answers": map[string]any{"q3": "x"}})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/courses/C1/submissions", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var list struct {
		Responses []map[string]any `json:"responses"`
	}
	ts.do(t, http.MethodGet, "/api/courses/C1/responses", nil, &list)
	require.Len(t, list.Responses, 1)
	assert.Equal(t, "127.0.0.0", list.Responses[0]["ipMasked"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	var out map[string]any
	resp := ts.request(t, http.MethodGet, "/health", nil, false, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["aiEnabled"])
}

func TestFrontendFallback(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth, err := services.NewAuthService("pw", "0123456789abcdef", time.Hour)
	require.NoError(t, err)
	front := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "app:"+r.URL.Path)
	})
	rt := NewRouter(Services{Auth: auth}, Options{Logger: log, Frontend: front})
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/survey/C1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "app:/survey/C1", string(body))

	resp2, err := srv.Client().Get(srv.URL + "/api/courses")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

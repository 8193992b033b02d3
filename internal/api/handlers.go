package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/soaringjerry/Coursepulse/internal/middleware"
	"github.com/soaringjerry/Coursepulse/internal/models"
	"github.com/soaringjerry/Coursepulse/internal/services"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

// respondentCookie keeps a browser's session id across submissions.
const respondentCookie = "cp_session"

func courseID(r *http.Request) string { return mux.Vars(r)["courseId"] }

// POST /api/admin/login {password}
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	res, err := rt.svc.Auth.Login(req.Password)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    res.Token,
		Path:     "/api",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   rt.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/api",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   rt.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.AdminFromContext(r.Context())
	writeJSON(w, http.StatusOK, sess)
}

func (rt *Router) handleEnsureSchema(w http.ResponseWriter, r *http.Request) {
	rep, err := rt.svc.Guard.EnsureSchema(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /api/courses/{id}/form
func (rt *Router) handleForm(w http.ResponseWriter, r *http.Request) {
	form, err := rt.svc.Courses.Form(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// POST /api/courses/{id}/submissions {sessionId?, submissionId?, answers}
// The session id comes from the body, the X-Session-Id header or the
// session cookie; a new one is issued when none is present.
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string         `json:"sessionId"`
		SubmissionID string         `json:"submissionId"`
		Answers      map[string]any `json:"answers"`
	}
	if err := decode(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	session := strings.TrimSpace(req.SessionID)
	if session == "" {
		session = strings.TrimSpace(r.Header.Get("X-Session-Id"))
	}
	if session == "" {
		if c, err := r.Cookie(respondentCookie); err == nil {
			session = c.Value
		}
	}
	if session == "" {
		session = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     respondentCookie,
			Value:    session,
			Path:     "/api",
			MaxAge:   int((180 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			Secure:   rt.opts.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	submission := req.SubmissionID
	if submission == "" {
		submission = r.Header.Get("X-Submission-Id")
	}
	res, err := rt.svc.Responses.Submit(r.Context(), services.SubmitRequest{
		CourseID:     courseID(r),
		SessionID:    session,
		RemoteAddr:   rt.ips.ClientIP(r),
		SubmissionID: submission,
		Answers:      req.Answers,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.RowsWritten == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type courseBody struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	Status      models.CourseStatus `json:"status"`
	OwnerID     string              `json:"ownerId"`
}

func (b courseBody) course(id string) models.Course {
	return models.Course{ID: id, Title: b.Title, Description: b.Description, Category: b.Category, Status: b.Status, OwnerID: b.OwnerID}
}

func (rt *Router) handleListCourses(w http.ResponseWriter, r *http.Request) {
	out, err := rt.svc.Courses.ListCourses(r.Context(), models.CourseStatus(r.URL.Query().Get("status")))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": out})
}

func (rt *Router) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"courseId"`
		courseBody
	}
	if err := decode(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	c, err := rt.svc.Courses.SaveCourse(r.Context(), body.course(body.ID))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (rt *Router) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := rt.svc.Courses.GetCourse(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (rt *Router) handlePutCourse(w http.ResponseWriter, r *http.Request) {
	var body courseBody
	if err := decode(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	c, err := rt.svc.Courses.SaveCourse(r.Context(), body.course(courseID(r)))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (rt *Router) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	rep, err := rt.svc.Courses.DeleteCourse(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (rt *Router) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := rt.svc.Courses.GetSettings(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PUT /api/courses/{id}/settings. Dates are RFC 3339 or YYYY-MM-DD; a bare
// end date runs to the end of that day.
func (rt *Router) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive     bool   `json:"isActive"`
		StartDate    string `json:"startDate"`
		EndDate      string `json:"endDate"`
		MaxResponses int    `json:"maxResponses"`
	}
	if err := decode(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	start, err := store.ParseTime(body.StartDate)
	if err != nil {
		rt.writeError(w, r, services.NewInvalidInputError("startDate", err.Error()))
		return
	}
	end, err := store.ParseEndTime(body.EndDate)
	if err != nil {
		rt.writeError(w, r, services.NewInvalidInputError("endDate", err.Error()))
		return
	}
	st, err := rt.svc.Courses.SaveSettings(r.Context(), models.SurveySettings{
		CourseID:     courseID(r),
		IsActive:     body.IsActive,
		StartDate:    start,
		EndDate:      end,
		MaxResponses: body.MaxResponses,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (rt *Router) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decode(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if body.Active == nil {
		rt.writeError(w, r, services.NewInvalidInputError("active", "required"))
		return
	}
	st, err := rt.svc.Courses.SetActive(r.Context(), courseID(r), *body.Active)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type questionBody struct {
	ID         string              `json:"questionId"`
	Order      int                 `json:"order"`
	Text       string              `json:"text"`
	Type       models.QuestionType `json:"type"`
	Choices    json.RawMessage     `json:"choices"`
	RatingMax  int                 `json:"ratingMax"`
	IsRequired bool                `json:"isRequired"`
	MaxChars   int                 `json:"maxChars"`
}

func (b questionBody) question(courseID, id string) models.Question {
	choices := strings.TrimSpace(string(b.Choices))
	if choices == "null" {
		choices = ""
	}
	return models.Question{
		ID:          id,
		CourseID:    courseID,
		Order:       b.Order,
		Text:        strings.TrimSpace(b.Text),
		Type:        b.Type,
		ChoicesJSON: choices,
		RatingMax:   b.RatingMax,
		IsRequired:  b.IsRequired,
		MaxChars:    b.MaxChars,
	}
}

func (rt *Router) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := rt.svc.Courses.ListQuestions(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

func (rt *Router) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if err := decode(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	q, err := rt.svc.Courses.SaveQuestion(r.Context(), body.question(courseID(r), body.ID))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (rt *Router) handlePutQuestion(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if err := decode(r, &body); err != nil {
		rt.writeError(w, r, err)
		return
	}
	q, err := rt.svc.Courses.SaveQuestion(r.Context(), body.question(courseID(r), mux.Vars(r)["questionId"]))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (rt *Router) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Courses.DeleteQuestion(r.Context(), mux.Vars(r)["questionId"]); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/courses/{id}/responses?questionId=
func (rt *Router) handleListResponses(w http.ResponseWriter, r *http.Request) {
	rs, err := rt.svc.Responses.List(r.Context(), courseID(r), r.URL.Query().Get("questionId"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": rs})
}

func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	id := courseID(r)
	format := r.URL.Query().Get("format")
	b, err := rt.svc.Responses.Export(r.Context(), id, format)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if format == "" {
		format = services.ExportLong
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"_responses_"+format+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (rt *Router) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st, err := rt.svc.Stats.Get(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (rt *Router) handleRecompute(w http.ResponseWriter, r *http.Request) {
	st, err := rt.svc.Stats.Recompute(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (rt *Router) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	changed, err := rt.svc.Stats.RecomputeAll(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}

func (rt *Router) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := rt.svc.Analytics.Summary(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (rt *Router) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	out, err := rt.svc.Analyses.List(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (rt *Router) handleRecordAnalysis(w http.ResponseWriter, r *http.Request) {
	var in services.AnalysisInput
	if err := decode(r, &in); err != nil {
		rt.writeError(w, r, err)
		return
	}
	in.CourseID = courseID(r)
	a, err := rt.svc.Analyses.Record(r.Context(), in)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (rt *Router) handleGenerateInsight(w http.ResponseWriter, r *http.Request) {
	rec, err := rt.svc.Insights.Generate(r.Context(), courseID(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

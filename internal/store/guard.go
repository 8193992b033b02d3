package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// Step adds Columns to Table, creating the table when it does not exist.
type Step struct {
	Table   string
	Columns []string
}

// Migration is one entry of the append-only schema history. Entries are never
// edited once released; new columns arrive as new migrations.
type Migration struct {
	ID    string
	Steps []Step
}

// Migrations is applied in order by EnsureSchema. Applying every step to an
// empty workbook yields each table's canonical header.
var Migrations = []Migration{
	{
		ID: "0001_initial",
		Steps: []Step{
			{Table: TableCourses, Columns: []string{"courseId", "title", "description", "category", "createdAt", "status", "ownerId"}},
			{Table: TableSurveySettings, Columns: []string{"courseId", "isActive", "startDate", "endDate", "maxResponses"}},
			{Table: TableQuestions, Columns: []string{"questionId", "courseId", "order", "text", "type", "choicesJson", "ratingMax", "isRequired", "maxChars"}},
			{Table: TableResponses, Columns: []string{"responseId", "courseId", "questionId", "answer", "answeredAt", "respondentHash", "sessionId", "ipMasked"}},
			{Table: TableResponseStats, Columns: []string{"courseId", "totalQuestions", "totalResponses", "responseRate", "lastUpdatedAt"}},
			{Table: TableAnalysis, Columns: []string{"analysisId", "courseId", "analyzedAt", "objectiveJson", "ratingJson", "subjectiveJson", "insightsText", "actionItemsText", "confidence"}},
		},
	},
	{
		ID:    "0002_response_submission_id",
		Steps: []Step{{Table: TableResponses, Columns: []string{"submissionId"}}},
	},
	{
		ID:    "0003_course_updated_at",
		Steps: []Step{{Table: TableCourses, Columns: []string{"updatedAt"}}},
	},
}

// Report describes what EnsureSchema changed. A second run on the same
// workbook returns an empty report.
type Report struct {
	Created []string            `json:"created"`
	Added   map[string][]string `json:"added"`
	Applied []string            `json:"applied"`
}

func (r Report) Changed() bool { return len(r.Created) > 0 || len(r.Added) > 0 }

// tableState is the guard's working view of one table while planning.
type tableState struct {
	exists  bool
	header  []string
	before  int
	created bool
}

// Guard keeps the workbook structure in line with the migration list and
// plans course deletions across owned tables.
type Guard struct {
	store *Store
	log   *slog.Logger
}

func NewGuard(s *Store) *Guard {
	return &Guard{store: s, log: s.log.With(slog.String("component", "schema"))}
}

// EnsureSchema creates missing tables and appends missing columns. Existing
// columns are never removed or reordered; unknown extra columns are kept.
func (g *Guard) EnsureSchema(ctx context.Context) (Report, error) {
	report := Report{Added: map[string][]string{}}
	b := g.store.backend
	cctx, cancel := g.store.withTimeout(ctx)
	defer cancel()

	names, err := b.Tables(cctx)
	if err != nil {
		return report, g.unreachable(cctx, err)
	}
	states := map[string]*tableState{}
	for _, t := range AllTables {
		st := &tableState{}
		if slices.Contains(names, t.Name) {
			h, err := b.Header(cctx, t.Name)
			if err != nil {
				return report, g.unreachable(cctx, err)
			}
			if err := g.checkHeader(cctx, t, h); err != nil {
				return report, err
			}
			st.exists = true
			st.header = slices.Clone(h)
			st.before = len(h)
		}
		states[t.Name] = st
	}

	for _, m := range Migrations {
		changed := false
		for _, step := range m.Steps {
			st := states[step.Table]
			if !st.exists {
				st.exists, st.created = true, true
			}
			for _, col := range step.Columns {
				if !slices.Contains(st.header, col) {
					st.header = append(st.header, col)
					changed = true
				}
			}
		}
		if changed {
			report.Applied = append(report.Applied, m.ID)
		}
	}

	for _, t := range AllTables {
		st := states[t.Name]
		switch {
		case st.created:
			if err := b.CreateTable(cctx, t.Name, st.header); err != nil {
				return report, g.unreachable(cctx, err)
			}
			report.Created = append(report.Created, t.Name)
			g.log.Info("table created", slog.String("table", t.Name), slog.Int("columns", len(st.header)))
		case len(st.header) > st.before:
			if err := b.SetHeader(cctx, t.Name, st.header); err != nil {
				return report, g.unreachable(cctx, err)
			}
			added := slices.Clone(st.header[st.before:])
			report.Added[t.Name] = added
			g.log.Info("columns added", slog.String("table", t.Name), slog.Any("columns", added))
		}
		g.store.cacheHeader(t.Name, st.header)
	}
	if len(report.Added) == 0 {
		report.Added = nil
	}
	return report, nil
}

func (g *Guard) unreachable(ctx context.Context, err error) error {
	var se *SchemaError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &StorageTimeoutError{Table: "*", Op: "ensure_schema", Err: err}
	}
	return &SchemaError{Reason: "backend unreachable", Err: err}
}

// checkHeader rejects headers that cannot be extended additively.
func (g *Guard) checkHeader(ctx context.Context, t *Table, header []string) error {
	seen := map[string]bool{}
	for i, name := range header {
		if name == "" {
			return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("blank column name at position %d", i+1)}
		}
		if seen[name] {
			return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("duplicate column %q", name)}
		}
		seen[name] = true
	}
	if seen[t.Key] {
		return nil
	}
	rows, err := g.store.backend.Rows(ctx, t.Name)
	if err != nil {
		return g.unreachable(ctx, err)
	}
	if len(rows) > 0 {
		return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("key column %q missing on a table with %d data rows", t.Key, len(rows))}
	}
	return nil
}

// CascadePlan lists, for one course, the tables whose rows are removed with
// it and the tables whose rows only reference it.
type CascadePlan struct {
	CourseID string
	// Owned are deleted in this order; the course row goes last.
	Owned []string
	// Referencing rows are reported, never deleted.
	Referencing []string
}

func (g *Guard) PlanCascade(courseID string) CascadePlan {
	return CascadePlan{
		CourseID:    courseID,
		Owned:       []string{TableQuestions, TableSurveySettings, TableResponseStats, TableCourses},
		Referencing: []string{TableResponses, TableAnalysis},
	}
}

type CascadeResult = models.CascadeReport

// DeleteCourse executes the cascade plan. A missing course is NotFoundError
// and nothing is touched.
func (g *Guard) DeleteCourse(ctx context.Context, courseID string) (CascadeResult, error) {
	res := CascadeResult{Deleted: map[string]int{}, Orphaned: map[string]int{}}
	if _, err := g.store.Get(ctx, TableCourses, courseID); err != nil {
		return res, err
	}
	plan := g.PlanCascade(courseID)
	for _, table := range plan.Owned {
		n, err := g.store.DeleteWhere(ctx, table, Where(Eq(ColCourseID, courseID)))
		if err != nil {
			return res, fmt.Errorf("cascade %s: %w", courseID, err)
		}
		res.Deleted[table] = n
	}
	for _, table := range plan.Referencing {
		n := 0
		for _, err := range g.store.List(ctx, table, Where(Eq(ColCourseID, courseID))) {
			if err != nil {
				return res, fmt.Errorf("cascade %s: %w", courseID, err)
			}
			n++
		}
		res.Orphaned[table] = n
	}
	g.log.Info("course deleted",
		slog.String("course_id", courseID),
		slog.Any("deleted", res.Deleted),
		slog.Any("orphaned", res.Orphaned))
	return res, nil
}

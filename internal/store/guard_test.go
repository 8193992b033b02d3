package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/sheets"
)

func dumpHeaders(t *testing.T, b sheets.Backend) []byte {
	t.Helper()
	var buf bytes.Buffer
	names, err := b.Tables(context.Background())
	require.NoError(t, err)
	for _, name := range names {
		h, err := b.Header(context.Background(), name)
		require.NoError(t, err)
		fmt.Fprintf(&buf, "%s: %s\n", name, strings.Join(h, ","))
	}
	return buf.Bytes()
}

func TestEnsureSchemaCreatesCanonicalHeaders(t *testing.T) {
	mem := sheets.NewMemory()
	g := NewGuard(New(mem, Options{}))

	report, err := g.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Created, 6)
	assert.Equal(t, []string{"0001_initial", "0002_response_submission_id", "0003_course_updated_at"}, report.Applied)

	gd := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	gd.Assert(t, "canonical_headers", dumpHeaders(t, mem))
}

func TestMigrationsMatchDeclaredColumns(t *testing.T) {
	for _, tbl := range AllTables {
		var cols []string
		for _, m := range Migrations {
			for _, st := range m.Steps {
				if st.Table == tbl.Name {
					cols = append(cols, st.Columns...)
				}
			}
		}
		assert.Equal(t, tbl.Header(), cols, tbl.Name)
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	mem := sheets.NewMemory()
	g := NewGuard(New(mem, Options{}))
	_, err := g.EnsureSchema(context.Background())
	require.NoError(t, err)
	first := dumpHeaders(t, mem)

	for i := 0; i < 3; i++ {
		report, err := g.EnsureSchema(context.Background())
		require.NoError(t, err)
		assert.False(t, report.Changed())
		assert.Empty(t, report.Applied)
	}
	assert.Equal(t, string(first), string(dumpHeaders(t, mem)))
}

func TestEnsureSchemaAppendsMissingColumnsOnly(t *testing.T) {
	mem := sheets.NewMemory()
	ctx := context.Background()
	// a workbook from before submission ids, with an operator-added column
	legacy := []string{"responseId", "courseId", "questionId", "answer", "answeredAt", "respondentHash", "sessionId", "ipMasked", "note"}
	require.NoError(t, mem.CreateTable(ctx, TableResponses, legacy))
	require.NoError(t, mem.Append(ctx, TableResponses, [][]string{{"r1", "C1", "q1", "4", "2025-01-01T00:00:00Z", "h", "s", "10.0.0.0", "kept"}}))

	report, err := NewGuard(New(mem, Options{})).EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"submissionId"}, report.Added[TableResponses])
	assert.NotContains(t, report.Created, TableResponses)

	h, err := mem.Header(ctx, TableResponses)
	require.NoError(t, err)
	assert.Equal(t, append(legacy, "submissionId"), h)

	rows, err := mem.Rows(ctx, TableResponses)
	require.NoError(t, err)
	assert.Equal(t, "kept", rows[0][8])
}

func TestEnsureSchemaRejectsIncompatibleHeaders(t *testing.T) {
	cases := map[string]struct {
		header []string
		rows   [][]string
	}{
		"duplicate": {header: []string{"courseId", "title", "title"}},
		"blank":     {header: []string{"courseId", "", "title"}},
		"key missing with data": {
			header: []string{"title", "status"},
			rows:   [][]string{{"Intro", "draft"}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			mem := sheets.NewMemory()
			ctx := context.Background()
			require.NoError(t, mem.CreateTable(ctx, TableCourses, tc.header))
			if tc.rows != nil {
				require.NoError(t, mem.Append(ctx, TableCourses, tc.rows))
			}
			_, err := NewGuard(New(mem, Options{})).EnsureSchema(ctx)
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, TableCourses, se.Table)
		})
	}
}

func TestEnsureSchemaAddsKeyToEmptyTable(t *testing.T) {
	mem := sheets.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.CreateTable(ctx, TableCourses, []string{"title"}))
	report, err := NewGuard(New(mem, Options{})).EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.Added[TableCourses], "courseId")
}

type downBackend struct{ sheets.Backend }

func (downBackend) Tables(context.Context) ([]string, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestEnsureSchemaUnreachableBackend(t *testing.T) {
	_, err := NewGuard(New(downBackend{}, Options{})).EnsureSchema(context.Background())
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "backend unreachable", se.Reason)
}

func TestDeleteCourseCascades(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Insert(ctx, TableCourses, Record{"courseId": "C1", "title": "t", "createdAt": "2025-01-01T00:00:00Z", "status": "active"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, TableSurveySettings, Record{"courseId": "C1", "isActive": "TRUE"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.Insert(ctx, TableQuestions, questionRec(fmt.Sprintf("q%d", i), "C1", i))
		require.NoError(t, err)
	}
	_, err = s.Insert(ctx, TableQuestions, questionRec("keep", "C2", 1))
	require.NoError(t, err)
	_, err = s.InsertMany(ctx, TableResponses, []Record{
		{"courseId": "C1", "questionId": "q0", "answeredAt": "2025-01-02T00:00:00Z", "respondentHash": "h1"},
		{"courseId": "C1", "questionId": "q1", "answeredAt": "2025-01-02T00:00:00Z", "respondentHash": "h1"},
	})
	require.NoError(t, err)

	g := NewGuard(s)
	res, err := g.DeleteCourse(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{TableQuestions: 3, TableSurveySettings: 1, TableResponseStats: 0, TableCourses: 1}, res.Deleted)
	assert.Equal(t, map[string]int{TableResponses: 2, TableAnalysis: 0}, res.Orphaned)

	left, err := s.All(ctx, TableQuestions, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "keep", left[0]["questionId"])

	_, err = g.DeleteCourse(ctx, "C1")
	assert.True(t, IsNotFound(err))
}

package services

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, b []byte) [][]string {
	t.Helper()
	recs, err := csv.NewReader(strings.NewReader(string(b))).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestExportFormats(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()
	_, err := f.responses.Submit(ctx, SubmitRequest{CourseID: "C1", SessionID: "a", SubmissionID: "s1", RemoteAddr: "203.0.113.7",
		Answers: map[string]any{"q1": 4, "q2": "A", "q3": "Clear, \"good\" pace"}})
	require.NoError(t, err)
	f.clock.advance(time.Hour)
	_, err = f.responses.Submit(ctx, SubmitRequest{CourseID: "C1", SessionID: "b", SubmissionID: "s2", Answers: map[string]any{"q3": "ok"}})
	require.NoError(t, err)

	out, err := f.responses.Export(ctx, "C1", "")
	require.NoError(t, err)
	long := readCSV(t, out)
	require.Len(t, long, 5)
	assert.Equal(t, []string{"submission_id", "respondent_hash", "question_id", "answer", "answered_at"}, long[0])
	assert.Equal(t, "Clear, \"good\" pace", long[3][3])
	assert.Equal(t, "2025-03-10T09:00:00Z", long[1][4])
	assert.NotContains(t, string(out), "203.0.113")

	out, err = f.responses.Export(ctx, "C1", ExportWide)
	require.NoError(t, err)
	wide := readCSV(t, out)
	require.Len(t, wide, 3)
	assert.Equal(t, []string{"submission_id", "respondent_hash", "answered_at", "q1", "q2", "q3"}, wide[0])
	assert.Equal(t, "s1", wide[1][0])
	assert.Equal(t, []string{"4", "A", "Clear, \"good\" pace"}, wide[1][3:])
	assert.Equal(t, []string{"", "", "ok"}, wide[2][3:])
	assert.Equal(t, "2025-03-10T10:00:00Z", wide[2][2])
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.responses.Export(context.Background(), "C1", "xlsx")
	se := requireCode(t, err, ErrorInvalidInput)
	assert.Equal(t, "format", se.Key)

	_, err = f.responses.Export(context.Background(), " ", ExportLong)
	requireCode(t, err, ErrorInvalidInput)
}

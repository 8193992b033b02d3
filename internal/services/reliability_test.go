package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

func TestCronbachAlpha(t *testing.T) {
	cases := []struct {
		name   string
		matrix [][]float64
		want   float64
	}{
		{"perfectly correlated", [][]float64{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}, {4, 4, 4}}, 1},
		{"negatively correlated clamps to zero", [][]float64{{1, 5}, {5, 1}, {2, 4}}, 0},
		{"single item", [][]float64{{1}, {2}}, 0},
		{"single respondent", [][]float64{{1, 2}}, 0},
		{"no variance", [][]float64{{3, 3}, {3, 3}}, 0},
		{"ragged", [][]float64{{1, 2}, {3}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, CronbachAlpha(tc.matrix), 1e-9)
		})
	}
	assert.InDelta(t, 1.0, CronbachAlpha([][]float64{{1, 1}, {2, 2}, {3, 3}}), 1e-9)
	// item vars 2 and 1.2, total var 6
	assert.InDelta(t, 0.933, CronbachAlpha([][]float64{{1, 2}, {2, 2}, {3, 3}, {4, 3}, {5, 5}}), 0.001)
}

func TestSummaryReliability(t *testing.T) {
	f := newFixture(t)
	f.seedC1(t)
	ctx := context.Background()
	_, err := f.courses.SaveQuestion(ctx, models.Question{ID: "q4", CourseID: "C1", Order: 4, Text: "Pace", Type: models.Rating, RatingMax: 5})
	require.NoError(t, err)

	sum, err := f.analytics.Summary(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, sum.Reliability)

	for i, pair := range [][2]int{{1, 1}, {3, 3}, {5, 5}} {
		_, err := f.responses.Submit(ctx, SubmitRequest{
			CourseID:  "C1",
			SessionID: string(rune('a' + i)),
			Answers:   map[string]any{"q1": pair[0], "q4": pair[1], "q3": "ok"},
		})
		require.NoError(t, err)
	}
	// incomplete submissions are left out of the matrix
	_, err = f.responses.Submit(ctx, SubmitRequest{CourseID: "C1", SessionID: "z", Answers: map[string]any{"q1": 2, "q3": "ok"}})
	require.NoError(t, err)

	sum, err = f.analytics.Summary(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, sum.Reliability)
	assert.Equal(t, 2, sum.Reliability.Items)
	assert.Equal(t, 3, sum.Reliability.Submissions)
	assert.InDelta(t, 1.0, sum.Reliability.Alpha, 1e-9)
}

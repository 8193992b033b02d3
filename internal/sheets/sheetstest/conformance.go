// Package sheetstest checks that a sheets.Backend behaves like a worksheet.
package sheetstest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/sheets"
)

// Run exercises the Backend contract against fresh workbooks from newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) sheets.Backend) {
	t.Run("tables keep creation order", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.CreateTable(ctx, "Courses", []string{"courseId", "title"}))
		require.NoError(t, b.CreateTable(ctx, "Questions", []string{"questionId"}))
		assert.Error(t, b.CreateTable(ctx, "Courses", []string{"x"}))

		names, err := b.Tables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Courses", "Questions"}, names)

		h, err := b.Header(ctx, "Courses")
		require.NoError(t, err)
		assert.Equal(t, []string{"courseId", "title"}, h)

		require.NoError(t, b.SetHeader(ctx, "Courses", []string{"courseId", "title", "status"}))
		h, err = b.Header(ctx, "Courses")
		require.NoError(t, err)
		assert.Equal(t, []string{"courseId", "title", "status"}, h)
	})

	t.Run("rows keep storage order", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.CreateTable(ctx, "T", []string{"k", "v"}))

		rows, err := b.Rows(ctx, "T")
		require.NoError(t, err)
		assert.Empty(t, rows)

		require.NoError(t, b.Append(ctx, "T", [][]string{{"a", "1"}, {"b", "2"}}))
		require.NoError(t, b.Append(ctx, "T", [][]string{{"c", "3"}}))
		require.NoError(t, b.UpdateRow(ctx, "T", 1, []string{"b", "20"}))
		require.NoError(t, b.DeleteRow(ctx, "T", 0))

		rows, err = b.Rows(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"b", "20"}, {"c", "3"}}, rows)
	})

	t.Run("returned rows are copies", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.CreateTable(ctx, "T", []string{"k"}))
		row := []string{"a"}
		require.NoError(t, b.Append(ctx, "T", [][]string{row}))
		row[0] = "mutated"

		rows, err := b.Rows(ctx, "T")
		require.NoError(t, err)
		rows[0][0] = "also mutated"
		rows, err = b.Rows(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, "a", rows[0][0])
	})

	t.Run("missing tables and rows", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		_, err := b.Header(ctx, "Nope")
		assert.ErrorIs(t, err, sheets.ErrTableNotFound)
		_, err = b.Rows(ctx, "Nope")
		assert.ErrorIs(t, err, sheets.ErrTableNotFound)
		assert.ErrorIs(t, b.Append(ctx, "Nope", [][]string{{"x"}}), sheets.ErrTableNotFound)
		assert.ErrorIs(t, b.SetHeader(ctx, "Nope", []string{"x"}), sheets.ErrTableNotFound)

		require.NoError(t, b.CreateTable(ctx, "T", []string{"k"}))
		assert.ErrorIs(t, b.UpdateRow(ctx, "T", 0, []string{"x"}), sheets.ErrRowOutOfRange)
		assert.ErrorIs(t, b.DeleteRow(ctx, "T", -1), sheets.ErrRowOutOfRange)
	})
}

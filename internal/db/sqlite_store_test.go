package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Coursepulse/internal/sheets"
	"github.com/soaringjerry/Coursepulse/internal/sheets/sheetstest"
)

func openTemp(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "workbook.db")
	s, err := Open(context.Background(), path, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteConformance(t *testing.T) {
	sheetstest.Run(t, func(t *testing.T) sheets.Backend {
		s, _ := openTemp(t)
		return s
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "Courses", []string{"courseId", "title"}))
	require.NoError(t, s.Append(ctx, "Courses", [][]string{{"C1", "Go, \"quoted\" and ünïcode"}}))
	require.NoError(t, s.Close())

	again, err := Open(ctx, path, "")
	require.NoError(t, err)
	defer again.Close()
	rows, err := again.Rows(ctx, "Courses")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"C1", "Go, \"quoted\" and ünïcode"}}, rows)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", "")
	assert.Error(t, err)
}

func TestMigrationsApplyOnce(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, s.db, ""))
	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

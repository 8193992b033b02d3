// Package sheets defines the tabular storage contract the data layer is built
// on and its implementations. A backend is a workbook: a set of named tables,
// each with a header row followed by data rows of string cells.
package sheets

import (
	"context"
	"errors"
	"fmt"
)

// ErrTableNotFound is returned when an operation addresses a table that does
// not exist in the workbook.
var ErrTableNotFound = errors.New("table not found")

// ErrRowOutOfRange is returned when a row index does not address a data row.
var ErrRowOutOfRange = errors.New("row index out of range")

// Backend is the storage contract. Row indexes are zero-based over data rows
// (the header is not counted). Implementations must be safe for concurrent use
// but are not required to serialize read-modify-write sequences; callers that
// need that hold their own lock.
type Backend interface {
	// Tables lists table names in workbook order.
	Tables(ctx context.Context) ([]string, error)
	// CreateTable adds a table with the given header. Creating an existing
	// table is an error.
	CreateTable(ctx context.Context, table string, header []string) error
	// Header returns the header row; an empty slice for a blank header.
	Header(ctx context.Context, table string) ([]string, error)
	// SetHeader overwrites the header row.
	SetHeader(ctx context.Context, table string, header []string) error
	// Rows returns all data rows in storage order.
	Rows(ctx context.Context, table string) ([][]string, error)
	// Append adds rows after the last data row in a single call.
	Append(ctx context.Context, table string, rows [][]string) error
	// UpdateRow overwrites the data row at index.
	UpdateRow(ctx context.Context, table string, index int, row []string) error
	// DeleteRow removes the data row at index, shifting later rows up.
	DeleteRow(ctx context.Context, table string, index int) error
}

func tableErr(table string) error {
	return fmt.Errorf("%w: %s", ErrTableNotFound, table)
}

func rowErr(table string, index int) error {
	return fmt.Errorf("%w: %s[%d]", ErrRowOutOfRange, table, index)
}

func cloneRow(row []string) []string {
	return append([]string(nil), row...)
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneRow(r))
	}
	return out
}

package sheets

import (
	"context"
	"fmt"
	"sync"
)

type memoryTable struct {
	header []string
	rows   [][]string
}

// Memory is an in-process workbook used by tests and the `memory` backend.
type Memory struct {
	mu     sync.RWMutex
	order  []string
	tables map[string]*memoryTable
}

// NewMemory returns an empty workbook.
func NewMemory() *Memory {
	return &Memory{tables: map[string]*memoryTable{}}
}

var _ Backend = (*Memory)(nil)

func (m *Memory) Tables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) CreateTable(ctx context.Context, table string, header []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; ok {
		return fmt.Errorf("table %s already exists", table)
	}
	m.tables[table] = &memoryTable{header: cloneRow(header)}
	m.order = append(m.order, table)
	return nil
}

func (m *Memory) Header(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, tableErr(table)
	}
	return cloneRow(t.header), nil
}

func (m *Memory) SetHeader(ctx context.Context, table string, header []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return tableErr(table)
	}
	t.header = cloneRow(header)
	return nil
}

func (m *Memory) Rows(ctx context.Context, table string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, tableErr(table)
	}
	return cloneRows(t.rows), nil
}

func (m *Memory) Append(ctx context.Context, table string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return tableErr(table)
	}
	t.rows = append(t.rows, cloneRows(rows)...)
	return nil
}

func (m *Memory) UpdateRow(ctx context.Context, table string, index int, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return tableErr(table)
	}
	if index < 0 || index >= len(t.rows) {
		return rowErr(table, index)
	}
	t.rows[index] = cloneRow(row)
	return nil
}

func (m *Memory) DeleteRow(ctx context.Context, table string, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return tableErr(table)
	}
	if index < 0 || index >= len(t.rows) {
		return rowErr(table, index)
	}
	t.rows = append(t.rows[:index], t.rows[index+1:]...)
	return nil
}

// Package store is the record layer over a sheets.Backend: keyed rows mapped
// by header name, filtered listing, per-table serialized writes and the schema
// guard that keeps the workbook shaped the way the services expect.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/soaringjerry/Coursepulse/internal/sheets"
)

// Record is one row keyed by header name. Values are the raw cell strings.
type Record map[string]string

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

const DefaultTimeout = 15 * time.Second

type Options struct {
	// Timeout bounds each backend call; zero uses DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
	// NewKey generates primary keys for inserts that omit one.
	NewKey func() string
}

// Store maps records onto the backend. Writes to one table are serialized so
// read-modify-write sequences (update, delete, upsert) see a stable row order.
type Store struct {
	backend sheets.Backend
	timeout time.Duration
	log     *slog.Logger
	newKey  func() string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	headersMu sync.RWMutex
	headers   map[string][]string
	loads     singleflight.Group
}

func New(backend sheets.Backend, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewKey == nil {
		opts.NewKey = uuid.NewString
	}
	return &Store{
		backend: backend,
		timeout: opts.Timeout,
		log:     opts.Logger.With(slog.String("component", "store")),
		newKey:  opts.NewKey,
		locks:   map[string]*sync.Mutex{},
		headers: map[string][]string{},
	}
}

// Backend exposes the underlying workbook.
func (s *Store) Backend() sheets.Backend { return s.backend }

func (s *Store) lock(table string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[table]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[table] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wrap classifies backend failures. Deadline overruns become
// StorageTimeoutError; missing tables become SchemaError.
func (s *Store) wrap(ctx context.Context, table, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		se *SchemaError
		ve *ValidationError
		nf *NotFoundError
		dk *DuplicateKeyError
		te *StorageTimeoutError
	)
	if errors.As(err, &se) || errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &dk) || errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.log.Warn("storage timeout", slog.String("table", table), slog.String("op", op), slog.Any("error", err))
		return &StorageTimeoutError{Table: table, Op: op, Err: err}
	}
	if errors.Is(err, sheets.ErrTableNotFound) {
		return &SchemaError{Table: table, Reason: "table missing", Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func (s *Store) table(name string) (*Table, error) {
	t, ok := tableByName(name)
	if !ok {
		return nil, &SchemaError{Table: name, Reason: "unknown table"}
	}
	return t, nil
}

// header returns the cached header for table, loading it once on a miss even
// under concurrent callers. The shared load is detached from any one caller's
// cancellation and bounded by the store timeout instead.
func (s *Store) header(ctx context.Context, table string) ([]string, error) {
	s.headersMu.RLock()
	h, ok := s.headers[table]
	s.headersMu.RUnlock()
	if ok {
		return h, nil
	}
	ch := s.loads.DoChan(table, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		h, err := s.backend.Header(lctx, table)
		if err != nil {
			return nil, err
		}
		s.cacheHeader(table, h)
		return h, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

func (s *Store) cacheHeader(table string, h []string) {
	s.headersMu.Lock()
	s.headers[table] = slices.Clone(h)
	s.headersMu.Unlock()
}

// InvalidateHeaders drops cached headers so the next access rereads them.
func (s *Store) InvalidateHeaders() {
	s.headersMu.Lock()
	clear(s.headers)
	s.headersMu.Unlock()
}

func decodeRow(header, row []string) Record {
	rec := make(Record, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(row) {
			rec[name] = row[i]
		} else {
			rec[name] = ""
		}
	}
	return rec
}

func encodeRow(header []string, rec Record) []string {
	row := make([]string, len(header))
	for i, name := range header {
		row[i] = rec[name]
	}
	return row
}

// checkRecord validates rec against the declared columns and the live header.
func checkRecord(t *Table, header []string, rec Record, full bool) error {
	for name, v := range rec {
		col, ok := t.Column(name)
		if !ok {
			return &ValidationError{Table: t.Name, Column: name, Reason: "unknown column"}
		}
		if v == "" {
			continue
		}
		if !slices.Contains(header, name) {
			return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("column %q missing from header", name)}
		}
		if reason := checkValue(col, v); reason != "" {
			return &ValidationError{Table: t.Name, Column: name, Reason: reason}
		}
	}
	if full {
		for _, col := range t.Columns {
			if col.Required && rec[col.Name] == "" {
				return &ValidationError{Table: t.Name, Column: col.Name, Reason: "required"}
			}
		}
	}
	return nil
}

// snapshot reads the header and all rows of a table.
func (s *Store) snapshot(ctx context.Context, t *Table) ([]string, [][]string, error) {
	header, err := s.header(ctx, t.Name)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.backend.Rows(ctx, t.Name)
	if err != nil {
		return nil, nil, err
	}
	return header, rows, nil
}

func keyIndex(t *Table, header []string) (int, error) {
	idx := slices.Index(header, t.Key)
	if idx < 0 {
		return -1, &SchemaError{Table: t.Name, Reason: fmt.Sprintf("key column %q missing from header", t.Key)}
	}
	return idx, nil
}

func findRow(rows [][]string, keyCol int, key string) int {
	for i, r := range rows {
		if keyCol < len(r) && r[keyCol] == key {
			return i
		}
	}
	return -1
}

// List yields the records of table matching filter in storage order. Rows are
// read when iteration starts; each range over the sequence reads afresh.
func (s *Store) List(ctx context.Context, table string, filter Filter) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		t, err := s.table(table)
		if err == nil {
			err = filter.validate(t)
		}
		if err != nil {
			yield(nil, err)
			return
		}
		cctx, cancel := s.withTimeout(ctx)
		header, rows, err := s.snapshot(cctx, t)
		err = s.wrap(cctx, table, "list", err)
		cancel()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range rows {
			rec := decodeRow(header, row)
			if rec[t.Key] == "" {
				continue
			}
			if !filter.match(t, rec) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// All collects List into a slice.
func (s *Store) All(ctx context.Context, table string, filter Filter) ([]Record, error) {
	var out []Record
	for rec, err := range s.List(ctx, table, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns the record with the given key.
func (s *Store) Get(ctx context.Context, table, key string) (Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	for rec, err := range s.List(ctx, table, Where(Eq(t.Key, key))) {
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, &NotFoundError{Table: table, Key: key}
}

// Insert appends rec and returns its key, generating one when absent. An
// explicit key that already exists is rejected.
func (s *Store) Insert(ctx context.Context, table string, rec Record) (string, error) {
	keys, err := s.insert(ctx, table, []Record{rec}, true)
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

// InsertMany appends all records in one backend call. Every record is
// validated before anything is written.
func (s *Store) InsertMany(ctx context.Context, table string, recs []Record) ([]string, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	return s.insert(ctx, table, recs, false)
}

func (s *Store) insert(ctx context.Context, table string, recs []Record, checkDup bool) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(table)
	defer unlock()
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	header, err := s.header(cctx, table)
	if err != nil {
		return nil, s.wrap(cctx, table, "insert", err)
	}
	if _, err := keyIndex(t, header); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(recs))
	rows := make([][]string, 0, len(recs))
	var explicit []string
	for _, in := range recs {
		rec := in.clone()
		if rec[t.Key] == "" {
			rec[t.Key] = s.newKey()
		} else {
			explicit = append(explicit, rec[t.Key])
		}
		if err := checkRecord(t, header, rec, true); err != nil {
			return nil, err
		}
		keys = append(keys, rec[t.Key])
		rows = append(rows, encodeRow(header, rec))
	}
	if checkDup && len(explicit) > 0 {
		existing, err := s.backend.Rows(cctx, table)
		if err != nil {
			return nil, s.wrap(cctx, table, "insert", err)
		}
		keyCol, _ := keyIndex(t, header)
		for _, k := range explicit {
			if findRow(existing, keyCol, k) >= 0 {
				return nil, &DuplicateKeyError{Table: table, Key: k}
			}
		}
	}
	if err := s.backend.Append(cctx, table, rows); err != nil {
		return nil, s.wrap(cctx, table, "insert", err)
	}
	return keys, nil
}

// Update merges patch into the row with key. Columns absent from patch keep
// their stored values. The key and immutable columns cannot change.
func (s *Store) Update(ctx context.Context, table, key string, patch Record) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	unlock := s.lock(table)
	defer unlock()
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	header, rows, err := s.snapshot(cctx, t)
	if err != nil {
		return s.wrap(cctx, table, "update", err)
	}
	keyCol, err := keyIndex(t, header)
	if err != nil {
		return err
	}
	idx := findRow(rows, keyCol, key)
	if idx < 0 {
		return &NotFoundError{Table: table, Key: key}
	}
	current := decodeRow(header, rows[idx])
	merged, err := merge(t, current, patch, true)
	if err != nil {
		return err
	}
	if err := checkRecord(t, header, pick(t, merged), true); err != nil {
		return err
	}
	return s.wrap(cctx, table, "update", s.backend.UpdateRow(cctx, table, idx, encodeRow(header, merged)))
}

// Upsert updates the row whose key matches rec's key or appends rec when none
// does. On update, immutable columns keep their stored values. It reports
// whether a row was inserted.
func (s *Store) Upsert(ctx context.Context, table string, rec Record) (bool, error) {
	t, err := s.table(table)
	if err != nil {
		return false, err
	}
	key := rec[t.Key]
	if key == "" {
		return false, &ValidationError{Table: table, Column: t.Key, Reason: "required"}
	}
	unlock := s.lock(table)
	defer unlock()
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	header, rows, err := s.snapshot(cctx, t)
	if err != nil {
		return false, s.wrap(cctx, table, "upsert", err)
	}
	keyCol, err := keyIndex(t, header)
	if err != nil {
		return false, err
	}
	idx := findRow(rows, keyCol, key)
	if idx < 0 {
		if err := checkRecord(t, header, rec, true); err != nil {
			return false, err
		}
		return true, s.wrap(cctx, table, "upsert", s.backend.Append(cctx, table, [][]string{encodeRow(header, rec)}))
	}
	current := decodeRow(header, rows[idx])
	merged, err := merge(t, current, rec, false)
	if err != nil {
		return false, err
	}
	if err := checkRecord(t, header, pick(t, merged), true); err != nil {
		return false, err
	}
	return false, s.wrap(cctx, table, "upsert", s.backend.UpdateRow(cctx, table, idx, encodeRow(header, merged)))
}

// merge applies patch over current. With strict set, a patch that changes an
// immutable column is rejected; otherwise the stored value silently wins.
func merge(t *Table, current, patch Record, strict bool) (Record, error) {
	out := current.clone()
	for name, v := range patch {
		col, ok := t.Column(name)
		if !ok {
			return nil, &ValidationError{Table: t.Name, Column: name, Reason: "unknown column"}
		}
		if name == t.Key && v != current[name] {
			return nil, &ValidationError{Table: t.Name, Column: name, Reason: "key cannot change"}
		}
		if col.Immutable && current[name] != "" && v != current[name] {
			if strict {
				return nil, &ValidationError{Table: t.Name, Column: name, Reason: "immutable"}
			}
			continue
		}
		out[name] = v
	}
	return out, nil
}

// pick drops header-only columns the table does not declare.
func pick(t *Table, rec Record) Record {
	out := make(Record, len(t.Columns))
	for _, c := range t.Columns {
		if v, ok := rec[c.Name]; ok {
			out[c.Name] = v
		}
	}
	return out
}

// Delete removes the row with key.
func (s *Store) Delete(ctx context.Context, table, key string) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	n, err := s.deleteWhere(ctx, t, Where(Eq(t.Key, key)), 1)
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Table: table, Key: key}
	}
	return nil
}

// DeleteWhere removes every row matching filter and returns how many went.
func (s *Store) DeleteWhere(ctx context.Context, table string, filter Filter) (int, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, &ValidationError{Table: table, Column: t.Key, Reason: "refusing to delete without a filter"}
	}
	return s.deleteWhere(ctx, t, filter, -1)
}

func (s *Store) deleteWhere(ctx context.Context, t *Table, filter Filter, limit int) (int, error) {
	if err := filter.validate(t); err != nil {
		return 0, err
	}
	unlock := s.lock(t.Name)
	defer unlock()
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	header, rows, err := s.snapshot(cctx, t)
	if err != nil {
		return 0, s.wrap(cctx, t.Name, "delete", err)
	}
	var hits []int
	for i, row := range rows {
		rec := decodeRow(header, row)
		if rec[t.Key] != "" && filter.match(t, rec) {
			hits = append(hits, i)
			if limit > 0 && len(hits) == limit {
				break
			}
		}
	}
	// bottom-up so earlier indexes stay valid
	for i := len(hits) - 1; i >= 0; i-- {
		if err := s.backend.DeleteRow(cctx, t.Name, hits[i]); err != nil {
			return len(hits) - 1 - i, s.wrap(cctx, t.Name, "delete", err)
		}
	}
	if len(hits) > 0 {
		s.log.Debug("rows deleted", slog.String("table", t.Name), slog.Int("count", len(hits)))
	}
	return len(hits), nil
}

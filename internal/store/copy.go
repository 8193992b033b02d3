package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// CopyReport counts the rows written per table. Tables left alone because the
// destination already held rows, or because the source lacks them, are listed
// under Skipped.
type CopyReport struct {
	Copied  map[string]int    `json:"copied"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// Copy moves every known table from src into dst. The destination schema is
// ensured first; a table that already has rows in dst is not touched, so
// rerunning a finished copy is a no-op. Columns the schema does not declare
// are dropped and keys are preserved.
func Copy(ctx context.Context, src, dst *Store) (CopyReport, error) {
	rep := CopyReport{Copied: map[string]int{}, Skipped: map[string]string{}}
	if _, err := NewGuard(dst).EnsureSchema(ctx); err != nil {
		return rep, fmt.Errorf("prepare destination: %w", err)
	}
	for _, t := range AllTables {
		existing, err := dst.All(ctx, t.Name, nil)
		if err != nil {
			return rep, fmt.Errorf("read destination %s: %w", t.Name, err)
		}
		if len(existing) > 0 {
			rep.Skipped[t.Name] = fmt.Sprintf("destination has %d rows", len(existing))
			continue
		}
		recs, err := src.All(ctx, t.Name, nil)
		if err != nil {
			var se *SchemaError
			if errors.As(err, &se) && se.Reason == "table missing" {
				rep.Skipped[t.Name] = "missing in source"
				continue
			}
			return rep, fmt.Errorf("read source %s: %w", t.Name, err)
		}
		batch := make([]Record, 0, len(recs))
		for _, r := range recs {
			if r[t.Key] == "" {
				continue
			}
			out := make(Record, len(t.Columns))
			for _, c := range t.Columns {
				if v := r[c.Name]; v != "" {
					out[c.Name] = v
				}
			}
			batch = append(batch, out)
		}
		if _, err := dst.InsertMany(ctx, t.Name, batch); err != nil {
			return rep, fmt.Errorf("write %s: %w", t.Name, err)
		}
		rep.Copied[t.Name] = len(batch)
		dst.log.Info("table copied", slog.String("table", t.Name), slog.Int("rows", len(batch)))
	}
	if len(rep.Skipped) == 0 {
		rep.Skipped = nil
	}
	return rep, nil
}

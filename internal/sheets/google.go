package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// GoogleOptions configures the Google Sheets backend.
type GoogleOptions struct {
	SpreadsheetID string
	// CredentialsJSON is a service account key. When empty, application
	// default credentials are used.
	CredentialsJSON []byte
	// RequestsPerSecond throttles API calls; Sheets allows 60 requests per
	// minute per user by default.
	RequestsPerSecond float64
	Burst             int
	// ClientOptions are appended to the API client options (endpoint
	// overrides in tests).
	ClientOptions []option.ClientOption
}

// Google stores each table as a worksheet of one spreadsheet.
type Google struct {
	svc     *sheetsapi.Service
	id      string
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
}

var _ Backend = (*Google)(nil)

const maxAttempts = 3

// NewGoogle connects to the spreadsheet identified by opts.SpreadsheetID.
func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	clientOpts := append([]option.ClientOption(nil), opts.ClientOptions...)
	if len(opts.CredentialsJSON) > 0 {
		creds, err := google.CredentialsFromJSON(ctx, opts.CredentialsJSON, sheetsapi.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}
	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Google{
		svc:      svc,
		id:       opts.SpreadsheetID,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   slog.Default().With(slog.String("component", "sheets")),
		sheetIDs: map[string]int64{},
	}, nil
}

func (g *Google) Tables(ctx context.Context) ([]string, error) {
	var ss *sheetsapi.Spreadsheet
	err := g.call(ctx, "tables", func() error {
		var err error
		ss, err = g.svc.Spreadsheets.Get(g.id).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		g.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
		names = append(names, sh.Properties.Title)
	}
	return names, nil
}

func (g *Google) CreateTable(ctx context.Context, table string, header []string) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: table},
			},
		}},
	}
	var resp *sheetsapi.BatchUpdateSpreadsheetResponse
	err := g.call(ctx, "create "+table, func() error {
		var err error
		resp, err = g.svc.Spreadsheets.BatchUpdate(g.id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		g.mu.Lock()
		g.sheetIDs[table] = resp.Replies[0].AddSheet.Properties.SheetId
		g.mu.Unlock()
	}
	g.logger.Info("worksheet created", slog.String("table", table))
	return g.SetHeader(ctx, table, header)
}

func (g *Google) Header(ctx context.Context, table string) ([]string, error) {
	rows, err := g.values(ctx, quoteSheet(table)+"!1:1")
	if err != nil {
		return nil, g.mapErr(table, err)
	}
	if len(rows) == 0 {
		return []string{}, nil
	}
	return rows[0], nil
}

func (g *Google) SetHeader(ctx context.Context, table string, header []string) error {
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{toCells(header)}}
	err := g.call(ctx, "set header "+table, func() error {
		_, err := g.svc.Spreadsheets.Values.Update(g.id, quoteSheet(table)+"!1:1", vr).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	return g.mapErr(table, err)
}

func (g *Google) Rows(ctx context.Context, table string) ([][]string, error) {
	rows, err := g.values(ctx, quoteSheet(table))
	if err != nil {
		return nil, g.mapErr(table, err)
	}
	if len(rows) <= 1 {
		return [][]string{}, nil
	}
	return rows[1:], nil
}

func (g *Google) Append(ctx context.Context, table string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, toCells(r))
	}
	vr := &sheetsapi.ValueRange{Values: values}
	err := g.call(ctx, "append "+table, func() error {
		_, err := g.svc.Spreadsheets.Values.Append(g.id, quoteSheet(table)+"!A1", vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	return g.mapErr(table, err)
}

func (g *Google) UpdateRow(ctx context.Context, table string, index int, row []string) error {
	if index < 0 {
		return rowErr(table, index)
	}
	// data row i lives on sheet row i+2 (1-based, after the header)
	rng := fmt.Sprintf("%s!A%d", quoteSheet(table), index+2)
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{toCells(row)}}
	err := g.call(ctx, "update "+table, func() error {
		_, err := g.svc.Spreadsheets.Values.Update(g.id, rng, vr).ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	return g.mapErr(table, err)
}

func (g *Google) DeleteRow(ctx context.Context, table string, index int) error {
	if index < 0 {
		return rowErr(table, index)
	}
	sheetID, err := g.sheetID(ctx, table)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			DeleteDimension: &sheetsapi.DeleteDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(index + 1),
					EndIndex:   int64(index + 2),
				},
			},
		}},
	}
	err = g.call(ctx, "delete row "+table, func() error {
		_, err := g.svc.Spreadsheets.BatchUpdate(g.id, req).Context(ctx).Do()
		return err
	})
	return g.mapErr(table, err)
}

func (g *Google) sheetID(ctx context.Context, table string) (int64, error) {
	g.mu.Lock()
	id, ok := g.sheetIDs[table]
	g.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := g.Tables(ctx); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok = g.sheetIDs[table]
	if !ok {
		return 0, tableErr(table)
	}
	return id, nil
}

func (g *Google) values(ctx context.Context, rng string) ([][]string, error) {
	var vr *sheetsapi.ValueRange
	err := g.call(ctx, "read "+rng, func() error {
		var err error
		vr, err = g.svc.Spreadsheets.Values.Get(g.id, rng).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(vr.Values))
	for _, r := range vr.Values {
		out = append(out, fromCells(r))
	}
	return out, nil
}

// call throttles fn through the limiter and retries quota and availability
// errors with exponential backoff.
func (g *Google) call(ctx context.Context, op string, fn func() error) error {
	backoff := 500 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if werr := g.limiter.Wait(ctx); werr != nil {
			return werr
		}
		err = fn()
		if err == nil || !retryable(err) || attempt == maxAttempts {
			return err
		}
		g.logger.Warn("sheets call retry", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (g *Google) mapErr(table string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range") {
		return tableErr(table)
	}
	return err
}

func retryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
}

func quoteSheet(table string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'"
}

func toCells(row []string) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

func fromCells(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = s
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

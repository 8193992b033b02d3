package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeJSON
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeJSON:
		return "json"
	}
	return "string"
}

// Column declares one header cell and how its values are validated.
type Column struct {
	Name      string
	Type      ColumnType
	Required  bool
	Immutable bool
}

// Table is the declared shape of one worksheet. Key names the primary key
// column. Columns are listed in canonical header order.
type Table struct {
	Name    string
	Key     string
	Columns []Column
}

// Header returns the canonical header row.
func (t *Table) Header() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Column looks up a declared column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

const (
	TableCourses        = "Courses"
	TableSurveySettings = "SurveySettings"
	TableQuestions      = "Questions"
	TableResponses      = "Responses"
	TableResponseStats  = "ResponseStats"
	TableAnalysis       = "Analysis"
)

// Column names shared across tables.
const (
	ColCourseID     = "courseId"
	ColQuestionID   = "questionId"
	ColSubmissionID = "submissionId"
)

var (
	Courses = &Table{
		Name: TableCourses,
		Key:  ColCourseID,
		Columns: []Column{
			{Name: ColCourseID, Required: true},
			{Name: "title", Required: true},
			{Name: "description"},
			{Name: "category"},
			{Name: "createdAt", Type: TypeTime, Required: true, Immutable: true},
			{Name: "status", Required: true},
			{Name: "ownerId"},
			{Name: "updatedAt", Type: TypeTime},
		},
	}
	SurveySettings = &Table{
		Name: TableSurveySettings,
		Key:  ColCourseID,
		Columns: []Column{
			{Name: ColCourseID, Required: true},
			{Name: "isActive", Type: TypeBool},
			{Name: "startDate", Type: TypeTime},
			{Name: "endDate", Type: TypeTime},
			{Name: "maxResponses", Type: TypeInt},
		},
	}
	Questions = &Table{
		Name: TableQuestions,
		Key:  ColQuestionID,
		Columns: []Column{
			{Name: ColQuestionID, Required: true},
			{Name: ColCourseID, Required: true},
			{Name: "order", Type: TypeInt, Required: true},
			{Name: "text", Required: true},
			{Name: "type", Required: true},
			{Name: "choicesJson", Type: TypeJSON},
			{Name: "ratingMax", Type: TypeInt},
			{Name: "isRequired", Type: TypeBool},
			{Name: "maxChars", Type: TypeInt},
		},
	}
	Responses = &Table{
		Name: TableResponses,
		Key:  "responseId",
		Columns: []Column{
			{Name: "responseId", Required: true},
			{Name: ColCourseID, Required: true},
			{Name: ColQuestionID, Required: true},
			{Name: "answer"},
			{Name: "answeredAt", Type: TypeTime, Required: true},
			{Name: "respondentHash", Required: true},
			{Name: "sessionId"},
			{Name: "ipMasked"},
			{Name: ColSubmissionID},
		},
	}
	ResponseStats = &Table{
		Name: TableResponseStats,
		Key:  ColCourseID,
		Columns: []Column{
			{Name: ColCourseID, Required: true},
			{Name: "totalQuestions", Type: TypeInt},
			{Name: "totalResponses", Type: TypeInt},
			{Name: "responseRate", Type: TypeFloat},
			{Name: "lastUpdatedAt", Type: TypeTime},
		},
	}
	Analysis = &Table{
		Name: TableAnalysis,
		Key:  "analysisId",
		Columns: []Column{
			{Name: "analysisId", Required: true},
			{Name: ColCourseID, Required: true},
			{Name: "analyzedAt", Type: TypeTime, Required: true, Immutable: true},
			{Name: "objectiveJson", Type: TypeJSON},
			{Name: "ratingJson", Type: TypeJSON},
			{Name: "subjectiveJson", Type: TypeJSON},
			{Name: "insightsText"},
			{Name: "actionItemsText"},
			{Name: "confidence", Type: TypeFloat},
		},
	}
)

// AllTables lists the logical tables in workbook order.
var AllTables = []*Table{Courses, SurveySettings, Questions, Responses, ResponseStats, Analysis}

func tableByName(name string) (*Table, bool) {
	for _, t := range AllTables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// checkValue validates a non-empty cell against its column type.
func checkValue(c Column, v string) string {
	switch c.Type {
	case TypeInt:
		if _, err := strconv.Atoi(v); err != nil {
			return "not an integer"
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "not a number"
		}
	case TypeBool:
		if _, ok := ParseBool(v); !ok {
			return "not a boolean"
		}
	case TypeTime:
		if _, err := ParseTime(v); err != nil {
			return "not a timestamp"
		}
	case TypeJSON:
		if !json.Valid([]byte(v)) {
			return "not valid JSON"
		}
	}
	return ""
}

// FormatBool renders booleans the way spreadsheets display them.
func FormatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ParseBool accepts spreadsheet and common textual booleans.
func ParseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n", "":
		return false, true
	}
	return false, false
}

const dateLayout = "2006-01-02"

// FormatTime renders t as RFC 3339 in UTC; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts RFC 3339 timestamps and plain dates; empty is zero.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, strings.ReplaceAll(v, "/", "-"))
}

// IsDateOnly reports whether v carries a calendar date without a time.
func IsDateOnly(v string) bool {
	_, err := time.Parse(dateLayout, strings.ReplaceAll(strings.TrimSpace(v), "/", "-"))
	return err == nil
}

// ParseEndTime is ParseTime for the end of a window: a bare date covers
// the whole day.
func ParseEndTime(v string) (time.Time, error) {
	t, err := ParseTime(v)
	if err != nil || t.IsZero() || !IsDateOnly(v) {
		return t, err
	}
	return t.Add(24*time.Hour - time.Nanosecond), nil
}

package store

import (
	"fmt"
	"strconv"
	"strings"
)

type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Cond is a single column predicate. Comparison follows the column's declared
// type, so "10" > "9" for integer columns.
type Cond struct {
	Column string
	Op     Op
	Value  string
}

// Filter is a conjunction of conditions; the zero Filter matches every row.
type Filter []Cond

func Eq(column, value string) Cond { return Cond{Column: column, Op: OpEq, Value: value} }

func Where(conds ...Cond) Filter { return Filter(conds) }

func (f Filter) validate(t *Table) error {
	for _, c := range f {
		if _, ok := t.Column(c.Column); !ok {
			return &ValidationError{Table: t.Name, Column: c.Column, Reason: "unknown filter column"}
		}
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return &ValidationError{Table: t.Name, Column: c.Column, Reason: fmt.Sprintf("unknown operator %q", c.Op)}
		}
	}
	return nil
}

func (f Filter) match(t *Table, rec Record) bool {
	for _, c := range f {
		col, _ := t.Column(c.Column)
		cmp, ok := compare(col.Type, rec[c.Column], c.Value)
		if !ok {
			// incomparable values only satisfy "ne"
			if c.Op != OpNe {
				return false
			}
			continue
		}
		var pass bool
		switch c.Op {
		case OpEq:
			pass = cmp == 0
		case OpNe:
			pass = cmp != 0
		case OpLt:
			pass = cmp < 0
		case OpLte:
			pass = cmp <= 0
		case OpGt:
			pass = cmp > 0
		case OpGte:
			pass = cmp >= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

func compare(typ ColumnType, a, b string) (int, bool) {
	switch typ {
	case TypeInt, TypeFloat:
		if a == "" || b == "" {
			return strings.Compare(a, b), a == b
		}
		x, err1 := strconv.ParseFloat(a, 64)
		y, err2 := strconv.ParseFloat(b, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmpFloat(x, y), true
	case TypeBool:
		x, ok1 := ParseBool(a)
		y, ok2 := ParseBool(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case TypeTime:
		if a == "" || b == "" {
			return strings.Compare(a, b), a == b
		}
		x, err1 := ParseTime(a)
		y, err2 := ParseTime(b)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return x.Compare(y), true
	}
	return strings.Compare(a, b), true
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

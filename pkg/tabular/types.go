// Package tabular defines the row/column model produced by query execution
// and the single-pass traversal used by format converters.
package tabular

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrUnknownColumnType is returned when a type tag cannot be parsed
var ErrUnknownColumnType = errors.New("unknown column type")

// ColumnType is the type tag of a result column
type ColumnType string

// Supported column types
const (
	TypeString ColumnType = "STRING"
	TypeNumber ColumnType = "NUMBER"
	TypeDate   ColumnType = "DATE"
	TypeBlob   ColumnType = "BLOB"
	TypeClob   ColumnType = "CLOB"
)

// ParseColumnType parses a type tag, case-insensitively
func ParseColumnType(s string) (ColumnType, error) {
	switch t := ColumnType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeString, TypeNumber, TypeDate, TypeBlob, TypeClob:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownColumnType, s)
	}
}

// IsLob reports whether values of this type are served by reference
func (t ColumnType) IsLob() bool {
	return t == TypeBlob || t == TypeClob
}

// Column describes one result column. CName is the wire-visible name used as
// element/field name by the converters.
type Column struct {
	Name  string     `json:"name" yaml:"name"`
	CName string     `json:"cname" yaml:"cname"`
	Type  ColumnType `json:"type" yaml:"type"`
}

// Row holds one value per column, positionally aligned. A nil value is null.
type Row []any

// Result is an executed, materialized query result. Rows are shared between
// readers and must not be mutated after construction.
type Result struct {
	Columns   []Column
	rows      []Row
	Truncated bool
}

// NewResult builds a result from columns and rows
func NewResult(columns []Column, rows []Row, truncated bool) *Result {
	return &Result{
		Columns:   columns,
		rows:      rows,
		Truncated: truncated,
	}
}

// Len returns the number of rows
func (r *Result) Len() int {
	return len(r.rows)
}

// Row returns the row at index i (0-based)
func (r *Result) Row(i int) (Row, bool) {
	if i < 0 || i >= len(r.rows) {
		return nil, false
	}

	return r.rows[i], true
}

// Rows returns a restartable sequence over the rows
func (r *Result) Rows() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i, row := range r.rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Column returns the index of the column with the given wire name
func (r *Result) Column(cname string) (int, bool) {
	for i, c := range r.Columns {
		if strings.EqualFold(c.CName, cname) {
			return i, true
		}
	}

	return -1, false
}

// Page returns the window of rows for a page number (1-based) and page size.
// A zero page and page size selects every row. The returned result shares
// the underlying rows and carries the truncation flag of its parent.
func (r *Result) Page(page, size int) *Result {
	if page <= 0 || size <= 0 {
		return r
	}

	// page-1 is compared before multiplying so huge windows cannot overflow
	if len(r.rows) == 0 || page-1 > (len(r.rows)-1)/size {
		return NewResult(r.Columns, nil, r.Truncated)
	}

	start := (page - 1) * size

	end := min(start+size, len(r.rows))

	return NewResult(r.Columns, r.rows[start:end:end], r.Truncated)
}

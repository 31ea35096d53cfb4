package executor

import (
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/shopspring/decimal"
)

// Text layouts tried when a DATE column arrives as text
var dateLayouts = []string{ //nolint:gochecknoglobals // static lookup table
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

func readResult(rows *sql.Rows, limit int) (*tabular.Result, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	columns := describeColumns(types)

	var (
		out       []tabular.Row
		truncated bool
	)

	for rows.Next() {
		if len(out) == limit {
			truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(out), err)
		}

		out = append(out, values)
	}

	inferTypes(columns, out)

	for _, row := range out {
		for i, v := range row {
			row[i] = normalize(columns[i].Type, v)
		}
	}

	return tabular.NewResult(columns, out, truncated), nil
}

// describeColumns names and types the result columns. Columns whose driver
// reports no declared type are left untyped for inferTypes.
func describeColumns(types []*sql.ColumnType) []tabular.Column {
	columns := make([]tabular.Column, len(types))
	seen := make(map[string]int, len(types))

	for i, ct := range types {
		cname := CName(ct.Name(), i)
		if n := seen[cname]; n > 0 {
			seen[cname] = n + 1
			cname = cname + "_" + strconv.Itoa(n+1)
		} else {
			seen[cname] = 1
		}

		columns[i] = tabular.Column{
			Name:  ct.Name(),
			CName: cname,
			Type:  MapDatabaseType(ct.DatabaseTypeName()),
		}
	}

	return columns
}

// CName derives the wire name of a column: upper-cased, restricted to
// letters, digits and underscores, never starting with a digit.
func CName(name string, index int) string {
	var b strings.Builder

	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	switch {
	case strings.Trim(out, "_") == "":
		return "COL" + strconv.Itoa(index+1)
	case out[0] >= '0' && out[0] <= '9':
		return "_" + out
	default:
		return out
	}
}

// MapDatabaseType maps a driver type name to a column type. An empty name
// maps to an empty type.
func MapDatabaseType(name string) tabular.ColumnType {
	t := strings.ToUpper(strings.TrimSpace(name))

	switch {
	case t == "":
		return ""
	case strings.Contains(t, "INTERVAL"), strings.Contains(t, "POINT"), strings.Contains(t, "BOOL"):
		return tabular.TypeString
	case strings.Contains(t, "CLOB"), strings.Contains(t, "LONGTEXT"), strings.Contains(t, "MEDIUMTEXT"):
		return tabular.TypeClob
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"), strings.Contains(t, "BINARY"), t == "RAW", t == "IMAGE":
		return tabular.TypeBlob
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return tabular.TypeDate
	case strings.Contains(t, "INT"), strings.Contains(t, "NUM"), strings.Contains(t, "DEC"),
		strings.Contains(t, "REAL"), strings.Contains(t, "FLOAT"), strings.Contains(t, "DOUBLE"),
		strings.Contains(t, "SERIAL"), strings.Contains(t, "MONEY"):
		return tabular.TypeNumber
	default:
		return tabular.TypeString
	}
}

// inferTypes types undeclared columns from their first non-null value
func inferTypes(columns []tabular.Column, rows []tabular.Row) {
	for i := range columns {
		if columns[i].Type != "" {
			continue
		}

		columns[i].Type = tabular.TypeString
		for _, row := range rows {
			if row[i] == nil {
				continue
			}
			switch row[i].(type) {
			case int64, float64, int32, float32, int, uint64:
				columns[i].Type = tabular.TypeNumber
			case time.Time:
				columns[i].Type = tabular.TypeDate
			case []byte:
				columns[i].Type = tabular.TypeBlob
			}
			break
		}
	}
}

func normalize(t tabular.ColumnType, v any) any {
	if v == nil {
		return nil
	}

	switch t {
	case tabular.TypeNumber:
		return toDecimal(v)
	case tabular.TypeDate:
		return toTime(v)
	case tabular.TypeBlob:
		if s, ok := v.(string); ok {
			return []byte(s)
		}
	case tabular.TypeString, tabular.TypeClob:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	}

	return v
}

func toDecimal(v any) any {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x)
	case int32:
		return decimal.NewFromInt32(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0)
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	case []byte:
		if d, err := decimal.NewFromString(string(x)); err == nil {
			return d
		}
		return string(x)
	case string:
		if d, err := decimal.NewFromString(x); err == nil {
			return d
		}
		return x
	default:
		return v
	}
}

func toTime(v any) any {
	var s string

	switch x := v.(type) {
	case time.Time:
		return x
	case []byte:
		s = string(x)
	case string:
		s = x
	default:
		return v
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return s
}

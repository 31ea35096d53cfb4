package sqltext

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is the positional marker syntax of a driver
type PlaceholderStyle int

const (
	// StyleQuestion emits ? for every occurrence (mysql, sqlite)
	StyleQuestion PlaceholderStyle = iota
	// StyleDollar emits $n, reusing n for repeated names (postgres)
	StyleDollar
)

// Bind rewrites every :name parameter of sql into the positional syntax of
// style and returns the matching argument list. Names missing from values
// bind as NULL.
func Bind(sql string, style PlaceholderStyle, values map[string]any) (string, []any) {
	var b strings.Builder
	b.Grow(len(sql))

	args := make([]any, 0, 4)
	positions := make(map[string]int)

	for tok := range Scan(sql) {
		if tok.Kind != KindParam {
			b.WriteString(tok.Text)
			continue
		}

		switch style {
		case StyleDollar:
			pos, ok := positions[tok.Name]
			if !ok {
				args = append(args, values[tok.Name])
				pos = len(args)
				positions[tok.Name] = pos
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(pos))
		default:
			args = append(args, values[tok.Name])
			b.WriteByte('?')
		}
	}

	return b.String(), args
}

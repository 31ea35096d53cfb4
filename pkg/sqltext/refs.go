package sqltext

import (
	"slices"
	"strings"
)

// Ref names a registered table as namespace.name
type Ref struct {
	Namespace string
	Name      string
}

// ParseRef splits a namespace.name identifier. Both parts are lower-cased.
func ParseRef(ident string) (Ref, bool) {
	ns, name, ok := strings.Cut(ident, ".")
	if !ok || ns == "" || name == "" || strings.Contains(name, ".") {
		return Ref{}, false
	}

	return Ref{Namespace: strings.ToLower(ns), Name: strings.ToLower(name)}, true
}

func (r Ref) String() string {
	return r.Namespace + "." + r.Name
}

// CTEName is the identifier the reference is rewritten to
func (r Ref) CTEName() string {
	return r.Namespace + "__" + r.Name
}

// Expand replaces every namespace.name identifier that resolve knows with a
// common table expression holding the table's SQL. A statement that already
// starts with WITH keeps its own expressions after the generated ones. The
// references are returned in order of first appearance.
func Expand(sql string, resolve func(Ref) (string, bool)) (string, []Ref) {
	var (
		tokens []Token
		refs   []Ref
		bodies = make(map[Ref]string)
	)

	for tok := range Scan(sql) {
		if tok.Kind == KindIdent {
			if ref, ok := ParseRef(tok.Text); ok {
				body, known := bodies[ref]
				if !known {
					body, known = resolve(ref)
					if known {
						bodies[ref] = body
						refs = append(refs, ref)
					}
				}
				if known {
					tok.Text = ref.CTEName()
				}
			}
		}
		tokens = append(tokens, tok)
	}

	if len(refs) == 0 {
		return sql, nil
	}

	ctes := make([]string, 0, len(refs))
	for _, ref := range refs {
		ctes = append(ctes, ref.CTEName()+" AS ("+trimStatement(bodies[ref])+")")
	}
	generated := strings.Join(ctes, ", ")

	head, rest, hasWith := splitWith(tokens)
	if hasWith {
		return head + " " + generated + "," + rest, refs
	}

	return "WITH " + generated + " " + join(tokens), refs
}

// splitWith separates a leading WITH [RECURSIVE] from the remaining text
func splitWith(tokens []Token) (string, string, bool) {
	i := nextIdent(tokens, 0)
	if i < 0 || !strings.EqualFold(tokens[i].Text, "WITH") {
		return "", "", false
	}

	if j := nextIdent(tokens, i+1); j >= 0 && strings.EqualFold(tokens[j].Text, "RECURSIVE") {
		i = j
	}

	return join(tokens[:i+1]), join(tokens[i+1:]), true
}

func nextIdent(tokens []Token, from int) int {
	for j := from; j < len(tokens); j++ {
		if tokens[j].Kind == KindText && isBlank(tokens[j].Text) {
			continue
		}
		if tokens[j].Kind == KindIdent {
			return j
		}
		return -1
	}

	return -1
}

func isBlank(text string) bool {
	trimmed := strings.TrimSpace(text)

	return trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*")
}

func join(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Text)
	}

	return b.String()
}

func trimStatement(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \t\n")
}

// References returns the distinct namespace.name identifiers of sql
func References(sql string) []Ref {
	var refs []Ref

	for tok := range Scan(sql) {
		if tok.Kind != KindIdent {
			continue
		}
		if ref, ok := ParseRef(tok.Text); ok && !slices.Contains(refs, ref) {
			refs = append(refs, ref)
		}
	}

	return refs
}

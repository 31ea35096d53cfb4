// Package sqltext scans SQL text for named parameters and dotted table
// references without parsing it. Literals, quoted identifiers and comments
// are passed through untouched.
package sqltext

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a scanned segment
type Kind int

const (
	// KindText is any source text that is neither a parameter nor an identifier
	KindText Kind = iota
	// KindParam is a :name parameter marker
	KindParam
	// KindIdent is a bare identifier, possibly dotted (ns.table)
	KindIdent
)

// Token is a contiguous segment of the source. Concatenating the Text of
// every token reproduces the input exactly.
type Token struct {
	Kind Kind
	Text string
	// Name is the parameter name for KindParam
	Name string
}

const eofRune = -1

type scanner struct {
	src   string
	index int
}

// Scan returns the segments of sql in order
func Scan(sql string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		s := &scanner{src: sql}

		for s.index < len(s.src) {
			if !yield(s.next()) {
				return
			}
		}
	}
}

func (s *scanner) next() Token {
	start := s.index
	r := s.peek()

	switch {
	case r == '\'':
		s.consumeQuoted('\'')
	case r == '"' || r == '`':
		s.consumeQuoted(r)
	case r == '-' && s.peekNext() == '-':
		s.consumeLineComment()
	case r == '/' && s.peekNext() == '*':
		s.consumeBlockComment()
	case r == ':' && s.peekNext() == ':':
		// Postgres cast, never a parameter
		s.advance()
		s.advance()
	case r == ':' && isIdentifierStart(s.peekNext()):
		s.advance()
		s.consumeWord()
		return Token{Kind: KindParam, Text: s.src[start:s.index], Name: s.src[start+1 : s.index]}
	case isIdentifierStart(r):
		s.consumeIdentifier()
		return Token{Kind: KindIdent, Text: s.src[start:s.index]}
	case isDigit(r):
		// Numbers and anything glued to them (1e5, 2.5, 3abc) stay text
		for r := s.peek(); r != eofRune && (isIdentifierPart(r) || r == '.'); r = s.peek() {
			s.advance()
		}
	case r == '$' && isDigit(s.peekNext()):
		s.advance()
		s.consumeWord()
	default:
		s.advance()
	}

	return Token{Kind: KindText, Text: s.src[start:s.index]}
}

func (s *scanner) peek() rune {
	if s.index >= len(s.src) {
		return eofRune
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.index:])
	return r
}

func (s *scanner) peekNext() rune {
	if s.index >= len(s.src) {
		return eofRune
	}
	_, size := utf8.DecodeRuneInString(s.src[s.index:])
	if s.index+size >= len(s.src) {
		return eofRune
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.index+size:])
	return r
}

func (s *scanner) advance() {
	if s.index >= len(s.src) {
		return
	}
	_, size := utf8.DecodeRuneInString(s.src[s.index:])
	s.index += size
}

// consumeQuoted reads a quoted literal or identifier. A doubled quote is an
// escaped quote. An unterminated literal runs to the end of input.
func (s *scanner) consumeQuoted(quote rune) {
	s.advance()
	for {
		r := s.peek()
		if r == eofRune {
			return
		}
		s.advance()
		if r == quote {
			if s.peek() == quote {
				s.advance()
				continue
			}
			return
		}
	}
}

func (s *scanner) consumeLineComment() {
	for r := s.peek(); r != eofRune && r != '\n'; r = s.peek() {
		s.advance()
	}
}

func (s *scanner) consumeBlockComment() {
	s.advance()
	s.advance()
	for {
		r := s.peek()
		if r == eofRune {
			return
		}
		if r == '*' && s.peekNext() == '/' {
			s.advance()
			s.advance()
			return
		}
		s.advance()
	}
}

func (s *scanner) consumeWord() {
	for r := s.peek(); r != eofRune && isIdentifierPart(r); r = s.peek() {
		s.advance()
	}
}

// consumeIdentifier reads a bare identifier and any .part continuations
func (s *scanner) consumeIdentifier() {
	s.consumeWord()
	for s.peek() == '.' && isIdentifierStart(s.peekNext()) {
		s.advance()
		s.consumeWord()
	}
}

func isIdentifierStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentifierPart(r rune) bool {
	return isIdentifierStart(r) || isDigit(r) || r == '$'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Params returns the distinct parameter names of sql in order of first
// appearance. Names are case-sensitive.
func Params(sql string) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0, 4)

	for tok := range Scan(sql) {
		if tok.Kind != KindParam {
			continue
		}
		if _, ok := seen[tok.Name]; ok {
			continue
		}
		seen[tok.Name] = struct{}{}
		names = append(names, tok.Name)
	}

	return names
}

// FirstKeyword returns the first identifier of sql, upper-cased, skipping
// leading whitespace, comments and parentheses.
func FirstKeyword(sql string) string {
	for tok := range Scan(sql) {
		switch tok.Kind {
		case KindIdent:
			return strings.ToUpper(tok.Text)
		case KindParam:
			return ""
		case KindText:
			trimmed := strings.TrimSpace(tok.Text)
			if trimmed == "" || trimmed == "(" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*") {
				continue
			}
			return ""
		}
	}

	return ""
}

package trigger

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokAssign
	tokLBrack
	tokRBrack
	tokComma
	tokColon
	tokAnd
	tokOr
	tokThen
	tokAfter
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of input",
	tokIdent:  "name",
	tokNumber: "number",
	tokAssign: "'='",
	tokLBrack: "'['",
	tokRBrack: "']'",
	tokComma:  "','",
	tokColon:  "':'",
	tokAnd:    "'and'",
	tokOr:     "'or'",
	tokThen:   "'then'",
	tokAfter:  "'after'",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"then":  tokThen,
	"after": tokAfter,
}

type token struct {
	kind tokenKind
	text string
	pos  Pos
}

func (t token) String() string {
	switch t.kind {
	case tokIdent, tokNumber:
		return fmt.Sprintf("%s %q", t.kind, t.text)
	}
	return t.kind.String()
}

// lexer splits a specification into tokens. Numbers are scanned greedily
// over letters, digits and dots so "0x1f", "2.5us" and "10ns" are single
// tokens; the parser takes them apart.
type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peekRune() (rune, int) {
	if l.off >= len(l.src) {
		return -1, 0
	}
	return utf8.DecodeRuneInString(l.src[l.off:])
}

func (l *lexer) advance(size int, r rune) {
	l.off += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *lexer) skipSpace() {
	for {
		r, size := l.peekRune()
		switch {
		case r == '#':
			for r != '\n' && r != -1 {
				l.advance(size, r)
				r, size = l.peekRune()
			}
		case r != -1 && unicode.IsSpace(r):
			l.advance(size, r)
		default:
			return
		}
	}
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && unicode.IsDigit(r)
}

func isNumberRune(r rune) bool {
	return r == '.' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) scanWhile(pred func(rune) bool) string {
	start := l.off
	for {
		r, size := l.peekRune()
		if r == -1 || !pred(r) {
			break
		}
		l.advance(size, r)
	}
	return l.src[start:l.off]
}

// next returns the next token, or an error for a character that cannot
// start one.
func (l *lexer) next() (token, error) {
	l.skipSpace()
	pos := Pos{Line: l.line, Col: l.col}
	r, size := l.peekRune()
	switch {
	case r == -1:
		return token{kind: tokEOF, pos: pos}, nil
	case unicode.IsDigit(r):
		return token{kind: tokNumber, text: l.scanWhile(isNumberRune), pos: pos}, nil
	case isIdentRune(r, true):
		first := true
		text := l.scanWhile(func(r rune) bool {
			ok := isIdentRune(r, first)
			first = false
			return ok
		})
		if kind, ok := keywords[strings.ToLower(text)]; ok {
			return token{kind: kind, text: text, pos: pos}, nil
		}
		return token{kind: tokIdent, text: text, pos: pos}, nil
	}

	var kind tokenKind
	switch r {
	case '=':
		kind = tokAssign
	case '[':
		kind = tokLBrack
	case ']':
		kind = tokRBrack
	case ',':
		kind = tokComma
	case ':':
		kind = tokColon
	default:
		return token{}, parseError(pos, "unexpected character %q", r)
	}
	l.advance(size, r)
	return token{kind: kind, text: string(r), pos: pos}, nil
}

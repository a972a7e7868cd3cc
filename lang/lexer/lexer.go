// Package lexer tokenizes harmonics DSL source: ASCII only,
// `#`-to-end-of-line comments, keywords that are never identifiers,
// nonnegative integer numbers, and the arrow/pipe/brace punctuation the
// cycle grammar needs.
package lexer

import (
	"strings"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/lang/token"
)

// Lexer scans a source string one rune at a time, tracking line/column for
// error reporting.
type Lexer struct {
	src    string
	pos    int
	line   int
	col    int
	peeked *token.Token
}

// New creates a Lexer over src.
func New(src string) *Lexer {
	return &Lexer{src: src, pos: 0, line: 1, col: 1}
}

func (l *Lexer) errorf(reason string) error {
	return &herr.LexError{Pos: herr.Position{Line: l.line, Col: l.col, Offset: l.pos}, Reason: reason}
}

func (l *Lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) advance() byte {
	b := l.src[l.pos]
	l.pos++
	if b == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return b
}

func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.peekByte()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '#':
			for l.pos < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() (token.Token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	t, err := l.next()
	if err != nil {
		return token.Token{}, err
	}
	l.peeked = &t
	return t, nil
}

// Next returns and consumes the next token.
func (l *Lexer) Next() (token.Token, error) {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t, nil
	}
	return l.next()
}

func (l *Lexer) next() (token.Token, error) {
	l.skipSpaceAndComments()
	line, col, offset := l.line, l.col, l.pos
	if l.pos >= len(l.src) {
		return token.Token{Kind: token.End, Line: line, Col: col, Offset: offset}, nil
	}

	c := l.peekByte()
	switch {
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentCont(l.peekByte()) {
			l.advance()
		}
		lit := l.src[start:l.pos]
		kind := token.Identifier
		if kw, ok := token.Keywords[strings.ToLower(lit)]; ok {
			kind = kw
		}
		return token.Token{Kind: kind, Lit: lit, Line: line, Col: col, Offset: offset}, nil

	case isDigit(c):
		start := l.pos
		for l.pos < len(l.src) && isDigit(l.peekByte()) {
			l.advance()
		}
		return token.Token{Kind: token.Number, Lit: l.src[start:l.pos], Line: line, Col: col, Offset: offset}, nil

	case c == '{':
		l.advance()
		return token.Token{Kind: token.LBrace, Lit: "{", Line: line, Col: col, Offset: offset}, nil
	case c == '}':
		l.advance()
		return token.Token{Kind: token.RBrace, Lit: "}", Line: line, Col: col, Offset: offset}, nil
	case c == '(':
		l.advance()
		return token.Token{Kind: token.LParen, Lit: "(", Line: line, Col: col, Offset: offset}, nil
	case c == ')':
		l.advance()
		return token.Token{Kind: token.RParen, Lit: ")", Line: line, Col: col, Offset: offset}, nil
	case c == ';':
		l.advance()
		return token.Token{Kind: token.Semicolon, Lit: ";", Line: line, Col: col, Offset: offset}, nil
	case c == '/':
		l.advance()
		return token.Token{Kind: token.Slash, Lit: "/", Line: line, Col: col, Offset: offset}, nil
	case c == '|':
		l.advance()
		return token.Token{Kind: token.Pipe, Lit: "|", Line: line, Col: col, Offset: offset}, nil
	case c == '-':
		l.advance()
		if l.peekByte() == '>' {
			l.advance()
			return token.Token{Kind: token.Arrow, Lit: "->", Line: line, Col: col, Offset: offset}, nil
		}
		return token.Token{Kind: token.Hyphen, Lit: "-", Line: line, Col: col, Offset: offset}, nil
	case c == '<':
		l.advance()
		if l.peekByte() == '-' {
			l.advance()
			return token.Token{Kind: token.BackArrow, Lit: "<-", Line: line, Col: col, Offset: offset}, nil
		}
		return token.Token{}, l.errorf("expected '-' after '<'")
	default:
		return token.Token{}, l.errorf("unexpected character '" + string(c) + "'")
	}
}

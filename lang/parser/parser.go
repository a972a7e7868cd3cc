// Package parser implements the LL(1) recursive-descent parser for the
// harmonics surface DSL: small single-purpose parseX helpers threaded
// through one mutable parser struct, covering the declaration and cycle
// grammar.
package parser

import (
	"strconv"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/lang/ast"
	"github.com/sbl8/harmonics/lang/lexer"
	"github.com/sbl8/harmonics/lang/token"
)

// Parser consumes tokens from a Lexer and builds an ast.Declarations.
type Parser struct {
	lex *lexer.Lexer
}

// New creates a Parser over src.
func New(src string) *Parser {
	return &Parser{lex: lexer.New(src)}
}

func (p *Parser) peek() (token.Token, error) { return p.lex.Peek() }
func (p *Parser) next() (token.Token, error) { return p.lex.Next() }

func (p *Parser) expect(k token.Kind) (token.Token, error) {
	t, err := p.next()
	if err != nil {
		return t, err
	}
	if t.Kind != k {
		return t, &herr.ParseError{
			Pos:      herr.Position{Line: t.Line, Col: t.Col, Offset: t.Offset},
			Expected: k.String(),
			Found:    t.Kind.String(),
		}
	}
	return t, nil
}

// ParseDeclarations parses a whole source document: an optional top-level
// `harmonic name { decls }` wrapper, or a bare sequence of declarations.
func (p *Parser) ParseDeclarations() (*ast.Declarations, error) {
	d := &ast.Declarations{}

	first, err := p.peek()
	if err != nil {
		return nil, err
	}
	if first.Kind == token.Harmonic {
		if _, err := p.next(); err != nil {
			return nil, err
		}
		name, err := p.expect(token.Identifier)
		if err != nil {
			return nil, err
		}
		d.Name = name.Lit
		if _, err := p.expect(token.LBrace); err != nil {
			return nil, err
		}
		if err := p.parseDeclBody(d); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBrace); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := p.parseDeclBody(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *Parser) parseDeclBody(d *ast.Declarations) error {
	for {
		t, err := p.peek()
		if err != nil {
			return err
		}
		switch t.Kind {
		case token.Producer, token.Consumer:
			decl, err := p.parseNodeDecl(true)
			if err != nil {
				return err
			}
			if t.Kind == token.Producer {
				d.Producers = append(d.Producers, decl)
			} else {
				d.Consumers = append(d.Consumers, decl)
			}
		case token.Layer:
			decl, err := p.parseNodeDecl(false)
			if err != nil {
				return err
			}
			d.Layers = append(d.Layers, decl)
		case token.Cycle:
			lines, err := p.parseCycle()
			if err != nil {
				return err
			}
			d.HasCycle = true
			d.Cycle = lines
		default:
			return nil
		}
	}
}

// parseNodeDecl parses `('producer'|'consumer') ident shape? ratio? ';'` or
// `'layer' ident ratio? ';'`. allowShape selects whether a `{N}` shape is
// accepted (producers/consumers) as opposed to only a ratio (layers).
func (p *Parser) parseNodeDecl(allowShape bool) (ast.NodeDecl, error) {
	if _, err := p.next(); err != nil { // consume keyword
		return ast.NodeDecl{}, err
	}
	name, err := p.expect(token.Identifier)
	if err != nil {
		return ast.NodeDecl{}, err
	}
	decl := ast.NodeDecl{Name: name.Lit}

	t, err := p.peek()
	if err != nil {
		return decl, err
	}
	if allowShape && t.Kind == token.LBrace {
		if _, err := p.next(); err != nil {
			return decl, err
		}
		num, err := p.expect(token.Number)
		if err != nil {
			return decl, err
		}
		w, err := strconv.ParseUint(num.Lit, 10, 64)
		if err != nil {
			return decl, &herr.ParseError{Pos: herr.Position{Line: num.Line, Col: num.Col}, Expected: "number", Found: num.Lit}
		}
		decl.HasWidth = true
		decl.Width = w
		if _, err := p.expect(token.RBrace); err != nil {
			return decl, err
		}
		t, err = p.peek()
		if err != nil {
			return decl, err
		}
	}
	if t.Kind == token.Number {
		ratio, err := p.parseRatio()
		if err != nil {
			return decl, err
		}
		decl.HasRatio = true
		decl.Ratio = ratio
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return decl, err
	}
	return decl, nil
}

// parseRatio parses `NUMBER '/' NUMBER ident`.
func (p *Parser) parseRatio() (ast.Ratio, error) {
	lhsTok, err := p.expect(token.Number)
	if err != nil {
		return ast.Ratio{}, err
	}
	if _, err := p.expect(token.Slash); err != nil {
		return ast.Ratio{}, err
	}
	rhsTok, err := p.expect(token.Number)
	if err != nil {
		return ast.Ratio{}, err
	}
	ref, err := p.expect(token.Identifier)
	if err != nil {
		return ast.Ratio{}, err
	}
	lhs, _ := strconv.ParseUint(lhsTok.Lit, 10, 64)
	rhs, _ := strconv.ParseUint(rhsTok.Lit, 10, 64)
	return ast.Ratio{Lhs: lhs, Rhs: rhs, Ref: ref.Lit}, nil
}

// parseCycle parses `'cycle' '{' line* '}'`.
func (p *Parser) parseCycle() ([]ast.Line, error) {
	if _, err := p.next(); err != nil { // consume 'cycle'
		return nil, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	lines, err := p.parseLines()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return lines, nil
}

func (p *Parser) parseLines() ([]ast.Line, error) {
	var lines []ast.Line
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.Kind == token.RBrace || t.Kind == token.End {
			return lines, nil
		}
		line, err := p.parseLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
}

// parseLine parses one cycle-block statement: an `if`/`else` block, or a
// `(ident)? arrow (arrow_cont)* ';'` flow line, where an arrow_cont can be
// either `| arrow` or another bare arrow continuing the same source.
func (p *Parser) parseLine() (ast.Line, error) {
	t, err := p.peek()
	if err != nil {
		return ast.Line{}, err
	}
	if t.Kind == token.If {
		return p.parseIf()
	}

	line := ast.Line{}
	if t.Kind == token.Identifier {
		if _, err := p.next(); err != nil {
			return line, err
		}
		line.HasSource = true
		line.Source = t.Lit
	}

	for {
		arrow, err := p.parseArrow()
		if err != nil {
			return line, err
		}
		line.Arrows = append(line.Arrows, arrow)

		nt, err := p.peek()
		if err != nil {
			return line, err
		}
		switch nt.Kind {
		case token.Pipe:
			if _, err := p.next(); err != nil {
				return line, err
			}
			continue
		case token.Arrow, token.BackArrow, token.Hyphen:
			continue
		default:
			if _, err := p.expect(token.Semicolon); err != nil {
				return line, err
			}
			return line, nil
		}
	}
}

func (p *Parser) parseIf() (ast.Line, error) {
	if _, err := p.next(); err != nil { // consume 'if'
		return ast.Line{}, err
	}
	cond, err := p.expect(token.Identifier)
	if err != nil {
		return ast.Line{}, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return ast.Line{}, err
	}
	thenLines, err := p.parseLines()
	if err != nil {
		return ast.Line{}, err
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return ast.Line{}, err
	}

	line := ast.Line{Cond: cond.Lit, Then: thenLines}

	t, err := p.peek()
	if err != nil {
		return line, err
	}
	if t.Kind == token.Else {
		if _, err := p.next(); err != nil {
			return line, err
		}
		if _, err := p.expect(token.LBrace); err != nil {
			return line, err
		}
		elseLines, err := p.parseLines()
		if err != nil {
			return line, err
		}
		if _, err := p.expect(token.RBrace); err != nil {
			return line, err
		}
		line.HasElse = true
		line.Else = elseLines
	}
	return line, nil
}

// parseArrow parses `'->' ident | '-(' ident ')->' ident | '<-(' ident ')-' ident`.
func (p *Parser) parseArrow() (ast.Arrow, error) {
	t, err := p.next()
	if err != nil {
		return ast.Arrow{}, err
	}
	switch t.Kind {
	case token.Arrow:
		target, err := p.expect(token.Identifier)
		if err != nil {
			return ast.Arrow{}, err
		}
		return ast.Arrow{Kind: ast.ArrowForward, Target: target.Lit}, nil

	case token.Hyphen:
		if _, err := p.expect(token.LParen); err != nil {
			return ast.Arrow{}, err
		}
		fn, err := p.expect(token.Identifier)
		if err != nil {
			return ast.Arrow{}, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return ast.Arrow{}, err
		}
		if _, err := p.expect(token.Arrow); err != nil {
			return ast.Arrow{}, err
		}
		target, err := p.expect(token.Identifier)
		if err != nil {
			return ast.Arrow{}, err
		}
		return ast.Arrow{Kind: ast.ArrowForward, Function: fn.Lit, HasFunc: true, Target: target.Lit}, nil

	case token.BackArrow:
		if _, err := p.expect(token.LParen); err != nil {
			return ast.Arrow{}, err
		}
		fn, err := p.expect(token.Identifier)
		if err != nil {
			return ast.Arrow{}, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return ast.Arrow{}, err
		}
		if _, err := p.expect(token.Hyphen); err != nil {
			return ast.Arrow{}, err
		}
		target, err := p.expect(token.Identifier)
		if err != nil {
			return ast.Arrow{}, err
		}
		return ast.Arrow{Kind: ast.ArrowBackward, Function: fn.Lit, HasFunc: true, Target: target.Lit}, nil

	default:
		return ast.Arrow{}, &herr.ParseError{
			Pos:      herr.Position{Line: t.Line, Col: t.Col, Offset: t.Offset},
			Expected: "'->', '-(fn)->' or '<-(fn)-'",
			Found:    t.Kind.String(),
		}
	}
}

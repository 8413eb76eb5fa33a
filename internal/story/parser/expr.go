package parser

import (
	"fmt"
	"strconv"

	"inkforge.dev/internal/story/diag"
)

// exprParser is a precedence-climbing parser over one lexed segment.
type exprParser struct {
	toks []Token
	i    int
	err  error
}

type exprError struct {
	pos diag.Pos
	msg string
}

func (e *exprError) Error() string { return e.msg }

func newExprParser(src string, pos diag.Pos) *exprParser {
	return &exprParser{toks: Tokenize(src, pos.File, pos.Line, pos.Column)}
}

func tokPos(t Token) diag.Pos {
	return diag.Pos{File: t.File, Line: t.Line, Column: t.Column}
}

func (e *exprParser) peek() Token { return e.toks[e.i] }

func (e *exprParser) peekN(n int) Token {
	if e.i+n >= len(e.toks) {
		return e.toks[len(e.toks)-1]
	}
	return e.toks[e.i+n]
}

func (e *exprParser) next() Token {
	t := e.toks[e.i]
	if t.Type != TOK_EOF {
		e.i++
	}
	return t
}

func (e *exprParser) atEOF() bool { return e.peek().Type == TOK_EOF }

func (e *exprParser) fail(t Token, format string, args ...any) {
	if e.err == nil {
		e.err = &exprError{pos: tokPos(t), msg: fmt.Sprintf(format, args...)}
	}
}

func (e *exprParser) expect(tt TokenType) (Token, bool) {
	t := e.peek()
	if t.Type != tt {
		e.fail(t, "expected %s, found %q", tt, t.Lexeme)
		return t, false
	}
	return e.next(), true
}

var binaryPrec = map[TokenType]int{
	TOK_OR:       1,
	TOK_AND:      2,
	TOK_EQ:       3,
	TOK_NE:       3,
	TOK_LT:       4,
	TOK_LE:       4,
	TOK_GT:       4,
	TOK_GE:       4,
	TOK_QUESTION: 4,
	TOK_NOT_HAS:  4,
	TOK_PLUS:     5,
	TOK_MINUS:    5,
	TOK_STAR:     6,
	TOK_SLASH:    6,
	TOK_PERCENT:  6,
	TOK_CARET:    6,
}

const unaryPrec = 7

// parseExpr parses operators binding tighter than minPrec.
func (e *exprParser) parseExpr(minPrec int) Expr {
	left := e.parseUnary()
	for e.err == nil {
		t := e.peek()
		prec, ok := binaryPrec[t.Type]
		if !ok || prec <= minPrec {
			return left
		}
		e.next()
		right := e.parseExpr(prec)
		left = &Binary{Op: string(t.Type), L: left, R: right, Pos: tokPos(t)}
	}
	return left
}

func (e *exprParser) parseUnary() Expr {
	t := e.peek()
	switch t.Type {
	case TOK_MINUS:
		e.next()
		return &Unary{Op: "neg", X: e.parseExpr(unaryPrec - 1), Pos: tokPos(t)}
	case TOK_BANG:
		e.next()
		return &Unary{Op: "!", X: e.parseExpr(unaryPrec - 1), Pos: tokPos(t)}
	}
	return e.parsePrimary()
}

func (e *exprParser) parsePrimary() Expr {
	t := e.next()
	pos := tokPos(t)
	switch t.Type {
	case TOK_INT:
		n, err := strconv.ParseInt(t.Lexeme, 10, 64)
		if err != nil {
			e.fail(t, "bad integer %q", t.Lexeme)
		}
		return &NumberLit{Int: n, Pos: pos}
	case TOK_FLOAT:
		f, err := strconv.ParseFloat(t.Lexeme, 64)
		if err != nil {
			e.fail(t, "bad number %q", t.Lexeme)
		}
		return &NumberLit{Float: f, IsFloat: true, Pos: pos}
	case TOK_STRING:
		return &StringLit{Value: t.Lexeme, Pos: pos}
	case TOK_IDENT:
		switch t.Lexeme {
		case "true":
			return &BoolLit{Value: true, Pos: pos}
		case "false":
			return &BoolLit{Value: false, Pos: pos}
		}
		name := e.dotted(t.Lexeme)
		if e.peek().Type == TOK_LPAREN {
			return &Call{Name: name, Args: e.parseArgs(), Pos: pos}
		}
		return &Ident{Name: name, Pos: pos}
	case TOK_ARROW:
		id, ok := e.expect(TOK_IDENT)
		if !ok {
			return nil
		}
		return &DivertLit{Target: e.dotted(id.Lexeme), Pos: pos}
	case TOK_LPAREN:
		if e.peek().Type == TOK_RPAREN {
			e.next()
			return &ListLit{Pos: pos}
		}
		inner := e.parseExpr(0)
		if e.peek().Type == TOK_COMMA {
			return e.finishList(inner, pos)
		}
		e.expect(TOK_RPAREN)
		return inner
	case TOK_ILLEGAL:
		e.fail(t, "unexpected %q in expression", t.Lexeme)
		return nil
	case TOK_EOF:
		e.fail(t, "expression expected")
		return nil
	}
	e.fail(t, "unexpected %q in expression", t.Lexeme)
	return nil
}

func (e *exprParser) finishList(first Expr, pos diag.Pos) Expr {
	lit := &ListLit{Pos: pos}
	add := func(x Expr) {
		id, ok := x.(*Ident)
		if !ok {
			e.fail(e.peek(), "list literal items must be list item names")
			return
		}
		lit.Items = append(lit.Items, id.Name)
	}
	add(first)
	for e.err == nil && e.peek().Type == TOK_COMMA {
		e.next()
		add(e.parseExpr(0))
	}
	e.expect(TOK_RPAREN)
	return lit
}

func (e *exprParser) dotted(first string) string {
	name := first
	for e.peek().Type == TOK_DOT && e.peekN(1).Type == TOK_IDENT {
		e.next()
		name += "." + e.next().Lexeme
	}
	return name
}

func (e *exprParser) parseArgs() []Expr {
	e.expect(TOK_LPAREN)
	var args []Expr
	if e.peek().Type == TOK_RPAREN {
		e.next()
		return args
	}
	for e.err == nil {
		args = append(args, e.parseExpr(0))
		if e.peek().Type == TOK_COMMA {
			e.next()
			continue
		}
		e.expect(TOK_RPAREN)
		break
	}
	return args
}

// parseTarget reads `name.sub(args)` after a divert arrow.
func (e *exprParser) parseTarget() (Target, bool) {
	t, ok := e.expect(TOK_IDENT)
	if !ok {
		return Target{}, false
	}
	tg := Target{Path: e.dotted(t.Lexeme), Pos: tokPos(t)}
	if e.peek().Type == TOK_LPAREN {
		tg.Args = e.parseArgs()
	}
	return tg, e.err == nil
}

// parseDivert reads a divert chain starting at the current token.
func (e *exprParser) parseDivert() *Divert {
	start := e.peek()
	d := &Divert{Pos: tokPos(start)}
	if start.Type == TOK_TUNNEL_RT {
		e.next()
		d.TunnelReturn = true
		if e.peek().Type == TOK_IDENT {
			tg, ok := e.parseTarget()
			if !ok {
				return nil
			}
			d.ReturnTo = &tg
		}
		return d
	}
	for e.err == nil && e.peek().Type == TOK_ARROW {
		e.next()
		if e.atEOF() {
			if len(d.Targets) == 0 {
				e.fail(e.peek(), "divert target expected")
				return nil
			}
			d.TunnelTail = true
			return d
		}
		tg, ok := e.parseTarget()
		if !ok {
			return nil
		}
		d.Targets = append(d.Targets, tg)
	}
	if e.peek().Type == TOK_TUNNEL_RT && len(d.Targets) > 0 {
		// `-> a ->-> b`: tunnel into a, then return with override b.
		e.fail(e.peek(), "tunnel return cannot follow a divert on the same line")
		return nil
	}
	if len(d.Targets) == 0 {
		e.fail(start, "divert expected")
		return nil
	}
	return d
}

// ParseExpr parses a standalone expression.
func ParseExpr(src string, pos diag.Pos) (Expr, error) {
	e := newExprParser(src, pos)
	x := e.parseExpr(0)
	if e.err == nil && !e.atEOF() {
		e.fail(e.peek(), "unexpected %q after expression", e.peek().Lexeme)
	}
	if e.err != nil {
		return nil, e.err
	}
	return x, nil
}

package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes one segment of a source line. Segments are cut out of the
// line by the statement parser, so the lexer is told where the segment starts
// to keep reported positions relative to the file.
type Lexer struct {
	src      string
	filename string

	pos    int
	line   int
	column int

	ch    rune
	width int
	done  bool
}

func NewLexer(src, filename string, line, column int) *Lexer {
	l := &Lexer{
		src:      src,
		filename: filename,
		line:     line,
		column:   column - 1,
	}
	l.readRune()
	return l
}

func (l *Lexer) readRune() {
	if l.pos >= len(l.src) {
		l.ch = 0
		l.width = 0
		l.done = true
		l.column++
		return
	}
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])
	l.ch = r
	l.width = w
	l.pos += w
	l.column++
}

func (l *Lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *Lexer) peekRune2() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	_, w := utf8.DecodeRuneInString(l.src[l.pos:])
	if l.pos+w >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos+w:])
	return r
}

func (l *Lexer) makeToken(tt TokenType, lexeme string, col int) Token {
	return Token{Type: tt, Lexeme: lexeme, Line: l.line, Column: col, File: l.filename}
}

// NextToken returns the next token of the segment.
func (l *Lexer) NextToken() Token {
	for !l.done && (l.ch == ' ' || l.ch == '\t' || l.ch == '\r') {
		l.readRune()
	}
	if l.done {
		return l.makeToken(TOK_EOF, "", l.column)
	}

	col := l.column
	ch := l.ch

	if isIdentStart(ch) {
		return l.lexIdent(col)
	}
	if unicode.IsDigit(ch) {
		return l.lexNumber(col)
	}
	if ch == '"' {
		return l.lexString(col)
	}

	two := func(tt TokenType, lexeme string) Token {
		l.readRune()
		l.readRune()
		return l.makeToken(tt, lexeme, col)
	}
	one := func(tt TokenType) Token {
		l.readRune()
		return l.makeToken(tt, string(ch), col)
	}

	next := l.peekRune()
	switch ch {
	case '(':
		return one(TOK_LPAREN)
	case ')':
		return one(TOK_RPAREN)
	case ',':
		return one(TOK_COMMA)
	case '.':
		return one(TOK_DOT)
	case '*':
		return one(TOK_STAR)
	case '/':
		return one(TOK_SLASH)
	case '%':
		return one(TOK_PERCENT)
	case '^':
		return one(TOK_CARET)
	case '?':
		return one(TOK_QUESTION)
	case '+':
		switch next {
		case '=':
			return two(TOK_PLUS_EQ, "+=")
		case '+':
			return two(TOK_INCR, "++")
		}
		return one(TOK_PLUS)
	case '-':
		switch next {
		case '>':
			if l.peekRune2() == '-' && strings.HasPrefix(l.src[l.pos+1:], "->") {
				l.readRune()
				l.readRune()
				l.readRune()
				l.readRune()
				return l.makeToken(TOK_TUNNEL_RT, "->->", col)
			}
			return two(TOK_ARROW, "->")
		case '=':
			return two(TOK_MINUS_EQ, "-=")
		case '-':
			return two(TOK_DECR, "--")
		}
		return one(TOK_MINUS)
	case '=':
		if next == '=' {
			return two(TOK_EQ, "==")
		}
		return one(TOK_ASSIGN)
	case '!':
		switch next {
		case '=':
			return two(TOK_NE, "!=")
		case '?':
			return two(TOK_NOT_HAS, "!?")
		}
		return one(TOK_BANG)
	case '<':
		switch next {
		case '=':
			return two(TOK_LE, "<=")
		case '-':
			return two(TOK_THREAD, "<-")
		}
		return one(TOK_LT)
	case '>':
		if next == '=' {
			return two(TOK_GE, ">=")
		}
		return one(TOK_GT)
	case '&':
		if next == '&' {
			return two(TOK_AND, "&&")
		}
	case '|':
		if next == '|' {
			return two(TOK_OR, "||")
		}
	}
	l.readRune()
	return l.makeToken(TOK_ILLEGAL, string(ch), col)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *Lexer) lexIdent(col int) Token {
	var sb strings.Builder
	for !l.done && isIdentPart(l.ch) {
		sb.WriteRune(l.ch)
		l.readRune()
	}
	word := sb.String()
	if tt, ok := wordOperators[word]; ok {
		return l.makeToken(tt, word, col)
	}
	return l.makeToken(TOK_IDENT, word, col)
}

func (l *Lexer) lexNumber(col int) Token {
	var sb strings.Builder
	tt := TOK_INT
	for !l.done && unicode.IsDigit(l.ch) {
		sb.WriteRune(l.ch)
		l.readRune()
	}
	if !l.done && l.ch == '.' && unicode.IsDigit(l.peekRune()) {
		tt = TOK_FLOAT
		sb.WriteRune('.')
		l.readRune()
		for !l.done && unicode.IsDigit(l.ch) {
			sb.WriteRune(l.ch)
			l.readRune()
		}
	}
	return l.makeToken(tt, sb.String(), col)
}

func (l *Lexer) lexString(col int) Token {
	l.readRune() // opening quote
	var sb strings.Builder
	for !l.done && l.ch != '"' {
		if l.ch == '\\' && l.peekRune() != 0 {
			l.readRune()
		}
		sb.WriteRune(l.ch)
		l.readRune()
	}
	if l.done {
		return l.makeToken(TOK_ILLEGAL, "unterminated string", col)
	}
	l.readRune() // closing quote
	return l.makeToken(TOK_STRING, sb.String(), col)
}

// Tokenize lexes the whole segment, EOF token included.
func Tokenize(src, filename string, line, column int) []Token {
	l := NewLexer(src, filename, line, column)
	var out []Token
	for {
		t := l.NextToken()
		out = append(out, t)
		if t.Type == TOK_EOF {
			return out
		}
	}
}

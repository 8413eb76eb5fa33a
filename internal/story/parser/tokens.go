package parser

import "fmt"

type TokenType string

const (
	TOK_ILLEGAL TokenType = "ILLEGAL"
	TOK_EOF     TokenType = "EOF"

	TOK_IDENT  TokenType = "IDENT"
	TOK_INT    TokenType = "INT"
	TOK_FLOAT  TokenType = "FLOAT"
	TOK_STRING TokenType = "STRING"

	TOK_LPAREN TokenType = "("
	TOK_RPAREN TokenType = ")"
	TOK_COMMA  TokenType = ","
	TOK_DOT    TokenType = "."

	TOK_PLUS    TokenType = "+"
	TOK_MINUS   TokenType = "-"
	TOK_STAR    TokenType = "*"
	TOK_SLASH   TokenType = "/"
	TOK_PERCENT TokenType = "%"
	TOK_CARET   TokenType = "^"

	TOK_ASSIGN    TokenType = "="
	TOK_PLUS_EQ   TokenType = "+="
	TOK_MINUS_EQ  TokenType = "-="
	TOK_INCR      TokenType = "++"
	TOK_DECR      TokenType = "--"
	TOK_EQ        TokenType = "=="
	TOK_NE        TokenType = "!="
	TOK_LT        TokenType = "<"
	TOK_LE        TokenType = "<="
	TOK_GT        TokenType = ">"
	TOK_GE        TokenType = ">="
	TOK_AND       TokenType = "&&"
	TOK_OR        TokenType = "||"
	TOK_BANG      TokenType = "!"
	TOK_QUESTION  TokenType = "?"
	TOK_NOT_HAS   TokenType = "!?"
	TOK_ARROW     TokenType = "->"
	TOK_TUNNEL_RT TokenType = "->->"
	TOK_THREAD    TokenType = "<-"
)

// Token is the lexical unit of expression, logic and divert syntax. Line and
// Column are 1-based and relative to the original source file.
type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
	Column int
	File   string
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %s:%d:%d", t.Type, t.Lexeme, t.File, t.Line, t.Column)
}

// keyword operators map onto their symbolic forms.
var wordOperators = map[string]TokenType{
	"and":   TOK_AND,
	"or":    TOK_OR,
	"not":   TOK_BANG,
	"mod":   TOK_PERCENT,
	"has":   TOK_QUESTION,
	"hasnt": TOK_NOT_HAS,
}

package parser

import "inkforge.dev/internal/story/diag"

// File is the parse tree of one source file with its includes merged in.
type File struct {
	Name      string
	Top       []Node
	Knots     []*Knot
	Globals   []*VarDecl
	Lists     []*ListDecl
	Externals []*ExternalDecl
}

type Param struct {
	Name   string
	Divert bool
	Pos    diag.Pos
}

type Knot struct {
	Name     string
	Params   []Param
	Function bool
	Body     []Node
	Stitches []*Stitch
	Pos      diag.Pos
}

type Stitch struct {
	Name   string
	Params []Param
	Body   []Node
	Pos    diag.Pos
}

type VarDecl struct {
	Name     string
	Value    Expr
	Constant bool
	Pos      diag.Pos
}

type ListItemDecl struct {
	Name     string
	Value    int64
	Explicit bool
	Selected bool
}

type ListDecl struct {
	Name  string
	Items []ListItemDecl
	Pos   diag.Pos
}

type ExternalDecl struct {
	Name   string
	Params []string
	Pos    diag.Pos
}

// Node is a statement inside a flow body.
type Node interface {
	NodePos() diag.Pos
}

// Line is a content line; a trailing divert is the last inline element.
type Line struct {
	Content []Inline
	Tags    []string
	Pos     diag.Pos
}

type Choice struct {
	Depth      int
	Sticky     bool
	Fallback   bool
	Label      string
	Conditions []Expr
	Start      []Inline
	ChoiceOnly []Inline
	Inner      []Inline
	HasBracket bool
	Tags       []string
	Pos        diag.Pos
}

type Gather struct {
	Depth int
	Label string
	Line  *Line
	Pos   diag.Pos
}

// Thread forks the current flow into Target (`<- target(args)`).
type Thread struct {
	Target Target
	Pos    diag.Pos
}

type LogicKind int

const (
	LogicExpr LogicKind = iota
	LogicTemp
	LogicAssign
	LogicReturn
)

// Logic is a `~` line. For LogicAssign, Op is one of = += -= ++ --.
type Logic struct {
	Kind LogicKind
	Name string
	Op   string
	Expr Expr
	Pos  diag.Pos
}

// Branch is one arm of a multiline conditional; Cond is nil for else.
type Branch struct {
	Cond Expr
	Body []Node
	Pos  diag.Pos
}

// Conditional is a multiline `{ ... }` block. With Subject set and Switch
// false it is an if/else on Subject; with Switch set each branch condition is
// compared against Subject.
type Conditional struct {
	Subject  Expr
	Switch   bool
	Branches []*Branch
	Pos      diag.Pos
}

type SequenceMode int

const (
	SeqStopping SequenceMode = iota
	SeqCycle
	SeqOnce
	SeqShuffle
)

// SequenceBlock is a multiline `{stopping: - a - b}` style block.
type SequenceBlock struct {
	Mode     SequenceMode
	Branches [][]Node
	Pos      diag.Pos
}

func (n *Line) NodePos() diag.Pos          { return n.Pos }
func (n *Choice) NodePos() diag.Pos        { return n.Pos }
func (n *Gather) NodePos() diag.Pos        { return n.Pos }
func (n *Thread) NodePos() diag.Pos        { return n.Pos }
func (n *Logic) NodePos() diag.Pos         { return n.Pos }
func (n *Conditional) NodePos() diag.Pos   { return n.Pos }
func (n *SequenceBlock) NodePos() diag.Pos { return n.Pos }

// Inline is an element of line content.
type Inline interface {
	inline()
}

type Text struct{ Text string }
type Glue struct{}

// Eval prints the value of an expression (`{x}`).
type Eval struct{ Expr Expr }

type InlineCond struct {
	Cond Expr
	Then []Inline
	Else []Inline
}

type InlineSeq struct {
	Mode     SequenceMode
	Branches [][]Inline
	Pos      diag.Pos
}

type Target struct {
	Path string
	Args []Expr
	Pos  diag.Pos
}

// Divert covers `-> a`, tunnels `-> a -> b ->` and tunnel returns `->->`.
// Every target but the last is entered as a tunnel; the last is a tunnel too
// when TunnelTail is set.
type Divert struct {
	Targets      []Target
	TunnelTail   bool
	TunnelReturn bool
	ReturnTo     *Target
	Pos          diag.Pos
}

func (*Text) inline()       {}
func (*Glue) inline()       {}
func (*Eval) inline()       {}
func (*InlineCond) inline() {}
func (*InlineSeq) inline()  {}
func (*Divert) inline()     {}

// Expr is an expression tree node.
type Expr interface {
	ExprPos() diag.Pos
}

type NumberLit struct {
	Int     int64
	Float   float64
	IsFloat bool
	Pos     diag.Pos
}

type StringLit struct {
	Value string
	Pos   diag.Pos
}

type BoolLit struct {
	Value bool
	Pos   diag.Pos
}

// Ident is a possibly dotted name: variable, list item, or read count.
type Ident struct {
	Name string
	Pos  diag.Pos
}

type Call struct {
	Name string
	Args []Expr
	Pos  diag.Pos
}

type Unary struct {
	Op  string
	X   Expr
	Pos diag.Pos
}

type Binary struct {
	Op   string
	L, R Expr
	Pos  diag.Pos
}

// DivertLit is a divert target used as a value (`-> knot`).
type DivertLit struct {
	Target string
	Pos    diag.Pos
}

// ListLit is an inline list value `(a, b)`; an empty one is `()`.
type ListLit struct {
	Items []string
	Pos   diag.Pos
}

func (e *NumberLit) ExprPos() diag.Pos { return e.Pos }
func (e *StringLit) ExprPos() diag.Pos { return e.Pos }
func (e *BoolLit) ExprPos() diag.Pos   { return e.Pos }
func (e *Ident) ExprPos() diag.Pos     { return e.Pos }
func (e *Call) ExprPos() diag.Pos      { return e.Pos }
func (e *Unary) ExprPos() diag.Pos     { return e.Pos }
func (e *Binary) ExprPos() diag.Pos    { return e.Pos }
func (e *DivertLit) ExprPos() diag.Pos { return e.Pos }
func (e *ListLit) ExprPos() diag.Pos   { return e.Pos }

// Package graph holds the compiled story format: a tree of containers of
// instructions plus the tables the runtime needs to execute it.
package graph

import (
	"inkforge.dev/internal/story/value"
)

const (
	FormatTag = "inkforge.graph"
	Version   = 1
)

type Opcode string

// Output.
const (
	OpText        Opcode = "text"
	OpNewline     Opcode = "nl"
	OpGlue        Opcode = "glue"
	OpTag         Opcode = "tag"
	OpOut         Opcode = "out"
	OpBeginString Opcode = "str.begin"
	OpEndString   Opcode = "str.end"
)

// Literals and stack.
const (
	OpPushInt    Opcode = "int"
	OpPushFloat  Opcode = "float"
	OpPushBool   Opcode = "bool"
	OpPushStr    Opcode = "str"
	OpPushDivert Opcode = "divert.value"
	OpPushList   Opcode = "list"
	OpPushVoid   Opcode = "void"
	OpPop        Opcode = "pop"
	OpDup        Opcode = "dup"
)

// Variables and expressions.
const (
	OpGetVar Opcode = "var.get"
	OpSetVar Opcode = "var.set"
	OpBinary Opcode = "binary"
	OpUnary  Opcode = "unary"
	OpNative Opcode = "native"
	OpVisits Opcode = "visits"
)

// Flow control.
const (
	OpJump         Opcode = "jump"
	OpBranchFalse  Opcode = "branch.false"
	OpDivert       Opcode = "divert"
	OpDivertVar    Opcode = "divert.var"
	OpTunnel       Opcode = "tunnel"
	OpTunnelReturn Opcode = "tunnel.return"
	OpThread       Opcode = "thread"
	OpCall         Opcode = "call"
	OpCallExternal Opcode = "call.external"
	OpReturn       Opcode = "return"
	OpChoice       Opcode = "choice"
	OpSequence     Opcode = "sequence"
	OpDone         Opcode = "done"
	OpEnd          Opcode = "end"
)

// Instruction flags.
const (
	// OpSetVar: declare a temporary in the current frame.
	FlagTemp = 1 << iota
	// OpChoice: a condition value sits under the choice text on the stack.
	FlagHasCondition
	// OpChoice: excluded once its target has been visited.
	FlagOnceOnly
	// OpChoice: taken automatically when nothing else is available.
	FlagFallback
	// OpReturn / OpTunnelReturn: a value (or override target) is supplied.
	FlagHasValue
	// OpSetVar: assignment must target a global (used for declarations).
	FlagGlobal
	// OpDivert / OpThread: the target is another flow; drop temporaries.
	FlagResetTemps
)

// Sequence modes (OpSequence Flags).
const (
	SeqStopping = iota
	SeqCycle
	SeqOnce
	SeqShuffle
)

// Container flags.
const (
	ContainerCountVisits = 1 << iota
	ContainerFunction
)

// Instruction is one immutable step. Which fields are meaningful depends on Op;
// unused fields stay zero and are omitted from the wire form.
type Instruction struct {
	Op     Opcode      `json:"op,omitempty"`
	Str    int         `json:"str,omitempty"`
	Int    int64       `json:"int,omitempty"`
	Float  float64     `json:"float,omitempty"`
	Name   string      `json:"name,omitempty"`
	Target string      `json:"target,omitempty"`
	Flags  int         `json:"flags,omitempty"`
	List   *value.List `json:"list,omitempty"`
}

func (in *Instruction) Has(flag int) bool { return in.Flags&flag != 0 }

type Container struct {
	Name    string                `json:"name,omitempty"`
	Flags   int                   `json:"flags,omitempty"`
	Content []Element             `json:"content"`
	Named   map[string]*Container `json:"named,omitempty"`

	parent        *Container
	indexInParent int
	path          string
}

func (c *Container) Path() string       { return c.path }
func (c *Container) Parent() *Container { return c.parent }
func (c *Container) IndexInParent() int { return c.indexInParent }
func (c *Container) CountsVisits() bool { return c.Flags&ContainerCountVisits != 0 }
func (c *Container) IsFunction() bool   { return c.Flags&ContainerFunction != 0 }
func (c *Container) At(i int) (Element, bool) {
	if i < 0 || i >= len(c.Content) {
		return Element{}, false
	}
	return c.Content[i], true
}

// Element is either an instruction or a nested container.
type Element struct {
	Instr     *Instruction
	Container *Container
}

type External struct {
	Name     string `json:"name"`
	Params   int    `json:"params"`
	Fallback string `json:"fallback,omitempty"`
}

type Global struct {
	Name     string      `json:"name"`
	Initial  value.Value `json:"initial"`
	Constant bool        `json:"constant,omitempty"`
}

type ListDef struct {
	Name  string           `json:"name"`
	Items []value.ListItem `json:"items"`
}

type Story struct {
	Format    string     `json:"format"`
	Version   int        `json:"version"`
	Strings   []string   `json:"strings"`
	Externals []External `json:"externals,omitempty"`
	Globals   []Global   `json:"globals,omitempty"`
	Lists     []ListDef  `json:"lists,omitempty"`
	Root      *Container `json:"root"`

	index  map[string]*Container
	digest string
}

func (s *Story) Text(i int) string {
	if i < 0 || i >= len(s.Strings) {
		return ""
	}
	return s.Strings[i]
}

// Lookup resolves an absolute container path. The root is "".
func (s *Story) Lookup(path string) (*Container, bool) {
	c, ok := s.index[path]
	return c, ok
}

// Digest identifies the compiled graph; snapshots record it.
func (s *Story) Digest() string { return s.digest }

func (s *Story) ListDef(name string) (ListDef, bool) {
	for _, l := range s.Lists {
		if l.Name == name {
			return l, true
		}
	}
	return ListDef{}, false
}

func (s *Story) External(name string) (External, bool) {
	for _, e := range s.Externals {
		if e.Name == name {
			return e, true
		}
	}
	return External{}, false
}

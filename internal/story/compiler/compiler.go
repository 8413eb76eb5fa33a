// Package compiler turns parsed story source into an executable graph.
package compiler

import (
	"errors"
	"fmt"
	"strconv"

	"inkforge.dev/internal/story/diag"
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/parser"
	"inkforge.dev/internal/story/value"
)

var ErrCompileFailed = errors.New("compile failed")

type Options struct {
	// Include resolves INCLUDE lines. Nil rejects them.
	Include parser.IncludeFunc
	// MaxIncludeDepth bounds nested INCLUDE chains. Zero keeps the parser
	// default.
	MaxIncludeDepth int
}

// Compile parses and compiles src. On errors the story is nil and the
// returned error wraps ErrCompileFailed; warnings alone still produce a
// story. The same input always compiles to byte-identical output.
func Compile(file, src string, opts Options) (*graph.Story, diag.List, error) {
	f, diags := parser.Parse(file, src, parser.Options{Include: opts.Include, MaxIncludeDepth: opts.MaxIncludeDepth})
	if diags.HasErrors() {
		// The recovered tree still goes through the compiler so semantic
		// errors are reported together with the syntax ones.
		diags.Merge(compileDamaged(f))
		return nil, diags, fmt.Errorf("%w: %d error(s)", ErrCompileFailed, diags.Count(diag.Error))
	}
	s, cdiags := CompileFile(f)
	diags.Merge(cdiags)
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("%w: %d error(s)", ErrCompileFailed, diags.Count(diag.Error))
	}
	return s, diags, nil
}

// compileDamaged compiles a file that failed to parse, for its diagnostics
// only. Holes the parser left may trip the compiler; what was found up to
// that point is kept.
func compileDamaged(f *parser.File) (out diag.List) {
	c := newCompiler(f)
	defer func() {
		if recover() != nil {
			out = c.diags
		}
	}()
	c.run()
	return c.diags
}

// flow is a knot, stitch or the root: a unit with its own temporaries.
type flow struct {
	key      string
	name     string
	params   []parser.Param
	function bool
	c        *graph.Container
	pos      diag.Pos
	temps    map[string]bool
	root     bool
}

// target is anything a divert or read count can name.
type target struct {
	path string
	flow *flow
	// isFlow is false for labels.
	isFlow bool
}

type fixKind int

const (
	fixDivert fixKind = iota
	fixTunnel
	fixThread
	fixCall
	fixVisits
	fixValue
	fixTunnelReturn
)

type fixup struct {
	kind fixKind
	in   *graph.Instruction
	name string
	from *flow
	args int
	pos  diag.Pos
}

type listInfo struct {
	def   graph.ListDef
	items map[string]value.ListItem
}

type compiler struct {
	file  *parser.File
	diags diag.List

	strings   []string
	stringIdx map[string]int

	flows     map[string]*flow
	order     []*flow
	targets   map[string]*target
	globals   map[string]*parser.VarDecl
	consts    map[string]value.Value
	lists     map[string]*listInfo
	listOrder []string
	externals map[string]*parser.ExternalDecl

	paths    map[*graph.Container]string
	counters map[*graph.Container]map[string]int
	lastPos  map[*graph.Container]diag.Pos
	fixups   []fixup

	story *graph.Story
}

// CompileFile compiles an already parsed file.
func CompileFile(f *parser.File) (*graph.Story, diag.List) {
	c := newCompiler(f)
	c.run()
	if c.diags.HasErrors() {
		return nil, c.diags
	}
	if err := graph.Link(c.story); err != nil {
		c.diags.Errorf(diag.KindCompile, diag.Pos{File: f.Name}, "internal: %v", err)
		return nil, c.diags
	}
	return c.story, c.diags
}

func newCompiler(f *parser.File) *compiler {
	c := &compiler{
		file:      f,
		stringIdx: map[string]int{},
		flows:     map[string]*flow{},
		targets:   map[string]*target{},
		globals:   map[string]*parser.VarDecl{},
		consts:    map[string]value.Value{},
		lists:     map[string]*listInfo{},
		externals: map[string]*parser.ExternalDecl{},
		paths:     map[*graph.Container]string{},
		counters:  map[*graph.Container]map[string]int{},
		lastPos:   map[*graph.Container]diag.Pos{},
	}
	c.story = &graph.Story{
		Format:  graph.FormatTag,
		Version: graph.Version,
		Root:    &graph.Container{},
	}
	c.paths[c.story.Root] = ""
	return c
}

func (c *compiler) run() {
	c.declare()
	c.declareGlobals()
	for _, fl := range c.order {
		c.compileFlow(fl)
	}
	c.resolveFixups()
	c.story.Strings = c.strings
}

func (c *compiler) errorf(pos diag.Pos, format string, args ...any) {
	c.diags.Errorf(diag.KindCompile, pos, format, args...)
}

func (c *compiler) warnf(pos diag.Pos, format string, args ...any) {
	c.diags.Warnf(diag.KindCompile, pos, format, args...)
}

func (c *compiler) intern(s string) int {
	if i, ok := c.stringIdx[s]; ok {
		return i
	}
	i := len(c.strings)
	c.strings = append(c.strings, s)
	c.stringIdx[s] = i
	return i
}

// reserved names cannot be declared by stories.
var reserved = map[string]bool{"END": true, "DONE": true, "true": true, "false": true, "temp": true, "return": true}

// declare registers every knot, stitch, list and external so bodies can
// refer to them in any order.
func (c *compiler) declare() {
	rootFlow := &flow{key: "", c: c.story.Root, temps: map[string]bool{}, root: true, pos: diag.Pos{File: c.file.Name, Line: 1}}
	c.flows[""] = rootFlow
	c.order = append(c.order, rootFlow)

	for _, k := range c.file.Knots {
		if reserved[k.Name] {
			c.errorf(k.Pos, "%q is a reserved name", k.Name)
			continue
		}
		if _, dup := c.flows[k.Name]; dup {
			c.errorf(k.Pos, "knot %q is defined more than once", k.Name)
			continue
		}
		flags := graph.ContainerCountVisits
		if k.Function {
			flags |= graph.ContainerFunction
		}
		kc := c.addNamed(c.story.Root, k.Name, flags)
		kf := &flow{key: k.Name, name: k.Name, params: k.Params, function: k.Function, c: kc, pos: k.Pos}
		c.flows[kf.key] = kf
		c.order = append(c.order, kf)
		c.targets[kf.key] = &target{path: c.paths[kc], flow: kf, isFlow: true}

		for _, st := range k.Stitches {
			key := k.Name + "." + st.Name
			if _, dup := c.flows[key]; dup {
				c.errorf(st.Pos, "stitch %q is defined more than once in %q", st.Name, k.Name)
				continue
			}
			if k.Function {
				c.errorf(st.Pos, "function %q cannot contain stitches", k.Name)
				continue
			}
			sc := c.addNamed(kc, st.Name, graph.ContainerCountVisits)
			sf := &flow{key: key, name: st.Name, params: st.Params, c: sc, pos: st.Pos}
			c.flows[key] = sf
			c.order = append(c.order, sf)
			c.targets[key] = &target{path: c.paths[sc], flow: sf, isFlow: true}
		}
	}

	for _, l := range c.file.Lists {
		if _, dup := c.lists[l.Name]; dup {
			c.errorf(l.Pos, "list %q is defined more than once", l.Name)
			continue
		}
		li := &listInfo{def: graph.ListDef{Name: l.Name}, items: map[string]value.ListItem{}}
		for _, it := range l.Items {
			if _, dup := li.items[it.Name]; dup {
				c.errorf(l.Pos, "list %q repeats item %q", l.Name, it.Name)
				continue
			}
			item := value.ListItem{Origin: l.Name, Name: it.Name, Value: int(it.Value)}
			li.items[it.Name] = item
			li.def.Items = append(li.def.Items, item)
		}
		c.lists[l.Name] = li
		c.listOrder = append(c.listOrder, l.Name)
		c.story.Lists = append(c.story.Lists, li.def)
	}

	for _, e := range c.file.Externals {
		if _, dup := c.externals[e.Name]; dup {
			c.errorf(e.Pos, "external %q is declared more than once", e.Name)
			continue
		}
		c.externals[e.Name] = e
		ext := graph.External{Name: e.Name, Params: len(e.Params)}
		if kf, ok := c.flows[e.Name]; ok && kf.function {
			if len(kf.params) != len(e.Params) {
				c.errorf(e.Pos, "fallback function %q takes %d argument(s), external declares %d", e.Name, len(kf.params), len(e.Params))
			}
			ext.Fallback = c.paths[kf.c]
		}
		c.story.Externals = append(c.story.Externals, ext)
	}
}

// declareGlobals evaluates VAR and CONST initializers, which must be
// constant expressions, and adds one global per LIST.
func (c *compiler) declareGlobals() {
	for _, name := range c.listOrder {
		li := c.lists[name]
		var selected []value.ListItem
		for _, it := range c.file.Lists {
			if it.Name != name {
				continue
			}
			for _, d := range it.Items {
				if d.Selected {
					selected = append(selected, li.items[d.Name])
				}
			}
		}
		c.story.Globals = append(c.story.Globals, graph.Global{
			Name:    name,
			Initial: value.FromList(value.NewList([]string{name}, selected...)),
		})
		c.globals[name] = &parser.VarDecl{Name: name}
	}

	for _, d := range c.file.Globals {
		if reserved[d.Name] {
			c.errorf(d.Pos, "%q is a reserved name", d.Name)
			continue
		}
		if _, dup := c.globals[d.Name]; dup {
			c.errorf(d.Pos, "variable %q is declared more than once", d.Name)
			continue
		}
		if _, clash := c.consts[d.Name]; clash {
			c.errorf(d.Pos, "variable %q is declared more than once", d.Name)
			continue
		}
		// A nil value comes from a line the parser already reported.
		v, ok := value.Void, true
		if d.Value != nil {
			v, ok = c.fold(d.Value)
		}
		if !ok {
			c.errorf(d.Pos, "initial value of %q must be a constant expression", d.Name)
			continue
		}
		if d.Constant {
			c.consts[d.Name] = v
			continue
		}
		c.globals[d.Name] = d
		c.story.Globals = append(c.story.Globals, graph.Global{Name: d.Name, Initial: v})
	}
}

// resolve finds a named target from inside fl. Names are tried relative to
// the current stitch, then the current knot, then the top level.
func (c *compiler) resolve(name string, fl *flow) (*target, bool) {
	var scopes []string
	if fl != nil && fl.key != "" {
		scopes = append(scopes, fl.key)
		if knot, _, nested := cut(fl.key); nested {
			scopes = append(scopes, knot)
		}
	}
	scopes = append(scopes, "")
	for _, s := range scopes {
		key := name
		if s != "" {
			key = s + "." + name
		}
		if t, ok := c.targets[key]; ok {
			return t, true
		}
	}
	return nil, false
}

func cut(key string) (string, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}

// registerLabel records a labelled choice or gather of fl.
func (c *compiler) registerLabel(fl *flow, label string, ct *graph.Container, pos diag.Pos) {
	key := label
	if fl.key != "" {
		key = fl.key + "." + label
	}
	if _, dup := c.targets[key]; dup {
		c.errorf(pos, "label %q is defined more than once", label)
		return
	}
	c.targets[key] = &target{path: c.paths[ct], flow: fl}
}

func (c *compiler) addFixup(kind fixKind, in *graph.Instruction, name string, from *flow, args int, pos diag.Pos) {
	c.fixups = append(c.fixups, fixup{kind: kind, in: in, name: name, from: from, args: args, pos: pos})
}

func (c *compiler) resolveFixups() {
	for _, fx := range c.fixups {
		t, ok := c.resolve(fx.name, fx.from)
		if !ok {
			switch fx.kind {
			case fixVisits:
				c.errorf(fx.pos, "unresolved name %q", fx.name)
			case fixCall:
				c.errorf(fx.pos, "unknown function %q", fx.name)
			default:
				c.errorf(fx.pos, "unresolved divert target %q", fx.name)
			}
			continue
		}
		fx.in.Target = t.path
		params := 0
		if t.isFlow {
			params = len(t.flow.params)
		}

		switch fx.kind {
		case fixCall:
			if !t.isFlow || !t.flow.function {
				c.errorf(fx.pos, "%q is not a function", fx.name)
				continue
			}
		case fixDivert, fixTunnel, fixThread, fixTunnelReturn:
			if t.isFlow && t.flow.function {
				c.errorf(fx.pos, "cannot divert to function %q; call it instead", fx.name)
				continue
			}
			if (fx.kind == fixDivert || fx.kind == fixThread) && t.flow != fx.from {
				fx.in.Flags |= graph.FlagResetTemps
			}
		default:
			continue
		}
		if fx.args != params {
			c.errorf(fx.pos, "%q takes %d argument(s), got %d", fx.name, params, fx.args)
		}
	}
}

// addNamed creates a named child container.
func (c *compiler) addNamed(parent *graph.Container, name string, flags int) *graph.Container {
	ct := &graph.Container{Name: name, Flags: flags}
	if parent.Named == nil {
		parent.Named = map[string]*graph.Container{}
	}
	parent.Named[name] = ct
	c.paths[ct] = graph.JoinPath(c.paths[parent], name)
	return ct
}

// addInline appends an anonymous child that runs in sequence.
func (c *compiler) addInline(parent *graph.Container, flags int) *graph.Container {
	ct := &graph.Container{Flags: flags}
	c.paths[ct] = graph.JoinPath(c.paths[parent], strconv.Itoa(len(parent.Content)))
	parent.Content = append(parent.Content, graph.Sub(ct))
	return ct
}

// nextName hands out c-0, c-1, ... per container and prefix.
func (c *compiler) nextName(parent *graph.Container, prefix string) string {
	m := c.counters[parent]
	if m == nil {
		m = map[string]int{}
		c.counters[parent] = m
	}
	for {
		n := m[prefix]
		m[prefix] = n + 1
		name := prefix + "-" + strconv.Itoa(n)
		if _, taken := parent.Named[name]; !taken {
			return name
		}
	}
}

func (c *compiler) emit(ct *graph.Container, in *graph.Instruction) *graph.Instruction {
	ct.Content = append(ct.Content, graph.Element{Instr: in})
	return in
}

func (c *compiler) op(ct *graph.Container, op graph.Opcode) *graph.Instruction {
	return c.emit(ct, &graph.Instruction{Op: op})
}

// placeholder emits a relative jump to be patched later.
func (c *compiler) placeholder(ct *graph.Container, op graph.Opcode) int {
	c.emit(ct, &graph.Instruction{Op: op})
	return len(ct.Content) - 1
}

// patch points the jump at index at to the current end of ct.
func (c *compiler) patch(ct *graph.Container, at int) {
	ct.Content[at].Instr.Int = int64(len(ct.Content) - (at + 1))
}

func terminated(ct *graph.Container) bool {
	if len(ct.Content) == 0 {
		return false
	}
	in := ct.Content[len(ct.Content)-1].Instr
	if in == nil {
		return false
	}
	switch in.Op {
	case graph.OpDivert, graph.OpDivertVar, graph.OpDone, graph.OpEnd, graph.OpReturn, graph.OpTunnelReturn:
		return true
	}
	return false
}

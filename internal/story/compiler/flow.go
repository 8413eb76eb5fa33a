package compiler

import (
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/parser"
)

func (c *compiler) compileNodes(ct *graph.Container, nodes []parser.Node, fl *flow) {
	for _, n := range nodes {
		c.compileNode(ct, n, fl)
	}
}

func (c *compiler) compileNode(ct *graph.Container, n parser.Node, fl *flow) {
	c.lastPos[ct] = n.NodePos()
	switch x := n.(type) {
	case *parser.Line:
		c.compileLine(ct, x, fl)
	case *parser.Logic:
		c.compileLogic(ct, x, fl)
	case *parser.Thread:
		c.compileThread(ct, x, fl)
	case *parser.Conditional:
		c.compileConditional(ct, x, fl)
	case *parser.SequenceBlock:
		branches := make([]func(*graph.Container), len(x.Branches))
		for i, body := range x.Branches {
			body := body
			branches[i] = func(sc *graph.Container) { c.compileNodes(sc, body, fl) }
		}
		c.compileSequence(ct, x.Mode, branches)
	case *parser.Choice, *parser.Gather:
		c.errorf(n.NodePos(), "choices and gathers are only allowed in a weave")
	default:
		c.errorf(n.NodePos(), "unsupported statement %T", n)
	}
}

// compileLine emits a content line. Text ends with a newline unless it ends
// in glue; a trailing divert comes after the newline.
func (c *compiler) compileLine(ct *graph.Container, ln *parser.Line, fl *flow) {
	for _, tag := range ln.Tags {
		c.emit(ct, &graph.Instruction{Op: graph.OpTag, Str: c.intern(tag)})
	}
	c.compileInlines(ct, ln.Content, fl)
	if n := len(ln.Content); n > 0 {
		switch ln.Content[n-1].(type) {
		case *parser.Divert, *parser.Glue:
		default:
			c.op(ct, graph.OpNewline)
		}
	}
}

func (c *compiler) compileInlines(ct *graph.Container, parts []parser.Inline, fl *flow) {
	for i, part := range parts {
		switch x := part.(type) {
		case *parser.Text:
			if x.Text != "" {
				c.emit(ct, &graph.Instruction{Op: graph.OpText, Str: c.intern(x.Text)})
			}
		case *parser.Glue:
			c.op(ct, graph.OpGlue)
		case *parser.Eval:
			c.compileExpr(ct, x.Expr, fl)
			c.op(ct, graph.OpOut)
		case *parser.InlineCond:
			c.compileExpr(ct, x.Cond, fl)
			skip := c.placeholder(ct, graph.OpBranchFalse)
			c.compileInlines(ct, x.Then, fl)
			if x.Else == nil {
				c.patch(ct, skip)
				continue
			}
			end := c.placeholder(ct, graph.OpJump)
			c.patch(ct, skip)
			c.compileInlines(ct, x.Else, fl)
			c.patch(ct, end)
		case *parser.InlineSeq:
			branches := make([]func(*graph.Container), len(x.Branches))
			for j, b := range x.Branches {
				b := b
				branches[j] = func(sc *graph.Container) { c.compileInlines(sc, b, fl) }
			}
			c.compileSequence(ct, x.Mode, branches)
		case *parser.Divert:
			if i > 0 {
				if _, glued := parts[i-1].(*parser.Glue); !glued {
					c.op(ct, graph.OpNewline)
				}
			}
			c.compileDivert(ct, x, fl)
		}
	}
}

// compileConditional lowers a multiline conditional to relative jumps.
func (c *compiler) compileConditional(ct *graph.Container, cond *parser.Conditional, fl *flow) {
	var ends []int
	for i, br := range cond.Branches {
		skip := -1
		if br.Cond != nil {
			if cond.Switch {
				c.compileExpr(ct, cond.Subject, fl)
				c.compileExpr(ct, br.Cond, fl)
				c.emit(ct, &graph.Instruction{Op: graph.OpBinary, Name: "=="})
			} else {
				c.compileExpr(ct, br.Cond, fl)
			}
			skip = c.placeholder(ct, graph.OpBranchFalse)
		}
		c.compileNodes(ct, br.Body, fl)
		if i < len(cond.Branches)-1 {
			ends = append(ends, c.placeholder(ct, graph.OpJump))
		}
		if skip >= 0 {
			c.patch(ct, skip)
		}
		if br.Cond == nil {
			break
		}
	}
	for _, at := range ends {
		c.patch(ct, at)
	}
}

var seqModes = map[parser.SequenceMode]int{
	parser.SeqStopping: graph.SeqStopping,
	parser.SeqCycle:    graph.SeqCycle,
	parser.SeqOnce:     graph.SeqOnce,
	parser.SeqShuffle:  graph.SeqShuffle,
}

// compileSequence emits an anonymous counted container: the sequence op
// picks a slot in the jump table that follows it, and every branch jumps
// to the end. Once-only sequences get a trailing empty branch.
func (c *compiler) compileSequence(ct *graph.Container, mode parser.SequenceMode, branches []func(*graph.Container)) {
	if mode == parser.SeqOnce {
		branches = append(branches, func(*graph.Container) {})
	}
	sc := c.addInline(ct, graph.ContainerCountVisits)
	n := len(branches)
	c.emit(sc, &graph.Instruction{Op: graph.OpSequence, Int: int64(n), Flags: seqModes[mode]})
	table := make([]int, n)
	for i := range table {
		table[i] = c.placeholder(sc, graph.OpJump)
	}
	var ends []int
	for i, emitBranch := range branches {
		c.patch(sc, table[i])
		emitBranch(sc)
		if i < n-1 {
			ends = append(ends, c.placeholder(sc, graph.OpJump))
		}
	}
	for _, at := range ends {
		c.patch(sc, at)
	}
}

func (c *compiler) compileLogic(ct *graph.Container, l *parser.Logic, fl *flow) {
	switch l.Kind {
	case parser.LogicExpr:
		c.compileExpr(ct, l.Expr, fl)
		c.op(ct, graph.OpPop)
	case parser.LogicTemp:
		if _, isConst := c.consts[l.Name]; isConst || reserved[l.Name] {
			c.errorf(l.Pos, "cannot declare temporary %q: name is taken", l.Name)
			return
		}
		c.compileExpr(ct, l.Expr, fl)
		fl.temps[l.Name] = true
		c.emit(ct, &graph.Instruction{Op: graph.OpSetVar, Name: l.Name, Flags: graph.FlagTemp})
	case parser.LogicReturn:
		if !fl.function {
			c.errorf(l.Pos, "return is only allowed inside a function")
			return
		}
		if l.Expr == nil {
			c.op(ct, graph.OpReturn)
			return
		}
		c.compileExpr(ct, l.Expr, fl)
		c.emit(ct, &graph.Instruction{Op: graph.OpReturn, Flags: graph.FlagHasValue})
	case parser.LogicAssign:
		flag, ok := c.assignable(l.Name, fl)
		if !ok {
			if _, isConst := c.consts[l.Name]; isConst {
				c.errorf(l.Pos, "cannot assign to constant %q", l.Name)
			} else {
				c.errorf(l.Pos, "assignment to undeclared variable %q", l.Name)
			}
			return
		}
		switch l.Op {
		case "=":
			c.compileExpr(ct, l.Expr, fl)
		case "+=", "-=":
			c.emit(ct, &graph.Instruction{Op: graph.OpGetVar, Name: l.Name, Flags: flag})
			c.compileExpr(ct, l.Expr, fl)
			c.emit(ct, &graph.Instruction{Op: graph.OpBinary, Name: l.Op[:1]})
		case "++", "--":
			c.emit(ct, &graph.Instruction{Op: graph.OpGetVar, Name: l.Name, Flags: flag})
			c.emit(ct, &graph.Instruction{Op: graph.OpPushInt, Int: 1})
			c.emit(ct, &graph.Instruction{Op: graph.OpBinary, Name: l.Op[:1]})
		}
		c.emit(ct, &graph.Instruction{Op: graph.OpSetVar, Name: l.Name, Flags: flag})
	}
}

// assignable reports how a name is stored: a temporary of the flow or a
// global variable.
func (c *compiler) assignable(name string, fl *flow) (int, bool) {
	if fl.temps[name] {
		return graph.FlagTemp, true
	}
	if _, ok := c.globals[name]; ok {
		return graph.FlagGlobal, true
	}
	return 0, false
}

func (c *compiler) compileThread(ct *graph.Container, th *parser.Thread, fl *flow) {
	c.compileArgs(ct, th.Target, fl)
	in := c.emit(ct, &graph.Instruction{Op: graph.OpThread})
	c.addFixup(fixThread, in, th.Target.Path, fl, len(th.Target.Args), th.Target.Pos)
}

// compileArgs pushes call arguments. An argument for a divert parameter
// that names a knot is passed as a divert value.
func (c *compiler) compileArgs(ct *graph.Container, tg parser.Target, fl *flow) {
	var params []parser.Param
	if t, ok := c.resolve(tg.Path, fl); ok && t.isFlow {
		params = t.flow.params
	}
	for i, arg := range tg.Args {
		if i < len(params) && params[i].Divert {
			if id, ok := arg.(*parser.Ident); ok && !c.isVariable(id.Name, fl) {
				arg = &parser.DivertLit{Target: id.Name, Pos: id.Pos}
			}
		}
		c.compileExpr(ct, arg, fl)
	}
}

func (c *compiler) isVariable(name string, fl *flow) bool {
	_, ok := c.assignable(name, fl)
	return ok
}

func (c *compiler) compileDivert(ct *graph.Container, d *parser.Divert, fl *flow) {
	if d.TunnelReturn {
		in := &graph.Instruction{Op: graph.OpTunnelReturn}
		if d.ReturnTo != nil {
			c.compileArgs(ct, *d.ReturnTo, fl)
			in.Flags = graph.FlagHasValue
			c.addFixup(fixTunnelReturn, in, d.ReturnTo.Path, fl, len(d.ReturnTo.Args), d.ReturnTo.Pos)
		}
		c.emit(ct, in)
		return
	}
	for i, tg := range d.Targets {
		last := i == len(d.Targets)-1
		tunnel := !last || d.TunnelTail
		switch tg.Path {
		case "END", "DONE":
			if tunnel || len(tg.Args) > 0 {
				c.errorf(tg.Pos, "%s cannot be used as a tunnel", tg.Path)
				return
			}
			if tg.Path == "END" {
				c.op(ct, graph.OpEnd)
			} else {
				c.op(ct, graph.OpDone)
			}
			return
		}
		if len(tg.Args) == 0 && c.isVariable(tg.Path, fl) {
			flag, _ := c.assignable(tg.Path, fl)
			if tunnel {
				c.emit(ct, &graph.Instruction{Op: graph.OpTunnel, Name: tg.Path, Flags: flag})
			} else {
				c.emit(ct, &graph.Instruction{Op: graph.OpDivertVar, Name: tg.Path, Flags: flag})
			}
			continue
		}
		c.compileArgs(ct, tg, fl)
		if tunnel {
			in := c.emit(ct, &graph.Instruction{Op: graph.OpTunnel})
			c.addFixup(fixTunnel, in, tg.Path, fl, len(tg.Args), tg.Pos)
			continue
		}
		in := c.emit(ct, &graph.Instruction{Op: graph.OpDivert})
		c.addFixup(fixDivert, in, tg.Path, fl, len(tg.Args), tg.Pos)
	}
}

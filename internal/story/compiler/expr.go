package compiler

import (
	"strings"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/parser"
	"inkforge.dev/internal/story/value"
)

func (c *compiler) pushValue(ct *graph.Container, v value.Value) {
	switch v.Kind() {
	case value.KindInt:
		n, _ := v.AsInt()
		c.emit(ct, &graph.Instruction{Op: graph.OpPushInt, Int: n})
	case value.KindFloat:
		f, _ := v.AsFloat()
		c.emit(ct, &graph.Instruction{Op: graph.OpPushFloat, Float: f})
	case value.KindBool:
		in := &graph.Instruction{Op: graph.OpPushBool}
		if v.Truthy() {
			in.Int = 1
		}
		c.emit(ct, in)
	case value.KindString:
		c.emit(ct, &graph.Instruction{Op: graph.OpPushStr, Str: c.intern(v.AsString())})
	case value.KindDivert:
		p, _ := v.TargetPath()
		c.emit(ct, &graph.Instruction{Op: graph.OpPushDivert, Target: p})
	case value.KindList:
		l := v.AsList()
		c.emit(ct, &graph.Instruction{Op: graph.OpPushList, List: &l})
	default:
		c.op(ct, graph.OpPushVoid)
	}
}

// listItem resolves `item` or `list.item`. Bare names must be unambiguous.
func (c *compiler) listItem(name string) (value.ListItem, bool, string) {
	if origin, item, ok := strings.Cut(name, "."); ok {
		li, found := c.lists[origin]
		if !found {
			return value.ListItem{}, false, ""
		}
		it, found := li.items[item]
		return it, found, ""
	}
	var hits []value.ListItem
	for _, lname := range c.listOrder {
		if it, ok := c.lists[lname].items[name]; ok {
			hits = append(hits, it)
		}
	}
	switch len(hits) {
	case 0:
		return value.ListItem{}, false, ""
	case 1:
		return hits[0], true, ""
	}
	return value.ListItem{}, false, "ambiguous list item " + name + "; qualify it with its list name"
}

func (c *compiler) compileExpr(ct *graph.Container, e parser.Expr, fl *flow) {
	if e == nil {
		return
	}
	if id, ok := e.(*parser.Ident); ok && c.isVariable(id.Name, fl) {
		c.compileIdent(ct, id, fl)
		return
	}
	if v, ok := c.fold(e); ok {
		c.pushValue(ct, v)
		return
	}
	switch x := e.(type) {
	case *parser.Ident:
		c.compileIdent(ct, x, fl)
	case *parser.Call:
		c.compileCall(ct, x, fl)
	case *parser.Unary:
		c.compileExpr(ct, x.X, fl)
		c.emit(ct, &graph.Instruction{Op: graph.OpUnary, Name: x.Op})
	case *parser.Binary:
		c.compileExpr(ct, x.L, fl)
		c.compileExpr(ct, x.R, fl)
		c.emit(ct, &graph.Instruction{Op: graph.OpBinary, Name: x.Op})
	case *parser.DivertLit:
		if c.isVariable(x.Target, fl) {
			flag, _ := c.assignable(x.Target, fl)
			c.emit(ct, &graph.Instruction{Op: graph.OpGetVar, Name: x.Target, Flags: flag})
			return
		}
		in := c.emit(ct, &graph.Instruction{Op: graph.OpPushDivert})
		c.addFixup(fixValue, in, x.Target, fl, 0, x.Pos)
	case *parser.ListLit:
		l, ok := c.listLiteral(x)
		if ok {
			c.emit(ct, &graph.Instruction{Op: graph.OpPushList, List: &l})
		}
	default:
		c.errorf(e.ExprPos(), "unsupported expression %T", e)
	}
}

func (c *compiler) compileIdent(ct *graph.Container, id *parser.Ident, fl *flow) {
	if flag, ok := c.assignable(id.Name, fl); ok {
		c.emit(ct, &graph.Instruction{Op: graph.OpGetVar, Name: id.Name, Flags: flag})
		return
	}
	if it, ok, msg := c.listItem(id.Name); msg != "" {
		c.errorf(id.Pos, "%s", msg)
		return
	} else if ok {
		c.pushValue(ct, value.FromList(value.NewList([]string{it.Origin}, it)))
		return
	}
	in := c.emit(ct, &graph.Instruction{Op: graph.OpVisits})
	c.addFixup(fixVisits, in, id.Name, fl, 0, id.Pos)
}

func (c *compiler) compileCall(ct *graph.Container, call *parser.Call, fl *flow) {
	if argc, ok := graph.Natives[call.Name]; ok {
		if len(call.Args) != argc {
			c.errorf(call.Pos, "%s takes %d argument(s), got %d", call.Name, argc, len(call.Args))
			return
		}
		for _, a := range call.Args {
			if id, isIdent := a.(*parser.Ident); isIdent && takesTarget(call.Name) && !c.isVariable(id.Name, fl) {
				a = &parser.DivertLit{Target: id.Name, Pos: id.Pos}
			}
			c.compileExpr(ct, a, fl)
		}
		c.emit(ct, &graph.Instruction{Op: graph.OpNative, Name: call.Name, Int: int64(argc)})
		return
	}
	if ext, ok := c.externals[call.Name]; ok {
		if len(call.Args) != len(ext.Params) {
			c.errorf(call.Pos, "external %s takes %d argument(s), got %d", call.Name, len(ext.Params), len(call.Args))
			return
		}
		for _, a := range call.Args {
			c.compileExpr(ct, a, fl)
		}
		in := &graph.Instruction{Op: graph.OpCallExternal, Name: call.Name, Int: int64(len(call.Args))}
		if kf, ok := c.flows[call.Name]; ok && kf.function {
			in.Target = c.paths[kf.c]
		}
		c.emit(ct, in)
		return
	}
	if li, ok := c.lists[call.Name]; ok && len(call.Args) == 1 {
		// `colors(2)` picks the item with that value.
		c.pushValue(ct, value.String(li.def.Name))
		c.compileExpr(ct, call.Args[0], fl)
		c.emit(ct, &graph.Instruction{Op: graph.OpNative, Name: "LIST_ITEM", Int: 2})
		return
	}
	c.compileArgs(ct, parser.Target{Path: call.Name, Args: call.Args, Pos: call.Pos}, fl)
	in := c.emit(ct, &graph.Instruction{Op: graph.OpCall, Int: int64(len(call.Args))})
	c.addFixup(fixCall, in, call.Name, fl, len(call.Args), call.Pos)
}

func takesTarget(native string) bool {
	return native == "TURNS_SINCE" || native == "READ_COUNT"
}

func (c *compiler) listLiteral(x *parser.ListLit) (value.List, bool) {
	var items []value.ListItem
	var origins []string
	for _, name := range x.Items {
		it, ok, msg := c.listItem(name)
		if !ok {
			if msg == "" {
				msg = "unknown list item " + name
			}
			c.errorf(x.Pos, "%s", msg)
			return value.List{}, false
		}
		items = append(items, it)
		origins = append(origins, it.Origin)
	}
	return value.NewList(origins, items...), true
}

// fold evaluates constant expressions: literals, constants, list items and
// operators over them. Divert literals fold when they name a knot or stitch.
func (c *compiler) fold(e parser.Expr) (value.Value, bool) {
	switch x := e.(type) {
	case *parser.NumberLit:
		if x.IsFloat {
			return value.Float(x.Float), true
		}
		return value.Int(x.Int), true
	case *parser.StringLit:
		return value.String(x.Value), true
	case *parser.BoolLit:
		return value.Bool(x.Value), true
	case *parser.Ident:
		if v, ok := c.consts[x.Name]; ok {
			return v, true
		}
		if it, ok, _ := c.listItem(x.Name); ok {
			if _, shadowed := c.globals[x.Name]; !shadowed {
				return value.FromList(value.NewList([]string{it.Origin}, it)), true
			}
		}
	case *parser.ListLit:
		if len(x.Items) == 0 {
			return value.FromList(value.NewList(nil)), true
		}
		for _, name := range x.Items {
			if _, ok, _ := c.listItem(name); !ok {
				return value.Void, false
			}
		}
		l, ok := c.listLiteral(x)
		return value.FromList(l), ok
	case *parser.DivertLit:
		if t, ok := c.targets[x.Target]; ok && t.isFlow {
			return value.DivertTo(t.path), true
		}
	case *parser.Unary:
		v, ok := c.fold(x.X)
		if !ok {
			return value.Void, false
		}
		r, err := value.Unary(x.Op, v)
		return r, err == nil
	case *parser.Binary:
		l, ok := c.fold(x.L)
		if !ok {
			return value.Void, false
		}
		r, ok := c.fold(x.R)
		if !ok {
			return value.Void, false
		}
		v, err := value.Binary(x.Op, l, r)
		return v, err == nil
	}
	return value.Void, false
}

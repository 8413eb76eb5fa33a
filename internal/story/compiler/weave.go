package compiler

import (
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/parser"
)

// weaveItem is a node of a flow body; choices carry the nodes nested under
// them.
type weaveItem struct {
	node parser.Node
	body []weaveItem
}

func closesBody(n parser.Node, depth int) bool {
	switch x := n.(type) {
	case *parser.Choice:
		return x.Depth <= depth
	case *parser.Gather:
		return x.Depth <= depth
	}
	return false
}

// buildWeave nests the flat node list by choice depth. A choice owns every
// following node up to the next choice or gather at its own depth or above.
func buildWeave(nodes []parser.Node, depth int) []weaveItem {
	var items []weaveItem
	for i := 0; i < len(nodes); {
		ch, ok := nodes[i].(*parser.Choice)
		if !ok {
			items = append(items, weaveItem{node: nodes[i]})
			i++
			continue
		}
		level := depth
		if ch.Depth > level {
			level = ch.Depth
		}
		j := i + 1
		for j < len(nodes) && !closesBody(nodes[j], level) {
			j++
		}
		items = append(items, weaveItem{node: ch, body: buildWeave(nodes[i+1:j], level+1)})
		i = j
	}
	return items
}

func (c *compiler) compileFlow(fl *flow) {
	var body []parser.Node
	var stitches []*parser.Stitch
	switch {
	case fl.root:
		body = c.file.Top
	default:
		knot, st, nested := cut(fl.key)
		for _, k := range c.file.Knots {
			if k.Name != knot {
				continue
			}
			if !nested {
				body, stitches = k.Body, k.Stitches
				break
			}
			for _, s := range k.Stitches {
				if s.Name == st {
					body = s.Body
				}
			}
			break
		}
	}

	fl.temps = map[string]bool{}
	for i := len(fl.params) - 1; i >= 0; i-- {
		p := fl.params[i]
		if fl.temps[p.Name] {
			c.errorf(p.Pos, "parameter %q is repeated", p.Name)
		}
		fl.temps[p.Name] = true
		c.emit(fl.c, &graph.Instruction{Op: graph.OpSetVar, Name: p.Name, Flags: graph.FlagTemp})
	}

	if len(body) == 0 && len(stitches) > 0 {
		first := c.flows[fl.key+"."+stitches[0].Name]
		if first != nil {
			c.emit(fl.c, &graph.Instruction{Op: graph.OpDivert, Target: c.paths[first.c]})
		}
		return
	}

	loose := c.compileWeave(buildWeave(body, 1), fl.c, fl)
	for _, ct := range loose {
		switch {
		case fl.root:
			c.op(ct, graph.OpDone)
		case fl.function:
			c.op(ct, graph.OpReturn)
		default:
			pos, ok := c.lastPos[ct]
			if !ok {
				pos = fl.pos
			}
			c.warnf(pos, "loose end: flow %q runs out of content here without a divert", fl.key)
		}
	}
}

// compileWeave emits items into ct and returns the containers whose flow
// ends without a divert, so the caller can join them to what comes next.
func (c *compiler) compileWeave(items []weaveItem, ct *graph.Container, fl *flow) []*graph.Container {
	var loose []*graph.Container
	pending := false
	cur := ct

	for _, it := range items {
		switch n := it.node.(type) {
		case *parser.Choice:
			if fl.function {
				c.errorf(n.Pos, "functions cannot contain choices")
				continue
			}
			body := c.compileChoice(cur, n, fl)
			loose = append(loose, c.compileWeave(it.body, body, fl)...)
			pending = true
		case *parser.Gather:
			name := n.Label
			if name == "" {
				name = c.nextName(cur, "g")
			}
			var g *graph.Container
			if pending {
				g = c.addNamed(cur, name, graph.ContainerCountVisits)
			} else {
				g = c.addInline(cur, graph.ContainerCountVisits)
				g.Name = name
				c.paths[g] = graph.JoinPath(c.paths[cur], name)
			}
			if n.Label != "" {
				c.registerLabel(fl, n.Label, g, n.Pos)
			}
			for _, le := range loose {
				c.emit(le, &graph.Instruction{Op: graph.OpDivert, Target: c.paths[g]})
			}
			loose = nil
			pending = false
			cur = g
			c.lastPos[cur] = n.Pos
			if n.Line != nil {
				c.compileLine(cur, n.Line, fl)
			}
		default:
			c.compileNode(cur, it.node, fl)
		}
	}
	if !pending && !terminated(cur) {
		loose = append(loose, cur)
	}
	return loose
}

// compileChoice emits the choice point into ct and returns the container
// that runs when the choice is taken.
func (c *compiler) compileChoice(ct *graph.Container, ch *parser.Choice, fl *flow) *graph.Container {
	name := ch.Label
	if name == "" {
		name = c.nextName(ct, "c")
	} else if _, taken := ct.Named[name]; taken {
		c.errorf(ch.Pos, "label %q is defined more than once", name)
		name = c.nextName(ct, "c")
	}
	body := c.addNamed(ct, name, graph.ContainerCountVisits)
	if ch.Label != "" {
		c.registerLabel(fl, ch.Label, body, ch.Pos)
	}
	c.lastPos[body] = ch.Pos

	// The divert on a choice line belongs to the body, never to the text.
	start, inner := ch.Start, ch.Inner
	var divert *parser.Divert
	splitDivert := func(parts []parser.Inline) []parser.Inline {
		if n := len(parts); n > 0 {
			if d, ok := parts[n-1].(*parser.Divert); ok {
				divert = d
				return parts[:n-1]
			}
		}
		return parts
	}
	if ch.HasBracket || ch.Fallback {
		inner = splitDivert(inner)
	} else {
		start = splitDivert(start)
	}

	flags := 0
	if len(ch.Conditions) > 0 {
		for i, cond := range ch.Conditions {
			c.compileExpr(ct, cond, fl)
			if i > 0 {
				c.emit(ct, &graph.Instruction{Op: graph.OpBinary, Name: "&&"})
			}
		}
		flags |= graph.FlagHasCondition
	}
	if !ch.Sticky {
		flags |= graph.FlagOnceOnly
	}
	if ch.Fallback {
		flags |= graph.FlagFallback
	} else {
		c.op(ct, graph.OpBeginString)
		c.compileInlines(ct, start, fl)
		c.compileInlines(ct, ch.ChoiceOnly, fl)
		c.op(ct, graph.OpEndString)
	}
	c.emit(ct, &graph.Instruction{Op: graph.OpChoice, Target: c.paths[body], Flags: flags})

	for _, tag := range ch.Tags {
		c.emit(body, &graph.Instruction{Op: graph.OpTag, Str: c.intern(tag)})
	}
	out := append(append([]parser.Inline{}, start...), inner...)
	c.compileInlines(body, out, fl)
	if len(out) > 0 && !endsWithGlue(out) {
		c.op(body, graph.OpNewline)
	}
	if divert != nil {
		c.compileDivert(body, divert, fl)
	}
	return body
}

func endsWithGlue(parts []parser.Inline) bool {
	if len(parts) == 0 {
		return false
	}
	_, ok := parts[len(parts)-1].(*parser.Glue)
	return ok
}

package runtime

import (
	"errors"
	"hash/fnv"
	"math/rand"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/value"
)

// step runs one element of the current frame.
func (e *Engine) step() error {
	f := e.st.frame()
	if f.ptr.null() {
		return e.outOfContent()
	}
	c := f.ptr.c
	el, ok := c.At(f.ptr.i)
	if !ok {
		if p := c.Parent(); p != nil && c.IndexInParent() >= 0 {
			f.ptr = pointer{c: p, i: c.IndexInParent() + 1}
			return nil
		}
		return e.outOfContent()
	}
	if el.Container != nil {
		f.ptr = pointer{c: el.Container}
		e.visit(el.Container)
		return nil
	}
	f.ptr.i++
	err := e.exec(el.Instr)
	var re *RuntimeError
	if errors.As(err, &re) && re.Path == "" {
		re.Path = c.Path()
	}
	return err
}

func (e *Engine) visit(c *graph.Container) {
	if !c.CountsVisits() {
		return
	}
	e.st.visits[c.Path()]++
	e.st.turnIdx[c.Path()] = e.st.turn
}

func (e *Engine) lookup(path string) (*graph.Container, error) {
	c, ok := e.story.Lookup(path)
	if !ok {
		return nil, rtErr(ErrBadTarget, "no container at %q", path)
	}
	return c, nil
}

// divert moves the current frame to the start of target. The target is
// entered, and so is every ancestor the frame was not already inside.
func (e *Engine) divert(target *graph.Container) {
	f := e.st.frame()
	inside := map[*graph.Container]bool{}
	for c := f.ptr.c; c != nil; c = c.Parent() {
		inside[c] = true
	}
	f.ptr = pointer{c: target}

	var chain []*graph.Container
	for c := target.Parent(); c != nil && !inside[c]; c = c.Parent() {
		chain = append(chain, c)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		e.visit(chain[i])
	}
	e.visit(target)
}

func (e *Engine) divertPath(path string, resetTemps bool) error {
	c, err := e.lookup(path)
	if err != nil {
		return err
	}
	if resetTemps {
		e.st.frame().temps = map[string]value.Value{}
	}
	e.divert(c)
	return nil
}

// targetOf reads a divert-target variable.
func (e *Engine) targetOf(in *graph.Instruction) (string, error) {
	v, err := e.getVar(in.Name, in.Flags)
	if err != nil {
		return "", err
	}
	p, ok := v.TargetPath()
	if !ok {
		return "", rtErr(ErrType, "%q holds %s, not a divert target", in.Name, v.Kind())
	}
	return p, nil
}

func (e *Engine) outOfContent() error {
	st := e.st
	if st.frame().kind == frameFunction {
		return e.popFunction(value.Void)
	}
	if len(st.threads) > 1 {
		st.threads = st.threads[:len(st.threads)-1]
		return nil
	}
	return e.stop(false)
}

// stop is reached when the flow has nothing more to run: offer choices,
// take a fallback, end, or fail.
func (e *Engine) stop(done bool) error {
	st := e.st
	if len(st.visibleChoices()) > 0 {
		st.status = statusChoices
		return nil
	}
	for _, c := range st.choices {
		if c.fallback {
			e.take(c)
			return nil
		}
	}
	if st.thread().hasTunnel() {
		return rtErr(ErrUnresolvedTunnel, "story stopped inside a tunnel that never returned")
	}
	if done {
		st.status = statusEnded
		return nil
	}
	return rtErr(ErrOutOfContent, "ran out of content without -> END or -> DONE")
}

func (e *Engine) pushFrame(kind frameKind, argc int) error {
	st := e.st
	if len(st.eval) < argc {
		return rtErr(ErrStackUnderflow, "call needs %d argument(s), stack holds %d", argc, len(st.eval))
	}
	th := st.thread()
	th.frames = append(th.frames, &frame{
		kind:       kind,
		ptr:        th.top().ptr,
		temps:      map[string]value.Value{},
		evalHeight: len(st.eval) - argc,
	})
	return nil
}

func (e *Engine) popFunction(ret value.Value) error {
	st := e.st
	th := st.thread()
	f := th.top()
	if f.kind != frameFunction || len(th.frames) < 2 {
		return rtErr(ErrInvalidReturn, "return outside a function call")
	}
	if len(st.eval) > f.evalHeight {
		st.eval = st.eval[:f.evalHeight]
	}
	th.frames = th.frames[:len(th.frames)-1]
	st.push(ret)
	return nil
}

func (e *Engine) getVar(name string, flags int) (value.Value, error) {
	if flags&graph.FlagTemp != 0 {
		v, ok := e.st.frame().temps[name]
		if !ok {
			return value.Void, rtErr(ErrUnknownVariable, "temporary %q read before it was set", name)
		}
		return v, nil
	}
	v, ok := e.st.globals[name]
	if !ok {
		return value.Void, rtErr(ErrUnknownVariable, "no global variable %q", name)
	}
	return v, nil
}

func (e *Engine) setVar(name string, flags int, v value.Value) error {
	if flags&graph.FlagTemp != 0 {
		e.st.frame().temps[name] = v
		return nil
	}
	if _, ok := e.st.globals[name]; !ok {
		return rtErr(ErrUnknownVariable, "no global variable %q", name)
	}
	e.setGlobal(name, v)
	return nil
}

func opErr(err error) error {
	switch {
	case errors.Is(err, value.ErrDivideByZero):
		return &RuntimeError{Code: ErrDivideByZero, Msg: "arithmetic", Err: err}
	default:
		return &RuntimeError{Code: ErrType, Msg: "expression", Err: err}
	}
}

func (e *Engine) exec(in *graph.Instruction) error {
	st := e.st
	switch in.Op {
	case graph.OpText:
		st.out.write(e.story.Text(in.Str))
	case graph.OpNewline:
		st.out.newline()
	case graph.OpGlue:
		st.out.glue()
	case graph.OpTag:
		st.out.tag(e.story.Text(in.Str))
	case graph.OpOut:
		v, err := st.pop()
		if err != nil {
			return err
		}
		st.out.write(v.String())
	case graph.OpBeginString:
		st.out.captures = append(st.out.captures, "")
	case graph.OpEndString:
		n := len(st.out.captures)
		if n == 0 {
			return rtErr(ErrStackUnderflow, "string end without begin")
		}
		s := st.out.captures[n-1]
		st.out.captures = st.out.captures[:n-1]
		st.push(value.String(cleanLine(s)))

	case graph.OpPushInt:
		st.push(value.Int(in.Int))
	case graph.OpPushFloat:
		st.push(value.Float(in.Float))
	case graph.OpPushBool:
		st.push(value.Bool(in.Int != 0))
	case graph.OpPushStr:
		st.push(value.String(e.story.Text(in.Str)))
	case graph.OpPushDivert:
		st.push(value.DivertTo(in.Target))
	case graph.OpPushList:
		if in.List == nil {
			st.push(value.FromList(value.NewList(nil)))
		} else {
			st.push(value.FromList(*in.List))
		}
	case graph.OpPushVoid:
		st.push(value.Void)
	case graph.OpPop:
		_, err := st.pop()
		return err
	case graph.OpDup:
		v, err := st.pop()
		if err != nil {
			return err
		}
		st.push(v)
		st.push(v)

	case graph.OpGetVar:
		v, err := e.getVar(in.Name, in.Flags)
		if err != nil {
			return err
		}
		st.push(v)
	case graph.OpSetVar:
		v, err := st.pop()
		if err != nil {
			return err
		}
		return e.setVar(in.Name, in.Flags, v)
	case graph.OpBinary:
		r, err := st.pop()
		if err != nil {
			return err
		}
		l, err := st.pop()
		if err != nil {
			return err
		}
		v, err := value.Binary(in.Name, l, r)
		if err != nil {
			return opErr(err)
		}
		st.push(v)
	case graph.OpUnary:
		x, err := st.pop()
		if err != nil {
			return err
		}
		v, err := value.Unary(in.Name, x)
		if err != nil {
			return opErr(err)
		}
		st.push(v)
	case graph.OpNative:
		return e.native(in.Name, int(in.Int))
	case graph.OpVisits:
		st.push(value.Int(int64(st.visits[in.Target])))

	case graph.OpJump:
		st.frame().ptr.i += int(in.Int)
	case graph.OpBranchFalse:
		v, err := st.pop()
		if err != nil {
			return err
		}
		if !v.Truthy() {
			st.frame().ptr.i += int(in.Int)
		}
	case graph.OpDivert:
		return e.divertPath(in.Target, in.Has(graph.FlagResetTemps))
	case graph.OpDivertVar:
		p, err := e.targetOf(in)
		if err != nil {
			return err
		}
		return e.divertPath(p, false)
	case graph.OpTunnel:
		target := in.Target
		if in.Name != "" {
			p, err := e.targetOf(in)
			if err != nil {
				return err
			}
			target = p
		}
		c, err := e.lookup(target)
		if err != nil {
			return err
		}
		if err := e.pushFrame(frameTunnel, 0); err != nil {
			return err
		}
		e.divert(c)
	case graph.OpTunnelReturn:
		th := st.thread()
		if th.top().kind != frameTunnel {
			return rtErr(ErrInvalidReturn, "->-> outside a tunnel")
		}
		th.frames = th.frames[:len(th.frames)-1]
		if in.Has(graph.FlagHasValue) {
			return e.divertPath(in.Target, false)
		}
	case graph.OpThread:
		c, err := e.lookup(in.Target)
		if err != nil {
			return err
		}
		nt := st.thread().copy()
		nt.id = st.nextThread
		st.nextThread++
		st.threads = append(st.threads, nt)
		if in.Has(graph.FlagResetTemps) {
			nt.top().temps = map[string]value.Value{}
		}
		e.divert(c)
	case graph.OpCall:
		c, err := e.lookup(in.Target)
		if err != nil {
			return err
		}
		if err := e.pushFrame(frameFunction, int(in.Int)); err != nil {
			return err
		}
		e.divert(c)
	case graph.OpCallExternal:
		return e.callExternal(in)
	case graph.OpReturn:
		ret := value.Void
		if in.Has(graph.FlagHasValue) {
			v, err := st.pop()
			if err != nil {
				return err
			}
			ret = v
		}
		return e.popFunction(ret)
	case graph.OpChoice:
		return e.choicePoint(in)
	case graph.OpSequence:
		e.sequence(in)
	case graph.OpDone:
		if len(st.threads) > 1 {
			st.threads = st.threads[:len(st.threads)-1]
			return nil
		}
		return e.stop(true)
	case graph.OpEnd:
		st.status = statusEnded
		st.choices = nil
	default:
		return rtErr(ErrUnknownInstruction, "opcode %q", in.Op)
	}
	return nil
}

// choicePoint records a choice for the current turn unless its condition is
// false or it is once-only and already taken.
func (e *Engine) choicePoint(in *graph.Instruction) error {
	st := e.st
	fallback := in.Has(graph.FlagFallback)
	text := ""
	if !fallback {
		v, err := st.pop()
		if err != nil {
			return err
		}
		text = v.String()
	}
	show := true
	if in.Has(graph.FlagHasCondition) {
		v, err := st.pop()
		if err != nil {
			return err
		}
		show = v.Truthy()
	}
	target, err := e.lookup(in.Target)
	if err != nil {
		return err
	}
	onceOnly := in.Has(graph.FlagOnceOnly)
	if !show || (onceOnly && st.visits[target.Path()] > 0) {
		return nil
	}
	st.choices = append(st.choices, &pendingChoice{
		text:     text,
		target:   target,
		source:   st.frame().ptr.c.Path(),
		onceOnly: onceOnly,
		fallback: fallback,
		thread:   st.thread().copy(),
		tags:     e.leadingTags(target),
	})
	return nil
}

// leadingTags are the tags a choice body starts with.
func (e *Engine) leadingTags(c *graph.Container) []string {
	var tags []string
	for _, el := range c.Content {
		if el.Instr == nil || el.Instr.Op != graph.OpTag {
			break
		}
		tags = append(tags, e.story.Text(el.Instr.Str))
	}
	return tags
}

// sequence skips into the jump table that follows the instruction. The
// enclosing container's visit count says which pass this is.
func (e *Engine) sequence(in *graph.Instruction) {
	f := e.st.frame()
	n := int(in.Int)
	if n <= 0 {
		return
	}
	count := e.st.visits[f.ptr.c.Path()]
	if count < 1 {
		count = 1
	}
	var idx int
	switch in.Flags {
	case graph.SeqCycle:
		idx = (count - 1) % n
	case graph.SeqShuffle:
		idx = e.shuffleIndex(f.ptr.c.Path(), count-1, n)
	default:
		idx = count - 1
		if idx > n-1 {
			idx = n - 1
		}
	}
	f.ptr.i += idx
}

// shuffleIndex draws a fresh permutation per full loop through the
// branches, keyed by the container so sibling shuffles differ.
func (e *Engine) shuffleIndex(path string, pass, n int) int {
	h := fnv.New64a()
	h.Write([]byte(path))
	loop, iter := pass/n, pass%n
	r := rand.New(rand.NewSource(int64(h.Sum64()) + int64(loop) + e.st.seed))
	return r.Perm(n)[iter]
}

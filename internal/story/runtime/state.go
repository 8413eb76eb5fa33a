package runtime

import (
	"strings"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/value"
)

// pointer addresses the next element to run. A nil container is the null
// pointer.
type pointer struct {
	c *graph.Container
	i int
}

func (p pointer) null() bool { return p.c == nil }

type frameKind int

const (
	frameRoot frameKind = iota
	frameTunnel
	frameFunction
)

var frameKindNames = map[frameKind]string{
	frameRoot:     "root",
	frameTunnel:   "tunnel",
	frameFunction: "function",
}

type frame struct {
	kind       frameKind
	ptr        pointer
	temps      map[string]value.Value
	evalHeight int
}

func (f *frame) copy() *frame {
	nf := *f
	nf.temps = make(map[string]value.Value, len(f.temps))
	for k, v := range f.temps {
		nf.temps[k] = v
	}
	return &nf
}

// thread is one call stack. Forked threads and choices hold copies.
type thread struct {
	id     int
	frames []*frame
}

func (t *thread) top() *frame { return t.frames[len(t.frames)-1] }

func (t *thread) copy() *thread {
	nt := &thread{id: t.id, frames: make([]*frame, len(t.frames))}
	for i, f := range t.frames {
		nt.frames[i] = f.copy()
	}
	return nt
}

func (t *thread) hasTunnel() bool {
	for _, f := range t.frames {
		if f.kind == frameTunnel {
			return true
		}
	}
	return false
}

type pendingChoice struct {
	text     string
	target   *graph.Container
	source   string
	onceOnly bool
	fallback bool
	thread   *thread
	tags     []string
}

type status int

const (
	statusRunning status = iota
	statusChoices
	statusEnded
)

var statusNames = map[status]string{
	statusRunning: "running",
	statusChoices: "choices",
	statusEnded:   "ended",
}

// output collects the line under construction.
type output struct {
	line     string
	tags     []string
	pending  bool
	captures []string
}

func (o *output) capturing() bool { return len(o.captures) > 0 }

func (o *output) write(s string) {
	if o.capturing() {
		o.captures[len(o.captures)-1] += s
		return
	}
	o.line += s
}

func (o *output) newline() {
	if o.capturing() {
		return
	}
	if strings.TrimSpace(o.line) != "" || len(o.tags) > 0 {
		o.pending = true
	}
}

func (o *output) glue() {
	if !o.capturing() {
		o.pending = false
	}
}

func (o *output) tag(t string) {
	if !o.capturing() {
		o.tags = append(o.tags, t)
	}
}

func (o *output) hasContent() bool {
	return o.pending || strings.TrimSpace(o.line) != "" || len(o.tags) > 0
}

// take returns the finished line and clears the buffer.
func (o *output) take() (string, []string) {
	text, tags := cleanLine(o.line), o.tags
	o.line, o.tags, o.pending = "", nil, false
	return text, tags
}

// cleanLine collapses inline whitespace runs and trims the ends.
func cleanLine(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			space = true
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// state is everything a snapshot captures. Restore builds a new state and
// swaps it in whole.
type state struct {
	globals    map[string]value.Value
	visits     map[string]int
	turnIdx    map[string]int
	turn       int
	threads    []*thread
	nextThread int
	eval       []value.Value
	out        output
	choices    []*pendingChoice
	status     status
	seed       int64
	prevRandom int64
}

func (s *state) thread() *thread { return s.threads[len(s.threads)-1] }
func (s *state) frame() *frame   { return s.thread().top() }

func (s *state) push(v value.Value) { s.eval = append(s.eval, v) }

func (s *state) pop() (value.Value, error) {
	if len(s.eval) == 0 {
		return value.Void, rtErr(ErrStackUnderflow, "evaluation stack is empty")
	}
	v := s.eval[len(s.eval)-1]
	s.eval = s.eval[:len(s.eval)-1]
	return v, nil
}

func (s *state) visibleChoices() []*pendingChoice {
	var out []*pendingChoice
	for _, c := range s.choices {
		if !c.fallback {
			out = append(out, c)
		}
	}
	return out
}

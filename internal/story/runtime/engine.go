// Package runtime executes a compiled story graph. An Engine is driven by
// Continue, which yields one line at a time, and Choose, which resumes the
// story after a choice set.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/value"
)

const DefaultMaxSteps = 100000

type Options struct {
	// Seed drives RANDOM and shuffle sequences. Equal seeds replay equally.
	Seed int64
	// MaxSteps caps instructions executed by one Continue call.
	MaxSteps int
	Logger   *log.Logger
}

type StepKind int

const (
	StepLine StepKind = iota
	StepChoices
	StepEnd
)

func (k StepKind) String() string {
	switch k {
	case StepLine:
		return "line"
	case StepChoices:
		return "choices"
	case StepEnd:
		return "end"
	}
	return fmt.Sprintf("step(%d)", int(k))
}

type Step struct {
	Kind    StepKind
	Text    string
	Tags    []string
	Choices []Choice
}

type Choice struct {
	Index      int
	Text       string
	Tags       []string
	TargetPath string
	SourcePath string
	OnceOnly   bool
}

// ExternalFunc implements an EXTERNAL declaration on the host side. It runs
// with the engine unlocked and may read it or set variables.
type ExternalFunc func(args []value.Value) (value.Value, error)

// ObserverFunc is called after a global variable changes. Calls are made once
// the engine lock is released, so an observer may read the engine.
type ObserverFunc func(name string, from, to value.Value)

type change struct {
	name     string
	from, to value.Value
}

type Engine struct {
	mu sync.Mutex

	story  *graph.Story
	opts   Options
	logger *log.Logger

	st  *state
	err error

	externals map[string]ExternalFunc
	observers map[string][]ObserverFunc
	changes   []change
	busy      bool
	warnings  []string
	fallbacks map[string]bool
}

// New starts an engine at the top of the story.
func New(story *graph.Story, opts Options) *Engine {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		story:     story,
		opts:      opts,
		logger:    logger,
		externals: map[string]ExternalFunc{},
		observers: map[string][]ObserverFunc{},
		fallbacks: map[string]bool{},
	}
	e.st = e.initialState()
	return e
}

// Load decodes a graph document and starts an engine on it. A document of
// another version fails before any engine exists.
func Load(data []byte, opts Options) (*Engine, error) {
	s, err := graph.Decode(data)
	if err != nil {
		return nil, err
	}
	return New(s, opts), nil
}

func (e *Engine) initialState() *state {
	st := &state{
		globals:    map[string]value.Value{},
		visits:     map[string]int{},
		turnIdx:    map[string]int{},
		seed:       e.opts.Seed,
		nextThread: 1,
	}
	for _, g := range e.story.Globals {
		st.globals[g.Name] = g.Initial
	}
	root := &frame{kind: frameRoot, ptr: pointer{c: e.story.Root}, temps: map[string]value.Value{}}
	st.threads = []*thread{{id: 0, frames: []*frame{root}}}
	e.st = st
	e.visit(e.story.Root)
	return st
}

func (e *Engine) Story() *graph.Story { return e.story }

// Reset returns the engine to the story start and clears any failure.
// Bound externals and observers are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		e.logger.Printf("reset ignored: %v", ErrBusy)
		return
	}
	e.err = nil
	e.warnings = nil
	e.fallbacks = map[string]bool{}
	e.st = e.initialState()
}

// Err reports the fault that put the engine in its failed state.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) Warnings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.warnings...)
}

func (e *Engine) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.warnings = append(e.warnings, msg)
	e.logger.Printf("warning: %s", msg)
}

func (e *Engine) failed() error {
	return &failedError{cause: e.err}
}

// fail moves the engine to its terminal state.
func (e *Engine) fail(err error) error {
	var re *RuntimeError
	if errors.As(err, &re) && re.Path == "" {
		if f := e.curFrame(); f != nil && !f.ptr.null() {
			re.Path = f.ptr.c.Path()
		}
	}
	e.err = err
	e.logger.Printf("story failed: %v", err)
	return err
}

func (e *Engine) curFrame() *frame {
	if e.st == nil || len(e.st.threads) == 0 {
		return nil
	}
	t := e.st.thread()
	if len(t.frames) == 0 {
		return nil
	}
	return t.top()
}

func (e *Engine) Continue() (Step, error) {
	return e.ContinueContext(context.Background())
}

// ContinueContext runs until a line is complete, a choice set is reached or
// the story ends. Cancelling ctx stops between instructions and leaves the
// engine able to continue later.
func (e *Engine) ContinueContext(ctx context.Context) (Step, error) {
	e.mu.Lock()
	defer e.unlock()
	if e.busy {
		return Step{}, ErrBusy
	}
	if e.err != nil {
		return Step{}, e.failed()
	}
	st := e.st
	for steps := 0; ; steps++ {
		if st.status != statusRunning {
			if st.out.hasContent() {
				return e.lineStep(), nil
			}
			if st.status == statusChoices {
				return Step{Kind: StepChoices, Choices: e.choices()}, nil
			}
			return Step{Kind: StepEnd}, nil
		}
		if st.out.pending && !e.transparent() {
			return e.lineStep(), nil
		}
		if steps >= e.opts.MaxSteps {
			return Step{}, e.fail(rtErr(ErrStepLimit, "no output after %d steps", e.opts.MaxSteps))
		}
		if err := ctx.Err(); err != nil {
			return Step{}, err
		}
		if err := e.step(); err != nil {
			return Step{}, e.fail(err)
		}
	}
}

// ContinueMaximally continues until the story waits for a choice or ends. It
// returns the lines produced on the way and the final step. On error the
// lines produced before it are still returned.
func (e *Engine) ContinueMaximally(ctx context.Context) ([]Step, Step, error) {
	var lines []Step
	for {
		s, err := e.ContinueContext(ctx)
		if err != nil {
			return lines, Step{}, err
		}
		if s.Kind != StepLine {
			return lines, s, nil
		}
		lines = append(lines, s)
	}
}

// Texts lists the text of each step.
func Texts(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Text
	}
	return out
}

// ChoiceTexts lists the text of each choice.
func ChoiceTexts(cs []Choice) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Text
	}
	return out
}

func (e *Engine) lineStep() Step {
	text, tags := e.st.out.take()
	return Step{Kind: StepLine, Text: text, Tags: tags}
}

// transparent reports whether the next element cannot add to the current
// line, so a pending newline may still be cancelled by glue after it.
func (e *Engine) transparent() bool {
	f := e.st.frame()
	if f.ptr.null() {
		return true
	}
	el, ok := f.ptr.c.At(f.ptr.i)
	if !ok || el.Container != nil {
		return true
	}
	switch el.Instr.Op {
	case graph.OpGlue, graph.OpDivert, graph.OpDivertVar, graph.OpJump, graph.OpTunnel,
		graph.OpTunnelReturn, graph.OpThread, graph.OpDone, graph.OpEnd, graph.OpNewline:
		return true
	}
	return false
}

func (e *Engine) choices() []Choice {
	var out []Choice
	for i, c := range e.st.visibleChoices() {
		out = append(out, Choice{
			Index:      i,
			Text:       c.text,
			Tags:       append([]string(nil), c.tags...),
			TargetPath: c.target.Path(),
			SourcePath: c.source,
			OnceOnly:   c.onceOnly,
		})
	}
	return out
}

// CurrentChoices lists the choices on offer, empty unless the story is
// waiting for one.
func (e *Engine) CurrentChoices() []Choice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil || e.st.status != statusChoices {
		return nil
	}
	return e.choices()
}

// Choose resumes the story at choice index i. An index outside the current
// set fails the engine.
func (e *Engine) Choose(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	if e.err != nil {
		return e.failed()
	}
	st := e.st
	visible := st.visibleChoices()
	if st.status != statusChoices || i < 0 || i >= len(visible) {
		return e.fail(rtErr(ErrInvalidChoice, "choice %d is not available (%d on offer)", i, len(visible)))
	}
	st.turn++
	e.take(visible[i])
	return nil
}

func (e *Engine) take(c *pendingChoice) {
	st := e.st
	th := c.thread.copy()
	st.threads = []*thread{th}
	st.choices = nil
	st.status = statusRunning
	e.divert(c.target)
}

// ChoosePath moves the story to a container path, dropping the call stack
// and any pending choices.
func (e *Engine) ChoosePath(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	if e.err != nil {
		return e.failed()
	}
	c, ok := e.story.Lookup(path)
	if !ok {
		return rtErr(ErrBadTarget, "no container at %q", path)
	}
	st := e.st
	root := &frame{kind: frameRoot, ptr: pointer{c: e.story.Root}, temps: map[string]value.Value{}}
	st.threads = []*thread{{id: st.nextThread, frames: []*frame{root}}}
	st.nextThread++
	st.choices = nil
	st.eval = nil
	st.status = statusRunning
	e.divert(c)
	return nil
}

func (e *Engine) Turn() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.turn
}

// Variable returns a global's current value. Errors here never fail the
// engine.
func (e *Engine) Variable(name string) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.st.globals[name]
	if !ok {
		return value.Void, rtErr(ErrUnknownVariable, "no global variable %q", name)
	}
	return v, nil
}

func (e *Engine) SetVariable(name string, v value.Value) error {
	e.mu.Lock()
	defer e.unlock()
	if _, ok := e.st.globals[name]; !ok {
		return rtErr(ErrUnknownVariable, "no global variable %q", name)
	}
	e.setGlobal(name, v)
	return nil
}

// VariableNames lists the globals in sorted order.
func (e *Engine) VariableNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.st.globals))
	for k := range e.st.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) setGlobal(name string, v value.Value) {
	old := e.st.globals[name]
	e.st.globals[name] = v
	if value.Equal(old, v) || len(e.observers[name]) == 0 {
		return
	}
	e.changes = append(e.changes, change{name: name, from: old, to: v})
}

// unlock releases the engine and then tells observers about the changes made
// while it was held. Inside an external call the changes wait for the
// Continue that made the call.
func (e *Engine) unlock() {
	if e.busy || len(e.changes) == 0 {
		e.mu.Unlock()
		return
	}
	type call struct {
		fn ObserverFunc
		c  change
	}
	var calls []call
	for _, c := range e.changes {
		for _, fn := range e.observers[c.name] {
			calls = append(calls, call{fn, c})
		}
	}
	e.changes = nil
	e.mu.Unlock()
	for _, c := range calls {
		c.fn(c.c.name, c.c.from, c.c.to)
	}
}

// ObserveVariable registers fn for changes to a global.
func (e *Engine) ObserveVariable(name string, fn ObserverFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.st.globals[name]; !ok {
		return rtErr(ErrUnknownVariable, "no global variable %q", name)
	}
	e.observers[name] = append(e.observers[name], fn)
	return nil
}

// VisitCount is how many times the container at path has been entered.
func (e *Engine) VisitCount(path string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.story.Lookup(path); !ok {
		return 0, rtErr(ErrBadTarget, "no container at %q", path)
	}
	return e.st.visits[path], nil
}

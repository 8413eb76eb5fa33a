package runtime

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"inkforge.dev/internal/persistence/snapshot"
	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/value"
)

func start(t *testing.T, src string, opts Options) *Engine {
	t.Helper()
	s, diags, err := compiler.Compile("test.ink", src, compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, diags.String())
	}
	return New(s, opts)
}

func next(t *testing.T, e *Engine) Step {
	t.Helper()
	st, err := e.Continue()
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	return st
}

func expectLine(t *testing.T, e *Engine, want string) {
	t.Helper()
	st := next(t, e)
	if st.Kind != StepLine || st.Text != want {
		t.Fatalf("got %s %q, want line %q", st.Kind, st.Text, want)
	}
}

func expectChoices(t *testing.T, e *Engine, want ...string) {
	t.Helper()
	st := next(t, e)
	if st.Kind != StepChoices {
		t.Fatalf("got %s %q, want choices %v", st.Kind, st.Text, want)
	}
	var got []string
	for i, c := range st.Choices {
		if c.Index != i {
			t.Fatalf("choice %d has index %d", i, c.Index)
		}
		got = append(got, c.Text)
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("choices=%v, want %v", got, want)
	}
}

func expectEnd(t *testing.T, e *Engine) {
	t.Helper()
	st := next(t, e)
	if st.Kind != StepEnd {
		t.Fatalf("got %s %q, want end", st.Kind, st.Text)
	}
}

func TestEngine_HelloEnd(t *testing.T) {
	e := start(t, "Hello -> END\n", Options{})
	expectLine(t, e, "Hello")
	expectEnd(t, e)
	expectEnd(t, e)
}

func TestEngine_ChoiceAndGather(t *testing.T) {
	e := start(t, "Hi.\n* A\n  Went A.\n* B\n- After.\n-> END\n", Options{})
	expectLine(t, e, "Hi.")
	expectChoices(t, e, "A", "B")
	if err := e.Choose(0); err != nil {
		t.Fatalf("choose: %v", err)
	}
	expectLine(t, e, "A")
	expectLine(t, e, "Went A.")
	expectLine(t, e, "After.")
	expectEnd(t, e)
	if e.Turn() != 1 {
		t.Fatalf("turn=%d, want 1", e.Turn())
	}
}

func TestEngine_OnceOnlyChoicesAndVisitCounts(t *testing.T) {
	e := start(t, "-> hub\n=== hub ===\n* A -> hub\n* B -> END\n", Options{})
	expectChoices(t, e, "A", "B")
	if n, err := e.VisitCount("hub"); err != nil || n != 1 {
		t.Fatalf("hub visits=%d err=%v, want 1", n, err)
	}
	if err := e.Choose(0); err != nil {
		t.Fatalf("choose: %v", err)
	}
	expectLine(t, e, "A")
	expectChoices(t, e, "B")
	if n, _ := e.VisitCount("hub"); n != 2 {
		t.Fatalf("hub visits=%d, want 2", n)
	}
	if n, _ := e.VisitCount("hub.c-0"); n != 1 {
		t.Fatalf("choice body visits=%d, want 1", n)
	}
	if _, err := e.VisitCount("nowhere"); CodeOf(err) != ErrBadTarget {
		t.Fatalf("expected bad target, got %v", err)
	}
}

func TestEngine_ConditionalChoiceHidden(t *testing.T) {
	e := start(t, "VAR key = false\n* {key} Open\n* Leave\n- -> END\n", Options{})
	expectChoices(t, e, "Leave")
}

func TestEngine_InvalidChoiceIsTerminal(t *testing.T) {
	e := start(t, "* A\n* B\n- -> END\n", Options{})
	expectChoices(t, e, "A", "B")
	err := e.Choose(5)
	if CodeOf(err) != ErrInvalidChoice {
		t.Fatalf("expected %s, got %v", ErrInvalidChoice, err)
	}
	if _, err := e.Continue(); !errors.Is(err, ErrFailed) {
		t.Fatalf("continue after failure: %v", err)
	}
	if e.Err() == nil || e.CurrentChoices() != nil {
		t.Fatalf("engine should stay failed")
	}
	e.Reset()
	if e.Err() != nil {
		t.Fatalf("reset should clear the failure")
	}
	expectChoices(t, e, "A", "B")
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	s, _, err := compiler.Compile("test.ink", "Hi. -> END\n", compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	data, err := graph.Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if e, err := Load(data, Options{}); err != nil || e == nil {
		t.Fatalf("load: %v", err)
	}
	bad := bytes.Replace(data, []byte(`"version":1`), []byte(`"version":99`), 1)
	e, err := Load(bad, Options{})
	if e != nil || !errors.Is(err, graph.ErrUnsupportedVersion) {
		t.Fatalf("expected unsupported version and no engine, got %v %v", e, err)
	}
}

func TestEngine_Glue(t *testing.T) {
	e := start(t, "Hello\n<>, world.\n-> END\n", Options{})
	expectLine(t, e, "Hello, world.")
	expectEnd(t, e)
}

func TestEngine_TagsTravelWithLine(t *testing.T) {
	e := start(t, "Dark room. #mood:grim #sfx\n-> END\n", Options{})
	st := next(t, e)
	if st.Text != "Dark room." || len(st.Tags) != 2 || st.Tags[0] != "mood:grim" {
		t.Fatalf("step=%+v", st)
	}
}

func TestEngine_Tunnel(t *testing.T) {
	e := start(t, "Start.\n-> t ->\nBack.\n-> END\n=== t ===\nIn tunnel.\n->->\n", Options{})
	expectLine(t, e, "Start.")
	expectLine(t, e, "In tunnel.")
	expectLine(t, e, "Back.")
	expectEnd(t, e)
}

func TestEngine_UnresolvedTunnel(t *testing.T) {
	e := start(t, "-> t ->\n-> END\n=== t ===\nIn.\n-> DONE\n", Options{})
	_, err := e.Continue()
	if CodeOf(err) != ErrUnresolvedTunnel {
		t.Fatalf("expected %s, got %v", ErrUnresolvedTunnel, err)
	}
}

func TestEngine_OutOfContent(t *testing.T) {
	s, _, err := compiler.Compile("test.ink", "-> k\n=== k ===\nNo way out.\n", compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e := New(s, Options{})
	_, err = e.Continue()
	if CodeOf(err) != ErrOutOfContent {
		t.Fatalf("expected %s, got %v", ErrOutOfContent, err)
	}
}

func TestEngine_FunctionCall(t *testing.T) {
	e := start(t, "~ temp x = add(2, 3)\nResult {x}.\n-> END\n=== function add(a, b) ===\n~ return a + b\n", Options{})
	expectLine(t, e, "Result 5.")
	expectEnd(t, e)
}

func TestEngine_Threads(t *testing.T) {
	e := start(t, "<- side\nMain.\n* [Stay] -> END\n=== side ===\n* [Side] -> END\n", Options{})
	expectLine(t, e, "Main.")
	expectChoices(t, e, "Side", "Stay")
	if err := e.Choose(0); err != nil {
		t.Fatalf("choose: %v", err)
	}
	expectEnd(t, e)
}

func TestEngine_FallbackChoice(t *testing.T) {
	e := start(t, "-> hub\n=== hub ===\n* [Once] -> hub\n* -> out\n=== out ===\nGone.\n-> END\n", Options{})
	expectChoices(t, e, "Once")
	if err := e.Choose(0); err != nil {
		t.Fatalf("choose: %v", err)
	}
	expectLine(t, e, "Gone.")
	expectEnd(t, e)
}

func TestEngine_Sequences(t *testing.T) {
	e := start(t, "-> loop\n=== loop ===\n{&A|B} {C|D}\n+ [go] -> loop\n", Options{})
	want := []string{"A C", "B D", "A D"}
	for i, w := range want {
		expectLine(t, e, w)
		expectChoices(t, e, "go")
		if err := e.Choose(0); err != nil {
			t.Fatalf("choose %d: %v", i, err)
		}
	}
}

func TestEngine_ShuffleIsSeeded(t *testing.T) {
	src := "-> loop\n=== loop ===\n{~A|B|C|D}\n+ [go] -> loop\n"
	run := func() []string {
		e := start(t, src, Options{Seed: 7})
		var out []string
		for i := 0; i < 8; i++ {
			out = append(out, next(t, e).Text)
			next(t, e)
			if err := e.Choose(0); err != nil {
				t.Fatalf("choose: %v", err)
			}
		}
		return out
	}
	a, b := run(), run()
	if strings.Join(a, "") != strings.Join(b, "") {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
	seen := map[string]bool{}
	for _, s := range a[:4] {
		seen[s] = true
	}
	if len(seen) != 4 {
		t.Fatalf("first pass should visit every branch once, got %v", a[:4])
	}
}

func TestEngine_StepLimit(t *testing.T) {
	e := start(t, "-> loop\n=== loop ===\n-> loop\n", Options{MaxSteps: 50})
	_, err := e.Continue()
	if CodeOf(err) != ErrStepLimit {
		t.Fatalf("expected %s, got %v", ErrStepLimit, err)
	}
	if e.Err() == nil {
		t.Fatalf("step limit should fail the engine")
	}
}

func TestEngine_ContextCancelIsResumable(t *testing.T) {
	e := start(t, "Hello -> END\n", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ContinueContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if e.Err() != nil {
		t.Fatalf("cancellation must not fail the engine")
	}
	expectLine(t, e, "Hello")
}

func TestEngine_VariablesAndObservers(t *testing.T) {
	e := start(t, "VAR hp = 10\n~ hp = hp - 3\nHP {hp}.\n-> END\n", Options{})
	var seen []string
	if err := e.ObserveVariable("hp", func(name string, from, to value.Value) {
		seen = append(seen, from.String()+">"+to.String())
	}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	expectLine(t, e, "HP 7.")
	if len(seen) != 1 || seen[0] != "10>7" {
		t.Fatalf("observer calls=%v", seen)
	}
	if v, err := e.Variable("hp"); err != nil || !value.Equal(v, value.Int(7)) {
		t.Fatalf("hp=%v err=%v", v, err)
	}
	if err := e.SetVariable("nope", value.Int(1)); CodeOf(err) != ErrUnknownVariable {
		t.Fatalf("expected unknown variable, got %v", err)
	}
	if e.Err() != nil {
		t.Fatalf("API errors must not fail the engine")
	}
}

func TestEngine_Externals(t *testing.T) {
	e := start(t, "EXTERNAL roll(n)\nRolled {roll(6)}.\n-> END\n", Options{})
	if err := e.ValidateExternals(); CodeOf(err) != ErrExternal {
		t.Fatalf("expected unbound external, got %v", err)
	}
	if err := e.BindExternal("roll", func(args []value.Value) (value.Value, error) {
		n, _ := args[0].AsInt()
		return value.Int(n - 2), nil
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := e.ValidateExternals(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	expectLine(t, e, "Rolled 4.")

	fb := start(t, "EXTERNAL roll(n)\nRolled {roll(6)}.\n-> END\n=== function roll(n) ===\n~ return 1\n", Options{})
	expectLine(t, fb, "Rolled 1.")
	if w := fb.Warnings(); len(w) != 1 || !strings.Contains(w[0], "roll") {
		t.Fatalf("warnings=%v", w)
	}
}

func TestEngine_NativesAndLists(t *testing.T) {
	e := start(t, "LIST colors = red, (green), blue\nVAR n = 0\n~ n = LIST_COUNT(LIST_ALL(colors))\n{n} {LIST_VALUE(colors)} {colors(3)} {FLOOR(2.7)}\n-> END\n", Options{})
	expectLine(t, e, "3 2 blue 2")
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	src := "VAR gold = 0\n-> hub\n=== hub ===\n~ gold += 5\nGold {gold}.\n* [Stay] -> hub\n* [Leave] -> END\n"
	a := start(t, src, Options{Seed: 3})
	expectLine(t, a, "Gold 5.")
	expectChoices(t, a, "Stay", "Leave")

	data, err := snapshot.Marshal(a.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b := New(a.Story(), Options{Seed: 99})
	if err := b.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for _, e := range []*Engine{a, b} {
		if err := e.Choose(0); err != nil {
			t.Fatalf("choose: %v", err)
		}
		expectLine(t, e, "Gold 10.")
		expectChoices(t, e, "Leave")
	}
	ja, _ := snapshot.Encode(a.Snapshot())
	jb, _ := snapshot.Encode(b.Snapshot())
	if !bytes.Equal(ja, jb) {
		t.Fatalf("restored engine diverged:\n%s\n%s", ja, jb)
	}
}

func TestEngine_RestoreRejectsOtherStory(t *testing.T) {
	a := start(t, "One. -> END\n", Options{})
	b := start(t, "Two. -> END\n", Options{})
	err := b.Restore(a.Snapshot())
	var inc *snapshot.IncompatibleSnapshotError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompatibleSnapshotError, got %v", err)
	}
	expectLine(t, b, "Two.")
}

func TestEngine_ContinueMaximally(t *testing.T) {
	e := start(t, "One.\nTwo.\n* Pick\n  Three.\n  -> END\n", Options{})
	lines, last, err := e.ContinueMaximally(context.Background())
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if got := strings.Join(Texts(lines), "|"); got != "One.|Two." {
		t.Fatalf("lines=%q", got)
	}
	if last.Kind != StepChoices || strings.Join(ChoiceTexts(last.Choices), "|") != "Pick" {
		t.Fatalf("last=%+v", last)
	}
	if err := e.Choose(0); err != nil {
		t.Fatalf("choose: %v", err)
	}
	lines, last, err = e.ContinueMaximally(context.Background())
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if got := strings.Join(Texts(lines), "|"); got != "Pick|Three." || last.Kind != StepEnd {
		t.Fatalf("lines=%q last=%s", got, last.Kind)
	}
}

func TestEngine_SnapshotKeepsNonFiniteFloats(t *testing.T) {
	src := "VAR big = 0.0\nVAR odd = 0.0\n~ big = POW(10.0, 400)\n~ odd = POW(-1.0, 0.5)\n* [Go] -> END\n"
	a := start(t, src, Options{})
	expectChoices(t, a, "Go")

	path := filepath.Join(t.TempDir(), "inf.snap.zst")
	if err := snapshot.WriteSnapshot(path, a.Snapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := snapshot.Encode(snap); err != nil {
		t.Fatalf("encode: %v", err)
	}
	b := New(a.Story(), Options{})
	if err := b.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	big, _ := b.Variable("big")
	if f, _ := big.AsFloat(); !math.IsInf(f, 1) {
		t.Fatalf("big=%#v", big)
	}
	odd, _ := b.Variable("odd")
	if f, _ := odd.AsFloat(); !math.IsNaN(f) {
		t.Fatalf("odd=%#v", odd)
	}
	expectChoices(t, b, "Go")
}

func TestEngine_RandomFullRange(t *testing.T) {
	e := start(t, "{RANDOM(-9223372036854775807 - 1, 9223372036854775807)}\n{RANDOM(-9223372036854775807 - 1, 10)}\n{RANDOM(7, 7)}\n-> END\n", Options{Seed: 5})
	if st := next(t, e); st.Kind != StepLine || st.Text == "" {
		t.Fatalf("full range gave %s %q", st.Kind, st.Text)
	}
	st := next(t, e)
	n, err := strconv.ParseInt(st.Text, 10, 64)
	if err != nil || n > 10 {
		t.Fatalf("wide range gave %q", st.Text)
	}
	expectLine(t, e, "7")
	expectEnd(t, e)
}

func TestEngine_CallbacksMayReadTheEngine(t *testing.T) {
	e := start(t, "EXTERNAL peek(n)\nVAR hp = 10\nVAR max = 12\n~ hp = hp - 3\nHP {hp}/{peek(1)}.\n-> END\n", Options{})
	var seen []string
	if err := e.ObserveVariable("hp", func(name string, from, to value.Value) {
		m, err := e.Variable("max")
		if err != nil {
			t.Errorf("observer read: %v", err)
		}
		seen = append(seen, to.String()+"<="+m.String())
	}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	var busyErr error
	if err := e.BindExternal("peek", func([]value.Value) (value.Value, error) {
		_, busyErr = e.Continue()
		return e.Variable("max")
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	type result struct {
		st  Step
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := e.Continue()
		done <- result{st, err}
	}()
	select {
	case r := <-done:
		if r.err != nil || r.st.Text != "HP 7/12." {
			t.Fatalf("got %+v err=%v", r.st, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("engine deadlocked inside a callback")
	}
	expectEnd(t, e)
	if len(seen) != 1 || seen[0] != "7<=12" {
		t.Fatalf("observer calls=%v", seen)
	}
	if !errors.Is(busyErr, ErrBusy) {
		t.Fatalf("expected ErrBusy from a nested Continue, got %v", busyErr)
	}
}

package scripting

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/runtime"
)

const story = `EXTERNAL greet(name)
EXTERNAL half(n)
EXTERNAL spin()
{greet("Ada")} {half(3)}
-> END
`

func engine(t *testing.T) *runtime.Engine {
	t.Helper()
	s, diags, err := compiler.Compile("ext.ink", story, compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, diags.String())
	}
	return runtime.New(s, runtime.Options{})
}

func TestHost_BindsMatchingFunctions(t *testing.T) {
	var logs bytes.Buffer
	h, err := Load(`
function greet(name) { print("greeting", name); return "Hello " + name; }
function half(n) { return n / 2; }
function unrelated() { return 1; }
`, "ext.js", time.Second, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eng := engine(t)
	bound, err := h.Bind(eng)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if strings.Join(bound, ",") != "greet,half" {
		t.Fatalf("bound=%v", bound)
	}
	step, err := eng.Continue()
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if step.Text != "Hello Ada 1.5" {
		t.Fatalf("line=%q", step.Text)
	}
	if !strings.Contains(logs.String(), "ext.js: greeting Ada") {
		t.Fatalf("logs=%q", logs.String())
	}
}

func TestHost_UnboundExternalStillReported(t *testing.T) {
	h, err := Load(`function greet(n) { return n; }`, "ext.js", time.Second, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eng := engine(t)
	if _, err := h.Bind(eng); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := eng.ValidateExternals(); runtime.CodeOf(err) != runtime.ErrExternal {
		t.Fatalf("expected external error, got %v", err)
	}
}

func TestHost_TimeoutFailsTheStory(t *testing.T) {
	h, err := Load(`function spin() { for (;;) {} }`, "ext.js", 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st, diags, err := compiler.Compile("spin.ink", "EXTERNAL spin()\nStart {spin()}\n-> END\n", compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, diags.String())
	}
	eng := runtime.New(st, runtime.Options{})
	if _, err := h.Bind(eng); err != nil {
		t.Fatalf("bind: %v", err)
	}
	_, err = eng.Continue()
	if runtime.CodeOf(err) != runtime.ErrExternal || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected external timeout, got %v", err)
	}
}

func TestLoad_SyntaxError(t *testing.T) {
	if _, err := Load(`function (`, "bad.js", time.Second, nil); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestDirBinder(t *testing.T) {
	dir := t.TempDir()
	st, diags, err := compiler.Compile("dice.ink", "EXTERNAL roll(n)\nRolled {roll(6)}.\n-> END\n", compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, diags.String())
	}
	bind := DirBinder(dir, nil)

	eng := runtime.New(st, runtime.Options{})
	if err := bind("dice", eng); err != nil {
		t.Fatalf("bind without script: %v", err)
	}
	if err := eng.ValidateExternals(); err == nil {
		t.Fatalf("expected unbound external")
	}

	if err := os.WriteFile(filepath.Join(dir, "dice.js"), []byte("function roll(n) { return n * 2; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	eng = runtime.New(st, runtime.Options{})
	if err := bind("dice", eng); err != nil {
		t.Fatalf("bind: %v", err)
	}
	step, err := eng.Continue()
	if err != nil || step.Text != "Rolled 12." {
		t.Fatalf("step=%+v err=%v", step, err)
	}
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/story/graph"
)

func writeSource(t *testing.T, src string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "story.ink")
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_CompileToStdout(t *testing.T) {
	src := writeSource(t, "Hello.\n-> END\n")
	var out, errb bytes.Buffer
	if code := run([]string{"compile", src}, &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if _, err := graph.Decode(bytes.TrimSpace(out.Bytes())); err != nil {
		t.Fatalf("output is not a graph: %v", err)
	}
}

func TestRun_CompileErrorsExitNonZero(t *testing.T) {
	src := writeSource(t, "-> nowhere\n")
	var out, errb bytes.Buffer
	if code := run([]string{"compile", src}, &out, &errb); code != 1 {
		t.Fatalf("exit=%d", code)
	}
	if !strings.Contains(errb.String(), "nowhere") || out.Len() != 0 {
		t.Fatalf("stderr=%q stdout=%q", errb.String(), out.String())
	}
}

func TestRun_ImportAndStories(t *testing.T) {
	src := writeSource(t, "Hi.\n-> END\n")
	dir := filepath.Dir(src)
	index := filepath.Join(dir, "index.sqlite")
	var out, errb bytes.Buffer
	if code := run([]string{"import", "-compress", "false", "-index", index, src}, &out, &errb); code != 0 {
		t.Fatalf("import exit=%d stderr=%s", code, errb.String())
	}
	h, err := resource.ReadHeader(filepath.Join(dir, "story.res"))
	if err != nil || h.Kind != resource.KindStory || h.Compressed {
		t.Fatalf("header=%+v err=%v", h, err)
	}
	out.Reset()
	if code := run([]string{"stories", "-index", index, "story"}, &out, &errb); code != 0 {
		t.Fatalf("stories exit=%d stderr=%s", code, errb.String())
	}
	if !strings.Contains(out.String(), "digest="+h.Digest) {
		t.Fatalf("stories=%q", out.String())
	}
}

func TestRun_LexAndParse(t *testing.T) {
	var out, errb bytes.Buffer
	if code := run([]string{"lex", "-e", "x + 1 >= 2"}, &out, &errb); code != 0 {
		t.Fatalf("lex exit=%d", code)
	}
	if !strings.Contains(out.String(), `>=(">=")`) || !strings.Contains(out.String(), "EOF") {
		t.Fatalf("tokens=%s", out.String())
	}

	src := writeSource(t, "=== a ===\n= s\nText.\n-> END\n=== function f(x) ===\n~ return x\n")
	out.Reset()
	if code := run([]string{"parse", src}, &out, &errb); code != 0 {
		t.Fatalf("parse exit=%d stderr=%s", code, errb.String())
	}
	got := out.String()
	if !strings.Contains(got, "knot a") || !strings.Contains(got, "stitch a.s") || !strings.Contains(got, "function f (1 params)") {
		t.Fatalf("parse=%s", got)
	}
}

func TestRun_Usage(t *testing.T) {
	var out, errb bytes.Buffer
	if code := run(nil, &out, &errb); code != 2 || !strings.Contains(errb.String(), "usage") {
		t.Fatalf("exit=%d stderr=%q", code, errb.String())
	}
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	persistlog "inkforge.dev/internal/persistence/log"
)

const story = `VAR coins = 0
Start.
-> shop
=== shop ===
+ Earn
  ~ coins += 1
  Coins {coins}.
  -> shop
* Done
  Bye. #farewell
  -> END
`

func writeStory(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "shop.ink")
	if err := os.WriteFile(p, []byte(story), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPlay_ToTheEnd(t *testing.T) {
	src := writeStory(t)
	var out, errb bytes.Buffer
	if code := run([]string{src}, strings.NewReader("1\n9\n2\n"), &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	got := out.String()
	for _, want := range []string{"Start.\n", "1: Earn\n2: Done\n", "Coins 1.\n", "pick 1-2", "Bye.  # farewell\n", "-- THE END --"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPlay_SaveLoadAndTurnLog(t *testing.T) {
	src := writeStory(t)
	dir := t.TempDir()
	save := filepath.Join(dir, "slot.snap.zst")
	sess := filepath.Join(dir, "session")

	var out, errb bytes.Buffer
	if code := run([]string{"-save", save, "-turn_log", sess, src}, strings.NewReader("1\nquit\n"), &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if _, err := os.Stat(save); err != nil {
		t.Fatalf("no save written: %v", err)
	}

	out.Reset()
	if code := run([]string{"-load", save, src}, strings.NewReader("1\n"), &out, &errb); code != 0 {
		t.Fatalf("resume exit=%d stderr=%s", code, errb.String())
	}
	if !strings.Contains(out.String(), "Coins 2.") {
		t.Fatalf("resumed output:\n%s", out.String())
	}

	entries, err := persistlog.ReadTurns(sess)
	if err != nil {
		t.Fatalf("read turns: %v", err)
	}
	if len(entries) != 2 || entries[0].Choice != -1 || entries[1].Choice != 0 {
		t.Fatalf("entries=%+v", entries)
	}
	if entries[1].Digest != persistlog.OutputDigest([]string{"Earn", "Coins 1."}, []string{"Earn", "Done"}) {
		t.Fatalf("digest mismatch: %+v", entries[1])
	}
}

func TestPlay_ExternalsScript(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dice.ink")
	js := filepath.Join(dir, "dice.js")
	_ = os.WriteFile(src, []byte("EXTERNAL roll(sides)\nYou rolled {roll(6)}.\n-> END\n"), 0o644)
	_ = os.WriteFile(js, []byte("function roll(sides) { return sides - 1; }\n"), 0o644)

	var out, errb bytes.Buffer
	if code := run([]string{"-externals", js, src}, strings.NewReader(""), &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if !strings.Contains(out.String(), "You rolled 5.") {
		t.Fatalf("output:\n%s", out.String())
	}

	out.Reset()
	errb.Reset()
	if code := run([]string{src}, strings.NewReader(""), &out, &errb); code != 1 || !strings.Contains(errb.String(), "roll") {
		t.Fatalf("unbound external: exit=%d stderr=%s", code, errb.String())
	}
}

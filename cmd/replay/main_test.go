package main

import (
	"context"
	"strings"
	"testing"

	persistlog "inkforge.dev/internal/persistence/log"
	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/runtime"
)

const src = `Open.
-> loop
=== loop ===
{~Red|Green|Blue}.
+ Again -> loop
* Stop -> END
`

func engine(t *testing.T, seed int64) *runtime.Engine {
	t.Helper()
	s, diags, err := compiler.Compile("t.ink", src, compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, diags.String())
	}
	return runtime.New(s, runtime.Options{Seed: seed})
}

// record plays choices and logs each turn the way the players do.
func record(t *testing.T, eng *runtime.Engine, choices []int) []persistlog.TurnLogEntry {
	t.Helper()
	var out []persistlog.TurnLogEntry
	choice := -1
	for i := 0; ; i++ {
		lines, last, err := eng.ContinueMaximally(context.Background())
		if err != nil {
			t.Fatalf("continue: %v", err)
		}
		texts, cs := runtime.Texts(lines), runtime.ChoiceTexts(last.Choices)
		out = append(out, persistlog.TurnLogEntry{
			Turn: eng.Turn(), Choice: choice, Lines: texts, Choices: cs,
			Ended: last.Kind == runtime.StepEnd, Digest: persistlog.OutputDigest(texts, cs),
		})
		if last.Kind == runtime.StepEnd || i >= len(choices) {
			return out
		}
		choice = choices[i]
		if err := eng.Choose(choice); err != nil {
			t.Fatalf("choose: %v", err)
		}
	}
}

func TestVerify_FreshReplay(t *testing.T) {
	entries := record(t, engine(t, 11), []int{0, 0, 0, 1})
	if len(entries) != 5 || !entries[4].Ended {
		t.Fatalf("recorded=%+v", entries)
	}
	n, err := verify(context.Background(), engine(t, 11), entries, true, -1)
	if err != nil || n != 5 {
		t.Fatalf("checked=%d err=%v", n, err)
	}
}

func TestVerify_FromSnapshot(t *testing.T) {
	rec := engine(t, 3)
	entries := record(t, rec, []int{0})
	snap := rec.Snapshot()
	entries = append(entries, record(t, rec, []int{0, 1})[1:]...)

	eng := engine(t, 99)
	if err := eng.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	n, err := verify(context.Background(), eng, entries, false, -1)
	if err != nil || n != 2 {
		t.Fatalf("checked=%d err=%v", n, err)
	}
}

func TestVerify_DetectsOtherSeed(t *testing.T) {
	entries := record(t, engine(t, 1), []int{0, 0, 0, 0, 0, 0})
	var err error
	for seed := int64(2); seed < 40; seed++ {
		if _, err = verify(context.Background(), engine(t, seed), entries, true, -1); err != nil {
			break
		}
	}
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected a digest mismatch for some other seed, got %v", err)
	}
}

func TestVerify_ToTurn(t *testing.T) {
	entries := record(t, engine(t, 5), []int{0, 0, 1})
	n, err := verify(context.Background(), engine(t, 5), entries, true, 1)
	if err != nil || n != 2 {
		t.Fatalf("checked=%d err=%v", n, err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "inkforge.dev/internal/persistence/log"
	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/persistence/snapshot"
	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/runtime"
)

func main() {
	var (
		storyPath = flag.String("story", "", "story .res or .ink")
		snapPath  = flag.String("snapshot", "", "path to .snap.zst to start from (optional)")
		sessDir   = flag.String("session", "", "session dir containing turns/turns-*.jsonl.zst")
		seed      = flag.Int64("seed", 0, "seed of the recorded session (ignored with -snapshot)")
		toTurn    = flag.Int("to_turn", -1, "stop after this turn (optional)")
	)
	flag.Parse()

	if *storyPath == "" || *sessDir == "" {
		fmt.Fprintln(os.Stderr, "missing -story or -session")
		os.Exit(2)
	}

	story, err := loadStory(*storyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load story:", err)
		os.Exit(1)
	}
	eng := runtime.New(story, runtime.Options{Seed: *seed})
	fresh := true
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		if err := eng.Restore(snap); err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
		fresh = false
		fmt.Printf("snapshot v%d story=%s turn=%d status=%s seed=%d\n",
			snap.Header.Version, snap.Header.StoryDigest, snap.Header.Turn, snap.Status, snap.Seed)
	}

	entries, err := persistlog.ReadTurns(*sessDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read turns:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no turn log found in", *sessDir)
		os.Exit(1)
	}

	checked, err := verify(context.Background(), eng, entries, fresh, *toTurn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d turns (from turn=%d)\n", checked, entries[0].Turn)
}

func loadStory(path string) (*graph.Story, error) {
	if strings.EqualFold(filepath.Ext(path), "."+resource.SaveExtension) {
		s, _, err := resource.Load(path)
		return s, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, diags, err := compiler.Compile(path, string(src), compiler.Options{Include: resource.DirInclude(filepath.Dir(path))})
	if err != nil {
		return nil, fmt.Errorf("%w\n%s", err, diags.String())
	}
	return s, nil
}

// verify replays the recorded choices and checks each turn's output digest.
// A fresh engine starts with the opening turn; a restored one skips the
// turns its snapshot already covers.
func verify(ctx context.Context, eng *runtime.Engine, entries []persistlog.TurnLogEntry, fresh bool, toTurn int) (int, error) {
	checked := 0
	start := eng.Turn()
	for i, entry := range entries {
		if toTurn >= 0 && entry.Turn > toTurn {
			break
		}
		opening := fresh && i == 0
		if !opening && entry.Turn <= start {
			continue
		}
		if opening {
			if entry.Turn != 0 || entry.Choice != -1 {
				return checked, fmt.Errorf("log does not start at the opening turn (turn=%d choice=%d)", entry.Turn, entry.Choice)
			}
		} else if err := eng.Choose(entry.Choice); err != nil {
			return checked, fmt.Errorf("turn %d: choose %d: %w", entry.Turn, entry.Choice, err)
		}
		if got := eng.Turn(); got != entry.Turn {
			return checked, fmt.Errorf("turn mismatch: want=%d got=%d", entry.Turn, got)
		}

		lines, last, err := eng.ContinueMaximally(ctx)
		if err != nil {
			return checked, fmt.Errorf("turn %d: %w", entry.Turn, err)
		}
		got := persistlog.OutputDigest(runtime.Texts(lines), runtime.ChoiceTexts(last.Choices))
		if got != entry.Digest {
			return checked, fmt.Errorf("digest mismatch at turn %d: got=%s want=%s", entry.Turn, got, entry.Digest)
		}
		if ended := last.Kind == runtime.StepEnd; ended != entry.Ended {
			return checked, fmt.Errorf("turn %d: ended=%v, log says %v", entry.Turn, ended, entry.Ended)
		}
		checked++
	}
	return checked, nil
}

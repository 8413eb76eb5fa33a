package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	persistlog "inkforge.dev/internal/persistence/log"
	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/persistence/snapshot"
	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/runtime"
	"inkforge.dev/internal/story/scripting"
	"inkforge.dev/internal/tuning"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (optional)")
	seed := fs.Int64("seed", 0, "random seed (default: tuning engine.seed)")
	loadPath := fs.String("load", "", "snapshot to resume from")
	savePath := fs.String("save", "", "snapshot written by the save command and on exit")
	logDir := fs.String("turn_log", "", "session directory for the turn log (optional)")
	externals := fs.String("externals", "", "JavaScript file implementing EXTERNAL functions (optional)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger := log.New(stderr, "[play] ", 0)
	if fs.NArg() != 1 {
		logger.Printf("usage: play [flags] story.ink|story.res")
		return 2
	}

	tune := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			logger.Printf("load tuning: %v", err)
			return 1
		}
		tune = t
	}
	opts := runtime.Options{Seed: tune.Engine.Seed, MaxSteps: tune.Engine.MaxSteps, Logger: logger}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.Seed = *seed
		}
	})

	story, err := loadStory(fs.Arg(0), tune)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}
	eng := runtime.New(story, opts)
	if *externals != "" {
		if err := bindScript(eng, *externals, logger); err != nil {
			logger.Printf("%v", err)
			return 1
		}
	}
	if err := eng.ValidateExternals(); err != nil {
		logger.Printf("%v", err)
		return 1
	}
	if *loadPath != "" {
		snap, err := snapshot.ReadSnapshot(*loadPath)
		if err != nil {
			logger.Printf("read snapshot: %v", err)
			return 1
		}
		if err := eng.Restore(snap); err != nil {
			logger.Printf("restore: %v", err)
			return 1
		}
		logger.Printf("resumed %s at turn %d", *loadPath, eng.Turn())
	}

	p := &player{eng: eng, out: stdout, logger: logger, savePath: *savePath, choice: -1, session: uuid.NewString()}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.prompt = "?> "
	}
	if *logDir != "" {
		p.turns = persistlog.NewTurnLogger(*logDir)
		defer p.turns.Close()
	}
	return p.loop(bufio.NewScanner(stdin))
}

func loadStory(path string, tune tuning.Tuning) (*graph.Story, error) {
	if strings.EqualFold(filepath.Ext(path), "."+resource.SaveExtension) {
		s, _, err := resource.Load(path)
		return s, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, diags, err := compiler.Compile(path, string(src), compiler.Options{
		Include:         resource.DirInclude(filepath.Dir(path)),
		MaxIncludeDepth: tune.Compile.MaxIncludeDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("%w\n%s", err, diags.String())
	}
	return s, nil
}

func bindScript(eng *runtime.Engine, path string, logger *log.Logger) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h, err := scripting.Load(string(src), filepath.Base(path), scripting.DefaultTimeout, logger)
	if err != nil {
		return err
	}
	bound, err := h.Bind(eng)
	if err != nil {
		return err
	}
	logger.Printf("bound externals from %s: %s", path, strings.Join(bound, ", "))
	return nil
}

type player struct {
	eng      *runtime.Engine
	out      io.Writer
	logger   *log.Logger
	turns    *persistlog.TurnLogger
	savePath string
	session  string
	choice   int
	// prompt is printed before each read, only on a terminal.
	prompt string
}

func (p *player) loop(in *bufio.Scanner) int {
	for {
		lines, last, err := p.eng.ContinueMaximally(context.Background())
		for _, l := range lines {
			p.printLine(l)
		}
		if err != nil {
			p.logger.Printf("%v", err)
			return 1
		}
		p.logTurn(lines, last)
		if last.Kind == runtime.StepEnd {
			fmt.Fprintln(p.out, "-- THE END --")
			return p.save()
		}
		for _, c := range last.Choices {
			fmt.Fprintf(p.out, "%d: %s\n", c.Index+1, c.Text)
		}

		for {
			fmt.Fprint(p.out, p.prompt)
			if !in.Scan() {
				return p.save()
			}
			cmd := strings.TrimSpace(in.Text())
			switch cmd {
			case "":
				continue
			case "quit", "q":
				return p.save()
			case "save":
				if p.save() != 0 {
					return 1
				}
				continue
			}
			n, err := strconv.Atoi(cmd)
			if err != nil || n < 1 || n > len(last.Choices) {
				fmt.Fprintf(p.out, "pick 1-%d, save or quit\n", len(last.Choices))
				continue
			}
			if err := p.eng.Choose(n - 1); err != nil {
				p.logger.Printf("%v", err)
				return 1
			}
			p.choice = n - 1
			break
		}
	}
}

func (p *player) printLine(s runtime.Step) {
	if len(s.Tags) == 0 {
		fmt.Fprintln(p.out, s.Text)
		return
	}
	fmt.Fprintf(p.out, "%s  # %s\n", s.Text, strings.Join(s.Tags, " # "))
}

func (p *player) logTurn(lines []runtime.Step, last runtime.Step) {
	if p.turns == nil {
		return
	}
	texts := runtime.Texts(lines)
	choices := runtime.ChoiceTexts(last.Choices)
	e := persistlog.TurnLogEntry{
		Session: p.session,
		Turn:    p.eng.Turn(),
		Choice:  p.choice,
		Lines:   texts,
		Choices: choices,
		Ended:   last.Kind == runtime.StepEnd,
		Digest:  persistlog.OutputDigest(texts, choices),
		Time:    time.Now().UTC(),
	}
	if err := p.turns.WriteTurn(e); err != nil {
		p.logger.Printf("turn log: %v", err)
	}
}

func (p *player) save() int {
	if p.savePath == "" {
		return 0
	}
	if err := snapshot.WriteSnapshot(p.savePath, p.eng.Snapshot()); err != nil {
		p.logger.Printf("save: %v", err)
		return 1
	}
	p.logger.Printf("saved turn %d to %s", p.eng.Turn(), p.savePath)
	return 0
}

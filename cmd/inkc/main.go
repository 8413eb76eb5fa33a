package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"inkforge.dev/internal/persistence/indexdb"
	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/diag"
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/parser"
	"inkforge.dev/internal/tuning"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	logger := log.New(stderr, "[inkc] ", 0)
	switch args[0] {
	case "compile":
		return compileCmd(args[1:], stdout, logger)
	case "import":
		return importCmd(args[1:], logger)
	case "lex":
		return lexCmd(args[1:], stdout, logger)
	case "parse":
		return parseCmd(args[1:], stdout, logger)
	case "stories":
		return storiesCmd(args[1:], stdout, logger)
	}
	usage(stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: inkc compile|import|lex|parse|stories [flags] [file.ink]")
}

func loadTuning(path string, logger *log.Logger) tuning.Tuning {
	t, err := tuning.Load(path)
	if err != nil {
		if path != "" && !os.IsNotExist(err) {
			logger.Printf("tuning: %v; using defaults", err)
		}
		return tuning.Defaults()
	}
	return t
}

func sourceArg(fs *flag.FlagSet, logger *log.Logger) (string, string, bool) {
	if fs.NArg() != 1 {
		logger.Printf("%s: expected one source file", fs.Name())
		return "", "", false
	}
	path := fs.Arg(0)
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Printf("read: %v", err)
		return "", "", false
	}
	return path, string(b), true
}

func printDiags(l diag.List, logger *log.Logger) {
	for _, d := range l.Items() {
		logger.Print(d.String())
	}
}

func compileCmd(args []string, stdout io.Writer, logger *log.Logger) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(logger.Writer())
	out := fs.String("o", "", "write the graph document here (default: stdout)")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, src, ok := sourceArg(fs, logger)
	if !ok {
		return 2
	}
	tune := loadTuning(*tuningPath, logger)
	s, diags, err := compiler.Compile(path, src, compiler.Options{
		Include:         resource.DirInclude(filepath.Dir(path)),
		MaxIncludeDepth: tune.Compile.MaxIncludeDepth,
	})
	printDiags(diags, logger)
	if err != nil {
		logger.Printf("%s: %v", path, err)
		return 1
	}
	b, err := graph.Encode(s)
	if err != nil {
		logger.Printf("encode: %v", err)
		return 1
	}
	if *out == "" {
		_, _ = stdout.Write(append(b, '\n'))
		return 0
	}
	if err := os.WriteFile(*out, b, 0o644); err != nil {
		logger.Printf("write: %v", err)
		return 1
	}
	logger.Printf("wrote %s digest=%s (%s)", *out, s.Digest(), diags.Status())
	return 0
}

func importCmd(args []string, logger *log.Logger) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(logger.Writer())
	save := fs.String("save", "", "save path without extension (default: source path without .ink)")
	master := fs.Bool("master", true, "compile this file; false writes a placeholder")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (optional)")
	compress := fs.String("compress", "", "true|false (default: tuning compile.compress_graphs)")
	indexPath := fs.String("index", "", "sqlite index to record the story in (optional)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		logger.Printf("import: expected one source file")
		return 2
	}
	src := fs.Arg(0)
	tune := loadTuning(*tuningPath, logger)

	opts := resource.Options{MasterFile: *master, Compress: tune.Compile.CompressGraphs}
	switch strings.ToLower(strings.TrimSpace(*compress)) {
	case "":
	case "true", "1", "yes":
		opts.Compress = true
	case "false", "0", "no":
		opts.Compress = false
	default:
		logger.Printf("import: bad -compress %q", *compress)
		return 2
	}
	savePath := *save
	if savePath == "" {
		savePath = strings.TrimSuffix(src, filepath.Ext(src))
	}

	im := &resource.Importer{
		Surface:         resource.LogSurface{Logger: logger},
		MaxIncludeDepth: tune.Compile.MaxIncludeDepth,
	}
	if *indexPath != "" {
		idx, err := indexdb.OpenSQLite(*indexPath)
		if err != nil {
			logger.Printf("open index: %v", err)
			return 1
		}
		defer idx.Close()
		im.Index = idx
	}
	if err := im.Import(context.Background(), src, savePath, opts); err != nil {
		logger.Printf("import: %v", err)
		return 1
	}
	logger.Printf("imported %s -> %s.%s", src, savePath, resource.SaveExtension)
	return 0
}

func lexCmd(args []string, stdout io.Writer, logger *log.Logger) int {
	fs := flag.NewFlagSet("lex", flag.ContinueOnError)
	fs.SetOutput(logger.Writer())
	expr := fs.String("e", "", "lex this expression instead of a file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	var toks []parser.Token
	if *expr != "" {
		toks = parser.Tokenize(*expr, "<expr>", 1, 1)
	} else {
		path, src, ok := sourceArg(fs, logger)
		if !ok {
			return 2
		}
		toks = parser.Tokenize(src, path, 1, 1)
	}
	bad := 0
	for _, t := range toks {
		fmt.Fprintln(stdout, t.String())
		if t.Type == parser.TOK_ILLEGAL {
			bad++
		}
	}
	if bad > 0 {
		return 1
	}
	return 0
}

func parseCmd(args []string, stdout io.Writer, logger *log.Logger) int {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(logger.Writer())
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, src, ok := sourceArg(fs, logger)
	if !ok {
		return 2
	}
	f, diags := parser.Parse(path, src, parser.Options{Include: resource.DirInclude(filepath.Dir(path))})
	printDiags(diags, logger)
	fmt.Fprintln(stdout, f.String())
	for _, k := range f.Knots {
		kind := "knot"
		if k.Function {
			kind = "function"
		}
		fmt.Fprintf(stdout, "%s %s (%d params) at %s\n", kind, k.Name, len(k.Params), k.Pos)
		for _, st := range k.Stitches {
			fmt.Fprintf(stdout, "  stitch %s.%s at %s\n", k.Name, st.Name, st.Pos)
		}
	}
	if diags.HasErrors() {
		return 1
	}
	return 0
}

func storiesCmd(args []string, stdout io.Writer, logger *log.Logger) int {
	fs := flag.NewFlagSet("stories", flag.ContinueOnError)
	fs.SetOutput(logger.Writer())
	indexPath := fs.String("index", "data/index.sqlite", "sqlite index path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	idx, err := indexdb.OpenSQLite(*indexPath)
	if err != nil {
		logger.Printf("open index: %v", err)
		return 1
	}
	defer idx.Close()
	for _, name := range fs.Args() {
		r, err := idx.LatestStory(context.Background(), name)
		if err != nil {
			logger.Printf("%s: %v", name, err)
			return 1
		}
		fmt.Fprintf(stdout, "%s digest=%s graph=%s warnings=%d compiled=%s\n",
			r.Name, r.Digest, r.GraphPath, r.Warnings, r.CompiledAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return 0
}

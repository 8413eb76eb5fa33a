package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"inkforge.dev/internal/persistence/indexdb"
	"inkforge.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "stories":
			storiesCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the sessions that have a turn log.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "sessions"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
}

// exportCmd writes an indexed save out as a snapshot file, the form play and
// replay read.
func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index.sqlite", "sqlite index path")
	saveID := fs.String("save", "", "save id (required)")
	outPath := fs.String("out", "", "output snapshot path (default: <save>.snap.zst)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*saveID) == "" {
		fmt.Fprintln(os.Stderr, "missing -save")
		os.Exit(2)
	}
	out := *outPath
	if out == "" {
		out = *saveID + ".snap.zst"
	}
	if err := exportSave(context.Background(), *dbPath, *saveID, out); err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func exportSave(ctx context.Context, dbPath, id, out string) error {
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		return err
	}
	defer idx.Close()
	row, err := idx.Save(ctx, id)
	if err != nil {
		return err
	}
	return snapshot.WriteSnapshot(out, row.Snapshot)
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect <file.snap.zst>")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	describe(os.Stdout, snap)
}

func describe(w io.Writer, snap *snapshot.SnapshotV1) {
	fmt.Fprintf(w, "snapshot v%d story=%s turn=%d status=%s seed=%d threads=%d choices=%d\n",
		snap.Header.Version, snap.Header.StoryDigest, snap.Header.Turn, snap.Status, snap.Seed,
		len(snap.Threads), len(snap.Choices))
	names := make([]string, 0, len(snap.Globals))
	for k := range snap.Globals {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(w, "  var %s = %s\n", k, snap.Globals[k].String())
	}
	for i, c := range snap.Choices {
		fmt.Fprintf(w, "  choice %d: %q -> %s\n", i, c.Text, c.Target)
	}
}

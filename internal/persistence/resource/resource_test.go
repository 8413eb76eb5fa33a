package resource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"inkforge.dev/internal/persistence/indexdb"
)

type surface struct{ warnings, errors []string }

func (s *surface) PushWarning(msg string) { s.warnings = append(s.warnings, msg) }
func (s *surface) PushError(msg string)   { s.errors = append(s.errors, msg) }

type memIndex struct{ rows []indexdb.StoryRow }

func (m *memIndex) UpsertStory(_ context.Context, r indexdb.StoryRow) error {
	m.rows = append(m.rows, r)
	return nil
}

func writeSource(t *testing.T, dir, name, src string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return p
}

func TestImport_MasterCompressed(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "extra.ink", "=== side ===\nSide.\n-> END\n")
	src := writeSource(t, dir, "main.ink", "INCLUDE extra.ink\nHello.\n-> side\n")
	sf := &surface{}
	idx := &memIndex{}
	im := &Importer{Surface: sf, Index: idx}
	save := filepath.Join(dir, "out", "main")
	if err := im.Import(context.Background(), src, save, Options{MasterFile: true, Compress: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	s, h, err := Load(save + ".res")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Kind != KindStory || !h.Compressed || h.Name != "main" || h.Digest != s.Digest() {
		t.Fatalf("header=%+v", h)
	}
	if _, ok := s.Lookup("side"); !ok {
		t.Fatalf("included knot missing")
	}
	if len(idx.rows) != 1 || idx.rows[0].Digest != s.Digest() || idx.rows[0].GraphPath != save+".res" {
		t.Fatalf("index rows=%+v", idx.rows)
	}
	if len(sf.errors) != 0 {
		t.Fatalf("errors=%v", sf.errors)
	}
}

func TestImport_Uncompressed(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "plain.ink", "Hi.\n-> END\n")
	im := &Importer{}
	save := filepath.Join(dir, "plain")
	if err := im.Import(context.Background(), src, save, Options{MasterFile: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	raw, err := os.ReadFile(save + ".res")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"format":"inkforge.graph"`) {
		t.Fatalf("uncompressed resource should hold the plain graph document")
	}
	if _, _, err := Load(save + ".res"); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestImport_NonMasterIsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "part.ink", "this would not compile {\n")
	save := filepath.Join(dir, "part")
	if err := (&Importer{}).Import(context.Background(), src, save, DefaultOptions()); err != nil {
		t.Fatalf("import: %v", err)
	}
	h, err := ReadHeader(save + ".res")
	if err != nil || h.Kind != KindPlaceholder {
		t.Fatalf("header=%+v err=%v", h, err)
	}
	if _, _, err := Load(save + ".res"); !errors.Is(err, ErrPlaceholder) {
		t.Fatalf("expected ErrPlaceholder, got %v", err)
	}
}

func TestImport_FailureForwardsDiagnostics(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "bad.ink", "Start.\n-> nowhere\n")
	sf := &surface{}
	idx := &memIndex{}
	save := filepath.Join(dir, "bad")
	err := (&Importer{Surface: sf, Index: idx}).Import(context.Background(), src, save, Options{MasterFile: true, Compress: true})
	if !errors.Is(err, ErrCompilationFailed) {
		t.Fatalf("expected ErrCompilationFailed, got %v", err)
	}
	if len(sf.errors) == 0 || !strings.Contains(sf.errors[0], "nowhere") {
		t.Fatalf("errors=%v", sf.errors)
	}
	if _, err := os.Stat(save + ".res"); !os.IsNotExist(err) {
		t.Fatalf("failed import must not write a resource")
	}
	if len(idx.rows) != 0 {
		t.Fatalf("failed import must not be indexed")
	}
}

func TestImport_WarningsReachSurface(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "warn.ink", "-> k\n=== k ===\n* A\n")
	sf := &surface{}
	if err := (&Importer{Surface: sf}).Import(context.Background(), src, filepath.Join(dir, "warn"), Options{MasterFile: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(sf.warnings) == 0 {
		t.Fatalf("expected loose end warning")
	}
}

func TestLibrary_CachesAndRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "tale.ink", "Once.\n-> END\n")
	if err := (&Importer{}).Import(context.Background(), src, filepath.Join(dir, "tale"), Options{MasterFile: true, Compress: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	lib := NewLibrary(dir)
	a, err := lib.Story("tale")
	if err != nil {
		t.Fatalf("story: %v", err)
	}
	b, err := lib.Story("tale")
	if err != nil || a != b {
		t.Fatalf("expected cached story, err=%v", err)
	}
	if _, err := lib.Story("../tale"); err == nil {
		t.Fatalf("expected path name rejected")
	}
	if _, err := lib.Story("missing"); !os.IsNotExist(err) {
		t.Fatalf("expected not exist, got %v", err)
	}
	names, err := lib.Names()
	if err != nil || len(names) != 1 || names[0] != "tale" {
		t.Fatalf("names=%v err=%v", names, err)
	}
}

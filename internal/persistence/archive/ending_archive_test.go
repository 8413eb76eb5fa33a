package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"inkforge.dev/internal/persistence/snapshot"
)

func TestArchiveEnding_WritesEndedSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := &snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, StoryDigest: "d1", Turn: 7},
		Status: "ended",
		Seed:   42,
	}

	archivedPath, ok, err := ArchiveEnding(dir, "sess-1", "tale", snap)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archived=true")
	}
	if filepath.Base(archivedPath) != "turn_0007.snap.zst" {
		t.Fatalf("path=%s", archivedPath)
	}

	got, err := snapshot.ReadSnapshot(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if got.Header.StoryDigest != "d1" || got.Seed != 42 {
		t.Fatalf("archived snapshot=%+v", got)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
	var meta EndingArchiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil || meta.Session != "sess-1" || meta.Story != "tale" || meta.Turn != 7 {
		t.Fatalf("meta=%+v err=%v", meta, err)
	}
}

func TestArchiveEnding_SkipsUnfinished(t *testing.T) {
	snap := &snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version}, Status: "choices"}
	if _, ok, err := ArchiveEnding(t.TempDir(), "s", "tale", snap); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if _, _, err := ArchiveEnding(t.TempDir(), "../x", "tale", &snapshot.SnapshotV1{Status: "ended"}); err == nil {
		t.Fatalf("expected bad session rejected")
	}
}

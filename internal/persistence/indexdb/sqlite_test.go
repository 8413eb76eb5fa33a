package indexdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"inkforge.dev/internal/persistence/log"
	"inkforge.dev/internal/persistence/snapshot"
	"inkforge.dev/internal/story/value"
)

func open(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndex_Stories(t *testing.T) {
	idx := open(t)
	ctx := context.Background()
	old := StoryRow{Digest: "d1", Name: "intro", SourcePath: "intro.ink", GraphPath: "intro.res", CompiledAt: time.Now().Add(-time.Hour)}
	cur := StoryRow{Digest: "d2", Name: "intro", SourcePath: "intro.ink", GraphPath: "intro.res", Warnings: 2}
	for _, r := range []StoryRow{old, cur} {
		if err := idx.UpsertStory(ctx, r); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, err := idx.LatestStory(ctx, "intro")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Digest != "d2" || got.Warnings != 2 {
		t.Fatalf("latest=%+v", got)
	}
	if _, err := idx.LatestStory(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteIndex_Saves(t *testing.T) {
	idx := open(t)
	ctx := context.Background()
	snap := &snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: snapshot.Version, StoryDigest: "d2", Turn: 4},
		Status:  "choices",
		Globals: map[string]value.Value{"gold": value.Int(12)},
	}
	if err := idx.RecordSave(ctx, "save-1", "sess", snap); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := idx.Save(ctx, "save-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.Turn != 4 || got.StoryDigest != "d2" || !value.Equal(got.Snapshot.Globals["gold"], value.Int(12)) {
		t.Fatalf("save=%+v", got)
	}
	if _, err := idx.Save(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteIndex_Turns(t *testing.T) {
	idx := open(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = idx.WriteTurn(log.TurnLogEntry{Session: "s", Turn: i, Choice: i - 1, Lines: []string{"x"}, Digest: "h"})
	}
	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := idx.Flush(fctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, err := idx.Turns(ctx, "s")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(got) != 3 || got[2].Turn != 2 || got[0].Choice != -1 {
		t.Fatalf("turns=%+v", got)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	_ = s.WriteTurn(log.TurnLogEntry{Turn: 1})
	_ = s.WriteTurn(log.TurnLogEntry{Turn: 2})

	st := s.Stats()
	if st.DropTurnsTotal != 1 {
		t.Fatalf("DropTurnsTotal=%d want=1", st.DropTurnsTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"inkforge.dev/internal/story/value"
)

func sample() *SnapshotV1 {
	return &SnapshotV1{
		Header:      Header{Version: Version, StoryDigest: "abc", Turn: 2},
		Status:      "choices",
		Globals:     map[string]value.Value{"gold": value.Int(5), "name": value.String("Ada")},
		VisitCounts: map[string]int{"hub": 2},
		TurnIndices: map[string]int{"hub": 1},
		Threads: []ThreadV1{{ID: 0, Frames: []FrameV1{{
			Kind:  "root",
			Ptr:   PointerV1{Path: "hub", Index: 3},
			Temps: map[string]value.Value{"x": value.Float(1.5)},
		}}}},
		Choices: []ChoiceV1{{Text: "Stay", Target: "hub.c-0", OnceOnly: true}},
		Seed:    42,
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saves", "one.snap.zst")
	if err := WriteSnapshot(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Turn != 2 || got.Status != "choices" || got.Seed != 42 {
		t.Fatalf("snapshot=%+v", got)
	}
	if !value.Equal(got.Globals["gold"], value.Int(5)) || !value.Equal(got.Threads[0].Frames[0].Temps["x"], value.Float(1.5)) {
		t.Fatalf("values did not survive: %+v", got.Globals)
	}
	if got.Choices[0].Target != "hub.c-0" || !got.Choices[0].OnceOnly {
		t.Fatalf("choices=%+v", got.Choices)
	}
}

func TestReadSnapshot_RejectsOtherVersion(t *testing.T) {
	s := sample()
	s.Header.Version = 7
	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	b, err := Encode(sample())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Header.StoryDigest != "abc" || got.VisitCounts["hub"] != 2 {
		t.Fatalf("decoded=%+v", got)
	}
	if _, err := Decode([]byte(`{"header":{"version":9}}`)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestWriteReadSnapshot_LZ4(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quick.snap.lz4")
	if err := WriteSnapshot(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.StoryDigest != "abc" || got.Choices[0].Target != "hub.c-0" {
		t.Fatalf("snapshot=%+v", got)
	}

	// The extension decides the codec, so a renamed file does not decode.
	zst := filepath.Join(dir, "quick.snap.zst")
	if err := os.Rename(path, zst); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(zst); err == nil {
		t.Fatalf("expected lz4 data to fail as zstd")
	}
}

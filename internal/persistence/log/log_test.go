package log

import (
	"testing"
)

func TestTurnLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTurnLogger(dir)
	for turn := 0; turn < 3; turn++ {
		lines := []string{"line", "turn"}
		if err := l.WriteTurn(TurnLogEntry{Session: "s1", Turn: turn, Choice: turn - 1, Lines: lines, Digest: OutputDigest(lines, nil)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := ReadTurns(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[2].Turn != 2 || got[0].Choice != -1 {
		t.Fatalf("entries=%+v", got)
	}
}

func TestOutputDigest_Boundaries(t *testing.T) {
	if OutputDigest([]string{"ab", "c"}, nil) == OutputDigest([]string{"a", "bc"}, nil) {
		t.Fatalf("digest must depend on line boundaries")
	}
	if OutputDigest([]string{"a"}, []string{"b"}) == OutputDigest([]string{"a", "b"}, nil) {
		t.Fatalf("digest must separate lines from choices")
	}
}

package graph

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"inkforge.dev/internal/story/value"
)

func sampleStory() *Story {
	knot := &Container{
		Name:  "knot",
		Flags: ContainerCountVisits,
		Content: []Element{
			{Instr: &Instruction{Op: OpText, Str: 1}},
			Instr(OpNewline),
			Instr(OpEnd),
		},
	}
	root := &Container{
		Content: []Element{
			{Instr: &Instruction{Op: OpText, Str: 0}},
			Instr(OpNewline),
			{Instr: &Instruction{Op: OpDivert, Target: "knot"}},
		},
		Named: map[string]*Container{"knot": knot},
	}
	return &Story{
		Format:  FormatTag,
		Version: Version,
		Strings: []string{"Hello", "World"},
		Globals: []Global{{Name: "x", Initial: value.Int(3)}},
		Root:    root,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := sampleStory()
	if err := Link(s); err != nil {
		t.Fatalf("link: %v", err)
	}
	b, err := Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b2, err := Encode(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("re-encoded bytes differ:\n%s\n%s", b, b2)
	}
	if got.Digest() == "" || got.Digest() != s.Digest() {
		t.Fatalf("digest mismatch: %q vs %q", got.Digest(), s.Digest())
	}
	k, ok := got.Lookup("knot")
	if !ok || k.Parent() != got.Root || k.IndexInParent() != -1 {
		t.Fatalf("knot not linked under root")
	}
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	_, err := Decode([]byte(`{"format":"inkforge.graph","version":99,"strings":[],"root":{"content":[]}}`))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	var uv *UnsupportedVersionError
	if !errors.As(err, &uv) || uv.Version != 99 {
		t.Fatalf("expected *UnsupportedVersionError with version 99, got %v", err)
	}

	_, err = Decode([]byte(`{"format":"something.else","version":1}`))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected unknown format rejected as unsupported, got %v", err)
	}
}

func TestDecode_SchemaRejectsUnknownOpcode(t *testing.T) {
	doc := `{"format":"inkforge.graph","version":1,"strings":[],"root":{"content":[{"op":"teleport"}]}}`
	_, err := Decode([]byte(doc))
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestLink_UnresolvedTarget(t *testing.T) {
	s := sampleStory()
	s.Root.Content[2].Instr.Target = "nowhere"
	err := Link(s)
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected LinkError, got %v", err)
	}
	if len(le.Unresolved) != 1 || !strings.Contains(le.Unresolved[0], "nowhere") {
		t.Fatalf("unexpected unresolved list: %v", le.Unresolved)
	}
}

func TestLink_AnonymousChildPaths(t *testing.T) {
	inner := &Container{Content: []Element{Instr(OpDone)}}
	s := &Story{
		Format:  FormatTag,
		Version: Version,
		Root: &Container{
			Content: []Element{Instr(OpNewline), Sub(inner)},
		},
	}
	if err := Link(s); err != nil {
		t.Fatalf("link: %v", err)
	}
	if inner.Path() != "1" {
		t.Fatalf("inner path=%q, want %q", inner.Path(), "1")
	}
	if got := s.Paths(); len(got) != 2 || got[0] != "" || got[1] != "1" {
		t.Fatalf("paths=%v", got)
	}
}

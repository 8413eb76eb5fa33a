// Package snapshot is the serializable form of a running story: call stacks,
// variables, visit counts, pending output and choices. Files are a JSON header
// line followed by a gob body, zstd compressed (lz4 for ".lz4" files).
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"

	"inkforge.dev/internal/story/value"
)

const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version     int    `json:"version"`
	StoryDigest string `json:"story_digest"`
	Turn        int    `json:"turn"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Status      string                 `json:"status"`
	Globals     map[string]value.Value `json:"globals"`
	VisitCounts map[string]int         `json:"visit_counts"`
	TurnIndices map[string]int         `json:"turn_indices"`
	Threads     []ThreadV1             `json:"threads"`
	EvalStack   []value.Value          `json:"eval_stack,omitempty"`
	Output      OutputV1               `json:"output"`
	Choices     []ChoiceV1             `json:"choices,omitempty"`

	Seed         int64 `json:"seed"`
	PrevRandom   int64 `json:"prev_random"`
	NextThreadID int   `json:"next_thread_id"`
}

type ThreadV1 struct {
	ID     int       `json:"id"`
	Frames []FrameV1 `json:"frames"`
}

type FrameV1 struct {
	Kind       string                 `json:"kind"`
	Ptr        PointerV1              `json:"ptr"`
	Temps      map[string]value.Value `json:"temps,omitempty"`
	EvalHeight int                    `json:"eval_height,omitempty"`
}

// PointerV1 addresses an element by container path and index. Null marks a
// frame with nothing left to run.
type PointerV1 struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
	Null  bool   `json:"null,omitempty"`
}

type OutputV1 struct {
	Line           string   `json:"line,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	PendingNewline bool     `json:"pending_newline,omitempty"`
	Captures       []string `json:"captures,omitempty"`
}

type ChoiceV1 struct {
	Text       string   `json:"text"`
	Target     string   `json:"target"`
	SourcePath string   `json:"source_path,omitempty"`
	OnceOnly   bool     `json:"once_only,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
	Thread     ThreadV1 `json:"thread"`
	Tags       []string `json:"tags,omitempty"`
}

// UnsupportedVersionError reports a snapshot written by another format
// version.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("snapshot: unsupported version %d (want %d)", e.Version, Version)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// IncompatibleSnapshotError is returned when a snapshot cannot be restored
// into a story: wrong version or a different compiled graph.
type IncompatibleSnapshotError struct {
	Reason string
}

func (e *IncompatibleSnapshotError) Error() string {
	return "snapshot: incompatible: " + e.Reason
}

func checkHeader(h Header) error {
	if h.Version != Version {
		return &UnsupportedVersionError{Version: h.Version}
	}
	return nil
}

// Encode is the JSON form used by the play server and the index database.
func Encode(snap *SnapshotV1) ([]byte, error) {
	return json.Marshal(snap)
}

func Decode(data []byte) (*SnapshotV1, error) {
	var probe struct {
		Header Header `json:"header"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := checkHeader(probe.Header); err != nil {
		return nil, err
	}
	var snap SnapshotV1
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &snap, nil
}

func WriteSnapshot(path string, snap *SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := write(f, snap, codecFor(path)); err != nil {
		return err
	}
	return f.Close()
}

type codec int

const (
	codecZstd codec = iota
	codecLZ4
)

// codecFor picks the compression from the file name: ".lz4" files trade
// size for speed, everything else is zstd.
func codecFor(path string) codec {
	if strings.EqualFold(filepath.Ext(path), ".lz4") {
		return codecLZ4
	}
	return codecZstd
}

func write(w io.Writer, snap *SnapshotV1, c codec) error {
	var enc io.WriteCloser
	if c == codecLZ4 {
		enc = lz4.NewWriter(w)
	} else {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		enc = zw
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (*SnapshotV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f, codecFor(path))
}

func read(r io.Reader, c codec) (*SnapshotV1, error) {
	var src io.Reader
	if c == codecLZ4 {
		src = lz4.NewReader(r)
	} else {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		src = dec
	}
	br := bufio.NewReaderSize(src, 64*1024)

	// The header line is checked first so an old file fails before gob
	// touches the body.
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	if err := checkHeader(h); err != nil {
		return nil, err
	}

	var snap SnapshotV1
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &snap, nil
}

// Marshal and Unmarshal are the in-memory compressed form (file layout
// without the file).
func Marshal(snap *SnapshotV1) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(&buf, snap, codecZstd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte) (*SnapshotV1, error) {
	return read(bytes.NewReader(data), codecZstd)
}

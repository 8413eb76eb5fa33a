// Package resource imports story sources into compiled resource files, the
// form a game host loads at run time.
//
// A resource file is one JSON header line followed by the graph document,
// zstd compressed when the header says so. Placeholder resources carry only
// the header.
package resource

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"inkforge.dev/internal/story/graph"
)

// SaveExtension is appended to the save path of every import.
const SaveExtension = "res"

const (
	KindStory       = "story"
	KindPlaceholder = "placeholder"
)

var (
	ErrCompilationFailed = errors.New("resource: compilation failed")
	// ErrPlaceholder is returned when loading a resource that holds no story,
	// the output of importing a non-master file.
	ErrPlaceholder = errors.New("resource: placeholder has no story")
)

type Header struct {
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// Write stores a resource file. A nil story writes a placeholder.
func Write(path, name string, s *graph.Story, compress bool) error {
	h := Header{Kind: KindPlaceholder, Name: name}
	var body []byte
	if s != nil {
		b, err := graph.Encode(s)
		if err != nil {
			return err
		}
		h = Header{Kind: KindStory, Name: name, Digest: s.Digest(), Compressed: compress}
		body = b
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write next to the target and rename so a host never sees half a file.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := write(f, h, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(w io.Writer, h Header, body []byte) error {
	bw := bufio.NewWriter(w)
	hb, _ := json.Marshal(h)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if h.Kind == KindStory {
		if h.Compressed {
			enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
			if err != nil {
				return err
			}
			if _, err := enc.Write(body); err != nil {
				enc.Close()
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}
		} else if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadHeader reads only the header line of a resource file.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	h, _, err := readHeader(bufio.NewReader(f))
	return h, err
}

func readHeader(br *bufio.Reader) (Header, *bufio.Reader, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return Header{}, nil, fmt.Errorf("resource header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return Header{}, nil, fmt.Errorf("resource header: %w", err)
	}
	switch h.Kind {
	case KindStory, KindPlaceholder:
	default:
		return Header{}, nil, fmt.Errorf("resource header: unknown kind %q", h.Kind)
	}
	return h, br, nil
}

// Load reads a story resource and decodes its graph. The graph document is
// version checked before anything else is built from it.
func Load(path string) (*graph.Story, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()

	h, br, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, h, err
	}
	if h.Kind == KindPlaceholder {
		return nil, h, ErrPlaceholder
	}
	var r io.Reader = br
	if h.Compressed {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, h, err
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, h, err
	}
	s, err := graph.Decode(data)
	if err != nil {
		return nil, h, err
	}
	if h.Digest != "" && s.Digest() != h.Digest {
		return nil, h, fmt.Errorf("resource %s: digest mismatch", path)
	}
	return s, h, nil
}

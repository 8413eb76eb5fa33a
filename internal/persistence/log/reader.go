package log

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// ReadTurns loads every turn log file under sessionDir in file order.
func ReadTurns(sessionDir string) ([]TurnLogEntry, error) {
	files, err := filepath.Glob(filepath.Join(sessionDir, "turns", "turns-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var out []TurnLogEntry
	for _, path := range files {
		entries, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readFile(path string) ([]TurnLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TurnLogEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e TurnLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// OutputDigest hashes the lines and choice texts a turn produced. Every
// string is length prefixed so boundaries are part of the digest.
func OutputDigest(lines, choices []string) string {
	h := sha256.New()
	var tmp [8]byte
	write := func(ss []string) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(ss)))
		h.Write(tmp[:])
		for _, s := range ss {
			binary.LittleEndian.PutUint64(tmp[:], uint64(len(s)))
			h.Write(tmp[:])
			h.Write([]byte(s))
		}
	}
	write(lines)
	write(choices)
	return hex.EncodeToString(h.Sum(nil))
}

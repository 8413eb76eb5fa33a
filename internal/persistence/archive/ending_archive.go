// Package archive keeps the final state of finished playthroughs.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inkforge.dev/internal/persistence/snapshot"
)

type EndingArchiveMeta struct {
	Session     string `json:"session"`
	Story       string `json:"story"`
	StoryDigest string `json:"story_digest"`
	Turn        int    `json:"turn"`
	Seed        int64  `json:"seed"`
	Snapshot    string `json:"snapshot"`
	CreatedAt   string `json:"created_at"`
}

// ArchiveEnding writes the snapshot of an ended story into
// `dataDir/archives/<story>/<session>/`. A snapshot that is not at the end
// is skipped with archived=false.
func ArchiveEnding(dataDir, session, story string, snap *snapshot.SnapshotV1) (archivedPath string, archived bool, err error) {
	if snap == nil || snap.Status != "ended" {
		return "", false, nil
	}
	if session == "" || strings.ContainsAny(session, `/\`) || strings.ContainsAny(story, `/\`) {
		return "", false, fmt.Errorf("archive: bad session %q or story %q", session, story)
	}
	if story == "" {
		story = "_"
	}

	archiveDir := filepath.Join(dataDir, "archives", story, session)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, fmt.Sprintf("turn_%04d.snap.zst", snap.Header.Turn))
	if err := snapshot.WriteSnapshot(dst, snap); err != nil {
		return "", false, err
	}

	meta := EndingArchiveMeta{
		Session:     session,
		Story:       story,
		StoryDigest: snap.Header.StoryDigest,
		Turn:        snap.Header.Turn,
		Seed:        snap.Seed,
		Snapshot:    filepath.Base(dst),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

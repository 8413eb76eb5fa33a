// Package indexdb is the queryable index next to the files on disk: compiled
// stories, saved games and the per-turn play record.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"inkforge.dev/internal/persistence/log"
	"inkforge.dev/internal/persistence/snapshot"
)

var ErrNotFound = errors.New("indexdb: not found")

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTurns atomic.Uint64
	pending   atomic.Int64
}

type reqKind int

const (
	reqTurn reqKind = iota + 1
)

type req struct {
	kind reqKind
	turn log.TurnLogEntry
}

type StoryRow struct {
	Digest     string
	Name       string
	SourcePath string
	GraphPath  string
	Warnings   int
	CompiledAt time.Time
}

type SaveRow struct {
	ID          string
	Session     string
	StoryDigest string
	Turn        int
	CreatedAt   time.Time
	Snapshot    *snapshot.SnapshotV1
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropTurnsTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS stories (
			digest TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			source_path TEXT NOT NULL,
			graph_path TEXT NOT NULL,
			warnings INTEGER NOT NULL,
			compiled_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stories_name ON stories(name, compiled_at);`,
		`CREATE TABLE IF NOT EXISTS saves (
			id TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			story_digest TEXT NOT NULL,
			turn INTEGER NOT NULL,
			snapshot_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_session ON saves(session, created_at);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session TEXT NOT NULL,
			turn INTEGER NOT NULL,
			choice INTEGER NOT NULL,
			digest TEXT NOT NULL,
			ended INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session, turn)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTurnsTotal: s.dropTurns.Load(),
	}
}

// WriteTurn queues a turn record. The JSONL turn log stays the source of
// truth, so a full queue drops the row.
func (s *SQLiteIndex) WriteTurn(entry log.TurnLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.pending.Add(1)
	select {
	case s.ch <- req{kind: reqTurn, turn: entry}:
	default:
		s.pending.Add(-1)
		s.dropTurns.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) UpsertStory(ctx context.Context, r StoryRow) error {
	if r.Digest == "" {
		return fmt.Errorf("indexdb: story without digest")
	}
	if r.CompiledAt.IsZero() {
		r.CompiledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO stories(digest,name,source_path,graph_path,warnings,compiled_at) VALUES(?,?,?,?,?,?)`,
		r.Digest, r.Name, r.SourcePath, r.GraphPath, r.Warnings, r.CompiledAt.UTC().Format(time.RFC3339Nano))
	return err
}

// LatestStory is the most recently compiled graph with the given name.
func (s *SQLiteIndex) LatestStory(ctx context.Context, name string) (StoryRow, error) {
	var r StoryRow
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT digest,name,source_path,graph_path,warnings,compiled_at FROM stories WHERE name=? ORDER BY compiled_at DESC LIMIT 1`,
		name).Scan(&r.Digest, &r.Name, &r.SourcePath, &r.GraphPath, &r.Warnings, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.CompiledAt, _ = time.Parse(time.RFC3339Nano, at)
	return r, nil
}

func (s *SQLiteIndex) RecordSave(ctx context.Context, id, session string, snap *snapshot.SnapshotV1) error {
	b, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO saves(id,session,story_digest,turn,snapshot_json,created_at) VALUES(?,?,?,?,?,?)`,
		id, session, snap.Header.StoryDigest, snap.Header.Turn, string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) Save(ctx context.Context, id string) (SaveRow, error) {
	var r SaveRow
	var raw, at string
	err := s.db.QueryRowContext(ctx,
		`SELECT id,session,story_digest,turn,snapshot_json,created_at FROM saves WHERE id=?`,
		id).Scan(&r.ID, &r.Session, &r.StoryDigest, &r.Turn, &raw, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
	r.Snapshot, err = snapshot.Decode([]byte(raw))
	return r, err
}

// Turns returns the indexed turns of a session in order.
func (s *SQLiteIndex) Turns(ctx context.Context, session string) ([]log.TurnLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM turns WHERE session=? ORDER BY turn`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []log.TurnLogEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e log.TurnLogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Flush waits until every queued turn is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(session,turn,choice,digest,ended,raw_json) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertTurn != nil {
			_ = insertTurn.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx != nil {
			switch r.kind {
			case reqTurn:
				b, _ := json.Marshal(r.turn)
				ended := 0
				if r.turn.Ended {
					ended = 1
				}
				if insertTurn != nil {
					if _, err := tx.Stmt(insertTurn).Exec(r.turn.Session, r.turn.Turn, r.turn.Choice, r.turn.Digest, ended, string(b)); err != nil {
						rollback()
					} else {
						opCount++
					}
				}
			}
			// An idle queue commits right away so readers see the row.
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
				commit()
			}
		}
		s.pending.Add(-1)
	}

	commit()
}

// Package ws serves play sessions over websocket. Each connection owns one
// story engine; requests on a connection are handled in order.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"inkforge.dev/internal/persistence/archive"
	"inkforge.dev/internal/persistence/indexdb"
	persistlog "inkforge.dev/internal/persistence/log"
	"inkforge.dev/internal/persistence/snapshot"
	"inkforge.dev/internal/protocol"
	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/runtime"
)

// Library finds compiled stories by name.
type Library interface {
	Story(name string) (*graph.Story, error)
}

// SaveStore keeps saves and the turn index. The SQLite index implements it.
type SaveStore interface {
	RecordSave(ctx context.Context, id, session string, snap *snapshot.SnapshotV1) error
	Save(ctx context.Context, id string) (indexdb.SaveRow, error)
	WriteTurn(entry persistlog.TurnLogEntry) error
}

type Config struct {
	MaxSessions    int
	IdleTimeout    time.Duration
	ContinueBudget time.Duration
	MaxSteps       int
	// MaxLines caps the lines sent for one CONTINUE. Zero means no cap.
	MaxLines int
	// DataDir receives per-session turn logs. Empty disables them.
	DataDir string
	Seed    int64
	// Mirror, when set, receives archived endings for upload.
	Mirror Mirror
	// BindExternals, when set, binds host functions for a story before its
	// externals are checked.
	BindExternals func(story string, eng *runtime.Engine) error
	// TokenSecret, when set, makes SAVED carry a signed resume token and
	// HELLO accept only such tokens.
	TokenSecret []byte
	TokenTTL    time.Duration
}

type Mirror interface {
	Enqueue(localPath string)
}

type Server struct {
	lib   Library
	saves SaveStore
	audit *persistlog.AuditLogger
	cfg   Config
	log   *log.Logger

	upgrader websocket.Upgrader
	active   atomic.Int64
	now      func() time.Time
}

// NewServer builds a play server. saves may be nil, which turns off SAVE and
// LOAD.
func NewServer(lib Library, saves SaveStore, cfg Config, logger *log.Logger) *Server {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.ContinueBudget <= 0 {
		cfg.ContinueBudget = 2 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	s := &Server{
		lib:   lib,
		saves: saves,
		cfg:   cfg,
		log:   logger,
		now:   time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	if cfg.DataDir != "" {
		s.audit = persistlog.NewAuditLogger(cfg.DataDir)
	}
	return s
}

// Close flushes the audit log.
func (s *Server) Close() error {
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}

// ActiveSessions is the number of connected sessions.
func (s *Server) ActiveSessions() int { return int(s.active.Load()) }

type session struct {
	id        string
	storyName string
	eng       *runtime.Engine
	turns     *persistlog.TurnLogger
	out       chan []byte

	// The output of the current turn, gathered over CONTINUE calls until
	// the story stops at a choice set or the end.
	choice int
	lines  []string
	logged bool
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if s.active.Add(1) > int64(s.cfg.MaxSessions) {
			s.active.Add(-1)
			_ = writeJSON(conn, fatal(protocol.ErrSessionBusy, "too many sessions"))
			return
		}
		defer s.active.Add(-1)

		sess := s.handshake(r.Context(), conn)
		if sess == nil {
			return
		}
		defer func() {
			if sess.turns != nil {
				_ = sess.turns.Close()
			}
			s.auditf(sess.id, "leave", "turn=%d", sess.eng.Turn())
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if !s.handle(ctx, sess, msg) {
				break
			}
		}
		// Let queued messages drain before the deferred close.
		s.drain(ctx, sess)
		cancel()
		<-done
	}
}

func (s *Server) drain(ctx context.Context, sess *session) {
	deadline := time.After(time.Second)
	for len(sess.out) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		_ = writeJSON(conn, fatal(protocol.ErrProtoBadRequest, err.Error()))
		return nil
	}
	if protocol.SelectVersion(hello.ProtocolVersion, hello.SupportedVersions) == "" {
		_ = writeJSON(conn, fatal(protocol.ErrProtoVersion, "server speaks "+protocol.Version))
		return nil
	}

	story, err := s.lib.Story(strings.TrimSpace(hello.Story))
	if err != nil {
		_ = writeJSON(conn, fatal(protocol.ErrStoryNotFound, fmt.Sprintf("story %q: %v", hello.Story, err)))
		return nil
	}
	seed := s.cfg.Seed
	if hello.Seed != nil {
		seed = *hello.Seed
	}

	sess := &session{
		id:        uuid.NewString(),
		storyName: hello.Story,
		eng:       runtime.New(story, runtime.Options{Seed: seed, MaxSteps: s.cfg.MaxSteps, Logger: s.log}),
		out:       make(chan []byte, 64),
		choice:    -1,
	}
	if s.cfg.BindExternals != nil {
		if err := s.cfg.BindExternals(sess.storyName, sess.eng); err != nil {
			s.log.Printf("bind externals for %s: %v", sess.storyName, err)
			_ = writeJSON(conn, fatal(protocol.ErrExternal, "external functions unavailable"))
			return nil
		}
	}
	if err := sess.eng.ValidateExternals(); err != nil {
		_ = writeJSON(conn, fatal(protocol.ErrExternal, err.Error()))
		return nil
	}

	resumed := false
	if hello.Auth != nil && strings.TrimSpace(hello.Auth.Token) != "" {
		saveID, err := s.saveIDFromToken(strings.TrimSpace(hello.Auth.Token), sess.storyName)
		if err != nil {
			_ = writeJSON(conn, fatal(protocol.ErrSaveNotFound, err.Error()))
			return nil
		}
		if e := s.restore(ctx, sess, saveID); e != nil {
			e.Fatal = true
			_ = writeJSON(conn, e)
			return nil
		}
		resumed = true
	}
	if s.cfg.DataDir != "" {
		sess.turns = persistlog.NewTurnLogger(filepath.Join(s.cfg.DataDir, "sessions", sess.id))
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Story:           protocol.StoryRef{Name: sess.storyName, Digest: story.Digest()},
		Turn:            sess.eng.Turn(),
		Resumed:         resumed,
		ServerCapabilities: protocol.ServerCapabilities{
			Saves:    s.saves != nil,
			TurnLog:  sess.turns != nil,
			MaxLines: s.cfg.MaxLines,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.auditf(sess.id, "join", "story=%s digest=%s resumed=%v", sess.storyName, story.Digest(), resumed)
	return sess
}

// handle serves one request. It returns false when the connection should
// close.
func (s *Server) handle(ctx context.Context, sess *session, msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return s.send(ctx, sess, protocol.NewError(protocol.ErrProtoBadRequest, "malformed JSON"))
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		return s.send(ctx, sess, protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version"))
	}
	switch base.Type {
	case protocol.TypeContinue:
		var m protocol.ContinueMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.send(ctx, sess, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		}
		return s.handleContinue(ctx, sess, m)
	case protocol.TypeChoose:
		var m protocol.ChooseMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.send(ctx, sess, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		}
		return s.handleChoose(ctx, sess, m)
	case protocol.TypeSave:
		return s.handleSave(ctx, sess)
	case protocol.TypeLoad:
		var m protocol.LoadMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.send(ctx, sess, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		}
		if e := s.restore(ctx, sess, m.SaveID); e != nil {
			return s.send(ctx, sess, *e)
		}
		s.auditf(sess.id, "load", "save=%s turn=%d", m.SaveID, sess.eng.Turn())
		return s.handleContinue(ctx, sess, protocol.ContinueMsg{})
	case protocol.TypeRestart:
		sess.eng.Reset()
		sess.resetTurn(-1)
		s.auditf(sess.id, "restart", "")
		return s.handleContinue(ctx, sess, protocol.ContinueMsg{})
	default:
		return s.send(ctx, sess, protocol.NewError(protocol.ErrProtoBadRequest, "unknown message type "+base.Type))
	}
}

func (s *Server) handleContinue(ctx context.Context, sess *session, m protocol.ContinueMsg) bool {
	maxLines := m.MaxLines
	if s.cfg.MaxLines > 0 && (maxLines <= 0 || maxLines > s.cfg.MaxLines) {
		maxLines = s.cfg.MaxLines
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ContinueBudget)
	defer cancel()

	for n := 0; maxLines <= 0 || n < maxLines; n++ {
		step, err := sess.eng.ContinueContext(cctx)
		if err != nil {
			return s.sendRuntimeError(ctx, sess, err)
		}
		turn := sess.eng.Turn()
		switch step.Kind {
		case runtime.StepLine:
			sess.lines = append(sess.lines, step.Text)
			if !s.send(ctx, sess, protocol.LineMsg{Type: protocol.TypeLine, ProtocolVersion: protocol.Version, Turn: turn, Text: step.Text, Tags: step.Tags}) {
				return false
			}
			continue
		case runtime.StepChoices:
			obs := make([]protocol.ChoiceObs, len(step.Choices))
			for i, c := range step.Choices {
				obs[i] = protocol.ChoiceObs{Index: c.Index, Text: c.Text, Tags: c.Tags}
			}
			s.logTurn(sess, runtime.ChoiceTexts(step.Choices), false)
			return s.send(ctx, sess, protocol.ChoicesMsg{Type: protocol.TypeChoices, ProtocolVersion: protocol.Version, Turn: turn, Choices: obs})
		default:
			s.logTurn(sess, nil, true)
			return s.send(ctx, sess, protocol.EndMsg{Type: protocol.TypeEnd, ProtocolVersion: protocol.Version, Turn: turn})
		}
	}
	return true
}

func (s *Server) handleChoose(ctx context.Context, sess *session, m protocol.ChooseMsg) bool {
	if m.Turn != sess.eng.Turn() {
		return s.send(ctx, sess, protocol.NewError(protocol.ErrStale, fmt.Sprintf("choices are for turn %d", sess.eng.Turn())))
	}
	if err := sess.eng.Choose(m.Index); err != nil {
		return s.sendRuntimeError(ctx, sess, err)
	}
	sess.resetTurn(m.Index)
	return s.handleContinue(ctx, sess, protocol.ContinueMsg{})
}

func (s *Server) handleSave(ctx context.Context, sess *session) bool {
	if s.saves == nil {
		return s.send(ctx, sess, protocol.NewError(protocol.ErrBadRequest, "saves are disabled"))
	}
	if sess.eng.Err() != nil {
		return s.send(ctx, sess, protocol.NewError(protocol.ErrFailed, "cannot save a failed story"))
	}
	snap := sess.eng.Snapshot()
	id := uuid.NewString()
	if err := s.saves.RecordSave(ctx, id, sess.id, snap); err != nil {
		s.log.Printf("session %s: save: %v", sess.id, err)
		return s.send(ctx, sess, protocol.NewError(protocol.ErrInternal, "save failed"))
	}
	token, err := s.issueToken(id, sess.storyName)
	if err != nil {
		s.log.Printf("session %s: sign resume token: %v", sess.id, err)
		return s.send(ctx, sess, protocol.NewError(protocol.ErrInternal, "save failed"))
	}
	s.auditf(sess.id, "save", "save=%s turn=%d", id, snap.Header.Turn)
	return s.send(ctx, sess, protocol.SavedMsg{Type: protocol.TypeSaved, ProtocolVersion: protocol.Version, SaveID: id, Turn: snap.Header.Turn, ResumeToken: token})
}

// restore loads a save into the session engine. On failure the engine is
// left as it was.
func (s *Server) restore(ctx context.Context, sess *session, id string) *protocol.ErrorMsg {
	if s.saves == nil {
		e := protocol.NewError(protocol.ErrBadRequest, "saves are disabled")
		return &e
	}
	row, err := s.saves.Save(ctx, id)
	if errors.Is(err, indexdb.ErrNotFound) {
		e := protocol.NewError(protocol.ErrSaveNotFound, "no save "+id)
		return &e
	}
	if err != nil {
		s.log.Printf("session %s: load %s: %v", sess.id, id, err)
		e := protocol.NewError(protocol.ErrInternal, "load failed")
		return &e
	}
	if err := sess.eng.Restore(row.Snapshot); err != nil {
		e := protocol.NewError(protocol.ErrIncompatible, err.Error())
		return &e
	}
	sess.resetTurn(-1)
	return nil
}

func (sess *session) resetTurn(choice int) {
	sess.choice = choice
	sess.lines = nil
	sess.logged = false
}

func (s *Server) logTurn(sess *session, choices []string, ended bool) {
	if sess.logged {
		return
	}
	sess.logged = true
	e := persistlog.TurnLogEntry{
		Session: sess.id,
		Turn:    sess.eng.Turn(),
		Choice:  sess.choice,
		Lines:   sess.lines,
		Choices: choices,
		Ended:   ended,
		Digest:  persistlog.OutputDigest(sess.lines, choices),
		Time:    time.Now().UTC(),
	}
	if sess.turns != nil {
		if err := sess.turns.WriteTurn(e); err != nil {
			s.log.Printf("session %s: turn log: %v", sess.id, err)
		}
	}
	if s.saves != nil {
		_ = s.saves.WriteTurn(e)
	}
	if ended && s.cfg.DataDir != "" {
		if path, ok, err := archive.ArchiveEnding(s.cfg.DataDir, sess.id, sess.storyName, sess.eng.Snapshot()); err != nil {
			s.log.Printf("session %s: archive ending: %v", sess.id, err)
		} else if ok {
			s.auditf(sess.id, "ending", "archived=%s", path)
			if s.cfg.Mirror != nil {
				s.cfg.Mirror.Enqueue(path)
			}
		}
	}
}

func (s *Server) sendRuntimeError(ctx context.Context, sess *session, err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return s.send(ctx, sess, protocol.NewError(protocol.ErrTimeout, "continue budget spent; send CONTINUE to resume"))
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, runtime.ErrFailed):
		return s.send(ctx, sess, protocol.NewError(protocol.ErrFailed, err.Error()))
	}
	code := runtime.CodeOf(err)
	if !protocol.IsKnownCode(code) || code == "" {
		code = protocol.ErrInternal
	}
	s.auditf(sess.id, "fault", "%v", err)
	return s.send(ctx, sess, protocol.NewError(code, err.Error()))
}

func (s *Server) send(ctx context.Context, sess *session, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("session %s: marshal: %v", sess.id, err)
		return false
	}
	select {
	case sess.out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) auditf(session, action, format string, args ...any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.WriteAudit(persistlog.AuditEntry{
		Time:    time.Now().UTC(),
		Session: session,
		Action:  action,
		Detail:  fmt.Sprintf(format, args...),
	})
}

func fatal(code, msg string) protocol.ErrorMsg {
	e := protocol.NewError(code, msg)
	e.Fatal = true
	return e
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// Package mcptools exposes story play as Model Context Protocol tools, so an
// agent can start a story, read its lines and pick choices.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/runtime"
)

const (
	serverName    = "inkforge"
	serverVersion = "1.0"
)

var (
	ErrTooManySessions = errors.New("too many story sessions")
	ErrUnknownSession  = errors.New("unknown session")
)

// Library finds compiled stories by name and lists them.
type Library interface {
	Story(name string) (*graph.Story, error)
	Names() ([]string, error)
}

type Config struct {
	MaxSessions int
	// IdleTimeout drops sessions nobody has touched for this long.
	IdleTimeout time.Duration
	MaxSteps    int
	Seed        int64
	// BindExternals, when set, binds host functions for a new session.
	BindExternals func(story string, eng *runtime.Engine) error
}

type session struct {
	mu    sync.Mutex
	story string
	eng   *runtime.Engine
	last  runtime.Step
	used  time.Time
}

// Tools holds the story sessions behind the MCP tools.
type Tools struct {
	lib    Library
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func New(lib Library, cfg Config, logger *log.Logger) *Tools {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	return &Tools{lib: lib, cfg: cfg, logger: logger, now: time.Now, sessions: map[string]*session{}}
}

// NewServer builds an MCP server with every story tool registered.
func (t *Tools) NewServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_stories",
		Description: "Lists the compiled stories that can be started",
	}, t.listStories)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "start_story",
		Description: "Starts a story and returns its opening lines and first choices",
	}, t.startStory)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "choose",
		Description: "Picks a choice by index and returns the lines up to the next choices",
	}, t.choose)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "story_state",
		Description: "Reads the turn, current choices and global variables of a session",
	}, t.state)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "end_session",
		Description: "Drops a story session",
	}, t.endSession)
	return s
}

type ListStoriesInput struct{}

type ListStoriesResult struct {
	Stories []string `json:"stories"`
}

type StartInput struct {
	Story string `json:"story" jsonschema:"name of the story to start"`
	Seed  *int64 `json:"seed,omitempty" jsonschema:"random seed; the server default when absent"`
}

type ChooseInput struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index" jsonschema:"zero-based index of the choice"`
}

type SessionInput struct {
	SessionID string `json:"session_id"`
}

type ChoiceView struct {
	Index int      `json:"index"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags,omitempty"`
}

// TurnResult is the output of one stretch of story.
type TurnResult struct {
	SessionID string       `json:"session_id"`
	Turn      int          `json:"turn"`
	Lines     []string     `json:"lines"`
	Choices   []ChoiceView `json:"choices,omitempty"`
	Ended     bool         `json:"ended"`
}

type StateResult struct {
	SessionID string            `json:"session_id"`
	Story     string            `json:"story"`
	Turn      int               `json:"turn"`
	Choices   []ChoiceView      `json:"choices,omitempty"`
	Globals   map[string]string `json:"globals"`
}

type EndResult struct {
	Ended bool `json:"ended"`
}

func (t *Tools) listStories(ctx context.Context, _ *mcp.CallToolRequest, _ ListStoriesInput) (*mcp.CallToolResult, ListStoriesResult, error) {
	names, err := t.lib.Names()
	if err != nil {
		return nil, ListStoriesResult{}, err
	}
	sort.Strings(names)
	return nil, ListStoriesResult{Stories: names}, nil
}

func (t *Tools) startStory(ctx context.Context, _ *mcp.CallToolRequest, in StartInput) (*mcp.CallToolResult, TurnResult, error) {
	name := strings.TrimSpace(in.Story)
	story, err := t.lib.Story(name)
	if err != nil {
		return nil, TurnResult{}, fmt.Errorf("story %q: %w", name, err)
	}
	seed := t.cfg.Seed
	if in.Seed != nil {
		seed = *in.Seed
	}
	eng := runtime.New(story, runtime.Options{Seed: seed, MaxSteps: t.cfg.MaxSteps, Logger: t.logger})
	if t.cfg.BindExternals != nil {
		if err := t.cfg.BindExternals(name, eng); err != nil {
			return nil, TurnResult{}, err
		}
	}
	if err := eng.ValidateExternals(); err != nil {
		return nil, TurnResult{}, err
	}

	t.mu.Lock()
	t.expireLocked()
	if len(t.sessions) >= t.cfg.MaxSessions {
		t.mu.Unlock()
		return nil, TurnResult{}, ErrTooManySessions
	}
	id := uuid.NewString()
	sess := &session{story: name, eng: eng, used: t.now()}
	t.sessions[id] = sess
	t.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	res, err := t.advance(ctx, id, sess)
	return nil, res, err
}

func (t *Tools) choose(ctx context.Context, _ *mcp.CallToolRequest, in ChooseInput) (*mcp.CallToolResult, TurnResult, error) {
	sess, err := t.get(in.SessionID)
	if err != nil {
		return nil, TurnResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.last.Kind != runtime.StepChoices || in.Index < 0 || in.Index >= len(sess.last.Choices) {
		// Out-of-range picks are refused here so the session stays usable.
		return nil, TurnResult{}, fmt.Errorf("choice %d is not on offer", in.Index)
	}
	if err := sess.eng.Choose(in.Index); err != nil {
		return nil, TurnResult{}, err
	}
	res, err := t.advance(ctx, in.SessionID, sess)
	return nil, res, err
}

func (t *Tools) state(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, StateResult, error) {
	sess, err := t.get(in.SessionID)
	if err != nil {
		return nil, StateResult{}, err
	}
	globals := map[string]string{}
	for _, n := range sess.eng.VariableNames() {
		if v, err := sess.eng.Variable(n); err == nil {
			globals[n] = v.String()
		}
	}
	return nil, StateResult{
		SessionID: in.SessionID,
		Story:     sess.story,
		Turn:      sess.eng.Turn(),
		Choices:   views(sess.eng.CurrentChoices()),
		Globals:   globals,
	}, nil
}

func (t *Tools) endSession(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, EndResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[in.SessionID]
	delete(t.sessions, in.SessionID)
	return nil, EndResult{Ended: ok}, nil
}

func (t *Tools) advance(ctx context.Context, id string, sess *session) (TurnResult, error) {
	lines, last, err := sess.eng.ContinueMaximally(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	sess.last = last
	res := TurnResult{
		SessionID: id,
		Turn:      sess.eng.Turn(),
		Lines:     runtime.Texts(lines),
		Choices:   views(last.Choices),
		Ended:     last.Kind == runtime.StepEnd,
	}
	if res.Lines == nil {
		res.Lines = []string{}
	}
	return res, nil
}

func (t *Tools) get(id string) (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	sess, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSession, id)
	}
	sess.used = t.now()
	return sess, nil
}

func (t *Tools) expireLocked() {
	cutoff := t.now().Add(-t.cfg.IdleTimeout)
	for id, s := range t.sessions {
		if s.used.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}

// Sessions is the number of live sessions.
func (t *Tools) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func views(cs []runtime.Choice) []ChoiceView {
	if len(cs) == 0 {
		return nil
	}
	out := make([]ChoiceView, len(cs))
	for i, c := range cs {
		out[i] = ChoiceView{Index: c.Index, Text: c.Text, Tags: c.Tags}
	}
	return out
}

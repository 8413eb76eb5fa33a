package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"inkforge.dev/internal/story/compiler"
	"inkforge.dev/internal/story/graph"
)

const tale = `VAR gold = 0
Gate.
-> hub
=== hub ===
+ Dig
  ~ gold += 5
  Gold {gold}.
  -> hub
* Leave
  Bye.
  -> END
`

type mapLibrary map[string]*graph.Story

func (m mapLibrary) Story(name string) (*graph.Story, error) {
	s, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("no story %q", name)
	}
	return s, nil
}

func (m mapLibrary) Names() ([]string, error) {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out, nil
}

func connect(t *testing.T, tools *Tools) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	srv := tools.NewServer()
	go func() { _ = srv.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0.0.1"}, nil)
	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	session, err := client.Connect(cctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func newTools(t *testing.T, cfg Config) *Tools {
	t.Helper()
	s, diags, err := compiler.Compile("tale.ink", tale, compiler.Options{})
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, diags.String())
	}
	return New(mapLibrary{"tale": s}, cfg, log.New(io.Discard, "", 0))
}

func call[T any](t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (T, *mcp.CallToolResult) {
	t.Helper()
	var out T
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if res.IsError {
		return out, res
	}
	b, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return out, res
}

func TestTools_PlayThrough(t *testing.T) {
	tools := newTools(t, Config{})
	cs := connect(t, tools)

	list, _ := call[ListStoriesResult](t, cs, "list_stories", map[string]any{})
	if len(list.Stories) != 1 || list.Stories[0] != "tale" {
		t.Fatalf("stories=%v", list.Stories)
	}

	start, _ := call[TurnResult](t, cs, "start_story", map[string]any{"story": "tale"})
	if start.SessionID == "" || len(start.Lines) != 1 || start.Lines[0] != "Gate." || len(start.Choices) != 2 {
		t.Fatalf("start=%+v", start)
	}

	dig, _ := call[TurnResult](t, cs, "choose", map[string]any{"session_id": start.SessionID, "index": 0})
	if dig.Turn != 1 || len(dig.Lines) != 2 || dig.Lines[1] != "Gold 5." {
		t.Fatalf("dig=%+v", dig)
	}

	st, _ := call[StateResult](t, cs, "story_state", map[string]any{"session_id": start.SessionID})
	if st.Globals["gold"] != "5" || st.Story != "tale" || len(st.Choices) != 2 {
		t.Fatalf("state=%+v", st)
	}

	leave, _ := call[TurnResult](t, cs, "choose", map[string]any{"session_id": start.SessionID, "index": 1})
	if !leave.Ended || leave.Lines[len(leave.Lines)-1] != "Bye." {
		t.Fatalf("leave=%+v", leave)
	}

	end, _ := call[EndResult](t, cs, "end_session", map[string]any{"session_id": start.SessionID})
	if !end.Ended || tools.Sessions() != 0 {
		t.Fatalf("end=%+v sessions=%d", end, tools.Sessions())
	}
}

func TestTools_BadChoiceKeepsSession(t *testing.T) {
	tools := newTools(t, Config{})
	cs := connect(t, tools)
	start, _ := call[TurnResult](t, cs, "start_story", map[string]any{"story": "tale"})

	if _, res := call[TurnResult](t, cs, "choose", map[string]any{"session_id": start.SessionID, "index": 9}); !res.IsError {
		t.Fatalf("expected tool error for index 9")
	}
	dig, res := call[TurnResult](t, cs, "choose", map[string]any{"session_id": start.SessionID, "index": 0})
	if res.IsError || dig.Turn != 1 {
		t.Fatalf("session unusable after bad choice: %+v", dig)
	}
}

func TestTools_Errors(t *testing.T) {
	tools := newTools(t, Config{MaxSessions: 1})
	cs := connect(t, tools)

	if _, res := call[TurnResult](t, cs, "start_story", map[string]any{"story": "missing"}); !res.IsError {
		t.Fatalf("expected error for unknown story")
	}
	if _, res := call[TurnResult](t, cs, "choose", map[string]any{"session_id": "nope", "index": 0}); !res.IsError {
		t.Fatalf("expected error for unknown session")
	}
	call[TurnResult](t, cs, "start_story", map[string]any{"story": "tale"})
	if _, res := call[TurnResult](t, cs, "start_story", map[string]any{"story": "tale"}); !res.IsError {
		t.Fatalf("expected session limit error")
	}
}

func TestTools_IdleSessionsExpire(t *testing.T) {
	tools := newTools(t, Config{IdleTimeout: time.Minute})
	now := time.Unix(1000, 0)
	tools.now = func() time.Time { return now }
	cs := connect(t, tools)
	start, _ := call[TurnResult](t, cs, "start_story", map[string]any{"story": "tale"})

	now = now.Add(2 * time.Minute)
	if _, res := call[StateResult](t, cs, "story_state", map[string]any{"session_id": start.SessionID}); !res.IsError {
		t.Fatalf("expected expired session")
	}
}

package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"inkforge.dev/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Messages go through JSON first so the schema sees what the wire sees.
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	requestSchema := compile("request.schema.json")
	eventSchema := compile("event.schema.json")

	seed := int64(7)
	validate(helloSchema, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "console",
		Story:           "intro",
		Seed:            &seed,
		Auth:            &protocol.HelloAuth{Token: "save-1"},
	})
	validate(welcomeSchema, protocol.WelcomeMsg{
		Type:               protocol.TypeWelcome,
		ProtocolVersion:    protocol.Version,
		SessionID:          "S1",
		Story:              protocol.StoryRef{Name: "intro", Digest: "deadbeef"},
		ServerCapabilities: protocol.ServerCapabilities{Saves: true, TurnLog: true, MaxLines: 64},
	})

	validate(requestSchema, protocol.ContinueMsg{Type: protocol.TypeContinue, ProtocolVersion: protocol.Version, MaxLines: 10})
	validate(requestSchema, protocol.ChooseMsg{Type: protocol.TypeChoose, ProtocolVersion: protocol.Version, Index: 1, Turn: 3})
	validate(requestSchema, protocol.SaveMsg{Type: protocol.TypeSave, ProtocolVersion: protocol.Version})
	validate(requestSchema, protocol.LoadMsg{Type: protocol.TypeLoad, ProtocolVersion: protocol.Version, SaveID: "save-1"})
	validate(requestSchema, protocol.RestartMsg{Type: protocol.TypeRestart, ProtocolVersion: protocol.Version})

	validate(eventSchema, protocol.LineMsg{Type: protocol.TypeLine, ProtocolVersion: protocol.Version, Turn: 1, Text: "Hello.", Tags: []string{"mood: calm"}})
	validate(eventSchema, protocol.ChoicesMsg{Type: protocol.TypeChoices, ProtocolVersion: protocol.Version, Turn: 1, Choices: []protocol.ChoiceObs{{Index: 0, Text: "Go"}}})
	validate(eventSchema, protocol.EndMsg{Type: protocol.TypeEnd, ProtocolVersion: protocol.Version, Turn: 2})
	validate(eventSchema, protocol.SavedMsg{Type: protocol.TypeSaved, ProtocolVersion: protocol.Version, SaveID: "save-1", Turn: 2})
	validate(eventSchema, protocol.NewError(protocol.ErrStale, "turn moved on"))
}

func TestSchemas_RejectMalformed(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "request.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"CHOOSE","protocol_version":"1.0","index":-1,"turn":0}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected negative index rejected")
	}
	_ = json.Unmarshal([]byte(`{"type":"LOAD","protocol_version":"1.0"}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected LOAD without save_id rejected")
	}
}

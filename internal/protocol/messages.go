package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	ClientName        string     `json:"client_name"`
	Story             string     `json:"story"`
	Seed              *int64     `json:"seed,omitempty"`
	Auth              *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	// Token resumes a session from a save: the resume token from SAVED when
	// the server signs tokens, otherwise the save id.
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type               string             `json:"type"`
	ProtocolVersion    string             `json:"protocol_version"`
	SessionID          string             `json:"session_id"`
	Story              StoryRef           `json:"story"`
	Turn               int                `json:"turn"`
	Resumed            bool               `json:"resumed,omitempty"`
	ServerCapabilities ServerCapabilities `json:"server_capabilities"`
}

type StoryRef struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

type ServerCapabilities struct {
	Saves   bool `json:"saves,omitempty"`
	TurnLog bool `json:"turn_log,omitempty"`
	// MaxLines caps the lines one CONTINUE may return before the server
	// waits for another CONTINUE.
	MaxLines int `json:"max_lines,omitempty"`
}

// CONTINUE (client -> server): run the story to the next choice set or end.
type ContinueMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MaxLines        int    `json:"max_lines,omitempty"`
}

// CHOOSE (client -> server)
type ChooseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Index           int    `json:"index"`
	// Turn is the turn the client saw the choices on. A mismatch is E_STALE.
	Turn int `json:"turn"`
}

// SAVE (client -> server)
type SaveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// LOAD (client -> server)
type LoadMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SaveID          string `json:"save_id"`
}

// RESTART (client -> server): back to the top of the story.
type RestartMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// LINE (server -> client)
type LineMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Turn            int      `json:"turn"`
	Text            string   `json:"text"`
	Tags            []string `json:"tags,omitempty"`
}

// CHOICES (server -> client)
type ChoicesMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Turn            int         `json:"turn"`
	Choices         []ChoiceObs `json:"choices"`
}

type ChoiceObs struct {
	Index int      `json:"index"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags,omitempty"`
}

// END (server -> client)
type EndMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Turn            int    `json:"turn"`
}

// SAVED (server -> client)
type SavedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SaveID          string `json:"save_id"`
	Turn            int    `json:"turn"`
	ResumeToken     string `json:"resume_token,omitempty"`
}

// ERROR (server -> client). Fatal errors are followed by a close.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
	Fatal           bool   `json:"fatal,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

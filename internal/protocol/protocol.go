// Package protocol holds the JSON messages exchanged between a play client
// and the websocket play server.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeContinue = "CONTINUE"
	TypeChoose   = "CHOOSE"
	TypeSave     = "SAVE"
	TypeLoad     = "LOAD"
	TypeRestart  = "RESTART"

	TypeLine    = "LINE"
	TypeChoices = "CHOICES"
	TypeEnd     = "END"
	TypeSaved   = "SAVED"
	TypeError   = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// SelectVersion picks the version a client can speak, preferring the one it
// asked for. It returns "" when there is none.
func SelectVersion(requested string, supported []string) string {
	if requested == Version {
		return Version
	}
	for _, v := range supported {
		if v == Version {
			return Version
		}
	}
	return ""
}

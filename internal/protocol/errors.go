package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session routing/state.
	ErrSessionBusy   = "E_SESSION_BUSY"
	ErrStoryNotFound = "E_STORY_NOT_FOUND"
	ErrSaveNotFound  = "E_SAVE_NOT_FOUND"
	ErrIncompatible  = "E_INCOMPATIBLE_SAVE"
	ErrTimeout       = "E_TIMEOUT"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrStale      = "E_STALE"
	ErrFailed     = "E_FAILED"
	ErrInternal   = "E_INTERNAL"

	// Story runtime faults, forwarded as raised by the engine.
	ErrInvalidChoice    = "E_INVALID_CHOICE"
	ErrUnresolvedTunnel = "E_UNRESOLVED_TUNNEL"
	ErrUnknownVariable  = "E_UNKNOWN_VARIABLE"
	ErrOutOfContent     = "E_OUT_OF_CONTENT"
	ErrStepLimit        = "E_STEP_LIMIT"
	ErrType             = "E_TYPE"
	ErrExternal         = "E_EXTERNAL"
	ErrDivideByZero     = "E_DIVIDE_BY_ZERO"
	ErrInvalidReturn    = "E_INVALID_RETURN"
	ErrBadTarget        = "E_BAD_TARGET"
	ErrStackUnderflow   = "E_STACK_UNDERFLOW"
	ErrUnknownOp        = "E_UNKNOWN_INSTRUCTION"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoVersion:     {},
	ErrSessionBusy:      {},
	ErrStoryNotFound:    {},
	ErrSaveNotFound:     {},
	ErrIncompatible:     {},
	ErrTimeout:          {},
	ErrBadRequest:       {},
	ErrStale:            {},
	ErrFailed:           {},
	ErrInternal:         {},
	ErrInvalidChoice:    {},
	ErrUnresolvedTunnel: {},
	ErrUnknownVariable:  {},
	ErrOutOfContent:     {},
	ErrStepLimit:        {},
	ErrType:             {},
	ErrExternal:         {},
	ErrDivideByZero:     {},
	ErrInvalidReturn:    {},
	ErrBadTarget:        {},
	ErrStackUnderflow:   {},
	ErrUnknownOp:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

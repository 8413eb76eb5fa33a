package protocol

import (
	"testing"

	"inkforge.dev/internal/story/runtime"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrSessionBusy,
		ErrStoryNotFound,
		ErrSaveNotFound,
		ErrIncompatible,
		ErrTimeout,
		ErrBadRequest,
		ErrStale,
		ErrFailed,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestIsKnownCode_RuntimeCodes(t *testing.T) {
	for _, c := range []string{
		runtime.ErrInvalidChoice, runtime.ErrUnresolvedTunnel, runtime.ErrUnknownVariable,
		runtime.ErrOutOfContent, runtime.ErrStepLimit, runtime.ErrType, runtime.ErrExternal,
		runtime.ErrDivideByZero, runtime.ErrInvalidReturn, runtime.ErrBadTarget,
		runtime.ErrStackUnderflow, runtime.ErrUnknownInstruction,
	} {
		if !IsKnownCode(c) {
			t.Fatalf("runtime code %q is not a protocol code", c)
		}
	}
}

func TestSelectVersion(t *testing.T) {
	if v := SelectVersion(Version, nil); v != Version {
		t.Fatalf("exact version: %q", v)
	}
	if v := SelectVersion("0.1", []string{"0.1", Version}); v != Version {
		t.Fatalf("supported list: %q", v)
	}
	if v := SelectVersion("0.1", []string{"0.2"}); v != "" {
		t.Fatalf("expected no version, got %q", v)
	}
}

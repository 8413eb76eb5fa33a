package diag

import "testing"

func TestList_StatusTransitions(t *testing.T) {
	var l List
	if l.Status() != StatusCompiling {
		t.Fatalf("initial status=%s", l.Status())
	}
	l.Warnf(KindCompile, Pos{Line: 1}, "loose end")
	if l.Status() != StatusWarned {
		t.Fatalf("after warning status=%s", l.Status())
	}
	l.Errorf(KindSyntax, Pos{Line: 2}, "bad token %q", "@")
	if l.Status() != StatusFailed {
		t.Fatalf("after error status=%s", l.Status())
	}
	l.Warnf(KindCompile, Pos{Line: 3}, "another")
	if l.Status() != StatusFailed {
		t.Fatalf("failed must be sticky, got %s", l.Status())
	}
	if l.Len() != 3 || l.Count(Warning) != 2 || l.Count(Error) != 1 {
		t.Fatalf("counts: len=%d warn=%d err=%d", l.Len(), l.Count(Warning), l.Count(Error))
	}
	if got := l.Items()[1].String(); got != `<source>:2: syntax error: bad token "@"` {
		t.Fatalf("String()=%q", got)
	}
}

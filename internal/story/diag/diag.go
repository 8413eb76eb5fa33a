package diag

import (
	"fmt"
	"strings"
)

type Severity int

const (
	Warning Severity = iota + 1
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Kind tells which stage produced a diagnostic.
type Kind string

const (
	KindSyntax  Kind = "syntax"
	KindCompile Kind = "compile"
)

type Pos struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

func (p Pos) String() string {
	file := p.File
	if file == "" {
		file = "<source>"
	}
	if p.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d", file, p.Line)
}

type Diagnostic struct {
	Severity Severity
	Kind     Kind
	Message  string
	Pos      Pos
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s %s: %s", d.Pos, d.Kind, d.Severity, d.Message)
}

// Status is the compile state machine: Compiling -> Warned -> Failed.
// Failed is sticky; diagnostics keep being collected after it.
type Status int

const (
	StatusCompiling Status = iota
	StatusWarned
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompiling:
		return "compiling"
	case StatusWarned:
		return "warned"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// List accumulates diagnostics in emission order.
type List struct {
	items  []Diagnostic
	status Status
}

func (l *List) Add(d Diagnostic) {
	l.items = append(l.items, d)
	switch d.Severity {
	case Error:
		l.status = StatusFailed
	case Warning:
		if l.status == StatusCompiling {
			l.status = StatusWarned
		}
	}
}

func (l *List) Errorf(kind Kind, pos Pos, format string, args ...any) {
	l.Add(Diagnostic{Severity: Error, Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (l *List) Warnf(kind Kind, pos Pos, format string, args ...any) {
	l.Add(Diagnostic{Severity: Warning, Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// Merge appends every diagnostic of o, replaying the state transitions.
func (l *List) Merge(o List) {
	for _, d := range o.items {
		l.Add(d)
	}
}

func (l List) Items() []Diagnostic {
	out := make([]Diagnostic, len(l.items))
	copy(out, l.items)
	return out
}

func (l List) Len() int       { return len(l.items) }
func (l List) Status() Status { return l.status }
func (l List) HasErrors() bool {
	return l.status == StatusFailed
}

func (l List) Count(sev Severity) int {
	n := 0
	for _, d := range l.items {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

func (l List) String() string {
	var b strings.Builder
	for i, d := range l.items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(d.String())
	}
	return b.String()
}

// Package value is the dynamically typed value model shared by the compiler
// (constant folding of declarations) and the runtime evaluator.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindList
	KindDivert
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDivert:
		return "divert"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged union. The zero Value is void.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	l    List
}

var Void = Value{}

func Int(n int64) Value       { return Value{kind: KindInt, i: n} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func DivertTo(p string) Value { return Value{kind: KindDivert, s: p} }
func FromList(l List) Value   { return Value{kind: KindList, l: l.normalized()} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsVoid() bool { return v.kind == KindVoid }
func (v Value) AsString() string {
	return v.s
}
func (v Value) AsList() List { return v.l }

// TargetPath returns the container path of a divert-target value.
func (v Value) TargetPath() (string, bool) {
	if v.kind != KindDivert {
		return "", false
	}
	return v.s, true
}

// AsInt coerces numeric kinds (bool counts as 0/1; floats truncate).
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt, KindBool:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	case KindList:
		if it, ok := v.l.Max(); ok {
			return int64(it.Value), true
		}
		return 0, true
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt, KindBool:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt, KindBool:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.l.Items) > 0
	case KindDivert:
		return true
	}
	return false
}

// String renders the value the way it appears in story output.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindString:
		return v.s
	case KindList:
		return v.l.String()
	case KindDivert:
		return v.s
	}
	return ""
}

// GoString is used in diagnostics and test failures.
func (v Value) GoString() string {
	return fmt.Sprintf("%s(%s)", v.kind, v.String())
}

type wireValue struct {
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	// NaN and the infinities have no JSON number form.
	NonFinite *string `json:"nonfinite,omitempty"`
	Bool      *bool   `json:"bool,omitempty"`
	Str       *string `json:"str,omitempty"`
	Divert    *string `json:"divert,omitempty"`
	List      *List   `json:"list,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var w wireValue
	switch v.kind {
	case KindInt:
		n := v.i
		w.Int = &n
	case KindFloat:
		f := v.f
		if math.IsNaN(f) || math.IsInf(f, 0) {
			s := strconv.FormatFloat(f, 'g', -1, 64)
			w.NonFinite = &s
			break
		}
		w.Float = &f
	case KindBool:
		b := v.i != 0
		w.Bool = &b
	case KindString:
		s := v.s
		w.Str = &s
	case KindDivert:
		s := v.s
		w.Divert = &s
	case KindList:
		l := v.l
		w.List = &l
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var w wireValue
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.Int != nil:
		*v = Int(*w.Int)
	case w.Float != nil:
		*v = Float(*w.Float)
	case w.NonFinite != nil:
		f, err := strconv.ParseFloat(*w.NonFinite, 64)
		if err != nil {
			return fmt.Errorf("value: bad non-finite float %q", *w.NonFinite)
		}
		*v = Float(f)
	case w.Bool != nil:
		*v = Bool(*w.Bool)
	case w.Str != nil:
		*v = String(*w.Str)
	case w.Divert != nil:
		*v = DivertTo(*w.Divert)
	case w.List != nil:
		*v = FromList(*w.List)
	default:
		*v = Void
	}
	return nil
}

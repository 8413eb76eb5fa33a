package value

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrType         = errors.New("type mismatch")
	ErrDivideByZero = errors.New("divide by zero")
	ErrUnknownOp    = errors.New("unknown operator")
)

// Binary operators understood by Binary.
const (
	OpAdd       = "+"
	OpSub       = "-"
	OpMul       = "*"
	OpDiv       = "/"
	OpMod       = "%"
	OpEq        = "=="
	OpNe        = "!="
	OpLt        = "<"
	OpLe        = "<="
	OpGt        = ">"
	OpGe        = ">="
	OpAnd       = "&&"
	OpOr        = "||"
	OpHas       = "?"
	OpHasnt     = "!?"
	OpIntersect = "^"
)

// Unary operators understood by Unary.
const (
	OpNeg = "neg"
	OpNot = "!"
)

func typeErr(op string, a, b Value) error {
	return fmt.Errorf("%w: %s %s %s", ErrType, a.kind, op, b.kind)
}

// Binary applies op with the fixed coercion order: logic operators on
// truthiness, lists, divert targets, strings, then numeric promotion
// (bool -> int -> float).
func Binary(op string, a, b Value) (Value, error) {
	switch op {
	case OpAnd:
		return Bool(a.Truthy() && b.Truthy()), nil
	case OpOr:
		return Bool(a.Truthy() || b.Truthy()), nil
	}

	if a.kind == KindList || b.kind == KindList {
		return listBinary(op, a, b)
	}
	if a.kind == KindDivert || b.kind == KindDivert {
		if a.kind != b.kind {
			if op == OpNe {
				return Bool(true), nil
			}
			if op == OpEq {
				return Bool(false), nil
			}
			return Void, typeErr(op, a, b)
		}
		switch op {
		case OpEq:
			return Bool(a.s == b.s), nil
		case OpNe:
			return Bool(a.s != b.s), nil
		}
		return Void, typeErr(op, a, b)
	}
	if a.kind == KindString || b.kind == KindString {
		as, bs := a.String(), b.String()
		switch op {
		case OpAdd:
			return String(as + bs), nil
		case OpEq:
			return Bool(as == bs), nil
		case OpNe:
			return Bool(as != bs), nil
		case OpHas:
			return Bool(strings.Contains(as, bs)), nil
		case OpHasnt:
			return Bool(!strings.Contains(as, bs)), nil
		}
		return Void, typeErr(op, a, b)
	}
	if a.kind == KindVoid || b.kind == KindVoid {
		return Void, typeErr(op, a, b)
	}

	if a.kind == KindFloat || b.kind == KindFloat {
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		return floatBinary(op, x, y)
	}
	x, _ := a.AsInt()
	y, _ := b.AsInt()
	return intBinary(op, x, y)
}

func intBinary(op string, x, y int64) (Value, error) {
	switch op {
	case OpAdd:
		return Int(x + y), nil
	case OpSub:
		return Int(x - y), nil
	case OpMul:
		return Int(x * y), nil
	case OpDiv:
		if y == 0 {
			return Void, ErrDivideByZero
		}
		return Int(x / y), nil
	case OpMod:
		if y == 0 {
			return Void, ErrDivideByZero
		}
		return Int(x % y), nil
	case OpEq:
		return Bool(x == y), nil
	case OpNe:
		return Bool(x != y), nil
	case OpLt:
		return Bool(x < y), nil
	case OpLe:
		return Bool(x <= y), nil
	case OpGt:
		return Bool(x > y), nil
	case OpGe:
		return Bool(x >= y), nil
	}
	return Void, fmt.Errorf("%w: %q on int", ErrUnknownOp, op)
}

func floatBinary(op string, x, y float64) (Value, error) {
	switch op {
	case OpAdd:
		return Float(x + y), nil
	case OpSub:
		return Float(x - y), nil
	case OpMul:
		return Float(x * y), nil
	case OpDiv:
		if y == 0 {
			return Void, ErrDivideByZero
		}
		return Float(x / y), nil
	case OpMod:
		if y == 0 {
			return Void, ErrDivideByZero
		}
		return Float(math.Mod(x, y)), nil
	case OpEq:
		return Bool(x == y), nil
	case OpNe:
		return Bool(x != y), nil
	case OpLt:
		return Bool(x < y), nil
	case OpLe:
		return Bool(x <= y), nil
	case OpGt:
		return Bool(x > y), nil
	case OpGe:
		return Bool(x >= y), nil
	}
	return Void, fmt.Errorf("%w: %q on float", ErrUnknownOp, op)
}

func listBinary(op string, a, b Value) (Value, error) {
	if a.kind != KindList || b.kind != KindList {
		switch op {
		case OpEq:
			return Bool(false), nil
		case OpNe:
			return Bool(true), nil
		}
		return Void, typeErr(op, a, b)
	}
	x, y := a.l, b.l
	switch op {
	case OpAdd:
		return FromList(x.Union(y)), nil
	case OpSub:
		return FromList(x.Without(y)), nil
	case OpIntersect:
		return FromList(x.Intersect(y)), nil
	case OpHas:
		return Bool(x.Contains(y)), nil
	case OpHasnt:
		return Bool(!x.Contains(y)), nil
	case OpEq:
		return Bool(x.Equal(y)), nil
	case OpNe:
		return Bool(!x.Equal(y)), nil
	}

	xmin, okx := x.Min()
	ymin, oky := y.Min()
	if !okx || !oky {
		return Bool(false), nil
	}
	xmax, _ := x.Max()
	ymax, _ := y.Max()
	switch op {
	case OpGt:
		return Bool(xmin.Value > ymax.Value), nil
	case OpLt:
		return Bool(xmax.Value < ymin.Value), nil
	case OpGe:
		return Bool(xmin.Value >= ymin.Value && xmax.Value >= ymax.Value), nil
	case OpLe:
		return Bool(xmax.Value <= ymax.Value && xmin.Value <= ymin.Value), nil
	}
	return Void, typeErr(op, a, b)
}

func Unary(op string, a Value) (Value, error) {
	switch op {
	case OpNot:
		return Bool(!a.Truthy()), nil
	case OpNeg:
		switch a.kind {
		case KindInt, KindBool:
			return Int(-a.i), nil
		case KindFloat:
			return Float(-a.f), nil
		}
		return Void, fmt.Errorf("%w: -%s", ErrType, a.kind)
	}
	return Void, fmt.Errorf("%w: unary %q", ErrUnknownOp, op)
}

// Equal is structural equality used by tests and snapshot comparison.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindList:
		return a.l.Equal(b.l)
	case KindFloat:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	default:
		return a.i == b.i && a.s == b.s
	}
}

package graph

import (
	"encoding/json"
	"errors"
)

type elementWire struct {
	Instruction
	C *Container `json:"c,omitempty"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	if e.Container != nil {
		return json.Marshal(elementWire{C: e.Container})
	}
	if e.Instr == nil {
		return nil, errors.New("graph: empty element")
	}
	return json.Marshal(elementWire{Instruction: *e.Instr})
}

func (e *Element) UnmarshalJSON(b []byte) error {
	var w elementWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.C != nil {
		*e = Element{Container: w.C}
		return nil
	}
	if w.Op == "" {
		return errors.New("graph: element without op")
	}
	in := w.Instruction
	*e = Element{Instr: &in}
	return nil
}

// Instr is a convenience constructor used by the compiler and tests.
func Instr(op Opcode) Element { return Element{Instr: &Instruction{Op: op}} }

func Sub(c *Container) Element { return Element{Container: c} }

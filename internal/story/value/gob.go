package value

import "encoding/json"

// Values travel through gob (snapshot files) in their JSON wire form.

func (v Value) GobEncode() ([]byte, error) { return v.MarshalJSON() }

func (v *Value) GobDecode(b []byte) error { return v.UnmarshalJSON(b) }

var _ json.Marshaler = Value{}

package graph

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed graph.schema.json
var schemaJSON string

var (
	ErrUnsupportedVersion = errors.New("unsupported graph version")
	ErrInvalidGraph       = errors.New("invalid graph document")
)

// UnsupportedVersionError is returned before any decoding happens when the
// document header names a format or version this build cannot run.
type UnsupportedVersionError struct {
	Format  string
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("graph: unsupported format %q version %d (want %q version %d)", e.Format, e.Version, FormatTag, Version)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

type header struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("graph.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// SchemaJSON exposes the embedded document schema (tooling, tests).
func SchemaJSON() string { return schemaJSON }

// Encode produces the canonical byte form. encoding/json sorts map keys, so
// equal graphs always encode to equal bytes.
func Encode(s *Story) ([]byte, error) {
	return json.Marshal(s)
}

// CheckHeader validates only the format tag and version.
func CheckHeader(data []byte) error {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if h.Format != FormatTag || h.Version != Version {
		return &UnsupportedVersionError{Format: h.Format, Version: h.Version}
	}
	return nil
}

// Decode checks the header, validates the document against the schema, then
// decodes and links it.
func Decode(data []byte) (*Story, error) {
	if err := CheckHeader(data); err != nil {
		return nil, err
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	var s Story
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if err := Link(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return &s, nil
}

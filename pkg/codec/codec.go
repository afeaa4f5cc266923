// Package codec converts exchange state to and from its persisted text form.
//
// Numbers are decoded as json.Number so integers wider than 53 bits (token
// balances) survive a round trip without losing precision.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"sponsorcoin/pkg/models"
)

// SchemaVersion is bumped whenever the persisted layout changes incompatibly.
const SchemaVersion = 1

// ErrSchemaVersion means the persisted text was written by an incompatible version.
var ErrSchemaVersion = errors.New("persisted state has an incompatible schema version")

// ParseError reports text that is not a valid encoding.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("parse error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type envelope struct {
	Version int                  `json:"version"`
	State   models.ExchangeState `json:"state"`
}

// Encode writes any JSON-compatible value.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode is the inverse of Encode. Objects decode to map[string]any, arrays to
// []any and numbers to json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, toParseError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Offset: dec.InputOffset(), Err: errors.New("trailing data after value")}
	}
	return v, nil
}

func toParseError(err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &ParseError{Offset: syn.Offset, Err: err}
	}
	if errors.Is(err, io.EOF) {
		return &ParseError{Err: io.ErrUnexpectedEOF}
	}
	return &ParseError{Err: err}
}

// Serialize produces the persisted text for s.
func Serialize(s models.ExchangeState) ([]byte, error) {
	return json.Marshal(envelope{Version: SchemaVersion, State: s})
}

// Deserialize returns the raw state object stored in data. The result is
// unvalidated and should be passed through the sanitizer.
func Deserialize(data []byte) (map[string]any, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("expected object, got %T", v)}
	}
	version, ok := obj["version"].(json.Number)
	if !ok {
		return nil, &ParseError{Err: errors.New("missing version")}
	}
	if n, err := version.Int64(); err != nil || n != SchemaVersion {
		return nil, fmt.Errorf("%w: %s", ErrSchemaVersion, version)
	}
	state, ok := obj["state"].(map[string]any)
	if !ok {
		return nil, &ParseError{Err: errors.New("missing state object")}
	}
	return state, nil
}

// ToRaw converts s to the generic form the sanitizer consumes.
func ToRaw(s models.ExchangeState) (map[string]any, error) {
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(map[string]any)
	return obj, nil
}

// Package record is the versioned envelope every persisted gallery value is
// wrapped in.
//
// Values are stored as {"v":N,"kind":"...","data":...}. Decode validates both
// fields; callers treat any error as "absent" rather than propagating it.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the current schema version for every kind.
const Version = 1

var (
	ErrKindMismatch    = errors.New("record kind mismatch")
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrCorrupt         = errors.New("corrupt record")
)

type envelope struct {
	V    int             `json:"v"`
	Kind string          `json:"kind"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps v in an envelope of the given kind.
func Encode(kind string, v any) (string, error) {
	return EncodeSeq(kind, 0, v)
}

// EncodeSeq is Encode with an ordering sequence number persisted alongside.
func EncodeSeq(kind string, seq uint64, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	out, err := json.Marshal(envelope{V: Version, Kind: kind, Seq: seq, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s envelope: %w", kind, err)
	}
	return string(out), nil
}

// Decode unwraps raw into v, checking kind and version.
func Decode(raw, kind string, v any) error {
	_, err := DecodeSeq(raw, kind, v)
	return err
}

// DecodeSeq is Decode that also returns the persisted sequence number.
func DecodeSeq(raw, kind string, v any) (uint64, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if env.Kind != kind {
		return 0, fmt.Errorf("%w: want %q, got %q", ErrKindMismatch, kind, env.Kind)
	}
	if env.V != Version {
		return 0, fmt.Errorf("%w: want %d, got %d", ErrVersionMismatch, Version, env.V)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return env.Seq, nil
}

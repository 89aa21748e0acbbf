package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Wire field names.
const (
	FieldType      = "type"
	FieldRequestID = "requestId"
)

// Errors
var (
	ErrMalformed       = errors.New("malformed frame")
	ErrNotObject       = errors.New("message must encode to a JSON object")
	ErrNoExpectedTypes = errors.New("no expected response types")
)

// Frame is a validated inbound JSON object.
type Frame struct {
	Type      string          // "" when the frame carries no type
	RequestID string          // "" when the frame carries no requestId
	Raw       json.RawMessage // Full frame as received
}

// Decode validates raw socket data and extracts the routing envelope.
// The data must be a JSON object; "type" must be a string when present.
// A numeric "requestId" is accepted and kept in its literal form.
func Decode(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	f := Frame{Raw: bytes.Clone(data)}

	if raw, ok := fields[FieldType]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &f.Type); err != nil {
			return Frame{}, fmt.Errorf("%w: type is not a string", ErrMalformed)
		}
	}

	if raw, ok := fields[FieldRequestID]; ok && !isNull(raw) {
		id, err := requestIDString(raw)
		if err != nil {
			return Frame{}, err
		}
		f.RequestID = id
	}

	return f, nil
}

// Unmarshal decodes the full frame into v.
func (f Frame) Unmarshal(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// Field returns the raw value of a top-level field.
func (f Frame) Field(name string) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(f.Raw, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[name]
	return v, ok
}

// As decodes a frame into a typed response.
func As[T any](f Frame) (T, error) {
	var v T
	if err := f.Unmarshal(&v); err != nil {
		return v, fmt.Errorf("decode %q frame: %w", f.Type, err)
	}
	return v, nil
}

// Stamp serializes an outbound message and injects a requestId.
//
// With overwrite set, id always replaces any caller-supplied value. Without it,
// an existing non-empty string requestId is kept. Returns the encoded frame and
// the effective request id.
func Stamp(msg any, id string, overwrite bool) ([]byte, string, error) {
	var raw []byte
	switch m := msg.(type) {
	case json.RawMessage:
		raw = m
	case []byte:
		raw = m
	default:
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, "", fmt.Errorf("encode message: %w", err)
		}
		raw = b
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, "", ErrNotObject
	}

	if !overwrite {
		if existing, ok := fields[FieldRequestID]; ok {
			var s string
			if json.Unmarshal(existing, &s) == nil && s != "" {
				return raw, s, nil
			}
		}
	}

	encodedID, err := json.Marshal(id)
	if err != nil {
		return nil, "", fmt.Errorf("encode request id: %w", err)
	}
	fields[FieldRequestID] = encodedID

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, "", fmt.Errorf("encode message: %w", err)
	}
	return out, id, nil
}

// ParseExpectedTypes splits a pipe-delimited type list ("A|B") into an
// ordered set. Blank entries and duplicates are dropped.
func ParseExpectedTypes(expected string) ([]string, error) {
	parts := strings.Split(expected, "|")
	types := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		types = append(types, p)
	}
	if len(types) == 0 {
		return nil, ErrNoExpectedTypes
	}
	return types, nil
}

// NewRequestID returns a fresh unique request id.
func NewRequestID() string {
	return uuid.NewString()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func requestIDString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: requestId is not a string", ErrMalformed)
}

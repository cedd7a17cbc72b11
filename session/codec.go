// Codec defines how session records are serialized to and from bytes,
// allowing them to be stored as text by a Store. The package includes a
// default implementation using `encoding/json`.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned when a stored payload cannot be decoded. It is
// never reported as a missing session.
var ErrMalformed = errors.New("session: malformed payload")

// Codec is an interface for serializing and deserializing session records.
type Codec interface {
	// Decode decodes a byte slice into a session record. A payload that
	// holds no record decodes to nil without an error.
	Decode(data []byte) (*Record, error)

	// Encode encodes a session record into a byte slice.
	Encode(rec *Record) ([]byte, error)
}

// Ensure JSONCodec implements Codec.
var _ Codec = JSONCodec{}

// JSONCodec is a Codec implementation using encoding/json. Its output is
// deterministic: map keys are written in sorted order. Numbers in Values
// decode as json.Number so integers beyond 2^53 keep their precision.
type JSONCodec struct{}

// Encode serializes the record as a JSON object.
func (JSONCodec) Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, errors.New("session: cannot encode nil record")
	}
	return json.Marshal(rec)
}

// Decode deserializes a JSON object into a record. The JSON literal null
// decodes to a nil record with no error, which stores report as not found.
// Any bytes after the value are rejected.
func (JSONCodec) Decode(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec *Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after record", ErrMalformed)
	}
	return rec, nil
}

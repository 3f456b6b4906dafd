// Package envelope defines the {status, message, data} response shape every backend
// call is normalized into, and the mapping of transport failures onto it.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Messages shown to users for failures this package produces.
const (
	ReauthMessage      = "Refresh the page or login again."
	InvalidBodyMessage = "Invalid response from server."
	unknownMessage     = "Unknown error."
)

// Envelope is the uniform response wrapper. A false Status always carries a Message.
type Envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// Raw is an envelope whose payload has not been decoded yet.
type Raw Envelope[json.RawMessage]

// Err returns nil for a successful envelope and the message as an error otherwise.
func (e Raw) Err() error {
	return Envelope[json.RawMessage](e).Err()
}

// Failure builds a failed envelope.
func Failure(message string) Raw {
	if message == "" {
		message = unknownMessage
	}
	return Raw{Status: false, Message: message}
}

// Reauth is the envelope returned when no valid credential could be obtained.
func Reauth() Raw {
	return Failure(ReauthMessage)
}

// HasData reports whether the envelope carries a non-null payload.
func (e Raw) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Into decodes the payload of raw into T. Failed envelopes keep their message and
// carry the zero T.
func Into[T any](raw Raw) (Envelope[T], error) {
	out := Envelope[T]{Status: raw.Status, Message: raw.Message}
	if !raw.Status || !raw.HasData() {
		return out, nil
	}
	if err := json.Unmarshal(raw.Data, &out.Data); err != nil {
		return Envelope[T]{Status: false, Message: InvalidBodyMessage}, fmt.Errorf("decode envelope data: %w", err)
	}
	return out, nil
}

// Err returns nil for a successful envelope and the message as an error otherwise.
func (e Envelope[T]) Err() error {
	if e.Status {
		return nil
	}
	return &Error{Message: e.Message}
}

// Error is a failed envelope seen as a Go error.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnknownSender is used when an inbound envelope carries no sender.
const UnknownSender = "unknown"

// Envelope is the wire representation of one chat message exchanged over
// the broker.
type Envelope struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Encode renders the envelope as JSON. Both fields are always present.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("models: encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an inbound payload. Only payloads that are not a
// JSON object fail; missing or null fields fall back to UnknownSender and
// the empty message, and non-string values are kept as their JSON text.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, fmt.Errorf("models: decode envelope: %w", err)
	}

	env := Envelope{Sender: UnknownSender}
	if s, ok := fieldText(raw["sender"]); ok {
		env.Sender = s
	}
	if s, ok := fieldText(raw["message"]); ok {
		env.Message = s
	}
	return env, nil
}

// fieldText returns the textual value of a raw JSON field. Absent and null
// fields report false.
func fieldText(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v), true
	}
	return buf.String(), true
}

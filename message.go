package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InboundMessage is the decoded form of a device publication. Payload holds
// the exact byte substring carved from the raw message; those bytes are the
// authoritative signed region and are never re-serialized.
type InboundMessage struct {
	DeviceID  string
	Timestamp int64
	MessageID string
	Payload   json.RawMessage
	Signature string
}

// OutboundCommand is a backend-originated command as published to the device.
// The target device is implied by the publication topic, so no device
// identifier is carried in the message or its signed region.
type OutboundCommand struct {
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

const signatureHexLen = 64

// rawInbound mirrors the on-wire object with pointer fields so that missing
// keys are distinguishable from zero values.
type rawInbound struct {
	DeviceID  *string          `json:"device_id"`
	Timestamp *int64           `json:"timestamp"`
	MessageID *string          `json:"message_id"`
	Payload   *json.RawMessage `json:"payload"`
	Signature *string          `json:"signature"`
}

// decodeInbound parses raw as the strict five-field schema. Unknown fields are
// rejected so they cannot be silently excluded from the signed region. All
// returned errors match ErrMalformed.
func decodeInbound(raw []byte) (InboundMessage, error) {
	var m rawInbound
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// Reject trailing data after the top-level object.
	if dec.More() {
		return InboundMessage{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}

	switch {
	case m.DeviceID == nil || *m.DeviceID == "":
		return InboundMessage{}, fmt.Errorf("%w: missing device_id", ErrMalformed)
	case m.Timestamp == nil:
		return InboundMessage{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	case m.MessageID == nil || *m.MessageID == "":
		return InboundMessage{}, fmt.Errorf("%w: missing message_id", ErrMalformed)
	case m.Payload == nil:
		return InboundMessage{}, fmt.Errorf("%w: missing payload", ErrMalformed)
	case m.Signature == nil:
		return InboundMessage{}, fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	if !isJSONObject(*m.Payload) {
		return InboundMessage{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	if !isLowerHex(*m.Signature) {
		return InboundMessage{}, fmt.Errorf("%w: signature is not %d lowercase hex characters", ErrMalformed, signatureHexLen)
	}

	return InboundMessage{
		DeviceID:  *m.DeviceID,
		Timestamp: *m.Timestamp,
		MessageID: *m.MessageID,
		Payload:   *m.Payload,
		Signature: *m.Signature,
	}, nil
}

// isJSONObject reports whether raw is a JSON object, not a scalar, array, or null.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isLowerHex(s string) bool {
	if len(s) != signatureHexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

package gateway

import (
	"errors"
	"fmt"
	"testing"
)

func validRawMessage() []byte {
	return []byte(`{"device_id":"sensor_001","timestamp":1727712000,"message_id":"550e8400-e29b-41d4-a716-446655440000","payload":{"temperature":22.5,"humidity":60},"signature":"` + dummySig() + `"}`)
}

func dummySig() string {
	return "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
}

func TestDecodeInbound_Valid(t *testing.T) {
	msg, err := decodeInbound(validRawMessage())
	if err != nil {
		t.Fatalf("decodeInbound failed: %v", err)
	}
	if msg.DeviceID != "sensor_001" {
		t.Errorf("device_id = %q", msg.DeviceID)
	}
	if msg.Timestamp != 1727712000 {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
	if msg.MessageID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("message_id = %q", msg.MessageID)
	}
	if string(msg.Payload) != `{"temperature":22.5,"humidity":60}` {
		t.Errorf("payload = %s", msg.Payload)
	}
}

// The payload bytes must be carved from the raw message verbatim: key order
// and whitespace inside the payload region belong to the sender and are part
// of the signed region.
func TestDecodeInbound_PayloadBytesPreserved(t *testing.T) {
	raw := []byte(`{"device_id":"d1","timestamp":1,"message_id":"m1","payload":{"b": 2, "a": 1.50},"signature":"` + dummySig() + `"}`)
	msg, err := decodeInbound(raw)
	if err != nil {
		t.Fatalf("decodeInbound failed: %v", err)
	}
	if string(msg.Payload) != `{"b": 2, "a": 1.50}` {
		t.Fatalf("payload bytes not preserved: %s", msg.Payload)
	}
}

func TestDecodeInbound_Malformed(t *testing.T) {
	sig := dummySig()
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"array", `[1,2,3]`},
		{"scalar", `42`},
		{"empty object", `{}`},
		{"missing device_id", fmt.Sprintf(`{"timestamp":1,"message_id":"m","payload":{},"signature":"%s"}`, sig)},
		{"empty device_id", fmt.Sprintf(`{"device_id":"","timestamp":1,"message_id":"m","payload":{},"signature":"%s"}`, sig)},
		{"missing timestamp", fmt.Sprintf(`{"device_id":"d","message_id":"m","payload":{},"signature":"%s"}`, sig)},
		{"float timestamp", fmt.Sprintf(`{"device_id":"d","timestamp":1.5,"message_id":"m","payload":{},"signature":"%s"}`, sig)},
		{"string timestamp", fmt.Sprintf(`{"device_id":"d","timestamp":"1","message_id":"m","payload":{},"signature":"%s"}`, sig)},
		{"missing message_id", fmt.Sprintf(`{"device_id":"d","timestamp":1,"payload":{},"signature":"%s"}`, sig)},
		{"missing payload", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","signature":"%s"}`, sig)},
		{"scalar payload", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","payload":7,"signature":"%s"}`, sig)},
		{"array payload", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","payload":[1],"signature":"%s"}`, sig)},
		{"null payload", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","payload":null,"signature":"%s"}`, sig)},
		{"missing signature", `{"device_id":"d","timestamp":1,"message_id":"m","payload":{}}`},
		{"short signature", `{"device_id":"d","timestamp":1,"message_id":"m","payload":{},"signature":"abcd"}`},
		{"uppercase signature", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","payload":{},"signature":"%s"}`, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")},
		{"unknown field", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","payload":{},"signature":"%s","extra":1}`, sig)},
		{"trailing data", fmt.Sprintf(`{"device_id":"d","timestamp":1,"message_id":"m","payload":{},"signature":"%s"}{}`, sig)},
	}
	for _, tc := range cases {
		_, err := decodeInbound([]byte(tc.raw))
		if err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
			continue
		}
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", tc.name, err)
		}
	}
}

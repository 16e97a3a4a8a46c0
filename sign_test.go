package gateway

import (
	"strings"
	"testing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	secret := []byte("supersecretkey123")
	payload := []byte(`{"temperature":22.5,"humidity":60}`)

	sig := Sign("sensor_001", 1727712000, "550e8400-e29b-41d4-a716-446655440000", payload, secret)

	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if sig != strings.ToLower(sig) {
		t.Fatalf("signature not lowercase: %s", sig)
	}
	if !Verify("sensor_001", 1727712000, "550e8400-e29b-41d4-a716-446655440000", payload, secret, sig) {
		t.Fatal("round-trip verification failed")
	}
}

func TestVerify_TamperDetection(t *testing.T) {
	secret := []byte("supersecretkey123")
	payload := []byte(`{"temperature":22.5,"humidity":60}`)
	sig := Sign("sensor_001", 1727712000, "msg-1", payload, secret)

	cases := []struct {
		name      string
		deviceID  string
		timestamp int64
		messageID string
		payload   []byte
	}{
		{"device_id changed", "sensor_002", 1727712000, "msg-1", payload},
		{"timestamp changed", "sensor_001", 1727712001, "msg-1", payload},
		{"message_id changed", "sensor_001", 1727712000, "msg-2", payload},
		{"payload changed", "sensor_001", 1727712000, "msg-1", []byte(`{"temperature":99.9,"humidity":60}`)},
	}
	for _, tc := range cases {
		if Verify(tc.deviceID, tc.timestamp, tc.messageID, tc.payload, secret, sig) {
			t.Errorf("%s: tampered input verified", tc.name)
		}
	}

	if Verify("sensor_001", 1727712000, "msg-1", payload, []byte("anothersecretkey1"), sig) {
		t.Error("wrong key verified")
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	secret := []byte("supersecretkey123")
	payload := []byte(`{"a":1}`)

	for _, sig := range []string{
		"",
		"abcd",
		strings.Repeat("g", 64),
		strings.Repeat("ab", 31),
		strings.Repeat("ab", 33),
	} {
		if Verify("dev", 1, "m", payload, secret, sig) {
			t.Errorf("signature %q verified", sig)
		}
	}
}

// Commands omit the device identifier from the signed region; a tag computed
// without it must not verify against a region that includes it, and vice versa.
func TestSign_CommandRegionAsymmetry(t *testing.T) {
	secret := []byte("supersecretkey123")
	payload := []byte(`{"action":"reboot"}`)

	cmdSig := Sign("", 1727712000, "msg-1", payload, secret)
	dataSig := Sign("sensor_001", 1727712000, "msg-1", payload, secret)

	if cmdSig == dataSig {
		t.Fatal("command and data signatures must differ")
	}
	if !Verify("", 1727712000, "msg-1", payload, secret, cmdSig) {
		t.Fatal("command signature failed to verify without device_id")
	}
	if Verify("sensor_001", 1727712000, "msg-1", payload, secret, cmdSig) {
		t.Fatal("command signature verified with device_id in the region")
	}
}

// The timestamp is signed as its decimal representation without padding;
// boundary values must survive the round trip.
func TestSign_TimestampFormats(t *testing.T) {
	secret := []byte("supersecretkey123")
	payload := []byte(`{}`)

	for _, ts := range []int64{0, 1, -1, 1727712000, 9999999999} {
		sig := Sign("dev", ts, "m", payload, secret)
		if !Verify("dev", ts, "m", payload, secret, sig) {
			t.Errorf("timestamp %d failed round trip", ts)
		}
	}
}

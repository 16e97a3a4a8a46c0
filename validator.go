package gateway

import (
	"encoding/json"
	"fmt"
)

// Outcome is the result of a successful validation: the authenticated device
// and the payload bytes exactly as the device serialized them.
type Outcome struct {
	DeviceID string
	Payload  json.RawMessage
}

// Validator binds transport identity to application identity and enforces the
// per-message policy. Checks run in a fixed order and the first failure wins:
//
//  1. parse and strict schema          -> ErrMalformed
//  2. device_id == transport identity  -> ErrIdentityMismatch
//  3. |now - timestamp| <= skew budget -> ErrStaleTimestamp
//  4. replay check-and-add             -> ErrReplayDetected
//  5. credential lookup + MAC          -> ErrUnknownDevice | ErrBadSignature
//
// Structural checks come first because they are cheapest. Freshness precedes
// replay so stale messages never occupy cache entries. The signature check is
// last: it is the most expensive and needs a secret lookup. The replay entry
// is recorded before signature verification, so a message that later fails
// the MAC still burns its message_id; resubmitting the original bytes is then
// rejected as a replay. That trades one cheap cache entry for never verifying
// the same identifier twice, which bounds CPU cost under attack.
type Validator struct {
	creds *CredentialStore
	cache *ReplayCache
	clock Clock
	skew  int64
}

// NewValidator wires a validator over the given collaborators. skewSeconds is
// the freshness tolerance applied symmetrically around the clock reading.
func NewValidator(creds *CredentialStore, cache *ReplayCache, clock Clock, skewSeconds int64) *Validator {
	return &Validator{creds: creds, cache: cache, clock: clock, skew: skewSeconds}
}

// Validate runs the five checks against raw as received from the session
// identified by tlsIdentity. On success the replay cache holds exactly one
// new entry for the message; on any failure the cache and downstream are
// untouched by this message (except the documented replay-before-signature
// entry).
func (v *Validator) Validate(tlsIdentity string, raw []byte) (Outcome, error) {
	msg, err := decodeInbound(raw)
	if err != nil {
		return Outcome{}, err
	}

	if msg.DeviceID != tlsIdentity {
		return Outcome{}, fmt.Errorf("%w: claimed %q over session %q", ErrIdentityMismatch, msg.DeviceID, tlsIdentity)
	}

	delta := msg.Timestamp - v.clock.Now()
	if delta > v.skew || delta < -v.skew {
		return Outcome{}, fmt.Errorf("%w: delta %+d exceeds budget %d", ErrStaleTimestamp, delta, v.skew)
	}

	if !v.cache.CheckAndAdd(msg.DeviceID, msg.MessageID) {
		return Outcome{}, fmt.Errorf("%w: message_id %q", ErrReplayDetected, msg.MessageID)
	}

	secret, ok := v.creds.Lookup(msg.DeviceID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownDevice, msg.DeviceID)
	}
	if !Verify(msg.DeviceID, msg.Timestamp, msg.MessageID, msg.Payload, secret, msg.Signature) {
		return Outcome{}, fmt.Errorf("%w: device %q message %q", ErrBadSignature, msg.DeviceID, msg.MessageID)
	}

	return Outcome{DeviceID: msg.DeviceID, Payload: msg.Payload}, nil
}

package gateway

import "sync/atomic"

// Metrics holds the gateway's atomic counters. No lock is taken on the hot
// path; counters are incremented independently of the replay cache mutex.
type Metrics struct {
	accepted          atomic.Uint64
	malformed         atomic.Uint64
	identityMismatch  atomic.Uint64
	stale             atomic.Uint64
	replays           atomic.Uint64
	unknownDevice     atomic.Uint64
	badSignature      atomic.Uint64
	forwarded         atomic.Uint64
	forwardErrors     atomic.Uint64
	backendErrors     atomic.Uint64
	commandsPublished atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Accepted          uint64
	Malformed         uint64
	IdentityMismatch  uint64
	Stale             uint64
	Replays           uint64
	UnknownDevice     uint64
	BadSignature      uint64
	Forwarded         uint64
	ForwardErrors     uint64
	BackendErrors     uint64
	CommandsPublished uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Accepted:          m.accepted.Load(),
		Malformed:         m.malformed.Load(),
		IdentityMismatch:  m.identityMismatch.Load(),
		Stale:             m.stale.Load(),
		Replays:           m.replays.Load(),
		UnknownDevice:     m.unknownDevice.Load(),
		BadSignature:      m.badSignature.Load(),
		Forwarded:         m.forwarded.Load(),
		ForwardErrors:     m.forwardErrors.Load(),
		BackendErrors:     m.backendErrors.Load(),
		CommandsPublished: m.commandsPublished.Load(),
	}
}

func (m *Metrics) countReject(reason string) {
	switch reason {
	case "malformed":
		m.malformed.Add(1)
	case "identity_mismatch":
		m.identityMismatch.Add(1)
	case "stale":
		m.stale.Add(1)
	case "replay":
		m.replays.Add(1)
	case "unknown_device":
		m.unknownDevice.Add(1)
	case "bad_signature":
		m.badSignature.Add(1)
	}
}

// Package gateway implements a security gateway bridging mutually-authenticated
// MQTT device fleets to a trusting HTTP backend.
package gateway

// Example: Gateway Deployment
//
// The gateway sits between a mutual-TLS MQTT broker and a backend that
// trusts it. Every device publication passes five checks before its payload
// is forwarded; the backend's answer is routed to the device's response
// topic, and the backend can push signed commands back through an HTTP
// endpoint.
//
// Validation order (first failure wins):
//   1. strict five-field schema      -> malformed
//   2. device_id == topic identity   -> identity_mismatch
//   3. |now - timestamp| <= budget   -> stale
//   4. (device_id, message_id) fresh -> replay
//   5. HMAC-SHA256 over signed bytes -> unknown_device | bad_signature
//
// Usage:
//   cfg, err := LoadConfig("/etc/gateway/config.yaml")
//   if err != nil {
//       log.Fatal().Err(err).Msg("bad configuration")
//   }
//
//   gw, err := New(cfg, log.Logger)
//   if err != nil {
//       log.Fatal().Err(err).Msg("startup failed")
//   }
//
//   ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//   defer stop()
//   if err := gw.Run(ctx); err != nil {
//       log.Fatal().Err(err).Msg("gateway exited")
//   }
//
// Broker contract:
//   - Devices connect with client certificates chaining to the configured CA.
//   - The broker's ACL allows a client whose certificate common name is <cn>
//     to publish only to device/<cn>/data and to subscribe only to
//     device/<cn>/response and device/<cn>/command. The topic's device
//     segment is therefore the transport identity the validator binds to
//     the claimed device_id.
//
// Operational notes:
//   - The replay cache is process-local. After a restart, previously seen
//     message identifiers become acceptable again; the freshness window
//     bounds re-admission to the skew budget, so an identifier older than
//     that cannot pass validation even if the cache forgot it.
//   - Commands are signed over decimal(timestamp) || message_id || payload,
//     without the device identifier. The device verifies with its own
//     identity implicitly. Data messages prepend device_id to that region.
//   - The devices table is read once at startup. Provisioning new devices
//     requires a restart.

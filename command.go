package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CommandServer accepts backend-originated commands over HTTP, signs them
// with the target device's secret, and hands them to the response router on
// the command topic.
type CommandServer struct {
	creds  *CredentialStore
	router *ResponseRouter
	clock  Clock
	token  []byte
	log    zerolog.Logger

	metrics *Metrics
	srv     *http.Server
}

// NewCommandServer wires the command endpoint. bearerToken is the shared
// secret the backend must present; it is compared in constant time.
func NewCommandServer(addr, bearerToken string, creds *CredentialStore, router *ResponseRouter, clock Clock, logger zerolog.Logger, metrics *Metrics) *CommandServer {
	s := &CommandServer{
		creds:   creds,
		router:  router,
		clock:   clock,
		token:   []byte(bearerToken),
		log:     logger,
		metrics: metrics,
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// SetupRoutes configures the HTTP routes for the command endpoint.
func (s *CommandServer) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/command/", s.HandleCommand)
}

// HandleCommand handles POST /command/{device_id}.
//
// Responses: 202 accepted, 400 malformed body, 401 bad auth, 404 unknown
// device, 502 publish failure. The signed region of the published command is
// decimal(timestamp) || message_id || payload; the device identifier is
// implied by the topic and not signed.
func (s *CommandServer) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/command/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, "Unknown device", http.StatusNotFound)
		return
	}
	secret, ok := s.creds.Lookup(deviceID)
	if !ok {
		http.Error(w, "Unknown device", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	// The command path serializes the payload locally and signs those same
	// bytes, so sender and signer can never disagree on the byte sequence.
	var payload bytes.Buffer
	if err := json.Compact(&payload, body); err != nil || !isJSONObject(payload.Bytes()) {
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	cmd := OutboundCommand{
		Timestamp: s.clock.Now(),
		MessageID: uuid.NewString(),
		Payload:   payload.Bytes(),
	}
	cmd.Signature = Sign("", cmd.Timestamp, cmd.MessageID, cmd.Payload, secret)

	data, err := json.Marshal(cmd)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if err := s.router.Command(deviceID, data); err != nil {
		s.log.Error().Err(err).Str("device", deviceID).Msg("command publish failed")
		http.Error(w, "Publish failed", http.StatusBadGateway)
		return
	}

	if s.metrics != nil {
		s.metrics.commandsPublished.Add(1)
	}
	s.log.Info().Str("device", deviceID).Str("message_id", cmd.MessageID).Msg("command published")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "accepted",
		"message_id": cmd.MessageID,
	})
}

func (s *CommandServer) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(presented), s.token)
}

// ListenAndServe starts the HTTP listener. It blocks until Shutdown or a
// listener failure.
func (s *CommandServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting new requests and waits for in-flight handlers.
func (s *CommandServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

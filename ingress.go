package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	dataTopicFilter = "device/+/data"

	// At-least-once on every topic; duplicates are handled by the replay
	// cache on ingress and tolerated on egress.
	mqttQoS byte = 1

	publishTimeout = 10 * time.Second

	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// IngressHandler receives one publication: the transport identity of the
// originating session and the raw message bytes, with no transformation.
type IngressHandler func(identity string, raw []byte)

// MQTTAdapter is the broker session. It subscribes to the device data topic
// over mutual TLS and surfaces (identity, raw bytes) tuples to the handler;
// it also serves as the Publisher for the response and command topics.
//
// The broker enforces mutual TLS and per-certificate topic ACLs: a client may
// publish to device/<cn>/data only when <cn> is its verified certificate
// common name. The device_id segment of the arrival topic is therefore the
// session's transport identity, and the adapter extracts it from the topic.
type MQTTAdapter struct {
	client  mqtt.Client
	log     zerolog.Logger
	handler IngressHandler

	mu         sync.Mutex
	subscribed bool
}

// NewMQTTAdapter builds the broker session from cfg. The session is not
// connected yet; call Connect.
func NewMQTTAdapter(cfg Config, logger zerolog.Logger, handler IngressHandler) (*MQTTAdapter, error) {
	tlsCfg, err := newMutualTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	a := &MQTTAdapter{log: logger, handler: handler}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.BrokerHost, cfg.BrokerPort)).
		SetClientID("secure-iot-gateway").
		SetTLSConfig(tlsCfg).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(backoffCap).
		SetOrderMatters(false).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			a.log.Warn().Err(err).Msg("broker connection lost, reconnecting")
		})

	a.client = mqtt.NewClient(opts)
	return a, nil
}

// Connect dials the broker, retrying with exponential backoff and full jitter
// until the connection is established or ctx is cancelled. Later connection
// losses are handled by the client's automatic reconnection.
func (a *MQTTAdapter) Connect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		token := a.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return nil
		}

		delay := backoffDelay(attempt)
		a.log.Warn().Err(err).Dur("retry_in", delay).Msg("broker connect failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Subscribe starts delivery from the data topic. After a reconnect the
// subscription is re-established automatically.
func (a *MQTTAdapter) Subscribe() error {
	a.mu.Lock()
	a.subscribed = true
	a.mu.Unlock()

	token := a.client.Subscribe(dataTopicFilter, mqttQoS, a.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", dataTopicFilter, err)
	}
	return nil
}

// Unsubscribe stops delivery of new publications; already-delivered messages
// continue through the pipeline.
func (a *MQTTAdapter) Unsubscribe() {
	a.mu.Lock()
	a.subscribed = false
	a.mu.Unlock()

	token := a.client.Unsubscribe(dataTopicFilter)
	token.WaitTimeout(publishTimeout)
}

// Publish sends payload to topic at-least-once.
func (a *MQTTAdapter) Publish(topic string, payload []byte) error {
	token := a.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish to %s timed out", ErrPublish, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

// Close disconnects from the broker after allowing queued traffic to flush.
func (a *MQTTAdapter) Close() {
	a.client.Disconnect(250)
}

func (a *MQTTAdapter) onConnect(_ mqtt.Client) {
	a.mu.Lock()
	resubscribe := a.subscribed
	a.mu.Unlock()
	if !resubscribe {
		return
	}
	token := a.client.Subscribe(dataTopicFilter, mqttQoS, a.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		a.log.Error().Err(err).Msg("resubscribe after reconnect failed")
	}
}

func (a *MQTTAdapter) onMessage(_ mqtt.Client, m mqtt.Message) {
	identity, ok := dataTopicIdentity(m.Topic())
	if !ok {
		a.log.Warn().Str("topic", m.Topic()).Msg("publication on unexpected topic")
		return
	}
	a.handler(identity, m.Payload())
}

// dataTopicIdentity extracts the device segment from device/<id>/data.
func dataTopicIdentity(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "device" || parts[2] != "data" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// newMutualTLSConfig builds the client TLS configuration: the trust anchor
// for the broker certificate and the gateway's own identity pair.
func newMutualTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client key pair: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// backoffDelay returns the full-jitter delay for the given attempt: a random
// duration in (0, min(base<<attempt, cap)].
func backoffDelay(attempt int) time.Duration {
	ceiling := backoffCap
	if attempt < 6 {
		if d := backoffBase << uint(attempt); d < ceiling {
			ceiling = d
		}
	}
	return time.Duration(rand.Int63n(int64(ceiling)) + 1)
}

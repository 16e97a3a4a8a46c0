package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// messageDeadline bounds one publication's trip through the pipeline.
	// It is deliberately larger than the backend HTTP timeout so the POST
	// times out first and reports as a transport error.
	messageDeadline = 15 * time.Second

	dispatchWorkers   = 8
	dispatchQueueSize = 128

	shutdownGrace = 5 * time.Second
)

type publication struct {
	identity string
	raw      []byte
}

// Gateway wires the validation and bridging pipeline: broker subscription in,
// backend HTTP out, broker publications out, plus the reverse command path.
// Components are wired at startup and never hot-swap.
type Gateway struct {
	cfg       Config
	log       zerolog.Logger
	creds     *CredentialStore
	cache     *ReplayCache
	validator *Validator
	backend   *BackendClient
	adapter   *MQTTAdapter
	router    *ResponseRouter
	commands  *CommandServer
	metrics   Metrics

	runCtx context.Context
	cancel context.CancelFunc

	queues       [dispatchWorkers]chan publication
	intakeMu     sync.RWMutex
	intakeClosed bool
	workerWG     sync.WaitGroup

	ready chan struct{}
}

// New loads credentials and wires all components in dependency order. The
// gateway does not touch the network until Run.
func New(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds, err := LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("devices", creds.Len()).Msg("credentials loaded")

	cache, err := NewReplayCache(cfg.ReplayCacheSize)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		log:       logger,
		creds:     creds,
		cache:     cache,
		validator: NewValidator(creds, cache, SystemClock, cfg.SkewBudgetSeconds),
		backend:   NewBackendClient(cfg.BackendBaseURL, cfg.httpTimeout()),
		ready:     make(chan struct{}),
	}

	adapter, err := NewMQTTAdapter(cfg, logger, g.dispatch)
	if err != nil {
		return nil, err
	}
	g.adapter = adapter
	g.router = NewResponseRouter(adapter)
	g.commands = NewCommandServer(cfg.CommandListenAddr, cfg.CommandBearerToken, creds, g.router, SystemClock, logger, &g.metrics)

	for i := range g.queues {
		g.queues[i] = make(chan publication, dispatchQueueSize)
	}
	return g, nil
}

// Ready is closed once the subscription is live and the gateway is serving.
func (g *Gateway) Ready() <-chan struct{} { return g.ready }

// Metrics returns a snapshot of the gateway counters.
func (g *Gateway) Metrics() MetricsSnapshot { return g.metrics.Snapshot() }

// Run brings the gateway up, serves until ctx is cancelled or the command
// listener fails, then drains and tears everything down. Startup order:
// broker session, command HTTP server, subscription, ready.
func (g *Gateway) Run(ctx context.Context) error {
	g.runCtx, g.cancel = context.WithCancel(context.Background())
	defer g.cancel()

	for i := range g.queues {
		g.workerWG.Add(1)
		go g.worker(g.queues[i])
	}

	if err := g.adapter.Connect(ctx); err != nil {
		g.stopWorkers()
		return err
	}

	httpErr := make(chan error, 1)
	go func() { httpErr <- g.commands.ListenAndServe() }()

	if err := g.adapter.Subscribe(); err != nil {
		g.shutdown()
		return err
	}

	g.log.Info().Str("listen", g.cfg.CommandListenAddr).Msg("gateway ready")
	close(g.ready)

	select {
	case <-ctx.Done():
		g.shutdown()
		return nil
	case err := <-httpErr:
		g.shutdown()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// shutdown: stop accepting HTTP requests, stop accepting publications, drain
// in-flight validations to a terminal state, close transport resources.
func (g *Gateway) shutdown() {
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = g.commands.Shutdown(shCtx)

	g.adapter.Unsubscribe()

	// Cancel in-flight backend calls and unblock any dispatch still waiting
	// for queue space, then drain what is queued.
	g.cancel()
	g.stopWorkers()

	g.adapter.Close()
}

// stopWorkers seals the intake, closes the queues, and waits for the workers
// to drain what is already queued.
func (g *Gateway) stopWorkers() {
	g.intakeMu.Lock()
	g.intakeClosed = true
	g.intakeMu.Unlock()

	for i := range g.queues {
		close(g.queues[i])
	}
	g.workerWG.Wait()
}

// dispatch routes a publication to the worker owning its identity. Messages
// from the same device always land on the same worker, preserving per-device
// ordering; distinct devices proceed in parallel.
func (g *Gateway) dispatch(identity string, raw []byte) {
	g.intakeMu.RLock()
	defer g.intakeMu.RUnlock()
	if g.intakeClosed {
		return
	}
	select {
	case g.queues[fnvIndex(identity, dispatchWorkers)] <- publication{identity: identity, raw: raw}:
	case <-g.runCtx.Done():
	}
}

func (g *Gateway) worker(ch <-chan publication) {
	defer g.workerWG.Done()
	for p := range ch {
		g.handleMessage(p.identity, p.raw)
	}
}

// handleMessage runs one publication through validation and bridging. Every
// peer- or downstream-induced failure terminates here as a log record and a
// counter increment; nothing propagates across messages.
func (g *Gateway) handleMessage(identity string, raw []byte) {
	ctx, cancel := context.WithTimeout(g.runCtx, messageDeadline)
	defer cancel()

	outcome, err := g.validator.Validate(identity, raw)
	if err != nil {
		g.logReject(identity, err)
		return
	}
	g.metrics.accepted.Add(1)

	body, err := g.backend.Forward(ctx, outcome.DeviceID, outcome.Payload)
	var statusErr *BackendStatusError
	switch {
	case errors.As(err, &statusErr):
		// The backend answered; bridging succeeded and the device observes
		// the backend's error when forwarding is enabled.
		g.metrics.backendErrors.Add(1)
		g.log.Warn().Str("device", outcome.DeviceID).Int("status", statusErr.Status).Msg("backend returned error status")
		if !g.cfg.forwardBackendErrors() {
			return
		}
	case err != nil:
		g.metrics.forwardErrors.Add(1)
		g.log.Warn().Err(err).Str("device", outcome.DeviceID).Msg("backend unreachable")
		if !g.cfg.NotifyTransportErrors {
			return
		}
		body = []byte(`{"error":"backend unavailable"}`)
	default:
		g.metrics.forwarded.Add(1)
	}

	if err := g.router.Respond(outcome.DeviceID, body); err != nil {
		g.log.Warn().Err(err).Str("device", outcome.DeviceID).Msg("response publish failed")
	}
}

func (g *Gateway) logReject(identity string, err error) {
	reason := rejectReason(err)
	g.metrics.countReject(reason)

	var ev *zerolog.Event
	switch reason {
	case "malformed":
		ev = g.log.Info()
	case "internal":
		ev = g.log.Error()
	default:
		ev = g.log.Warn()
	}
	ev.Err(err).Str("identity", identity).Str("reason", reason).Msg("message rejected")
}

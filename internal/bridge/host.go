package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// Handler processes a request in the privileged context. Handlers must be
// idempotent: the same request delivered twice may not create a second side
// effect.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type hostRequest struct {
	envelope Envelope
	reply    chan<- Envelope
}

type registration struct {
	handler  Handler
	blocking bool
}

// Host is the privileged end of the bridge. All requests from every
// connected port funnel through a single dispatch goroutine, so privileged
// operations are serialized the way a background event loop serializes them.
type Host struct {
	logger   *zap.Logger
	requests chan hostRequest
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	handlers map[string]registration
	ports    map[*Port]struct{}
}

// NewHost creates a host; call Start before connecting ports.
func NewHost(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		logger:   logger,
		requests: make(chan hostRequest, 64),
		done:     make(chan struct{}),
		handlers: make(map[string]registration),
		ports:    make(map[*Port]struct{}),
	}
}

// Register installs a handler for a message name. The handler runs on the
// dispatch loop, so it must return quickly.
func (h *Host) Register(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = registration{handler: handler}
}

// RegisterBlocking installs a handler that is dispatched on its own
// goroutine. Handlers that wait on the network, like authentication, must
// not stall the loop that serves identity resolution.
func (h *Host) RegisterBlocking(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = registration{handler: handler, blocking: true}
}

// Start launches the dispatch loop.
func (h *Host) Start() {
	go h.dispatch()
}

// Close stops dispatching and disconnects all ports.
func (h *Host) Close() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Host) dispatch() {
	for {
		select {
		case <-h.done:
			return
		case req := <-h.requests:
			h.handle(req)
		}
	}
}

func (h *Host) handle(req hostRequest) {
	env := req.envelope

	// Foreign traffic on another channel is dropped, never answered.
	if env.Channel != Channel {
		h.logger.Debug("dropping foreign message", zap.String("channel", env.Channel))
		return
	}

	h.mu.RLock()
	reg, ok := h.handlers[env.Name]
	h.mu.RUnlock()

	if !ok {
		response := Envelope{
			Channel: Channel,
			Kind:    KindResponse,
			Name:    env.Name,
			CallID:  env.CallID,
			Error:   &ErrorInfo{Code: "UNKNOWN_MESSAGE", Message: "no handler for " + env.Name},
		}
		h.reply(req, response)
		return
	}

	if reg.blocking {
		go h.invoke(req, reg.handler)
		return
	}
	h.invoke(req, reg.handler)
}

func (h *Host) invoke(req hostRequest, handler Handler) {
	env := req.envelope
	response := Envelope{
		Channel: Channel,
		Kind:    KindResponse,
		Name:    env.Name,
		CallID:  env.CallID,
	}

	result, err := handler(context.Background(), env.Payload)
	if err != nil {
		domainErr := apperrors.ToDomainError(err)
		response.Error = &ErrorInfo{Code: domainErr.Code, Message: domainErr.Message}
		h.reply(req, response)
		return
	}

	if result != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			response.Error = &ErrorInfo{Code: "INTERNAL_ERROR", Message: "unencodable response"}
			h.reply(req, response)
			return
		}
		response.Payload = payload
	}
	h.reply(req, response)
}

func (h *Host) reply(req hostRequest, response Envelope) {
	select {
	case req.reply <- response:
	default:
		// The caller already timed out and walked away.
	}
}

// Broadcast fans a best-effort notification out to every connected port.
// Delivery and ordering across receivers are not guaranteed.
func (h *Host) Broadcast(name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast payload unencodable", zap.String("name", name), zap.Error(err))
		return
	}
	env := Envelope{
		Channel: Channel,
		Kind:    KindBroadcast,
		Name:    name,
		Payload: raw,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for port := range h.ports {
		select {
		case port.broadcasts <- env:
		default:
			h.logger.Debug("broadcast dropped for slow port", zap.String("context", port.contextName))
		}
	}
}

// Connect attaches a new port for an isolated execution context. A zero
// timeout falls back to the default call deadline.
func (h *Host) Connect(contextName string, callTimeout time.Duration) *Port {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	port := &Port{
		host:        h,
		contextName: contextName,
		timeout:     callTimeout,
		broadcasts:  make(chan Envelope, 16),
		closed:      make(chan struct{}),
	}
	h.mu.Lock()
	h.ports[port] = struct{}{}
	h.mu.Unlock()
	return port
}

func (h *Host) disconnect(port *Port) {
	h.mu.Lock()
	delete(h.ports, port)
	h.mu.Unlock()
}

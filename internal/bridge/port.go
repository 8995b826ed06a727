package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds identity bridge calls. The supported range is
// 500ms-2000ms; callers configure it via config.BridgeConfig.
const DefaultCallTimeout = 1500 * time.Millisecond

// AuthCallTimeout bounds login and register calls. Authentication reaches
// the remote auth service over HTTP, possibly twice when a registration is
// retried as a login, so it outlives the identity-message deadline.
const AuthCallTimeout = 30 * time.Second

// ErrTimeout is returned when the privileged context does not answer within
// the call deadline. Callers degrade instead of blocking.
var ErrTimeout = errors.New("bridge: call timed out")

// ErrClosed is returned for calls on a disconnected port.
var ErrClosed = errors.New("bridge: port closed")

// Caller is the request/response surface a context depends on. *Port
// implements it; tests substitute in-memory fakes.
type Caller interface {
	Call(ctx context.Context, name string, payload, out any) error
}

// Port is one isolated context's endpoint on the bridge.
type Port struct {
	host        *Host
	contextName string
	timeout     time.Duration
	broadcasts  chan Envelope
	closed      chan struct{}
	closeOnce   sync.Once
}

// Call sends a namespaced request to the privileged context and decodes the
// response into out. It never hangs: the result is the response, a remote
// error, or ErrTimeout.
func (p *Port) Call(ctx context.Context, name string, payload, out any) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = encoded
	}

	env := Envelope{
		Channel: Channel,
		Kind:    KindRequest,
		Name:    name,
		CallID:  uuid.NewString(),
		Payload: raw,
	}

	reply := make(chan Envelope, 1)
	timer := time.NewTimer(p.deadline(name))
	defer timer.Stop()

	select {
	case p.host.requests <- hostRequest{envelope: env, reply: reply}:
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	case <-p.host.done:
		return ErrClosed
	}

	select {
	case response := <-reply:
		if response.Error != nil {
			return &RemoteError{Code: response.Error.Code, Message: response.Error.Message}
		}
		if out == nil {
			return nil
		}
		return response.DecodePayload(out)
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	case <-p.host.done:
		return ErrClosed
	}
}

// deadline picks the call timeout for a message. Auth messages get their
// own longer bound; everything else uses the configured identity deadline.
func (p *Port) deadline(name string) time.Duration {
	switch name {
	case MsgLogin, MsgRegister:
		return AuthCallTimeout
	default:
		return p.timeout
	}
}

// Broadcasts exposes best-effort notifications from the privileged context.
func (p *Port) Broadcasts() <-chan Envelope {
	return p.broadcasts
}

// ContextName identifies the execution context this port belongs to.
func (p *Port) ContextName() string {
	return p.contextName
}

// Close disconnects the port from the host.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		p.host.disconnect(p)
		close(p.closed)
	})
}

// RemoteError is a failure reported by the privileged context.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return "bridge: " + e.Code + ": " + e.Message
}

// IsRemoteCode reports whether err is a RemoteError with the given code.
func IsRemoteCode(err error, code string) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Code == code
}

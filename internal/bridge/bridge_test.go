package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	host := NewHost(nil)
	host.Start()
	t.Cleanup(host.Close)
	return host
}

func TestPortCallRoundTrip(t *testing.T) {
	host := newTestHost(t)
	host.Register("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
		var in map[string]string
		require.NoError(t, json.Unmarshal(payload, &in))
		return map[string]string{"echo": in["value"]}, nil
	})

	port := host.Connect("content", 0)
	defer port.Close()

	var out map[string]string
	err := port.Call(context.Background(), "echo", map[string]string{"value": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out["echo"])
}

func TestPortCallHandlerError(t *testing.T) {
	host := newTestHost(t)
	host.Register("fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	port := host.Connect("popup", 0)
	defer port.Close()

	err := port.Call(context.Background(), "fail", nil, nil)
	require.Error(t, err)
	assert.True(t, IsRemoteCode(err, "INTERNAL_ERROR"))
}

func TestPortCallUnknownMessage(t *testing.T) {
	host := newTestHost(t)

	port := host.Connect("popup", 0)
	defer port.Close()

	err := port.Call(context.Background(), "nope", nil, nil)
	assert.True(t, IsRemoteCode(err, "UNKNOWN_MESSAGE"))
}

func TestPortCallTimesOutInsteadOfHanging(t *testing.T) {
	host := newTestHost(t)
	host.Register("slow", func(context.Context, json.RawMessage) (any, error) {
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	})

	port := host.Connect("content", 50*time.Millisecond)
	defer port.Close()

	start := time.Now()
	err := port.Call(context.Background(), "slow", nil, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestBlockingHandlerDoesNotStallDispatch(t *testing.T) {
	host := newTestHost(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	host.RegisterBlocking(MsgLogin, func(context.Context, json.RawMessage) (any, error) {
		close(entered)
		<-release
		return map[string]string{"token": "jwt"}, nil
	})
	host.Register("echo", func(context.Context, json.RawMessage) (any, error) {
		return map[string]bool{"ok": true}, nil
	})

	port := host.Connect("popup", 50*time.Millisecond)
	defer port.Close()

	loginErr := make(chan error, 1)
	go func() {
		loginErr <- port.Call(context.Background(), MsgLogin, nil, nil)
	}()
	<-entered

	// The loop keeps serving fast calls while the login handler waits.
	start := time.Now()
	err := port.Call(context.Background(), "echo", nil, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	close(release)
	require.NoError(t, <-loginErr)
}

func TestAuthCallOutlivesIdentityDeadline(t *testing.T) {
	host := newTestHost(t)
	host.RegisterBlocking(MsgLogin, func(context.Context, json.RawMessage) (any, error) {
		time.Sleep(120 * time.Millisecond)
		return map[string]string{"token": "jwt"}, nil
	})

	port := host.Connect("popup", 50*time.Millisecond)
	defer port.Close()

	var out map[string]string
	err := port.Call(context.Background(), MsgLogin, nil, &out)
	require.NoError(t, err, "login is bounded by the auth deadline, not the identity one")
	assert.Equal(t, "jwt", out["token"])
}

func TestPortCallAfterClose(t *testing.T) {
	host := newTestHost(t)
	port := host.Connect("content", 0)
	port.Close()

	err := port.Call(context.Background(), "echo", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBroadcastFanOut(t *testing.T) {
	host := newTestHost(t)

	first := host.Connect("tab-1", 0)
	defer first.Close()
	second := host.Connect("tab-2", 0)
	defer second.Close()

	host.Broadcast(MsgIdentityChanged, map[string]string{"id": "g-1"})

	for _, port := range []*Port{first, second} {
		select {
		case env := <-port.Broadcasts():
			assert.Equal(t, Channel, env.Channel)
			assert.Equal(t, KindBroadcast, env.Kind)
			assert.Equal(t, MsgIdentityChanged, env.Name)
		case <-time.After(time.Second):
			t.Fatalf("port %s never received the broadcast", port.ContextName())
		}
	}
}

func TestBroadcastDoesNotBlockOnSlowPort(t *testing.T) {
	host := newTestHost(t)

	slow := host.Connect("slow-tab", 0)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			host.Broadcast(MsgIdentityChanged, map[string]string{"id": "g"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a port nobody is draining")
	}
}

func TestHostDropsForeignChannelTraffic(t *testing.T) {
	host := newTestHost(t)
	host.Register("echo", func(context.Context, json.RawMessage) (any, error) {
		return map[string]bool{"ok": true}, nil
	})

	reply := make(chan Envelope, 1)
	host.requests <- hostRequest{
		envelope: Envelope{Channel: "some-other-extension", Kind: KindRequest, Name: "echo", CallID: "x"},
		reply:    reply,
	}

	select {
	case env := <-reply:
		t.Fatalf("foreign-channel request was answered: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectedPortStopsReceivingBroadcasts(t *testing.T) {
	host := newTestHost(t)

	port := host.Connect("tab", 0)
	port.Close()

	host.Broadcast(MsgIdentityChanged, map[string]string{"id": "g"})

	select {
	case env, ok := <-port.Broadcasts():
		if ok {
			t.Fatalf("closed port received broadcast: %+v", env)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

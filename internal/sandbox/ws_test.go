package sandbox

import (
	"context"
	"errors"
	"testing"
)

type fakeWsMessenger struct {
	sent   [][]byte
	recvQ  [][]byte
	closed bool
}

func (m *fakeWsMessenger) Close() error { m.closed = true; return nil }

func (m *fakeWsMessenger) Send(ctx context.Context, message []byte) error {
	m.sent = append(m.sent, message)
	return nil
}

func (m *fakeWsMessenger) Recv(ctx context.Context) ([]byte, error) {
	if len(m.recvQ) == 0 {
		return nil, errors.New("no more messages")
	}
	next := m.recvQ[0]
	m.recvQ = m.recvQ[1:]
	return next, nil
}

func wsCapsAllowing(host string) *WebSocketCapability {
	caps := DefaultWebSocketCapability()
	caps.Allowlist = []WebSocketEndpoint{{Host: host}}
	caps.Pool = NewWsConnectionPool()
	return &caps
}

func TestGuardedWsConnectRejectsNonWssScheme(t *testing.T) {
	caps := wsCapsAllowing("stream.example.com")
	dial := func(ctx context.Context, url string) (WsMessenger, error) {
		return &fakeWsMessenger{}, nil
	}
	_, err := guardedWsConnect(context.Background(), caps, dial, "ws://stream.example.com/feed")
	if !errors.Is(err, ErrSSRFBlocked) {
		t.Fatalf("expected ErrSSRFBlocked for non-wss scheme, got %v", err)
	}
}

func TestGuardedWsConnectDeniesOutsideAllowlist(t *testing.T) {
	caps := wsCapsAllowing("stream.example.com")
	dial := func(ctx context.Context, url string) (WsMessenger, error) {
		return &fakeWsMessenger{}, nil
	}
	_, err := guardedWsConnect(context.Background(), caps, dial, "wss://not-allowed.example.org/feed")
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("expected ErrCapabilityDenied, got %v", err)
	}
}

func TestGuardedWsConnectReusesPooledEntry(t *testing.T) {
	caps := wsCapsAllowing("stream.example.com")
	dialCount := 0
	dial := func(ctx context.Context, url string) (WsMessenger, error) {
		dialCount++
		return &fakeWsMessenger{}, nil
	}

	key1, err := guardedWsConnect(context.Background(), caps, dial, "wss://stream.example.com/feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key2, err := guardedWsConnect(context.Background(), caps, dial, "wss://stream.example.com/feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key1 != key2 {
		t.Errorf("expected stable pool key across connects, got %q and %q", key1, key2)
	}
	if dialCount != 1 {
		t.Errorf("expected the second connect to reuse the pooled connection, dialed %d times", dialCount)
	}
}

func TestGuardedWsSendAndRecvRoundtrip(t *testing.T) {
	caps := wsCapsAllowing("stream.example.com")
	messenger := &fakeWsMessenger{recvQ: [][]byte{[]byte("hello")}}
	dial := func(ctx context.Context, url string) (WsMessenger, error) { return messenger, nil }

	key, err := guardedWsConnect(context.Background(), caps, dial, "wss://stream.example.com/feed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := guardedWsSend(context.Background(), caps, key, []byte("ping")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if len(messenger.sent) != 1 || string(messenger.sent[0]) != "ping" {
		t.Errorf("expected 'ping' to be sent, got %v", messenger.sent)
	}

	got, err := guardedWsRecv(context.Background(), caps, key)
	if err != nil {
		t.Fatalf("unexpected recv error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
}

func TestGuardedWsSendRejectsOversizedMessage(t *testing.T) {
	caps := wsCapsAllowing("stream.example.com")
	caps.MaxMessageBytes = 2
	err := guardedWsSend(context.Background(), caps, "wss://stream.example.com/feed", []byte("too big"))
	if err == nil {
		t.Fatal("expected an error for an oversized message")
	}
}

func TestGuardedWsSendWithoutConnectionFails(t *testing.T) {
	caps := wsCapsAllowing("stream.example.com")
	err := guardedWsSend(context.Background(), caps, "wss://stream.example.com/feed", []byte("ping"))
	if err == nil {
		t.Fatal("expected an error when no connection is pooled for the key")
	}
}

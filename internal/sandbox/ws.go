package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/vela-systems/agentrt/internal/net/ssrf"
)

// WsMessenger is a live WebSocket connection capable of sending and
// receiving whole messages, layered on top of the bare Close WsConn
// exposes for pooling. The real dialer/transport lives outside this
// package; WsDialFunc is how a host supplies one.
type WsMessenger interface {
	WsConn
	Send(ctx context.Context, message []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// WsDialFunc opens a new WebSocket connection to url.
type WsDialFunc func(ctx context.Context, url string) (WsMessenger, error)

// guardedWsConnect validates url against caps's allowlist and the SSRF
// rules, then dials (or reuses a pooled connection for) it. The pool key
// is the URL itself: one logical connection per endpoint per sandbox
// instance, matching how a WASM guest addresses it back in host_ws_send
// and host_ws_recv.
func guardedWsConnect(ctx context.Context, caps *WebSocketCapability, dial WsDialFunc, rawURL string) (string, error) {
	if caps.Pool == nil {
		return "", fmt.Errorf("sandbox: websocket capability has no connection pool configured")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("sandbox: invalid websocket URL: %w", err)
	}
	if parsed.Scheme != "wss" {
		return "", fmt.Errorf("%w: wss required", ErrSSRFBlocked)
	}

	host := parsed.Hostname()
	if ssrf.IsBlockedHostname(host) {
		return "", fmt.Errorf("%w: blocked hostname %q", ErrSSRFBlocked, host)
	}
	if err := ssrf.ValidatePublicHostname(host); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSSRFBlocked, err)
	}

	port := 0
	if p := parsed.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	if !caps.Allowed(host, port) {
		return "", fmt.Errorf("%w: %s not in allowlist", ErrCapabilityDenied, rawURL)
	}

	if _, ok := caps.Pool.Get(rawURL); ok {
		return rawURL, nil
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if caps.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, caps.ConnectTimeout)
		defer cancel()
	}
	conn, err := dial(dialCtx, rawURL)
	if err != nil {
		return "", fmt.Errorf("sandbox: websocket dial %q: %w", rawURL, err)
	}
	caps.Pool.Put(rawURL, &PooledWsEntry{Conn: conn, URL: rawURL, LastUsed: time.Now()})
	return rawURL, nil
}

// guardedWsSend writes message to the pooled connection identified by
// key, enforcing caps.MaxMessageBytes.
func guardedWsSend(ctx context.Context, caps *WebSocketCapability, key string, message []byte) error {
	if caps.MaxMessageBytes > 0 && int64(len(message)) > caps.MaxMessageBytes {
		return fmt.Errorf("sandbox: websocket message exceeds %d bytes", caps.MaxMessageBytes)
	}
	entry, ok := caps.Pool.Get(key)
	if !ok {
		return fmt.Errorf("sandbox: no open websocket connection for %q", key)
	}
	messenger, ok := entry.Conn.(WsMessenger)
	if !ok {
		return fmt.Errorf("sandbox: pooled connection for %q does not support send", key)
	}
	return messenger.Send(ctx, message)
}

// guardedWsRecv reads the next message from the pooled connection
// identified by key, enforcing caps.ReadTimeout.
func guardedWsRecv(ctx context.Context, caps *WebSocketCapability, key string) ([]byte, error) {
	entry, ok := caps.Pool.Get(key)
	if !ok {
		return nil, fmt.Errorf("sandbox: no open websocket connection for %q", key)
	}
	messenger, ok := entry.Conn.(WsMessenger)
	if !ok {
		return nil, fmt.Errorf("sandbox: pooled connection for %q does not support recv", key)
	}
	if caps.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, caps.ReadTimeout)
		defer cancel()
	}
	return messenger.Recv(ctx)
}

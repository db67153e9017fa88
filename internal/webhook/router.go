// Package webhook implements WebhookRouter (spec §4.7): dispatches
// external HTTP requests to registered WASM channels, gated by an
// optional shared-secret header and an optional Ed25519 signature over
// timestamp||body.
package webhook

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vela-systems/agentrt/internal/config"
	"github.com/vela-systems/agentrt/internal/sandbox"
)

// defaultSignatureHeader is the header carrying the hex-encoded Ed25519
// signature over "<timestamp>.<body>", modeled on the X-Signature-Ed25519
// convention used by Discord-style interaction webhooks.
const defaultSignatureHeader = "x-signature-ed25519"

// defaultTimestampHeader carries the Unix-seconds timestamp the signature
// was computed over.
const defaultTimestampHeader = "x-signature-timestamp"

// Channel is a registered webhook endpoint bound to a prepared WASM
// module invoked through the sandbox.
type Channel struct {
	// Name identifies the channel for logging and metrics.
	Name string
	// Path is the URL path this channel is mounted at (exact match).
	Path string
	// AllowedMethods restricts accepted HTTP methods; empty means POST only.
	AllowedMethods []string
	// SecretHeader overrides the router's default shared-secret header
	// name, e.g. "X-Telegram-Bot-Api-Secret-Token".
	SecretHeader string
	// Secret is the expected shared-secret header value. Empty disables
	// shared-secret validation for this channel.
	Secret string
	// SignatureKey is the Ed25519 public key used to verify requests.
	// Nil disables signature verification for this channel.
	SignatureKey ed25519.PublicKey
	// Module is the prepared WASM module invoked for matching requests.
	Module *sandbox.PreparedModule
	// Capabilities bounds what the module may do during invocation.
	Capabilities sandbox.Capabilities
}

// Request is the JSON envelope passed into the guest's invoke function
// for webhook-triggered calls.
type Request struct {
	Method  string            `json:"method"`
	Path    string             `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage    `json:"body"`
}

// Response is the JSON envelope a channel's invoke function returns.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Invoker runs a prepared module against an encoded request; satisfied
// by *sandbox.CapabilitySandbox.
type Invoker interface {
	Invoke(ctx context.Context, prepared *sandbox.PreparedModule, caps sandbox.Capabilities, input []byte) (*sandbox.InvokeResult, error)
}

// Router dispatches incoming HTTP webhook requests to registered
// channels. It is safe for concurrent registration and request handling.
type Router struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	sandbox  Invoker
	cfg      config.WebhookConfig
}

// New creates a Router invoking channels through sbx.
func New(sbx Invoker, cfg config.WebhookConfig) *Router {
	if cfg.DefaultSecretHeader == "" {
		cfg.DefaultSecretHeader = "X-Webhook-Secret"
	}
	if cfg.SignatureStalenessWindow == 0 {
		cfg.SignatureStalenessWindow = 5 * time.Minute
	}
	return &Router{
		channels: make(map[string]*Channel),
		sandbox:  sbx,
		cfg:      cfg,
	}
}

// Register mounts ch at ch.Path, replacing any channel previously
// registered at that path.
func (r *Router) Register(ch *Channel) error {
	if ch == nil || ch.Path == "" {
		return fmt.Errorf("webhook: channel and path required")
	}
	if len(ch.AllowedMethods) == 0 {
		ch.AllowedMethods = []string{http.MethodPost}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Path] = ch
	return nil
}

// Unregister removes the channel mounted at path, if any.
func (r *Router) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, path)
}

// SetSignatureKey validates and installs hex as ch's Ed25519 public key.
// Invalid hex or a wrong-length key is rejected without touching the
// channel's existing key.
func SetSignatureKey(ch *Channel, hexKey string) error {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return fmt.Errorf("webhook: invalid hex signature key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("webhook: signature key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	ch.SignatureKey = ed25519.PublicKey(raw)
	return nil
}

// ServeHTTP implements http.Handler, routing by exact path match.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	ch := r.channels[req.URL.Path]
	r.mu.RUnlock()
	if ch == nil {
		http.NotFound(w, req)
		return
	}

	if !methodAllowed(ch.AllowedMethods, req.Method) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := r.validateSecret(ch, req); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err := r.validateSignature(ch, req, body); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[strings.ToLower(k)] = req.Header.Get(k)
	}
	payload := Request{Method: req.Method, Path: req.URL.Path, Headers: headers, Body: body}
	encoded, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode request", http.StatusInternalServerError)
		return
	}

	result, err := r.sandbox.Invoke(req.Context(), ch.Module, ch.Capabilities, encoded)
	if err != nil {
		http.Error(w, fmt.Sprintf("channel invocation failed: %v", err), http.StatusBadGateway)
		return
	}

	var resp Response
	if err := json.Unmarshal(result.Output, &resp); err != nil {
		// Channel didn't return the envelope; treat raw output as the body.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Output)
		return
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func methodAllowed(allowed []string, method string) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (r *Router) validateSecret(ch *Channel, req *http.Request) error {
	if ch.Secret == "" {
		return nil
	}
	header := ch.SecretHeader
	if header == "" {
		header = r.cfg.DefaultSecretHeader
	}
	got := req.Header.Get(header)
	if subtle.ConstantTimeCompare([]byte(got), []byte(ch.Secret)) != 1 {
		return fmt.Errorf("invalid or missing %s", header)
	}
	return nil
}

// validateSignature verifies, when ch has a signature key configured,
// that the request carries a valid Ed25519 signature over
// "<timestamp>.<body>" and that the timestamp is within the router's
// staleness window. Grounded on marketplace.Verifier.VerifySignature's
// ed25519.Verify usage, adapted to a timestamped webhook body instead of
// a standalone artifact.
func (r *Router) validateSignature(ch *Channel, req *http.Request, body []byte) error {
	if len(ch.SignatureKey) == 0 {
		return nil
	}
	sigHex := req.Header.Get(defaultSignatureHeader)
	if sigHex == "" {
		return fmt.Errorf("missing %s header", defaultSignatureHeader)
	}
	signature, err := hex.DecodeString(sigHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("invalid %s header", defaultSignatureHeader)
	}

	tsRaw := req.Header.Get(defaultTimestampHeader)
	tsSec, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid or missing %s header", defaultTimestampHeader)
	}
	ts := time.Unix(tsSec, 0)
	if age := time.Since(ts); age > r.cfg.SignatureStalenessWindow || age < -r.cfg.SignatureStalenessWindow {
		return fmt.Errorf("signature timestamp outside staleness window")
	}

	signed := append([]byte(tsRaw+"."), body...)
	if !ed25519.Verify(ch.SignatureKey, signed, signature) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

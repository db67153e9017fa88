// Package sandbox implements the CapabilitySandbox: a wazero-backed WASM
// runtime that executes WASM tools under a default-deny capability model.
package sandbox

import "time"

// Capabilities is the permission vector granted to one WASM tool
// invocation. Every field is opt-in; a zero-value Capabilities grants no
// access at all.
type Capabilities struct {
	WorkspaceRead  *WorkspaceCapability
	WorkspaceWrite *WorkspaceWriteCapability
	HTTP           *HTTPCapability
	ToolInvoke     *ToolInvokeCapability
	Secrets        *SecretsCapability
	WebSocket      *WebSocketCapability
}

// WorkspaceReader reads a path from the agent's workspace. Injected by the
// host so the sandbox package stays decoupled from the workspace's own
// storage backend.
type WorkspaceReader interface {
	Read(path string) (string, bool)
}

// WorkspaceWriter writes a path into the agent's workspace.
type WorkspaceWriter interface {
	Write(path, content string) error
}

// WorkspaceCapability grants read access under the given path prefixes. An
// empty AllowedPrefixes means every path is reachable (subject to whatever
// safety constraints WorkspaceReader itself enforces).
type WorkspaceCapability struct {
	AllowedPrefixes []string
	Reader          WorkspaceReader
}

// Allows reports whether path is permitted under this capability's prefix
// list.
func (c *WorkspaceCapability) Allows(path string) bool {
	return matchesAnyPrefix(c.AllowedPrefixes, path)
}

// WorkspaceWriteCapability grants write access, kept separate from read for
// least privilege.
type WorkspaceWriteCapability struct {
	AllowedPrefixes []string
	Writer          WorkspaceWriter
}

func (c *WorkspaceWriteCapability) Allows(path string) bool {
	return matchesAnyPrefix(c.AllowedPrefixes, path)
}

func matchesAnyPrefix(prefixes []string, path string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

// CredentialLocation says where a secret's value gets injected into an
// outbound HTTP request. The guest never receives the value itself — only
// the host performs the injection, after the request has already cleared
// the allowlist and SSRF checks.
type CredentialLocation struct {
	Kind        CredentialLocationKind
	Username    string // Basic
	HeaderName  string // Header
	HeaderPrefix string // Header, optional (e.g. "Token ")
	QueryParam  string // QueryParam
	Placeholder string // UrlPath
}

type CredentialLocationKind string

const (
	CredentialBearer   CredentialLocationKind = "bearer"
	CredentialBasic    CredentialLocationKind = "basic"
	CredentialHeader   CredentialLocationKind = "header"
	CredentialQuery    CredentialLocationKind = "query_param"
	CredentialURLPath  CredentialLocationKind = "url_path"
)

// CredentialMapping binds a secret name to where it gets injected and
// which hosts it applies to.
type CredentialMapping struct {
	SecretName   string
	Location     CredentialLocation
	HostPatterns []string
}

// EndpointPattern matches an allowed HTTP endpoint. Host supports one
// leading wildcard, "*.example.com".
type EndpointPattern struct {
	Host       string
	Port       int // 0 = any port
	PathPrefix string
	Methods    []string // empty = any method
}

// HostMatches reports whether urlHost satisfies this pattern's Host,
// including the leading-wildcard form, which matches subdomains at any
// depth but not the bare domain itself.
func (p EndpointPattern) HostMatches(urlHost string) bool {
	if p.Host == urlHost {
		return true
	}
	const wildcard = "*."
	if len(p.Host) > len(wildcard) && p.Host[:2] == wildcard {
		suffix := p.Host[2:]
		if len(urlHost) > len(suffix) && urlHost[len(urlHost)-len(suffix):] == suffix {
			prefix := urlHost[:len(urlHost)-len(suffix)]
			if prefix == "" || prefix[len(prefix)-1] == '.' {
				return true
			}
		}
	}
	return false
}

// Matches reports whether this pattern permits a request to urlHost with
// the given port (0 = unspecified), path, and method.
func (p EndpointPattern) Matches(urlHost string, port int, path, method string) bool {
	if !p.HostMatches(urlHost) {
		return false
	}
	if p.Port != 0 && port != p.Port {
		return false
	}
	if p.PathPrefix != "" && (len(path) < len(p.PathPrefix) || path[:len(p.PathPrefix)] != p.PathPrefix) {
		return false
	}
	if len(p.Methods) > 0 {
		ok := false
		for _, m := range p.Methods {
			if equalFold(m, method) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 32
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 32
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// RateLimitConfig bounds how often the guest may exercise a capability.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
}

// DefaultRateLimit matches the original implementation's default: a
// generous but non-infinite ceiling.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 60, RequestsPerHour: 1000}
}

// HTTPCapability grants outbound HTTP access, gated by an allowlist of
// EndpointPattern and (optionally) credential injection.
type HTTPCapability struct {
	Allowlist       []EndpointPattern
	Credentials     map[string]CredentialMapping // secret name -> mapping
	RateLimit       RateLimitConfig
	MaxRequestBytes int64
	MaxResponseBytes int64
	Timeout         time.Duration
	AllowInsecure   bool // dev override of the https-only rule
}

// DefaultHTTPCapability mirrors the original's Default impl.
func DefaultHTTPCapability() HTTPCapability {
	return HTTPCapability{
		RateLimit:        DefaultRateLimit(),
		MaxRequestBytes:  1 << 20,
		MaxResponseBytes: 10 << 20,
		Timeout:          30 * time.Second,
	}
}

// Allowed reports whether a request to host:port path via method matches
// some entry in the allowlist.
func (c *HTTPCapability) Allowed(host string, port int, path, method string) bool {
	for _, p := range c.Allowlist {
		if p.Matches(host, port, path, method) {
			return true
		}
	}
	return false
}

// ToolInvokeCapability lets a WASM guest call other registry tools, but
// only via an alias the host resolves — the guest never learns real tool
// names it wasn't given an alias for.
type ToolInvokeCapability struct {
	Aliases   map[string]string // alias -> real tool name
	RateLimit RateLimitConfig
}

// Resolve maps an alias to its real tool name. The empty-string/false
// result means "unknown alias, deny" per spec.
func (c *ToolInvokeCapability) Resolve(alias string) (string, bool) {
	name, ok := c.Aliases[alias]
	return name, ok
}

// SecretsCapability grants existence checks only, never value reads.
// Trailing "*" in AllowedNames is a prefix glob.
type SecretsCapability struct {
	AllowedNames []string
}

func (c *SecretsCapability) IsAllowed(name string) bool {
	for _, pattern := range c.AllowedNames {
		if pattern == name {
			return true
		}
		if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
			prefix := pattern[:len(pattern)-1]
			if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}

// WebSocketEndpoint matches an allowed WebSocket host (and optional port).
type WebSocketEndpoint struct {
	Host string
	Port int // 0 = any port
}

func (e WebSocketEndpoint) Matches(host string, port int) bool {
	if !(EndpointPattern{Host: e.Host}).HostMatches(host) {
		return false
	}
	if e.Port != 0 && port != e.Port {
		return false
	}
	return true
}

// WebSocketCapability grants persistent WebSocket connections, optionally
// pooled across invocations by a caller-chosen key.
type WebSocketCapability struct {
	Allowlist       []WebSocketEndpoint
	RateLimit       RateLimitConfig
	MaxMessageBytes int64
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	Pool            *WsConnectionPool
}

func DefaultWebSocketCapability() WebSocketCapability {
	return WebSocketCapability{
		RateLimit:       DefaultRateLimit(),
		MaxMessageBytes: 1 << 20,
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     30 * time.Second,
	}
}

func (c *WebSocketCapability) Allowed(host string, port int) bool {
	for _, e := range c.Allowlist {
		if e.Matches(host, port) {
			return true
		}
	}
	return false
}

package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/vela-systems/agentrt/internal/net/ssrf"
)

func basicAuthEncoding(userPass string) string {
	return base64.StdEncoding.EncodeToString([]byte(userPass))
}

// HTTPRequest is a guest's host_http_request payload.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// HTTPResponse is what the host hands back after a fetch completes.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// HTTPFetchFunc is the actual network call, injected so this package has
// no transport opinions of its own.
type HTTPFetchFunc func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)

// SecretValueFunc resolves a secret's value for host-side credential
// injection. Never exposed to the guest.
type SecretValueFunc func(ctx context.Context, name string) (string, bool)

// guardedHTTPFetch enforces spec §4.3's SSRF/integrity rules and the
// HTTPCapability allowlist before delegating to fetch: https-only unless
// AllowInsecure, host allowlist match, request/response byte ceilings. If
// a registered CredentialMapping's host_patterns match the request host,
// the mapped secret's value is resolved via secretValue and injected per
// its CredentialLocation — the guest never receives the value itself,
// only the already-authenticated outbound request gets made.
func guardedHTTPFetch(ctx context.Context, caps *HTTPCapability, fetch HTTPFetchFunc, secretValue SecretValueFunc, req HTTPRequest) (*HTTPResponse, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("sandbox: invalid URL: %w", err)
	}
	if parsed.Scheme != "https" && !(caps.AllowInsecure && parsed.Scheme == "http") {
		return nil, fmt.Errorf("%w: https required", ErrSSRFBlocked)
	}

	host := parsed.Hostname()
	if ssrf.IsBlockedHostname(host) {
		return nil, fmt.Errorf("%w: blocked hostname %q", ErrSSRFBlocked, host)
	}
	if err := ssrf.ValidatePublicHostname(host); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSRFBlocked, err)
	}

	port := 0
	if p := parsed.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	if !caps.Allowed(host, port, parsed.Path, req.Method) {
		return nil, fmt.Errorf("%w: %s %s not in allowlist", ErrCapabilityDenied, req.Method, req.URL)
	}

	if caps.MaxRequestBytes > 0 && int64(len(req.Body)) > caps.MaxRequestBytes {
		return nil, fmt.Errorf("sandbox: request body exceeds %d bytes", caps.MaxRequestBytes)
	}

	if secretValue != nil {
		for _, mapping := range caps.Credentials {
			if !hostPatternsMatch(mapping.HostPatterns, host) {
				continue
			}
			value, ok := secretValue(ctx, mapping.SecretName)
			if !ok {
				continue
			}
			if err := injectCredential(&req, mapping, value); err != nil {
				return nil, err
			}
			break
		}
	}

	if caps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, caps.Timeout)
		defer cancel()
	}

	resp, err := fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if caps.MaxResponseBytes > 0 && int64(len(resp.Body)) > caps.MaxResponseBytes {
		resp.Body = resp.Body[:caps.MaxResponseBytes]
	}
	return resp, nil
}

// hostPatternsMatch reports whether host satisfies any of patterns,
// reusing EndpointPattern's leading-wildcard matching.
func hostPatternsMatch(patterns []string, host string) bool {
	for _, p := range patterns {
		if (EndpointPattern{Host: p}).HostMatches(host) {
			return true
		}
	}
	return false
}

// injectCredential applies mapping's injection rule to an outbound
// request's headers/query/path, given the already-resolved secret value.
// Only called host-side; the guest never sees value.
func injectCredential(req *HTTPRequest, mapping CredentialMapping, value string) error {
	switch mapping.Location.Kind {
	case CredentialBearer:
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		req.Headers["Authorization"] = "Bearer " + value
	case CredentialBasic:
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		req.Headers["Authorization"] = "Basic " + basicAuthValue(mapping.Location.Username, value)
	case CredentialHeader:
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		req.Headers[mapping.Location.HeaderName] = mapping.Location.HeaderPrefix + value
	case CredentialQuery:
		sep := "?"
		if strings.Contains(req.URL, "?") {
			sep = "&"
		}
		req.URL = req.URL + sep + url.QueryEscape(mapping.Location.QueryParam) + "=" + url.QueryEscape(value)
	case CredentialURLPath:
		req.URL = strings.ReplaceAll(req.URL, mapping.Location.Placeholder, value)
	default:
		return fmt.Errorf("sandbox: unknown credential location %q", mapping.Location.Kind)
	}
	return nil
}

func basicAuthValue(username, password string) string {
	return basicAuthEncoding(username + ":" + password)
}

package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fetchEcho(status int) HTTPFetchFunc {
	return func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
		return &HTTPResponse{Status: status, Headers: req.Headers, Body: []byte(req.URL)}, nil
	}
}

func allowAPIExample() *HTTPCapability {
	caps := DefaultHTTPCapability()
	caps.Allowlist = []EndpointPattern{{Host: "api.example.com"}}
	return &caps
}

func TestGuardedHTTPFetchRejectsInsecureByDefault(t *testing.T) {
	caps := allowAPIExample()
	_, err := guardedHTTPFetch(context.Background(), caps, fetchEcho(200), nil, HTTPRequest{Method: "GET", URL: "http://api.example.com/v1"})
	if !errors.Is(err, ErrSSRFBlocked) {
		t.Fatalf("expected ErrSSRFBlocked, got %v", err)
	}
}

func TestGuardedHTTPFetchAllowsInsecureWhenOptedIn(t *testing.T) {
	caps := allowAPIExample()
	caps.AllowInsecure = true
	resp, err := guardedHTTPFetch(context.Background(), caps, fetchEcho(200), nil, HTTPRequest{Method: "GET", URL: "http://api.example.com/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("expected status 200, got %d", resp.Status)
	}
}

func TestGuardedHTTPFetchBlocksPrivateHostname(t *testing.T) {
	caps := DefaultHTTPCapability()
	caps.Allowlist = []EndpointPattern{{Host: "localhost"}}
	caps.AllowInsecure = true
	_, err := guardedHTTPFetch(context.Background(), &caps, fetchEcho(200), nil, HTTPRequest{Method: "GET", URL: "http://localhost/secrets"})
	if !errors.Is(err, ErrSSRFBlocked) {
		t.Fatalf("expected ErrSSRFBlocked for localhost, got %v", err)
	}
}

func TestGuardedHTTPFetchDeniesOutsideAllowlist(t *testing.T) {
	caps := allowAPIExample()
	_, err := guardedHTTPFetch(context.Background(), caps, fetchEcho(200), nil, HTTPRequest{Method: "GET", URL: "https://not-allowed.example.org/v1"})
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("expected ErrCapabilityDenied, got %v", err)
	}
}

func TestGuardedHTTPFetchRejectsOversizedRequestBody(t *testing.T) {
	caps := allowAPIExample()
	caps.MaxRequestBytes = 4
	_, err := guardedHTTPFetch(context.Background(), caps, fetchEcho(200), nil, HTTPRequest{
		Method: "POST", URL: "https://api.example.com/v1", Body: []byte("way too big"),
	})
	if err == nil {
		t.Fatal("expected an error for oversized request body")
	}
}

func TestGuardedHTTPFetchTruncatesOversizedResponseBody(t *testing.T) {
	caps := allowAPIExample()
	caps.MaxResponseBytes = 2
	fetch := func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
		return &HTTPResponse{Status: 200, Body: []byte("abcdef")}, nil
	}
	resp, err := guardedHTTPFetch(context.Background(), caps, fetch, nil, HTTPRequest{Method: "GET", URL: "https://api.example.com/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "ab" {
		t.Errorf("expected body truncated to 2 bytes, got %q", resp.Body)
	}
}

func TestGuardedHTTPFetchInjectsBearerCredential(t *testing.T) {
	caps := allowAPIExample()
	caps.Credentials = map[string]CredentialMapping{
		"api_token": {
			SecretName:   "api_token",
			Location:     CredentialLocation{Kind: CredentialBearer},
			HostPatterns: []string{"*.example.com"},
		},
	}
	secretValue := func(ctx context.Context, name string) (string, bool) {
		if name == "api_token" {
			return "secret-value", true
		}
		return "", false
	}

	var seenHeaders map[string]string
	fetch := func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
		seenHeaders = req.Headers
		return &HTTPResponse{Status: 200}, nil
	}

	_, err := guardedHTTPFetch(context.Background(), caps, fetch, secretValue, HTTPRequest{Method: "GET", URL: "https://api.example.com/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seenHeaders["Authorization"]; got != "Bearer secret-value" {
		t.Errorf("expected Authorization header 'Bearer secret-value', got %q", got)
	}
}

func TestGuardedHTTPFetchSkipsCredentialWhenHostDoesNotMatch(t *testing.T) {
	caps := allowAPIExample()
	caps.Credentials = map[string]CredentialMapping{
		"other_token": {
			SecretName:   "other_token",
			Location:     CredentialLocation{Kind: CredentialBearer},
			HostPatterns: []string{"*.other.com"},
		},
	}
	called := false
	secretValue := func(ctx context.Context, name string) (string, bool) {
		called = true
		return "x", true
	}
	var seenHeaders map[string]string
	fetch := func(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
		seenHeaders = req.Headers
		return &HTTPResponse{Status: 200}, nil
	}
	if _, err := guardedHTTPFetch(context.Background(), caps, fetch, secretValue, HTTPRequest{Method: "GET", URL: "https://api.example.com/v1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected secretValue not to be called for a non-matching host pattern")
	}
	if _, ok := seenHeaders["Authorization"]; ok {
		t.Error("expected no Authorization header to be injected")
	}
}

func TestInjectCredentialVariants(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		req := &HTTPRequest{}
		if err := injectCredential(req, CredentialMapping{Location: CredentialLocation{Kind: CredentialBasic, Username: "alice"}}, "pw"); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(req.Headers["Authorization"], "Basic ") {
			t.Errorf("expected Basic auth header, got %q", req.Headers["Authorization"])
		}
	})

	t.Run("header with prefix", func(t *testing.T) {
		req := &HTTPRequest{}
		loc := CredentialLocation{Kind: CredentialHeader, HeaderName: "X-Api-Key", HeaderPrefix: "Token "}
		if err := injectCredential(req, CredentialMapping{Location: loc}, "abc123"); err != nil {
			t.Fatal(err)
		}
		if req.Headers["X-Api-Key"] != "Token abc123" {
			t.Errorf("expected 'Token abc123', got %q", req.Headers["X-Api-Key"])
		}
	})

	t.Run("query param", func(t *testing.T) {
		req := &HTTPRequest{URL: "https://api.example.com/v1?existing=1"}
		loc := CredentialLocation{Kind: CredentialQuery, QueryParam: "key"}
		if err := injectCredential(req, CredentialMapping{Location: loc}, "abc"); err != nil {
			t.Fatal(err)
		}
		if req.URL != "https://api.example.com/v1?existing=1&key=abc" {
			t.Errorf("unexpected URL: %q", req.URL)
		}
	})

	t.Run("query param no existing query", func(t *testing.T) {
		req := &HTTPRequest{URL: "https://api.example.com/v1"}
		loc := CredentialLocation{Kind: CredentialQuery, QueryParam: "key"}
		if err := injectCredential(req, CredentialMapping{Location: loc}, "abc"); err != nil {
			t.Fatal(err)
		}
		if req.URL != "https://api.example.com/v1?key=abc" {
			t.Errorf("unexpected URL: %q", req.URL)
		}
	})

	t.Run("url path placeholder", func(t *testing.T) {
		req := &HTTPRequest{URL: "https://api.example.com/users/:id/profile"}
		loc := CredentialLocation{Kind: CredentialURLPath, Placeholder: ":id"}
		if err := injectCredential(req, CredentialMapping{Location: loc}, "42"); err != nil {
			t.Fatal(err)
		}
		if req.URL != "https://api.example.com/users/42/profile" {
			t.Errorf("unexpected URL: %q", req.URL)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		req := &HTTPRequest{}
		if err := injectCredential(req, CredentialMapping{Location: CredentialLocation{Kind: "bogus"}}, "x"); err == nil {
			t.Error("expected an error for an unknown credential location kind")
		}
	})
}

func TestHostPatternsMatch(t *testing.T) {
	if !hostPatternsMatch([]string{"*.example.com"}, "api.example.com") {
		t.Error("expected wildcard pattern to match subdomain")
	}
	if hostPatternsMatch([]string{"*.example.com"}, "example.org") {
		t.Error("expected wildcard pattern not to match a different domain")
	}
	if !hostPatternsMatch([]string{"other.com", "api.example.com"}, "api.example.com") {
		t.Error("expected exact match among multiple patterns")
	}
}

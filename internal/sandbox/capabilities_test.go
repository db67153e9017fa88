package sandbox

import "testing"

func TestEndpointPatternHostMatches(t *testing.T) {
	cases := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"slack.com", "slack.com", true},
		{"slack.com", "evil.com", false},
		{"*.slack.com", "api.slack.com", true},
		{"*.slack.com", "slack.com", false},
		{"*.slack.com", "notslack.com", false},
		{"*.slack.com", "a.b.slack.com", true},
	}
	for _, c := range cases {
		got := EndpointPattern{Host: c.pattern}.HostMatches(c.host)
		if got != c.want {
			t.Errorf("HostMatches(%q) against pattern %q = %v, want %v", c.host, c.pattern, got, c.want)
		}
	}
}

func TestEndpointPatternMatches(t *testing.T) {
	p := EndpointPattern{Host: "api.example.com", PathPrefix: "/v1/", Methods: []string{"GET", "POST"}}

	if !p.Matches("api.example.com", 0, "/v1/users", "GET") {
		t.Error("expected match for GET /v1/users")
	}
	if p.Matches("api.example.com", 0, "/v2/users", "GET") {
		t.Error("expected no match for wrong path prefix")
	}
	if p.Matches("api.example.com", 0, "/v1/users", "DELETE") {
		t.Error("expected no match for disallowed method")
	}
	if p.Matches("other.com", 0, "/v1/users", "GET") {
		t.Error("expected no match for wrong host")
	}
}

func TestEndpointPatternPort(t *testing.T) {
	p := EndpointPattern{Host: "example.com", Port: 8443}
	if !p.Matches("example.com", 8443, "/", "GET") {
		t.Error("expected match on exact port")
	}
	if p.Matches("example.com", 443, "/", "GET") {
		t.Error("expected no match on wrong port")
	}

	anyPort := EndpointPattern{Host: "example.com"}
	if !anyPort.Matches("example.com", 9999, "/", "GET") {
		t.Error("expected zero Port to allow any port")
	}
}

func TestSecretsCapabilityIsAllowed(t *testing.T) {
	c := &SecretsCapability{AllowedNames: []string{"slack_bot_token", "openai_*"}}
	if !c.IsAllowed("slack_bot_token") {
		t.Error("expected exact match allowed")
	}
	if !c.IsAllowed("openai_key") {
		t.Error("expected glob prefix match allowed")
	}
	if c.IsAllowed("aws_secret") {
		t.Error("expected unrelated name denied")
	}
}

func TestToolInvokeCapabilityResolve(t *testing.T) {
	c := &ToolInvokeCapability{Aliases: map[string]string{"search": "web_search"}}
	name, ok := c.Resolve("search")
	if !ok || name != "web_search" {
		t.Fatalf("expected alias to resolve to web_search, got %q, %v", name, ok)
	}
	if _, ok := c.Resolve("unknown"); ok {
		t.Error("expected unknown alias to be denied")
	}
}

func TestWorkspaceCapabilityAllows(t *testing.T) {
	c := &WorkspaceCapability{AllowedPrefixes: []string{"context/", "daily/"}}
	if !c.Allows("context/notes.md") {
		t.Error("expected allowed prefix to match")
	}
	if c.Allows("secrets/keys.env") {
		t.Error("expected disallowed prefix to be denied")
	}

	openAccess := &WorkspaceCapability{}
	if !openAccess.Allows("anything.txt") {
		t.Error("expected empty AllowedPrefixes to allow every path")
	}
}

package sandbox

import "testing"

func TestParseCapabilitiesJSONFlat(t *testing.T) {
	data := []byte(`{
		"http": {
			"allowlist": [{"host": "slack.com", "path_prefix": "/api/", "methods": ["GET", "POST"]}],
			"credentials": {
				"bot": {"secret_name": "slack_bot_token", "location": {"type": "bearer"}, "host_patterns": ["slack.com"]}
			},
			"rate_limit": {"requests_per_minute": 50, "requests_per_hour": 1000}
		},
		"secrets": {"allowed_names": ["slack_bot_token"]}
	}`)

	caps, err := ParseCapabilitiesJSON(data)
	if err != nil {
		t.Fatalf("ParseCapabilitiesJSON: %v", err)
	}
	if caps.HTTP == nil {
		t.Fatal("expected HTTP capability")
	}
	if len(caps.HTTP.Allowlist) != 1 || caps.HTTP.Allowlist[0].Host != "slack.com" {
		t.Errorf("unexpected allowlist: %+v", caps.HTTP.Allowlist)
	}
	mapping, ok := caps.HTTP.Credentials["slack_bot_token"]
	if !ok || mapping.Location.Kind != CredentialBearer {
		t.Errorf("unexpected credential mapping: %+v", mapping)
	}
	if caps.HTTP.RateLimit.RequestsPerMinute != 50 {
		t.Errorf("expected rate limit override, got %+v", caps.HTTP.RateLimit)
	}
	if caps.Secrets == nil || !caps.Secrets.IsAllowed("slack_bot_token") {
		t.Error("expected secrets capability to allow slack_bot_token")
	}
}

func TestParseCapabilitiesJSONNestedWrapper(t *testing.T) {
	data := []byte(`{
		"capabilities": {
			"secrets": {"allowed_names": ["openai_key"]}
		}
	}`)

	caps, err := ParseCapabilitiesJSON(data)
	if err != nil {
		t.Fatalf("ParseCapabilitiesJSON: %v", err)
	}
	if caps.Secrets == nil || !caps.Secrets.IsAllowed("openai_key") {
		t.Error("expected nested capabilities wrapper to be promoted")
	}
}

func TestParseCapabilitiesJSONOuterWins(t *testing.T) {
	data := []byte(`{
		"secrets": {"allowed_names": ["outer_secret"]},
		"capabilities": {
			"secrets": {"allowed_names": ["inner_secret"]}
		}
	}`)

	caps, err := ParseCapabilitiesJSON(data)
	if err != nil {
		t.Fatalf("ParseCapabilitiesJSON: %v", err)
	}
	if !caps.Secrets.IsAllowed("outer_secret") || caps.Secrets.IsAllowed("inner_secret") {
		t.Errorf("expected outer fields to take precedence, got %+v", caps.Secrets)
	}
}

func TestCredentialLocationHeaderAliasKeys(t *testing.T) {
	data := []byte(`{
		"http": {
			"credentials": {
				"x": {"secret_name": "api_key", "location": {"type": "header", "header_name": "X-Api-Key"}}
			}
		}
	}`)

	caps, err := ParseCapabilitiesJSON(data)
	if err != nil {
		t.Fatalf("ParseCapabilitiesJSON: %v", err)
	}
	mapping := caps.HTTP.Credentials["api_key"]
	if mapping.Location.Kind != CredentialHeader || mapping.Location.HeaderName != "X-Api-Key" {
		t.Errorf("expected legacy header_name key to populate HeaderName, got %+v", mapping.Location)
	}
}

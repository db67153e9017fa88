package sandbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// capabilitiesFile is the sidecar JSON schema a WASM tool ships alongside
// its binary (e.g. "slack.capabilities.json"). Parsing supports a nested
// `"capabilities": {...}` wrapper for compatibility with channel-level
// capability files, which nest tool capabilities one level down; outer
// fields take precedence, and resolution is recursive and idempotent —
// an already-flat file round-trips unchanged.
type capabilitiesFile struct {
	HTTP         *httpCapabilitySchema     `json:"http,omitempty"`
	Secrets      *secretsCapabilitySchema  `json:"secrets,omitempty"`
	ToolInvoke   *toolInvokeCapabilitySchema `json:"tool_invoke,omitempty"`
	Workspace    *workspaceCapabilitySchema  `json:"workspace,omitempty"`
	Capabilities *capabilitiesFile         `json:"capabilities,omitempty"`
}

type httpCapabilitySchema struct {
	Allowlist        []endpointPatternSchema           `json:"allowlist,omitempty"`
	Credentials      map[string]credentialMappingSchema `json:"credentials,omitempty"`
	RateLimit        *rateLimitSchema                   `json:"rate_limit,omitempty"`
	MaxRequestBytes  *int64                             `json:"max_request_bytes,omitempty"`
	MaxResponseBytes *int64                             `json:"max_response_bytes,omitempty"`
	TimeoutSecs      *int64                             `json:"timeout_secs,omitempty"`
}

type endpointPatternSchema struct {
	Host       string   `json:"host"`
	Port       *int     `json:"port,omitempty"`
	PathPrefix string   `json:"path_prefix,omitempty"`
	Methods    []string `json:"methods,omitempty"`
}

type credentialMappingSchema struct {
	SecretName   string                    `json:"secret_name"`
	Location     credentialLocationSchema  `json:"location"`
	HostPatterns []string                  `json:"host_patterns,omitempty"`
}

type credentialLocationSchema struct {
	Type string `json:"type"`
	// Basic
	Username string `json:"username,omitempty"`
	// Header — accepts both "name" and the legacy "header_name" key.
	Name       string `json:"name,omitempty"`
	HeaderName string `json:"header_name,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	// QueryParam reuses Name.
	// UrlPath
	Placeholder string `json:"placeholder,omitempty"`
}

func (s credentialLocationSchema) headerName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.HeaderName
}

type rateLimitSchema struct {
	RequestsPerMinute *int `json:"requests_per_minute,omitempty"`
	RequestsPerHour   *int `json:"requests_per_hour,omitempty"`
}

type secretsCapabilitySchema struct {
	AllowedNames []string `json:"allowed_names,omitempty"`
}

type toolInvokeCapabilitySchema struct {
	Aliases   map[string]string `json:"aliases,omitempty"`
	RateLimit *rateLimitSchema  `json:"rate_limit,omitempty"`
}

type workspaceCapabilitySchema struct {
	AllowedPrefixes []string `json:"allowed_prefixes,omitempty"`
}

// ParseCapabilitiesJSON parses a sidecar capabilities file, resolving any
// nested "capabilities" wrapper (outer fields win), and converts it into
// a runtime Capabilities. WorkspaceRead.Reader/WorkspaceWrite.Writer are
// left nil — the host injects those at invocation time, never from the
// tool's own declared JSON.
func ParseCapabilitiesJSON(data []byte) (Capabilities, error) {
	var file capabilitiesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Capabilities{}, fmt.Errorf("sandbox: parse capabilities JSON: %w", err)
	}
	resolved := resolveNested(file)
	return resolved.toCapabilities(), nil
}

func resolveNested(f capabilitiesFile) capabilitiesFile {
	if f.Capabilities == nil {
		return f
	}
	inner := resolveNested(*f.Capabilities)
	if f.HTTP == nil {
		f.HTTP = inner.HTTP
	}
	if f.Secrets == nil {
		f.Secrets = inner.Secrets
	}
	if f.ToolInvoke == nil {
		f.ToolInvoke = inner.ToolInvoke
	}
	if f.Workspace == nil {
		f.Workspace = inner.Workspace
	}
	f.Capabilities = nil
	return f
}

func (f capabilitiesFile) toCapabilities() Capabilities {
	var caps Capabilities

	if f.HTTP != nil {
		h := DefaultHTTPCapability()
		for _, p := range f.HTTP.Allowlist {
			pattern := EndpointPattern{Host: p.Host, PathPrefix: p.PathPrefix, Methods: p.Methods}
			if p.Port != nil {
				pattern.Port = *p.Port
			}
			h.Allowlist = append(h.Allowlist, pattern)
		}
		if h.Credentials == nil {
			h.Credentials = map[string]CredentialMapping{}
		}
		for _, m := range f.HTTP.Credentials {
			h.Credentials[m.SecretName] = CredentialMapping{
				SecretName:   m.SecretName,
				Location:     toCredentialLocation(m.Location),
				HostPatterns: m.HostPatterns,
			}
		}
		if f.HTTP.RateLimit != nil {
			h.RateLimit = toRateLimit(*f.HTTP.RateLimit)
		}
		if f.HTTP.MaxRequestBytes != nil {
			h.MaxRequestBytes = *f.HTTP.MaxRequestBytes
		}
		if f.HTTP.MaxResponseBytes != nil {
			h.MaxResponseBytes = *f.HTTP.MaxResponseBytes
		}
		if f.HTTP.TimeoutSecs != nil {
			h.Timeout = time.Duration(*f.HTTP.TimeoutSecs) * time.Second
		}
		caps.HTTP = &h
	}

	if f.Secrets != nil {
		caps.Secrets = &SecretsCapability{AllowedNames: f.Secrets.AllowedNames}
	}

	if f.ToolInvoke != nil {
		tc := ToolInvokeCapability{Aliases: f.ToolInvoke.Aliases, RateLimit: DefaultRateLimit()}
		if f.ToolInvoke.RateLimit != nil {
			tc.RateLimit = toRateLimit(*f.ToolInvoke.RateLimit)
		}
		caps.ToolInvoke = &tc
	}

	if f.Workspace != nil {
		caps.WorkspaceRead = &WorkspaceCapability{AllowedPrefixes: f.Workspace.AllowedPrefixes}
	}

	return caps
}

func toCredentialLocation(s credentialLocationSchema) CredentialLocation {
	switch s.Type {
	case "bearer":
		return CredentialLocation{Kind: CredentialBearer}
	case "basic":
		return CredentialLocation{Kind: CredentialBasic, Username: s.Username}
	case "header":
		return CredentialLocation{Kind: CredentialHeader, HeaderName: s.headerName(), HeaderPrefix: s.Prefix}
	case "query_param":
		return CredentialLocation{Kind: CredentialQuery, QueryParam: s.Name}
	case "url_path":
		return CredentialLocation{Kind: CredentialURLPath, Placeholder: s.Placeholder}
	default:
		return CredentialLocation{}
	}
}

func toRateLimit(s rateLimitSchema) RateLimitConfig {
	rl := DefaultRateLimit()
	if s.RequestsPerMinute != nil {
		rl.RequestsPerMinute = *s.RequestsPerMinute
	}
	if s.RequestsPerHour != nil {
		rl.RequestsPerHour = *s.RequestsPerHour
	}
	return rl
}

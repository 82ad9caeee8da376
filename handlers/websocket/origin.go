package websocket

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may talk to the server.
// Local development origins are always allowed; Extra lists exact
// origins such as "https://paste.example.com".
type OriginPolicy struct {
	Extra []string
}

// ParseOrigins splits a comma separated ALLOWED_ORIGINS value.
func ParseOrigins(value string) OriginPolicy {
	var policy OriginPolicy
	for _, origin := range strings.Split(value, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			policy.Extra = append(policy.Extra, origin)
		}
	}
	return policy
}

func (p OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}

	for _, extra := range p.Extra {
		if strings.EqualFold(strings.TrimRight(origin, "/"), extra) {
			return true
		}
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	case "tauri":
		return parsed.Hostname() == "localhost"
	}

	return false
}

// CheckOrigin allows requests without an Origin header, which browsers
// always send, so CLI and server-side clients can connect.
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.Allowed(origin)
}

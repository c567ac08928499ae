// Package cors echoes the request Origin back to allow-listed hosts.
package cors

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"example.com/statichttpd/internal/config"
)

const (
	headerOrigin      = "Origin"
	headerAllowOrigin = "Access-Control-Allow-Origin"
)

// Gate decides whether a request origin is reflected in
// Access-Control-Allow-Origin. A zero Gate allows nothing.
type Gate struct {
	enabled bool
	allowed map[string]struct{}
}

// NewGate builds a Gate from cfg. A nil cfg yields a disabled gate.
func NewGate(cfg *config.CORSConfig) *Gate {
	g := &Gate{}
	if cfg == nil || !cfg.Enabled {
		return g
	}
	g.enabled = true
	g.allowed = make(map[string]struct{}, len(cfg.Domains))
	for _, d := range cfg.Domains {
		if h := normalizeHost(d); h != "" {
			g.allowed[h] = struct{}{}
		}
	}
	return g
}

// Enabled reports whether the gate can ever set a header.
func (g *Gate) Enabled() bool { return g != nil && g.enabled && len(g.allowed) > 0 }

// Allows reports whether origin names an allow-listed host.
func (g *Gate) Allows(origin string) bool {
	if !g.Enabled() || origin == "" {
		return false
	}
	host := originHostname(origin)
	if host == "" {
		return false
	}
	_, ok := g.allowed[host]
	return ok
}

// Apply sets Access-Control-Allow-Origin on h to the unmodified origin when
// it is allowed. It is a no-op otherwise.
func (g *Gate) Apply(h http.Header, origin string) {
	if g.Allows(origin) {
		h.Set(headerAllowOrigin, origin)
	}
}

// Middleware applies the gate before calling next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.Apply(w.Header(), r.Header.Get(headerOrigin))
		next.ServeHTTP(w, r)
	})
}

// originHostname strips the scheme and an optional port from an Origin value
// and returns the normalised hostname, or "" when nothing usable remains.
func originHostname(origin string) string {
	origin = strings.TrimSpace(origin)
	hostport := origin
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil {
			return ""
		}
		return normalizeHost(u.Hostname())
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = h
	}
	return normalizeHost(hostport)
}

// normalizeHost lower-cases host and converts internationalised names to
// their ASCII (punycode) form so both sides compare equal.
func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	host = strings.Trim(host, "[]")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.ToLower(host)
}

package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var loopbackHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}

type originPolicy struct {
	appOrigin     string
	open          bool
	allowLoopback bool
	rejected      prometheus.Counter
}

// NewCheckOrigin returns the upgrader's origin check. Clients that send no
// Origin (non-browser) always pass; an empty appURL accepts every origin.
// Loopback origins are accepted in development. rejected may be nil.
func NewCheckOrigin(appURL string, isDevelopment bool, rejected prometheus.Counter) func(r *http.Request) bool {
	p := &originPolicy{
		appOrigin:     normalizeOrigin(appURL),
		open:          appURL == "",
		allowLoopback: isDevelopment,
		rejected:      rejected,
	}
	return p.check
}

func (p *originPolicy) check(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" || p.open {
		return true
	}

	origin := normalizeOrigin(raw)
	if origin != "" && origin == p.appOrigin {
		return true
	}
	if p.allowLoopback && isLoopbackOrigin(raw) {
		return true
	}

	if p.rejected != nil {
		p.rejected.Inc()
	}
	slog.WarnContext(r.Context(), "WebSocket origin rejected", "origin", raw, "remote_ip", clientIP(r))
	return false
}

// normalizeOrigin reduces a URL to lowercase scheme://host[:port], or "" if
// it has no host.
func normalizeOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return loopbackHosts[u.Hostname()]
}

package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mmynk/rentrecon/internal/metrics"
)

// ClientAddr returns the request's source address. With trustProxy the first
// X-Forwarded-For entry wins over the connection's remote address.
func ClientAddr(r *http.Request, trustProxy bool) (netip.Addr, bool) {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.Unmap(), true
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// AllowList rejects requests whose source is outside allowed with 403.
// Every rejection is logged for audit.
func AllowList(allowed []netip.Prefix, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := ClientAddr(r, trustProxy)
			if !ok || !contains(allowed, addr) {
				slog.Warn("Callback rejected",
					"audit", true,
					"reason", "source_not_allowed",
					"remote_addr", r.RemoteAddr,
					"forwarded_for", r.Header.Get("X-Forwarded-For"),
					"path", r.URL.Path,
				)
				metrics.CallbackRejections.WithLabelValues("source_not_allowed").Inc()
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallbackGuard throttles then rejects sources outside allowed. Allowed
// sources are never throttled, so every gateway delivery reaches next.
func CallbackGuard(allowed []netip.Prefix, trustProxy bool, limiter *RateLimiter) func(http.Handler) http.Handler {
	allow := AllowList(allowed, trustProxy)
	limiter.Exempt(allowed...)
	return func(next http.Handler) http.Handler {
		return limiter.Middleware(allow(next))
	}
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

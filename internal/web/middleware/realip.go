package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// TrustedRealIP rewrites r.RemoteAddr to the client address reported by a
// reverse proxy, so per-IP rate limiting and request logs see the upload's
// real origin rather than the proxy.
//
// Headers are only honoured when the connection itself comes from one of
// the configured proxy networks; anyone else can send X-Real-IP but it is
// ignored. X-Real-IP wins over X-Forwarded-For, whose first entry is the
// original client.
func TrustedRealIP(trustedProxies []string) func(http.Handler) http.Handler {
	proxies := parseProxyNets(trustedProxies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedProxy(r.RemoteAddr, proxies) {
				if ip := forwardedClientIP(r.Header); ip != nil {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseProxyNets turns the configured proxy list into networks. Entries may
// be CIDRs or bare addresses; bad entries are logged and skipped so one
// typo does not take the server down.
func parseProxyNets(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if _, network, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, network)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			slog.Warn("ignoring invalid trusted proxy entry", "entry", entry)
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// forwardedClientIP reads the proxy headers and returns the claimed client
// address, or nil when neither header carries a parseable IP.
func forwardedClientIP(h http.Header) net.IP {
	if v := strings.TrimSpace(h.Get("X-Real-IP")); v != "" {
		if ip := net.ParseIP(v); ip != nil {
			return ip
		}
	}

	xff := h.Get("X-Forwarded-For")
	if xff == "" {
		return nil
	}
	first := xff
	if idx := strings.IndexByte(xff, ','); idx >= 0 {
		first = xff[:idx]
	}
	return net.ParseIP(strings.TrimSpace(first))
}

// fromTrustedProxy reports whether the connection's source address belongs
// to a configured proxy network. remoteAddr may be host:port or a bare IP.
func fromTrustedProxy(remoteAddr string, proxies []*net.IPNet) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

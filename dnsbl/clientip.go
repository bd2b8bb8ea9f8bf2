package dnsbl

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIP returns the originating client of r for logging: the leftmost
// X-Forwarded-For entry when present and valid, otherwise RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if comma := strings.Index(xff, ","); comma != -1 {
			xff = xff[:comma]
		}
		xff = strings.TrimSpace(xff)
		if ip, err := netip.ParseAddr(xff); err == nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.String()
	}
	return host
}

package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ClientIP rewrites r.RemoteAddr from X-Real-IP or X-Forwarded-For, but only
// when the connection itself comes from one of the trusted proxy ranges.
// Requests from anywhere else keep their socket address, so clients cannot
// spoof their way past rate limiting or the audit log.
//
// Each entry in trusted is a CIDR ("10.0.0.0/8") or a bare IP.
func ClientIP(trusted []string) func(http.Handler) http.Handler {
	nets := parseTrusted(trusted)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedProxy(r.RemoteAddr, nets) {
				if ip := forwardedClientIP(r); ip != nil {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseTrusted(entries []string) []*net.IPNet {
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

func fromTrustedProxy(remoteAddr string, nets []*net.IPNet) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// forwardedClientIP returns the client address a trusted proxy reported, or
// nil if neither header carries a parseable IP. X-Forwarded-For may be a
// chain; the first hop is the original client.
func forwardedClientIP(r *http.Request) net.IP {
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		if ip := net.ParseIP(v); ip != nil {
			return ip
		}
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first := v
		if idx := strings.Index(v, ","); idx >= 0 {
			first = v[:idx]
		}
		return net.ParseIP(strings.TrimSpace(first))
	}
	return nil
}

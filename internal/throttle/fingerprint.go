package throttle

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Fingerprint is a coarse client identity: the /24 (IPv4) or /48 (IPv6) network
// plus the User-Agent, hashed. It survives a phone hopping addresses inside a
// carrier block and never stores a full address.
func Fingerprint(r *http.Request) string {
	network := "unknown"
	if ip := net.ParseIP(clientIP(r)); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			network = v4.Mask(net.CIDRMask(24, 32)).String()
		} else {
			network = ip.Mask(net.CIDRMask(48, 128)).String()
		}
	}
	sum := sha256.Sum256([]byte(network + "|" + r.UserAgent()))
	return hex.EncodeToString(sum[:16])
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

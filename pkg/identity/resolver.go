// Package identity derives stable pseudonymous client keys from connection
// metadata. Keys are sha256 digests of the normalized client IP and
// user-agent; the raw values are never persisted.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// sentinel stands in for an IP or user-agent that could not be determined.
// Requests carrying it are rate limited like any other client rather than
// bypassing per-client limits.
const sentinel = "unknown"

// ClientKey is an opaque per-client identifier.
type ClientKey string

// Resolver derives client keys from HTTP requests.
type Resolver struct {
	// trustProxyHeaders enables X-Forwarded-For / X-Real-IP extraction.
	trustProxyHeaders bool
}

// NewResolver creates a Resolver. Proxy headers are client-controlled, so
// they are only honored when the service sits behind a trusted proxy.
func NewResolver(trustProxyHeaders bool) *Resolver {
	return &Resolver{trustProxyHeaders: trustProxyHeaders}
}

// Resolve returns the client key for a request. It never fails: missing or
// unparseable inputs degrade to a sentinel component.
func (r *Resolver) Resolve(req *http.Request) ClientKey {
	ip := r.clientIP(req)
	if ip == "" {
		ip = sentinel
	}

	ua := req.UserAgent()
	if ua == "" {
		ua = sentinel
	}

	sum := sha256.Sum256([]byte(ip + ":" + ua))
	return ClientKey(hex.EncodeToString(sum[:]))
}

// clientIP extracts the client IP, checking sources in trust order:
// X-Forwarded-For (first hop), X-Real-IP, then the socket address.
func (r *Resolver) clientIP(req *http.Request) string {
	if r.trustProxyHeaders {
		if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
			// The first entry is the originating client; later entries are
			// proxies appending themselves.
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}
		if real := req.Header.Get("X-Real-IP"); real != "" {
			if ip := normalizeIP(real); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		// RemoteAddr may already be a bare IP in tests or unusual listeners.
		return normalizeIP(req.RemoteAddr)
	}
	return normalizeIP(host)
}

func normalizeIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// Package clientip resolves the address a request originated from.
package clientip

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Resolver extracts client addresses. Forwarding headers are honoured only
// when the direct peer is a trusted proxy. A nil Resolver trusts no proxy.
type Resolver struct {
	trusted []*net.IPNet
}

// NewResolver builds a resolver trusting the given proxies. Entries are
// CIDR blocks or single addresses.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	r := &Resolver{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 8 * net.IPv4len
			}
			r.trusted = append(r.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		r.trusted = append(r.trusted, network)
	}
	return r, nil
}

// ClientIP returns the client address without port. Behind a trusted proxy
// it is the first X-Forwarded-For hop, then X-Real-IP.
func (r *Resolver) ClientIP(req *http.Request) string {
	peer := RemoteHost(req)
	if !r.isTrusted(peer) {
		return peer
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(req.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

func (r *Resolver) isTrusted(host string) bool {
	if r == nil || len(r.trusted) == 0 {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range r.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// RemoteHost is the direct peer address with the port stripped
func RemoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// Package privacy reduces client identifiers to forms that are safe to log
// and to bind tokens against.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

const (
	ipv4PrefixBits = 24
	ipv6PrefixBits = 64
)

// NetworkPrefix returns the CIDR of the network an address belongs to:
// /24 for IPv4 (and IPv4-mapped IPv6), /64 for IPv6. Unparseable input
// returns the empty string.
func NetworkPrefix(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	bits := ipv6PrefixBits
	if addr.Is4() {
		bits = ipv4PrefixBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}

// AnonymizeIP returns the network prefix of ip for logging. Unparseable
// input is replaced with a fixed marker so raw values never reach logs.
func AnonymizeIP(ip string) string {
	if prefix := NetworkPrefix(ip); prefix != "" {
		return prefix
	}
	if ip == "" {
		return ""
	}
	return "invalid"
}

// HashIdentifier returns a short, non-reversible tag for a client identifier
// such as a fingerprint. Empty input stays empty.
func HashIdentifier(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:6])
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

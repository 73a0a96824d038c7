// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated configuration value and normalizes it
// with DedupeAndTrimLower. Empty input yields nil.
//
// Example:
//
//	SplitList(" Googlebot.com, .search.msn.com ,googlebot.com")
//	// Returns: []string{"googlebot.com", ".search.msn.com"}
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return DedupeAndTrimLower(strings.Split(value, ","))
}

// DedupeAndTrimLower removes duplicates and empty strings from a slice,
// trimming whitespace from and lowercasing each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  FOO ", "bar", "Foo"})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// HasDomainSuffix reports whether host equals domain or is a subdomain of it.
// Both sides are compared case-insensitively and a trailing dot on host is ignored.
func HasDomainSuffix(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSuffix(domain, "."), "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Package blocklist holds operator-managed user-agent, CIDR and ASN
// blocklist entries and serves them as an in-memory snapshot that is
// refreshed periodically from the backing store.
package blocklist

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryType is the kind of value an entry blocks.
type EntryType string

const (
	EntryTypeUserAgent EntryType = "ua"
	EntryTypeCIDR      EntryType = "cidr"
	EntryTypeASN       EntryType = "asn"
)

func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntryTypeUserAgent, EntryTypeCIDR, EntryTypeASN:
		return t, nil
	default:
		return "", fmt.Errorf("unknown entry type %q (want ua, cidr or asn)", s)
	}
}

// Entry is one blocklist row. A nil ExpiresAt never expires.
type Entry struct {
	ID        uuid.UUID
	Type      EntryType
	Value     string
	Reason    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// NewEntry validates and normalizes value for typ.
func NewEntry(typ EntryType, value, reason string, ttl time.Duration, now time.Time) (*Entry, error) {
	value = strings.TrimSpace(value)
	switch typ {
	case EntryTypeUserAgent:
		value = strings.ToLower(value)
		if value == "" {
			return nil, fmt.Errorf("user agent pattern is required")
		}
	case EntryTypeCIDR:
		p, err := parsePrefix(value)
		if err != nil {
			return nil, err
		}
		value = p.String()
	case EntryTypeASN:
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(value), "AS"), 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid asn %q", value)
		}
		value = strconv.FormatUint(n, 10)
	default:
		return nil, fmt.Errorf("unknown entry type %q", typ)
	}
	e := &Entry{
		ID:        uuid.New(),
		Type:      typ,
		Value:     value,
		Reason:    reason,
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}
	return e, nil
}

// Active reports whether e applies at now.
func (e *Entry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// Lists is the snapshot consumed by the decision rules.
type Lists struct {
	UserAgents []string
	CIDRs      []netip.Prefix
	ASNs       []uint32
}

// Len is the total number of entries.
func (l Lists) Len() int {
	return len(l.UserAgents) + len(l.CIDRs) + len(l.ASNs)
}

// ToLists groups active entries by type. Invalid rows are skipped.
func ToLists(entries []*Entry, now time.Time) Lists {
	var l Lists
	for _, e := range entries {
		if !e.Active(now) {
			continue
		}
		switch e.Type {
		case EntryTypeUserAgent:
			l.UserAgents = append(l.UserAgents, e.Value)
		case EntryTypeCIDR:
			if p, err := parsePrefix(e.Value); err == nil {
				l.CIDRs = append(l.CIDRs, p)
			}
		case EntryTypeASN:
			if n, err := strconv.ParseUint(e.Value, 10, 32); err == nil {
				l.ASNs = append(l.ASNs, uint32(n))
			}
		}
	}
	return l
}

// parsePrefix accepts a CIDR or a bare address (as a host prefix).
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid cidr %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ParsePrefix is parsePrefix for other packages reading static lists.
func ParsePrefix(s string) (netip.Prefix, error) {
	return parsePrefix(s)
}

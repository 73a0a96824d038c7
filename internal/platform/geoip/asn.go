package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// ASNResolver resolves the autonomous system an address belongs to using a
// local MaxMind GeoLite2-ASN database. Lookups are in-process and do not
// touch the network.
type ASNResolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// OpenASN opens the .mmdb file at path.
func OpenASN(path string) (*ASNResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asn database: %w", err)
	}
	return &ASNResolver{reader: reader}, nil
}

// ResolveASN returns the ASN and organization for ip. Unknown or invalid
// addresses return 0 and an error.
func (r *ASNResolver) ResolveASN(ip string) (uint32, string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, "", fmt.Errorf("invalid ip address: %q", ip)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return 0, "", fmt.Errorf("asn database closed")
	}
	record, err := r.reader.ASN(parsed)
	if err != nil {
		return 0, "", err
	}
	return uint32(record.AutonomousSystemNumber), record.AutonomousSystemOrganization, nil
}

// Close releases the database.
func (r *ASNResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

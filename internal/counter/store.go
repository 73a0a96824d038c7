// Package counter provides the TTL-keyed counters and bindings shared by the
// rate, behaviour and honeypot trackers.
//
// Every component receives a Store by reference from main; there is no
// package-level instance. FallbackStore is the production Store: it tries the
// remote Redis backend under a short deadline and serves the same operation
// from the in-process MemoryStore on any failure.
package counter

import (
	"context"
	"strconv"
	"time"
)

// Store is the counter and binding contract.
type Store interface {
	// Increment adds one to key and returns the new value. The TTL is set only
	// when the increment creates the key; later increments do not extend it.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetAndSetBinding stores value under key with ttl and reports whether a
	// different value was previously stored.
	GetAndSetBinding(ctx context.Context, key, value string, ttl time.Duration) (Binding, error)

	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetWithExpiry stores value under key for ttl.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
}

// Binding is the outcome of GetAndSetBinding. Previous is empty when the key
// did not exist; a first observation is never a change.
type Binding struct {
	Changed  bool
	Previous string
}

// GetInt reads key as an integer. Missing, unparsable or failed reads are 0.
func GetInt(ctx context.Context, s Store, key string) int64 {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Key prefixes. Keep them short: they are sent with every remote call.
const (
	KeyPrefixRateIP     = "rate:ip:"
	KeyPrefixRateFP     = "rate:fp:"
	KeyPrefixRateASN    = "rate:asn:"
	KeyPrefixBindingFP  = "bind:fp:"
	KeyPrefixHoneypot   = "hp:"
	KeyPrefixASNWatch   = "asnwatch:"
	KeyPrefixBan        = "ban:"
	KeyPrefixReputation = "rep:"
	KeyPrefixReverseDNS = "rdns:"
	KeyPrefixNonceUsed  = "pow:used:"
)

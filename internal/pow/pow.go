// Package pow implements the proof-of-work gate tied to a challenge nonce.
//
// Puzzle: find n such that sha256(token || decimal(n)) starts with two zero
// bytes. The expected cost is 65,536 hashes; it is a cost multiplier for
// high-volume clients, not a proof of humanity.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"botgate/internal/counter"
	"botgate/internal/platform/logger"
	"botgate/pkg/platform/sentinel"
)

// DefaultMaxAttempts bounds Solve. At 1/65536 per attempt the chance of
// exhausting it is below e^-122.
const DefaultMaxAttempts = 8_000_000

// maxSolutionLen is the longest decimal we accept (uint64 max has 20 digits).
const maxSolutionLen = 20

var (
	ErrInvalidSolution = errors.New("invalid proof-of-work solution")
	ErrAlreadyRedeemed = sentinel.ErrAlreadyUsed
)

// Solve searches for a solution to token. It stops after maxAttempts
// (DefaultMaxAttempts when <= 0) or when ctx is done.
func Solve(ctx context.Context, token string, maxAttempts int) (uint64, bool) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	buf := make([]byte, 0, len(token)+maxSolutionLen)
	buf = append(buf, token...)
	for n := uint64(0); n < uint64(maxAttempts); n++ {
		if n&0xffff == 0 && ctx.Err() != nil {
			return 0, false
		}
		sum := sha256.Sum256(strconv.AppendUint(buf, n, 10))
		if sum[0] == 0 && sum[1] == 0 {
			return n, true
		}
	}
	return 0, false
}

// Verify recomputes the digest for solution. solution must be a canonical
// non-negative decimal: no sign, no leading zeros, no whitespace.
func Verify(token, solution string) bool {
	if token == "" || !canonical(solution) {
		return false
	}
	sum := sha256.Sum256([]byte(token + solution))
	return sum[0] == 0 && sum[1] == 0
}

// Digest returns the hex digest for token and solution. Used by the CLI.
func Digest(token string, n uint64) string {
	sum := sha256.Sum256([]byte(token + strconv.FormatUint(n, 10)))
	return hex.EncodeToString(sum[:])
}

func canonical(s string) bool {
	if s == "" || len(s) > maxSolutionLen {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// Gate verifies solutions and enforces single redemption per nonce.
type Gate struct {
	store  counter.Store
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

// NewGate creates a Gate backed by store.
func NewGate(store counter.Store, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	g := &Gate{store: store, logger: logger.Discard()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Redeem checks solution and marks token as used for ttl. The token
// signature is the caller's concern; Redeem only knows about the puzzle.
func (g *Gate) Redeem(ctx context.Context, token, solution string, ttl time.Duration) error {
	if !Verify(token, solution) {
		return ErrInvalidSolution
	}
	n, err := g.store.Increment(ctx, usedKey(token), ttl)
	if err != nil {
		// A store that cannot count cannot enforce single use; accept the
		// solution rather than lock out every client.
		g.logger.WarnContext(ctx, "nonce redemption not recorded", "error", err)
		return nil
	}
	if n > 1 {
		return fmt.Errorf("nonce redeemed %d times: %w", n, ErrAlreadyRedeemed)
	}
	return nil
}

func usedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return counter.KeyPrefixNonceUsed + hex.EncodeToString(sum[:16])
}

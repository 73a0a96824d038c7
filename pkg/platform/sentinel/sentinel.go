package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into absent signals.
//
// These represent factual states, not validation details:
// - ErrNotFound: key or entity does not exist
// - ErrExpired: token or entry has expired
// - ErrAlreadyUsed: single-use value (challenge nonce) already redeemed
// - ErrUnavailable: dependency not configured, timed out, or failed
// - ErrInvalidToken: token failed verification for any reason
// - ErrMalformed: client input could not be parsed
//
// ErrInvalidToken is deliberately coarse: callers must not distinguish
// signature, expiry and binding failures in anything a client can observe.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidToken = errors.New("invalid token")
	ErrMalformed    = errors.New("malformed input")
)

// Package audit reports terminal gate decisions to observability sinks.
//
// Reporting is fire-and-forget: Publish never blocks the request path, a
// full buffer drops the record, and sink failures are logged and discarded.
package audit

import (
	"context"
	"time"
)

// Record is one redacted decision. It never carries a raw address, raw
// fingerprint or full user agent.
type Record struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	RequestID   string    `json:"request_id,omitempty"`
	Verdict     string    `json:"verdict"`
	Score       float64   `json:"score"`
	Reasons     []string  `json:"reasons"`
	IPPrefix    string    `json:"ip_prefix"`
	ASN         uint32    `json:"asn,omitempty"`
	Provider    string    `json:"provider"`
	Method      string    `json:"method,omitempty"`
	Path        string    `json:"path"`
	UserAgent   string    `json:"ua,omitempty"`
	Fingerprint string    `json:"fp,omitempty"`
	Variant     string    `json:"variant,omitempty"`
	DurationMS  float64   `json:"duration_ms"`
}

// Sink persists or forwards records.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

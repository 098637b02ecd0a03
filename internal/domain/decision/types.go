// Package decision contains domain types for the rate-limit decision log.
package decision

import (
	"time"
)

// Outcome constants for decision records.
const (
	// OutcomeAllowed indicates the request fit its budget.
	OutcomeAllowed = "allowed"
	// OutcomeRejected indicates the request was rate limited.
	OutcomeRejected = "rejected"
)

// Record represents a single rate-limit decision made by the gateway.
type Record struct {
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
	// RequestID is for correlation across systems.
	RequestID string `json:"request_id"`
	// ClientKey identifies the client the decision applied to.
	ClientKey string `json:"client_key"`
	// Profile is the rate limit profile that was applied.
	Profile string `json:"profile"`
	// Method is the HTTP method of the request.
	Method string `json:"method"`
	// Path is the request path.
	Path string `json:"path"`
	// Allowed is whether the request was let through.
	Allowed bool `json:"allowed"`
	// Remaining is the budget left after this decision.
	Remaining int `json:"remaining"`
	// RetryAfterMs is the advised wait in milliseconds. Zero when allowed.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	// RuleID is the routing rule that selected the profile (if any).
	RuleID string `json:"rule_id,omitempty"`
	// LatencyMicros is the consume latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
}

// Outcome returns the record's outcome as a string for logs and metrics.
func (r Record) Outcome() string {
	if r.Allowed {
		return OutcomeAllowed
	}
	return OutcomeRejected
}

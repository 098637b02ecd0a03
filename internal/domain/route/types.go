// Package route contains domain types for profile routing: deciding
// which rate limit profile applies to an incoming request.
package route

import (
	"fmt"
	"regexp"
)

// DefaultProfile is applied when no rule matches a request.
const DefaultProfile = "general"

// namePattern allows alphanumeric, spaces, hyphens, and underscores.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// nameMaxLength is the maximum allowed length for a rule name.
const nameMaxLength = 100

// Rule maps matching requests to a named rate limit profile.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string
	// Name is a human-readable name for this rule.
	Name string
	// Priority determines rule evaluation order (higher values are
	// evaluated first).
	Priority int
	// PathMatch is a glob pattern matched against the request path
	// (e.g., "/auth/*").
	PathMatch string
	// Condition is an optional CEL expression over method, path, host,
	// and client_key that must evaluate to true for the rule to apply.
	Condition string
	// Profile is the rate limit profile applied when this rule matches.
	Profile string
	// Enabled indicates whether this rule is active.
	Enabled bool
}

// Validate checks that the rule has valid configuration.
// Returns nil if valid, or an error describing the first validation failure.
// Condition syntax is checked separately by the expression engine.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > nameMaxLength {
		return fmt.Errorf("name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(r.Name) {
		return fmt.Errorf("name contains invalid characters (allowed: alphanumeric, spaces, hyphens, underscores)")
	}
	if r.PathMatch == "" {
		return fmt.Errorf("path_match is required")
	}
	if r.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	return nil
}

// RequestContext contains the request attributes rules can match on.
type RequestContext struct {
	// Method is the HTTP method.
	Method string
	// Path is the request path.
	Path string
	// Host is the request Host header.
	Host string
	// ClientKey is the rate limit key derived for the client.
	ClientKey string
}

// Decision names the profile chosen for a request.
type Decision struct {
	// Profile is the rate limit profile to apply.
	Profile string
	// RuleID is the ID of the matching rule, empty for the default.
	RuleID string
	// RuleName is the name of the matching rule, empty for the default.
	RuleName string
	// Reason explains why the decision was made.
	Reason string
}

package route

import "context"

// Engine selects the rate limit profile for a request.
type Engine interface {
	// Evaluate matches the request against loaded rules.
	// Always returns a usable Decision; when no rule matches, the
	// decision names DefaultProfile.
	Evaluate(ctx context.Context, rc RequestContext) (Decision, error)
}

// RuleStore persists the rule set.
type RuleStore interface {
	// List returns all rules, enabled or not.
	List(ctx context.Context) ([]Rule, error)
	// Replace atomically swaps in a new rule set.
	Replace(ctx context.Context, rules []Rule) error
}

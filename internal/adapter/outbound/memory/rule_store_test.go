package memory

import (
	"context"
	"testing"

	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

func TestRuleStore_SeedAndList(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(
		route.Rule{ID: "r1", Name: "One", Profile: "general", PathMatch: "/a", Enabled: true},
		route.Rule{ID: "r2", Name: "Two", Profile: "auth", PathMatch: "/b", Enabled: false},
	)

	rules, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if rules[0].ID != "r1" || rules[1].ID != "r2" {
		t.Errorf("rule IDs = %q, %q; want r1, r2", rules[0].ID, rules[1].ID)
	}

	// Mutating the returned slice must not affect the store.
	rules[0].Name = "mutated"
	again, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if again[0].Name != "One" {
		t.Errorf("store rule Name = %q after caller mutation, want One", again[0].Name)
	}
}

func TestRuleStore_Replace(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(
		route.Rule{ID: "old", Name: "Old", Profile: "general", PathMatch: "/x", Enabled: true},
	)

	incoming := []route.Rule{
		{ID: "new-1", Name: "New", Profile: "general", PathMatch: "/y", Enabled: true},
		{ID: "new-2", Name: "Newer", Profile: "auth", PathMatch: "/z", Enabled: true},
	}
	if err := store.Replace(ctx, incoming); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	// The store copies on write, so later caller mutations are invisible.
	incoming[0].Name = "mutated"

	rules, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if rules[0].ID != "new-1" || rules[0].Name != "New" {
		t.Errorf("rules[0] = %q/%q, want new-1/New", rules[0].ID, rules[0].Name)
	}
}

func TestRuleStore_ReplaceWithEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(
		route.Rule{ID: "r1", Name: "One", Profile: "general", PathMatch: "/a", Enabled: true},
	)

	if err := store.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace(nil): %v", err)
	}
	rules, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("len(rules) = %d, want 0", len(rules))
	}
}

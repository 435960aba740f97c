package workflow

import (
	"context"
	"testing"

	"ancla-aem/core/utils"
)

func TestResolverPrefersExplicitPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.setPolicy(t, 3, "supervisor", "auditor")

	resolver := NewRoundResolver(env.policies, env.roles, []string{"admin", "rh"}, utils.NewLogger())
	ids, err := resolver.RequiredRoles(ctx, 3)
	if err != nil {
		t.Fatalf("required roles: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(ids))
	}
	want := map[int64]bool{env.roleIDs["supervisor"]: true, env.roleIDs["auditor"]: true}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected role id %d", id)
		}
	}
}

func TestResolverFallsBackToConfiguredRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resolver := NewRoundResolver(env.policies, env.roles, []string{"admin", "rh"}, utils.NewLogger())
	ids, err := resolver.RequiredRoles(ctx, 5)
	if err != nil {
		t.Fatalf("required roles: %v", err)
	}
	want := map[int64]bool{env.roleIDs["admin"]: true, env.roleIDs["rh"]: true}
	if len(ids) != 2 {
		t.Fatalf("expected 2 fallback roles, got %d", len(ids))
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected role id %d", id)
		}
	}
}

func TestResolverSkipsUnknownFallbackNames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resolver := NewRoundResolver(env.policies, env.roles, []string{"ghost", "rh"}, utils.NewLogger())
	ids, err := resolver.RequiredRoles(ctx, 5)
	if err != nil {
		t.Fatalf("required roles: %v", err)
	}
	if len(ids) != 1 || ids[0] != env.roleIDs["rh"] {
		t.Fatalf("expected only rh, got %v", ids)
	}
}

package rbac

import "testing"

func TestAllowedExactPermission(t *testing.T) {
	p := NewPolicy([]Role{{Name: "rh", Permissions: []Permission{PermIncidentsView}}})
	if !p.Allowed([]string{"rh"}, PermIncidentsView) {
		t.Fatalf("rh should be allowed incidents.view")
	}
	if p.Allowed([]string{"rh"}, PermIncidentsOverride) {
		t.Fatalf("rh must not hold override")
	}
	if p.Allowed([]string{"unknown"}, PermIncidentsView) {
		t.Fatalf("unknown role must not be allowed")
	}
}

func TestAllowedWildcard(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	if !p.Allowed([]string{"admin"}, PermIncidentsOverride) {
		t.Fatalf("admin wildcard should grant override")
	}
	if !p.Allowed([]string{"auditor", "admin"}, PermDetectionRun) {
		t.Fatalf("any matching role should grant")
	}
	if p.Allowed(nil, PermIncidentsView) {
		t.Fatalf("no roles, no access")
	}
}

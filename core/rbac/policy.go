package rbac

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission = string

const (
	PermIncidentsView     Permission = "incidents.view"
	PermIncidentsUpdate   Permission = "incidents.update"
	PermIncidentsOverride Permission = "incidents.override"
	PermDetectionRun      Permission = "detection.run"
	PermPoliciesManage    Permission = "policies.manage"
)

type Role struct {
	Name        string
	Permissions []Permission
}

const policyModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

// Policy answers "does any of these roles grant this permission".
// Grants use dotted permission keys; "*" grants everything.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy(roles []Role) *Policy {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		panic(err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		panic(err)
	}
	for _, role := range roles {
		for _, perm := range role.Permissions {
			_, _ = e.AddPolicy(role.Name, string(perm))
		}
	}
	return &Policy{enforcer: e}
}

func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultRoles is the built-in grant set seeded on first run.
func DefaultRoles() []Role {
	return []Role{
		{Name: "admin", Permissions: []Permission{"*"}},
		{Name: "rh", Permissions: []Permission{PermIncidentsView, PermIncidentsUpdate}},
		{Name: "supervisor", Permissions: []Permission{PermIncidentsView, PermIncidentsUpdate}},
		{Name: "auditor", Permissions: []Permission{PermIncidentsView}},
	}
}

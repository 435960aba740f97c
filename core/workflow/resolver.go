package workflow

import (
	"context"

	"ancla-aem/core/store"
	"ancla-aem/core/utils"
)

// RoundResolver decides which roles must co-sign an incident of a given
// criticality. Explicit policy rows win; when a level has no mapping
// the configured fallback role names are used instead. Fallback names
// that do not exist in the role directory are skipped, so the resolver
// can legitimately return an empty set.
type RoundResolver struct {
	policies store.PolicyStore
	roles    store.RolesStore
	fallback []string
	logger   *utils.Logger
}

func NewRoundResolver(policies store.PolicyStore, roles store.RolesStore, fallback []string, logger *utils.Logger) *RoundResolver {
	return &RoundResolver{policies: policies, roles: roles, fallback: fallback, logger: logger}
}

func (r *RoundResolver) RequiredRoles(ctx context.Context, criticality int) ([]int64, error) {
	ids, err := r.policies.RolesForLevel(ctx, criticality)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}
	var res []int64
	for _, name := range r.fallback {
		role, err := r.roles.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if role == nil {
			r.logger.Printf("authorization: fallback role %q not found, skipping", name)
			continue
		}
		res = append(res, role.ID)
	}
	return res, nil
}

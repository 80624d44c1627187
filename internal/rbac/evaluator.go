// Package rbac implements role-based permission evaluation and management.
// Decisions are default-deny: a (role, resource, action) triple with no
// explicit rule is never granted.
package rbac

import (
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/types"
)

// Store is the persistence surface the rbac package needs. *storage.SQLite
// satisfies it.
type Store interface {
	UpsertPermission(rule *types.PermissionRule) error
	GetPermission(role types.Role, resource types.Resource, action types.Action) (*types.PermissionRule, error)
	GetPermissionByID(id string) (*types.PermissionRule, error)
	ListRolePermissions(role types.Role) ([]types.PermissionRule, error)
	ListAllPermissions() ([]types.PermissionRule, error)
	DeletePermissionByID(id string) (int64, error)
	DeleteRolePermissions(role types.Role, includeSystem bool) (int64, error)
	PermissionCount() (int, error)
	SaveAuditEvent(event *types.AuditEvent) error
}

// Evaluator answers permission checks on the request path. It holds no
// mutable state and is safe for concurrent use.
type Evaluator struct {
	store  Store
	logger zerolog.Logger
}

// NewEvaluator creates a permission evaluator backed by the given store.
func NewEvaluator(store Store, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger.With().Str("component", "rbac-evaluator").Logger(),
	}
}

// HasPermission reports whether role may perform action on resource given the
// request context. Missing rules and granted=false rules both deny. Rules
// with conditions grant only when every condition key matches the context
// exactly.
//
// A non-nil error means the lookup itself failed; callers decide whether to
// fail closed.
func (e *Evaluator) HasPermission(role types.Role, resource types.Resource, action types.Action, ctx map[string]string) (bool, error) {
	rule, err := e.store.GetPermission(role, resource, action)
	if err != nil {
		e.logger.Error().Err(err).
			Str("role", string(role)).
			Str("resource", string(resource)).
			Str("action", string(action)).
			Msg("Permission lookup failed")
		return false, errors.Wrap(errors.ErrPermissionCheck, "permission check failed", err)
	}
	if rule == nil {
		return false, nil
	}
	if !rule.Granted {
		return false, nil
	}
	return rule.Conditions.Matches(ctx), nil
}

package rbac

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/types"
)

// Audit event types written on permission mutations. Audit writes are
// non-critical: a failure is logged and swallowed, never returned.
const (
	auditPermissionSet     = "permission_set"
	auditPermissionDeleted = "permission_deleted"
	auditPermissionsCloned = "permissions_cloned"
	auditDefaultsSeeded    = "permission_defaults_seeded"
)

// SetPermissionRequest carries the fields of a single upsert.
type SetPermissionRequest struct {
	Role        types.Role         `json:"role"`
	Resource    types.Resource     `json:"resource"`
	Action      types.Action       `json:"action"`
	Granted     bool               `json:"granted"`
	Conditions  types.ConditionMap `json:"conditions,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Stats summarizes the stored rule set.
type Stats struct {
	TotalRules  int                 `json:"total_rules"`
	Granted     int                 `json:"granted"`
	Denied      int                 `json:"denied"`
	SystemRules int                 `json:"system_rules"`
	Conditional int                 `json:"conditional"`
	ByRole      map[types.Role]int  `json:"by_role"`
}

// PermissionMatrix is the {role: {resource: [actions]}} view over all
// granted rules.
type PermissionMatrix map[types.Role]map[types.Resource][]types.Action

// Manager performs administrative mutations on the permission rule set.
type Manager struct {
	store  Store
	logger zerolog.Logger
}

// NewManager creates a permission manager backed by the given store.
func NewManager(store Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With().Str("component", "rbac-manager").Logger(),
	}
}

// SetPermission upserts the rule for (role, resource, action). The unique
// triple guarantees no duplicates; repeated calls update in place.
func (m *Manager) SetPermission(req SetPermissionRequest, actor string) (*types.PermissionRule, error) {
	if err := validateTriple(req.Role, req.Resource, req.Action); err != nil {
		return nil, err
	}

	// System rules can be modified but never demoted to plain rules, so the
	// existing flag carries over on update.
	existing, err := m.store.GetPermission(req.Role, req.Resource, req.Action)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "loading permission rule", err)
	}

	now := time.Now().UTC()
	rule := &types.PermissionRule{
		ID:          newRuleID(),
		Role:        req.Role,
		Resource:    req.Resource,
		Action:      req.Action,
		Granted:     req.Granted,
		Conditions:  req.Conditions,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		rule.IsSystem = existing.IsSystem
	}
	if err := m.store.UpsertPermission(rule); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "saving permission rule", err)
	}

	// Re-read so callers see the stored row (upsert preserves the original
	// id and created_at on update).
	stored, err := m.store.GetPermission(req.Role, req.Resource, req.Action)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "reloading permission rule", err)
	}

	m.audit(auditPermissionSet, actor, string(req.Resource), string(req.Action),
		fmt.Sprintf("role=%s granted=%t", req.Role, req.Granted))
	m.logger.Info().
		Str("role", string(req.Role)).
		Str("resource", string(req.Resource)).
		Str("action", string(req.Action)).
		Bool("granted", req.Granted).
		Msg("Permission rule set")
	return stored, nil
}

// BulkSet applies a batch of upserts. It stops at the first failure and
// reports how many rules were applied before it.
func (m *Manager) BulkSet(reqs []SetPermissionRequest, actor string) (int, error) {
	for i, req := range reqs {
		if _, err := m.SetPermission(req, actor); err != nil {
			return i, err
		}
	}
	return len(reqs), nil
}

// GetRolePermissions returns every rule for role.
func (m *Manager) GetRolePermissions(role types.Role) ([]types.PermissionRule, error) {
	if !types.ValidRole(role) {
		return nil, errors.Newf(errors.ErrUnknownRole, "unknown role %q", role)
	}
	rules, err := m.store.ListRolePermissions(role)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "listing role permissions", err)
	}
	return rules, nil
}

// Matrix builds the granted-rule view across all roles.
func (m *Manager) Matrix() (PermissionMatrix, error) {
	rules, err := m.store.ListAllPermissions()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "listing permissions", err)
	}

	matrix := make(PermissionMatrix)
	for _, rule := range rules {
		if !rule.Granted {
			continue
		}
		byResource, ok := matrix[rule.Role]
		if !ok {
			byResource = make(map[types.Resource][]types.Action)
			matrix[rule.Role] = byResource
		}
		byResource[rule.Resource] = append(byResource[rule.Resource], rule.Action)
	}
	return matrix, nil
}

// CloneRolePermissions copies every rule from source to target. Copies are
// always marked non-system and get fresh ids; existing target rules for the
// same triples are overwritten by upsert.
func (m *Manager) CloneRolePermissions(source, target types.Role, actor string) (int, error) {
	if !types.ValidRole(source) {
		return 0, errors.Newf(errors.ErrUnknownRole, "unknown source role %q", source)
	}
	if !types.ValidRole(target) {
		return 0, errors.Newf(errors.ErrUnknownRole, "unknown target role %q", target)
	}
	if source == target {
		return 0, errors.New(errors.ErrInvalidInput, "source and target role are identical")
	}

	rules, err := m.store.ListRolePermissions(source)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "listing source role permissions", err)
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		clone := rule
		clone.ID = newRuleID()
		clone.Role = target
		clone.IsSystem = false
		clone.CreatedAt = now
		clone.UpdatedAt = now
		if err := m.store.UpsertPermission(&clone); err != nil {
			return 0, errors.Wrap(errors.ErrStorage, "cloning permission rule", err)
		}
	}

	m.audit(auditPermissionsCloned, actor, "", "",
		fmt.Sprintf("source=%s target=%s rules=%d", source, target, len(rules)))
	m.logger.Info().
		Str("source", string(source)).
		Str("target", string(target)).
		Int("rules", len(rules)).
		Msg("Role permissions cloned")
	return len(rules), nil
}

// DeletePermission removes one rule by id. System rules are protected.
func (m *Manager) DeletePermission(id, actor string) error {
	rule, err := m.store.GetPermissionByID(id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "loading permission rule", err)
	}
	if rule == nil {
		return errors.Newf(errors.ErrNotFound, "permission rule %s not found", id)
	}
	if rule.IsSystem {
		return errors.Newf(errors.ErrSystemRule, "permission rule %s is a system rule", id)
	}
	if _, err := m.store.DeletePermissionByID(id); err != nil {
		return errors.Wrap(errors.ErrStorage, "deleting permission rule", err)
	}
	m.audit(auditPermissionDeleted, actor, string(rule.Resource), string(rule.Action),
		fmt.Sprintf("role=%s id=%s", rule.Role, id))
	return nil
}

// DeleteRolePermissions removes all rules for role. System rules survive
// unless includeSystem is set.
func (m *Manager) DeleteRolePermissions(role types.Role, includeSystem bool, actor string) (int64, error) {
	if !types.ValidRole(role) {
		return 0, errors.Newf(errors.ErrUnknownRole, "unknown role %q", role)
	}
	n, err := m.store.DeleteRolePermissions(role, includeSystem)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "deleting role permissions", err)
	}
	m.audit(auditPermissionDeleted, actor, "", "",
		fmt.Sprintf("role=%s include_system=%t deleted=%d", role, includeSystem, n))
	return n, nil
}

// Stats computes summary counts over the stored rule set.
func (m *Manager) Stats() (*Stats, error) {
	rules, err := m.store.ListAllPermissions()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "listing permissions", err)
	}

	stats := &Stats{ByRole: make(map[types.Role]int)}
	stats.TotalRules = len(rules)
	for _, rule := range rules {
		if rule.Granted {
			stats.Granted++
		} else {
			stats.Denied++
		}
		if rule.IsSystem {
			stats.SystemRules++
		}
		if len(rule.Conditions) > 0 {
			stats.Conditional++
		}
		stats.ByRole[rule.Role]++
	}
	return stats, nil
}

func (m *Manager) audit(eventType, actor, resource, action, detail string) {
	err := m.store.SaveAuditEvent(&types.AuditEvent{
		ID:        "evt_" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Username:  actor,
		Resource:  resource,
		Action:    action,
		Outcome:   "success",
		Detail:    detail,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("event_type", eventType).Msg("Audit write failed")
	}
}

func validateTriple(role types.Role, resource types.Resource, action types.Action) error {
	if !types.ValidRole(role) {
		return errors.Newf(errors.ErrUnknownRole, "unknown role %q", role)
	}
	valid := false
	for _, r := range types.Resources() {
		if r == resource {
			valid = true
			break
		}
	}
	if !valid {
		return errors.Newf(errors.ErrInvalidInput, "unknown resource %q", resource)
	}
	for _, a := range types.Actions() {
		if a == action {
			return nil
		}
	}
	return errors.Newf(errors.ErrInvalidInput, "unknown action %q", action)
}

func newRuleID() string {
	return "prm_" + uuid.NewString()
}

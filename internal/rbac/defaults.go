package rbac

import (
	"time"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/types"
)

// defaultGrant is one seeded baseline rule.
type defaultGrant struct {
	resource   types.Resource
	actions    []types.Action
	conditions types.ConditionMap
	system     bool
}

// defaultMatrix is the baseline rule set seeded by InitializeDefaults.
// Admin rules on permissions/settings/audit_log are system rules so the
// platform cannot lock itself out by bulk deletion.
var defaultMatrix = map[types.Role][]defaultGrant{
	types.RoleAdmin: {
		{resource: types.ResourceUsers, actions: []types.Action{types.ActionCreate, types.ActionRead, types.ActionUpdate, types.ActionDelete, types.ActionList, types.ActionManage}},
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionCreate, types.ActionRead, types.ActionUpdate, types.ActionDelete, types.ActionList, types.ActionManage}},
		{resource: types.ResourceVehicles, actions: []types.Action{types.ActionCreate, types.ActionRead, types.ActionUpdate, types.ActionDelete, types.ActionList, types.ActionManage}},
		{resource: types.ResourcePayments, actions: []types.Action{types.ActionRead, types.ActionList, types.ActionApprove, types.ActionExport, types.ActionManage}},
		{resource: types.ResourceReports, actions: []types.Action{types.ActionCreate, types.ActionRead, types.ActionList, types.ActionExport}},
		{resource: types.ResourceAlerts, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionDelete, types.ActionList, types.ActionManage}},
		{resource: types.ResourcePermissions, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionList, types.ActionManage}, system: true},
		{resource: types.ResourceSettings, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionManage}, system: true},
		{resource: types.ResourceAuditLog, actions: []types.Action{types.ActionRead, types.ActionList, types.ActionExport}, system: true},
	},
	types.RoleManager: {
		{resource: types.ResourceUsers, actions: []types.Action{types.ActionRead, types.ActionList}},
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionList, types.ActionAssign, types.ActionApprove}},
		{resource: types.ResourceVehicles, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionList}},
		{resource: types.ResourcePayments, actions: []types.Action{types.ActionRead, types.ActionList, types.ActionApprove}},
		{resource: types.ResourceReports, actions: []types.Action{types.ActionCreate, types.ActionRead, types.ActionList, types.ActionExport}},
		{resource: types.ResourceAlerts, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionList}},
	},
	types.RoleDispatcher: {
		{resource: types.ResourceUsers, actions: []types.Action{types.ActionRead}},
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionCreate, types.ActionRead, types.ActionUpdate, types.ActionList, types.ActionAssign}},
		{resource: types.ResourceVehicles, actions: []types.Action{types.ActionRead, types.ActionList}},
	},
	types.RoleSupport: {
		{resource: types.ResourceUsers, actions: []types.Action{types.ActionRead, types.ActionUpdate, types.ActionList}},
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionRead, types.ActionList}},
		{resource: types.ResourcePayments, actions: []types.Action{types.ActionRead, types.ActionList}},
		{resource: types.ResourceAlerts, actions: []types.Action{types.ActionRead, types.ActionList}},
	},
	types.RoleDriver: {
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionRead, types.ActionList}},
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionUpdate}, conditions: types.ConditionMap{"owner_only": "true"}},
		{resource: types.ResourceVehicles, actions: []types.Action{types.ActionRead}},
	},
	types.RoleRider: {
		{resource: types.ResourceTrips, actions: []types.Action{types.ActionCreate, types.ActionRead}, conditions: types.ConditionMap{"owner_only": "true"}},
		{resource: types.ResourcePayments, actions: []types.Action{types.ActionRead}, conditions: types.ConditionMap{"owner_only": "true"}},
	},
}

// InitializeDefaults seeds the baseline rule set for every role. Upsert
// semantics make it idempotent: running it twice produces the same rows
// without duplicates, and existing custom rules on other triples survive.
func (m *Manager) InitializeDefaults(actor string) (int, error) {
	now := time.Now().UTC()
	seeded := 0
	for _, role := range types.Roles() {
		for _, grant := range defaultMatrix[role] {
			for _, action := range grant.actions {
				rule := &types.PermissionRule{
					ID:          newRuleID(),
					Role:        role,
					Resource:    grant.resource,
					Action:      action,
					Granted:     true,
					Conditions:  grant.conditions,
					Description: "default permission",
					IsSystem:    grant.system,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := m.store.UpsertPermission(rule); err != nil {
					return seeded, errors.Wrap(errors.ErrStorage, "seeding default permission", err)
				}
				seeded++
			}
		}
	}

	m.audit(auditDefaultsSeeded, actor, "", "", "")
	m.logger.Info().Int("rules", seeded).Msg("Default permissions initialized")
	return seeded, nil
}

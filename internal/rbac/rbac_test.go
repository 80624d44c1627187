package rbac

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

func newTestRBAC(t *testing.T) (*Evaluator, *Manager) {
	t.Helper()
	logger := zerolog.Nop()
	store, err := storage.NewSQLite(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLite(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEvaluator(store, logger), NewManager(store, logger)
}

func mustSet(t *testing.T, mgr *Manager, req SetPermissionRequest) *types.PermissionRule {
	t.Helper()
	rule, err := mgr.SetPermission(req, "test")
	if err != nil {
		t.Fatalf("SetPermission(%s/%s/%s): %v", req.Role, req.Resource, req.Action, err)
	}
	return rule
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

func TestHasPermissionDefaultDeny(t *testing.T) {
	eval, _ := newTestRBAC(t)

	granted, err := eval.HasPermission(types.RoleRider, types.ResourceUsers, types.ActionDelete, nil)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if granted {
		t.Error("missing rule must deny")
	}
}

func TestHasPermissionGrantAndDeny(t *testing.T) {
	eval, mgr := newTestRBAC(t)

	mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleDriver, Resource: types.ResourceTrips, Action: types.ActionRead, Granted: true,
	})
	mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleDriver, Resource: types.ResourcePayments, Action: types.ActionRead, Granted: false,
	})

	granted, err := eval.HasPermission(types.RoleDriver, types.ResourceTrips, types.ActionRead, nil)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !granted {
		t.Error("explicit grant must allow")
	}

	granted, err = eval.HasPermission(types.RoleDriver, types.ResourcePayments, types.ActionRead, map[string]string{"anything": "true"})
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if granted {
		t.Error("granted=false rule must deny regardless of context")
	}
}

func TestHasPermissionConditions(t *testing.T) {
	eval, mgr := newTestRBAC(t)

	mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleDriver, Resource: types.ResourceTrips, Action: types.ActionUpdate,
		Granted: true, Conditions: types.ConditionMap{"owner_only": "true"},
	})

	tests := []struct {
		name string
		ctx  map[string]string
		want bool
	}{
		{"matching context", map[string]string{"owner_only": "true"}, true},
		{"wrong value", map[string]string{"owner_only": "false"}, false},
		{"missing key", map[string]string{"region": "eu"}, false},
		{"nil context", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eval.HasPermission(types.RoleDriver, types.ResourceTrips, types.ActionUpdate, tc.ctx)
			if err != nil {
				t.Fatalf("HasPermission: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %t, want %t", got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Manager: upsert, matrix, clone
// ---------------------------------------------------------------------------

func TestSetPermissionUpserts(t *testing.T) {
	_, mgr := newTestRBAC(t)

	first := mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleSupport, Resource: types.ResourceUsers, Action: types.ActionRead, Granted: true,
	})
	second := mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleSupport, Resource: types.ResourceUsers, Action: types.ActionRead,
		Granted: false, Description: "revoked for review",
	})

	if second.ID != first.ID {
		t.Errorf("upsert changed id: %q -> %q", first.ID, second.ID)
	}
	if second.Granted {
		t.Error("second upsert should flip granted to false")
	}

	rules, err := mgr.GetRolePermissions(types.RoleSupport)
	if err != nil {
		t.Fatalf("GetRolePermissions: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rule count = %d, want 1", len(rules))
	}
}

func TestSetPermissionRejectsUnknownEnums(t *testing.T) {
	_, mgr := newTestRBAC(t)

	cases := []SetPermissionRequest{
		{Role: "superuser", Resource: types.ResourceTrips, Action: types.ActionRead},
		{Role: types.RoleAdmin, Resource: "secrets", Action: types.ActionRead},
		{Role: types.RoleAdmin, Resource: types.ResourceTrips, Action: "teleport"},
	}
	for _, req := range cases {
		if _, err := mgr.SetPermission(req, "test"); err == nil {
			t.Errorf("expected validation error for %+v", req)
		}
	}
}

func TestSetPermissionPreservesSystemFlag(t *testing.T) {
	_, mgr := newTestRBAC(t)
	if _, err := mgr.InitializeDefaults("test"); err != nil {
		t.Fatalf("InitializeDefaults: %v", err)
	}

	// admin/permissions/manage is seeded as a system rule.
	updated := mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleAdmin, Resource: types.ResourcePermissions, Action: types.ActionManage,
		Granted: true, Description: "tightened",
	})
	if !updated.IsSystem {
		t.Error("updating a system rule must not demote it")
	}
}

func TestMatrixContainsOnlyGrants(t *testing.T) {
	_, mgr := newTestRBAC(t)

	mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleManager, Resource: types.ResourceReports, Action: types.ActionExport, Granted: true,
	})
	mustSet(t, mgr, SetPermissionRequest{
		Role: types.RoleManager, Resource: types.ResourcePayments, Action: types.ActionDelete, Granted: false,
	})

	matrix, err := mgr.Matrix()
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}

	actions := matrix[types.RoleManager][types.ResourceReports]
	if len(actions) != 1 || actions[0] != types.ActionExport {
		t.Errorf("reports actions = %v", actions)
	}
	if _, ok := matrix[types.RoleManager][types.ResourcePayments]; ok {
		t.Error("denied rule must not appear in matrix")
	}
}

func TestCloneRolePermissions(t *testing.T) {
	eval, mgr := newTestRBAC(t)
	if _, err := mgr.InitializeDefaults("test"); err != nil {
		t.Fatalf("InitializeDefaults: %v", err)
	}

	n, err := mgr.CloneRolePermissions(types.RoleDispatcher, types.RoleRider, "test")
	if err != nil {
		t.Fatalf("CloneRolePermissions: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one cloned rule")
	}

	granted, err := eval.HasPermission(types.RoleRider, types.ResourceTrips, types.ActionAssign, nil)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !granted {
		t.Error("cloned dispatcher grant should apply to rider")
	}

	// Clones are never system rules, even when the source rule is.
	count, err := mgr.CloneRolePermissions(types.RoleAdmin, types.RoleManager, "test")
	if err != nil {
		t.Fatalf("CloneRolePermissions(admin): %v", err)
	}
	if count == 0 {
		t.Fatal("expected cloned admin rules")
	}
	rules, err := mgr.GetRolePermissions(types.RoleManager)
	if err != nil {
		t.Fatalf("GetRolePermissions: %v", err)
	}
	for _, r := range rules {
		if r.IsSystem {
			t.Errorf("cloned rule %s/%s is marked system", r.Resource, r.Action)
		}
	}
}

func TestCloneRejectsIdenticalRoles(t *testing.T) {
	_, mgr := newTestRBAC(t)
	if _, err := mgr.CloneRolePermissions(types.RoleAdmin, types.RoleAdmin, "test"); err == nil {
		t.Error("cloning a role onto itself must fail")
	}
}

// ---------------------------------------------------------------------------
// Manager: deletion guards
// ---------------------------------------------------------------------------

func TestDeletePermissionGuardsSystemRules(t *testing.T) {
	_, mgr := newTestRBAC(t)
	if _, err := mgr.InitializeDefaults("test"); err != nil {
		t.Fatalf("InitializeDefaults: %v", err)
	}

	rules, err := mgr.GetRolePermissions(types.RoleAdmin)
	if err != nil {
		t.Fatalf("GetRolePermissions: %v", err)
	}
	var sysID, plainID string
	for _, r := range rules {
		if r.IsSystem && sysID == "" {
			sysID = r.ID
		}
		if !r.IsSystem && plainID == "" {
			plainID = r.ID
		}
	}
	if sysID == "" || plainID == "" {
		t.Fatal("defaults should include both system and plain admin rules")
	}

	err = mgr.DeletePermission(sysID, "test")
	if !errors.Is(err, errors.ErrSystemRule) {
		t.Errorf("deleting a system rule: got %v, want ErrSystemRule", err)
	}
	if err := mgr.DeletePermission(plainID, "test"); err != nil {
		t.Errorf("deleting a plain rule: %v", err)
	}
	err = mgr.DeletePermission("prm_missing", "test")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("deleting a missing rule: got %v, want ErrNotFound", err)
	}
}

func TestDeleteRolePermissions(t *testing.T) {
	_, mgr := newTestRBAC(t)
	if _, err := mgr.InitializeDefaults("test"); err != nil {
		t.Fatalf("InitializeDefaults: %v", err)
	}

	if _, err := mgr.DeleteRolePermissions(types.RoleAdmin, false, "test"); err != nil {
		t.Fatalf("DeleteRolePermissions: %v", err)
	}
	rules, err := mgr.GetRolePermissions(types.RoleAdmin)
	if err != nil {
		t.Fatalf("GetRolePermissions: %v", err)
	}
	for _, r := range rules {
		if !r.IsSystem {
			t.Errorf("non-system rule %s survived bulk delete", r.ID)
		}
	}
	if len(rules) == 0 {
		t.Error("system rules should survive without includeSystem")
	}

	if _, err := mgr.DeleteRolePermissions(types.RoleAdmin, true, "test"); err != nil {
		t.Fatalf("DeleteRolePermissions(includeSystem): %v", err)
	}
	rules, _ = mgr.GetRolePermissions(types.RoleAdmin)
	if len(rules) != 0 {
		t.Errorf("%d rules survived includeSystem delete", len(rules))
	}
}

// ---------------------------------------------------------------------------
// Manager: defaults and stats
// ---------------------------------------------------------------------------

func TestInitializeDefaultsIsIdempotent(t *testing.T) {
	_, mgr := newTestRBAC(t)

	first, err := mgr.InitializeDefaults("test")
	if err != nil {
		t.Fatalf("InitializeDefaults: %v", err)
	}
	stats1, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	second, err := mgr.InitializeDefaults("test")
	if err != nil {
		t.Fatalf("second InitializeDefaults: %v", err)
	}
	stats2, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if first != second {
		t.Errorf("seed counts differ: %d vs %d", first, second)
	}
	if stats1.TotalRules != stats2.TotalRules {
		t.Errorf("rule count changed on re-seed: %d -> %d", stats1.TotalRules, stats2.TotalRules)
	}
}

func TestDefaultsCoverEveryRole(t *testing.T) {
	_, mgr := newTestRBAC(t)
	if _, err := mgr.InitializeDefaults("test"); err != nil {
		t.Fatalf("InitializeDefaults: %v", err)
	}

	stats, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for _, role := range types.Roles() {
		if stats.ByRole[role] == 0 {
			t.Errorf("role %s has no default rules", role)
		}
	}
	if stats.SystemRules == 0 {
		t.Error("defaults should include system rules")
	}
	if stats.Conditional == 0 {
		t.Error("defaults should include conditional rules")
	}
}

func TestBulkSet(t *testing.T) {
	_, mgr := newTestRBAC(t)

	applied, err := mgr.BulkSet([]SetPermissionRequest{
		{Role: types.RoleSupport, Resource: types.ResourceTrips, Action: types.ActionRead, Granted: true},
		{Role: types.RoleSupport, Resource: types.ResourceTrips, Action: types.ActionList, Granted: true},
		{Role: "ghost", Resource: types.ResourceTrips, Action: types.ActionRead, Granted: true},
	}, "test")
	if err == nil {
		t.Fatal("expected failure on invalid role")
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2 before failure", applied)
	}
}

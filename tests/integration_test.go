package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/alerts"
	"github.com/praetor-sec/praetor/internal/engine"
	"github.com/praetor-sec/praetor/internal/rbac"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

// ---------------------------------------------------------------------------
// Shared fixture: real storage, real services, in-memory database
// ---------------------------------------------------------------------------

type stack struct {
	store     *storage.SQLite
	evaluator *rbac.Evaluator
	manager   *rbac.Manager
	alerts    *alerts.Service
	notifier  *recordingNotifier
	engine    *engine.Engine
}

type recordingNotifier struct {
	mu         sync.Mutex
	dispatched []*types.SecurityAlert
}

func (n *recordingNotifier) Dispatch(ctx context.Context, alert *types.SecurityAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dispatched)
}

func newStack(t *testing.T) *stack {
	t.Helper()

	logger := zerolog.Nop()
	store, err := storage.NewSQLite(":memory:", logger)
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	alertSvc := alerts.NewService(store, time.Hour, 10, logger)
	notifier := &recordingNotifier{}
	eng := engine.New(store, store, alertSvc, notifier, types.DefaultThresholds(), engine.Options{}, logger)

	return &stack{
		store:     store,
		evaluator: rbac.NewEvaluator(store, logger),
		manager:   rbac.NewManager(store, logger),
		alerts:    alertSvc,
		notifier:  notifier,
		engine:    eng,
	}
}

func (s *stack) seedEvents(t *testing.T, eventType string, n int, mutate func(*types.AuditEvent)) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		event := &types.AuditEvent{
			ID:        fmt.Sprintf("evt_%s_%d", eventType, i),
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			EventType: eventType,
		}
		mutate(event)
		if err := s.store.SaveAuditEvent(event); err != nil {
			t.Fatalf("seeding %s events: %v", eventType, err)
		}
	}
}

// ---------------------------------------------------------------------------
// End to end: audit events through detection to resolution
// ---------------------------------------------------------------------------

func TestDetectionToResolutionPipeline(t *testing.T) {
	s := newStack(t)

	// 12 failed logins from one address, over the 2x threshold so the
	// severity escalates to critical.
	s.seedEvents(t, types.EventLoginFailed, 12, func(e *types.AuditEvent) {
		e.IP = "203.0.113.50"
		e.Outcome = "failure"
	})

	created := s.engine.RunDetection()
	if created != 1 {
		t.Fatalf("first pass created %d alerts, want 1", created)
	}

	rows, _, err := s.store.ListAlerts(storage.AlertFilter{Type: types.AlertBruteForce})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("stored alerts: got %d, want 1", len(rows))
	}
	alert := rows[0]

	if alert.Severity != types.SeverityCritical {
		t.Errorf("severity: got %v, want critical at double the threshold", alert.Severity)
	}
	if alert.Actor.IP != "203.0.113.50" {
		t.Errorf("actor ip: %q", alert.Actor.IP)
	}
	if alert.Metrics.Count != 12 || alert.Metrics.Threshold != 5 {
		t.Errorf("metrics: %+v", alert.Metrics)
	}

	// Second pass is suppressed by the dedup cache.
	if created := s.engine.RunDetection(); created != 0 {
		t.Fatalf("second pass created %d alerts, want 0", created)
	}

	// Critical alerts go out to the notification channels.
	deadline := time.After(2 * time.Second)
	for s.notifier.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a notification for the critical alert")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Walk the alert through its lifecycle.
	if _, err := s.alerts.Acknowledge(alert.ID, "analyst"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := s.alerts.StartInvestigation(alert.ID, "analyst"); err != nil {
		t.Fatalf("investigate: %v", err)
	}
	resolved, err := s.alerts.Resolve(alert.ID, "analyst", "source blocked", "add network ACL")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != types.StatusResolved || resolved.Investigation.ResolvedAt == nil {
		t.Fatalf("resolution state: %+v", resolved)
	}

	// Resolved alerts can be deleted, active ones cannot have been.
	if err := s.alerts.Delete(alert.ID); err != nil {
		t.Fatalf("delete after resolve: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Correlation across detectors
// ---------------------------------------------------------------------------

func TestCrossDetectorCorrelation(t *testing.T) {
	s := newStack(t)

	// One address trips both the brute force and the rate limit detectors.
	s.seedEvents(t, types.EventLoginFailed, 6, func(e *types.AuditEvent) {
		e.IP = "198.51.100.20"
	})
	s.seedEvents(t, types.EventRateLimitExceeded, 11, func(e *types.AuditEvent) {
		e.IP = "198.51.100.20"
	})

	if created := s.engine.RunDetection(); created != 2 {
		t.Fatalf("created %d alerts, want 2", created)
	}

	rows, _, err := s.store.ListAlerts(storage.AlertFilter{Type: types.AlertBruteForce})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("brute force alerts: %d", len(rows))
	}

	correlated, err := s.alerts.Correlate(rows[0].ID)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(correlated) != 1 {
		t.Fatalf("correlated alerts: got %d, want 1", len(correlated))
	}
	if correlated[0].Type != types.AlertRateLimitAbuse {
		t.Fatalf("correlated type: %q", correlated[0].Type)
	}
}

// ---------------------------------------------------------------------------
// Permission evaluation feeding detection
// ---------------------------------------------------------------------------

func TestPermissionDenialsFeedDetection(t *testing.T) {
	s := newStack(t)

	if _, err := s.manager.InitializeDefaults("integration"); err != nil {
		t.Fatalf("seeding defaults: %v", err)
	}

	// Riders cannot delete users; repeated denials for one user become
	// audit events, which the permission violation detector aggregates.
	for i := 0; i < 11; i++ {
		granted, err := s.evaluator.HasPermission(types.RoleRider, types.ResourceUsers, types.ActionDelete, nil)
		if err != nil {
			t.Fatalf("evaluating permission: %v", err)
		}
		if granted {
			t.Fatal("rider must not delete users")
		}
		err = s.store.SaveAuditEvent(&types.AuditEvent{
			ID:        fmt.Sprintf("evt_deny_%d", i),
			Timestamp: time.Now().UTC(),
			EventType: types.EventPermissionDenied,
			UserID:    "usr_rider_7",
			Role:      "rider",
			Resource:  "users",
			Action:    "delete",
			Outcome:   "denied",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if created := s.engine.RunDetection(); created != 1 {
		t.Fatal("expected a permission violation alert")
	}

	rows, _, err := s.store.ListAlerts(storage.AlertFilter{Type: types.AlertPermissionViolation})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("permission violation alerts: %d", len(rows))
	}
	if rows[0].Actor.UserID != "usr_rider_7" {
		t.Fatalf("actor user id: %q", rows[0].Actor.UserID)
	}
}

// ---------------------------------------------------------------------------
// Statistics over the produced alerts
// ---------------------------------------------------------------------------

func TestStatisticsOverDetectedAlerts(t *testing.T) {
	s := newStack(t)

	s.seedEvents(t, types.EventLoginFailed, 6, func(e *types.AuditEvent) {
		e.IP = "203.0.113.1"
	})
	s.seedEvents(t, types.EventDataExport, 11, func(e *types.AuditEvent) {
		e.UserID = "usr_exfil"
	})

	if created := s.engine.RunDetection(); created != 2 {
		t.Fatalf("created %d alerts, want 2", created)
	}

	stats, err := s.alerts.ComputeStatistics("24h")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 2 || stats.Active != 2 {
		t.Fatalf("totals: %+v", stats)
	}
	if stats.ByType[string(types.AlertBruteForce)] != 1 {
		t.Errorf("by_type brute force: %+v", stats.ByType)
	}
	if stats.ByType[string(types.AlertDataExfiltration)] != 1 {
		t.Errorf("by_type exfiltration: %+v", stats.ByType)
	}
	if len(stats.TopIPs) == 0 || stats.TopIPs[0].Value != "203.0.113.1" {
		t.Errorf("top ips: %+v", stats.TopIPs)
	}

	dash, err := s.alerts.ComputeDashboard()
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.ActiveAlerts != 2 || dash.Last24h == nil || dash.Last24h.Total != 2 {
		t.Fatalf("dashboard: %+v", dash)
	}
	if len(dash.RecentAlerts) != 2 {
		t.Fatalf("recent alerts: %d", len(dash.RecentAlerts))
	}
}

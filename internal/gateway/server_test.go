package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/alerts"
	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/engine"
	"github.com/praetor-sec/praetor/internal/rbac"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

const testAPIKey = "test-master-key"

func newTestServer(t *testing.T) (*httptest.Server, *storage.SQLite) {
	t.Helper()

	store, err := storage.NewSQLite(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	evaluator := rbac.NewEvaluator(store, zerolog.Nop())
	manager := rbac.NewManager(store, zerolog.Nop())
	alertSvc := alerts.NewService(store, time.Hour, 10, zerolog.Nop())
	eng := engine.New(store, store, alertSvc, nil, types.DefaultThresholds(), engine.Options{}, zerolog.Nop())

	cfg := config.WebConfig{ListenAddr: "127.0.0.1:0", SessionKey: testAPIKey}
	srv := NewServer(cfg, store, evaluator, manager, alertSvc, eng, zerolog.Nop())

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, store
}

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
	Meta    *apiMeta        `json:"meta"`
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, apiKey string, body interface{}) (int, testResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded testResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding %s %s response: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

// ---------------------------------------------------------------------------
// Authentication boundary
// ---------------------------------------------------------------------------

func TestHealthIsUnauthenticated(t *testing.T) {
	ts, _ := newTestServer(t)

	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/health", "", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("health: status=%d success=%v", status, resp.Success)
	}

	var health types.SystemHealth
	if err := json.Unmarshal(resp.Data, &health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health.Version == "" {
		t.Fatal("health should report a version")
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		resp, err := ts.Client().Get(ts.URL + "/api/v1/health")
		if err != nil {
			t.Fatalf("GET health: %v", err)
		}
		resp.Body.Close()

		id := resp.Header.Get("X-Request-ID")
		if id == "" {
			t.Fatal("response missing X-Request-ID header")
		}
		if seen[id] {
			t.Fatalf("request id %q repeated", id)
		}
		seen[id] = true
	}
}

func TestAPIKeyEnforcement(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := doRequest(t, ts, http.MethodGet, "/api/v1/alerts", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("no key: status=%d, want 401", status)
	}

	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/alerts", "bogus-key", nil)
	if status != http.StatusForbidden {
		t.Fatalf("bad key: status=%d, want 403", status)
	}
	if resp.Error == nil || resp.Error.Code != "EAUTH-004" {
		t.Fatalf("bad key error: %+v", resp.Error)
	}

	status, _ = doRequest(t, ts, http.MethodGet, "/api/v1/alerts", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("good key: status=%d, want 200", status)
	}
}

// ---------------------------------------------------------------------------
// Permission API
// ---------------------------------------------------------------------------

func TestPermissionCheckEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := doRequest(t, ts, http.MethodPost, "/api/v1/permissions/initialize-defaults", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("initialize-defaults: status=%d", status)
	}

	cases := []struct {
		name    string
		query   string
		granted bool
	}{
		{"granted rule", "role=driver&resource=trips&action=read", true},
		{"default deny", "role=rider&resource=users&action=delete", false},
		{"condition satisfied", "role=driver&resource=trips&action=update&owner_only=true", true},
		{"condition missing", "role=driver&resource=trips&action=update", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/permissions/check?"+tc.query, testAPIKey, nil)
			if status != http.StatusOK {
				t.Fatalf("status=%d", status)
			}
			var result struct {
				Granted bool `json:"granted"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				t.Fatal(err)
			}
			if result.Granted != tc.granted {
				t.Fatalf("granted: got %v, want %v", result.Granted, tc.granted)
			}
		})
	}

	status, _ = doRequest(t, ts, http.MethodGet, "/api/v1/permissions/check?role=driver", testAPIKey, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing params: status=%d, want 400", status)
	}
}

func TestPermissionSetAndDelete(t *testing.T) {
	ts, _ := newTestServer(t)

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/permissions/set", testAPIKey, map[string]interface{}{
		"role":     "support",
		"resource": "trips",
		"action":   "update",
		"granted":  true,
	})
	if status != http.StatusOK {
		t.Fatalf("set: status=%d error=%+v", status, resp.Error)
	}

	var rule types.PermissionRule
	if err := json.Unmarshal(resp.Data, &rule); err != nil {
		t.Fatal(err)
	}
	if rule.ID == "" || !rule.Granted {
		t.Fatalf("unexpected rule: %+v", rule)
	}

	status, _ = doRequest(t, ts, http.MethodDelete, "/api/v1/permissions/"+rule.ID, testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("delete: status=%d", status)
	}

	status, resp = doRequest(t, ts, http.MethodDelete, "/api/v1/permissions/"+rule.ID, testAPIKey, nil)
	if status != http.StatusNotFound {
		t.Fatalf("double delete: status=%d error=%+v", status, resp.Error)
	}
}

func TestPermissionSetRejectsUnknownRole(t *testing.T) {
	ts, _ := newTestServer(t)

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/permissions/set", testAPIKey, map[string]interface{}{
		"role":     "superuser",
		"resource": "trips",
		"action":   "read",
		"granted":  true,
	})
	if status != http.StatusBadRequest && status != http.StatusForbidden {
		t.Fatalf("unknown role: status=%d error=%+v", status, resp.Error)
	}
}

func TestPermissionRoleListing(t *testing.T) {
	ts, _ := newTestServer(t)
	doRequest(t, ts, http.MethodPost, "/api/v1/permissions/initialize-defaults", testAPIKey, nil)

	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/permissions/role/driver", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("role listing: status=%d", status)
	}
	var rules []types.PermissionRule
	if err := json.Unmarshal(resp.Data, &rules); err != nil {
		t.Fatal(err)
	}
	if len(rules) == 0 {
		t.Fatal("driver should have seeded rules")
	}
	if resp.Meta == nil || resp.Meta.Total != len(rules) {
		t.Fatalf("meta total mismatch: %+v", resp.Meta)
	}
}

// ---------------------------------------------------------------------------
// Alert API
// ---------------------------------------------------------------------------

func createTestAlert(t *testing.T, ts *httptest.Server) types.SecurityAlert {
	t.Helper()
	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/alerts", testAPIKey, map[string]interface{}{
		"type":        "brute_force_attack",
		"severity":    "high",
		"title":       "Brute force from 203.0.113.9",
		"description": "21 failed logins in the last hour",
		"actor":       map[string]string{"ip": "203.0.113.9"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create alert: status=%d error=%+v", status, resp.Error)
	}
	var alert types.SecurityAlert
	if err := json.Unmarshal(resp.Data, &alert); err != nil {
		t.Fatal(err)
	}
	return alert
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	alert := createTestAlert(t, ts)

	if alert.Status != types.StatusActive {
		t.Fatalf("new alert status: %q", alert.Status)
	}

	status, resp := doRequest(t, ts, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/acknowledge", testAPIKey, map[string]string{"actor": "analyst"})
	if status != http.StatusOK {
		t.Fatalf("acknowledge: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRequest(t, ts, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/resolve", testAPIKey, map[string]string{
		"actor":    "analyst",
		"findings": "blocked at the firewall",
	})
	if status != http.StatusOK {
		t.Fatalf("resolve: status=%d error=%+v", status, resp.Error)
	}

	var resolved types.SecurityAlert
	if err := json.Unmarshal(resp.Data, &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Status != types.StatusResolved {
		t.Fatalf("status after resolve: %q", resolved.Status)
	}

	// Terminal alerts reject further transitions with a conflict.
	status, resp = doRequest(t, ts, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/acknowledge", testAPIKey, nil)
	if status != http.StatusConflict {
		t.Fatalf("acknowledge after resolve: status=%d error=%+v", status, resp.Error)
	}
}

func TestAlertDeleteGuardOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)
	alert := createTestAlert(t, ts)

	status, resp := doRequest(t, ts, http.MethodDelete, "/api/v1/alerts/"+alert.ID, testAPIKey, nil)
	if status != http.StatusConflict {
		t.Fatalf("delete active alert: status=%d, want 409", status)
	}
	if resp.Error == nil || resp.Error.Code != "ELIF-002" {
		t.Fatalf("delete guard error: %+v", resp.Error)
	}

	doRequest(t, ts, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/acknowledge", testAPIKey, nil)
	doRequest(t, ts, http.MethodPut, "/api/v1/alerts/"+alert.ID+"/resolve", testAPIKey, map[string]string{"actor": "analyst"})

	status, _ = doRequest(t, ts, http.MethodDelete, "/api/v1/alerts/"+alert.ID, testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("delete resolved alert: status=%d", status)
	}
}

func TestAlertGetIncludesCorrelation(t *testing.T) {
	ts, _ := newTestServer(t)
	first := createTestAlert(t, ts)

	// Second alert shares the source IP, so it correlates with the first.
	doRequest(t, ts, http.MethodPost, "/api/v1/alerts", testAPIKey, map[string]interface{}{
		"type":  "rate_limit_abuse",
		"title": "Rate limit abuse",
		"actor": map[string]string{"ip": "203.0.113.9"},
	})

	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/alerts/"+first.ID, testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("get alert: status=%d", status)
	}
	var payload struct {
		Alert      types.SecurityAlert   `json:"alert"`
		Correlated []types.SecurityAlert `json:"correlated"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Alert.ID != first.ID {
		t.Fatalf("alert id: got %q, want %q", payload.Alert.ID, first.ID)
	}
	if len(payload.Correlated) != 1 {
		t.Fatalf("correlated: got %d, want 1", len(payload.Correlated))
	}
}

func TestAlertBulkActionsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	a := createTestAlert(t, ts)
	b := createTestAlert(t, ts)

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/alerts/bulk-actions", testAPIKey, map[string]interface{}{
		"action": "acknowledge",
		"ids":    []string{a.ID, b.ID, "alr_missing"},
		"actor":  "analyst",
	})
	if status != http.StatusOK {
		t.Fatalf("bulk acknowledge: status=%d error=%+v", status, resp.Error)
	}

	var result alerts.BulkResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Succeeded) != 2 || len(result.Failed) != 1 {
		t.Fatalf("bulk result: %+v", result)
	}
}

// ---------------------------------------------------------------------------
// Statistics and detection
// ---------------------------------------------------------------------------

func TestStatisticsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestAlert(t, ts)

	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/statistics?range=24h", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("statistics: status=%d", status)
	}
	var stats alerts.Statistics
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Fatalf("total: got %d, want 1", stats.Total)
	}

	status, _ = doRequest(t, ts, http.MethodGet, "/api/v1/statistics?range=14d", testAPIKey, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown range: status=%d, want 400", status)
	}
}

func TestDetectEndpoint(t *testing.T) {
	ts, store := newTestServer(t)

	// Seed enough failed logins from one address to trip the detector.
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		err := store.SaveAuditEvent(&types.AuditEvent{
			ID:        fmt.Sprintf("evt_%d", i),
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			EventType: types.EventLoginFailed,
			IP:        "198.51.100.7",
			Outcome:   "failure",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	status, _ := doRequest(t, ts, http.MethodPost, "/api/v1/detect", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("detect: status=%d", status)
	}

	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/alerts?type=brute_force_attack", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("list: status=%d", status)
	}
	var rows []types.SecurityAlert
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one brute force alert, got %d", len(rows))
	}
	if rows[0].Actor.IP != "198.51.100.7" {
		t.Fatalf("actor ip: %q", rows[0].Actor.IP)
	}
}

// ---------------------------------------------------------------------------
// Audit feed
// ---------------------------------------------------------------------------

func TestAuditIngestionSingleAndBatch(t *testing.T) {
	ts, _ := newTestServer(t)

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/audit/events", testAPIKey, map[string]string{
		"event_type": "access_denied",
		"ip":         "192.0.2.1",
		"resource":   "payments",
		"action":     "read",
	})
	if status != http.StatusCreated {
		t.Fatalf("single ingest: status=%d error=%+v", status, resp.Error)
	}

	status, resp = doRequest(t, ts, http.MethodPost, "/api/v1/audit/events", testAPIKey, []map[string]string{
		{"event_type": "data_export", "user_id": "usr_1"},
		{"event_type": "data_export", "user_id": "usr_1"},
	})
	if status != http.StatusCreated {
		t.Fatalf("batch ingest: status=%d error=%+v", status, resp.Error)
	}
	var result map[string]int
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatal(err)
	}
	if result["accepted"] != 2 {
		t.Fatalf("accepted: got %d, want 2", result["accepted"])
	}

	status, resp = doRequest(t, ts, http.MethodGet, "/api/v1/audit/events?limit=10", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("recent events: status=%d", status)
	}
	var events []types.AuditEvent
	if err := json.Unmarshal(resp.Data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("recent events: got %d, want 3", len(events))
	}
	for _, e := range events {
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Fatalf("ingested event missing id or timestamp: %+v", e)
		}
	}
}

func TestAuditIngestionRejectsMissingType(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := doRequest(t, ts, http.MethodPost, "/api/v1/audit/events", testAPIKey, map[string]string{"ip": "192.0.2.1"})
	if status != http.StatusBadRequest {
		t.Fatalf("missing event_type: status=%d, want 400", status)
	}
}

// ---------------------------------------------------------------------------
// Login flow
// ---------------------------------------------------------------------------

func TestLoginAndLogout(t *testing.T) {
	store, err := storage.NewSQLite(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	evaluator := rbac.NewEvaluator(store, zerolog.Nop())
	manager := rbac.NewManager(store, zerolog.Nop())
	alertSvc := alerts.NewService(store, time.Hour, 10, zerolog.Nop())

	cfg := config.WebConfig{ListenAddr: "127.0.0.1:0", SessionKey: testAPIKey}
	srv := NewServer(cfg, store, evaluator, manager, alertSvc, nil, zerolog.Nop())
	if _, err := srv.auth.EnsureDefaultAdmin("login-test-pw"); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "login-test-pw"})
	resp, err := ts.Client().Post(ts.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status=%d", resp.StatusCode)
	}

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatal("login should set a session cookie")
	}
	if !sessionCookie.HttpOnly {
		t.Fatal("session cookie should be http-only")
	}

	// The session cookie works in place of an API key.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/alerts", nil)
	req.AddCookie(sessionCookie)
	authed, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("cookie-authenticated request: status=%d", authed.StatusCode)
	}

	// Logout invalidates it.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/logout", nil)
	req.AddCookie(sessionCookie)
	out, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	out.Body.Close()
	if out.StatusCode != http.StatusOK {
		t.Fatalf("logout: status=%d", out.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/alerts", nil)
	req.AddCookie(sessionCookie)
	denied, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	denied.Body.Close()
	if denied.StatusCode != http.StatusUnauthorized {
		t.Fatalf("request after logout: status=%d, want 401", denied.StatusCode)
	}
}

func TestTOTPEnrollEndpoint(t *testing.T) {
	store, err := storage.NewSQLite(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	evaluator := rbac.NewEvaluator(store, zerolog.Nop())
	manager := rbac.NewManager(store, zerolog.Nop())
	alertSvc := alerts.NewService(store, time.Hour, 10, zerolog.Nop())

	cfg := config.WebConfig{ListenAddr: "127.0.0.1:0", SessionKey: testAPIKey, TOTPIssuer: "PraetorTest"}
	srv := NewServer(cfg, store, evaluator, manager, alertSvc, nil, zerolog.Nop())
	if _, err := srv.auth.EnsureDefaultAdmin("enroll-test-pw"); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	// Enrollment needs a session, not an API key.
	resp, err := ts.Client().Post(ts.URL+"/api/v1/auth/totp/enroll", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated enroll: status=%d, want 401", resp.StatusCode)
	}

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "enroll-test-pw"})
	login, err := ts.Client().Post(ts.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	login.Body.Close()
	var sessionCookie *http.Cookie
	for _, c := range login.Cookies() {
		if c.Name == "session" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("login should set a session cookie")
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/totp/enroll", nil)
	req.AddCookie(sessionCookie)
	enrolled, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer enrolled.Body.Close()
	if enrolled.StatusCode != http.StatusOK {
		t.Fatalf("enroll: status=%d", enrolled.StatusCode)
	}

	var decoded testResponse
	if err := json.NewDecoder(enrolled.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	var data map[string]string
	if err := json.Unmarshal(decoded.Data, &data); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(data["otpauth_url"], "otpauth://totp/") {
		t.Fatalf("otpauth_url = %q, want otpauth://totp/ provisioning URL", data["otpauth_url"])
	}

	// The secret is stored, so the next password-only login is rejected.
	relogin, err := ts.Client().Post(ts.URL+"/api/v1/auth/login", "application/json",
		bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	relogin.Body.Close()
	if relogin.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login without totp code after enrollment: status=%d, want 401", relogin.StatusCode)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	ts, store := newTestServer(t)

	am := NewAuthManager(store.DB(), config.WebConfig{}, zerolog.Nop())
	if _, err := am.EnsureDefaultAdmin("real-pw"); err != nil {
		t.Fatal(err)
	}

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad login: status=%d error=%+v", status, resp.Error)
	}

	// The failure lands in the audit trail the brute force detector scans.
	events, err := store.RecentAuditEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range events {
		if e.EventType == types.EventLoginFailed && e.Username == "admin" {
			found = true
		}
	}
	if !found {
		t.Fatal("failed login should be recorded as an audit event")
	}
}

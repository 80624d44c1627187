// Package storage provides persistent storage for Praetor using SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/praetor-sec/praetor/internal/types"
)

// SQLite implements the storage layer using SQLite3.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLite opens or creates a SQLite database.
func NewSQLite(dsn string, logger zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	s := &SQLite{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages that need direct access
// (e.g. gateway auth).
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// migrate creates the database schema.
func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS permissions (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			granted INTEGER NOT NULL DEFAULT 1,
			conditions TEXT NOT NULL DEFAULT '{}',
			description TEXT,
			is_system INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(role, resource, action)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			severity INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			title TEXT NOT NULL,
			description TEXT,
			actor_user_id TEXT,
			actor_username TEXT,
			actor_ip TEXT,
			actor_role TEXT,
			source_component TEXT,
			source_detail TEXT,
			metric_count INTEGER NOT NULL DEFAULT 1,
			metric_threshold INTEGER NOT NULL DEFAULT 0,
			metric_window INTEGER NOT NULL DEFAULT 0,
			detection_method TEXT,
			detection_confidence REAL NOT NULL DEFAULT 0,
			detection_rule TEXT,
			context TEXT NOT NULL DEFAULT '{}',
			first_occurrence DATETIME NOT NULL,
			last_occurrence DATETIME NOT NULL,
			suppressed INTEGER NOT NULL DEFAULT 0,
			suppressed_until DATETIME,
			acknowledged_at DATETIME,
			acknowledged_by TEXT,
			notes TEXT NOT NULL DEFAULT '[]',
			inv_assigned_to TEXT,
			inv_started_at DATETIME,
			inv_findings TEXT,
			inv_recommendations TEXT,
			inv_resolved_at DATETIME,
			inv_resolved_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			event_type TEXT NOT NULL,
			user_id TEXT,
			username TEXT,
			role TEXT,
			ip TEXT,
			resource TEXT,
			action TEXT,
			outcome TEXT,
			detail TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT,
			password_hash TEXT NOT NULL,
			totp_secret TEXT,
			role TEXT NOT NULL DEFAULT 'viewer',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_login DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permissions_role ON permissions(role)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_first_occurrence ON alerts(first_occurrence)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_actor_ip ON alerts(actor_ip)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_actor_user ON alerts(actor_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type_time ON audit_events(event_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, m)
		}
	}

	s.logger.Info().Msg("database migrations complete")
	return nil
}

// --- Permission Storage ---

// UpsertPermission inserts a rule or, when the (role, resource, action)
// triple already exists, updates the existing row in place. The original
// row's id and created_at are preserved so upserts never duplicate.
func (s *SQLite) UpsertPermission(rule *types.PermissionRule) error {
	condJSON, _ := json.Marshal(rule.Conditions)
	_, err := s.db.Exec(
		`INSERT INTO permissions (id, role, resource, action, granted, conditions, description, is_system, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(role, resource, action) DO UPDATE SET
			granted = excluded.granted,
			conditions = excluded.conditions,
			description = excluded.description,
			is_system = excluded.is_system,
			updated_at = excluded.updated_at`,
		rule.ID, string(rule.Role), string(rule.Resource), string(rule.Action),
		boolToInt(rule.Granted), string(condJSON), rule.Description,
		boolToInt(rule.IsSystem), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetPermission retrieves the unique rule for a (role, resource, action)
// triple. Returns (nil, nil) when no rule exists.
func (s *SQLite) GetPermission(role types.Role, resource types.Resource, action types.Action) (*types.PermissionRule, error) {
	row := s.db.QueryRow(
		`SELECT id, role, resource, action, granted, conditions, description, is_system, created_at, updated_at
		 FROM permissions WHERE role = ? AND resource = ? AND action = ?`,
		string(role), string(resource), string(action),
	)
	return scanPermission(row)
}

// GetPermissionByID retrieves a rule by its id. Returns (nil, nil) when absent.
func (s *SQLite) GetPermissionByID(id string) (*types.PermissionRule, error) {
	row := s.db.QueryRow(
		`SELECT id, role, resource, action, granted, conditions, description, is_system, created_at, updated_at
		 FROM permissions WHERE id = ?`, id,
	)
	return scanPermission(row)
}

// ListRolePermissions returns every rule for one role.
func (s *SQLite) ListRolePermissions(role types.Role) ([]types.PermissionRule, error) {
	rows, err := s.db.Query(
		`SELECT id, role, resource, action, granted, conditions, description, is_system, created_at, updated_at
		 FROM permissions WHERE role = ? ORDER BY resource, action`, string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPermissions(rows)
}

// ListAllPermissions returns every stored rule.
func (s *SQLite) ListAllPermissions() ([]types.PermissionRule, error) {
	rows, err := s.db.Query(
		`SELECT id, role, resource, action, granted, conditions, description, is_system, created_at, updated_at
		 FROM permissions ORDER BY role, resource, action`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPermissions(rows)
}

// DeletePermissionByID removes one rule. Returns the number of rows removed.
func (s *SQLite) DeletePermissionByID(id string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM permissions WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteRolePermissions bulk-deletes a role's rules. System rules are kept
// unless includeSystem is set.
func (s *SQLite) DeleteRolePermissions(role types.Role, includeSystem bool) (int64, error) {
	query := `DELETE FROM permissions WHERE role = ?`
	if !includeSystem {
		query += ` AND is_system = 0`
	}
	res, err := s.db.Exec(query, string(role))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PermissionCount returns the total number of stored rules.
func (s *SQLite) PermissionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM permissions`).Scan(&count)
	return count, err
}

// --- Alert Storage ---

// SaveAlert persists a new security alert.
func (s *SQLite) SaveAlert(alert *types.SecurityAlert) error {
	ctxJSON, _ := json.Marshal(alert.Context)
	notesJSON, _ := json.Marshal(alert.Notes)
	_, err := s.db.Exec(
		`INSERT INTO alerts (
			id, type, severity, status, title, description,
			actor_user_id, actor_username, actor_ip, actor_role,
			source_component, source_detail,
			metric_count, metric_threshold, metric_window,
			detection_method, detection_confidence, detection_rule,
			context, first_occurrence, last_occurrence,
			suppressed, suppressed_until, acknowledged_at, acknowledged_by,
			notes, inv_assigned_to, inv_started_at, inv_findings,
			inv_recommendations, inv_resolved_at, inv_resolved_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, string(alert.Type), int(alert.Severity), string(alert.Status),
		alert.Title, alert.Description,
		alert.Actor.UserID, alert.Actor.Username, alert.Actor.IP, alert.Actor.Role,
		alert.Source.Component, alert.Source.Detail,
		alert.Metrics.Count, alert.Metrics.Threshold, int64(alert.Metrics.Window),
		alert.Detection.Method, alert.Detection.Confidence, alert.Detection.RuleName,
		string(ctxJSON), alert.FirstOccurrence, alert.LastOccurrence,
		boolToInt(alert.Suppressed), alert.SuppressedUntil,
		alert.AcknowledgedAt, alert.AcknowledgedBy,
		string(notesJSON), alert.Investigation.AssignedTo, alert.Investigation.StartedAt,
		alert.Investigation.Findings, alert.Investigation.Recommendations,
		alert.Investigation.ResolvedAt, alert.Investigation.ResolvedBy,
		alert.CreatedAt, alert.UpdatedAt,
	)
	return err
}

// GetAlert retrieves an alert by id. Returns (nil, nil) when absent.
func (s *SQLite) GetAlert(id string) (*types.SecurityAlert, error) {
	row := s.db.QueryRow(selectAlertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlertRow(row)
}

// UpdateAlert rewrites every mutable column of an alert. The id, type and
// first_occurrence never change after creation.
func (s *SQLite) UpdateAlert(alert *types.SecurityAlert) error {
	ctxJSON, _ := json.Marshal(alert.Context)
	notesJSON, _ := json.Marshal(alert.Notes)
	_, err := s.db.Exec(
		`UPDATE alerts SET
			severity = ?, status = ?, title = ?, description = ?,
			actor_user_id = ?, actor_username = ?, actor_ip = ?, actor_role = ?,
			metric_count = ?, metric_threshold = ?, metric_window = ?,
			context = ?, last_occurrence = ?,
			suppressed = ?, suppressed_until = ?, acknowledged_at = ?, acknowledged_by = ?,
			notes = ?, inv_assigned_to = ?, inv_started_at = ?, inv_findings = ?,
			inv_recommendations = ?, inv_resolved_at = ?, inv_resolved_by = ?,
			updated_at = ?
		 WHERE id = ?`,
		int(alert.Severity), string(alert.Status), alert.Title, alert.Description,
		alert.Actor.UserID, alert.Actor.Username, alert.Actor.IP, alert.Actor.Role,
		alert.Metrics.Count, alert.Metrics.Threshold, int64(alert.Metrics.Window),
		string(ctxJSON), alert.LastOccurrence,
		boolToInt(alert.Suppressed), alert.SuppressedUntil,
		alert.AcknowledgedAt, alert.AcknowledgedBy,
		string(notesJSON), alert.Investigation.AssignedTo, alert.Investigation.StartedAt,
		alert.Investigation.Findings, alert.Investigation.Recommendations,
		alert.Investigation.ResolvedAt, alert.Investigation.ResolvedBy,
		alert.UpdatedAt, alert.ID,
	)
	return err
}

// DeleteAlert removes an alert row. Lifecycle guards live above storage.
func (s *SQLite) DeleteAlert(id string) error {
	_, err := s.db.Exec(`DELETE FROM alerts WHERE id = ?`, id)
	return err
}

// AlertFilter narrows ListAlerts results. Zero values mean "no filter".
type AlertFilter struct {
	Status      types.AlertStatus
	Type        types.AlertType
	MinSeverity *types.Severity
	ActorIP     string
	ActorUserID string
	Since       time.Time
	Limit       int
	Offset      int
}

// ListAlerts returns alerts matching the filter, newest first, plus the
// total number of matches before pagination.
func (s *SQLite) ListAlerts(filter AlertFilter) ([]types.SecurityAlert, int, error) {
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.MinSeverity != nil {
		conds = append(conds, "severity >= ?")
		args = append(args, int(*filter.MinSeverity))
	}
	if filter.ActorIP != "" {
		conds = append(conds, "actor_ip = ?")
		args = append(args, filter.ActorIP)
	}
	if filter.ActorUserID != "" {
		conds = append(conds, "actor_user_id = ?")
		args = append(args, filter.ActorUserID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "first_occurrence >= ?")
		args = append(args, filter.Since)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	query := selectAlertColumns + ` FROM alerts` + where +
		` ORDER BY first_occurrence DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	return alerts, total, err
}

// ListAlertsSince returns every alert whose first occurrence is at or after
// the given time. Used by the statistics aggregator.
func (s *SQLite) ListAlertsSince(since time.Time) ([]types.SecurityAlert, error) {
	rows, err := s.db.Query(
		selectAlertColumns+` FROM alerts WHERE first_occurrence >= ? ORDER BY first_occurrence DESC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// CorrelatedAlerts finds open alerts related to the target: same actor IP,
// same actor user id, or same type, with first_occurrence inside ±window of
// the target's. The target itself is always excluded.
func (s *SQLite) CorrelatedAlerts(target *types.SecurityAlert, window time.Duration, limit int) ([]types.SecurityAlert, error) {
	var dims []string
	var args []interface{}

	args = append(args,
		target.ID,
		target.FirstOccurrence.Add(-window),
		target.FirstOccurrence.Add(window),
	)

	if target.Actor.IP != "" {
		dims = append(dims, "actor_ip = ?")
		args = append(args, target.Actor.IP)
	}
	if target.Actor.UserID != "" {
		dims = append(dims, "actor_user_id = ?")
		args = append(args, target.Actor.UserID)
	}
	dims = append(dims, "type = ?")
	args = append(args, string(target.Type))

	args = append(args, limit)

	query := selectAlertColumns + ` FROM alerts
		 WHERE status IN ('active', 'acknowledged', 'investigating')
		   AND id != ?
		   AND first_occurrence >= ? AND first_occurrence <= ?
		   AND (` + strings.Join(dims, " OR ") + `)
		 LIMIT ?`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// CountAlertsBetween counts alerts first seen in [start, end).
func (s *SQLite) CountAlertsBetween(start, end time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE first_occurrence >= ? AND first_occurrence < ?`,
		start, end,
	).Scan(&count)
	return count, err
}

// ActiveAlertCount returns the number of alerts in a non-terminal status.
func (s *SQLite) ActiveAlertCount() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE status IN ('active', 'acknowledged', 'investigating')`,
	).Scan(&count)
	return count, err
}

// CriticalAlertCount returns the number of open critical alerts.
func (s *SQLite) CriticalAlertCount() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM alerts
		 WHERE status IN ('active', 'acknowledged', 'investigating') AND severity = ?`,
		int(types.SeverityCritical),
	).Scan(&count)
	return count, err
}

// --- Audit Event Log ---

// SaveAuditEvent records one activity log entry. Callers treat failures as
// non-critical: they log and continue.
func (s *SQLite) SaveAuditEvent(event *types.AuditEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (id, timestamp, event_type, user_id, username, role, ip, resource, action, outcome, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, event.EventType, event.UserID, event.Username,
		event.Role, event.IP, event.Resource, event.Action, event.Outcome, event.Detail,
	)
	return err
}

// auditDimensions whitelists the GROUP BY columns detectors may use.
var auditDimensions = map[string]string{
	"ip":       "ip",
	"user_id":  "user_id",
	"username": "username",
}

// CountEventsByDimension aggregates audit events of one type since the given
// time, grouped by a whitelisted dimension column. Empty dimension values
// are excluded from the result.
func (s *SQLite) CountEventsByDimension(eventType, dimension string, since time.Time) (map[string]int, error) {
	col, ok := auditDimensions[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown audit dimension %q", dimension)
	}

	rows, err := s.db.Query(
		`SELECT `+col+`, COUNT(*) FROM audit_events
		 WHERE event_type = ? AND timestamp >= ? AND `+col+` != ''
		 GROUP BY `+col, eventType, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// RecentAuditEvents returns the most recent activity log entries.
func (s *SQLite) RecentAuditEvents(limit int) ([]types.AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, event_type, user_id, username, role, ip, resource, action, outcome, detail
		 FROM audit_events ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.AuditEvent
	for rows.Next() {
		var e types.AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.UserID, &e.Username,
			&e.Role, &e.IP, &e.Resource, &e.Action, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- User Directory ---

// GetUserIdentity resolves a user id to directory details for alert
// enrichment. Returns (nil, nil) when the user is unknown.
func (s *SQLite) GetUserIdentity(id string) (*types.UserIdentity, error) {
	var u types.UserIdentity
	var email sql.NullString
	err := s.db.QueryRow(
		`SELECT id, username, email, role FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &email, &u.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	return &u, nil
}

// --- Scan helpers ---

const selectAlertColumns = `SELECT
	id, type, severity, status, title, description,
	actor_user_id, actor_username, actor_ip, actor_role,
	source_component, source_detail,
	metric_count, metric_threshold, metric_window,
	detection_method, detection_confidence, detection_rule,
	context, first_occurrence, last_occurrence,
	suppressed, suppressed_until, acknowledged_at, acknowledged_by,
	notes, inv_assigned_to, inv_started_at, inv_findings,
	inv_recommendations, inv_resolved_at, inv_resolved_by,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(r rowScanner) (*types.SecurityAlert, error) {
	var a types.SecurityAlert
	var sev, suppressed int
	var windowNS int64
	var description, actorUserID, actorUsername, actorIP, actorRole sql.NullString
	var sourceComponent, sourceDetail, detMethod, detRule, ackBy sql.NullString
	var invAssigned, invFindings, invRecs, invResolvedBy sql.NullString
	var ctxJSON, notesJSON string

	err := r.Scan(
		&a.ID, &a.Type, &sev, &a.Status, &a.Title, &description,
		&actorUserID, &actorUsername, &actorIP, &actorRole,
		&sourceComponent, &sourceDetail,
		&a.Metrics.Count, &a.Metrics.Threshold, &windowNS,
		&detMethod, &a.Detection.Confidence, &detRule,
		&ctxJSON, &a.FirstOccurrence, &a.LastOccurrence,
		&suppressed, &a.SuppressedUntil, &a.AcknowledgedAt, &ackBy,
		&notesJSON, &invAssigned, &a.Investigation.StartedAt, &invFindings,
		&invRecs, &a.Investigation.ResolvedAt, &invResolvedBy,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Severity = types.Severity(sev)
	a.Metrics.Window = time.Duration(windowNS)
	a.Suppressed = suppressed != 0
	a.Description = description.String
	a.Actor = types.Actor{
		UserID:   actorUserID.String,
		Username: actorUsername.String,
		IP:       actorIP.String,
		Role:     actorRole.String,
	}
	a.Source = types.AlertSource{Component: sourceComponent.String, Detail: sourceDetail.String}
	a.Detection.Method = detMethod.String
	a.Detection.RuleName = detRule.String
	a.AcknowledgedBy = ackBy.String
	a.Investigation.AssignedTo = invAssigned.String
	a.Investigation.Findings = invFindings.String
	a.Investigation.Recommendations = invRecs.String
	a.Investigation.ResolvedBy = invResolvedBy.String
	json.Unmarshal([]byte(ctxJSON), &a.Context)
	json.Unmarshal([]byte(notesJSON), &a.Notes)

	return &a, nil
}

func scanAlertRow(row *sql.Row) (*types.SecurityAlert, error) {
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func scanAlerts(rows *sql.Rows) ([]types.SecurityAlert, error) {
	var alerts []types.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanPermission(row *sql.Row) (*types.PermissionRule, error) {
	var p types.PermissionRule
	var granted, isSystem int
	var condJSON string
	var description sql.NullString
	err := row.Scan(&p.ID, &p.Role, &p.Resource, &p.Action, &granted,
		&condJSON, &description, &isSystem, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Granted = granted != 0
	p.IsSystem = isSystem != 0
	p.Description = description.String
	json.Unmarshal([]byte(condJSON), &p.Conditions)
	return &p, nil
}

func scanPermissions(rows *sql.Rows) ([]types.PermissionRule, error) {
	var rules []types.PermissionRule
	for rows.Next() {
		var p types.PermissionRule
		var granted, isSystem int
		var condJSON string
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Role, &p.Resource, &p.Action, &granted,
			&condJSON, &description, &isSystem, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Granted = granted != 0
		p.IsSystem = isSystem != 0
		p.Description = description.String
		json.Unmarshal([]byte(condJSON), &p.Conditions)
		rules = append(rules, p)
	}
	return rules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

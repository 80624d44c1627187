// Package types defines core data structures used across Praetor.
package types

import (
	"encoding/json"
	"time"
)

// Severity levels for security alerts.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the lowercase severity names. Unknown values parse
// as info.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseSeverity(name)
	return nil
}

// ParseSeverity converts a string severity to the enum.
func ParseSeverity(s string) Severity {
	switch s {
	case "info":
		return SeverityInfo
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Role is one of the platform's fixed roles. Permissions are granted to
// roles, never to individual users.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleDispatcher Role = "dispatcher"
	RoleSupport    Role = "support"
	RoleDriver     Role = "driver"
	RoleRider      Role = "rider"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleDispatcher, RoleSupport, RoleDriver, RoleRider}
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleManager, RoleDispatcher, RoleSupport, RoleDriver, RoleRider:
		return true
	}
	return false
}

// Resource names a protected resource class.
type Resource string

const (
	ResourceUsers       Resource = "users"
	ResourceTrips       Resource = "trips"
	ResourceVehicles    Resource = "vehicles"
	ResourcePayments    Resource = "payments"
	ResourceReports     Resource = "reports"
	ResourceAlerts      Resource = "alerts"
	ResourcePermissions Resource = "permissions"
	ResourceSettings    Resource = "settings"
	ResourceAuditLog    Resource = "audit_log"
)

// Resources lists every protected resource in a stable order.
func Resources() []Resource {
	return []Resource{
		ResourceUsers, ResourceTrips, ResourceVehicles, ResourcePayments,
		ResourceReports, ResourceAlerts, ResourcePermissions, ResourceSettings,
		ResourceAuditLog,
	}
}

// Action is an operation a role may perform on a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionList    Action = "list"
	ActionExport  Action = "export"
	ActionImport  Action = "import"
	ActionApprove Action = "approve"
	ActionAssign  Action = "assign"
	ActionManage  Action = "manage"
	ActionExecute Action = "execute"
)

// Actions lists every permission action in a stable order.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList,
		ActionExport, ActionImport, ActionApprove, ActionAssign, ActionManage,
		ActionExecute,
	}
}

// ConditionMap holds dynamic permission conditions as key → expected value.
// Matching is AND-only: every key must be present in the request context with
// an exactly equal value. There is no OR and no negation.
type ConditionMap map[string]string

// Matches reports whether ctx satisfies every condition. An empty map is an
// unconditional match.
func (c ConditionMap) Matches(ctx map[string]string) bool {
	for key, want := range c {
		got, ok := ctx[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// PermissionRule grants or denies one (role, resource, action) combination.
// The triple is unique: writes use upsert semantics, never duplicates.
type PermissionRule struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Resource    Resource     `json:"resource"`
	Action      Action       `json:"action"`
	Granted     bool         `json:"granted"`
	Conditions  ConditionMap `json:"conditions,omitempty"`
	Description string       `json:"description,omitempty"`
	IsSystem    bool         `json:"is_system"` // system rules cannot be deleted, only modified
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// AlertType categorizes the threat a SecurityAlert describes.
type AlertType string

const (
	AlertBruteForce          AlertType = "brute_force_attack"
	AlertRateLimitAbuse      AlertType = "rate_limit_abuse"
	AlertUnauthorizedAccess  AlertType = "unauthorized_access"
	AlertSessionAnomaly      AlertType = "session_anomaly"
	AlertPermissionViolation AlertType = "permission_violation"
	AlertDataExfiltration    AlertType = "data_exfiltration"
	AlertSuspiciousActivity  AlertType = "suspicious_activity"
)

// AlertStatus tracks the lifecycle of a security alert.
type AlertStatus string

const (
	StatusActive        AlertStatus = "active"
	StatusAcknowledged  AlertStatus = "acknowledged"
	StatusInvestigating AlertStatus = "investigating"
	StatusResolved      AlertStatus = "resolved"
	StatusFalsePositive AlertStatus = "false_positive"
	StatusIgnored       AlertStatus = "ignored"
)

// Terminal reports whether no further lifecycle transition is defined from s.
func (s AlertStatus) Terminal() bool {
	switch s {
	case StatusResolved, StatusFalsePositive, StatusIgnored:
		return true
	}
	return false
}

// OpenStatuses lists the non-terminal statuses used by correlation queries.
func OpenStatuses() []AlertStatus {
	return []AlertStatus{StatusActive, StatusAcknowledged, StatusInvestigating}
}

// Actor identifies who or what triggered an alert. All fields are optional.
type Actor struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	IP       string `json:"ip,omitempty"`
	Role     string `json:"role,omitempty"`
}

// AlertSource records which component raised the alert.
type AlertSource struct {
	Component string `json:"component"`
	Detail    string `json:"detail,omitempty"`
}

// AlertMetrics carries the counters behind a threshold detection.
type AlertMetrics struct {
	Count     int           `json:"count"`
	Threshold int           `json:"threshold,omitempty"`
	Window    time.Duration `json:"window,omitempty"`
}

// Detection describes how an alert was produced.
type Detection struct {
	Method     string  `json:"method"`     // "threshold", "manual"
	Confidence float64 `json:"confidence"` // 0.0 - 1.0
	RuleName   string  `json:"rule_name,omitempty"`
}

// AlertContext holds per-type typed metadata. Exactly the fields relevant to
// the alert's type are populated; the rest stay zero.
//
//	brute_force_attack   : nothing beyond Actor/Metrics
//	rate_limit_abuse     : Endpoint
//	unauthorized_access  : TargetResource, TargetAction
//	session_anomaly      : SessionCount
//	permission_violation : TargetResource, TargetAction
//	data_exfiltration    : ExportCount, TargetResource
type AlertContext struct {
	Endpoint       string `json:"endpoint,omitempty"`
	TargetResource string `json:"target_resource,omitempty"`
	TargetAction   string `json:"target_action,omitempty"`
	SessionCount   int    `json:"session_count,omitempty"`
	ExportCount    int    `json:"export_count,omitempty"`
}

// AlertNote is an append-only annotation on an alert.
type AlertNote struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Investigation records assignment and outcome of an alert investigation.
type Investigation struct {
	AssignedTo      string     `json:"assigned_to,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Findings        string     `json:"findings,omitempty"`
	Recommendations string     `json:"recommendations,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
}

// SecurityAlert is a detected or manually reported threat. The ID is
// immutable after creation and FirstOccurrence <= LastOccurrence always holds.
type SecurityAlert struct {
	ID              string        `json:"id"`
	Type            AlertType     `json:"type"`
	Severity        Severity      `json:"severity"`
	Status          AlertStatus   `json:"status"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Actor           Actor         `json:"actor"`
	Source          AlertSource   `json:"source"`
	Metrics         AlertMetrics  `json:"metrics"`
	Detection       Detection     `json:"detection"`
	Context         AlertContext  `json:"context"`
	FirstOccurrence time.Time     `json:"first_occurrence"`
	LastOccurrence  time.Time     `json:"last_occurrence"`
	Suppressed      bool          `json:"suppressed"`
	SuppressedUntil *time.Time    `json:"suppressed_until,omitempty"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty"`
	Notes           []AlertNote   `json:"notes,omitempty"`
	Investigation   Investigation `json:"investigation"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// AuditEvent is one entry in the historical activity log the detectors scan.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Role      string    `json:"role,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Action    string    `json:"action,omitempty"`
	Outcome   string    `json:"outcome,omitempty"` // "success", "failure", "denied"
	Detail    string    `json:"detail,omitempty"`
}

// Audit event types the detectors aggregate over.
const (
	EventLoginFailed       = "login_failed"
	EventLoginSuccess      = "login_success"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventAccessDenied      = "access_denied"
	EventSessionCreated    = "session_created"
	EventPermissionDenied  = "permission_denied"
	EventDataExport        = "data_export"
)

// DetectionThresholds is the live, runtime-mutable threshold configuration
// read by every detector on each run.
type DetectionThresholds struct {
	FailedLoginsPerIP   int `json:"failed_logins_per_ip" yaml:"failed_logins_per_ip"`
	FailedLoginsPerUser int `json:"failed_logins_per_user" yaml:"failed_logins_per_user"`
	RateLimitHits       int `json:"rate_limit_hits" yaml:"rate_limit_hits"`
	UnauthorizedAccess  int `json:"unauthorized_access" yaml:"unauthorized_access"`
	ConcurrentSessions  int `json:"concurrent_sessions" yaml:"concurrent_sessions"`
	PermissionDenials   int `json:"permission_denials" yaml:"permission_denials"`
	DataExports         int `json:"data_exports" yaml:"data_exports"`
}

// DefaultThresholds returns the baseline detection thresholds.
func DefaultThresholds() DetectionThresholds {
	return DetectionThresholds{
		FailedLoginsPerIP:   5,
		FailedLoginsPerUser: 5,
		RateLimitHits:       10,
		UnauthorizedAccess:  5,
		ConcurrentSessions:  5,
		PermissionDenials:   10,
		DataExports:         10,
	}
}

// UserIdentity is the directory record used to enrich alerts with a
// human-readable actor.
type UserIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// SystemHealth exposes current service health metrics.
type SystemHealth struct {
	Uptime          time.Duration `json:"uptime"`
	ActiveAlerts    int           `json:"active_alerts"`
	CriticalAlerts  int           `json:"critical_alerts"`
	PermissionRules int           `json:"permission_rules"`
	DetectorsRun    int64         `json:"detectors_run"`
	Version         string        `json:"version"`
}

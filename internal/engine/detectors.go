package engine

import (
	"fmt"
	"time"

	"github.com/praetor-sec/praetor/internal/types"
)

// AuditQuery is the read-only aggregation port detectors scan. The returned
// map is dimension value to event count within [since, now).
type AuditQuery interface {
	CountEventsByDimension(eventType, dimension string, since time.Time) (map[string]int, error)
}

// UserDirectory resolves a user id to a human-readable identity for alert
// enrichment. Lookup failures are non-fatal.
type UserDirectory interface {
	GetUserIdentity(id string) (*types.UserIdentity, error)
}

// detector is one fixed threshold rule. All detectors share the same shape:
// count events of one type grouped by one dimension, compare against a
// configurable threshold, and emit an alert per offending group.
type detector struct {
	name         string
	eventType    string
	dimension    string // "ip", "user_id" or "username"
	alertType    types.AlertType
	baseSeverity types.Severity
	threshold    func(types.DetectionThresholds) int
	describe     func(dimension string, count int) (title, description string)
	context      func(dimension string, count int) types.AlertContext
}

// detectors is the fixed rule set run on every scheduler tick.
var detectors = []detector{
	{
		name:         "failed_logins_by_ip",
		eventType:    types.EventLoginFailed,
		dimension:    "ip",
		alertType:    types.AlertBruteForce,
		baseSeverity: types.SeverityHigh,
		threshold:    func(t types.DetectionThresholds) int { return t.FailedLoginsPerIP },
		describe: func(dim string, count int) (string, string) {
			return fmt.Sprintf("Brute force attack from %s", dim),
				fmt.Sprintf("%d failed login attempts from IP %s in the last hour", count, dim)
		},
	},
	{
		name:         "failed_logins_by_user",
		eventType:    types.EventLoginFailed,
		dimension:    "username",
		alertType:    types.AlertBruteForce,
		baseSeverity: types.SeverityHigh,
		threshold:    func(t types.DetectionThresholds) int { return t.FailedLoginsPerUser },
		describe: func(dim string, count int) (string, string) {
			return fmt.Sprintf("Brute force attack against account %s", dim),
				fmt.Sprintf("%d failed login attempts against account %s in the last hour", count, dim)
		},
	},
	{
		name:         "rate_limit_abuse",
		eventType:    types.EventRateLimitExceeded,
		dimension:    "ip",
		alertType:    types.AlertRateLimitAbuse,
		baseSeverity: types.SeverityMedium,
		threshold:    func(t types.DetectionThresholds) int { return t.RateLimitHits },
		describe: func(dim string, count int) (string, string) {
			return fmt.Sprintf("Rate limit abuse from %s", dim),
				fmt.Sprintf("IP %s exceeded rate limits %d times in the last hour", dim, count)
		},
	},
	{
		name:         "unauthorized_access",
		eventType:    types.EventAccessDenied,
		dimension:    "ip",
		alertType:    types.AlertUnauthorizedAccess,
		baseSeverity: types.SeverityHigh,
		threshold:    func(t types.DetectionThresholds) int { return t.UnauthorizedAccess },
		describe: func(dim string, count int) (string, string) {
			return fmt.Sprintf("Unauthorized access attempts from %s", dim),
				fmt.Sprintf("%d denied access attempts from IP %s in the last hour", count, dim)
		},
	},
	{
		name:         "session_anomaly",
		eventType:    types.EventSessionCreated,
		dimension:    "user_id",
		alertType:    types.AlertSessionAnomaly,
		baseSeverity: types.SeverityMedium,
		threshold:    func(t types.DetectionThresholds) int { return t.ConcurrentSessions },
		describe: func(dim string, count int) (string, string) {
			return "Session anomaly detected",
				fmt.Sprintf("User %s opened %d sessions in the last hour", dim, count)
		},
		context: func(dim string, count int) types.AlertContext {
			return types.AlertContext{SessionCount: count}
		},
	},
	{
		name:         "permission_violations",
		eventType:    types.EventPermissionDenied,
		dimension:    "user_id",
		alertType:    types.AlertPermissionViolation,
		baseSeverity: types.SeverityMedium,
		threshold:    func(t types.DetectionThresholds) int { return t.PermissionDenials },
		describe: func(dim string, count int) (string, string) {
			return "Repeated permission violations",
				fmt.Sprintf("User %s was denied by permission checks %d times in the last hour", dim, count)
		},
	},
	{
		name:         "data_exfiltration",
		eventType:    types.EventDataExport,
		dimension:    "user_id",
		alertType:    types.AlertDataExfiltration,
		baseSeverity: types.SeverityHigh,
		threshold:    func(t types.DetectionThresholds) int { return t.DataExports },
		describe: func(dim string, count int) (string, string) {
			return "Possible data exfiltration",
				fmt.Sprintf("User %s performed %d data exports in the last hour", dim, count)
		},
		context: func(dim string, count int) types.AlertContext {
			return types.AlertContext{ExportCount: count}
		},
	},
}

// severityFor tiers severity by magnitude: reaching twice the threshold
// escalates one level.
func severityFor(base types.Severity, count, threshold int) types.Severity {
	if threshold > 0 && count >= 2*threshold {
		switch base {
		case types.SeverityHigh:
			return types.SeverityCritical
		case types.SeverityMedium:
			return types.SeverityHigh
		case types.SeverityLow:
			return types.SeverityMedium
		}
	}
	return base
}

// actorFor builds the alert actor from the grouping dimension, enriching
// user ids through the directory when possible.
func actorFor(dim, value string, users UserDirectory) types.Actor {
	switch dim {
	case "ip":
		return types.Actor{IP: value}
	case "username":
		return types.Actor{Username: value}
	case "user_id":
		actor := types.Actor{UserID: value}
		if users != nil {
			if identity, err := users.GetUserIdentity(value); err == nil && identity != nil {
				actor.Username = identity.Username
				actor.Role = identity.Role
			}
		}
		return actor
	}
	return types.Actor{}
}

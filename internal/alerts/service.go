// Package alerts implements the security alert lifecycle. Every status
// mutation goes through the Service so the state machine guards hold:
// active -> acknowledged -> investigating -> resolved | false_positive |
// ignored, with terminal states frozen and deletion restricted to them.
package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

// Store is the persistence surface the alert service needs. *storage.SQLite
// satisfies it.
type Store interface {
	SaveAlert(alert *types.SecurityAlert) error
	GetAlert(id string) (*types.SecurityAlert, error)
	UpdateAlert(alert *types.SecurityAlert) error
	DeleteAlert(id string) error
	ListAlerts(filter storage.AlertFilter) ([]types.SecurityAlert, int, error)
	ListAlertsSince(since time.Time) ([]types.SecurityAlert, error)
	CorrelatedAlerts(target *types.SecurityAlert, window time.Duration, limit int) ([]types.SecurityAlert, error)
	CountAlertsBetween(start, end time.Time) (int, error)
	ActiveAlertCount() (int, error)
	CriticalAlertCount() (int, error)
	SaveAuditEvent(event *types.AuditEvent) error
}

// Service owns alert persistence and lifecycle transitions.
type Service struct {
	store             Store
	correlationWindow time.Duration
	correlationLimit  int
	logger            zerolog.Logger
}

// NewService creates the alert service. Zero window and limit fall back to
// one hour and ten results.
func NewService(store Store, correlationWindow time.Duration, correlationLimit int, logger zerolog.Logger) *Service {
	if correlationWindow <= 0 {
		correlationWindow = time.Hour
	}
	if correlationLimit <= 0 {
		correlationLimit = 10
	}
	return &Service{
		store:             store,
		correlationWindow: correlationWindow,
		correlationLimit:  correlationLimit,
		logger:            logger.With().Str("component", "alerts").Logger(),
	}
}

// CreateAlert persists a new alert in the active state. Ids and timestamps
// are assigned here; callers supply type, severity and context.
func (s *Service) CreateAlert(alert *types.SecurityAlert) (*types.SecurityAlert, error) {
	if alert.Type == "" {
		return nil, errors.New(errors.ErrMissingParam, "alert type is required")
	}
	if alert.Title == "" {
		return nil, errors.New(errors.ErrMissingParam, "alert title is required")
	}

	now := time.Now().UTC()
	alert.ID = "alr_" + uuid.NewString()
	alert.Status = types.StatusActive
	if alert.FirstOccurrence.IsZero() {
		alert.FirstOccurrence = now
	}
	if alert.LastOccurrence.Before(alert.FirstOccurrence) {
		alert.LastOccurrence = alert.FirstOccurrence
	}
	alert.CreatedAt = now
	alert.UpdatedAt = now

	if err := s.store.SaveAlert(alert); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "saving alert", err)
	}
	s.logger.Info().
		Str("alert_id", alert.ID).
		Str("type", string(alert.Type)).
		Str("severity", alert.Severity.String()).
		Msg("Alert created")
	return alert, nil
}

// Get returns one alert by id.
func (s *Service) Get(id string) (*types.SecurityAlert, error) {
	alert, err := s.store.GetAlert(id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "loading alert", err)
	}
	if alert == nil {
		return nil, errors.Newf(errors.ErrNotFound, "alert %s not found", id)
	}
	return alert, nil
}

// List returns a filtered page of alerts plus the total match count.
func (s *Service) List(filter storage.AlertFilter) ([]types.SecurityAlert, int, error) {
	alerts, total, err := s.store.ListAlerts(filter)
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrStorage, "listing alerts", err)
	}
	return alerts, total, nil
}

// Acknowledge moves an alert to acknowledged. Permitted from any
// non-terminal state.
func (s *Service) Acknowledge(id, actor string) (*types.SecurityAlert, error) {
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		alert.Status = types.StatusAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = actor
		return nil
	})
}

// StartInvestigation moves an alert to investigating and records the
// assignee.
func (s *Service) StartInvestigation(id, assignee string) (*types.SecurityAlert, error) {
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		alert.Status = types.StatusInvestigating
		alert.Investigation.AssignedTo = assignee
		alert.Investigation.StartedAt = &now
		return nil
	})
}

// Resolve closes an alert as resolved with optional findings. Terminal.
func (s *Service) Resolve(id, actor, findings, recommendations string) (*types.SecurityAlert, error) {
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		alert.Status = types.StatusResolved
		alert.Investigation.ResolvedAt = &now
		alert.Investigation.ResolvedBy = actor
		if findings != "" {
			alert.Investigation.Findings = findings
		}
		if recommendations != "" {
			alert.Investigation.Recommendations = recommendations
		}
		return nil
	})
}

// MarkFalsePositive closes an alert as a false positive, documenting the
// reason as a note. Terminal.
func (s *Service) MarkFalsePositive(id, actor, reason string) (*types.SecurityAlert, error) {
	if reason == "" {
		return nil, errors.New(errors.ErrMissingParam, "a reason is required to mark a false positive")
	}
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		alert.Status = types.StatusFalsePositive
		alert.Notes = append(alert.Notes, types.AlertNote{
			Author:    actor,
			Text:      "Marked false positive: " + reason,
			CreatedAt: now,
		})
		return nil
	})
}

// Ignore closes an alert as ignored. Terminal.
func (s *Service) Ignore(id, actor string) (*types.SecurityAlert, error) {
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		alert.Status = types.StatusIgnored
		alert.Notes = append(alert.Notes, types.AlertNote{
			Author:    actor,
			Text:      "Alert ignored",
			CreatedAt: now,
		})
		return nil
	})
}

// Suppress silences an alert for the given duration without changing its
// status. Settable from any non-terminal state.
func (s *Service) Suppress(id string, duration time.Duration) (*types.SecurityAlert, error) {
	if duration <= 0 {
		return nil, errors.New(errors.ErrInvalidInput, "suppression duration must be positive")
	}
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		until := now.Add(duration)
		alert.Suppressed = true
		alert.SuppressedUntil = &until
		return nil
	})
}

// AddNote appends a note. Notes never affect status and are allowed on
// terminal alerts too.
func (s *Service) AddNote(id, author, text string) (*types.SecurityAlert, error) {
	if text == "" {
		return nil, errors.New(errors.ErrMissingParam, "note text is required")
	}
	alert, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	alert.Notes = append(alert.Notes, types.AlertNote{Author: author, Text: text, CreatedAt: now})
	alert.UpdatedAt = now
	if err := s.store.UpdateAlert(alert); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "updating alert", err)
	}
	return alert, nil
}

// IncrementOccurrence bumps the occurrence counter and refreshes the last
// occurrence timestamp for a recurring pattern mapped to an open alert.
func (s *Service) IncrementOccurrence(id string) (*types.SecurityAlert, error) {
	return s.transition(id, func(alert *types.SecurityAlert, now time.Time) error {
		alert.Metrics.Count++
		alert.LastOccurrence = now
		// transition() sets UpdatedAt, status stays as-is.
		return nil
	})
}

// Delete removes an alert. Only terminal alerts may be deleted; anything
// else returns a guard error distinguishable from not-found.
func (s *Service) Delete(id string) error {
	alert, err := s.Get(id)
	if err != nil {
		return err
	}
	if !alert.Status.Terminal() {
		return errors.Newf(errors.ErrDeleteGuard,
			"alert %s has status %s, only resolved, false_positive or ignored alerts can be deleted", id, alert.Status)
	}
	if err := s.store.DeleteAlert(id); err != nil {
		return errors.Wrap(errors.ErrStorage, "deleting alert", err)
	}
	s.audit("alert_deleted", id, string(alert.Status))
	s.logger.Info().Str("alert_id", id).Msg("Alert deleted")
	return nil
}

// BulkResult reports the outcome of a bulk lifecycle action.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// BulkAction applies one lifecycle action to a set of alerts. Individual
// failures are collected, not fatal.
func (s *Service) BulkAction(action string, ids []string, actor, note string) (*BulkResult, error) {
	result := &BulkResult{Failed: make(map[string]string)}
	for _, id := range ids {
		var err error
		switch action {
		case "acknowledge":
			_, err = s.Acknowledge(id, actor)
		case "resolve":
			_, err = s.Resolve(id, actor, note, "")
		case "false_positive":
			_, err = s.MarkFalsePositive(id, actor, note)
		case "ignore":
			_, err = s.Ignore(id, actor)
		case "delete":
			err = s.Delete(id)
		default:
			return nil, errors.Newf(errors.ErrInvalidInput, "unknown bulk action %q", action)
		}
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

// transition loads an alert, applies mutate under the terminal-state guard
// and persists the result.
func (s *Service) transition(id string, mutate func(alert *types.SecurityAlert, now time.Time) error) (*types.SecurityAlert, error) {
	alert, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if alert.Status.Terminal() {
		return nil, errors.Newf(errors.ErrTerminalStatus,
			"alert %s is %s and cannot be modified", id, alert.Status)
	}

	now := time.Now().UTC()
	if err := mutate(alert, now); err != nil {
		return nil, err
	}
	alert.UpdatedAt = now

	if err := s.store.UpdateAlert(alert); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "updating alert", err)
	}
	s.audit("alert_updated", id, string(alert.Status))
	s.logger.Debug().
		Str("alert_id", id).
		Str("status", string(alert.Status)).
		Msg("Alert transitioned")
	return alert, nil
}

// audit records a lifecycle mutation in the audit trail. Write failures are
// logged, never surfaced.
func (s *Service) audit(eventType, alertID, status string) {
	err := s.store.SaveAuditEvent(&types.AuditEvent{
		ID:        "evt_" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Resource:  "alert",
		Action:    status,
		Outcome:   "success",
		Detail:    fmt.Sprintf("alert %s", alertID),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alertID).Msg("Audit write failed")
	}
}

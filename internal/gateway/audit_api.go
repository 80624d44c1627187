package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/types"
)

// handleAuditEvents serves the audit event feed the detectors scan over.
// POST ingests events from platform services, GET returns recent entries.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestAuditEvents(w, r)
	case http.MethodGet:
		limit := parseQueryInt(r, "limit", 100)
		events, err := s.store.RecentAuditEvents(limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeAPISuccess(w, events, &apiMeta{Total: len(events), Limit: limit})
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
	}
}

// ingestAuditEvents accepts a single event object or a batch array.
func (s *Server) ingestAuditEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Reading request body failed")
		return
	}

	var events []types.AuditEvent
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &events)
	} else {
		var single types.AuditEvent
		if err = json.Unmarshal(trimmed, &single); err == nil {
			events = append(events, single)
		}
	}
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}
	if len(events) == 0 {
		writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "No events supplied")
		return
	}

	now := time.Now().UTC()
	accepted := 0
	for i := range events {
		event := &events[i]
		if event.EventType == "" {
			writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "event_type is required")
			return
		}
		if event.ID == "" {
			event.ID = "evt_" + uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		if err := s.store.SaveAuditEvent(event); err != nil {
			writeServiceError(w, err)
			return
		}
		accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeAPISuccess(w, map[string]int{"accepted": accepted}, nil)
}

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

// handleAlerts serves GET (filtered list) and POST (manual alert) on
// /api/v1/alerts.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAlerts(w, r)
	case http.MethodPost:
		s.createAlert(w, r)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.AlertFilter{
		Status:      types.AlertStatus(q.Get("status")),
		Type:        types.AlertType(q.Get("type")),
		ActorIP:     q.Get("actor_ip"),
		ActorUserID: q.Get("actor_user_id"),
		Limit:       parseQueryInt(r, "limit", 50),
		Offset:      parseQueryInt(r, "offset", 0),
	}
	if raw := q.Get("min_severity"); raw != "" {
		sev := types.ParseSeverity(raw)
		if sev.String() != raw {
			writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Unknown severity: "+raw)
			return
		}
		filter.MinSeverity = &sev
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "since must be RFC3339")
			return
		}
		filter.Since = since
	}

	rows, total, err := s.alerts.List(filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, rows, &apiMeta{Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var alert types.SecurityAlert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}
	if alert.Source.Component == "" {
		alert.Source = types.AlertSource{Component: "api", Detail: "manual"}
	}

	created, err := s.alerts.CreateAlert(&alert)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.stream.Broadcast(created)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeAPISuccess(w, created, nil)
}

// handleAlertByID dispatches /api/v1/alerts/{id} and its action subroutes:
//
//	GET    /api/v1/alerts/{id}                 alert plus correlated alerts
//	DELETE /api/v1/alerts/{id}                 terminal alerts only
//	PUT    /api/v1/alerts/{id}/acknowledge
//	PUT    /api/v1/alerts/{id}/investigate
//	PUT    /api/v1/alerts/{id}/resolve
//	PUT    /api/v1/alerts/{id}/false-positive
//	PUT    /api/v1/alerts/{id}/suppress
//	POST   /api/v1/alerts/{id}/notes
func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "Missing alert id")
		return
	}

	if action == "" {
		switch r.Method {
		case http.MethodGet:
			s.getAlert(w, id)
		case http.MethodDelete:
			if err := s.alerts.Delete(id); err != nil {
				writeServiceError(w, err)
				return
			}
			writeAPISuccess(w, map[string]string{"deleted": id}, nil)
		default:
			writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		}
		return
	}

	switch action {
	case "acknowledge", "investigate", "resolve", "false-positive", "suppress":
		if r.Method != http.MethodPut {
			writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
			return
		}
		s.alertAction(w, r, id, action)
	case "notes":
		if r.Method != http.MethodPost {
			writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
			return
		}
		s.addAlertNote(w, r, id)
	default:
		writeAPIError(w, http.StatusNotFound, errors.ErrNotFound, "Unknown alert action: "+action)
	}
}

func (s *Server) getAlert(w http.ResponseWriter, id string) {
	alert, err := s.alerts.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	correlated, err := s.alerts.Correlate(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]interface{}{
		"alert":      alert,
		"correlated": correlated,
	}, nil)
}

func (s *Server) alertAction(w http.ResponseWriter, r *http.Request, id, action string) {
	var body struct {
		Actor           string `json:"actor"`
		Assignee        string `json:"assignee"`
		Findings        string `json:"findings"`
		Recommendations string `json:"recommendations"`
		Reason          string `json:"reason"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if r.Body != nil {
		// Empty bodies are fine for acknowledge and investigate.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
			return
		}
	}
	if body.Actor == "" {
		body.Actor = requestActor(r)
	}

	var (
		updated *types.SecurityAlert
		err     error
	)
	switch action {
	case "acknowledge":
		updated, err = s.alerts.Acknowledge(id, body.Actor)
	case "investigate":
		assignee := body.Assignee
		if assignee == "" {
			assignee = body.Actor
		}
		updated, err = s.alerts.StartInvestigation(id, assignee)
	case "resolve":
		updated, err = s.alerts.Resolve(id, body.Actor, body.Findings, body.Recommendations)
	case "false-positive":
		updated, err = s.alerts.MarkFalsePositive(id, body.Actor, body.Reason)
	case "suppress":
		updated, err = s.alerts.Suppress(id, time.Duration(body.DurationMinutes)*time.Minute)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, updated, nil)
}

func (s *Server) addAlertNote(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}
	if body.Text == "" {
		writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "Note text is required")
		return
	}
	if body.Author == "" {
		body.Author = requestActor(r)
	}

	updated, err := s.alerts.AddNote(id, body.Author, body.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, updated, nil)
}

func (s *Server) handleAlertBulkActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	var body struct {
		Action string   `json:"action"`
		IDs    []string `json:"ids"`
		Actor  string   `json:"actor"`
		Note   string   `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}
	if len(body.IDs) == 0 {
		writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "ids is required")
		return
	}
	if body.Actor == "" {
		body.Actor = requestActor(r)
	}

	result, err := s.alerts.BulkAction(body.Action, body.IDs, body.Actor, body.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, result, nil)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}
	rangeToken := r.URL.Query().Get("range")
	if rangeToken == "" {
		rangeToken = "24h"
	}
	stats, err := s.alerts.ComputeStatistics(rangeToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, stats, nil)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}
	dash, err := s.alerts.ComputeDashboard()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, dash, nil)
}

// handleDetect triggers an immediate detection pass outside the scheduler.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}
	if s.eng == nil {
		writeAPIError(w, http.StatusServiceUnavailable, errors.ErrDetection, "Detection engine is not running")
		return
	}
	s.eng.RunDetection()
	writeAPISuccess(w, map[string]int64{"runs": s.eng.Runs()}, nil)
}

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/rbac"
	"github.com/praetor-sec/praetor/internal/types"
)

// requestActor labels permission mutations made through the API in the
// audit trail.
func requestActor(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "api-key"
	}
	return "api"
}

func (s *Server) handlePermissionMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}
	matrix, err := s.manager.Matrix()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, matrix, nil)
}

func (s *Server) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	q := r.URL.Query()
	role := types.Role(q.Get("role"))
	resource := types.Resource(q.Get("resource"))
	action := types.Action(q.Get("action"))
	if role == "" || resource == "" || action == "" {
		writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "role, resource and action are required")
		return
	}

	// Remaining query parameters become the evaluation context.
	ctx := make(map[string]string)
	for key, values := range q {
		switch key {
		case "role", "resource", "action":
		default:
			if len(values) > 0 {
				ctx[key] = values[0]
			}
		}
	}

	granted, err := s.evaluator.HasPermission(role, resource, action, ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]interface{}{
		"role":     role,
		"resource": resource,
		"action":   action,
		"granted":  granted,
	}, nil)
}

func (s *Server) handlePermissionSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	var req rbac.SetPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}

	rule, err := s.manager.SetPermission(req, requestActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, rule, nil)
}

func (s *Server) handlePermissionBulkSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	var reqs []rbac.SetPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}

	applied, err := s.manager.BulkSet(reqs, requestActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]int{"applied": applied}, nil)
}

func (s *Server) handlePermissionDefaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	seeded, err := s.manager.InitializeDefaults(requestActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]int{"seeded": seeded}, nil)
}

func (s *Server) handlePermissionClone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	var req struct {
		SourceRole types.Role `json:"source_role"`
		TargetRole types.Role `json:"target_role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}

	cloned, err := s.manager.CloneRolePermissions(req.SourceRole, req.TargetRole, requestActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]int{"cloned": cloned}, nil)
}

func (s *Server) handlePermissionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}
	stats, err := s.manager.Stats()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, stats, nil)
}

// handlePermissionRole serves GET and DELETE on /api/v1/permissions/role/{role}.
func (s *Server) handlePermissionRole(w http.ResponseWriter, r *http.Request) {
	role := types.Role(strings.TrimPrefix(r.URL.Path, "/api/v1/permissions/role/"))
	if role == "" {
		writeAPIError(w, http.StatusBadRequest, errors.ErrMissingParam, "Missing role")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rules, err := s.manager.GetRolePermissions(role)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeAPISuccess(w, rules, &apiMeta{Total: len(rules)})

	case http.MethodDelete:
		includeSystem := r.URL.Query().Get("include_system") == "true"
		deleted, err := s.manager.DeleteRolePermissions(role, includeSystem, requestActor(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeAPISuccess(w, map[string]int64{"deleted": deleted}, nil)

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
	}
}

// handlePermissionByID serves DELETE /api/v1/permissions/{id}.
func (s *Server) handlePermissionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/permissions/")
	if id == "" || strings.Contains(id, "/") {
		writeAPIError(w, http.StatusNotFound, errors.ErrNotFound, "Unknown permissions endpoint")
		return
	}
	if r.Method != http.MethodDelete {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	if err := s.manager.DeletePermission(id, requestActor(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]string{"deleted": id}, nil)
}

// Package gateway implements the HTTP control plane: the permission
// management API, the alert lifecycle API and a WebSocket alert stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/alerts"
	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/engine"
	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/logging"
	"github.com/praetor-sec/praetor/internal/rbac"
	"github.com/praetor-sec/praetor/internal/storage"
	"github.com/praetor-sec/praetor/internal/types"
)

const version = "1.0.0"

// Server is the HTTP gateway for Praetor.
type Server struct {
	cfg        config.WebConfig
	store      *storage.SQLite
	evaluator  *rbac.Evaluator
	manager    *rbac.Manager
	alerts     *alerts.Service
	eng        *engine.Engine
	auth       *AuthManager
	stream     *Stream
	reqIDs     *logging.RequestIDGenerator
	logger     zerolog.Logger
	startTime  time.Time
	httpServer *http.Server
}

// NewServer creates the gateway server.
func NewServer(cfg config.WebConfig, store *storage.SQLite, evaluator *rbac.Evaluator, manager *rbac.Manager, alertSvc *alerts.Service, eng *engine.Engine, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		evaluator: evaluator,
		manager:   manager,
		alerts:    alertSvc,
		eng:       eng,
		auth:      NewAuthManager(store.DB(), cfg, logger),
		stream:    NewStream(logger),
		reqIDs:    logging.NewRequestIDGenerator(),
		logger:    logger.With().Str("component", "gateway").Logger(),
		startTime: time.Now(),
	}
}

// AlertStream returns the live alert broadcaster so the composition root can
// hand it to the engine's notification path.
func (s *Server) AlertStream() *Stream {
	return s.stream
}

// Auth exposes the authentication manager for bootstrap tasks.
func (s *Server) Auth() *AuthManager {
	return s.auth
}

// routes builds the API surface.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Session endpoints.
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", s.requireSession(s.handleLogout))
	mux.HandleFunc("/api/v1/auth/totp/enroll", s.requireSession(s.handleTOTPEnroll))

	// Permission management.
	mux.HandleFunc("/api/v1/permissions/matrix", s.requireAPIKey(s.handlePermissionMatrix))
	mux.HandleFunc("/api/v1/permissions/check", s.requireAPIKey(s.handlePermissionCheck))
	mux.HandleFunc("/api/v1/permissions/set", s.requireAPIKey(s.handlePermissionSet))
	mux.HandleFunc("/api/v1/permissions/bulk-set", s.requireAPIKey(s.handlePermissionBulkSet))
	mux.HandleFunc("/api/v1/permissions/initialize-defaults", s.requireAPIKey(s.handlePermissionDefaults))
	mux.HandleFunc("/api/v1/permissions/clone", s.requireAPIKey(s.handlePermissionClone))
	mux.HandleFunc("/api/v1/permissions/stats", s.requireAPIKey(s.handlePermissionStats))
	mux.HandleFunc("/api/v1/permissions/role/", s.requireAPIKey(s.handlePermissionRole))
	mux.HandleFunc("/api/v1/permissions/", s.requireAPIKey(s.handlePermissionByID))

	// Alerting.
	mux.HandleFunc("/api/v1/alerts", s.requireAPIKey(s.handleAlerts))
	mux.HandleFunc("/api/v1/alerts/bulk-actions", s.requireAPIKey(s.handleAlertBulkActions))
	mux.HandleFunc("/api/v1/alerts/stream", s.requireAPIKey(s.stream.Handle))
	mux.HandleFunc("/api/v1/alerts/", s.requireAPIKey(s.handleAlertByID))
	mux.HandleFunc("/api/v1/statistics", s.requireAPIKey(s.handleStatistics))
	mux.HandleFunc("/api/v1/dashboard", s.requireAPIKey(s.handleDashboard))
	mux.HandleFunc("/api/v1/detect", s.requireAPIKey(s.handleDetect))

	// Audit event feed consumed by the detectors.
	mux.HandleFunc("/api/v1/audit/events", s.requireAPIKey(s.handleAuditEvents))

	// Health is unauthenticated for load balancer probes.
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	return s.loggingMiddleware(mux)
}

// Start begins serving HTTP requests and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket stream needs no write timeout
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("Starting gateway")

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	var err error
	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	active, _ := s.store.ActiveAlertCount()
	critical, _ := s.store.CriticalAlertCount()
	rules, _ := s.store.PermissionCount()

	var runs int64
	if s.eng != nil {
		runs = s.eng.Runs()
	}

	writeAPISuccess(w, types.SystemHealth{
		Uptime:          time.Since(s.startTime),
		ActiveAlerts:    active,
		CriticalAlerts:  critical,
		PermissionRules: rules,
		DetectorsRun:    runs,
		Version:         version,
	}, nil)
}

// --- Middleware ---

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := s.reqIDs.Next()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// requireAPIKey accepts either a valid X-API-Key header or an authenticated
// session cookie, so both integrations and the console share the API.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-API-Key"); key != "" {
			if s.auth.ValidateAPIKey(key) {
				next(w, r)
				return
			}
			writeAPIError(w, http.StatusForbidden, errors.ErrInvalidAPIKey, "Invalid API key")
			return
		}
		if _, ok := s.auth.SessionFromRequest(r); ok {
			next(w, r)
			return
		}
		writeAPIError(w, http.StatusUnauthorized, errors.ErrAuth, "Authentication required")
	}
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.auth.SessionFromRequest(r); !ok {
			writeAPIError(w, http.StatusUnauthorized, errors.ErrAuth, "Authentication required")
			return
		}
		next(w, r)
	}
}

// --- Auth handlers ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrValidation, "Method not allowed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTPCode string `json:"totp_code,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, errors.ErrInvalidInput, "Invalid request body")
		return
	}

	session, err := s.auth.Authenticate(req.Username, req.Password, req.TOTPCode, r.RemoteAddr)
	if err != nil {
		s.recordLoginEvent(types.EventLoginFailed, req.Username, r.RemoteAddr, "failure")
		writeServiceError(w, err)
		return
	}
	s.recordLoginEvent(types.EventLoginSuccess, req.Username, r.RemoteAddr, "success")

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.TLSCert != "",
		SameSite: http.SameSiteStrictMode,
		Expires:  session.ExpiresAt,
	})
	writeAPISuccess(w, map[string]string{
		"username":   session.Username,
		"role":       session.Role,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	}, nil)
}

// recordLoginEvent feeds authentication outcomes into the audit trail the
// brute force detectors scan. Failures to record are logged, never surfaced.
func (s *Server) recordLoginEvent(eventType, username, remoteAddr, outcome string) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	event := &types.AuditEvent{
		ID:        "evt_" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Username:  username,
		IP:        host,
		Resource:  "auth",
		Action:    "login",
		Outcome:   outcome,
	}
	if err := s.store.SaveAuditEvent(event); err != nil {
		s.logger.Error().Err(err).Msg("failed to record login audit event")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session"); err == nil {
		s.auth.DestroySession(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
	writeAPISuccess(w, map[string]string{"status": "logged_out"}, nil)
}

// handleTOTPEnroll generates a TOTP secret for the logged-in user. The next
// login requires a code from the returned provisioning URL.
func (s *Server) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, errors.ErrInvalidInput, "Method not allowed")
		return
	}
	session, _ := s.auth.SessionFromRequest(r)
	url, err := s.auth.EnrollTOTP(session.Username)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAPISuccess(w, map[string]string{"otpauth_url": url}, nil)
}

// --- Response helpers ---

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func writeAPISuccess(w http.ResponseWriter, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: meta})
}

func writeAPIError(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error:   &apiError{Code: string(code), Message: message},
	})
}

// writeServiceError maps a service-layer error onto an HTTP status via its
// structured code.
func writeServiceError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	writeAPIError(w, errors.ToHTTPStatus(code), code, err.Error())
}

// parseQueryInt extracts an integer query parameter with a default.
func parseQueryInt(r *http.Request, key string, def int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil || n < 0 {
		return def
	}
	return n
}

package gateway

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/errors"
)

// Session represents an authenticated user session.
type Session struct {
	Token     string
	Username  string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AuthManager handles user authentication, sessions and API keys. Sessions
// live in memory; users and key hashes live in the database.
type AuthManager struct {
	db     *sql.DB
	cfg    config.WebConfig
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// Login rate limiting, keyed by remote IP.
	rateMu        sync.Mutex
	loginAttempts map[string]*rateLimitEntry

	sessionTTL       time.Duration
	maxLoginAttempts int
	lockoutDuration  time.Duration
}

type rateLimitEntry struct {
	attempts    int
	lastAttempt time.Time
}

// NewAuthManager creates an authentication manager and starts its session
// cleanup loop.
func NewAuthManager(db *sql.DB, cfg config.WebConfig, logger zerolog.Logger) *AuthManager {
	am := &AuthManager{
		db:               db,
		cfg:              cfg,
		logger:           logger.With().Str("component", "auth").Logger(),
		sessions:         make(map[string]*Session),
		loginAttempts:    make(map[string]*rateLimitEntry),
		sessionTTL:       8 * time.Hour,
		maxLoginAttempts: 5,
		lockoutDuration:  15 * time.Minute,
	}
	go am.cleanupLoop()
	return am
}

// EnsureDefaultAdmin creates the admin user when the users table is empty.
// Reports whether a default user was created.
func (am *AuthManager) EnsureDefaultAdmin(password string) (bool, error) {
	var count int
	if err := am.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, errors.Wrap(errors.ErrStorage, "checking user count", err)
	}
	if count > 0 {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, errors.Wrap(errors.ErrAuth, "hashing default password", err)
	}

	_, err = am.db.Exec(
		`INSERT INTO users (id, username, password_hash, role) VALUES (?, ?, ?, ?)`,
		"usr_default_admin", "admin", string(hash), "admin",
	)
	if err != nil {
		return false, errors.Wrap(errors.ErrStorage, "creating default admin", err)
	}
	return true, nil
}

// Authenticate verifies credentials (and the TOTP code when the user has one
// enrolled) and returns a fresh session.
func (am *AuthManager) Authenticate(username, password, totpCode, remoteAddr string) (*Session, error) {
	// Lockout is keyed by host so rotating source ports cannot evade it.
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	if am.isRateLimited(remoteAddr) {
		return nil, errors.New(errors.ErrLockout, "too many failed attempts, try again later")
	}

	var passwordHash, role string
	var totpSecret sql.NullString
	err := am.db.QueryRow(
		"SELECT password_hash, role, totp_secret FROM users WHERE username = ?", username,
	).Scan(&passwordHash, &role, &totpSecret)
	if err == sql.ErrNoRows {
		am.recordFailedAttempt(remoteAddr)
		return nil, errors.New(errors.ErrInvalidCreds, "invalid credentials")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "looking up user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		am.recordFailedAttempt(remoteAddr)
		return nil, errors.New(errors.ErrInvalidCreds, "invalid credentials")
	}

	if totpSecret.Valid && totpSecret.String != "" {
		if totpCode == "" {
			return nil, errors.New(errors.ErrAuth, "totp code required")
		}
		if !totp.Validate(totpCode, totpSecret.String) {
			am.recordFailedAttempt(remoteAddr)
			return nil, errors.New(errors.ErrInvalidCreds, "invalid totp code")
		}
	}

	am.clearAttempts(remoteAddr)
	am.db.Exec("UPDATE users SET last_login = ? WHERE username = ?", time.Now().UTC(), username)

	return am.createSession(username, role)
}

// EnrollTOTP generates a TOTP secret for the user and returns the
// provisioning URL for authenticator apps.
func (am *AuthManager) EnrollTOTP(username string) (string, error) {
	issuer := am.cfg.TOTPIssuer
	if issuer == "" {
		issuer = "Praetor"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: username,
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrAuth, "generating totp secret", err)
	}

	result, err := am.db.Exec("UPDATE users SET totp_secret = ? WHERE username = ?", key.Secret(), username)
	if err != nil {
		return "", errors.Wrap(errors.ErrStorage, "storing totp secret", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return "", errors.Newf(errors.ErrNotFound, "user %q not found", username)
	}
	return key.URL(), nil
}

// ValidateSession checks a session token.
func (am *AuthManager) ValidateSession(token string) (*Session, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	session, ok := am.sessions[token]
	if !ok || time.Now().After(session.ExpiresAt) {
		return nil, false
	}
	return session, true
}

// SessionFromRequest extracts and validates the session cookie.
func (am *AuthManager) SessionFromRequest(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie("session")
	if err != nil {
		return nil, false
	}
	return am.ValidateSession(cookie.Value)
}

// DestroySession removes a session (logout).
func (am *AuthManager) DestroySession(token string) {
	am.mu.Lock()
	defer am.mu.Unlock()
	delete(am.sessions, token)
}

// --- API keys ---

// ValidateAPIKey checks a key against the stored hashes, falling back to the
// configured session key.
func (am *AuthManager) ValidateAPIKey(key string) bool {
	rows, err := am.db.Query("SELECT key_hash FROM api_keys WHERE revoked = 0")
	if err == nil {
		defer rows.Close()
		keyHash := hashAPIKey(key)
		for rows.Next() {
			var storedHash string
			if err := rows.Scan(&storedHash); err != nil {
				continue
			}
			if subtle.ConstantTimeCompare([]byte(keyHash), []byte(storedHash)) == 1 {
				am.db.Exec("UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?", time.Now().UTC(), storedHash)
				return true
			}
		}
	}

	if am.cfg.SessionKey != "" {
		return subtle.ConstantTimeCompare([]byte(key), []byte(am.cfg.SessionKey)) == 1
	}
	return false
}

// CreateAPIKey mints a new key, stores its hash and returns the plaintext
// once. The plaintext is never persisted.
func (am *AuthManager) CreateAPIKey(name string) (string, error) {
	key, err := generateAPIKey()
	if err != nil {
		return "", err
	}
	_, err = am.db.Exec(
		`INSERT INTO api_keys (id, name, key_hash) VALUES (?, ?, ?)`,
		"key_"+hashAPIKey(key)[:12], name, hashAPIKey(key),
	)
	if err != nil {
		return "", errors.Wrap(errors.ErrStorage, "storing api key", err)
	}
	return key, nil
}

// --- Internal helpers ---

func (am *AuthManager) createSession(username, role string) (*Session, error) {
	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		Token:     token,
		Username:  username,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(am.sessionTTL),
	}

	am.mu.Lock()
	am.sessions[token] = session
	am.mu.Unlock()
	return session, nil
}

func (am *AuthManager) isRateLimited(ip string) bool {
	am.rateMu.Lock()
	defer am.rateMu.Unlock()

	entry, ok := am.loginAttempts[ip]
	if !ok {
		return false
	}
	if time.Since(entry.lastAttempt) > am.lockoutDuration {
		delete(am.loginAttempts, ip)
		return false
	}
	return entry.attempts >= am.maxLoginAttempts
}

func (am *AuthManager) recordFailedAttempt(ip string) {
	am.rateMu.Lock()
	defer am.rateMu.Unlock()

	entry, ok := am.loginAttempts[ip]
	if !ok {
		am.loginAttempts[ip] = &rateLimitEntry{attempts: 1, lastAttempt: time.Now()}
		return
	}
	if time.Since(entry.lastAttempt) > am.lockoutDuration {
		entry.attempts = 1
	} else {
		entry.attempts++
	}
	entry.lastAttempt = time.Now()
}

func (am *AuthManager) clearAttempts(ip string) {
	am.rateMu.Lock()
	defer am.rateMu.Unlock()
	delete(am.loginAttempts, ip)
}

func (am *AuthManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		am.mu.Lock()
		now := time.Now()
		for token, session := range am.sessions {
			if now.After(session.ExpiresAt) {
				delete(am.sessions, token)
			}
		}
		am.mu.Unlock()

		am.rateMu.Lock()
		for ip, entry := range am.loginAttempts {
			if time.Since(entry.lastAttempt) > am.lockoutDuration {
				delete(am.loginAttempts, ip)
			}
		}
		am.rateMu.Unlock()
	}
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func generateAPIKey() (string, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	return "pk-" + token, nil
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(errors.ErrAuth, "generating random token", err)
	}
	return hex.EncodeToString(b), nil
}

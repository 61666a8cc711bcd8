// Package auth implements email and password accounts with cookie
// sessions. Session tokens are random and only their SHA-256 hash is
// persisted; passwords are stored as bcrypt hashes.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrBadResetToken      = errors.New("invalid or expired reset token")
)

type Service struct {
	repo   *Repo
	logger *log.Logger

	cookieName string
	sessionTTL time.Duration
	resetTTL   time.Duration
	bcryptCost int
}

func NewService(repo *Repo, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:       repo,
		logger:     logger,
		cookieName: "dolores_session",
		sessionTTL: 30 * 24 * time.Hour,
		resetTTL:   time.Hour,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// SetSessionTTL overrides the default session lifetime. Zero or negative
// values are ignored.
func (s *Service) SetSessionTTL(ttl time.Duration) {
	if ttl > 0 {
		s.sessionTTL = ttl
	}
}

func (s *Service) SetBcryptCost(cost int) {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.bcryptCost = cost
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return ErrInvalidEmail
	}
	if strings.ToLower(addr.Address) != email {
		return ErrInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// SignUp creates an account and opens a session for it.
func (s *Service) SignUp(email, password string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}
	if err := validatePassword(password); err != nil {
		return User{}, "", time.Time{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return User{}, "", time.Time{}, err
	}

	u, err := s.repo.CreateUser(email, string(hash), now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	s.logger.Info("account created", "user", u.ID)

	token, exp, err := s.openSession(u.ID, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

// SignIn verifies credentials and opens a session. A missing account and
// a wrong password return the same error.
func (s *Service) SignIn(email, password string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}

	u, ok := s.repo.GetUserByEmail(email)
	if !ok {
		// Burn comparable time so the response does not reveal whether
		// the account exists.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return User{}, "", time.Time{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, "", time.Time{}, ErrInvalidCredentials
	}

	token, exp, err := s.openSession(u.ID, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

func (s *Service) openSession(userID string, now time.Time) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.sessionTTL)
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hashToken(token),
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: exp,
	}
	if err := s.repo.CreateSession(sess); err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// ChangePassword re-authenticates with the current password before
// accepting the new one, then revokes every other session.
func (s *Service) ChangePassword(userID, currentPassword, newPassword string, now time.Time) error {
	u, ok := s.repo.GetUserByID(userID)
	if !ok {
		return ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)) != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(userID, string(hash), now); err != nil {
		return err
	}
	s.logger.Info("password changed", "user", userID)
	return s.repo.DeleteSessionsForUser(userID)
}

// RequestPasswordReset issues a recovery token for the account, if one
// exists. The token is returned to the caller for delivery; an unknown
// email yields no token and no error.
func (s *Service) RequestPasswordReset(email string, now time.Time) (string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", time.Time{}, err
	}
	u, ok := s.repo.GetUserByEmail(email)
	if !ok {
		return "", time.Time{}, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.resetTTL)
	if err := s.repo.CreatePasswordReset(PasswordReset{
		TokenHash: hashToken(token),
		UserID:    u.ID,
		ExpiresAt: exp,
	}); err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// ResetPassword redeems a recovery token. The token is consumed whether
// or not the new password is accepted.
func (s *Service) ResetPassword(token, newPassword string, now time.Time) error {
	reset, ok := s.repo.ConsumePasswordReset(hashToken(token))
	if !ok || now.After(reset.ExpiresAt) {
		return ErrBadResetToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(reset.UserID, string(hash), now); err != nil {
		return err
	}
	s.logger.Info("password reset", "user", reset.UserID)
	return s.repo.DeleteSessionsForUser(reset.UserID)
}

// SetPushToken stores the device's notification token on the account.
func (s *Service) SetPushToken(userID, pushToken string, now time.Time) error {
	return s.repo.UpdatePushToken(userID, strings.TrimSpace(pushToken), now)
}

func (s *Service) AuthenticateRequest(r *http.Request, now time.Time) (User, Session, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return User{}, Session{}, false
	}

	sess, ok := s.repo.GetSessionByTokenHash(hashToken(cookie.Value))
	if !ok {
		return User{}, Session{}, false
	}
	if now.After(sess.ExpiresAt) {
		_ = s.repo.DeleteSessionByID(sess.ID)
		return User{}, Session{}, false
	}
	u, ok := s.repo.GetUserByID(sess.UserID)
	if !ok {
		_ = s.repo.DeleteSessionByID(sess.ID)
		return User{}, Session{}, false
	}

	// Best-effort last-seen update, throttled to reduce writes.
	if now.Sub(sess.LastSeen) >= 5*time.Minute {
		_ = s.repo.TouchSession(sess.ID, now)
		sess.LastSeen = now
	}

	return u, sess, true
}

func (s *Service) RevokeSessionForRequest(r *http.Request) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return
	}
	_ = s.repo.DeleteSessionByTokenHash(hashToken(cookie.Value))
}

func (s *Service) shouldUseSecureCookie(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DOLORES_COOKIE_SECURE"))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func (s *Service) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.shouldUseSecureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.shouldUseSecureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, sess, ok := s.AuthenticateRequest(r, time.Now())
		if !ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
			return
		}
		ctx := withSessionContext(withUserContext(r.Context(), u), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

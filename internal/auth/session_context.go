package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenRequired = errors.New("bearer token is required")
	ErrTokenExpired  = errors.New("bearer token has expired")
	ErrLoggedOut     = errors.New("session context was destroyed")
)

// SessionContext carries the caller's bearer token to the exam service client.
// It is created on login and destroyed on logout; there is no process-wide auth state.
type SessionContext struct {
	mu          sync.RWMutex
	token       string
	fingerprint string
	subject     string
	expiresAt   time.Time
	destroyed   bool
}

// NewSessionContext wraps a bearer token. JWTs have their subject and expiry read
// without verifying the signature (the exam service owns the key); opaque tokens
// are accepted as-is and never expire locally.
func NewSessionContext(token string) (*SessionContext, error) {
	token = strings.TrimSpace(token)
	if rest, ok := strings.CutPrefix(token, "Bearer"); ok && (rest == "" || rest[0] == ' ') {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return nil, ErrTokenRequired
	}

	sum := sha256.Sum256([]byte(token))
	sc := &SessionContext{token: token, fingerprint: hex.EncodeToString(sum[:])}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		sc.subject = claims.Subject
		if claims.ExpiresAt != nil {
			sc.expiresAt = claims.ExpiresAt.Time
		}
	}

	return sc, nil
}

// Fingerprint identifies the token without exposing it. Two contexts share a
// fingerprint only when built from the same token.
func (s *SessionContext) Fingerprint() string {
	return s.fingerprint
}

// Subject is the user id claimed by the token, if any. The claim is not
// verified; use the exam service's profile to learn who the caller is.
func (s *SessionContext) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// ExpiresAt is the token expiry; zero when the token carries none.
func (s *SessionContext) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Check reports whether the context can still authorize requests at now.
func (s *SessionContext) Check(now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return ErrLoggedOut
	}
	if !s.expiresAt.IsZero() && !now.Before(s.expiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// AuthorizationHeader returns the value of the Authorization header.
func (s *SessionContext) AuthorizationHeader() (string, error) {
	if err := s.Check(time.Now()); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return "Bearer " + s.token, nil
}

// Logout destroys the context. Clients holding it fail every further request.
func (s *SessionContext) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.token = ""
}

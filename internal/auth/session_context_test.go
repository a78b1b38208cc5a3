package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestNewSessionContextReadsClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	tok := signed(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	sc, err := NewSessionContext("Bearer " + tok)
	if err != nil {
		t.Fatalf("NewSessionContext: %v", err)
	}
	if sc.Subject() != "user-42" {
		t.Errorf("Subject = %q", sc.Subject())
	}
	if !sc.ExpiresAt().Equal(exp) {
		t.Errorf("ExpiresAt = %s, want %s", sc.ExpiresAt(), exp)
	}

	header, err := sc.AuthorizationHeader()
	if err != nil {
		t.Fatalf("AuthorizationHeader: %v", err)
	}
	if header != "Bearer "+tok {
		t.Errorf("header = %q", header)
	}
}

func TestSessionContextExpiry(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	sc, err := NewSessionContext(signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}))
	if err != nil {
		t.Fatalf("NewSessionContext: %v", err)
	}

	if err := sc.Check(exp.Add(-time.Second)); err != nil {
		t.Errorf("Check before expiry: %v", err)
	}
	if err := sc.Check(exp.Add(time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Check after expiry = %v, want ErrTokenExpired", err)
	}
}

func TestOpaqueTokenNeverExpires(t *testing.T) {
	sc, err := NewSessionContext("opaque-token")
	if err != nil {
		t.Fatalf("NewSessionContext: %v", err)
	}
	if !sc.ExpiresAt().IsZero() {
		t.Errorf("opaque token should carry no expiry")
	}
	if err := sc.Check(time.Now().Add(100 * 365 * 24 * time.Hour)); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestEmptyTokenRejected(t *testing.T) {
	for _, tok := range []string{"", "   ", "Bearer "} {
		if _, err := NewSessionContext(tok); !errors.Is(err, ErrTokenRequired) {
			t.Errorf("NewSessionContext(%q) = %v, want ErrTokenRequired", tok, err)
		}
	}
}

func TestLogoutDestroysContext(t *testing.T) {
	sc, _ := NewSessionContext("opaque-token")
	sc.Logout()

	if _, err := sc.AuthorizationHeader(); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("AuthorizationHeader after logout = %v, want ErrLoggedOut", err)
	}
}

func TestFingerprintDependsOnTokenOnly(t *testing.T) {
	a, _ := NewSessionContext("Bearer opaque-a")
	again, _ := NewSessionContext("opaque-a")
	b, _ := NewSessionContext("opaque-b")

	if a.Fingerprint() != again.Fingerprint() {
		t.Error("same token produced different fingerprints")
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different tokens share a fingerprint")
	}
	if a.Fingerprint() == "opaque-a" || len(a.Fingerprint()) != 64 {
		t.Errorf("Fingerprint = %q, want a sha256 hex digest", a.Fingerprint())
	}
}

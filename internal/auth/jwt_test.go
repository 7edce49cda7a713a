package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/user"
)

func testIdentity() user.Identity {
	return user.Identity{ID: "u1", Email: "f1@x.com", Name: "Dr. Rao", Role: user.RoleFaculty}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Minute, time.Hour)

	raw, exp, err := m.GenerateAccessToken(testIdentity())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %s", exp)
	}

	claims, err := m.VerifyAccessToken(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	id := claims.Identity()
	if id.ID != "u1" || id.Role != user.RoleFaculty || id.Name != "Dr. Rao" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyAccessToken_RejectsRefreshToken(t *testing.T) {
	m := NewManager("test-secret", time.Minute, time.Hour)

	raw, _, _, err := m.GenerateRefreshToken(testIdentity())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.VerifyAccessToken(raw); !errors.Is(err, ErrInvalidTokenType) {
		t.Fatalf("expected ErrInvalidTokenType, got %v", err)
	}
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	m := NewManager("test-secret", time.Minute, time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return past }

	raw, _, err := m.GenerateAccessToken(testIdentity())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	m.now = time.Now
	if _, err := m.VerifyAccessToken(raw); err == nil {
		t.Fatalf("expected expired token to fail verification")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	a := NewManager("secret-a", time.Minute, time.Hour)
	b := NewManager("secret-b", time.Minute, time.Hour)

	raw, _, err := a.GenerateAccessToken(testIdentity())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := b.VerifyAccessToken(raw); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestHashRefreshToken_Deterministic(t *testing.T) {
	m := NewManager("test-secret", time.Minute, time.Hour)

	if m.HashRefreshToken("abc") != m.HashRefreshToken("abc") {
		t.Fatalf("expected deterministic hash")
	}
	if m.HashRefreshToken("abc") == m.HashRefreshToken("abd") {
		t.Fatalf("expected different hashes for different tokens")
	}
}

package devserver

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("dev-secret"),
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresIn, err := issuer.IssueToken(" student-1 ")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("unexpected expiry %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if subject != "student-1" {
		t.Fatalf("unexpected subject %q", subject)
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Issuer != tokenIssuer || len(claims.Audience) != 1 || claims.Audience[0] != tokenAudience {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("dev-secret"), TokenTTL: time.Minute, Clock: clock})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	token, _, err := issuer.IssueToken("student-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	other, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("other-secret"), Clock: clock})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	foreign, _, err := other.IssueToken("student-1")
	if err != nil {
		t.Fatalf("issue foreign: %v", err)
	}
	if _, err := issuer.ValidateToken(foreign); err == nil {
		t.Fatalf("expected signature mismatch to fail validation")
	}
}

func TestTokenIssuerRequiresSecretAndSubject(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("dev-secret")})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	if _, _, err := issuer.IssueToken("  "); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

package ws

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/reader-relay/internal/domain"
)

const testSecret = "test-secret"

func TestAuthenticator_ValidToken(t *testing.T) {
	auth := NewAuthenticator(testSecret, discardLogger())
	identity := domain.Identity{UserID: "reader-1", Email: "reader-1@example.com", Role: domain.RoleReader}

	token, err := GenerateToken(identity, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	got, err := auth.Authenticate(r)
	if err != nil {
		t.Fatalf("expected valid token accepted: %v", err)
	}
	if got != identity {
		t.Fatalf("expected identity %+v, got %+v", identity, got)
	}
}

func TestAuthenticator_TokenViaQueryParameter(t *testing.T) {
	auth := NewAuthenticator(testSecret, discardLogger())
	identity := domain.Identity{UserID: "consultant-1", Role: domain.RoleConsultant}

	token, err := GenerateToken(identity, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)

	got, err := auth.Authenticate(r)
	if err != nil {
		t.Fatalf("expected query token accepted: %v", err)
	}
	if got.UserID != "consultant-1" || got.Role != domain.RoleConsultant {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestAuthenticator_Rejections(t *testing.T) {
	auth := NewAuthenticator(testSecret, discardLogger())

	expired, err := GenerateToken(domain.Identity{UserID: "reader-1", Role: domain.RoleReader}, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	wrongKey, err := GenerateToken(domain.Identity{UserID: "reader-1", Role: domain.RoleReader}, "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	badRole, err := GenerateToken(domain.Identity{UserID: "reader-1", Role: domain.Role("superuser")}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	noUser, err := GenerateToken(domain.Identity{Role: domain.RoleReader}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{name: "expired token", token: expired},
		{name: "wrong signing key", token: wrongKey},
		{name: "unknown role", token: badRole},
		{name: "missing user id", token: noUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			_, err := auth.Authenticate(r)
			if !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

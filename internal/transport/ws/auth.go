package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/user/reader-relay/internal/domain"
)

// Claims defines the custom claims carried by a session credential.
type Claims struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer credentials at connection establishment.
// The decoded identity, including the role, is fixed for the connection's
// lifetime.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator for HMAC-signed tokens.
func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		logger: logger.With("component", "authenticator"),
	}
}

// Authenticate extracts and validates the bearer token from an upgrade
// request. Any failure wraps domain.ErrUnauthorized and is fatal for the
// connection attempt.
func (a *Authenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		a.logger.Warn("connection attempt without bearer token", "remote_addr", r.RemoteAddr)
		return domain.Identity{}, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		a.logger.Warn("invalid bearer token", "remote_addr", r.RemoteAddr, "error", err)
		return domain.Identity{}, fmt.Errorf("invalid or expired token: %w", domain.ErrUnauthorized)
	}

	if claims.UserID == "" || !claims.Role.Valid() {
		a.logger.Warn("token missing identity claims", "remote_addr", r.RemoteAddr)
		return domain.Identity{}, fmt.Errorf("incomplete identity claims: %w", domain.ErrUnauthorized)
	}

	return domain.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Browser websocket clients cannot set headers; allow a query parameter.
	return r.URL.Query().Get("token")
}

// GenerateToken creates a signed credential for an identity. Used by tests
// and local tooling; production tokens come from the credential service.
func GenerateToken(identity domain.Identity, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

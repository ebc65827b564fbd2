// Package auth resolves the bearer credential presented on a connection
// handshake into an identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// Token kinds carried in the typ claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Rejection reasons reported to the client.
const (
	ReasonMissingToken     = "missing_token"
	ReasonWrongCredential  = "wrong_credential"
	ReasonMalformedToken   = "malformed_token"
	ReasonInvalidToken     = "invalid_token"
	ReasonWrongTokenType   = "wrong_token_type"
	ReasonAccountSuspended = "account_suspended"
	ReasonUnknownUser      = "unknown_user"
)

// Error is returned for every rejected handshake. Nothing is registered for
// the connection when it occurs.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func reject(reason string, err error) error { return &Error{Reason: reason, Err: err} }

// Claims is the payload of a platform-issued token.
type Claims struct {
	Type  string        `json:"typ"`
	Email string        `json:"email,omitempty"`
	Roles []domain.Role `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 tokens and checks the account behind them.
type Authenticator struct {
	secret []byte
	users  repository.UserRepository
}

func NewAuthenticator(secret string, users repository.UserRepository) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// TokenFromRequest extracts the credential from the Authorization header,
// falling back to the token query parameter used by browser clients. A header
// carrying any scheme other than Bearer is rejected with
// ReasonWrongCredential.
func TokenFromRequest(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return strings.TrimSpace(r.URL.Query().Get("token")), nil
	}
	scheme, token, _ := strings.Cut(h, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", reject(ReasonWrongCredential, fmt.Errorf("unsupported scheme %q", scheme))
	}
	return strings.TrimSpace(token), nil
}

// Authenticate validates raw and returns the identity of a live account.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*domain.Identity, error) {
	if raw == "" {
		return nil, reject(ReasonMissingToken, nil)
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, reject(ReasonMalformedToken, err)
		}
		return nil, reject(ReasonInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, reject(ReasonInvalidToken, nil)
	}
	if claims.Type != TokenAccess {
		return nil, reject(ReasonWrongTokenType, fmt.Errorf("got %q", claims.Type))
	}

	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, reject(ReasonUnknownUser, nil)
		}
		return nil, fmt.Errorf("load user %s: %w", claims.Subject, err)
	}
	if user.Suspended {
		return nil, reject(ReasonAccountSuspended, nil)
	}

	return &domain.Identity{UserID: user.ID, Email: user.Email, Roles: user.Roles}, nil
}

// Issue signs a token of the given kind. The gateway never issues tokens; this
// exists for tests and local tooling.
func Issue(secret, userID, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

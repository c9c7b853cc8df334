// Package auth verifies connection credentials and resolves them to users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/store"
)

// Authentication failures. The error text doubles as the close reason
// sent to the client, so keep these stable.
var (
	ErrMissingCredential = errors.New("authorization required")
	ErrExpiredCredential = errors.New("expired, please re-authenticate")
	ErrInvalidCredential = errors.New("invalid credentials")
)

// Verifier checks a raw credential and returns the user ID it asserts.
type Verifier interface {
	Verify(credential string) (userID string, err error)
}

// JWTVerifier validates HS256-signed bearer tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, returning its subject claim.
func (v *JWTVerifier) Verify(credential string) (string, error) {
	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredential
		}
		return "", ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredential
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidCredential
	}
	return sub, nil
}

// MintToken signs an HS256 token for userID, expiring after ttl.
func MintToken(secret, userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Authenticator resolves connection credentials to users.
type Authenticator struct {
	verifier    Verifier
	revocations Revocations
	repo        store.Repository
}

// NewAuthenticator wires a verifier, a revocation list and the user store.
func NewAuthenticator(verifier Verifier, revocations Revocations, repo store.Repository) *Authenticator {
	return &Authenticator{verifier: verifier, revocations: revocations, repo: repo}
}

// Authenticate validates a raw credential and loads the user it belongs
// to. A verified credential for a user we have not seen before provisions
// that user. Sentinel errors carry client-safe close reasons; anything
// else is an infrastructure failure.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*domain.User, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrMissingCredential
	}

	revoked, err := a.revocations.IsRevoked(ctx, credential)
	if err != nil {
		// A revocation backend outage must not lock everyone out.
		slog.Warn("revocation check failed", "error", err)
	} else if revoked {
		return nil, ErrExpiredCredential
	}

	userID, err := a.verifier.Verify(credential)
	if err != nil {
		return nil, err
	}

	user, err := a.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user == nil {
		return a.provision(ctx, userID)
	}
	return user, nil
}

func (a *Authenticator) provision(ctx context.Context, userID string) (*domain.User, error) {
	now := time.Now()
	user := &domain.User{
		UserID:     userID,
		Username:   deriveUsername(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.repo.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("provision user %s: %w", userID, err)
	}
	return user, nil
}

func deriveUsername(userID string) string {
	if len(userID) > 8 {
		return "user-" + userID[len(userID)-8:]
	}
	return "user-" + userID
}

// CredentialFromRequest extracts the bearer credential from a request.
// Browsers cannot set the Authorization header on websocket upgrades, so
// the token may also arrive in the Sec-WebSocket-Protocol list as
// "bearer, <token>" or as a token query parameter.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	protos := strings.Split(strings.Join(r.Header.Values("Sec-WebSocket-Protocol"), ","), ",")
	for i, p := range protos {
		if strings.EqualFold(strings.TrimSpace(p), "bearer") && i+1 < len(protos) {
			return strings.TrimSpace(protos[i+1])
		}
	}

	return r.URL.Query().Get("token")
}

// Package auth implements the connection authenticator: it verifies the
// bearer JWT presented on the WebSocket handshake, checks the token against
// the revocation list, and confirms against the user store that the identity
// is still active at connection time. A revoked or deactivated user is
// rejected even with a technically valid token. Authentication happens once
// per connection; the periodic revalidation sweep (see Revalidator) covers
// mid-session deactivation.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors forming the authentication failure taxonomy. Store
// unavailability is distinguished from a bad credential so callers can report
// it, but both fail the handshake — authentication never fails open.
var (
	// ErrAuthenticationFailed covers a missing, malformed, expired,
	// badly signed, or revoked credential, and an inactive or unknown user.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrStoreUnavailable indicates the user store or revocation list could
	// not be reached during the handshake lookup.
	ErrStoreUnavailable = errors.New("auth: backing store unavailable")

	// ErrUserNotFound and ErrUserInactive are returned by UserDirectory
	// implementations and folded into ErrAuthenticationFailed.
	ErrUserNotFound = errors.New("auth: user not found")
	ErrUserInactive = errors.New("auth: user inactive")
)

// Identity is the resolved (user, role) pair a successful handshake yields.
type Identity struct {
	UserID string
	Role   string
}

// Claims is the JWT claim set issued by the admin panel's credential service.
// The subject carries the user ID; jti is used for revocation.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserDirectory is the synchronous user lookup consulted at handshake time.
// Implementations return ErrUserNotFound or ErrUserInactive for rejected
// users and ErrStoreUnavailable (wrapped) when the store is unreachable.
type UserDirectory interface {
	FindActiveUser(ctx context.Context, userID string) (role string, err error)
}

// RevocationChecker reports whether a token ID has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Authenticator validates bearer credentials for new connections.
type Authenticator struct {
	secret  []byte
	users   UserDirectory
	revoked RevocationChecker // optional
}

// NewAuthenticator creates an Authenticator. The revocation checker may be
// nil, in which case only signature, expiry, and the user-store lookup gate
// the handshake.
func NewAuthenticator(secret []byte, users UserDirectory, revoked RevocationChecker) *Authenticator {
	return &Authenticator{secret: secret, users: users, revoked: revoked}
}

// Authenticate verifies a bearer token and resolves it to an identity.
//
// Verification order: signature and standard claims first (cheap, local),
// then the revocation list, then the live user-store lookup. The store
// lookup is deliberate and synchronous: a deactivated user must be rejected
// at connection time, not when their token expires.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrAuthenticationFailed)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: token invalid", ErrAuthenticationFailed)
	}

	userID := claims.Subject
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token missing subject", ErrAuthenticationFailed)
	}

	if a.revoked != nil && claims.ID != "" {
		revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: revocation check: %v", ErrStoreUnavailable, err)
		}
		if revoked {
			return Identity{}, fmt.Errorf("%w: token revoked", ErrAuthenticationFailed)
		}
	}

	role, err := a.users.FindActiveUser(ctx, userID)
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrUserInactive):
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	case errors.Is(err, ErrStoreUnavailable):
		return Identity{}, err
	case err != nil:
		return Identity{}, fmt.Errorf("%w: user lookup: %v", ErrStoreUnavailable, err)
	}

	// The role claim is informational; the store is authoritative.
	if claims.Role != "" && claims.Role != role {
		return Identity{}, fmt.Errorf("%w: role claim %q does not match store role %q",
			ErrAuthenticationFailed, claims.Role, role)
	}

	return Identity{UserID: userID, Role: role}, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-signing-secret")

type fakeDirectory struct {
	users    map[string]string // userID -> role
	inactive map[string]bool
	down     bool
}

func (d *fakeDirectory) FindActiveUser(ctx context.Context, userID string) (string, error) {
	if d.down {
		return "", fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	}
	role, ok := d.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	if d.inactive[userID] {
		return "", ErrUserInactive
	}
	return role, nil
}

type fakeRevocations struct {
	revoked map[string]bool
	down    bool
}

func (r *fakeRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if r.down {
		return false, errors.New("connection refused")
	}
	return r.revoked[jti], nil
}

func mintToken(t *testing.T, secret []byte, subject, role, jti string, expiresAt time.Time) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestAuthenticateValidToken(t *testing.T) {
	dir := &fakeDirectory{users: map[string]string{"u1": "admin"}}
	a := NewAuthenticator(testSecret, dir, nil)

	token := mintToken(t, testSecret, "u1", "admin", "j1", time.Now().Add(time.Hour))
	id, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.UserID != "u1" || id.Role != "admin" {
		t.Errorf("identity = %+v, want u1/admin", id)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	dir := &fakeDirectory{
		users:    map[string]string{"u1": "admin", "u2": "user"},
		inactive: map[string]bool{"u2": true},
	}
	rev := &fakeRevocations{revoked: map[string]bool{"j-revoked": true}}
	a := NewAuthenticator(testSecret, dir, rev)
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "garbage token",
			token:   "not-a-jwt",
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "wrong secret",
			token:   mintToken(t, []byte("other-secret"), "u1", "admin", "j1", time.Now().Add(time.Hour)),
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "expired token",
			token:   mintToken(t, testSecret, "u1", "admin", "j1", time.Now().Add(-time.Minute)),
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "missing subject",
			token:   mintToken(t, testSecret, "", "admin", "j1", time.Now().Add(time.Hour)),
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "revoked jti",
			token:   mintToken(t, testSecret, "u1", "admin", "j-revoked", time.Now().Add(time.Hour)),
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "unknown user",
			token:   mintToken(t, testSecret, "ghost", "admin", "j1", time.Now().Add(time.Hour)),
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "inactive user",
			token:   mintToken(t, testSecret, "u2", "user", "j1", time.Now().Add(time.Hour)),
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:    "role claim mismatch",
			token:   mintToken(t, testSecret, "u1", "superadmin", "j1", time.Now().Add(time.Hour)),
			wantErr: ErrAuthenticationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(ctx, tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticateFailsClosedOnStoreOutage(t *testing.T) {
	dir := &fakeDirectory{down: true}
	a := NewAuthenticator(testSecret, dir, nil)

	token := mintToken(t, testSecret, "u1", "admin", "j1", time.Now().Add(time.Hour))
	_, err := a.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestAuthenticateFailsClosedOnRevocationOutage(t *testing.T) {
	dir := &fakeDirectory{users: map[string]string{"u1": "admin"}}
	rev := &fakeRevocations{down: true}
	a := NewAuthenticator(testSecret, dir, rev)

	token := mintToken(t, testSecret, "u1", "admin", "j1", time.Now().Add(time.Hour))
	_, err := a.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestAuthenticateEmptyRoleClaimDefersToStore(t *testing.T) {
	dir := &fakeDirectory{users: map[string]string{"u1": "manager"}}
	a := NewAuthenticator(testSecret, dir, nil)

	token := mintToken(t, testSecret, "u1", "", "j1", time.Now().Add(time.Hour))
	id, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Role != "manager" {
		t.Errorf("role = %q, want manager (store-resolved)", id.Role)
	}
}

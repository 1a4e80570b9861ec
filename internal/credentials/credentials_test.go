package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/db"
	"agenthub/internal/domain"
	"agenthub/internal/migrate"
	"agenthub/internal/repo"
)

func newTestService(t *testing.T) (*Service, *Signer) {
	t.Helper()
	conn, err := db.Open(db.Config{URL: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	signer := NewSigner("test-secret", time.Hour)
	return NewService(repo.Repo{DB: conn}, signer), signer
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("secret12")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	assert.True(t, VerifyPassword("secret12", hash))
	assert.False(t, VerifyPassword("secret13", hash))
	assert.False(t, VerifyPassword("", hash))
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h1, err := HashPassword("secret12")
	require.NoError(t, err)
	h2, err := HashPassword("secret12")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyPasswordRejectsGarbage(t *testing.T) {
	assert.False(t, VerifyPassword("x", "not-a-hash"))
	assert.False(t, VerifyPassword("x", "$bcrypt$v=19$m=1,t=1,p=1$xx$yy"))
}

func TestTokenLifetimeWindow(t *testing.T) {
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	signer := NewSigner("s", time.Hour)
	signer.Now = func() time.Time { return issued }

	token, err := signer.Issue(Claims{Subject: "u1", Username: "alice", Role: domain.RoleUser, Tier: "Free"})
	require.NoError(t, err)

	// Inside the window.
	signer.Now = func() time.Time { return issued.Add(59 * time.Minute) }
	claims := signer.Verify(token)
	require.NotNil(t, claims)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)

	// Exactly at expiry and after.
	signer.Now = func() time.Time { return issued.Add(time.Hour) }
	assert.Nil(t, signer.Verify(token))
	signer.Now = func() time.Time { return issued.Add(2 * time.Hour) }
	assert.Nil(t, signer.Verify(token))
}

func TestTokenWrongSecretRejected(t *testing.T) {
	signer := NewSigner("right", time.Hour)
	token, err := signer.Issue(Claims{Subject: "u1"})
	require.NoError(t, err)
	other := NewSigner("wrong", time.Hour)
	assert.Nil(t, other.Verify(token))
	assert.Nil(t, signer.Verify("garbage.token.here"))
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"short username", RegisterInput{Username: "ab", Email: "a@x", Password: "secret12"}, "username"},
		{"bad email", RegisterInput{Username: "alice", Email: "nope", Password: "secret12"}, "email"},
		{"empty password", RegisterInput{Username: "alice", Email: "a@x", Password: ""}, "password"},
		{"short password", RegisterInput{Username: "alice", Email: "a@x", Password: "short"}, "password"},
		{"bad role", RegisterInput{Username: "alice", Email: "a@x", Password: "secret12", Role: "root"}, "role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			var ve domain.ValidationError
			require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestRegisterConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x", Password: "secret12"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@x", Password: "secret12"})
	assert.ErrorIs(t, err, repo.ErrConflict)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "A@X", Password: "secret12"})
	assert.ErrorIs(t, err, repo.ErrConflict, "email uniqueness is case-insensitive")
}

func TestLoginFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x", Password: "secret12"})
	require.NoError(t, err)
	assert.Equal(t, "Free", u.Tier)
	assert.True(t, u.IsActive)

	_, _, err = svc.Login(ctx, "a@x", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@x", "secret12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	logged, token, err := svc.Login(ctx, "a@x", "secret12")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, logged.LoginCount)
	require.NotNil(t, logged.LastLoginAt)

	again, _, err := svc.Login(ctx, "a@x", "secret12")
	require.NoError(t, err)
	assert.Equal(t, 2, again.LoginCount)

	claims := svc.Signer.Verify(token)
	require.NotNil(t, claims)
	assert.Equal(t, u.ID, claims.Subject)
}

func TestLoginDeactivatedUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x", Password: "secret12"})
	require.NoError(t, err)
	now := time.Now().UTC().Format(time.RFC3339)
	require.NoError(t, svc.Repo.DeactivateUser(ctx, u.ID, now))

	_, _, err = svc.Login(ctx, "a@x", "secret12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRequireRole(t *testing.T) {
	user := &Claims{Role: domain.RoleUser}
	admin := &Claims{Role: domain.RoleAdmin}

	assert.NoError(t, RequireRole(user, domain.RoleUser))
	assert.NoError(t, RequireRole(admin, domain.RoleUser))
	assert.NoError(t, RequireRole(admin, domain.RoleAdmin))

	var fe ForbiddenError
	require.ErrorAs(t, RequireRole(user, domain.RoleAdmin), &fe)
	assert.Equal(t, domain.RoleAdmin, fe.Role)
	require.Error(t, RequireRole(nil, domain.RoleUser))
}

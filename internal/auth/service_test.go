package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
	"github.com/fenggwsx/chatrelay/internal/storage/sqlite"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "chatrelay-test", Expiration: time.Hour}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	store, err := sqlite.NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "auth.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return NewService(store, testJWT, append([]Option{WithCost(bcrypt.MinCost)}, opts...)...)
}

func TestHashAndCompare(t *testing.T) {
	hash, err := HashPassword("secret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.NoError(t, ComparePassword(hash, "secret"))
	assert.Error(t, ComparePassword(hash, "other"))

	_, err = HashPassword("", bcrypt.MinCost)
	assert.Error(t, err)
}

func TestHashAcceptsLongPasswords(t *testing.T) {
	long := strings.Repeat("p", 100)
	hash, err := HashPassword(long, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, long))
	// Differs only after byte 72, which bcrypt alone would ignore.
	assert.Error(t, ComparePassword(hash, strings.Repeat("p", 99)+"q"))

	wide := strings.Repeat("密", 200)
	hash, err = HashPassword(wide, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, wide))
}

func TestSignUpAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SignUp(ctx, "alice", "pw"))
	assert.ErrorIs(t, svc.SignUp(ctx, "alice", "pw2"), storage.ErrUserExists)

	assert.NoError(t, svc.Login(ctx, "alice", "pw"))
	assert.ErrorIs(t, svc.Login(ctx, "alice", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.Login(ctx, "nobody", "pw"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.Login(ctx, "", ""), ErrInvalidCredentials)
}

func TestTokenLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.SignUp(ctx, "alice", "pw"))
	require.NoError(t, svc.SignUp(ctx, "bob", "pw"))

	token, err := svc.IssueToken("alice")
	require.NoError(t, err)

	assert.NoError(t, svc.LoginWithToken(ctx, "alice", token))
	assert.ErrorIs(t, svc.LoginWithToken(ctx, "bob", token), ErrInvalidToken)
	assert.ErrorIs(t, svc.LoginWithToken(ctx, "alice", "garbage"), ErrInvalidToken)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	issuer := newTestService(t, WithClock(func() time.Time { return past }))
	require.NoError(t, issuer.SignUp(ctx, "alice", "pw"))

	token, err := issuer.IssueToken("alice")
	require.NoError(t, err)
	assert.ErrorIs(t, issuer.LoginWithToken(ctx, "alice", token), ErrInvalidToken)
}

func TestParseTokenChecksIssuerAndSecret(t *testing.T) {
	token, err := NewToken(testJWT, "alice", time.Now())
	require.NoError(t, err)

	claims, err := ParseToken(testJWT, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice", claims.Subject)

	other := testJWT
	other.Secret = "different"
	_, err = ParseToken(other, token)
	assert.Error(t, err)

	other = testJWT
	other.Issuer = "someone-else"
	_, err = ParseToken(other, token)
	assert.Error(t, err)
}

package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

type fakeHolder struct {
	dead atomic.Bool
}

func (h *fakeHolder) IsAlive() bool { return !h.dead.Load() }

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	store := NewMemoryStore(bcrypt.MinCost)
	require.NoError(t, store.Add("alice", "wonderland"))
	require.NoError(t, store.Add("Bob", "builder"))
	return NewAuthenticator(store, zaptest.NewLogger(t))
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var rej *RejectedError
	require.True(t, errors.As(err, &rej), "expected RejectedError, got %v", err)
	assert.ErrorIs(t, err, ErrRejected)
	return rej.Reason
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPasswordCost("secret123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)
	assert.True(t, CheckPassword("secret123", hash))
	assert.False(t, CheckPassword("secret124", hash))
}

func TestAuthenticateAccepts(t *testing.T) {
	a := newTestAuthenticator(t)
	h := &fakeHolder{}

	name, err := a.Authenticate(context.Background(), "alice", "wonderland", h)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.True(t, a.IsOnline("alice"))
	assert.Equal(t, 1, a.Online())
}

func TestAuthenticateNormalizesUsername(t *testing.T) {
	a := newTestAuthenticator(t)

	name, err := a.Authenticate(context.Background(), "  BOB ", "builder", &fakeHolder{})
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	_, err := a.Authenticate(ctx, "alice", "wrong", &fakeHolder{})
	assert.Equal(t, ReasonBadCredentials, reasonOf(t, err))

	_, err = a.Authenticate(ctx, "mallory", "anything", &fakeHolder{})
	assert.Equal(t, ReasonBadCredentials, reasonOf(t, err))

	_, err = a.Authenticate(ctx, "", "", &fakeHolder{})
	assert.Equal(t, ReasonBadCredentials, reasonOf(t, err))

	assert.Equal(t, 0, a.Online())
}

func TestAuthenticateRejectsDuplicateLogin(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()
	first := &fakeHolder{}

	_, err := a.Authenticate(ctx, "alice", "wonderland", first)
	require.NoError(t, err)

	_, err = a.Authenticate(ctx, "ALICE", "wonderland", &fakeHolder{})
	assert.Equal(t, ReasonAlreadyLoggedIn, reasonOf(t, err))

	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "User is already logged in", rej.Message())
}

func TestAuthenticateTakesOverDeadHolder(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()
	first := &fakeHolder{}
	second := &fakeHolder{}

	_, err := a.Authenticate(ctx, "alice", "wonderland", first)
	require.NoError(t, err)
	first.dead.Store(true)

	_, err = a.Authenticate(ctx, "alice", "wonderland", second)
	require.NoError(t, err)

	// the stale owner's deferred release must not evict the new owner
	a.Release("alice", first)
	assert.True(t, a.IsOnline("alice"))

	a.Release("alice", second)
	assert.False(t, a.IsOnline("alice"))
}

func TestReleaseAllowsRelogin(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()
	h := &fakeHolder{}

	_, err := a.Authenticate(ctx, "alice", "wonderland", h)
	require.NoError(t, err)
	a.Release("alice", h)

	_, err = a.Authenticate(ctx, "alice", "wonderland", &fakeHolder{})
	assert.NoError(t, err)
}

type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestAuthenticateStoreFailureIsNotRejection(t *testing.T) {
	a := NewAuthenticator(failingStore{}, zaptest.NewLogger(t))
	_, err := a.Authenticate(context.Background(), "alice", "pw", &fakeHolder{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestConcurrentLoginsBindOnce(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	const n = 16
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Authenticate(ctx, "alice", "wonderland", &fakeHolder{}); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestLoadFileStore(t *testing.T) {
	hash, err := HashPasswordCost("hashed-pw", bcrypt.MinCost)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - username: Alice
    password: plain-pw
  - username: bob
    password_hash: `+hash+`
`), 0644))

	store, err := LoadFileStore(path, bcrypt.MinCost)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	a := NewAuthenticator(store, zaptest.NewLogger(t))
	_, err = a.Authenticate(context.Background(), "alice", "plain-pw", &fakeHolder{})
	assert.NoError(t, err)
	_, err = a.Authenticate(context.Background(), "bob", "hashed-pw", &fakeHolder{})
	assert.NoError(t, err)
}

func TestLoadFileStoreErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFileStore(filepath.Join(dir, "missing.yaml"), bcrypt.MinCost)
	assert.Error(t, err)

	noPassword := filepath.Join(dir, "nopw.yaml")
	require.NoError(t, os.WriteFile(noPassword, []byte("users:\n  - username: carol\n"), 0644))
	_, err = LoadFileStore(noPassword, bcrypt.MinCost)
	assert.ErrorContains(t, err, "carol")

	noName := filepath.Join(dir, "noname.yaml")
	require.NoError(t, os.WriteFile(noName, []byte("users:\n  - password: x\n"), 0644))
	_, err = LoadFileStore(noName, bcrypt.MinCost)
	assert.Error(t, err)
}

func TestPropertyNormalizeUsernameIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`\s{0,3}[a-zA-Z0-9_]{1,16}\s{0,3}`).Draw(t, "name")
		once := NormalizeUsername(name)
		if NormalizeUsername(once) != once {
			t.Fatalf("NormalizeUsername not idempotent for %q", name)
		}
	})
}

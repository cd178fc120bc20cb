package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsline/internal/types"
)

// fakeClock returns a fixed instant.
type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

// fakeUserRepo is a hand-rolled UserRepo backed by a map keyed on lemail.
// Error fields force specific failures per call.
type fakeUserRepo struct {
	users map[string]*types.User

	findErr    error
	insertErr  error
	loginErr   error
	insertedAt []string // lemails passed to Insert, in order

	// insertConflictThenExists simulates a concurrent winner: Insert fails
	// with a conflict and the subsequent re-read finds this user.
	insertConflictWinner *types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*types.User)}
}

func (f *fakeUserRepo) FindByLoweredEmail(ctx context.Context, lemail string) (*types.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if u, ok := f.users[lemail]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (f *fakeUserRepo) Insert(ctx context.Context, user *types.User) error {
	f.insertedAt = append(f.insertedAt, user.LoweredEmail)
	if f.insertConflictWinner != nil {
		f.users[f.insertConflictWinner.LoweredEmail] = f.insertConflictWinner
		return types.NewAppError(types.ErrCodeConflictEmail, "user already exists for email", nil)
	}
	if f.insertErr != nil {
		return f.insertErr
	}
	f.users[user.LoweredEmail] = user
	return nil
}

func (f *fakeUserRepo) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return f.loginErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testReconciler(repo UserRepo) *SignInReconciler {
	clock := fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewSignInReconciler(repo, clock, testLogger())
}

func TestEnsureUser_FirstSignInCreatesUser(t *testing.T) {
	repo := newFakeUserRepo()
	rec := testReconciler(repo)

	user, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{
		Provider: "github",
		Email:    "Jane.Doe@Example.COM",
	})

	require.True(t, ok)
	require.NotNil(t, user)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Jane.Doe@Example.COM", user.Email)
	assert.Equal(t, "jane.doe@example.com", user.LoweredEmail)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), user.CreatedAt)

	stored, ok2 := repo.users["jane.doe@example.com"]
	require.True(t, ok2, "user should be persisted under the lowered email")
	assert.Equal(t, user.ID, stored.ID)
}

func TestEnsureUser_RepeatSignInReusesUser(t *testing.T) {
	repo := newFakeUserRepo()
	existing := &types.User{
		ID:           "u_existing",
		Email:        "jane@example.com",
		LoweredEmail: "jane@example.com",
	}
	repo.users["jane@example.com"] = existing

	rec := testReconciler(repo)

	user, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{
		Provider: "github",
		Email:    "  JANE@example.com ",
	})

	require.True(t, ok)
	assert.Equal(t, "u_existing", user.ID)
	assert.Empty(t, repo.insertedAt, "no insert should happen for a returning user")
}

func TestEnsureUser_CaseVariantsResolveToSameUser(t *testing.T) {
	repo := newFakeUserRepo()
	rec := testReconciler(repo)

	first, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "User@Example.com"})
	require.True(t, ok)

	second, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "user@EXAMPLE.com"})
	require.True(t, ok)

	assert.Equal(t, first.ID, second.ID, "case variants of an email must map to one user")
	assert.Len(t, repo.insertedAt, 1, "only the first sign-in should insert")
}

func TestEnsureUser_EmptyEmailDenied(t *testing.T) {
	repo := newFakeUserRepo()
	rec := testReconciler(repo)

	user, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "   "})

	assert.False(t, ok)
	assert.Nil(t, user)
}

func TestEnsureUser_LookupFailureDenied(t *testing.T) {
	repo := newFakeUserRepo()
	repo.findErr = types.NewAppError(types.ErrCodeInternalStore, "failed to load user", errors.New("socket timeout"))
	rec := testReconciler(repo)

	user, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "jane@example.com"})

	assert.False(t, ok, "store failure must deny sign-in, not create a session")
	assert.Nil(t, user)
}

func TestEnsureUser_InsertFailureDenied(t *testing.T) {
	repo := newFakeUserRepo()
	repo.insertErr = types.NewAppError(types.ErrCodeInternalStore, "failed to insert user", errors.New("write concern error"))
	rec := testReconciler(repo)

	user, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "jane@example.com"})

	assert.False(t, ok)
	assert.Nil(t, user)
}

func TestEnsureUser_InsertConflictReusesWinner(t *testing.T) {
	repo := newFakeUserRepo()
	repo.insertConflictWinner = &types.User{
		ID:           "u_winner",
		Email:        "jane@example.com",
		LoweredEmail: "jane@example.com",
	}
	rec := testReconciler(repo)

	user, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "jane@example.com"})

	require.True(t, ok, "losing the insert race must still allow sign-in")
	assert.Equal(t, "u_winner", user.ID, "the concurrent winner's record must be reused")
}

func TestEnsureUser_RecordLoginFailureStillAllows(t *testing.T) {
	repo := newFakeUserRepo()
	repo.users["jane@example.com"] = &types.User{ID: "u1", LoweredEmail: "jane@example.com"}
	repo.loginErr = errors.New("update failed")
	rec := testReconciler(repo)

	_, ok := rec.EnsureUser(context.Background(), types.OAuthProfile{Email: "jane@example.com"})

	assert.True(t, ok, "login bookkeeping failure should not deny sign-in")
}

func TestCanonicalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  padded@example.com  ", "padded@example.com"},
		{"already@lower.io", "already@lower.io"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CanonicalizeEmail(tt.in); got != tt.want {
			t.Errorf("CanonicalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsline/internal/types"
)

// UserRepo defines the data access methods needed by the SignInReconciler.
type UserRepo interface {
	FindByLoweredEmail(ctx context.Context, lemail string) (*types.User, error)
	Insert(ctx context.Context, user *types.User) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// SignInReconciler decides whether an authenticated OAuth profile may sign in
// and guarantees a user record exists for it. A user is keyed by canonical
// (trimmed, lowered) email; repeated sign-ins reuse the existing record.
//
// Concurrent first sign-ins for the same email are arbitrated by the unique
// index on lemail: the losing insert re-reads and reuses the winner's record.
type SignInReconciler struct {
	users  UserRepo
	clock  types.Clock
	logger *slog.Logger
}

// NewSignInReconciler creates a SignInReconciler.
func NewSignInReconciler(users UserRepo, clock types.Clock, logger *slog.Logger) *SignInReconciler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignInReconciler{
		users:  users,
		clock:  clock,
		logger: logger,
	}
}

// EnsureUser resolves the user record for the authenticated profile, creating
// one on first sign-in. Returns (user, true) when sign-in is allowed. Any
// store failure is logged and denies the sign-in (nil, false); the caller
// must not establish a session in that case.
func (r *SignInReconciler) EnsureUser(ctx context.Context, profile types.OAuthProfile) (*types.User, bool) {
	email := strings.TrimSpace(profile.Email)
	lemail := CanonicalizeEmail(email)
	if lemail == "" {
		r.logger.WarnContext(ctx, "sign-in denied: provider returned no email",
			"provider", profile.Provider,
		)
		return nil, false
	}

	now := r.clock.Now()

	user, err := r.users.FindByLoweredEmail(ctx, lemail)
	if err == nil {
		if lerr := r.users.RecordLogin(ctx, user.ID, now); lerr != nil {
			// Login bookkeeping is best effort; the sign-in still succeeds.
			r.logger.WarnContext(ctx, "failed to record login time",
				"user_id", user.ID,
				"error", lerr,
			)
		}
		return user, true
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
		r.logger.ErrorContext(ctx, "sign-in denied: user lookup failed",
			"error", err,
		)
		return nil, false
	}

	// First sign-in for this email: create the record.
	newUser := &types.User{
		ID:           uuid.NewString(),
		Email:        email,
		LoweredEmail: lemail,
		CreatedAt:    now,
		LastLoginAt:  now,
	}

	err = r.users.Insert(ctx, newUser)
	if err == nil {
		r.logger.InfoContext(ctx, "user created on first sign-in",
			"user_id", newUser.ID,
		)
		return newUser, true
	}

	// A concurrent sign-in may have inserted the same email first. Re-read
	// and reuse the winner instead of failing the sign-in.
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictEmail {
		winner, rerr := r.users.FindByLoweredEmail(ctx, lemail)
		if rerr != nil {
			r.logger.ErrorContext(ctx, "sign-in denied: re-read after insert conflict failed",
				"error", rerr,
			)
			return nil, false
		}
		return winner, true
	}

	r.logger.ErrorContext(ctx, "sign-in denied: user insert failed",
		"error", err,
	)
	return nil, false
}

// Package auth implements sign-in reconciliation and server-side session
// management for the Newsline backend.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsline/internal/types"
)

// SessionConfig holds configuration for session management.
type SessionConfig struct {
	// SessionDuration is the lifetime of a new session.
	SessionDuration time.Duration

	// SessionIDPrefix is the prefix for session IDs ("sess_").
	SessionIDPrefix string
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SessionDuration: 30 * 24 * time.Hour, // 30 days
		SessionIDPrefix: "sess_",
	}
}

// SessionRepo defines the data access methods needed by the SessionService.
type SessionRepo interface {
	Insert(ctx context.Context, session *types.Session) error
	FindByID(ctx context.Context, sessionID string) (*types.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// TokenGenerator abstracts entropy sources for testability.
type TokenGenerator interface {
	GenerateSessionID() (string, error)
	GenerateOAuthState() (string, error)
}

// SessionService creates, validates, and invalidates server-side sessions.
type SessionService struct {
	repo     SessionRepo
	tokenGen TokenGenerator
	config   SessionConfig
	clock    types.Clock
	logger   *slog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	repo SessionRepo,
	tokenGen TokenGenerator,
	config SessionConfig,
	clock types.Clock,
	logger *slog.Logger,
) *SessionService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		repo:     repo,
		tokenGen: tokenGen,
		config:   config,
		clock:    clock,
		logger:   logger,
	}
}

// CreateSession creates a new session for the given user and returns the
// Session object. The session id doubles as the cookie value.
func (s *SessionService) CreateSession(ctx context.Context, userID, email string) (*types.Session, error) {
	sessionID, err := s.tokenGen.GenerateSessionID()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate session ID", err)
	}

	now := s.clock.Now()
	session := &types.Session{
		ID:        sessionID,
		UserID:    userID,
		Email:     email,
		ExpiresAt: now.Add(s.config.SessionDuration),
		CreatedAt: now,
	}

	if err := s.repo.Insert(ctx, session); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session created",
		"user_id", userID,
	)

	return session, nil
}

// ValidateSession validates a session ID against the store.
// Returns the Session if valid, or an error if not found or expired.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Expired(s.clock.Now()) {
		// The TTL index will reap the document; nothing to clean up here.
		s.logger.InfoContext(ctx, "session expired",
			"expired_at", session.ExpiresAt,
		)
		return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}

	return session, nil
}

// InvalidateSession performs a hard delete of a single session so logout
// takes effect immediately.
func (s *SessionService) InvalidateSession(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session invalidated")
	return nil
}

// CryptoTokenGenerator is the production implementation of TokenGenerator
// using crypto/rand for secure random generation.
type CryptoTokenGenerator struct {
	// SessionIDPrefix is prepended to generated session IDs.
	SessionIDPrefix string
}

// NewCryptoTokenGenerator creates a new CryptoTokenGenerator with the
// standard "sess_" prefix.
func NewCryptoTokenGenerator() *CryptoTokenGenerator {
	return &CryptoTokenGenerator{
		SessionIDPrefix: "sess_",
	}
}

// GenerateSessionID generates a cryptographically secure session ID.
// Format: "sess_" + 32 random bytes as 64 hex chars.
func (g *CryptoTokenGenerator) GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	return g.SessionIDPrefix + hex.EncodeToString(b), nil
}

// GenerateOAuthState generates a cryptographically secure state parameter
// for OAuth CSRF protection. Format: 32 random bytes as 64 hex chars.
func (g *CryptoTokenGenerator) GenerateOAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CanonicalizeEmail normalizes email addresses for consistent store lookups:
// strings.ToLower(strings.TrimSpace(email)).
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

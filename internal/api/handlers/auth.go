package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"newsline/internal/core"
	"newsline/internal/external"
	"newsline/internal/types"
)

// Cookie names used by the browser-facing auth flow.
const (
	sessionCookieName    = "newsline_session"
	oauthStateCookieName = "newsline_oauth_state"
)

// oauthStateTTL bounds how long a login attempt may sit between the redirect
// to GitHub and the callback.
const oauthStateTTL = 10 * time.Minute

// SessionManager creates and revokes server-side sessions.
type SessionManager interface {
	CreateSession(ctx context.Context, userID, email string) (*types.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error
}

// SignInGate decides whether an authenticated OAuth profile may sign in,
// creating the user record on first sign-in.
type SignInGate interface {
	EnsureUser(ctx context.Context, profile types.OAuthProfile) (*types.User, bool)
}

// StateTokenSource mints unguessable OAuth state tokens.
type StateTokenSource interface {
	GenerateOAuthState() (string, error)
}

// AuthHandlerConfig holds the browser-facing settings of the auth flow.
type AuthHandlerConfig struct {
	// AppURL is the web application origin users are redirected back to.
	AppURL string

	// SecureCookies marks cookies Secure. Disabled only for local development
	// over plain HTTP.
	SecureCookies bool
}

// AuthHandler implements the GitHub OAuth sign-in flow: redirect to the
// provider, handle the callback, and manage the session cookie.
type AuthHandler struct {
	provider external.OAuthProvider
	gate     SignInGate
	sessions SessionManager
	states   StateTokenSource
	cfg      AuthHandlerConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler with the provided dependencies.
func NewAuthHandler(
	provider external.OAuthProvider,
	gate SignInGate,
	sessions SessionManager,
	states StateTokenSource,
	cfg AuthHandlerConfig,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		provider: provider,
		gate:     gate,
		sessions: sessions,
		states:   states,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterRoutes mounts the auth endpoints.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/github/login", h.HandleLogin)
	r.Get("/auth/github/callback", h.HandleCallback)
	r.Post("/auth/logout", h.HandleLogout)
}

// HandleLogin starts the OAuth flow: mints a state token, stores it in a
// short-lived cookie, and redirects the browser to GitHub's authorization page.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.GenerateOAuthState()
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to generate oauth state",
			err,
		))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.GetLoginURL(state), http.StatusFound)
}

// HandleCallback completes the OAuth flow: validates the state token,
// exchanges the authorization code for a profile, runs the sign-in gate, and
// establishes a session before redirecting back to the app.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, oauthStateCookieName)

	q := r.URL.Query()

	// The user declined authorization on GitHub's consent screen.
	if provErr := q.Get("error"); provErr != "" {
		h.logger.InfoContext(r.Context(), "oauth flow declined at provider",
			"provider", h.provider.Name(),
			"provider_error", provErr,
		)
		http.Redirect(w, r, h.cfg.AppURL+"/?login=denied", http.StatusFound)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"missing code or state in oauth callback",
			nil,
		))
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || stateCookie.Value != state {
		h.logger.WarnContext(r.Context(), "oauth state mismatch",
			"provider", h.provider.Name(),
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"oauth state mismatch",
			nil,
		))
		return
	}

	profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "oauth code exchange failed",
			"provider", h.provider.Name(),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	user, allowed := h.gate.EnsureUser(r.Context(), *profile)
	if !allowed {
		http.Redirect(w, r, h.cfg.AppURL+"/?login=denied", http.StatusFound)
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), user.ID, user.Email)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create session",
			"user_id", user.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.cfg.AppURL, http.StatusFound)
}

// HandleLogout invalidates the current session, if any, and clears the cookie.
// Logging out without a session is not an error.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.InvalidateSession(r.Context(), cookie.Value); err != nil {
			h.logger.WarnContext(r.Context(), "failed to invalidate session",
				"error", err,
			)
		}
	}

	h.clearCookie(w, sessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

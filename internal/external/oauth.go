package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"newsline/internal/types"
)

// GitHub API endpoints (overridable for testing).
const (
	githubTokenURL    = "https://github.com/login/oauth/access_token"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"
	githubAuthBaseURL = "https://github.com/login/oauth/authorize"
)

// GithubProviderConfig holds the configuration for the GitHub OAuth provider.
type GithubProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Logger       *slog.Logger

	// Override URLs for testing
	TokenURL    string
	UserURL     string
	EmailsURL   string
	AuthBaseURL string
}

// GithubProvider implements OAuthProvider for GitHub OAuth.
// It performs three sequential HTTP calls during Exchange:
//  1. Token exchange (authorization code -> access token)
//  2. User retrieval (access token -> user profile)
//  3. Emails retrieval (access token -> primary verified email)
//
// The primary verified email is selected by iterating the email list
// to find {primary: true, verified: true}.
type GithubProvider struct {
	base         *BaseClient
	clientID     string
	clientSecret string
	redirectURL  string
	tokenURL     string
	userURL      string
	emailsURL    string
	authBaseURL  string
	logger       *slog.Logger
}

// NewGithubProvider creates a new GithubProvider with the given HTTP client and config.
func NewGithubProvider(httpClient *http.Client, cfg GithubProviderConfig) *GithubProvider {
	base := NewBaseClient(
		httpClient,
		"github-oauth",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    500 * time.Millisecond,
			MaxWait:    3 * time.Second,
		},
		"Newsline/1.0",
	)
	return NewGithubProviderWithBase(base, cfg)
}

// NewGithubProviderWithBase creates a GithubProvider with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewGithubProviderWithBase(base *BaseClient, cfg GithubProviderConfig) *GithubProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = githubTokenURL
	}

	userURL := cfg.UserURL
	if userURL == "" {
		userURL = githubUserURL
	}

	emailsURL := cfg.EmailsURL
	if emailsURL == "" {
		emailsURL = githubEmailsURL
	}

	authBaseURL := cfg.AuthBaseURL
	if authBaseURL == "" {
		authBaseURL = githubAuthBaseURL
	}

	return &GithubProvider{
		base:         base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		tokenURL:     tokenURL,
		userURL:      userURL,
		emailsURL:    emailsURL,
		authBaseURL:  authBaseURL,
		logger:       logger,
	}
}

// Name returns "github".
func (p *GithubProvider) Name() string {
	return "github"
}

// GetLoginURL generates the GitHub OAuth authorization URL with the given
// state parameter. Scopes: read:user, user:email.
func (p *GithubProvider) GetLoginURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("redirect_uri", p.redirectURL)
	params.Set("scope", "read:user user:email")
	params.Set("state", state)

	return p.authBaseURL + "?" + params.Encode()
}

// Exchange trades an authorization code for a normalized OAuthProfile.
// Performs three sequential HTTP calls:
//  1. POST to token endpoint to exchange code for access token
//  2. GET /user to retrieve basic profile
//  3. GET /user/emails to find primary verified email
func (p *GithubProvider) Exchange(ctx context.Context, code string) (*types.OAuthProfile, error) {
	accessToken, err := p.exchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := p.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	email, err := p.fetchPrimaryEmail(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return &types.OAuthProfile{
		Provider:  "github",
		Email:     email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}

// exchangeCodeForToken performs the OAuth token exchange with GitHub.
func (p *GithubProvider) exchangeCodeForToken(ctx context.Context, code string) (string, error) {
	params := url.Values{}
	params.Set("client_id", p.clientID)
	params.Set("client_secret", p.clientSecret)
	params.Set("code", code)
	params.Set("redirect_uri", p.redirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create GitHub token exchange request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.base.Do(req)
	if err != nil {
		return "", wrapOAuthError("github", "token exchange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", handleOAuthTokenError("github", resp)
	}

	var tokenResp githubTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode GitHub token response",
			err,
		)
	}

	// GitHub returns errors in the token response body even with 200 status.
	if tokenResp.Error != "" {
		return "", types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("GitHub token exchange failed: %s - %s", tokenResp.Error, tokenResp.ErrorDescription),
			nil,
		)
	}

	if tokenResp.AccessToken == "" {
		return "", types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"GitHub returned empty access token",
			nil,
		)
	}

	return tokenResp.AccessToken, nil
}

// fetchUser retrieves the user profile from the GitHub /user endpoint.
func (p *GithubProvider) fetchUser(ctx context.Context, accessToken string) (*githubUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create GitHub user request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.base.Do(req)
	if err != nil {
		return nil, wrapOAuthError("github", "user", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleOAuthAPIError("github", "user", resp)
	}

	var user githubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode GitHub user response",
			err,
		)
	}

	return &user, nil
}

// fetchPrimaryEmail retrieves the user's emails from GitHub and selects the
// primary, verified email. Falls back to the first verified email; an account
// with no verified email cannot sign in.
func (p *GithubProvider) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.emailsURL, nil)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create GitHub emails request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.base.Do(req)
	if err != nil {
		return "", wrapOAuthError("github", "emails", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", handleOAuthAPIError("github", "emails", resp)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode GitHub emails response",
			err,
		)
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}

	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}

	return "", types.NewAppError(
		types.ErrCodeAuthSignInDenied,
		"GitHub account has no verified email address",
		nil,
	)
}

// GitHub-specific response types for JSON deserialization.

type githubTokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"` // May be empty if email is private
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ---------------------------------------------------------------------------
// Shared Error Helpers
// ---------------------------------------------------------------------------

// wrapOAuthError wraps a BaseClient transport error with OAuth context.
func wrapOAuthError(provider, operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamOAuth,
		fmt.Sprintf("OAuth %s %s request failed: %v", provider, operation, err),
		err,
	)
}

// handleOAuthTokenError handles non-200 responses from the token endpoint.
func handleOAuthTokenError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return types.NewAppError(
		types.ErrCodeAuthTokenInvalid,
		fmt.Sprintf("OAuth %s token exchange failed (%d): %s", provider, resp.StatusCode, truncateBody(body)),
		nil,
	)
}

// handleOAuthAPIError handles non-200 responses from API endpoints (user, emails).
func handleOAuthAPIError(provider, endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("OAuth %s %s: access token rejected (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	case resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("OAuth %s %s: insufficient permissions (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("OAuth %s %s: server error (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamOAuth,
			fmt.Sprintf("OAuth %s %s: unexpected response (%d): %s", provider, endpoint, resp.StatusCode, truncateBody(body)),
			nil,
		)
	}
}

// truncateBody returns a string representation of the body, truncated to a
// reasonable length.
func truncateBody(body []byte) string {
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// Compile-time assertion that GithubProvider satisfies OAuthProvider.
var _ OAuthProvider = (*GithubProvider)(nil)

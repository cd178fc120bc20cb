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

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"golang.org/x/sync/singleflight"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// UserBillingStore provides the minimal data access needed by StripeClient to
// durably associate a Stripe customer id with a user. This avoids pulling in
// the full user repository interface.
type UserBillingStore interface {
	// SetStripeCustomerID persists customerID for the user only if no
	// customer id is recorded yet, and returns the id that is now durably
	// associated (the argument, or an earlier winner's).
	SetStripeCustomerID(ctx context.Context, userID, customerID string) (string, error)
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey  string
	SuccessURL string // checkout success redirect
	CancelURL  string // checkout cancel redirect
	BaseURL    string // Override for testing; defaults to stripeAPIBase
	Logger     *slog.Logger
}

// StripeClient implements BillingService by making direct HTTP calls to the
// Stripe REST API through BaseClient. This approach routes all requests
// through the platform's resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base       *BaseClient
	secretKey  string
	successURL string
	cancelURL  string
	baseURL    string
	users      UserBillingStore
	logger     *slog.Logger

	// customerGroup collapses concurrent EnsureCustomer calls for the same
	// user into a single Stripe customer creation.
	customerGroup singleflight.Group
}

// NewStripeClient creates a new StripeClient. The httpClient timeout should be
// around 20 seconds; Stripe calls are slow-path operations.
func NewStripeClient(
	httpClient *http.Client,
	users UserBillingStore,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Newsline/1.0",
	)
	return NewStripeClientWithBase(base, users, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(
	base *BaseClient,
	users UserBillingStore,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:       base,
		secretKey:  cfg.SecretKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		users:      users,
		logger:     logger,
	}
}

// ---------------------------------------------------------------------------
// BillingService Implementation
// ---------------------------------------------------------------------------

// EnsureCustomer returns the Stripe customer id for the user, creating one
// lazily on first checkout. The customer id is persisted with a conditional
// (only-if-absent) write BEFORE any checkout session references it; losing
// that write race means reusing the winner's id. Concurrent in-process calls
// for the same user are collapsed via singleflight.
func (s *StripeClient) EnsureCustomer(ctx context.Context, user *types.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	v, err, _ := s.customerGroup.Do(user.ID, func() (interface{}, error) {
		customerID, cerr := s.createCustomer(ctx, user.Email)
		if cerr != nil {
			return "", cerr
		}

		persisted, perr := s.users.SetStripeCustomerID(ctx, user.ID, customerID)
		if perr != nil {
			return "", perr
		}
		if persisted != customerID {
			// A concurrent request (other process) created and persisted a
			// customer first. The unpersisted customer is abandoned.
			s.logger.WarnContext(ctx, "stripe customer creation lost persistence race",
				"user_id", user.ID,
				"abandoned_customer_id", customerID,
				"persisted_customer_id", persisted,
			)
		}
		return persisted, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// createCustomer creates a Stripe customer for the given email.
func (s *StripeClient) createCustomer(ctx context.Context, email string) (string, error) {
	params := url.Values{}
	params.Set("email", email)

	resp, err := s.doPost(ctx, "/v1/customers", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	return customer.ID, nil
}

// CreateCheckoutSession creates a subscription-mode Stripe Checkout session
// for the customer and price: card payments, mandatory billing address
// collection, a single-quantity line item, and promotion codes allowed.
// Returns the session ID the web client redirects to.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, priceID string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("payment_method_types[0]", "card")
	params.Set("billing_address_collection", "required")
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("mode", "subscription")
	params.Set("allow_promotion_codes", "true")
	params.Set("success_url", s.successURL)
	params.Set("cancel_url", s.cancelURL)

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.ID, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doPost performs an authenticated POST request to the Stripe API with
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and content headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	DocURL  string `json:"doc_url"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification. This provides HMAC-SHA256 signature checking
// with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret. Uses stripe-go's ValidatePayload which checks both
// the HMAC signature and the timestamp tolerance.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// Compile-time assertions that concrete types satisfy their interfaces.
var _ BillingService = (*StripeClient)(nil)
var _ WebhookVerifier = (*StripeVerifier)(nil)

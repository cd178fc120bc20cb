package external

import (
	"context"

	"newsline/internal/types"
)

// ---------------------------------------------------------------------------
// Billing Integration (Stripe)
// ---------------------------------------------------------------------------

// BillingService abstracts interactions with the payment provider (Stripe).
// Implementations translate between domain types and vendor-specific APIs.
type BillingService interface {
	// EnsureCustomer retrieves or creates a Stripe customer for the given
	// user. Returns the Stripe customer ID that is durably associated with
	// the user; concurrent calls for the same user are collapsed.
	EnsureCustomer(ctx context.Context, user *types.User) (string, error)

	// CreateCheckoutSession creates a Stripe Checkout session in subscription
	// mode for the given customer and price. Returns the session ID the web
	// client redirects to.
	CreateCheckoutSession(ctx context.Context, customerID, priceID string) (string, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)

// ---------------------------------------------------------------------------
// Identity Integration (OAuth)
// ---------------------------------------------------------------------------

// OAuthProvider abstracts a single OAuth identity provider (e.g., GitHub).
type OAuthProvider interface {
	// Name returns the provider identifier (e.g., "github").
	Name() string

	// GetLoginURL generates the OAuth authorization URL with the given state parameter.
	GetLoginURL(state string) string

	// Exchange trades an authorization code for a normalized user profile.
	// Does NOT return access/refresh tokens -- scope is authentication only.
	Exchange(ctx context.Context, code string) (*types.OAuthProfile, error)
}

// Package handlers contains the HTTP handler implementations for the Newsline API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"newsline/internal/core"
	"newsline/internal/external"
	"newsline/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload (64 KB).
// Stripe webhook payloads are small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// SubscriptionUpserter persists the subscription reference carried by a Stripe
// event against the user owning the Stripe customer. This is the subset of the
// user repository needed by the webhook handler.
type SubscriptionUpserter interface {
	SetSubscriptionByCustomerID(ctx context.Context, customerID string, sub types.SubscriptionRef) error
}

// StripeWebhookHandler handles asynchronous events from Stripe.
// It is unauthenticated (no session) but verifies the provider signature
// against the raw, unparsed request body. No body-parsing middleware may run
// on this route.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	users    SubscriptionUpserter
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler with the provided dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	users SubscriptionUpserter,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		users:    users,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. The route is registered
// for all methods so the handler can answer non-POST requests with 405 and an
// Allow header.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/webhooks", h.Handle)
}

// relevantEvents is the allow-list of Stripe event types the reconciler acts
// on. Everything else is acknowledged without side effects.
var relevantEvents = map[string]struct{}{
	external.EventStripeCheckoutCompleted: {},
	external.EventStripeSubUpdated:        {},
	external.EventStripeSubDeleted:        {},
}

// webhookAckResponse is the receipt acknowledgment Stripe expects.
type webhookAckResponse struct {
	Received bool `json:"received"`
}

// Handle processes incoming Stripe webhook events.
//
//  1. Rejects non-POST with 405 and Allow: POST.
//  2. Reads the raw body and verifies the stripe-signature header; failure is
//     a 400 with a plain-text message and no side effects.
//  3. Filters the event type against the allow-list.
//  4. Dispatches to upsert the user's subscription reference.
//  5. Always acknowledges with 200 {"received": true} once past verification;
//     internal failures are logged, never surfaced to Stripe.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		http.Error(w, fmt.Sprintf("Webhook error: %v", err), http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		http.Error(w, fmt.Sprintf("Webhook error: %v", err), http.StatusBadRequest)
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse webhook event JSON",
			"error", err,
		)
		http.Error(w, fmt.Sprintf("Webhook error: %v", err), http.StatusBadRequest)
		return
	}

	if _, relevant := relevantEvents[event.Type]; relevant {
		h.logger.InfoContext(r.Context(), "processing stripe webhook event",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		if err := h.dispatchEvent(r.Context(), &event); err != nil {
			// Acknowledge anyway: Stripe redelivers on non-2xx, and redelivery
			// cannot fix an internal failure. The error is logged for
			// investigation.
			h.logger.ErrorContext(r.Context(), "webhook event processing failed",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err,
			)
		}
	}

	core.JSON(w, r, http.StatusOK, webhookAckResponse{Received: true})
}

// dispatchEvent routes an allow-listed event to the matching upsert.
func (h *StripeWebhookHandler) dispatchEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventStripeSubUpdated:
		return h.handleSubscriptionUpdated(ctx, event)

	case external.EventStripeSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	default:
		return fmt.Errorf("allow-listed event type %q reached dispatch without a handler", event.Type)
	}
}

// handleCheckoutCompleted processes checkout.session.completed events.
// A completed checkout means the subscription is live: the session carries the
// new subscription id and the customer it belongs to.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	session, err := event.checkoutSession()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if session.Subscription == "" || session.Customer == "" {
		return fmt.Errorf("%s: event %s missing subscription or customer id", event.Type, event.ID)
	}

	return h.users.SetSubscriptionByCustomerID(ctx, session.Customer, types.SubscriptionRef{
		ID:        session.Subscription,
		Status:    types.SubscriptionStatusActive,
		UpdatedAt: event.timestamp(),
	})
}

// handleSubscriptionUpdated processes customer.subscription.updated events,
// carrying the lifecycle status Stripe reports.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscription()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if sub.ID == "" || sub.Customer == "" {
		return fmt.Errorf("%s: event %s missing subscription or customer id", event.Type, event.ID)
	}

	return h.users.SetSubscriptionByCustomerID(ctx, sub.Customer, types.SubscriptionRef{
		ID:        sub.ID,
		Status:    sub.Status,
		UpdatedAt: event.timestamp(),
	})
}

// handleSubscriptionDeleted processes customer.subscription.deleted events.
// The subscription reference is kept; only its status flips to canceled.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscription()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if sub.ID == "" || sub.Customer == "" {
		return fmt.Errorf("%s: event %s missing subscription or customer id", event.Type, event.ID)
	}

	return h.users.SetSubscriptionByCustomerID(ctx, sub.Customer, types.SubscriptionRef{
		ID:        sub.ID,
		Status:    types.SubscriptionStatusCanceled,
		UpdatedAt: event.timestamp(),
	})
}

// ---------------------------------------------------------------------------
// Stripe Event Parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to the fields needed for routing and processing. The full
// stripe.Event type is deliberately not used here to keep the handler
// decoupled from the SDK's object graph and make testing straightforward.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeCheckoutSessionObj holds the minimal fields of a
// checkout.session.completed event's data object.
type stripeCheckoutSessionObj struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// stripeSubscriptionObj holds the minimal fields of a
// customer.subscription.updated/deleted event's data object.
type stripeSubscriptionObj struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Customer string `json:"customer"`
}

// timestamp returns the event's created time.
func (e *stripeWebhookEvent) timestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

func (e *stripeWebhookEvent) checkoutSession() (*stripeCheckoutSessionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid event data: %w", err)
	}
	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(data.Object, &session); err != nil {
		return nil, fmt.Errorf("invalid checkout session object: %w", err)
	}
	return &session, nil
}

func (e *stripeWebhookEvent) subscription() (*stripeSubscriptionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid event data: %w", err)
	}
	var sub stripeSubscriptionObj
	if err := json.Unmarshal(data.Object, &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription object: %w", err)
	}
	return &sub, nil
}

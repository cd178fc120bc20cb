package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"newsline/internal/auth"
	"newsline/internal/core"
	"newsline/internal/external"
	"newsline/internal/types"
)

// SessionValidator resolves a session cookie value to a live session.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*types.Session, error)
}

// SubscriberLookup is the subset of the user repository needed to resolve the
// signed-in user before checkout.
type SubscriberLookup interface {
	FindByLoweredEmail(ctx context.Context, lemail string) (*types.User, error)
}

// SubscribeHandler initiates a Stripe Checkout session for the signed-in user.
//
// The wire contract is fixed by the web client: success is 200 {"sessionId"},
// every failure is 500 {"error"} carrying the failure message, and the session
// is resolved before Stripe is ever contacted.
type SubscribeHandler struct {
	sessions SessionValidator
	users    SubscriberLookup
	billing  external.BillingService
	validate *core.Validator
	logger   *slog.Logger
}

// NewSubscribeHandler creates a new SubscribeHandler with the provided dependencies.
func NewSubscribeHandler(
	sessions SessionValidator,
	users SubscriberLookup,
	billing external.BillingService,
	logger *slog.Logger,
) *SubscribeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscribeHandler{
		sessions: sessions,
		users:    users,
		billing:  billing,
		validate: core.NewValidator(),
		logger:   logger,
	}
}

// RegisterRoutes mounts the subscribe endpoint. The route is registered for
// all methods so the handler can answer non-POST requests with 405 and an
// Allow header.
func (h *SubscribeHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/subscribe", h.Handle)
}

// subscribeRequest is the request body of POST /subscribe.
type subscribeRequest struct {
	PriceID string `json:"priceId" validate:"required"`
}

// subscribeResponse is the success body of POST /subscribe.
type subscribeResponse struct {
	SessionID string `json:"sessionId"`
}

// subscribeErrorResponse is the failure body of POST /subscribe.
type subscribeErrorResponse struct {
	Error string `json:"error"`
}

// Handle creates a subscription checkout session for the signed-in user.
//
//  1. Rejects non-POST with 405 and Allow: POST.
//  2. Resolves the session cookie and the user it belongs to; any failure is
//     a 500 without touching Stripe.
//  3. Ensures a Stripe customer exists for the user (created and persisted on
//     first checkout).
//  4. Creates the checkout session for the requested price and returns its id.
func (h *SubscribeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := h.resolveUser(r)
	if err != nil {
		h.fail(w, r, "session resolution failed", err)
		return
	}

	var req subscribeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, "invalid subscribe request body", err)
		return
	}
	if err := h.validate.ValidateStruct(req); err != nil {
		h.fail(w, r, "invalid subscribe request body", err)
		return
	}

	customerID, err := h.billing.EnsureCustomer(r.Context(), user)
	if err != nil {
		h.fail(w, r, "failed to ensure stripe customer", err)
		return
	}

	checkoutID, err := h.billing.CreateCheckoutSession(r.Context(), customerID, req.PriceID)
	if err != nil {
		h.fail(w, r, "failed to create checkout session", err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", user.ID,
		"customer_id", customerID,
		"price_id", req.PriceID,
	)

	core.JSON(w, r, http.StatusOK, subscribeResponse{SessionID: checkoutID})
}

// resolveUser resolves the session cookie to the signed-in user.
func (h *SubscribeHandler) resolveUser(r *http.Request) (*types.User, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeAuthSessionMissing,
			"no session cookie",
			err,
		)
	}

	session, err := h.sessions.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}

	return h.users.FindByLoweredEmail(r.Context(), auth.CanonicalizeEmail(session.Email))
}

// fail logs the failure and answers with the contract's 500 {"error"} shape,
// carrying the underlying failure message.
func (h *SubscribeHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"error", err,
	)
	core.JSON(w, r, http.StatusInternalServerError, subscribeErrorResponse{Error: failureMessage(err)})
}

// failureMessage extracts the human-readable message from an error.
func failureMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

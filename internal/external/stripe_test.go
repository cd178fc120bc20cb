package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsline/internal/types"
)

// ---------------------------------------------------------------------------
// Mock UserBillingStore
// ---------------------------------------------------------------------------

type mockUserBillingStore struct {
	setFn func(ctx context.Context, userID, customerID string) (string, error)
	calls atomic.Int32
}

func (m *mockUserBillingStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	m.calls.Add(1)
	if m.setFn != nil {
		return m.setFn(ctx, userID, customerID)
	}
	return customerID, nil
}

// ---------------------------------------------------------------------------
// Helper: Create test stripe client pointed at httptest server
// ---------------------------------------------------------------------------

func newTestStripeClient(t *testing.T, serverURL string, users UserBillingStore) *StripeClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-stripe",
		RetryPolicy{
			MaxRetries: 0, // No retries in tests for deterministic behavior
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"Newsline-Test/1.0",
		WithSleepFunc(noopSleep),
	)

	return NewStripeClientWithBase(base, users, StripeClientConfig{
		SecretKey:  "sk_test_secret",
		SuccessURL: "https://app.example.com/posts",
		CancelURL:  "https://app.example.com/",
		BaseURL:    serverURL,
	})
}

// ---------------------------------------------------------------------------
// EnsureCustomer Tests
// ---------------------------------------------------------------------------

func TestEnsureCustomer_AlreadyAssociated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no Stripe call expected, got %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	store := &mockUserBillingStore{}
	client := newTestStripeClient(t, server.URL, store)

	user := &types.User{ID: "u1", Email: "jane@example.com", StripeCustomerID: "cus_known"}
	customerID, err := client.EnsureCustomer(context.Background(), user)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if customerID != "cus_known" {
		t.Errorf("expected customer ID cus_known, got %s", customerID)
	}
	if store.calls.Load() != 0 {
		t.Error("expected no persistence call for already-associated user")
	}
}

func TestEnsureCustomer_CreatesAndPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("expected path /v1/customers, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_secret" {
			t.Errorf("expected Bearer sk_test_secret, got %s", auth)
		}
		if v := r.Header.Get("Stripe-Version"); v == "" {
			t.Error("expected Stripe-Version header to be set")
		}

		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if email := r.PostForm.Get("email"); email != "jane@example.com" {
			t.Errorf("expected email jane@example.com, got %s", email)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"id": "cus_new", "email": "jane@example.com"})
	}))
	defer server.Close()

	var persistedUserID, persistedCustomerID string
	store := &mockUserBillingStore{
		setFn: func(ctx context.Context, userID, customerID string) (string, error) {
			persistedUserID = userID
			persistedCustomerID = customerID
			return customerID, nil
		},
	}
	client := newTestStripeClient(t, server.URL, store)

	user := &types.User{ID: "u1", Email: "jane@example.com"}
	customerID, err := client.EnsureCustomer(context.Background(), user)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if customerID != "cus_new" {
		t.Errorf("expected customer ID cus_new, got %s", customerID)
	}
	if persistedUserID != "u1" {
		t.Errorf("expected persisted user ID u1, got %s", persistedUserID)
	}
	if persistedCustomerID != "cus_new" {
		t.Errorf("expected persisted customer ID cus_new, got %s", persistedCustomerID)
	}
}

func TestEnsureCustomer_LostPersistenceRaceReturnsWinner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"id": "cus_loser"})
	}))
	defer server.Close()

	store := &mockUserBillingStore{
		setFn: func(ctx context.Context, userID, customerID string) (string, error) {
			// Another process already persisted a different customer id.
			return "cus_winner", nil
		},
	}
	client := newTestStripeClient(t, server.URL, store)

	user := &types.User{ID: "u1", Email: "jane@example.com"}
	customerID, err := client.EnsureCustomer(context.Background(), user)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if customerID != "cus_winner" {
		t.Errorf("expected the persisted winner cus_winner, got %s", customerID)
	}
}

func TestEnsureCustomer_PersistenceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"id": "cus_new"})
	}))
	defer server.Close()

	store := &mockUserBillingStore{
		setFn: func(ctx context.Context, userID, customerID string) (string, error) {
			return "", types.NewAppError(types.ErrCodeInternalStore, "write failed", nil)
		},
	}
	client := newTestStripeClient(t, server.URL, store)

	user := &types.User{ID: "u1", Email: "jane@example.com"}
	_, err := client.EnsureCustomer(context.Background(), user)
	if err == nil {
		t.Fatal("expected error when persistence fails, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeInternalStore {
		t.Errorf("expected %s, got %s", types.ErrCodeInternalStore, appErr.Code)
	}
}

func TestEnsureCustomer_StripeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"type":    "invalid_request_error",
				"message": "Invalid email address",
			},
		})
	}))
	defer server.Close()

	store := &mockUserBillingStore{}
	client := newTestStripeClient(t, server.URL, store)

	user := &types.User{ID: "u1", Email: "not-an-email"}
	_, err := client.EnsureCustomer(context.Background(), user)
	if err == nil {
		t.Fatal("expected error from Stripe 400, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamStripe {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamStripe, appErr.Code)
	}
	if store.calls.Load() != 0 {
		t.Error("expected no persistence call when customer creation fails")
	}
}

func TestEnsureCustomer_ConcurrentCallsCollapsed(t *testing.T) {
	var createCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		createCount.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"id": "cus_shared"})
	}))
	defer server.Close()

	store := &mockUserBillingStore{}
	client := newTestStripeClient(t, server.URL, store)

	user := &types.User{ID: "u1", Email: "jane@example.com"}

	const workers = 5
	results := make([]string, workers)
	errs := make([]error, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i], errs[i] = client.EnsureCustomer(context.Background(), user)
		}(i)
	}
	start.Done()
	done.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "cus_shared" {
			t.Errorf("worker %d: expected cus_shared, got %s", i, results[i])
		}
	}

	if created := createCount.Load(); created != 1 {
		t.Errorf("expected 1 Stripe customer creation for concurrent calls, got %d", created)
	}
	if persisted := store.calls.Load(); persisted != 1 {
		t.Errorf("expected 1 persistence call, got %d", persisted)
	}
}

// ---------------------------------------------------------------------------
// CreateCheckoutSession Tests
// ---------------------------------------------------------------------------

func TestCreateCheckoutSession_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("expected path /v1/checkout/sessions, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}

		expectations := map[string]string{
			"customer":                   "cus_123",
			"payment_method_types[0]":    "card",
			"billing_address_collection": "required",
			"line_items[0][price]":       "price_pro",
			"line_items[0][quantity]":    "1",
			"mode":                       "subscription",
			"allow_promotion_codes":      "true",
			"success_url":                "https://app.example.com/posts",
			"cancel_url":                 "https://app.example.com/",
		}
		for key, want := range expectations {
			if got := r.PostForm.Get(key); got != want {
				t.Errorf("param %s: expected %q, got %q", key, want, got)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_abc",
			"url": "https://checkout.stripe.com/pay/cs_test_abc",
		})
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, &mockUserBillingStore{})

	sessionID, err := client.CreateCheckoutSession(context.Background(), "cus_123", "price_pro")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if sessionID != "cs_test_abc" {
		t.Errorf("expected session ID cs_test_abc, got %s", sessionID)
	}
}

func TestCreateCheckoutSession_StripeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"type":    "invalid_request_error",
				"code":    "resource_missing",
				"message": "No such price: price_missing",
				"param":   "line_items[0][price]",
			},
		})
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, &mockUserBillingStore{})

	_, err := client.CreateCheckoutSession(context.Background(), "cus_123", "price_missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamStripe {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamStripe, appErr.Code)
	}
}

func TestCreateCheckoutSession_StripeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, &mockUserBillingStore{})

	_, err := client.CreateCheckoutSession(context.Background(), "cus_123", "price_pro")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}

// ---------------------------------------------------------------------------
// StripeVerifier Tests
// ---------------------------------------------------------------------------

// signStripePayload builds a stripe-signature header value for the payload,
// matching the format Stripe uses: "t=<timestamp>,v1=<hmac-sha256>".
func signStripePayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	secret := "whsec_test_secret"

	header := signStripePayload(payload, secret, time.Now())

	if err := verifier.Verify(payload, header, secret); err != nil {
		t.Errorf("expected valid signature to verify, got: %v", err)
	}
}

func TestStripeVerifier_InvalidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_1"}`)

	header := signStripePayload(payload, "whsec_wrong_secret", time.Now())

	if err := verifier.Verify(payload, header, "whsec_test_secret"); err == nil {
		t.Error("expected verification failure for signature from wrong secret")
	}
}

func TestStripeVerifier_TamperedPayload(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_1"}`)

	header := signStripePayload(payload, secret, time.Now())

	tampered := []byte(`{"id":"evt_2"}`)
	if err := verifier.Verify(tampered, header, secret); err == nil {
		t.Error("expected verification failure for tampered payload")
	}
}

func TestStripeVerifier_StaleTimestamp(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_1"}`)

	header := signStripePayload(payload, secret, time.Now().Add(-time.Hour))

	if err := verifier.Verify(payload, header, secret); err == nil {
		t.Error("expected verification failure for stale timestamp")
	}
}

func TestStripeVerifier_MalformedHeader(t *testing.T) {
	verifier := &StripeVerifier{}

	if err := verifier.Verify([]byte(`{}`), "not-a-signature", "whsec_test_secret"); err == nil {
		t.Error("expected verification failure for malformed header")
	}
}

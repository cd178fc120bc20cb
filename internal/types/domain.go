package types

import "time"

// SubscriptionRef is the denormalized view of a user's Stripe subscription,
// maintained by the webhook reconciler. The reference is never removed once
// set; cancellation is recorded through Status.
type SubscriptionRef struct {
	ID        string    `bson:"id" json:"id"`
	Status    string    `bson:"status" json:"status"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Subscription status values tracked by the webhook reconciler.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
)

// User is a registered account in the users collection. LoweredEmail is the
// canonical lookup key and carries a unique index; Email preserves the casing
// the identity provider reported.
type User struct {
	ID               string           `bson:"_id" json:"id"`
	Email            string           `bson:"email" json:"email"`
	LoweredEmail     string           `bson:"lemail" json:"-"`
	StripeCustomerID string           `bson:"stripe_customer_id,omitempty" json:"stripeCustomerId,omitempty"`
	Subscription     *SubscriptionRef `bson:"subscription,omitempty" json:"subscription,omitempty"`
	CreatedAt        time.Time        `bson:"created_at" json:"createdAt"`
	LastLoginAt      time.Time        `bson:"last_login_at" json:"lastLoginAt"`
}

// HasActiveSubscription reports whether the user's subscription reference is
// present and active.
func (u *User) HasActiveSubscription() bool {
	return u.Subscription != nil && u.Subscription.Status == SubscriptionStatusActive
}

// Session is a server-side login session stored in the sessions collection.
// ExpiresAt drives a TTL index so expired sessions are reaped by the store.
type Session struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"userId"`
	Email     string    `bson:"email" json:"email"`
	ExpiresAt time.Time `bson:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OAuthProfile is the normalized identity returned by an OAuth provider after
// a successful code exchange and profile fetch.
type OAuthProfile struct {
	Provider  string `json:"provider"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"newsline/internal/types"
)

// UserRepository provides persistence operations for the users collection.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a UserRepository over the users collection of db.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(UsersCollection)}
}

// FindByLoweredEmail looks up a user by the canonical lowered email key.
// Returns an AppError with code "not_found_user" when no document matches.
func (r *UserRepository) FindByLoweredEmail(ctx context.Context, lemail string) (*types.User, error) {
	var user types.User
	err := r.coll.FindOne(ctx, bson.M{"lemail": lemail}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to load user", err)
	}
	return &user, nil
}

// FindByID loads a user by its document id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to load user", err)
	}
	return &user, nil
}

// Insert stores a new user document. A violation of the unique lemail index
// is translated into an AppError with code "conflict_email_exists" so the
// caller can arbitrate the insert race by re-reading the winner.
func (r *UserRepository) Insert(ctx context.Context, user *types.User) error {
	_, err := r.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "user already exists for email", err)
		}
		return types.NewAppError(types.ErrCodeInternalStore, "failed to insert user", err)
	}
	return nil
}

// RecordLogin updates the user's last_login_at timestamp.
func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_login_at": at}},
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to record login", err)
	}
	return nil
}

// SetStripeCustomerID persists the Stripe customer id for the user, but only
// if none is recorded yet. The conditional write makes concurrent customer
// creation safe: the first writer wins and every caller gets the persisted id
// back.
//
// Returns the customer id that is now durably associated with the user, which
// may differ from customerID when another writer won the race.
func (r *UserRepository) SetStripeCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	filter := bson.M{
		"_id": userID,
		"stripe_customer_id": bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{"stripe_customer_id": customerID}}

	var updated types.User
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == nil {
		return updated.StripeCustomerID, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", types.NewAppError(types.ErrCodeInternalStore, "failed to persist stripe customer id", err)
	}

	// No document matched the conditional filter: either the user does not
	// exist, or a customer id is already recorded. Re-read to distinguish.
	user, ferr := r.FindByID(ctx, userID)
	if ferr != nil {
		return "", ferr
	}
	if user.StripeCustomerID == "" {
		return "", types.NewAppError(types.ErrCodeInternalStore,
			"conditional write matched no document but user has no stripe customer id",
			fmt.Errorf("user %s", userID))
	}
	return user.StripeCustomerID, nil
}

// SetSubscriptionByCustomerID upserts the subscription reference on the user
// owning the given Stripe customer id. Returns an AppError with code
// "not_found_user" when no user carries that customer id.
func (r *UserRepository) SetSubscriptionByCustomerID(ctx context.Context, customerID string, sub types.SubscriptionRef) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"stripe_customer_id": customerID},
		bson.M{"$set": bson.M{"subscription": sub}},
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to update subscription", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser,
			"no user found for stripe customer", fmt.Errorf("customer %s", customerID))
	}
	return nil
}

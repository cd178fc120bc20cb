package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"newsline/internal/types"
)

// SessionRepository provides persistence operations for the sessions
// collection. Expired documents are reaped by the TTL index on expires_at;
// lookups additionally check expiry so a session cannot be used in the
// window before the reaper runs.
type SessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository creates a SessionRepository over the sessions
// collection of db.
func NewSessionRepository(db *mongo.Database) *SessionRepository {
	return &SessionRepository{coll: db.Collection(SessionsCollection)}
}

// Insert stores a new session document.
func (r *SessionRepository) Insert(ctx context.Context, session *types.Session) error {
	_, err := r.coll.InsertOne(ctx, session)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to insert session", err)
	}
	return nil
}

// FindByID loads a session by id. Returns an AppError with code
// "auth_session_missing" when the session does not exist.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.NewAppError(types.ErrCodeAuthSessionMissing, "session not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to load session", err)
	}
	return &session, nil
}

// Delete removes a session by id. Deleting a session that does not exist is
// not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to delete session", err)
	}
	return nil
}

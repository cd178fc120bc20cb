// Package store implements MongoDB persistence for Newsline users and
// sessions. Repositories operate on *mongo.Collection handles and translate
// driver errors into structured AppErrors at the boundary.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"newsline/internal/config"
)

// Collection names.
const (
	UsersCollection    = "users"
	SessionsCollection = "sessions"
)

// Connect establishes a MongoDB client connection and verifies it with a ping.
// The returned database handle is scoped to the configured database name.
func Connect(ctx context.Context, cfg config.StoreConfig) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI.Unmask()))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}

// EnsureIndexes creates the indexes the service depends on. It is idempotent
// and safe to run at every startup.
//
// Indexes:
//   - users.lemail: unique, backs case-insensitive email lookup and the
//     insert-or-reuse race arbitration during sign-in.
//   - sessions.expires_at: TTL, lets the server reap expired sessions.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(UsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lemail", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_lemail"),
	})
	if err != nil {
		return fmt.Errorf("creating users.lemail index: %w", err)
	}

	_, err = db.Collection(SessionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at"),
	})
	if err != nil {
		return fmt.Errorf("creating sessions.expires_at index: %w", err)
	}

	return nil
}

// Probe is a health probe backed by a MongoDB ping.
type Probe struct {
	Client *mongo.Client
}

// Name identifies the probe in health check output.
func (p *Probe) Name() string { return "mongo" }

// Check pings the primary to verify store connectivity.
func (p *Probe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.Client.Ping(ctx, readpref.Primary())
}

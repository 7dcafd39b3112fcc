// database/database.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"leaseexit/config"
	"leaseexit/repository"
)

var Client *mongo.Client

// Connect opens the shared client, verifies it with a ping and makes sure
// the indexes exist.
func Connect(ctx context.Context, logger zerolog.Logger) error {
	if config.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}

	clientOptions := options.Client().
		ApplyURI(config.MongoURI).
		SetConnectTimeout(20 * time.Second).
		SetServerSelectionTimeout(15 * time.Second).
		SetSocketTimeout(20 * time.Second).
		SetMaxPoolSize(50)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	Client = client

	indexCtx, cancelIdx := context.WithTimeout(ctx, 30*time.Second)
	defer cancelIdx()
	if err := repository.EnsureIndexes(indexCtx, DB()); err != nil {
		return err
	}

	logger.Info().Str("database", config.MongoDatabase).Msg("connected to MongoDB")
	return nil
}

// DB returns the configured database of the shared client.
func DB() *mongo.Database {
	return Client.Database(config.MongoDatabase)
}

// Ping reports whether the primary is reachable.
func Ping(ctx context.Context) error {
	if Client == nil {
		return fmt.Errorf("database not connected")
	}
	return Client.Ping(ctx, readpref.Primary())
}

func Disconnect(logger zerolog.Logger) {
	if Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Client.Disconnect(ctx); err != nil {
		logger.Warn().Err(err).Msg("MongoDB disconnect")
	}
}

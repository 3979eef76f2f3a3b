package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	collUsers       = "users"
	collActiveGames = "active_games"
	collArchive     = "game_archive"
	collStats       = "player_stats"
	collFriends     = "friends"
	collChallenges  = "challenges"
)

// Mongo wraps the client and the database handle the repositories share.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and pings it, failing fast when the server is
// unreachable.
func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the lookups the repositories rely on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collActiveGames: {
			{Keys: bson.D{{Key: "red_player", Value: 1}}},
			{Keys: bson.D{{Key: "black_player", Value: 1}}},
		},
		collArchive: {
			{Keys: bson.D{{Key: "red_player", Value: 1}, {Key: "end_time", Value: -1}}},
			{Keys: bson.D{{Key: "black_player", Value: 1}, {Key: "end_time", Value: -1}}},
			{Keys: bson.D{{Key: "original_game_id", Value: 1}}},
		},
		collStats: {
			{Keys: bson.D{{Key: "time_control", Value: 1}, {Key: "rating", Value: -1}}},
		},
		collFriends: {
			{Keys: bson.D{{Key: "user_name", Value: 1}, {Key: "friend_name", Value: 1}}},
			{Keys: bson.D{{Key: "friend_name", Value: 1}, {Key: "status", Value: 1}}},
		},
		collChallenges: {
			{Keys: bson.D{{Key: "challenger_username", Value: 1}, {Key: "challenged_username", Value: 1}}},
		},
		collUsers: {
			{Keys: bson.D{{Key: "is_online", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", coll, err)
		}
	}
	return nil
}

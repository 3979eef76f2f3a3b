package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xqdev/xqgo/internal/model"
)

// ChallengeRepository keeps the durable record of challenge offers. The
// live offer book is in memory; this trail is what history and moderation
// read.
type ChallengeRepository struct {
	coll *mongo.Collection
}

func NewChallengeRepository(m *Mongo) *ChallengeRepository {
	return &ChallengeRepository{coll: m.db.Collection(collChallenges)}
}

// Create inserts the offer in its pending state.
func (r *ChallengeRepository) Create(ctx context.Context, c model.Challenge) error {
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("recording challenge %s: %w", c.ID, err)
	}
	return nil
}

// Resolve stamps the offer's outcome; accepted offers also get the game
// they started.
func (r *ChallengeRepository) Resolve(ctx context.Context, id string, status model.ChallengeStatus, gameID string) error {
	set := bson.M{"status": status}
	if gameID != "" {
		set["game_id"] = gameID
	}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("resolving challenge %s: %w", id, err)
	}
	return nil
}

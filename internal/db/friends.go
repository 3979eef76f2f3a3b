package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xqdev/xqgo/internal/model"
)

// FriendRepository manages the directional friendship edges.
type FriendRepository struct {
	coll *mongo.Collection
}

func NewFriendRepository(m *Mongo) *FriendRepository {
	return &FriendRepository{coll: m.db.Collection(collFriends)}
}

// Find returns the edge from user to friend, or nil when there is none.
func (r *FriendRepository) Find(ctx context.Context, user, friend string) (*model.FriendRelation, error) {
	var rel model.FriendRelation
	err := r.coll.FindOne(ctx, bson.M{"user_name": user, "friend_name": friend}).Decode(&rel)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying friendship %s->%s: %w", user, friend, err)
	}
	return &rel, nil
}

// Request records a pending edge from requester to target.
func (r *FriendRepository) Request(ctx context.Context, requester, target string) error {
	rel := model.FriendRelation{
		ID:         uuid.NewString(),
		UserName:   requester,
		FriendName: target,
		Status:     model.FriendPending,
		CreatedAt:  time.Now(),
	}
	if _, err := r.coll.InsertOne(ctx, rel); err != nil {
		return fmt.Errorf("creating friend request %s->%s: %w", requester, target, err)
	}
	return nil
}

// Accept flips the pending edge to accepted and writes the reverse edge, so
// both players list each other.
func (r *FriendRepository) Accept(ctx context.Context, requester, target string) error {
	now := time.Now()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"user_name": requester, "friend_name": target, "status": model.FriendPending},
		bson.M{"$set": bson.M{"status": model.FriendAccepted, "accepted_at": now}},
	)
	if err != nil {
		return fmt.Errorf("accepting friend request %s->%s: %w", requester, target, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("no pending friend request from %s to %s", requester, target)
	}

	reverse := model.FriendRelation{
		ID:         uuid.NewString(),
		UserName:   target,
		FriendName: requester,
		Status:     model.FriendAccepted,
		CreatedAt:  now,
		AcceptedAt: &now,
	}
	if _, err := r.coll.InsertOne(ctx, reverse); err != nil {
		return fmt.Errorf("creating reverse friendship %s->%s: %w", target, requester, err)
	}
	return nil
}

// Decline drops the pending edge.
func (r *FriendRepository) Decline(ctx context.Context, requester, target string) error {
	_, err := r.coll.DeleteOne(ctx,
		bson.M{"user_name": requester, "friend_name": target, "status": model.FriendPending})
	if err != nil {
		return fmt.Errorf("declining friend request %s->%s: %w", requester, target, err)
	}
	return nil
}

// Unfriend removes both edges between the two users.
func (r *FriendRepository) Unfriend(ctx context.Context, user, friend string) error {
	filter := bson.M{"$or": bson.A{
		bson.M{"user_name": user, "friend_name": friend},
		bson.M{"user_name": friend, "friend_name": user},
	}}
	if _, err := r.coll.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("unfriending %s and %s: %w", user, friend, err)
	}
	return nil
}

// FriendsOf lists the accepted friends of a user.
func (r *FriendRepository) FriendsOf(ctx context.Context, username string) ([]string, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_name": username, "status": model.FriendAccepted})
	if err != nil {
		return nil, fmt.Errorf("querying friends of %q: %w", username, err)
	}
	defer cursor.Close(ctx)

	var rels []model.FriendRelation
	if err := cursor.All(ctx, &rels); err != nil {
		return nil, fmt.Errorf("reading friends of %q: %w", username, err)
	}

	names := make([]string, len(rels))
	for i, rel := range rels {
		names[i] = rel.FriendName
	}
	return names, nil
}

// PendingFor lists requests awaiting the user's answer.
func (r *FriendRepository) PendingFor(ctx context.Context, username string) ([]string, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"friend_name": username, "status": model.FriendPending})
	if err != nil {
		return nil, fmt.Errorf("querying pending requests for %q: %w", username, err)
	}
	defer cursor.Close(ctx)

	var rels []model.FriendRelation
	if err := cursor.All(ctx, &rels); err != nil {
		return nil, fmt.Errorf("reading pending requests for %q: %w", username, err)
	}

	names := make([]string, len(rels))
	for i, rel := range rels {
		names[i] = rel.UserName
	}
	return names, nil
}

// RecordGameTogether bumps the shared-game counter on both edges of an
// accepted pair.
func (r *FriendRepository) RecordGameTogether(ctx context.Context, a, b string) error {
	filter := bson.M{"$or": bson.A{
		bson.M{"user_name": a, "friend_name": b},
		bson.M{"user_name": b, "friend_name": a},
	}, "status": model.FriendAccepted}

	_, err := r.coll.UpdateMany(ctx, filter, bson.M{"$inc": bson.M{"games_played_together": 1}})
	if err != nil {
		return fmt.Errorf("recording game between %s and %s: %w", a, b, err)
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xqdev/xqgo/internal/model"
)

// ErrUserExists reports a registration against a taken username. The unique
// _id makes the check atomic with the insert.
var ErrUserExists = errors.New("username already taken")

// UserRepository manages account documents.
type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(m *Mongo) *UserRepository {
	return &UserRepository{coll: m.db.Collection(collUsers)}
}

// FindByUsername returns the account, or nil when it does not exist.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.coll.FindOne(ctx, bson.M{"_id": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", username, err)
	}
	return &user, nil
}

// Create inserts a new account. A duplicate username comes back as
// ErrUserExists.
func (r *UserRepository) Create(ctx context.Context, user model.User) error {
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("creating user %q: %w", user.Username, err)
	}
	return nil
}

// SetOnline flips the presence flags; a transition to online also stamps
// last_login.
func (r *UserRepository) SetOnline(ctx context.Context, username string, online bool, status model.UserStatus) error {
	set := bson.M{"is_online": online, "status": status}
	if online {
		set["last_login"] = time.Now()
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": username}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("updating presence for %q: %w", username, err)
	}
	return nil
}

// FindRandomOpponent picks one online user other than exclude, or "" when
// nobody qualifies.
func (r *UserRepository) FindRandomOpponent(ctx context.Context, exclude string) (string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": bson.M{"$ne": exclude}, "is_online": true}}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return "", fmt.Errorf("sampling opponent: %w", err)
	}
	defer cursor.Close(ctx)

	var users []model.User
	if err := cursor.All(ctx, &users); err != nil {
		return "", fmt.Errorf("reading sampled opponent: %w", err)
	}
	if len(users) == 0 {
		return "", nil
	}
	return users[0].Username, nil
}

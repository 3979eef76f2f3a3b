package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xqdev/xqgo/internal/model"
)

// GameRepository manages the live game documents and the archive they move
// to on completion.
type GameRepository struct {
	active  *mongo.Collection
	archive *mongo.Collection
}

func NewGameRepository(m *Mongo) *GameRepository {
	return &GameRepository{
		active:  m.db.Collection(collActiveGames),
		archive: m.db.Collection(collArchive),
	}
}

// Create inserts the starting document for a new game.
func (r *GameRepository) Create(ctx context.Context, g model.Game) error {
	if _, err := r.active.InsertOne(ctx, g); err != nil {
		return fmt.Errorf("creating game %s: %w", g.ID, err)
	}
	return nil
}

// AppendMove pushes one accepted move and refreshes the live fields from
// the post-move snapshot.
func (r *GameRepository) AppendMove(ctx context.Context, mv model.Move, after model.Game) error {
	update := bson.M{
		"$push": bson.M{"moves": mv},
		"$set": bson.M{
			"xfen":                 after.XFEN,
			"current_turn":         after.CurrentTurn,
			"move_count":           after.MoveCount,
			"red_time_remaining":   after.RedRemaining,
			"black_time_remaining": after.BlackRemaining,
		},
	}
	if _, err := r.active.UpdateOne(ctx, bson.M{"_id": after.ID}, update); err != nil {
		return fmt.Errorf("appending move to game %s: %w", after.ID, err)
	}
	return nil
}

// Finish replaces the live document with its terminal snapshot.
func (r *GameRepository) Finish(ctx context.Context, g model.Game) error {
	if _, err := r.active.ReplaceOne(ctx, bson.M{"_id": g.ID}, g); err != nil {
		return fmt.Errorf("finishing game %s: %w", g.ID, err)
	}
	return nil
}

// Archive copies a terminal game into the archive and drops it from the
// active collection. Returns the archive id.
func (r *GameRepository) Archive(ctx context.Context, g model.Game) (string, error) {
	archived := model.ArchivedGame{
		ID:             uuid.NewString(),
		OriginalGameID: g.ID,
		RedPlayer:      g.RedPlayer,
		BlackPlayer:    g.BlackPlayer,
		Result:         g.Result,
		Winner:         g.Winner,
		StartTime:      g.StartTime,
		TimeControl:    g.TimeControl,
		MoveCount:      g.MoveCount,
		Moves:          g.Moves,
		Rated:          g.Rated,
	}
	if g.EndTime != nil {
		archived.EndTime = *g.EndTime
	}

	if _, err := r.archive.InsertOne(ctx, archived); err != nil {
		return "", fmt.Errorf("archiving game %s: %w", g.ID, err)
	}
	if _, err := r.active.DeleteOne(ctx, bson.M{"_id": g.ID}); err != nil {
		return "", fmt.Errorf("dropping active game %s: %w", g.ID, err)
	}
	return archived.ID, nil
}

// FindActive returns a live game document, or nil when there is none.
func (r *GameRepository) FindActive(ctx context.Context, gameID string) (*model.Game, error) {
	var g model.Game
	err := r.active.FindOne(ctx, bson.M{"_id": gameID}).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying game %s: %w", gameID, err)
	}
	return &g, nil
}

// FindArchived looks a game up by archive id or by its original live id.
func (r *GameRepository) FindArchived(ctx context.Context, gameID string) (*model.ArchivedGame, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"_id": gameID},
		bson.M{"original_game_id": gameID},
	}}

	var g model.ArchivedGame
	err := r.archive.FindOne(ctx, filter).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying archived game %s: %w", gameID, err)
	}
	return &g, nil
}

// History returns the player's archived games, most recent first.
func (r *GameRepository) History(ctx context.Context, username string, limit, offset int) ([]model.ArchivedGame, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"red_player": username},
		bson.M{"black_player": username},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "end_time", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.archive.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying history for %q: %w", username, err)
	}
	defer cursor.Close(ctx)

	var games []model.ArchivedGame
	if err := cursor.All(ctx, &games); err != nil {
		return nil, fmt.Errorf("reading history for %q: %w", username, err)
	}
	return games, nil
}

// SetRematchOffer records who proposed the rematch on the archived game.
func (r *GameRepository) SetRematchOffer(ctx context.Context, archiveID, username string, accepted bool) error {
	update := bson.M{"$set": bson.M{
		"rematch_offered_by": username,
		"rematch_accepted":   accepted,
	}}
	if _, err := r.archive.UpdateOne(ctx, bson.M{"_id": archiveID}, update); err != nil {
		return fmt.Errorf("recording rematch offer on %s: %w", archiveID, err)
	}
	return nil
}

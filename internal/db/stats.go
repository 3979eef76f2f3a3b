package db

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xqdev/xqgo/internal/model"
)

// eloK is the rating development coefficient.
const eloK = 32

// ApplyResult evolves both stat lines for one rated game. Red's score is 1
// for a red win, 0 for a black win, 0.5 for a draw.
func ApplyResult(red, black *model.PlayerStat, result model.Result) {
	var redScore float64
	switch result {
	case model.ResultRedWin:
		redScore = 1
	case model.ResultBlackWin:
		redScore = 0
	default:
		redScore = 0.5
	}

	expectedRed := 1 / (1 + math.Pow(10, float64(black.Rating-red.Rating)/400))
	redDelta := int(math.Round(eloK * (redScore - expectedRed)))
	blackDelta := int(math.Round(eloK * ((1 - redScore) - (1 - expectedRed))))

	updateLine(red, redScore, redDelta)
	updateLine(black, 1-redScore, blackDelta)
}

func updateLine(s *model.PlayerStat, score float64, delta int) {
	s.Rating += delta
	s.TotalGames++

	switch score {
	case 1:
		s.Wins++
		s.WinStreak++
		if s.WinStreak > s.LongestWinStreak {
			s.LongestWinStreak = s.WinStreak
		}
	case 0:
		s.Losses++
		s.WinStreak = 0
	default:
		s.Draws++
		s.WinStreak = 0
	}

	if s.Rating > s.HighestRating {
		s.HighestRating = s.Rating
	}
	if s.Rating < s.LowestRating {
		s.LowestRating = s.Rating
	}
}

// StatsRepository manages the per-(player, time control) rating documents.
type StatsRepository struct {
	coll *mongo.Collection
}

func NewStatsRepository(m *Mongo) *StatsRepository {
	return &StatsRepository{coll: m.db.Collection(collStats)}
}

// Get returns the stat line, or nil when the player has no games in the
// class yet.
func (r *StatsRepository) Get(ctx context.Context, username string, tc model.TimeControl) (*model.PlayerStat, error) {
	var stat model.PlayerStat
	err := r.coll.FindOne(ctx, bson.M{"_id": username + ":" + string(tc)}).Decode(&stat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stats for %q: %w", username, err)
	}
	return &stat, nil
}

// GetOrDefault returns the stat line, seeding a fresh one for players
// without games in the class.
func (r *StatsRepository) GetOrDefault(ctx context.Context, username string, tc model.TimeControl) (model.PlayerStat, error) {
	stat, err := r.Get(ctx, username, tc)
	if err != nil {
		return model.PlayerStat{}, err
	}
	if stat == nil {
		return model.NewPlayerStat(username, tc), nil
	}
	return *stat, nil
}

// Save upserts a stat line.
func (r *StatsRepository) Save(ctx context.Context, stat model.PlayerStat) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": stat.ID}, stat, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving stats %s: %w", stat.ID, err)
	}
	return nil
}

// RecordResult applies one rated result to both players and persists the
// updated lines.
func (r *StatsRepository) RecordResult(ctx context.Context, redName, blackName string, tc model.TimeControl, result model.Result) error {
	red, err := r.GetOrDefault(ctx, redName, tc)
	if err != nil {
		return err
	}
	black, err := r.GetOrDefault(ctx, blackName, tc)
	if err != nil {
		return err
	}

	ApplyResult(&red, &black, result)

	if err := r.Save(ctx, red); err != nil {
		return err
	}
	return r.Save(ctx, black)
}

// Rating returns the player's rating in the class, 1200 for newcomers.
func (r *StatsRepository) Rating(ctx context.Context, username string, tc model.TimeControl) (int, error) {
	stat, err := r.Get(ctx, username, tc)
	if err != nil {
		return 0, err
	}
	if stat == nil {
		return model.DefaultRating, nil
	}
	return stat.Rating, nil
}

// ForUser returns every stat line the player has.
func (r *StatsRepository) ForUser(ctx context.Context, username string) ([]model.PlayerStat, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"username": username})
	if err != nil {
		return nil, fmt.Errorf("querying stat lines for %q: %w", username, err)
	}
	defer cursor.Close(ctx)

	var stats []model.PlayerStat
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("reading stat lines for %q: %w", username, err)
	}
	return stats, nil
}

// Leaderboard returns the top rated players in the class.
func (r *StatsRepository) Leaderboard(ctx context.Context, tc model.TimeControl, limit int) ([]model.PlayerStat, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "rating", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.M{"time_control": tc}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer cursor.Close(ctx)

	var stats []model.PlayerStat
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	return stats, nil
}

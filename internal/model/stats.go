package model

// DefaultRating seeds the rating of a player without games in a class.
const DefaultRating = 1200

// PlayerStat is the per-(player, time control) rating document. The rating
// deviation and volatility fields are kept for the document shape; the
// in-process updater evolves only the Elo rating.
type PlayerStat struct {
	ID               string      `bson:"_id" json:"-"`
	Username         string      `bson:"username" json:"username"`
	TimeControl      TimeControl `bson:"time_control" json:"time_control"`
	Rating           int         `bson:"rating" json:"rating"`
	RD               float64     `bson:"rd" json:"rd"`
	Volatility       float64     `bson:"volatility" json:"volatility"`
	HighestRating    int         `bson:"highest_rating" json:"highest_rating"`
	LowestRating     int         `bson:"lowest_rating" json:"lowest_rating"`
	TotalGames       int         `bson:"total_games" json:"total_games"`
	Wins             int         `bson:"wins" json:"wins"`
	Losses           int         `bson:"losses" json:"losses"`
	Draws            int         `bson:"draws" json:"draws"`
	WinStreak        int         `bson:"win_streak" json:"win_streak"`
	LongestWinStreak int         `bson:"longest_win_streak" json:"longest_win_streak"`
}

// NewPlayerStat returns the starting stats document for a class.
func NewPlayerStat(username string, tc TimeControl) PlayerStat {
	return PlayerStat{
		ID:            username + ":" + string(tc),
		Username:      username,
		TimeControl:   tc,
		Rating:        DefaultRating,
		RD:            350,
		Volatility:    0.06,
		HighestRating: DefaultRating,
		LowestRating:  DefaultRating,
	}
}

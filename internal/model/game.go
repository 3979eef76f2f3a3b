package model

import "time"

// Side is one of the two Xiangqi camps. Red moves first.
type Side string

const (
	SideRed   Side = "red"
	SideBlack Side = "black"
)

// Opposite returns the other camp.
func (s Side) Opposite() Side {
	if s == SideRed {
		return SideBlack
	}
	return SideRed
}

// GameStatus is the lifecycle state of a game record.
type GameStatus string

const (
	StatusInProgress GameStatus = "in_progress"
	StatusCompleted  GameStatus = "completed"
	StatusAbandoned  GameStatus = "abandoned"
)

// Result is the terminal outcome of a game.
type Result string

const (
	ResultRedWin   Result = "red_win"
	ResultBlackWin Result = "black_win"
	ResultDraw     Result = "draw"
)

// WinSide maps a result to the wire win_side value.
func (r Result) WinSide() string {
	switch r {
	case ResultRedWin:
		return "red"
	case ResultBlackWin:
		return "black"
	default:
		return "draw"
	}
}

// ResultForWinner returns the result where side took the game.
func ResultForWinner(side Side) Result {
	if side == SideRed {
		return ResultRedWin
	}
	return ResultBlackWin
}

// TimeControl is a clock class.
type TimeControl string

const (
	ControlBullet    TimeControl = "bullet"
	ControlBlitz     TimeControl = "blitz"
	ControlClassical TimeControl = "classical"
)

// Valid reports whether tc names a known clock class.
func (tc TimeControl) Valid() bool {
	switch tc {
	case ControlBullet, ControlBlitz, ControlClassical:
		return true
	}
	return false
}

// Clock returns the initial allotment and per-move increment for the class.
func (tc TimeControl) Clock() (initial, increment time.Duration) {
	switch tc {
	case ControlBullet:
		return 180 * time.Second, 2 * time.Second
	case ControlBlitz:
		return 300 * time.Second, 3 * time.Second
	default:
		return 900 * time.Second, 5 * time.Second
	}
}

// Move is one half-move as persisted on the game document.
type Move struct {
	Number    int       `bson:"move_number" json:"move_number"`
	Player    string    `bson:"player" json:"player"`
	FromRow   int       `bson:"from_row" json:"from_row"`
	FromCol   int       `bson:"from_col" json:"from_col"`
	ToRow     int       `bson:"to_row" json:"to_row"`
	ToCol     int       `bson:"to_col" json:"to_col"`
	Piece     string    `bson:"piece" json:"piece"`
	Captured  string    `bson:"captured,omitempty" json:"captured,omitempty"`
	Notation  string    `bson:"notation" json:"notation"`
	FENAfter  string    `bson:"xfen_after,omitempty" json:"xfen_after,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	TimeTaken float64   `bson:"time_taken" json:"time_taken"`
}

// Game is the persisted game document. Field names follow the store schema;
// clocks are stored in whole seconds.
type Game struct {
	ID             string      `bson:"_id" json:"game_id"`
	RedPlayer      string      `bson:"red_player" json:"red_player"`
	BlackPlayer    string      `bson:"black_player" json:"black_player"`
	Status         GameStatus  `bson:"status" json:"status"`
	Result         Result      `bson:"result,omitempty" json:"result,omitempty"`
	Winner         string      `bson:"winner,omitempty" json:"winner,omitempty"`
	StartTime      time.Time   `bson:"start_time" json:"start_time"`
	EndTime        *time.Time  `bson:"end_time,omitempty" json:"end_time,omitempty"`
	XFEN           string      `bson:"xfen" json:"xfen"`
	CurrentTurn    Side        `bson:"current_turn" json:"current_turn"`
	MoveCount      int         `bson:"move_count" json:"move_count"`
	TimeControl    TimeControl `bson:"time_control" json:"time_control"`
	TimeLimit      int         `bson:"time_limit" json:"time_limit"`
	RedRemaining   float64     `bson:"red_time_remaining" json:"red_time_remaining"`
	BlackRemaining float64     `bson:"black_time_remaining" json:"black_time_remaining"`
	Increment      int         `bson:"increment" json:"increment"`
	Rated          bool        `bson:"rated" json:"rated"`
	Moves          []Move      `bson:"moves" json:"moves"`
	DrawOfferedBy  string      `bson:"draw_offered_by,omitempty" json:"draw_offered_by,omitempty"`
}

// ArchivedGame is the copy written to the archive collection when a game
// completes.
type ArchivedGame struct {
	ID               string      `bson:"_id" json:"archive_id"`
	OriginalGameID   string      `bson:"original_game_id" json:"original_game_id"`
	RedPlayer        string      `bson:"red_player" json:"red_player"`
	BlackPlayer      string      `bson:"black_player" json:"black_player"`
	Result           Result      `bson:"result" json:"result"`
	Winner           string      `bson:"winner,omitempty" json:"winner,omitempty"`
	StartTime        time.Time   `bson:"start_time" json:"start_time"`
	EndTime          time.Time   `bson:"end_time" json:"end_time"`
	TimeControl      TimeControl `bson:"time_control" json:"time_control"`
	MoveCount        int         `bson:"move_count" json:"move_count"`
	Moves            []Move      `bson:"moves" json:"moves"`
	Rated            bool        `bson:"rated" json:"rated"`
	RematchOfferedBy string      `bson:"rematch_offered_by,omitempty" json:"rematch_offered_by,omitempty"`
	RematchAccepted  bool        `bson:"rematch_accepted" json:"rematch_accepted"`
}

package protocol

import "errors"

// Board geometry. Rows run 0..9 from the red side, columns 0..8.
const (
	BoardRows = 10
	BoardCols = 9
)

// Position is one board cell in wire coordinates.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// InBounds reports whether the cell lies on the board.
func (p Position) InBounds() bool {
	return p.Row >= 0 && p.Row < BoardRows && p.Col >= 0 && p.Col < BoardCols
}

// Credentials is the LOGIN and REGISTER payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// LogoutPayload names the account being logged out; it must match the
// session's bound username.
type LogoutPayload struct {
	Username string `json:"username"`
}

func (p *LogoutPayload) Validate() error {
	if p.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// UserStatsPayload requests per-time-control stats for a player. An empty
// TimeControl means every class.
type UserStatsPayload struct {
	TargetUsername string `json:"target_username"`
	TimeControl    string `json:"time_control,omitempty"`
}

func (p *UserStatsPayload) Validate() error {
	if p.TargetUsername == "" {
		return errors.New("target_username is required")
	}
	return nil
}

// ChallengePayload carries CHALLENGE_REQUEST and CHALLENGE_CANCEL. Clients
// send to_user; the server forwards with from_user filled in.
type ChallengePayload struct {
	ToUser   string `json:"to_user,omitempty"`
	FromUser string `json:"from_user,omitempty"`
}

func (p *ChallengePayload) Validate() error {
	if p.ToUser == "" {
		return errors.New("to_user is required")
	}
	return nil
}

// ChallengeResponsePayload answers a pending challenge. Accept is a pointer
// so that an absent field is rejected rather than read as a decline.
type ChallengeResponsePayload struct {
	ToUser   string `json:"to_user,omitempty"`
	FromUser string `json:"from_user,omitempty"`
	Accept   *bool  `json:"accept,omitempty"`
}

func (p *ChallengeResponsePayload) Validate() error {
	if p.ToUser == "" {
		return errors.New("to_user is required")
	}
	if p.Accept == nil {
		return errors.New("accept is required")
	}
	return nil
}

// QuickMatchPayload optionally picks the time control to queue for.
type QuickMatchPayload struct {
	TimeControl string `json:"time_control,omitempty"`
}

func (p *QuickMatchPayload) Validate() error { return nil }

// AIMatchPayload starts a game against the engine.
type AIMatchPayload struct {
	Gamemode string `json:"gamemode"`
}

func (p *AIMatchPayload) Validate() error {
	if p.Gamemode == "" {
		return errors.New("gamemode is required")
	}
	return nil
}

// OpponentData rides along in GAME_START so clients can render the other
// side without a second round trip.
type OpponentData struct {
	AvatarID int `json:"avatar_id"`
	Rating   int `json:"rating"`
}

// GameStartPayload announces a new game to one side.
type GameStartPayload struct {
	Opponent     string        `json:"opponent"`
	GameMode     string        `json:"game_mode"`
	OpponentData *OpponentData `json:"opponent_data,omitempty"`
}

// MovePayload is one move in wire coordinates. FEN, when a client supplies
// the post-move position, is stored on the move record.
type MovePayload struct {
	Piece string   `json:"piece"`
	From  Position `json:"from"`
	To    Position `json:"to"`
	FEN   string   `json:"fen,omitempty"`
}

func (p *MovePayload) Validate() error {
	if p.Piece == "" {
		return errors.New("piece is required")
	}
	if !p.From.InBounds() || !p.To.InBounds() {
		return errors.New("coordinates out of range")
	}
	if p.From == p.To {
		return errors.New("origin equals destination")
	}
	return nil
}

// InvalidMovePayload explains a rejected move.
type InvalidMovePayload struct {
	Reason string `json:"reason"`
}

// GameEndPayload reports the terminal result of a game.
type GameEndPayload struct {
	WinSide string `json:"win_side"`
}

func (p *GameEndPayload) Validate() error {
	switch p.WinSide {
	case "red", "black", "draw":
		return nil
	}
	return errors.New("win_side must be red, black or draw")
}

// DrawResponsePayload answers a pending draw offer.
type DrawResponsePayload struct {
	AcceptDraw *bool `json:"accept_draw,omitempty"`
}

func (p *DrawResponsePayload) Validate() error {
	if p.AcceptDraw == nil {
		return errors.New("accept_draw is required")
	}
	return nil
}

// RematchResponsePayload answers a rematch offer.
type RematchResponsePayload struct {
	AcceptRematch *bool `json:"accept_rematch,omitempty"`
}

func (p *RematchResponsePayload) Validate() error {
	if p.AcceptRematch == nil {
		return errors.New("accept_rematch is required")
	}
	return nil
}

// ChatPayload is in-game chat. The server stamps From when forwarding.
type ChatPayload struct {
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
}

func (p *ChatPayload) Validate() error {
	if p.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// FriendPayload carries REQUEST_ADD_FRIEND and UNFRIEND.
type FriendPayload struct {
	ToUser   string `json:"to_user,omitempty"`
	FromUser string `json:"from_user,omitempty"`
}

func (p *FriendPayload) Validate() error {
	if p.ToUser == "" {
		return errors.New("to_user is required")
	}
	return nil
}

// FriendResponsePayload answers a friend request.
type FriendResponsePayload struct {
	ToUser   string `json:"to_user,omitempty"`
	FromUser string `json:"from_user,omitempty"`
	Accept   *bool  `json:"accept,omitempty"`
}

func (p *FriendResponsePayload) Validate() error {
	if p.ToUser == "" {
		return errors.New("to_user is required")
	}
	if p.Accept == nil {
		return errors.New("accept is required")
	}
	return nil
}

// LeaderBoardPayload selects the rating table. An empty TimeControl means
// classical; Limit caps the rows, defaulting server-side when zero.
type LeaderBoardPayload struct {
	TimeControl string `json:"time_control,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

func (p *LeaderBoardPayload) Validate() error {
	if p.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

// GameHistoryPayload requests the finished games of a player.
type GameHistoryPayload struct {
	TargetUsername string `json:"target_username"`
}

func (p *GameHistoryPayload) Validate() error {
	if p.TargetUsername == "" {
		return errors.New("target_username is required")
	}
	return nil
}

// ReplayPayload requests one archived game by id.
type ReplayPayload struct {
	GameID string `json:"game_id"`
}

func (p *ReplayPayload) Validate() error {
	if p.GameID == "" {
		return errors.New("game_id is required")
	}
	return nil
}

// ErrorPayload is the uniform failure reply.
type ErrorPayload struct {
	Message string `json:"message"`
}

package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// Client-facing reasons for rejected moves.
const (
	ReasonWrongTurn      = "Not your turn or wrong piece"
	ReasonNoPiece        = "No piece at source position"
	ReasonBadCoordinates = "Invalid coordinates"
)

// DrawOfferTTL is how long a draw offer stays answerable.
const DrawOfferTTL = 5 * time.Minute

var (
	// ErrGameFinished rejects any mutation of a terminal game.
	ErrGameFinished = errors.New("game already finished")
	// ErrNotPlayer rejects actions from users outside the game.
	ErrNotPlayer = errors.New("not a player of this game")
	// ErrTimeUp reports that the mover's clock ran out; the game has already
	// been terminated in favor of the opponent.
	ErrTimeUp = errors.New("clock expired")
	// ErrNoDrawOffer rejects a response without a live offer.
	ErrNoDrawOffer = errors.New("no pending draw offer")
	// ErrOwnDrawOffer rejects answering one's own offer.
	ErrOwnDrawOffer = errors.New("cannot answer your own draw offer")
	// ErrDrawPending rejects a second offer while one is live.
	ErrDrawPending = errors.New("draw offer already pending")
)

// InvalidMoveError carries the reason sent back in INVALID_MOVE.
type InvalidMoveError struct {
	Reason string
}

func (e *InvalidMoveError) Error() string { return e.Reason }

// Game is one active game. All exported methods lock; a terminal status
// freezes every field.
type Game struct {
	mu sync.Mutex

	id         string
	red        string
	black      string
	ai         bool
	difficulty string
	control    model.TimeControl
	rated      bool

	board      Board
	initialFEN string
	fen        string
	turn       model.Side
	moves      []model.Move

	redClock   time.Duration
	blackClock time.Duration
	increment  time.Duration
	lastMoveAt time.Time

	status        model.GameStatus
	result        model.Result
	winner        string
	drawOfferedBy string
	drawDeadline  time.Time

	startTime time.Time
	endTime   time.Time
}

func newGame(id, red, black string, control model.TimeControl, rated bool, now time.Time) *Game {
	board, turn, err := ParseFEN(InitialFEN)
	if err != nil {
		panic(fmt.Sprintf("initial position: %v", err))
	}

	initial, increment := control.Clock()
	return &Game{
		id:         id,
		red:        red,
		black:      black,
		control:    control,
		rated:      rated,
		board:      board,
		initialFEN: InitialFEN,
		fen:        InitialFEN,
		turn:       turn,
		redClock:   initial,
		blackClock: initial,
		increment:  increment,
		lastMoveAt: now,
		status:     model.StatusInProgress,
		startTime:  now,
	}
}

// ID returns the immutable game id.
func (g *Game) ID() string { return g.id }

// Red returns the red-side username.
func (g *Game) Red() string { return g.red }

// Black returns the black-side username, empty in AI games.
func (g *Game) Black() string { return g.black }

// IsAI reports whether the engine plays black.
func (g *Game) IsAI() bool { return g.ai }

// Difficulty returns the AI tier, empty for PvP games.
func (g *Game) Difficulty() string { return g.difficulty }

// Rated reports whether the result feeds the rating tables.
func (g *Game) Rated() bool { return g.rated }

// TimeControl returns the clock class.
func (g *Game) TimeControl() model.TimeControl { return g.control }

// InitialFEN returns the starting position.
func (g *Game) InitialFEN() string { return g.initialFEN }

// Status returns the lifecycle state.
func (g *Game) Status() model.GameStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Result returns the terminal result, empty while in progress.
func (g *Game) Result() model.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result
}

// Winner returns the winning username, empty for draws and open games.
func (g *Game) Winner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

// Turn returns the side to move.
func (g *Game) Turn() model.Side {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turn
}

// MoveCount returns the number of accepted moves.
func (g *Game) MoveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.moves)
}

// FEN returns the current position.
func (g *Game) FEN() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fen
}

// PieceAt returns the glyph on the given square, or 0 when empty or out
// of bounds.
func (g *Game) PieceAt(pos protocol.Position) byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !pos.InBounds() {
		return 0
	}
	return g.board.At(pos)
}

// Clocks returns the remaining time per side.
func (g *Game) Clocks() (red, black time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.redClock, g.blackClock
}

// PositionCommand renders the engine position command for the game: the
// starting position plus every accepted move in engine notation.
func (g *Game) PositionCommand() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.moves) == 0 {
		return "position fen " + g.initialFEN
	}
	var sb strings.Builder
	sb.WriteString("position fen ")
	sb.WriteString(g.initialFEN)
	sb.WriteString(" moves")
	for _, mv := range g.moves {
		sb.WriteByte(' ')
		sb.WriteString(mv.Notation)
	}
	return sb.String()
}

// SideOf maps a username to its side.
func (g *Game) SideOf(username string) (model.Side, bool) {
	return g.sideOf(username)
}

func (g *Game) sideOf(username string) (model.Side, bool) {
	switch {
	case username == "":
		return "", false
	case username == g.red:
		return model.SideRed, true
	case username == g.black:
		return model.SideBlack, true
	}
	return "", false
}

// PlayerBySide returns the username on the given side.
func (g *Game) PlayerBySide(side model.Side) string {
	if side == model.SideRed {
		return g.red
	}
	return g.black
}

// Opponent returns the other player's username.
func (g *Game) Opponent(username string) (string, bool) {
	side, ok := g.sideOf(username)
	if !ok {
		return "", false
	}
	return g.PlayerBySide(side.Opposite()), true
}

// EnginePlayer labels the engine's side on persisted move records.
const EnginePlayer = "ai"

// ApplyMove validates and applies one move. Rejections that the mover can
// correct come back as *InvalidMoveError; ErrTimeUp means the mover's flag
// fell and the game is already terminated for the opponent.
func (g *Game) ApplyMove(username string, mv protocol.MovePayload, now time.Time) (model.Move, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return model.Move{}, ErrGameFinished
	}
	side, ok := g.sideOf(username)
	if !ok {
		return model.Move{}, ErrNotPlayer
	}
	return g.applyLocked(side, username, mv, now)
}

// ApplyEngineMove applies the engine's reply as the black side of an AI
// game. No identity check; the caller is the AI bridge.
func (g *Game) ApplyEngineMove(mv protocol.MovePayload, now time.Time) (model.Move, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return model.Move{}, ErrGameFinished
	}
	if !g.ai {
		return model.Move{}, ErrNotPlayer
	}
	return g.applyLocked(model.SideBlack, EnginePlayer, mv, now)
}

func (g *Game) applyLocked(side model.Side, player string, mv protocol.MovePayload, now time.Time) (model.Move, error) {
	if !mv.From.InBounds() || !mv.To.InBounds() || mv.From == mv.To {
		return model.Move{}, &InvalidMoveError{Reason: ReasonBadCoordinates}
	}

	piece := g.board.At(mv.From)
	if piece == 0 {
		return model.Move{}, &InvalidMoveError{Reason: ReasonNoPiece}
	}
	if g.turn != side || GlyphSide(piece) != side {
		return model.Move{}, &InvalidMoveError{Reason: ReasonWrongTurn}
	}

	elapsed := now.Sub(g.lastMoveAt)
	if !g.ai {
		if remaining := g.clockOf(side); elapsed >= remaining {
			g.terminate(model.StatusCompleted, model.ResultForWinner(side.Opposite()), now)
			return model.Move{}, ErrTimeUp
		}
	}

	captured := g.board.apply(mv.From, mv.To)
	g.addClock(side, g.increment-elapsed)

	move := model.Move{
		Number:    len(g.moves) + 1,
		Player:    player,
		FromRow:   mv.From.Row,
		FromCol:   mv.From.Col,
		ToRow:     mv.To.Row,
		ToCol:     mv.To.Col,
		Piece:     string(piece),
		Notation:  MoveToUCI(mv.From, mv.To),
		FENAfter:  mv.FEN,
		Timestamp: now,
		TimeTaken: elapsed.Seconds(),
	}
	if captured != 0 {
		move.Captured = string(captured)
	}

	g.moves = append(g.moves, move)
	g.turn = g.turn.Opposite()
	g.fen = g.board.FEN(g.turn, len(g.moves))
	g.lastMoveAt = now
	return move, nil
}

func (g *Game) clockOf(side model.Side) time.Duration {
	if side == model.SideRed {
		return g.redClock
	}
	return g.blackClock
}

func (g *Game) addClock(side model.Side, d time.Duration) {
	if side == model.SideRed {
		g.redClock += d
	} else {
		g.blackClock += d
	}
}

// OfferDraw records a draw offer with its expiry.
func (g *Game) OfferDraw(username string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return ErrGameFinished
	}
	if _, ok := g.sideOf(username); !ok {
		return ErrNotPlayer
	}
	if g.drawOfferedBy != "" && now.Before(g.drawDeadline) {
		return ErrDrawPending
	}
	g.drawOfferedBy = username
	g.drawDeadline = now.Add(DrawOfferTTL)
	return nil
}

// RespondDraw answers a pending offer. Accepting terminates the game as a
// draw; declining clears the offer.
func (g *Game) RespondDraw(username string, accept bool, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return false, ErrGameFinished
	}
	if _, ok := g.sideOf(username); !ok {
		return false, ErrNotPlayer
	}
	if g.drawOfferedBy == "" || now.After(g.drawDeadline) {
		return false, ErrNoDrawOffer
	}
	if g.drawOfferedBy == username {
		return false, ErrOwnDrawOffer
	}

	if !accept {
		g.drawOfferedBy = ""
		g.drawDeadline = time.Time{}
		return false, nil
	}
	g.terminate(model.StatusCompleted, model.ResultDraw, now)
	return true, nil
}

// Resign terminates the game in favor of the opponent.
func (g *Game) Resign(username string, now time.Time) (model.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return "", ErrGameFinished
	}
	side, ok := g.sideOf(username)
	if !ok {
		return "", ErrNotPlayer
	}
	result := model.ResultForWinner(side.Opposite())
	g.terminate(model.StatusCompleted, result, now)
	return result, nil
}

// ReportResult applies a client-reported terminal result (checkmate or
// stalemate detected on the board).
func (g *Game) ReportResult(username, winSide string, now time.Time) (model.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return "", ErrGameFinished
	}
	if _, ok := g.sideOf(username); !ok {
		return "", ErrNotPlayer
	}

	var result model.Result
	switch winSide {
	case "red":
		result = model.ResultRedWin
	case "black":
		result = model.ResultBlackWin
	default:
		result = model.ResultDraw
	}
	g.terminate(model.StatusCompleted, result, now)
	return result, nil
}

// Abandon terminates the game because username left (disconnect or logout).
// The remaining player takes the win.
func (g *Game) Abandon(username string, now time.Time) (model.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress {
		return "", ErrGameFinished
	}
	side, ok := g.sideOf(username)
	if !ok {
		return "", ErrNotPlayer
	}
	result := model.ResultForWinner(side.Opposite())
	g.terminate(model.StatusAbandoned, result, now)
	return result, nil
}

// FlagFall terminates the game when the side to move has no time left.
// AI games are exempt: the human may think as long as they like.
func (g *Game) FlagFall(now time.Time) (model.Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress || g.ai {
		return "", false
	}
	if now.Sub(g.lastMoveAt) < g.clockOf(g.turn) {
		return "", false
	}
	result := model.ResultForWinner(g.turn.Opposite())
	g.terminate(model.StatusCompleted, result, now)
	return result, true
}

// ExpireDrawOffer clears an offer past its deadline.
func (g *Game) ExpireDrawOffer(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != model.StatusInProgress || g.drawOfferedBy == "" {
		return false
	}
	if !now.After(g.drawDeadline) {
		return false
	}
	g.drawOfferedBy = ""
	g.drawDeadline = time.Time{}
	return true
}

// terminate freezes the game. Callers hold g.mu; repeated calls are no-ops
// because the status guard in every mutator fires first.
func (g *Game) terminate(status model.GameStatus, result model.Result, now time.Time) {
	if g.status != model.StatusInProgress {
		return
	}
	g.status = status
	g.result = result
	if result != model.ResultDraw {
		g.winner = g.PlayerBySide(model.SideRed)
		if result == model.ResultBlackWin {
			g.winner = g.PlayerBySide(model.SideBlack)
		}
	}
	g.drawOfferedBy = ""
	g.drawDeadline = time.Time{}
	g.endTime = now
}

// Snapshot copies the game into its persisted document form.
func (g *Game) Snapshot() model.Game {
	g.mu.Lock()
	defer g.mu.Unlock()

	initial, _ := g.control.Clock()
	doc := model.Game{
		ID:             g.id,
		RedPlayer:      g.red,
		BlackPlayer:    g.black,
		Status:         g.status,
		Result:         g.result,
		Winner:         g.winner,
		StartTime:      g.startTime,
		XFEN:           g.fen,
		CurrentTurn:    g.turn,
		MoveCount:      len(g.moves),
		TimeControl:    g.control,
		TimeLimit:      int(initial.Seconds()),
		RedRemaining:   g.redClock.Seconds(),
		BlackRemaining: g.blackClock.Seconds(),
		Increment:      int(g.increment.Seconds()),
		Rated:          g.rated,
		Moves:          append([]model.Move(nil), g.moves...),
		DrawOfferedBy:  g.drawOfferedBy,
	}
	if !g.endTime.IsZero() {
		end := g.endTime
		doc.EndTime = &end
	}
	return doc
}

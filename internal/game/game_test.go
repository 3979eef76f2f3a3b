package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newBlitzGame() *Game {
	return newGame("g-test", "alice", "bob", model.ControlBlitz, true, testStart)
}

func pawnPush() protocol.MovePayload {
	return protocol.MovePayload{
		Piece: "P",
		From:  protocol.Position{Row: 3, Col: 0},
		To:    protocol.Position{Row: 4, Col: 0},
	}
}

func TestApplyMove_AdvancesTurnAndClocks(t *testing.T) {
	g := newBlitzGame()

	mv, err := g.ApplyMove("alice", pawnPush(), testStart.Add(2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, mv.Number)
	assert.Equal(t, "a3a4", mv.Notation)
	assert.Equal(t, "P", mv.Piece)
	assert.Empty(t, mv.Captured)
	assert.InDelta(t, 2.0, mv.TimeTaken, 1e-9)

	assert.Equal(t, model.SideBlack, g.Turn())
	assert.Equal(t, 1, g.MoveCount())
	assert.Contains(t, g.FEN(), " b ")

	// 300s base, minus 2s thinking, plus the 3s increment.
	red, black := g.Clocks()
	assert.Equal(t, 301*time.Second, red)
	assert.Equal(t, 300*time.Second, black)
}

func TestApplyMove_WrongTurnOrPiece(t *testing.T) {
	g := newBlitzGame()

	// Black may not move first.
	_, err := g.ApplyMove("bob", protocol.MovePayload{
		Piece: "p",
		From:  protocol.Position{Row: 6, Col: 0},
		To:    protocol.Position{Row: 5, Col: 0},
	}, testStart.Add(time.Second))

	var invalid *InvalidMoveError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonWrongTurn, invalid.Reason)

	// Red may not push a black pawn either.
	_, err = g.ApplyMove("alice", protocol.MovePayload{
		Piece: "p",
		From:  protocol.Position{Row: 6, Col: 0},
		To:    protocol.Position{Row: 5, Col: 0},
	}, testStart.Add(time.Second))
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonWrongTurn, invalid.Reason)

	assert.Equal(t, 0, g.MoveCount())
}

func TestApplyMove_NoPieceAtSource(t *testing.T) {
	g := newBlitzGame()

	_, err := g.ApplyMove("alice", protocol.MovePayload{
		Piece: "P",
		From:  protocol.Position{Row: 4, Col: 4},
		To:    protocol.Position{Row: 5, Col: 4},
	}, testStart.Add(time.Second))

	var invalid *InvalidMoveError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNoPiece, invalid.Reason)
}

func TestApplyMove_BadCoordinates(t *testing.T) {
	g := newBlitzGame()

	_, err := g.ApplyMove("alice", protocol.MovePayload{
		Piece: "P",
		From:  protocol.Position{Row: 3, Col: 0},
		To:    protocol.Position{Row: 3, Col: 0},
	}, testStart.Add(time.Second))

	var invalid *InvalidMoveError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonBadCoordinates, invalid.Reason)
}

func TestApplyMove_NonPlayer(t *testing.T) {
	g := newBlitzGame()

	_, err := g.ApplyMove("eve", pawnPush(), testStart.Add(time.Second))
	assert.ErrorIs(t, err, ErrNotPlayer)
}

func TestApplyMove_FlagFallsMidThink(t *testing.T) {
	g := newBlitzGame()

	// Thinking longer than the whole blitz allotment loses on time.
	_, err := g.ApplyMove("alice", pawnPush(), testStart.Add(301*time.Second))
	require.ErrorIs(t, err, ErrTimeUp)

	assert.Equal(t, model.StatusCompleted, g.Status())
	assert.Equal(t, model.ResultBlackWin, g.Result())
	assert.Equal(t, "bob", g.Winner())
}

func TestDraw_AcceptEndsGame(t *testing.T) {
	g := newBlitzGame()

	require.NoError(t, g.OfferDraw("alice", testStart))

	accepted, err := g.RespondDraw("bob", true, testStart.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, accepted)

	assert.Equal(t, model.StatusCompleted, g.Status())
	assert.Equal(t, model.ResultDraw, g.Result())
	assert.Empty(t, g.Winner())
}

func TestDraw_DeclineClearsOffer(t *testing.T) {
	g := newBlitzGame()

	require.NoError(t, g.OfferDraw("alice", testStart))

	accepted, err := g.RespondDraw("bob", false, testStart.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, model.StatusInProgress, g.Status())

	// The offer is gone; a second response has nothing to answer.
	_, err = g.RespondDraw("bob", true, testStart.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrNoDrawOffer)
}

func TestDraw_OwnOfferNotAnswerable(t *testing.T) {
	g := newBlitzGame()

	require.NoError(t, g.OfferDraw("alice", testStart))

	_, err := g.RespondDraw("alice", true, testStart.Add(time.Second))
	assert.ErrorIs(t, err, ErrOwnDrawOffer)
}

func TestDraw_OfferExpires(t *testing.T) {
	g := newBlitzGame()

	require.NoError(t, g.OfferDraw("alice", testStart))

	late := testStart.Add(DrawOfferTTL + time.Second)
	_, err := g.RespondDraw("bob", true, late)
	assert.ErrorIs(t, err, ErrNoDrawOffer)

	assert.True(t, g.ExpireDrawOffer(late))
	assert.False(t, g.ExpireDrawOffer(late), "expiry is one-shot")
}

func TestDraw_SecondOfferWhilePending(t *testing.T) {
	g := newBlitzGame()

	require.NoError(t, g.OfferDraw("alice", testStart))
	err := g.OfferDraw("bob", testStart.Add(time.Second))
	assert.ErrorIs(t, err, ErrDrawPending)
}

func TestResign_OpponentTakesWin(t *testing.T) {
	g := newBlitzGame()

	result, err := g.Resign("bob", testStart.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.ResultRedWin, result)
	assert.Equal(t, "alice", g.Winner())
	assert.Equal(t, model.StatusCompleted, g.Status())

	_, err = g.Resign("alice", testStart.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrGameFinished)
}

func TestAbandon_SurvivorWins(t *testing.T) {
	g := newBlitzGame()

	result, err := g.Abandon("alice", testStart.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.ResultBlackWin, result)
	assert.Equal(t, model.StatusAbandoned, g.Status())
	assert.Equal(t, "bob", g.Winner())

	// A later disconnect of the other player must not flip the outcome.
	_, err = g.Abandon("bob", testStart.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrGameFinished)
	assert.Equal(t, model.ResultBlackWin, g.Result())
}

func TestReportResult_MapsWinSide(t *testing.T) {
	tests := []struct {
		winSide string
		want    model.Result
		winner  string
	}{
		{"red", model.ResultRedWin, "alice"},
		{"black", model.ResultBlackWin, "bob"},
		{"draw", model.ResultDraw, ""},
	}

	for _, tt := range tests {
		t.Run(tt.winSide, func(t *testing.T) {
			g := newBlitzGame()
			result, err := g.ReportResult("alice", tt.winSide, testStart.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
			assert.Equal(t, tt.winner, g.Winner())
		})
	}
}

func TestFlagFall_SweeperTerminates(t *testing.T) {
	g := newBlitzGame()

	_, ended := g.FlagFall(testStart.Add(299 * time.Second))
	assert.False(t, ended)

	result, ended := g.FlagFall(testStart.Add(300 * time.Second))
	require.True(t, ended)
	assert.Equal(t, model.ResultBlackWin, result)
	assert.Equal(t, "bob", g.Winner())

	_, ended = g.FlagFall(testStart.Add(301 * time.Second))
	assert.False(t, ended, "flag falls once")
}

func TestFlagFall_SkipsEngineGames(t *testing.T) {
	g := newGame("g-ai", "alice", "", model.ControlClassical, false, testStart)
	g.ai = true
	g.difficulty = "hard"

	_, ended := g.FlagFall(testStart.Add(24 * time.Hour))
	assert.False(t, ended)
	assert.Equal(t, model.StatusInProgress, g.Status())
}

func TestTerminalGameIsFrozen(t *testing.T) {
	g := newBlitzGame()
	_, err := g.Resign("alice", testStart)
	require.NoError(t, err)

	_, err = g.ApplyMove("bob", pawnPush(), testStart.Add(time.Second))
	assert.ErrorIs(t, err, ErrGameFinished)
	assert.ErrorIs(t, g.OfferDraw("bob", testStart.Add(time.Second)), ErrGameFinished)
	_, err = g.RespondDraw("bob", true, testStart.Add(time.Second))
	assert.ErrorIs(t, err, ErrGameFinished)
	_, err = g.ReportResult("bob", "red", testStart.Add(time.Second))
	assert.ErrorIs(t, err, ErrGameFinished)
}

func TestPositionCommand(t *testing.T) {
	g := newBlitzGame()
	assert.Equal(t, "position fen "+InitialFEN, g.PositionCommand())

	_, err := g.ApplyMove("alice", pawnPush(), testStart.Add(time.Second))
	require.NoError(t, err)
	_, err = g.ApplyMove("bob", protocol.MovePayload{
		Piece: "p",
		From:  protocol.Position{Row: 6, Col: 0},
		To:    protocol.Position{Row: 5, Col: 0},
	}, testStart.Add(2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "position fen "+InitialFEN+" moves a3a4 a6a5", g.PositionCommand())
}

func TestSnapshot_CarriesGameDocument(t *testing.T) {
	g := newBlitzGame()

	_, err := g.ApplyMove("alice", pawnPush(), testStart.Add(2*time.Second))
	require.NoError(t, err)
	_, err = g.Resign("bob", testStart.Add(time.Minute))
	require.NoError(t, err)

	doc := g.Snapshot()
	assert.Equal(t, "g-test", doc.ID)
	assert.Equal(t, "alice", doc.RedPlayer)
	assert.Equal(t, "bob", doc.BlackPlayer)
	assert.Equal(t, model.StatusCompleted, doc.Status)
	assert.Equal(t, model.ResultRedWin, doc.Result)
	assert.Equal(t, "alice", doc.Winner)
	assert.Equal(t, model.ControlBlitz, doc.TimeControl)
	assert.Equal(t, 300, doc.TimeLimit)
	assert.Equal(t, 3, doc.Increment)
	assert.True(t, doc.Rated)
	assert.Equal(t, 1, doc.MoveCount)
	require.Len(t, doc.Moves, 1)
	assert.Equal(t, "a3a4", doc.Moves[0].Notation)
	require.NotNil(t, doc.EndTime)
	assert.Equal(t, testStart.Add(time.Minute), *doc.EndTime)
	assert.InDelta(t, 301.0, doc.RedRemaining, 1e-9)
}

func TestSideHelpers(t *testing.T) {
	g := newBlitzGame()

	side, ok := g.SideOf("alice")
	require.True(t, ok)
	assert.Equal(t, model.SideRed, side)

	side, ok = g.SideOf("bob")
	require.True(t, ok)
	assert.Equal(t, model.SideBlack, side)

	_, ok = g.SideOf("eve")
	assert.False(t, ok)
	_, ok = g.SideOf("")
	assert.False(t, ok, "the engine seat has no username")

	opp, ok := g.Opponent("alice")
	require.True(t, ok)
	assert.Equal(t, "bob", opp)

	if _, ok := g.Opponent("eve"); ok {
		t.Fatal("expected no opponent for a non-player")
	}
}

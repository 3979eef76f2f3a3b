package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

func redOpening() protocol.MovePayload {
	return protocol.MovePayload{
		Piece: "P",
		From:  protocol.Position{Row: 3, Col: 0},
		To:    protocol.Position{Row: 4, Col: 0},
	}
}

func decodeMove(t *testing.T, msg protocol.Message) protocol.MovePayload {
	t.Helper()
	var p protocol.MovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decoding move payload: %v", err)
	}
	return p
}

func decodeGameEnd(t *testing.T, msg protocol.Message) protocol.GameEndPayload {
	t.Helper()
	var p protocol.GameEndPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decoding game end payload: %v", err)
	}
	return p
}

func TestMove_FanOut(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(alice, protocol.KindMove, redOpening())

	echo := decodeMove(t, wantKind(t, alice, protocol.KindMove))
	if echo.From != redOpening().From || echo.To != redOpening().To {
		t.Errorf("echo move = %+v", echo)
	}
	fwd := decodeMove(t, wantKind(t, bob, protocol.KindMove))
	if fwd.Piece != "P" || fwd.To != redOpening().To {
		t.Errorf("forwarded move = %+v", fwd)
	}

	if got := r.games.moveCount(); got != 1 {
		t.Errorf("persisted moves = %d, want 1", got)
	}
	g, _ := r.manager.ByUser("alice")
	if g.Turn() != model.SideBlack {
		t.Errorf("turn = %s after red's move, want black", g.Turn())
	}
}

func TestMove_WrongTurn(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	// Black tries to move before red has.
	r.handle(bob, protocol.KindMove, protocol.MovePayload{
		Piece: "p",
		From:  protocol.Position{Row: 6, Col: 0},
		To:    protocol.Position{Row: 5, Col: 0},
	})

	msg := wantKind(t, bob, protocol.KindInvalidMove)
	var p protocol.InvalidMovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decoding invalid move: %v", err)
	}
	if p.Reason != "Not your turn or wrong piece" {
		t.Errorf("reason = %q", p.Reason)
	}
	noMessage(t, alice)
}

func TestMove_EmptySource(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(alice, protocol.KindMove, protocol.MovePayload{
		Piece: "P",
		From:  protocol.Position{Row: 4, Col: 4},
		To:    protocol.Position{Row: 5, Col: 4},
	})

	msg := wantKind(t, alice, protocol.KindInvalidMove)
	var p protocol.InvalidMovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decoding invalid move: %v", err)
	}
	if p.Reason != "No piece at source position" {
		t.Errorf("reason = %q", p.Reason)
	}
}

func TestMove_NotInGame(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")

	r.handle(alice, protocol.KindMove, redOpening())
	wantError(t, alice, "You are not in a game")
}

func TestAIGame_EngineReplies(t *testing.T) {
	r := newRig(t)
	r.engine.ready = true
	r.engine.bestMove = "a6a5"
	alice := r.join("alice")

	r.handle(alice, protocol.KindAIMatch, protocol.AIMatchPayload{Gamemode: "medium"})
	wantKind(t, alice, protocol.KindInfo)
	wantKind(t, alice, protocol.KindGameStart)

	r.handle(alice, protocol.KindMove, redOpening())
	wantKind(t, alice, protocol.KindMove) // own echo

	reply := decodeMove(t, wantKind(t, alice, protocol.KindMove))
	if reply.Piece != "p" {
		t.Errorf("engine piece = %q, want p", reply.Piece)
	}
	if reply.From != (protocol.Position{Row: 6, Col: 0}) || reply.To != (protocol.Position{Row: 5, Col: 0}) {
		t.Errorf("engine move = %+v, want a6a5", reply)
	}

	r.engine.mu.Lock()
	positions := append([]string(nil), r.engine.positions...)
	r.engine.mu.Unlock()
	if len(positions) != 1 || !strings.HasPrefix(positions[0], "position fen ") {
		t.Errorf("engine positions = %v", positions)
	}

	g, _ := r.manager.ByUser("alice")
	if g.Turn() != model.SideRed {
		t.Errorf("turn = %s after engine reply, want red", g.Turn())
	}
}

func TestAIGame_EngineFailure(t *testing.T) {
	r := newRig(t)
	r.engine.ready = true
	r.engine.bestErr = errors.New("search crashed")
	alice := r.join("alice")

	r.handle(alice, protocol.KindAIMatch, protocol.AIMatchPayload{Gamemode: "hard"})
	wantKind(t, alice, protocol.KindInfo)
	wantKind(t, alice, protocol.KindGameStart)

	r.handle(alice, protocol.KindMove, redOpening())
	wantKind(t, alice, protocol.KindMove)
	wantError(t, alice, "AI failed to generate move")
}

func TestResign(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	g := r.startGame(alice, bob)
	gameID := g.ID()

	r.handle(bob, protocol.KindResign, nil)

	for _, c := range []*Client{alice, bob} {
		end := decodeGameEnd(t, wantKind(t, c, protocol.KindGameEnd))
		if end.WinSide != "red" {
			t.Errorf("win_side = %q, want red", end.WinSide)
		}
	}

	if _, ok := r.manager.ByUser("alice"); ok {
		t.Error("finished game still active")
	}

	results := r.stats.results()
	if len(results) != 1 {
		t.Fatalf("recorded results = %d, want 1", len(results))
	}
	if res := results[0]; res.red != "alice" || res.black != "bob" || res.result != model.ResultRedWin {
		t.Errorf("recorded result = %+v", res)
	}

	if _, ok := r.games.archived["arch-"+gameID]; !ok {
		t.Error("finished game not archived")
	}
	if lg, ok := alice.LastGame(); !ok || lg.opponent != "bob" || !lg.wasRed {
		t.Errorf("alice rematch context = (%+v, %v)", lg, ok)
	}
	if lg, ok := bob.LastGame(); !ok || lg.opponent != "alice" || lg.wasRed {
		t.Errorf("bob rematch context = (%+v, %v)", lg, ok)
	}
	if r.friends.together != 1 {
		t.Errorf("games together = %d, want 1", r.friends.together)
	}
}

func TestGameEnd_ReportedResult(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(alice, protocol.KindGameEnd, protocol.GameEndPayload{WinSide: "black"})

	for _, c := range []*Client{alice, bob} {
		end := decodeGameEnd(t, wantKind(t, c, protocol.KindGameEnd))
		if end.WinSide != "black" {
			t.Errorf("win_side = %q, want black", end.WinSide)
		}
	}

	r.handle(alice, protocol.KindGameEnd, protocol.GameEndPayload{WinSide: "black"})
	wantError(t, alice, "You are not in a game")
}

func TestDrawFlow(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(alice, protocol.KindDrawRequest, nil)
	wantKind(t, bob, protocol.KindDrawRequest)
	info := wantInfo(t, alice)
	if info["draw_request_sent"] != true {
		t.Errorf("draw info = %v", info)
	}

	r.handle(alice, protocol.KindDrawRequest, nil)
	wantError(t, alice, "Draw offer already pending")

	r.handle(alice, protocol.KindDrawResponse, protocol.DrawResponsePayload{AcceptDraw: boolPtr(true)})
	wantError(t, alice, "Cannot answer your own draw offer")

	r.handle(bob, protocol.KindDrawResponse, protocol.DrawResponsePayload{AcceptDraw: boolPtr(true)})

	wantKind(t, alice, protocol.KindDrawResponse)
	for _, c := range []*Client{alice, bob} {
		end := decodeGameEnd(t, wantKind(t, c, protocol.KindGameEnd))
		if end.WinSide != "draw" {
			t.Errorf("win_side = %q, want draw", end.WinSide)
		}
	}

	results := r.stats.results()
	if len(results) != 1 || results[0].result != model.ResultDraw {
		t.Errorf("recorded results = %+v, want one draw", results)
	}
}

func TestDrawResponse_NoPendingOffer(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(bob, protocol.KindDrawResponse, protocol.DrawResponsePayload{AcceptDraw: boolPtr(true)})
	wantError(t, bob, "No pending draw offer")
}

func TestDraw_DeclineKeepsPlaying(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(alice, protocol.KindDrawRequest, nil)
	wantKind(t, bob, protocol.KindDrawRequest)
	wantKind(t, alice, protocol.KindInfo)

	r.handle(bob, protocol.KindDrawResponse, protocol.DrawResponsePayload{AcceptDraw: boolPtr(false)})
	wantKind(t, alice, protocol.KindDrawResponse)

	if _, ok := r.manager.ByUser("alice"); !ok {
		t.Fatal("declined draw ended the game")
	}

	// A fresh offer is allowed after the decline.
	r.handle(alice, protocol.KindDrawRequest, nil)
	wantKind(t, bob, protocol.KindDrawRequest)
	wantKind(t, alice, protocol.KindInfo)
}

func TestDraw_AIGameRejected(t *testing.T) {
	r := newRig(t)
	r.engine.ready = true
	alice := r.join("alice")

	r.handle(alice, protocol.KindAIMatch, protocol.AIMatchPayload{Gamemode: "easy"})
	wantKind(t, alice, protocol.KindInfo)
	wantKind(t, alice, protocol.KindGameStart)

	// The engine never agrees to a draw.
	r.handle(alice, protocol.KindDrawRequest, nil)
	wantError(t, alice, "You are not in a game")
}

func TestChat_ForwardsToOpponent(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	g := r.startGame(alice, bob)

	r.handle(alice, protocol.KindChat, protocol.ChatPayload{Message: "good luck"})

	msg := wantKind(t, bob, protocol.KindChat)
	var p protocol.ChatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decoding chat: %v", err)
	}
	if p.Message != "good luck" || p.From != "alice" {
		t.Errorf("chat = %+v, want good luck from alice", p)
	}

	r.cache.mu.Lock()
	lines := len(r.cache.chat[g.ID()])
	r.cache.mu.Unlock()
	if lines != 1 {
		t.Errorf("cached chat lines = %d, want 1", lines)
	}
}

func TestChat_OutsideGame(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")

	r.handle(alice, protocol.KindChat, protocol.ChatPayload{Message: "anyone?"})
	wantError(t, alice, "You are not in a game")
}

func TestRematch_ColorSwap(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	g1 := r.startGame(alice, bob)
	archiveID := "arch-" + g1.ID()

	r.handle(bob, protocol.KindResign, nil)
	wantKind(t, alice, protocol.KindGameEnd)
	wantKind(t, bob, protocol.KindGameEnd)

	r.handle(alice, protocol.KindRematchRequest, nil)
	wantKind(t, bob, protocol.KindRematchRequest)
	info := wantInfo(t, alice)
	if info["rematch_request_sent"] != true {
		t.Errorf("rematch info = %v", info)
	}
	r.games.mu.Lock()
	offer := r.games.rematch[archiveID]
	r.games.mu.Unlock()
	if offer.username != "alice" || offer.accepted {
		t.Errorf("rematch offer record = %+v, want alice pending", offer)
	}

	r.handle(bob, protocol.KindRematchResponse, protocol.RematchResponsePayload{AcceptRematch: boolPtr(true)})
	wantKind(t, alice, protocol.KindRematchResponse)
	wantKind(t, bob, protocol.KindGameStart)
	wantKind(t, alice, protocol.KindGameStart)

	g2, ok := r.manager.ByUser("alice")
	if !ok {
		t.Fatal("no game after accepted rematch")
	}
	if g2.Red() != "bob" || g2.Black() != "alice" {
		t.Errorf("rematch colors = (%s, %s), want swapped (bob, alice)", g2.Red(), g2.Black())
	}
	if g2.TimeControl() != g1.TimeControl() || g2.Rated() != g1.Rated() {
		t.Error("rematch did not keep the original terms")
	}

	r.games.mu.Lock()
	offer = r.games.rematch[archiveID]
	r.games.mu.Unlock()
	if !offer.accepted {
		t.Errorf("rematch record = %+v, want accepted", offer)
	}
}

func TestRematch_Declined(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.handle(bob, protocol.KindResign, nil)
	wantKind(t, alice, protocol.KindGameEnd)
	wantKind(t, bob, protocol.KindGameEnd)

	r.handle(alice, protocol.KindRematchRequest, nil)
	wantKind(t, bob, protocol.KindRematchRequest)
	wantKind(t, alice, protocol.KindInfo)

	r.handle(bob, protocol.KindRematchResponse, protocol.RematchResponsePayload{AcceptRematch: boolPtr(false)})
	msg := wantKind(t, alice, protocol.KindRematchResponse)
	var p protocol.RematchResponsePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decoding rematch response: %v", err)
	}
	if p.AcceptRematch == nil || *p.AcceptRematch {
		t.Errorf("forwarded response = %+v, want decline", p)
	}

	if _, ok := r.manager.ByUser("alice"); ok {
		t.Error("declined rematch started a game")
	}
}

func TestRematch_NoRecentGame(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")

	r.handle(alice, protocol.KindRematchRequest, nil)
	wantError(t, alice, "No recent game to rematch")
}

func TestDisconnect_AbandonsGame(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	r.h.Disconnect(context.Background(), bob)

	msg := wantKind(t, alice, protocol.KindInfo)
	if got := string(msg.Payload); got != `"opponent_disconnected"` {
		t.Errorf("notice payload = %s, want \"opponent_disconnected\"", got)
	}
	end := decodeGameEnd(t, wantKind(t, alice, protocol.KindGameEnd))
	if end.WinSide != "red" {
		t.Errorf("win_side = %q, want red after black left", end.WinSide)
	}

	if r.registry.Get("bob") != nil {
		t.Error("disconnect left the seat bound")
	}
	if bob.Username() != "" {
		t.Errorf("bob Username() = %q, want cleared", bob.Username())
	}
	if r.users.status("bob") != model.StatusOffline {
		t.Errorf("bob status = %q, want offline", r.users.status("bob"))
	}
	if _, ok := r.manager.ByUser("alice"); ok {
		t.Error("abandoned game still active")
	}

	// A second disconnect for the same client is a no-op.
	r.h.Disconnect(context.Background(), bob)
	noMessage(t, alice)
}

func TestSweep_FlagFall(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")
	bob := r.join("bob")
	r.startGame(alice, bob)

	// Classical gives red 900 seconds for the first move.
	r.clock.Advance(900*time.Second + time.Second)
	r.h.Sweep(context.Background())

	for _, c := range []*Client{alice, bob} {
		end := decodeGameEnd(t, wantKind(t, c, protocol.KindGameEnd))
		if end.WinSide != "black" {
			t.Errorf("win_side = %q, want black after red's flag fell", end.WinSide)
		}
	}
	if _, ok := r.manager.ByUser("alice"); ok {
		t.Error("flagged game still active")
	}
	results := r.stats.results()
	if len(results) != 1 || results[0].result != model.ResultBlackWin {
		t.Errorf("recorded results = %+v, want one black win", results)
	}
}

func TestSuggestMove(t *testing.T) {
	r := newRig(t)
	r.engine.ready = true
	r.engine.suggest = "a3a4"
	alice := r.join("alice")

	r.handle(alice, protocol.KindAIMatch, protocol.AIMatchPayload{Gamemode: "easy"})
	wantKind(t, alice, protocol.KindInfo)
	wantKind(t, alice, protocol.KindGameStart)

	r.handle(alice, protocol.KindSuggestMove, nil)
	hint := decodeMove(t, wantKind(t, alice, protocol.KindSuggestMove))
	if hint.Piece != "P" {
		t.Errorf("hint piece = %q, want P", hint.Piece)
	}
	if hint.From != (protocol.Position{Row: 3, Col: 0}) || hint.To != (protocol.Position{Row: 4, Col: 0}) {
		t.Errorf("hint move = %+v, want a3a4", hint)
	}

	r.engine.mu.Lock()
	r.engine.suggestErr = errors.New("engine busy")
	r.engine.mu.Unlock()
	r.handle(alice, protocol.KindSuggestMove, nil)
	wantError(t, alice, "Failed to get move suggestion from AI")
}

func TestSuggestMove_NotInGame(t *testing.T) {
	r := newRig(t)
	alice := r.join("alice")

	r.handle(alice, protocol.KindSuggestMove, nil)
	wantError(t, alice, "You are not in a game")
}

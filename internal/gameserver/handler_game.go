package gameserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xqdev/xqgo/internal/cache"
	"github.com/xqdev/xqgo/internal/game"
	"github.com/xqdev/xqgo/internal/protocol"
)

func (h *Handler) handleMove(ctx context.Context, client *Client, msg protocol.Message) {
	username := client.Username()
	g, ok := h.games.ByUser(username)
	if !ok {
		h.sendError(client, "You are not in a game")
		return
	}
	var p protocol.MovePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	applied, err := g.ApplyMove(username, p, h.now())
	if err != nil {
		var invalid *game.InvalidMoveError
		switch {
		case errors.As(err, &invalid):
			client.SendMessage(protocol.KindInvalidMove, protocol.InvalidMovePayload{Reason: invalid.Reason})
		case errors.Is(err, game.ErrTimeUp):
			// The mover's own flag fell; the game is already decided.
			h.finishGame(ctx, g)
		default:
			h.sendError(client, "Failed to apply move")
		}
		return
	}

	if err := h.gameStore.AppendMove(ctx, applied, g.Snapshot()); err != nil {
		slog.Error("persisting move", "game", g.ID(), "error", err)
	}

	// Echo to the mover, then hand the turn over.
	client.SendMessage(protocol.KindMove, p)
	h.publish(ctx, "game:move:"+g.ID(), applied)

	if g.IsAI() {
		go h.aiReply(ctx, g)
		return
	}
	if opponent, ok := g.Opponent(username); ok {
		h.mailbox.Post(opponent, protocol.KindMove, p)
	}
}

func (h *Handler) handleSuggestMove(client *Client) {
	g, ok := h.games.ByUser(client.Username())
	if !ok {
		h.sendError(client, "You are not in a game")
		return
	}

	uci, err := h.engine.SuggestMove(g.PositionCommand())
	if err != nil {
		slog.Warn("suggestion query failed", "game", g.ID(), "error", err)
		h.sendError(client, "Failed to get move suggestion from AI")
		return
	}
	from, to, err := game.UCIToMove(uci)
	if err != nil {
		slog.Warn("suggestion unparseable", "game", g.ID(), "move", uci, "error", err)
		h.sendError(client, "Failed to get move suggestion from AI")
		return
	}

	client.SendMessage(protocol.KindSuggestMove, protocol.MovePayload{
		Piece: string(g.PieceAt(from)),
		From:  from,
		To:    to,
	})
}

func (h *Handler) handleGameEnd(ctx context.Context, client *Client, msg protocol.Message) {
	username := client.Username()
	g, ok := h.games.ByUser(username)
	if !ok {
		h.sendError(client, "You are not in a game")
		return
	}
	var p protocol.GameEndPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	if _, err := g.ReportResult(username, p.WinSide, h.now()); err != nil {
		h.sendError(client, "You are not in a game")
		return
	}
	h.finishGame(ctx, g)
}

func (h *Handler) handleResign(ctx context.Context, client *Client) {
	username := client.Username()
	g, ok := h.games.ByUser(username)
	if !ok {
		h.sendError(client, "You are not in a game")
		return
	}
	if _, err := g.Resign(username, h.now()); err != nil {
		h.sendError(client, "You are not in a game")
		return
	}

	h.publish(ctx, "game:resign:"+g.ID(), map[string]any{"player": username})
	h.finishGame(ctx, g)
}

func (h *Handler) handleDrawRequest(ctx context.Context, client *Client) {
	username := client.Username()
	g, ok := h.games.ByUser(username)
	if !ok || g.IsAI() {
		// The engine never agrees to a draw.
		h.sendError(client, "You are not in a game")
		return
	}

	if err := g.OfferDraw(username, h.now()); err != nil {
		switch {
		case errors.Is(err, game.ErrDrawPending):
			h.sendError(client, "Draw offer already pending")
		default:
			h.sendError(client, "You are not in a game")
		}
		return
	}

	if opponent, ok := g.Opponent(username); ok {
		h.mailbox.Post(opponent, protocol.KindDrawRequest, nil)
	}
	h.sendInfo(client, map[string]any{"draw_request_sent": true})
	h.publish(ctx, "game:draw_offer:"+g.ID(), map[string]any{"offered_by": username})
}

func (h *Handler) handleDrawResponse(ctx context.Context, client *Client, msg protocol.Message) {
	username := client.Username()
	g, ok := h.games.ByUser(username)
	if !ok || g.IsAI() {
		h.sendError(client, "You are not in a game")
		return
	}
	var p protocol.DrawResponsePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	accepted, err := g.RespondDraw(username, *p.AcceptDraw, h.now())
	if err != nil {
		switch {
		case errors.Is(err, game.ErrNoDrawOffer):
			h.sendError(client, "No pending draw offer")
		case errors.Is(err, game.ErrOwnDrawOffer):
			h.sendError(client, "Cannot answer your own draw offer")
		default:
			h.sendError(client, "You are not in a game")
		}
		return
	}

	if opponent, ok := g.Opponent(username); ok {
		h.mailbox.Post(opponent, protocol.KindDrawResponse, p)
	}
	if accepted {
		h.finishGame(ctx, g)
	}
}

func (h *Handler) handleRematchRequest(ctx context.Context, client *Client) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	lg, ok := client.LastGame()
	if !ok {
		h.sendError(client, "No recent game to rematch")
		return
	}
	if _, busy := h.games.ByUser(sender); busy {
		h.sendError(client, "You are already in a game")
		return
	}
	opponent := h.registry.Get(lg.opponent)
	if opponent == nil {
		h.sendError(client, "Target user is offline")
		return
	}

	opponent.SendMessage(protocol.KindRematchRequest, nil)
	h.sendInfo(client, map[string]any{"rematch_request_sent": true})

	if lg.archiveID != "" {
		if err := h.gameStore.SetRematchOffer(ctx, lg.archiveID, sender, false); err != nil {
			slog.Debug("recording rematch offer", "archive", lg.archiveID, "error", err)
		}
	}
}

func (h *Handler) handleRematchResponse(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.RematchResponsePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	lg, ok := client.LastGame()
	if !ok {
		h.sendError(client, "No recent game to rematch")
		return
	}
	opponent := h.registry.Get(lg.opponent)
	if opponent == nil {
		h.sendError(client, "Target user is offline")
		return
	}

	opponent.SendMessage(protocol.KindRematchResponse, protocol.RematchResponsePayload{AcceptRematch: p.AcceptRematch})
	if !*p.AcceptRematch {
		return
	}

	// Colors swap from the previous game.
	red, black := client, opponent
	if lg.wasRed {
		red, black = opponent, client
	}
	if _, err := h.startPvP(ctx, red, black, lg.control, lg.rated, pvpGameMode); err != nil {
		if errors.Is(err, game.ErrPlayerBusy) {
			if _, busy := h.games.ByUser(sender); busy {
				h.sendError(client, "You are already in a game")
			} else {
				h.sendError(client, "Opponent is already in a game")
			}
			return
		}
		h.sendError(client, "Failed to start game")
		return
	}

	if lg.archiveID != "" {
		if err := h.gameStore.SetRematchOffer(ctx, lg.archiveID, lg.opponent, true); err != nil {
			slog.Debug("recording rematch acceptance", "archive", lg.archiveID, "error", err)
		}
	}
}

func (h *Handler) handleChat(ctx context.Context, client *Client, msg protocol.Message) {
	username := client.Username()
	g, ok := h.games.ByUser(username)
	if !ok || g.IsAI() {
		h.sendError(client, "You are not in a game")
		return
	}
	var p protocol.ChatPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	opponentName, _ := g.Opponent(username)
	opponent := h.registry.Get(opponentName)
	if opponent == nil {
		h.sendError(client, "Opponent disconnected")
		return
	}

	opponent.SendMessage(protocol.KindChat, protocol.ChatPayload{
		Message: p.Message,
		From:    username,
	})
	if err := h.cache.AppendGameMessage(ctx, g.ID(), cache.Message{
		From:    username,
		Message: p.Message,
		SentAt:  h.now(),
	}); err != nil {
		slog.Debug("recording chat line", "game", g.ID(), "error", err)
	}
}

package gameserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xqdev/xqgo/internal/engine"
	"github.com/xqdev/xqgo/internal/game"
	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// Direct challenges play the classical clock, rated.
const (
	challengeControl = model.ControlClassical
	challengeRated   = true
	pvpGameMode      = "classic"
)

func (h *Handler) handleChallengeRequest(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.ChallengePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	if p.ToUser == sender {
		h.sendError(client, "Cannot challenge yourself")
		return
	}
	target := h.registry.Get(p.ToUser)
	if target == nil {
		h.sendError(client, "Target user is offline")
		return
	}

	now := h.now()
	ch := model.Challenge{
		ID:          uuid.NewString(),
		Challenger:  sender,
		Challenged:  p.ToUser,
		TimeControl: challengeControl,
		Rated:       challengeRated,
		Status:      model.ChallengePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(model.ChallengeTTL),
	}
	h.offers.Put(Offer{
		ID:        ch.ID,
		From:      sender,
		To:        p.ToUser,
		Control:   ch.TimeControl,
		Rated:     ch.Rated,
		CreatedAt: ch.CreatedAt,
		ExpiresAt: ch.ExpiresAt,
	})
	if err := h.challenges.Create(ctx, ch); err != nil {
		slog.Error("recording challenge", "challenge", ch.ID, "error", err)
	}
	if err := h.cache.SaveChallenge(ctx, ch); err != nil {
		slog.Debug("mirroring challenge", "challenge", ch.ID, "error", err)
	}

	target.SendMessage(protocol.KindChallengeRequest, protocol.ChallengePayload{FromUser: sender})
	h.sendInfo(client, map[string]any{"challenge_sent": true, "target": p.ToUser})
	h.publish(ctx, "challenge:created", ch)
}

func (h *Handler) handleChallengeResponse(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.ChallengeResponsePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	challenger := p.ToUser

	if !*p.Accept {
		if offer, found := h.offers.Cancel(challenger, sender); found {
			h.resolveOffer(ctx, offer, model.ChallengeDeclined)
			h.publish(ctx, "challenge:declined", map[string]any{
				"challenge_id": offer.ID,
				"challenger":   challenger,
				"challenged":   sender,
			})
		}
		if c := h.registry.Get(challenger); c != nil {
			accept := false
			c.SendMessage(protocol.KindChallengeResponse, protocol.ChallengeResponsePayload{
				FromUser: sender,
				Accept:   &accept,
			})
		}
		h.sendInfo(client, map[string]any{"challenge_declined": true})
		return
	}

	// Take is atomic: of two racing accepts for one offer, exactly one
	// proceeds past this line.
	offer, found := h.offers.Take(challenger, sender, h.now())
	if !found {
		h.sendError(client, "Challenge not found or expired")
		return
	}

	challengerClient := h.registry.Get(challenger)
	if challengerClient == nil {
		h.resolveOffer(ctx, offer, model.ChallengeCancelled)
		h.sendError(client, "Challenger is offline")
		return
	}

	g, err := h.startPvP(ctx, challengerClient, client, offer.Control, offer.Rated, pvpGameMode)
	if err != nil {
		h.resolveOffer(ctx, offer, model.ChallengeCancelled)
		if errors.Is(err, game.ErrPlayerBusy) {
			if _, busy := h.games.ByUser(sender); busy {
				h.sendError(client, "You are already in a game")
			} else {
				h.sendError(client, "Challenger is already in a game")
			}
			return
		}
		h.sendError(client, "Failed to start game")
		return
	}

	if err := h.challenges.Resolve(ctx, offer.ID, model.ChallengeAccepted, g.ID()); err != nil {
		slog.Debug("resolving accepted challenge", "challenge", offer.ID, "error", err)
	}
	if err := h.cache.DeleteChallenge(ctx, offer.To, offer.ID); err != nil {
		slog.Debug("dropping challenge mirror", "challenge", offer.ID, "error", err)
	}
	h.publish(ctx, "challenge:accepted", map[string]any{
		"challenge_id": offer.ID,
		"game_id":      g.ID(),
		"challenger":   challenger,
		"challenged":   sender,
	})
}

func (h *Handler) handleChallengeCancel(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.ChallengePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	if offer, found := h.offers.Cancel(sender, p.ToUser); found {
		h.resolveOffer(ctx, offer, model.ChallengeCancelled)
		h.publish(ctx, "challenge:cancelled", map[string]any{
			"challenge_id": offer.ID,
			"challenger":   sender,
			"challenged":   p.ToUser,
		})
	}
	if c := h.registry.Get(p.ToUser); c != nil {
		c.SendMessage(protocol.KindChallengeCancel, protocol.ChallengePayload{FromUser: sender})
	}
	// The reply does not depend on whether an offer was still pending.
	h.sendInfo(client, map[string]any{"challenge_cancelled": true})
}

// resolveOffer writes the terminal challenge status and drops the cache
// mirror on a best-effort basis.
func (h *Handler) resolveOffer(ctx context.Context, offer Offer, status model.ChallengeStatus) {
	if err := h.challenges.Resolve(ctx, offer.ID, status, ""); err != nil {
		slog.Debug("resolving challenge", "challenge", offer.ID, "status", status, "error", err)
	}
	if err := h.cache.DeleteChallenge(ctx, offer.To, offer.ID); err != nil {
		slog.Debug("dropping challenge mirror", "challenge", offer.ID, "error", err)
	}
}

func (h *Handler) handleQuickMatch(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.QuickMatchPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	tc := model.TimeControl(p.TimeControl)
	if tc == "" {
		tc = model.ControlClassical
	}
	if !tc.Valid() {
		h.sendError(client, "Invalid time control")
		return
	}
	if _, busy := h.games.ByUser(sender); busy {
		h.sendError(client, "You are already in a game")
		return
	}

	rating, err := h.stats.Rating(ctx, sender, tc)
	if err != nil {
		slog.Warn("reading rating for matchmaking", "user", sender, "error", err)
		rating = model.DefaultRating
	}

	for {
		opponent, matched := h.matches.Enqueue(sender, tc, rating, h.now())
		if !matched {
			h.sendInfo(client, map[string]any{
				"quick_match_queued": true,
				"time_control":       tc,
			})
			h.nudgeRandomOpponent(ctx, client, sender, tc, rating)
			return
		}

		oppClient := h.registry.Get(opponent)
		if oppClient == nil {
			// The waiter vanished between queue and pairing; try the next.
			continue
		}

		// The longer-waiting player takes red.
		if _, err := h.startPvP(ctx, oppClient, client, tc, true, pvpGameMode); err != nil {
			if errors.Is(err, game.ErrPlayerBusy) {
				if _, busy := h.games.ByUser(sender); busy {
					h.sendError(client, "You are already in a game")
					return
				}
				continue
			}
			h.sendError(client, "Failed to start game")
			return
		}
		return
	}
}

// nudgeRandomOpponent turns an empty queue into an outbound challenge: a
// random online player inside the rating window gets a CHALLENGE_REQUEST on
// the queued player's behalf.
func (h *Handler) nudgeRandomOpponent(ctx context.Context, client *Client, sender string, tc model.TimeControl, rating int) {
	candidate, err := h.users.FindRandomOpponent(ctx, sender)
	if err != nil || candidate == "" {
		if err != nil {
			slog.Debug("finding random opponent", "user", sender, "error", err)
		}
		return
	}
	target := h.registry.Get(candidate)
	if target == nil {
		return
	}
	if _, busy := h.games.ByUser(candidate); busy {
		return
	}
	candRating, err := h.stats.Rating(ctx, candidate, tc)
	if err != nil {
		candRating = model.DefaultRating
	}
	if diff := candRating - rating; diff > ratingWindow || diff < -ratingWindow {
		return
	}

	now := h.now()
	ch := model.Challenge{
		ID:          uuid.NewString(),
		Challenger:  sender,
		Challenged:  candidate,
		TimeControl: tc,
		Rated:       true,
		Status:      model.ChallengePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(model.ChallengeTTL),
	}
	h.offers.Put(Offer{
		ID:        ch.ID,
		From:      sender,
		To:        candidate,
		Control:   tc,
		Rated:     true,
		CreatedAt: now,
		ExpiresAt: ch.ExpiresAt,
	})
	if err := h.challenges.Create(ctx, ch); err != nil {
		slog.Debug("recording matchmaking challenge", "challenge", ch.ID, "error", err)
	}
	if err := h.cache.SaveChallenge(ctx, ch); err != nil {
		slog.Debug("mirroring matchmaking challenge", "challenge", ch.ID, "error", err)
	}

	target.SendMessage(protocol.KindChallengeRequest, protocol.ChallengePayload{FromUser: sender})
	h.publish(ctx, "challenge:created", ch)
	slog.Debug("matchmaking nudge sent", "from", sender, "to", candidate, "time_control", tc)
}

func (h *Handler) handleCancelQuickMatch(client *Client) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	h.matches.Dequeue(sender)
	h.sendInfo(client, map[string]any{"quick_match_cancelled": true})
}

func (h *Handler) handleAIMatch(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	if !h.engine.Ready() {
		h.sendError(client, "AI engine is not available")
		return
	}
	if _, busy := h.games.ByUser(sender); busy {
		h.sendError(client, "You are already in a game")
		return
	}
	var p protocol.AIMatchPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	difficulty, valid := engine.ParseDifficulty(p.Gamemode)
	if !valid {
		h.sendError(client, "Invalid gamemode. Use: easy, medium, or hard")
		return
	}

	h.sendInfo(client, map[string]any{"ai_processing": true, "gamemode": string(difficulty)})

	g, err := h.games.CreateAI(sender, string(difficulty), h.now())
	if err != nil {
		h.sendError(client, "You are already in a game")
		return
	}
	if err := h.gameStore.Create(ctx, g.Snapshot()); err != nil {
		slog.Error("creating AI game record", "game", g.ID(), "error", err)
	}

	client.ClearLastGame()
	client.SendMessage(protocol.KindGameStart, protocol.GameStartPayload{
		Opponent: "",
		GameMode: "ai_" + string(difficulty),
	})
	slog.Info("AI game started", "game", g.ID(), "player", sender, "difficulty", difficulty)
}

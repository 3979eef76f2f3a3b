package gameserver

import (
	"context"
	"log/slog"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// Query defaults.
const (
	leaderboardDefaultLimit = 10
	leaderboardMaxLimit     = 100
	historyPageSize         = 20
)

func (h *Handler) handlePlayerList(client *Client) {
	// A bare JSON array of the online usernames.
	h.sendInfo(client, h.registry.Online())
}

func (h *Handler) handleUserStats(ctx context.Context, client *Client, msg protocol.Message) {
	var p protocol.UserStatsPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	user, err := h.users.FindByUsername(ctx, p.TargetUsername)
	if err != nil {
		slog.Error("looking up stats target", "user", p.TargetUsername, "error", err)
		h.sendError(client, "Target user not found")
		return
	}
	if user == nil {
		h.sendError(client, "Target user not found")
		return
	}

	var stats []model.PlayerStat
	switch tc := model.TimeControl(p.TimeControl); {
	case p.TimeControl == "" || p.TimeControl == "all":
		stats, err = h.stats.ForUser(ctx, p.TargetUsername)
	case tc.Valid():
		var stat model.PlayerStat
		stat, err = h.stats.GetOrDefault(ctx, p.TargetUsername, tc)
		stats = []model.PlayerStat{stat}
	default:
		h.sendError(client, "Invalid time control")
		return
	}
	if err != nil {
		slog.Error("reading stats", "user", p.TargetUsername, "error", err)
		h.sendError(client, "Failed to get user stats")
		return
	}
	if stats == nil {
		stats = []model.PlayerStat{}
	}

	h.sendInfo(client, map[string]any{"user_stats": stats})
}

// leaderboardRow decorates a stat line with its table position.
type leaderboardRow struct {
	Rank int `json:"rank"`
	model.PlayerStat
}

func (h *Handler) handleLeaderBoard(ctx context.Context, client *Client, msg protocol.Message) {
	var p protocol.LeaderBoardPayload
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
	limit := p.Limit
	if limit <= 0 {
		limit = leaderboardDefaultLimit
	}
	if limit > leaderboardMaxLimit {
		limit = leaderboardMaxLimit
	}

	stats, err := h.stats.Leaderboard(ctx, tc, limit)
	if err != nil {
		slog.Error("reading leaderboard", "time_control", tc, "error", err)
		h.sendError(client, "Failed to get leaderboard")
		return
	}

	rows := make([]leaderboardRow, len(stats))
	for i, stat := range stats {
		rows[i] = leaderboardRow{Rank: i + 1, PlayerStat: stat}
	}
	h.sendInfo(client, map[string]any{"leaderboard": rows})
}

func (h *Handler) handleGameHistory(ctx context.Context, client *Client, msg protocol.Message) {
	var p protocol.GameHistoryPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	games, err := h.gameStore.History(ctx, p.TargetUsername, historyPageSize, 0)
	if err != nil {
		slog.Error("reading game history", "user", p.TargetUsername, "error", err)
		h.sendError(client, "Failed to get game history")
		return
	}
	if games == nil {
		games = []model.ArchivedGame{}
	}
	h.sendInfo(client, map[string]any{"game_history": games})
}

func (h *Handler) handleReplay(ctx context.Context, client *Client, msg protocol.Message) {
	var p protocol.ReplayPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	archived, err := h.gameStore.FindArchived(ctx, p.GameID)
	if err != nil {
		slog.Error("reading replay", "game", p.GameID, "error", err)
		h.sendError(client, "Game not found")
		return
	}
	if archived == nil {
		h.sendError(client, "Game not found")
		return
	}
	h.sendInfo(client, map[string]any{"replay": archived})
}

func (h *Handler) handleFriendRequest(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.FriendPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	if p.ToUser == sender {
		h.sendError(client, "Cannot send friend request to yourself")
		return
	}
	target := h.registry.Get(p.ToUser)
	if target == nil {
		h.sendError(client, "Target user is offline")
		return
	}

	if existing, err := h.friends.Find(ctx, sender, p.ToUser); err == nil && existing != nil {
		if existing.Status == model.FriendAccepted {
			h.sendError(client, "Already friends")
		} else {
			h.sendError(client, "Friend request already sent")
		}
		return
	}
	if err := h.friends.Request(ctx, sender, p.ToUser); err != nil {
		slog.Error("recording friend request", "from", sender, "to", p.ToUser, "error", err)
		h.sendError(client, "Failed to send friend request")
		return
	}

	target.SendMessage(protocol.KindRequestAddFriend, protocol.FriendPayload{FromUser: sender})
	h.sendInfo(client, map[string]any{"friend_request_sent": true, "to_user": p.ToUser})
}

func (h *Handler) handleFriendResponse(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.FriendResponsePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	requester := h.registry.Get(p.ToUser)
	if requester == nil {
		h.sendError(client, "Requester is offline")
		return
	}

	if *p.Accept {
		if err := h.friends.Accept(ctx, p.ToUser, sender); err != nil {
			slog.Warn("accepting friend request", "from", p.ToUser, "to", sender, "error", err)
			h.sendError(client, "No pending friend request")
			return
		}
	} else {
		if err := h.friends.Decline(ctx, p.ToUser, sender); err != nil {
			slog.Debug("declining friend request", "from", p.ToUser, "to", sender, "error", err)
		}
	}

	requester.SendMessage(protocol.KindResponseAddFriend, protocol.FriendResponsePayload{
		FromUser: sender,
		Accept:   p.Accept,
	})
	h.sendInfo(client, map[string]any{
		"friend_response_sent": true,
		"to_user":              p.ToUser,
		"accept":               *p.Accept,
	})
}

func (h *Handler) handleUnfriend(ctx context.Context, client *Client, msg protocol.Message) {
	sender, ok := h.requireUser(client)
	if !ok {
		return
	}
	var p protocol.FriendPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}

	user, err := h.users.FindByUsername(ctx, p.ToUser)
	if err != nil || user == nil {
		h.sendError(client, "Target user not found")
		return
	}
	if err := h.friends.Unfriend(ctx, sender, p.ToUser); err != nil {
		slog.Error("unfriending", "user", sender, "friend", p.ToUser, "error", err)
		h.sendError(client, "Failed to unfriend")
		return
	}

	if c := h.registry.Get(p.ToUser); c != nil {
		c.SendMessage(protocol.KindUnfriend, protocol.FriendPayload{FromUser: sender})
	}
	h.sendInfo(client, map[string]any{"unfriend": "ok", "to_user": p.ToUser})
}

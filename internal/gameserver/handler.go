package gameserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xqdev/xqgo/internal/cache"
	"github.com/xqdev/xqgo/internal/engine"
	"github.com/xqdev/xqgo/internal/game"
	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// UserStore is the account persistence the handler depends on.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, user model.User) error
	SetOnline(ctx context.Context, username string, online bool, status model.UserStatus) error
	FindRandomOpponent(ctx context.Context, exclude string) (string, error)
}

// GameStore persists live games and their archive.
type GameStore interface {
	Create(ctx context.Context, g model.Game) error
	AppendMove(ctx context.Context, mv model.Move, after model.Game) error
	Finish(ctx context.Context, g model.Game) error
	Archive(ctx context.Context, g model.Game) (string, error)
	FindArchived(ctx context.Context, gameID string) (*model.ArchivedGame, error)
	History(ctx context.Context, username string, limit, offset int) ([]model.ArchivedGame, error)
	SetRematchOffer(ctx context.Context, archiveID, username string, accepted bool) error
}

// StatsStore reads and updates per-time-control ratings.
type StatsStore interface {
	GetOrDefault(ctx context.Context, username string, tc model.TimeControl) (model.PlayerStat, error)
	RecordResult(ctx context.Context, redName, blackName string, tc model.TimeControl, result model.Result) error
	Rating(ctx context.Context, username string, tc model.TimeControl) (int, error)
	ForUser(ctx context.Context, username string) ([]model.PlayerStat, error)
	Leaderboard(ctx context.Context, tc model.TimeControl, limit int) ([]model.PlayerStat, error)
}

// FriendStore persists friendship edges.
type FriendStore interface {
	Find(ctx context.Context, user, friend string) (*model.FriendRelation, error)
	Request(ctx context.Context, requester, target string) error
	Accept(ctx context.Context, requester, target string) error
	Decline(ctx context.Context, requester, target string) error
	Unfriend(ctx context.Context, user, friend string) error
	RecordGameTogether(ctx context.Context, a, b string) error
}

// ChallengeStore keeps the challenge audit trail.
type ChallengeStore interface {
	Create(ctx context.Context, c model.Challenge) error
	Resolve(ctx context.Context, id string, status model.ChallengeStatus, gameID string) error
}

// SessionCache is the Redis-backed session, challenge-mirror, chat and
// pub/sub surface. All calls are best-effort; the handler logs and moves on.
type SessionCache interface {
	SaveSession(ctx context.Context, token, username string) error
	DeleteSession(ctx context.Context, token string) error
	SaveChallenge(ctx context.Context, ch model.Challenge) error
	DeleteChallenge(ctx context.Context, challenged, challengeID string) error
	AppendGameMessage(ctx context.Context, gameID string, msg cache.Message) error
	DeleteGameMessages(ctx context.Context, gameID string) error
	Publish(ctx context.Context, channel string, payload any) error
}

// AIEngine is the move source for AI games and hints.
type AIEngine interface {
	Ready() bool
	BestMove(position string, difficulty engine.Difficulty) (string, error)
	SuggestMove(position string) (string, error)
}

// Stores bundles the persistence dependencies injected into the handler.
type Stores struct {
	Users      UserStore
	Games      GameStore
	Stats      StatsStore
	Friends    FriendStore
	Challenges ChallengeStore
	Cache      SessionCache
}

// Handler executes client commands. One instance serves every connection;
// per-command state lives on the Client and in the shared books.
type Handler struct {
	registry *Registry
	mailbox  *Mailbox
	games    *game.Manager
	offers   *OfferBook
	matches  *Matchmaker

	users      UserStore
	gameStore  GameStore
	stats      StatsStore
	friends    FriendStore
	challenges ChallengeStore
	cache      SessionCache
	engine     AIEngine

	// now is stubbed in tests
	now func() time.Time
}

// NewHandler wires the command handler. The offer book and quick-match
// queue are handler-owned; callers drive expiry through Sweep.
func NewHandler(registry *Registry, mailbox *Mailbox, games *game.Manager, stores Stores, eng AIEngine) *Handler {
	return &Handler{
		registry:   registry,
		mailbox:    mailbox,
		games:      games,
		offers:     NewOfferBook(),
		matches:    NewMatchmaker(),
		users:      stores.Users,
		gameStore:  stores.Games,
		stats:      stores.Stats,
		friends:    stores.Friends,
		challenges: stores.Challenges,
		cache:      stores.Cache,
		engine:     eng,
		now:        time.Now,
	}
}

// Handle dispatches one parsed message. It runs on a worker goroutine; every
// reply goes out through the client's write queue or the mailbox.
func (h *Handler) Handle(ctx context.Context, client *Client, msg protocol.Message) {
	if client.State() == StateDisconnected {
		return
	}

	switch msg.Kind {
	case protocol.KindLogin:
		h.handleLogin(ctx, client, msg)
	case protocol.KindRegister:
		h.handleRegister(ctx, client, msg)
	case protocol.KindLogout:
		h.handleLogout(ctx, client, msg)
	case protocol.KindAuthenticated:
		// Clients echo AUTHENTICATED as a liveness probe; answer in kind.
		client.SendMessage(protocol.KindAuthenticated, nil)

	case protocol.KindChallengeRequest:
		h.handleChallengeRequest(ctx, client, msg)
	case protocol.KindChallengeResponse:
		h.handleChallengeResponse(ctx, client, msg)
	case protocol.KindChallengeCancel:
		h.handleChallengeCancel(ctx, client, msg)
	case protocol.KindQuickMatching:
		h.handleQuickMatch(ctx, client, msg)
	case protocol.KindCancelQM:
		h.handleCancelQuickMatch(client)
	case protocol.KindAIMatch:
		h.handleAIMatch(ctx, client, msg)

	case protocol.KindMove:
		h.handleMove(ctx, client, msg)
	case protocol.KindSuggestMove:
		h.handleSuggestMove(client)
	case protocol.KindGameEnd:
		h.handleGameEnd(ctx, client, msg)
	case protocol.KindResign:
		h.handleResign(ctx, client)
	case protocol.KindDrawRequest:
		h.handleDrawRequest(ctx, client)
	case protocol.KindDrawResponse:
		h.handleDrawResponse(ctx, client, msg)
	case protocol.KindRematchRequest:
		h.handleRematchRequest(ctx, client)
	case protocol.KindRematchResponse:
		h.handleRematchResponse(ctx, client, msg)
	case protocol.KindChat:
		h.handleChat(ctx, client, msg)

	case protocol.KindPlayerList:
		h.handlePlayerList(client)
	case protocol.KindUserStats:
		h.handleUserStats(ctx, client, msg)
	case protocol.KindLeaderBoard:
		h.handleLeaderBoard(ctx, client, msg)
	case protocol.KindGameHistory:
		h.handleGameHistory(ctx, client, msg)
	case protocol.KindReplayRequest:
		h.handleReplay(ctx, client, msg)

	case protocol.KindRequestAddFriend:
		h.handleFriendRequest(ctx, client, msg)
	case protocol.KindResponseAddFriend:
		h.handleFriendResponse(ctx, client, msg)
	case protocol.KindUnfriend:
		h.handleUnfriend(ctx, client, msg)

	case protocol.KindInfo:
		h.sendError(client, "Unsupported inbound message")
	case protocol.KindInvalidMove:
		h.sendError(client, "INVALID_MOVE not a client command")
	default:
		// GAME_START and ERROR are server-to-client only.
		h.sendError(client, "Unknown message type")
	}
}

func (h *Handler) sendError(client *Client, text string) {
	client.SendMessage(protocol.KindError, protocol.ErrorPayload{Message: text})
}

func (h *Handler) sendInfo(client *Client, payload any) {
	client.SendMessage(protocol.KindInfo, payload)
}

// requireUser gates commands that need a bound identity.
func (h *Handler) requireUser(client *Client) (string, bool) {
	if name := client.Username(); name != "" {
		return name, true
	}
	h.sendError(client, "Please LOGIN first")
	return "", false
}

// publish fans an event to cache subscribers, logging failures at debug
// since nothing gameplay-critical rides on it.
func (h *Handler) publish(ctx context.Context, channel string, payload any) {
	if err := h.cache.Publish(ctx, channel, payload); err != nil {
		slog.Debug("publish failed", "channel", channel, "error", err)
	}
}

// startPvP creates a game between two connected players and announces it to
// both sides. The caller has already resolved who plays red.
func (h *Handler) startPvP(ctx context.Context, red, black *Client, control model.TimeControl, rated bool, mode string) (*game.Game, error) {
	redName, blackName := red.Username(), black.Username()

	g, err := h.games.CreatePvP(redName, blackName, control, rated, h.now())
	if err != nil {
		return nil, err
	}

	// A freshly paired player leaves the quick-match queue no matter how
	// the pairing came about.
	h.matches.Dequeue(redName)
	h.matches.Dequeue(blackName)

	if err := h.gameStore.Create(ctx, g.Snapshot()); err != nil {
		slog.Error("creating game record", "game", g.ID(), "error", err)
	}

	red.ClearLastGame()
	black.ClearLastGame()

	redStat, err := h.stats.GetOrDefault(ctx, redName, control)
	if err != nil {
		slog.Warn("reading red rating", "user", redName, "error", err)
	}
	blackStat, err := h.stats.GetOrDefault(ctx, blackName, control)
	if err != nil {
		slog.Warn("reading black rating", "user", blackName, "error", err)
	}

	red.SendMessage(protocol.KindGameStart, protocol.GameStartPayload{
		Opponent: blackName,
		GameMode: mode,
		OpponentData: &protocol.OpponentData{
			AvatarID: black.AvatarID(),
			Rating:   blackStat.Rating,
		},
	})
	black.SendMessage(protocol.KindGameStart, protocol.GameStartPayload{
		Opponent: redName,
		GameMode: mode,
		OpponentData: &protocol.OpponentData{
			AvatarID: red.AvatarID(),
			Rating:   redStat.Rating,
		},
	})

	h.publish(ctx, "game:created", map[string]any{
		"game_id":      g.ID(),
		"red_player":   redName,
		"black_player": blackName,
		"time_control": control,
		"rated":        rated,
	})

	slog.Info("game started",
		"game", g.ID(),
		"red", redName,
		"black", blackName,
		"time_control", control,
		"rated", rated)
	return g, nil
}

// finishGame is the single exit path for a terminated game: notify both
// sides, persist the final record, update ratings, and free the players.
// The game must already be terminal; callers rely on the status guards in
// Game to make a second call impossible.
func (h *Handler) finishGame(ctx context.Context, g *game.Game) {
	doc := g.Snapshot()
	end := protocol.GameEndPayload{WinSide: doc.Result.WinSide()}

	h.mailbox.Post(doc.RedPlayer, protocol.KindGameEnd, end)
	if doc.BlackPlayer != "" {
		h.mailbox.Post(doc.BlackPlayer, protocol.KindGameEnd, end)
	}

	if err := h.gameStore.Finish(ctx, doc); err != nil {
		slog.Error("finishing game record", "game", doc.ID, "error", err)
	}
	archiveID, err := h.gameStore.Archive(ctx, doc)
	if err != nil {
		slog.Error("archiving game", "game", doc.ID, "error", err)
	}

	if !g.IsAI() {
		if c := h.registry.Get(doc.RedPlayer); c != nil {
			c.SetLastGame(rematchContext{
				opponent:  doc.BlackPlayer,
				wasRed:    true,
				control:   doc.TimeControl,
				rated:     doc.Rated,
				archiveID: archiveID,
			})
		}
		if c := h.registry.Get(doc.BlackPlayer); c != nil {
			c.SetLastGame(rematchContext{
				opponent:  doc.RedPlayer,
				wasRed:    false,
				control:   doc.TimeControl,
				rated:     doc.Rated,
				archiveID: archiveID,
			})
		}
	}

	if doc.Rated && !g.IsAI() {
		if err := h.stats.RecordResult(ctx, doc.RedPlayer, doc.BlackPlayer, doc.TimeControl, doc.Result); err != nil {
			slog.Error("recording rated result", "game", doc.ID, "error", err)
		}
	}
	if !g.IsAI() {
		if err := h.friends.RecordGameTogether(ctx, doc.RedPlayer, doc.BlackPlayer); err != nil {
			slog.Debug("recording game together", "game", doc.ID, "error", err)
		}
	}

	if err := h.cache.DeleteGameMessages(ctx, doc.ID); err != nil {
		slog.Debug("dropping chat transcript", "game", doc.ID, "error", err)
	}

	h.games.Remove(doc.ID)
	slog.Info("game finished",
		"game", doc.ID,
		"result", doc.Result,
		"winner", doc.Winner)
}

// aiReply asks the engine for its move and applies it as black. Runs on its
// own goroutine so the worker that handled the human move is not blocked on
// the search.
func (h *Handler) aiReply(ctx context.Context, g *game.Game) {
	uci, err := h.engine.BestMove(g.PositionCommand(), engine.Difficulty(g.Difficulty()))
	if err != nil {
		slog.Warn("engine move failed", "game", g.ID(), "error", err)
		h.mailbox.Post(g.Red(), protocol.KindError, protocol.ErrorPayload{Message: "AI failed to generate move"})
		return
	}

	from, to, err := game.UCIToMove(uci)
	if err != nil {
		slog.Warn("engine move unparseable", "game", g.ID(), "move", uci, "error", err)
		h.mailbox.Post(g.Red(), protocol.KindError, protocol.ErrorPayload{Message: "AI generated invalid move format"})
		return
	}

	piece := g.PieceAt(from)
	applied, err := g.ApplyEngineMove(protocol.MovePayload{Piece: string(piece), From: from, To: to}, h.now())
	if err != nil {
		if errors.Is(err, game.ErrGameFinished) {
			// The human resigned or reported mate while the engine thought.
			return
		}
		slog.Warn("engine move rejected", "game", g.ID(), "move", uci, "error", err)
		h.mailbox.Post(g.Red(), protocol.KindError, protocol.ErrorPayload{Message: "Failed to apply AI move"})
		return
	}

	if err := h.gameStore.AppendMove(ctx, applied, g.Snapshot()); err != nil {
		slog.Error("persisting engine move", "game", g.ID(), "error", err)
	}

	h.mailbox.Post(g.Red(), protocol.KindMove, protocol.MovePayload{
		Piece: applied.Piece,
		From:  from,
		To:    to,
	})
	h.publish(ctx, "game:move:"+g.ID(), applied)
}

// Sweep runs the periodic bookkeeping: flag falls, stale draw offers and
// expired challenges. Called from the server's ticker.
func (h *Handler) Sweep(ctx context.Context) {
	now := h.now()

	for _, g := range h.games.Active() {
		if _, fell := g.FlagFall(now); fell {
			slog.Info("flag fell", "game", g.ID(), "turn", g.Turn())
			h.finishGame(ctx, g)
			continue
		}
		if g.ExpireDrawOffer(now) {
			slog.Debug("draw offer expired", "game", g.ID())
		}
	}

	for _, offer := range h.offers.Expire(now) {
		slog.Debug("challenge expired", "challenge", offer.ID, "from", offer.From, "to", offer.To)
		if err := h.challenges.Resolve(ctx, offer.ID, model.ChallengeExpired, ""); err != nil {
			slog.Debug("resolving expired challenge", "challenge", offer.ID, "error", err)
		}
		if err := h.cache.DeleteChallenge(ctx, offer.To, offer.ID); err != nil {
			slog.Debug("dropping challenge mirror", "challenge", offer.ID, "error", err)
		}
	}
}

// Disconnect tears down one connection's server-side presence. Safe to call
// more than once; after the identity is cleared the rest is a no-op.
func (h *Handler) Disconnect(ctx context.Context, client *Client) {
	username := client.Username()
	if username == "" {
		return
	}

	h.matches.Dequeue(username)
	for _, offer := range h.offers.DropByUser(username) {
		if err := h.challenges.Resolve(ctx, offer.ID, model.ChallengeCancelled, ""); err != nil {
			slog.Debug("resolving dropped challenge", "challenge", offer.ID, "error", err)
		}
		if err := h.cache.DeleteChallenge(ctx, offer.To, offer.ID); err != nil {
			slog.Debug("dropping challenge mirror", "challenge", offer.ID, "error", err)
		}
	}

	if g, ok := h.games.ByUser(username); ok {
		if _, err := g.Abandon(username, h.now()); err == nil {
			if opponent, ok := g.Opponent(username); ok && opponent != "" {
				h.mailbox.Post(opponent, protocol.KindInfo, "opponent_disconnected")
			}
			h.finishGame(ctx, g)
		}
	}

	token := client.SessionToken()
	h.registry.Unbind(username, client)
	client.ClearIdentity()

	if err := h.users.SetOnline(ctx, username, false, model.StatusOffline); err != nil {
		slog.Warn("marking user offline", "user", username, "error", err)
	}
	if token != "" {
		if err := h.cache.DeleteSession(ctx, token); err != nil {
			slog.Debug("dropping session", "user", username, "error", err)
		}
	}

	slog.Info("player disconnected", "user", username, "client", client.IP())
}

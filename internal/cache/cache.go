package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xqdev/xqgo/internal/model"
)

// SessionTTL is how long a login session survives without renewal.
const SessionTTL = 24 * time.Hour

func sessionKey(token string) string { return "session:" + token }

func challengeKey(challenged, challengeID string) string {
	return "challenge:" + challenged + ":" + challengeID
}

func messagesKey(gameID string) string { return "game:messages:" + gameID }

// Message is one in-game chat line, kept for the life of the game.
type Message struct {
	From    string    `json:"from"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Cache wraps Redis. The server treats it as best-effort: callers log and
// carry on when it is down, losing session restore and the chat trail but
// nothing gameplay-critical.
type Cache struct {
	rdb *redis.Client
}

// New builds the client. The connection is verified with Ping separately
// so a dead Redis does not stop the server from starting.
func New(addr, password string, db int) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// SaveSession maps a session token to its username for SessionTTL.
func (c *Cache) SaveSession(ctx context.Context, token, username string) error {
	return c.rdb.Set(ctx, sessionKey(token), username, SessionTTL).Err()
}

// Session returns the username behind a token, empty when expired or
// unknown.
func (c *Cache) Session(ctx context.Context, token string) (string, error) {
	val, err := c.rdb.Get(ctx, sessionKey(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}
	return val, nil
}

// RenewSession pushes the token's expiry out by SessionTTL.
func (c *Cache) RenewSession(ctx context.Context, token string) error {
	return c.rdb.Expire(ctx, sessionKey(token), SessionTTL).Err()
}

// DeleteSession drops the token on logout.
func (c *Cache) DeleteSession(ctx context.Context, token string) error {
	return c.rdb.Del(ctx, sessionKey(token)).Err()
}

// SaveChallenge mirrors a pending offer under the challenged user's key,
// expiring with the offer itself.
func (c *Cache) SaveChallenge(ctx context.Context, ch model.Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encoding challenge: %w", err)
	}
	return c.rdb.Set(ctx, challengeKey(ch.Challenged, ch.ID), data, model.ChallengeTTL).Err()
}

// DeleteChallenge drops the mirror once the offer is resolved.
func (c *Cache) DeleteChallenge(ctx context.Context, challenged, challengeID string) error {
	return c.rdb.Del(ctx, challengeKey(challenged, challengeID)).Err()
}

// AppendGameMessage adds one chat line to the game's transcript.
func (c *Cache) AppendGameMessage(ctx context.Context, gameID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding chat message: %w", err)
	}
	return c.rdb.RPush(ctx, messagesKey(gameID), data).Err()
}

// GameMessages returns the game's chat transcript in order.
func (c *Cache) GameMessages(ctx context.Context, gameID string) ([]Message, error) {
	raw, err := c.rdb.LRange(ctx, messagesKey(gameID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading chat transcript: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decoding chat message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeleteGameMessages drops the transcript when the game is archived.
func (c *Cache) DeleteGameMessages(ctx context.Context, gameID string) error {
	return c.rdb.Del(ctx, messagesKey(gameID)).Err()
}

// Publish fans an event out to subscribers (lobby web clients and the
// like); payload is JSON-encoded.
func (c *Cache) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding publish payload: %w", err)
	}
	return c.rdb.Publish(ctx, channel, data).Err()
}

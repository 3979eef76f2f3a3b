package model

import "time"

// ChallengeStatus tracks a challenge offer through its short life.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeAccepted  ChallengeStatus = "accepted"
	ChallengeDeclined  ChallengeStatus = "declined"
	ChallengeCancelled ChallengeStatus = "cancelled"
	ChallengeExpired   ChallengeStatus = "expired"
)

// ChallengeTTL is how long a pending offer stays answerable.
const ChallengeTTL = 5 * time.Minute

// Challenge is one offer from Challenger to Challenged. Offers are keyed by
// the (challenger, challenged) pair; a new offer between the same pair
// replaces the old one.
type Challenge struct {
	ID          string          `bson:"_id" json:"challenge_id"`
	Challenger  string          `bson:"challenger_username" json:"challenger_username"`
	Challenged  string          `bson:"challenged_username" json:"challenged_username"`
	TimeControl TimeControl     `bson:"time_control" json:"time_control"`
	Rated       bool            `bson:"rated" json:"rated"`
	Status      ChallengeStatus `bson:"status" json:"status"`
	CreatedAt   time.Time       `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time       `bson:"expires_at" json:"expires_at"`
	GameID      string          `bson:"game_id,omitempty" json:"game_id,omitempty"`
}

// Expired reports whether the offer is past its TTL at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

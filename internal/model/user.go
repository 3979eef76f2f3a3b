package model

import "time"

// UserStatus is the presence state shown in player lists.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusInGame  UserStatus = "in_game"
)

// User is the persisted account document. The password never leaves the
// store layer; only its bcrypt hash is kept.
type User struct {
	Username     string     `bson:"_id" json:"username"`
	PasswordHash string     `bson:"password_hash" json:"-"`
	AvatarID     int        `bson:"avatar_id" json:"avatar_id"`
	IsOnline     bool       `bson:"is_online" json:"is_online"`
	Status       UserStatus `bson:"status" json:"status"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	LastLogin    time.Time  `bson:"last_login" json:"last_login"`
}

// FriendStatus tracks a friend edge from request to acceptance.
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
)

// FriendRelation is one directional friendship edge. A request creates the
// requester's edge as pending; acceptance flips it and adds the reverse
// edge, so an accepted pair has an edge each way.
type FriendRelation struct {
	ID                  string       `bson:"_id" json:"-"`
	UserName            string       `bson:"user_name" json:"user_name"`
	FriendName          string       `bson:"friend_name" json:"friend_name"`
	Status              FriendStatus `bson:"status" json:"status"`
	CreatedAt           time.Time    `bson:"created_at" json:"created_at"`
	AcceptedAt          *time.Time   `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	GamesPlayedTogether int          `bson:"games_played_together" json:"games_played_together"`
}

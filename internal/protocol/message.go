package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a message type. The wire form is the ASCII token itself.
type Kind string

const (
	KindLogin             Kind = "LOGIN"
	KindRegister          Kind = "REGISTER"
	KindAuthenticated     Kind = "AUTHENTICATED"
	KindLogout            Kind = "LOGOUT"
	KindPlayerList        Kind = "PLAYER_LIST"
	KindUserStats         Kind = "USER_STATS"
	KindLeaderBoard       Kind = "LEADER_BOARD"
	KindChallengeRequest  Kind = "CHALLENGE_REQUEST"
	KindChallengeResponse Kind = "CHALLENGE_RESPONSE"
	KindChallengeCancel   Kind = "CHALLENGE_CANCEL"
	KindQuickMatching     Kind = "QUICK_MATCHING"
	KindCancelQM          Kind = "CANCEL_QM"
	KindAIMatch           Kind = "AI_MATCH"
	KindGameStart         Kind = "GAME_START"
	KindMove              Kind = "MOVE"
	KindInvalidMove       Kind = "INVALID_MOVE"
	KindSuggestMove       Kind = "SUGGEST_MOVE"
	KindGameEnd           Kind = "GAME_END"
	KindResign            Kind = "RESIGN"
	KindDrawRequest       Kind = "DRAW_REQUEST"
	KindDrawResponse      Kind = "DRAW_RESPONSE"
	KindRematchRequest    Kind = "REMATCH_REQUEST"
	KindRematchResponse   Kind = "REMATCH_RESPONSE"
	KindChat              Kind = "MESSAGE"
	KindRequestAddFriend  Kind = "REQUEST_ADD_FRIEND"
	KindResponseAddFriend Kind = "RESPONSE_ADD_FRIEND"
	KindUnfriend          Kind = "UNFRIEND"
	KindGameHistory       Kind = "GAME_HISTORY"
	KindReplayRequest     Kind = "REPLAY_REQUEST"
	KindInfo              Kind = "INFO"
	KindError             Kind = "ERROR"
)

var knownKinds = map[Kind]struct{}{
	KindLogin: {}, KindRegister: {}, KindAuthenticated: {}, KindLogout: {},
	KindPlayerList: {}, KindUserStats: {}, KindLeaderBoard: {},
	KindChallengeRequest: {}, KindChallengeResponse: {}, KindChallengeCancel: {},
	KindQuickMatching: {}, KindCancelQM: {}, KindAIMatch: {},
	KindGameStart: {}, KindMove: {}, KindInvalidMove: {}, KindSuggestMove: {},
	KindGameEnd: {}, KindResign: {}, KindDrawRequest: {}, KindDrawResponse: {},
	KindRematchRequest: {}, KindRematchResponse: {}, KindChat: {},
	KindRequestAddFriend: {}, KindResponseAddFriend: {}, KindUnfriend: {},
	KindGameHistory: {}, KindReplayRequest: {}, KindInfo: {}, KindError: {},
}

// Known reports whether k is a defined message kind.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Message is one parsed frame body: the command token plus the raw JSON
// payload (empty when the frame carried the token alone).
type Message struct {
	Kind    Kind
	Payload json.RawMessage
}

// Parse splits a frame body into command token and payload. The token is
// upper-cased before lookup. Parsing is fail-closed: an unknown token or a
// payload that is not valid JSON is rejected. Payload shape is not checked
// here; INFO frames legitimately carry bare strings and arrays, and Decode
// enforces the object form where a handler expects one.
func Parse(body []byte) (Message, error) {
	if len(body) == 0 {
		return Message{}, fmt.Errorf("empty message body")
	}

	token, rest, _ := bytes.Cut(body, []byte{' '})
	kind := Kind(strings.ToUpper(string(token)))
	if !kind.Known() {
		return Message{}, fmt.Errorf("unknown command %q", string(token))
	}

	rest = bytes.TrimSpace(rest)
	if len(rest) == 0 {
		return Message{Kind: kind}, nil
	}
	if !json.Valid(rest) {
		return Message{}, fmt.Errorf("%s: payload is not valid JSON", kind)
	}

	payload := make(json.RawMessage, len(rest))
	copy(payload, rest)
	return Message{Kind: kind, Payload: payload}, nil
}

// Validator is implemented by client payloads that carry required fields.
type Validator interface {
	Validate() error
}

// Decode unmarshals the message payload into v and runs its validation.
// An absent payload decodes into the zero value, so required-field checks
// still fire.
func (m Message) Decode(v Validator) error {
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, v); err != nil {
			return fmt.Errorf("decoding %s payload: %w", m.Kind, err)
		}
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.Kind, err)
	}
	return nil
}

// Encode builds a frame body from kind and payload. A nil payload emits the
// bare token. json.Marshal keeps the object on a single line.
func Encode(kind Kind, payload any) ([]byte, error) {
	if payload == nil {
		return []byte(kind), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	body := make([]byte, 0, len(kind)+1+len(data))
	body = append(body, kind...)
	body = append(body, ' ')
	body = append(body, data...)
	return body, nil
}

// MustEncode is Encode for payloads built from static structs, where a
// marshal failure is a programming error.
func MustEncode(kind Kind, payload any) []byte {
	body, err := Encode(kind, payload)
	if err != nil {
		panic(err)
	}
	return body
}

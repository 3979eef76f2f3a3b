package gameserver

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// Registration rules. LOGIN is laxer: it provisions unknown accounts with
// whatever credentials are offered, so legacy clients without a REGISTER
// flow still get in.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

const (
	minPasswordLen  = 6
	defaultAvatarID = 1
)

func (h *Handler) handleLogin(ctx context.Context, client *Client, msg protocol.Message) {
	var creds protocol.Credentials
	if err := msg.Decode(&creds); err != nil {
		h.sendError(client, err.Error())
		return
	}

	// The name of a live connection beats credentials: collision is checked
	// before the password so probing cannot tell a bad password from a
	// taken seat.
	if existing := h.registry.Get(creds.Username); existing != nil && existing != client {
		h.sendError(client, "Username already in use")
		return
	}

	user, err := h.users.FindByUsername(ctx, creds.Username)
	if err != nil {
		slog.Error("looking up user", "user", creds.Username, "error", err)
		h.sendError(client, "Invalid username or password")
		return
	}

	switch {
	case user == nil:
		// First login provisions the account with the offered password.
		hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hashing password", "user", creds.Username, "error", err)
			h.sendError(client, "Failed to create user")
			return
		}
		now := h.now()
		fresh := model.User{
			Username:     creds.Username,
			PasswordHash: string(hash),
			AvatarID:     defaultAvatarID,
			Status:       model.StatusOffline,
			CreatedAt:    now,
			LastLogin:    now,
		}
		if err := h.users.Create(ctx, fresh); err != nil {
			slog.Error("creating user", "user", creds.Username, "error", err)
			h.sendError(client, "Failed to create user")
			return
		}
		user = &fresh
	case bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil:
		h.sendError(client, "Invalid username or password")
		return
	}

	h.completeLogin(ctx, client, user)
}

func (h *Handler) handleRegister(ctx context.Context, client *Client, msg protocol.Message) {
	var creds protocol.Credentials
	if err := msg.Decode(&creds); err != nil {
		h.sendError(client, err.Error())
		return
	}
	if !usernamePattern.MatchString(creds.Username) {
		h.sendError(client, "Invalid username (3-20 chars, alphanumeric + underscore)")
		return
	}
	if len(creds.Password) < minPasswordLen {
		h.sendError(client, "Password must be at least 6 characters")
		return
	}

	existing, err := h.users.FindByUsername(ctx, creds.Username)
	if err != nil {
		slog.Error("looking up user", "user", creds.Username, "error", err)
		h.sendError(client, "Failed to create user")
		return
	}
	if existing != nil {
		h.sendError(client, "Username already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hashing password", "user", creds.Username, "error", err)
		h.sendError(client, "Failed to create user")
		return
	}
	now := h.now()
	user := model.User{
		Username:     creds.Username,
		PasswordHash: string(hash),
		AvatarID:     defaultAvatarID,
		Status:       model.StatusOffline,
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := h.users.Create(ctx, user); err != nil {
		// Covers the duplicate-insert race as well.
		slog.Error("creating user", "user", creds.Username, "error", err)
		h.sendError(client, "Failed to create user")
		return
	}

	slog.Info("user registered", "user", creds.Username, "client", client.IP())
	h.completeLogin(ctx, client, &user)
}

// completeLogin binds the identity and announces AUTHENTICATED. Shared by
// LOGIN and the REGISTER auto-login.
func (h *Handler) completeLogin(ctx context.Context, client *Client, user *model.User) {
	if old := client.Username(); old != "" && old != user.Username {
		// Re-login under a new name releases the old seat.
		h.registry.Unbind(old, client)
	}
	if err := h.registry.Bind(user.Username, client); err != nil {
		h.sendError(client, "Username already in use")
		return
	}

	token := uuid.NewString()
	client.BindIdentity(user.Username, user.AvatarID, token)

	if err := h.users.SetOnline(ctx, user.Username, true, model.StatusOnline); err != nil {
		slog.Warn("marking user online", "user", user.Username, "error", err)
	}
	if err := h.cache.SaveSession(ctx, token, user.Username); err != nil {
		slog.Debug("saving session", "user", user.Username, "error", err)
	}

	client.SendMessage(protocol.KindAuthenticated, nil)
	slog.Info("player logged in", "user", user.Username, "client", client.IP())
}

func (h *Handler) handleLogout(ctx context.Context, client *Client, msg protocol.Message) {
	var p protocol.LogoutPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(client, err.Error())
		return
	}
	if bound := client.Username(); bound != "" && p.Username != bound {
		h.sendError(client, "Username does not match this session")
		return
	}

	h.Disconnect(ctx, client)

	// Mark first so the pump closes the socket right after the farewell
	// frame drains.
	client.MarkForDisconnection()
	h.sendInfo(client, map[string]string{"logout": "ok"})
}

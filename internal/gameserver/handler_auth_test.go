package gameserver

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

func TestLogin_ProvisionsUnknownAccount(t *testing.T) {
	r := newRig(t)
	c := newPipeClient(t)

	r.handle(c, protocol.KindLogin, protocol.Credentials{Username: "alice", Password: "secret1"})
	wantKind(t, c, protocol.KindAuthenticated)

	if c.Username() != "alice" || c.State() != StateAuthenticated {
		t.Errorf("client identity = (%q, %v), want (alice, AUTHENTICATED)", c.Username(), c.State())
	}
	if r.registry.Get("alice") != c {
		t.Error("login did not bind the registry seat")
	}

	user, _ := r.users.FindByUsername(context.Background(), "alice")
	if user == nil {
		t.Fatal("first login did not create the account")
	}
	if user.AvatarID != defaultAvatarID {
		t.Errorf("AvatarID = %d, want %d", user.AvatarID, defaultAvatarID)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")) != nil {
		t.Error("stored hash does not match the offered password")
	}
	if r.users.status("alice") != model.StatusOnline {
		t.Errorf("status = %q, want online", r.users.status("alice"))
	}
	if _, ok := r.cache.session(c.SessionToken()); !ok {
		t.Error("session token not mirrored to the cache")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	r := newRig(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("right-one"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	r.users.put(model.User{Username: "alice", PasswordHash: string(hash), AvatarID: 4})

	c := newPipeClient(t)
	r.handle(c, protocol.KindLogin, protocol.Credentials{Username: "alice", Password: "wrong-one"})
	wantError(t, c, "Invalid username or password")
	if c.Username() != "" {
		t.Errorf("Username() = %q after rejected login, want empty", c.Username())
	}

	r.handle(c, protocol.KindLogin, protocol.Credentials{Username: "alice", Password: "right-one"})
	wantKind(t, c, protocol.KindAuthenticated)
	if c.AvatarID() != 4 {
		t.Errorf("AvatarID() = %d, want 4 from the stored account", c.AvatarID())
	}
}

func TestLogin_SeatCollision(t *testing.T) {
	r := newRig(t)
	r.join("alice")

	intruder := newPipeClient(t)
	r.handle(intruder, protocol.KindLogin, protocol.Credentials{Username: "alice", Password: "whatever"})
	wantError(t, intruder, "Username already in use")

	// The seat check fires before the account lookup, so a taken name
	// reveals nothing about the password.
	if calls := r.users.findCalls.Load(); calls != 0 {
		t.Errorf("FindByUsername called %d times, want 0", calls)
	}
}

func TestLogin_NewNameReleasesOldSeat(t *testing.T) {
	r := newRig(t)
	c := newPipeClient(t)

	r.handle(c, protocol.KindLogin, protocol.Credentials{Username: "alice", Password: "secret1"})
	wantKind(t, c, protocol.KindAuthenticated)

	r.handle(c, protocol.KindLogin, protocol.Credentials{Username: "bob", Password: "secret2"})
	wantKind(t, c, protocol.KindAuthenticated)

	if r.registry.Get("alice") != nil {
		t.Error("old seat still bound after re-login")
	}
	if r.registry.Get("bob") != c {
		t.Error("new seat not bound")
	}
	if c.Username() != "bob" {
		t.Errorf("Username() = %q, want bob", c.Username())
	}
}

func TestRegister_Validation(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
		want     string
	}{
		{"short name", "ab", "secret1", "Invalid username (3-20 chars, alphanumeric + underscore)"},
		{"bad characters", "al ice", "secret1", "Invalid username (3-20 chars, alphanumeric + underscore)"},
		{"long name", "abcdefghijklmnopqrstu", "secret1", "Invalid username (3-20 chars, alphanumeric + underscore)"},
		{"short password", "alice", "12345", "Password must be at least 6 characters"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			c := newPipeClient(t)
			r.handle(c, protocol.KindRegister, protocol.Credentials{Username: tc.username, Password: tc.password})
			wantError(t, c, tc.want)
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	r := newRig(t)
	r.users.put(model.User{Username: "alice"})

	c := newPipeClient(t)
	r.handle(c, protocol.KindRegister, protocol.Credentials{Username: "alice", Password: "secret1"})
	wantError(t, c, "Username already exists")
}

func TestRegister_AutoLogin(t *testing.T) {
	r := newRig(t)
	c := newPipeClient(t)

	r.handle(c, protocol.KindRegister, protocol.Credentials{Username: "alice", Password: "secret1"})
	wantKind(t, c, protocol.KindAuthenticated)

	if c.Username() != "alice" {
		t.Errorf("Username() = %q, want alice", c.Username())
	}
	user, _ := r.users.FindByUsername(context.Background(), "alice")
	if user == nil {
		t.Fatal("register did not persist the account")
	}
}

func TestLogout_IdentityMismatch(t *testing.T) {
	r := newRig(t)
	c := r.join("alice")

	r.handle(c, protocol.KindLogout, protocol.LogoutPayload{Username: "bob"})
	wantError(t, c, "Username does not match this session")

	if c.Username() != "alice" || r.registry.Get("alice") != c {
		t.Error("mismatched logout altered the session")
	}
	if c.IsMarkedForDisconnection() {
		t.Error("mismatched logout marked the client for disconnection")
	}
}

func TestLogout_Flow(t *testing.T) {
	r := newRig(t)
	c := r.join("alice")
	r.cache.SaveSession(context.Background(), "token-alice", "alice")

	r.handle(c, protocol.KindLogout, protocol.LogoutPayload{Username: "alice"})

	info := wantInfo(t, c)
	if info["logout"] != "ok" {
		t.Errorf(`info["logout"] = %v, want "ok"`, info["logout"])
	}
	if !c.IsMarkedForDisconnection() {
		t.Error("logout did not mark the client for disconnection")
	}
	if c.Username() != "" {
		t.Errorf("Username() = %q after logout, want empty", c.Username())
	}
	if r.registry.Get("alice") != nil {
		t.Error("logout left the seat bound")
	}
	if r.users.status("alice") != model.StatusOffline {
		t.Errorf("status = %q, want offline", r.users.status("alice"))
	}
	if _, ok := r.cache.session("token-alice"); ok {
		t.Error("logout left the cached session")
	}
}

package gameserver

import (
	"errors"
	"sort"
	"sync"
)

// ErrNameTaken is returned when a login tries to bind a username that is
// already bound to another live connection. The text is user-facing.
var ErrNameTaken = errors.New("Username already in use")

// Registry maps bound usernames to their connections.
// Thread-safe for concurrent access.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client // key: username
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client, 256),
	}
}

// Bind claims a username for the given client. A name bound to a different
// live connection rejects the bind; rebinding the same client is a no-op.
func (r *Registry) Bind(username string, client *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[username]; ok && cur != client {
		return ErrNameTaken
	}
	r.clients[username] = client
	return nil
}

// Unbind releases the username if it is still held by the given client.
// Idempotent: a repeat call or a stale unbind does nothing.
func (r *Registry) Unbind(username string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[username]; ok && cur == client {
		delete(r.clients, username)
	}
}

// Get returns the client bound to username, nil if offline.
func (r *Registry) Get(username string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[username]
}

// Online returns the bound usernames in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ForEach iterates over all bound clients.
// fn receives username and client. If fn returns false, iteration stops.
func (r *Registry) ForEach(fn func(string, *Client) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, client := range r.clients {
		if !fn(name, client) {
			return
		}
	}
}

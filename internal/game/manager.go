package game

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xqdev/xqgo/internal/model"
)

// ErrPlayerBusy rejects starting a game for a player who already has one.
var ErrPlayerBusy = errors.New("player already in a game")

// Manager owns the active games and keeps the player index consistent with
// them: a username maps to at most one live game.
type Manager struct {
	mu     sync.RWMutex
	games  map[string]*Game
	byUser map[string]string
}

func NewManager() *Manager {
	return &Manager{
		games:  make(map[string]*Game),
		byUser: make(map[string]string),
	}
}

// CreatePvP starts a game between two humans. Red is the side of the first
// argument.
func (m *Manager) CreatePvP(red, black string, control model.TimeControl, rated bool, now time.Time) (*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.byUser[red]; busy {
		return nil, ErrPlayerBusy
	}
	if _, busy := m.byUser[black]; busy {
		return nil, ErrPlayerBusy
	}

	g := newGame(uuid.NewString(), red, black, control, rated, now)
	m.games[g.id] = g
	m.byUser[red] = g.id
	m.byUser[black] = g.id
	return g, nil
}

// CreateAI starts a game where the engine plays black. AI games are
// unrated and use the classical clock, though the human's flag never falls.
func (m *Manager) CreateAI(player, difficulty string, now time.Time) (*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.byUser[player]; busy {
		return nil, ErrPlayerBusy
	}

	g := newGame(uuid.NewString(), player, "", model.ControlClassical, false, now)
	g.ai = true
	g.difficulty = difficulty
	m.games[g.id] = g
	m.byUser[player] = g.id
	return g, nil
}

// Get returns the game by id.
func (m *Manager) Get(id string) (*Game, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	return g, ok
}

// ByUser returns the game the player is currently in.
func (m *Manager) ByUser(username string) (*Game, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUser[username]
	if !ok {
		return nil, false
	}
	g, ok := m.games[id]
	return g, ok
}

// Remove drops the game and frees its players for new games. Terminating
// the game is the caller's job; Remove only forgets it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[id]
	if !ok {
		return
	}
	delete(m.games, id)
	if m.byUser[g.red] == id {
		delete(m.byUser, g.red)
	}
	if g.black != "" && m.byUser[g.black] == id {
		delete(m.byUser, g.black)
	}
}

// Active returns a snapshot of the live games, for the periodic sweep.
func (m *Manager) Active() []*Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Game, 0, len(m.games))
	for _, g := range m.games {
		out = append(out, g)
	}
	return out
}

// Count returns the number of live games.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

package gameserver

import (
	"sync"
	"time"

	"github.com/xqdev/xqgo/internal/model"
)

// ratingWindow is the maximum rating distance for a quick-match pairing.
const ratingWindow = 200

// Offer is one pending challenge, keyed challenger→target. The book is the
// authoritative record; the store and cache mirrors are write-through.
type Offer struct {
	ID        string
	From      string
	To        string
	Control   model.TimeControl
	Rated     bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

func offerKey(from, to string) string {
	return from + "\x00" + to
}

// OfferBook holds pending challenges. Take is atomic: of two racing
// responses, exactly one gets the offer.
type OfferBook struct {
	mu     sync.Mutex
	offers map[string]Offer
}

// NewOfferBook creates an empty offer book.
func NewOfferBook() *OfferBook {
	return &OfferBook{offers: make(map[string]Offer)}
}

// Put records an offer, replacing any previous one from the same challenger
// to the same target.
func (b *OfferBook) Put(o Offer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers[offerKey(o.From, o.To)] = o
}

// Take removes and returns the offer from challenger to target. An absent
// or expired offer returns false; expired entries are dropped on the way.
func (b *OfferBook) Take(from, to string, now time.Time) (Offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := offerKey(from, to)
	o, ok := b.offers[key]
	if !ok {
		return Offer{}, false
	}
	delete(b.offers, key)
	if now.After(o.ExpiresAt) {
		return Offer{}, false
	}
	return o, true
}

// Cancel removes the offer from challenger to target, returning it when it
// was still pending.
func (b *OfferBook) Cancel(from, to string) (Offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := offerKey(from, to)
	o, ok := b.offers[key]
	if ok {
		delete(b.offers, key)
	}
	return o, ok
}

// DropByUser removes every offer the user is party to, returning the removed
// offers. Used on disconnect.
func (b *OfferBook) DropByUser(username string) []Offer {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []Offer
	for key, o := range b.offers {
		if o.From == username || o.To == username {
			delete(b.offers, key)
			dropped = append(dropped, o)
		}
	}
	return dropped
}

// Expire removes and returns every offer past its deadline.
func (b *OfferBook) Expire(now time.Time) []Offer {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []Offer
	for key, o := range b.offers {
		if now.After(o.ExpiresAt) {
			delete(b.offers, key)
			expired = append(expired, o)
		}
	}
	return expired
}

// Len returns the number of pending offers.
func (b *OfferBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.offers)
}

// waiter is one player queued for quick match.
type waiter struct {
	username string
	rating   int
	since    time.Time
}

// Matchmaker pairs quick-match players within the rating window, first
// come first served. The earlier waiter takes red.
type Matchmaker struct {
	mu     sync.Mutex
	queues map[model.TimeControl][]waiter
}

// NewMatchmaker creates an empty quick-match queue set.
func NewMatchmaker() *Matchmaker {
	return &Matchmaker{queues: make(map[model.TimeControl][]waiter)}
}

// Enqueue pairs the player with the earliest compatible waiter in the same
// time control, or queues them when none fits. A matched return means the
// returned opponent has been removed from the queue and plays red.
func (m *Matchmaker) Enqueue(username string, tc model.TimeControl, rating int, now time.Time) (opponent string, matched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(username)

	queue := m.queues[tc]
	for i, w := range queue {
		if w.username == username {
			continue
		}
		if diff := rating - w.rating; diff >= -ratingWindow && diff <= ratingWindow {
			m.queues[tc] = append(queue[:i], queue[i+1:]...)
			return w.username, true
		}
	}

	m.queues[tc] = append(queue, waiter{username: username, rating: rating, since: now})
	return "", false
}

// Dequeue removes the player from every queue. Returns whether they were
// waiting.
func (m *Matchmaker) Dequeue(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(username)
}

// Waiting reports whether the player is queued for any time control.
func (m *Matchmaker) Waiting(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, queue := range m.queues {
		for _, w := range queue {
			if w.username == username {
				return true
			}
		}
	}
	return false
}

func (m *Matchmaker) removeLocked(username string) bool {
	removed := false
	for tc, queue := range m.queues {
		for i, w := range queue {
			if w.username == username {
				m.queues[tc] = append(queue[:i], queue[i+1:]...)
				removed = true
				break
			}
		}
	}
	return removed
}

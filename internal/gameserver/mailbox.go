package gameserver

import (
	"context"
	"log/slog"

	"github.com/xqdev/xqgo/internal/protocol"
)

const defaultMailboxSize = 1024

// delivery is one queued outbound message addressed by username.
type delivery struct {
	username string
	frame    []byte
}

// Mailbox is the outbound path for background producers: the AI bridge, the
// sweeper and disconnect fan-out post here instead of touching sockets. A
// drainer goroutine resolves each username through the registry and hands
// the frame to the destination's write pump; messages for offline users are
// dropped silently.
type Mailbox struct {
	registry *Registry
	ch       chan delivery
}

// NewMailbox creates a mailbox draining into the given registry.
func NewMailbox(registry *Registry, size int) *Mailbox {
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Mailbox{
		registry: registry,
		ch:       make(chan delivery, size),
	}
}

// Post queues a message for the named user. Best-effort: a full mailbox
// drops the message with a warning rather than blocking the producer.
func (m *Mailbox) Post(username string, kind protocol.Kind, payload any) {
	body, err := protocol.Encode(kind, payload)
	if err != nil {
		slog.Error("encoding mailbox message", "kind", kind, "user", username, "error", err)
		return
	}
	select {
	case m.ch <- delivery{username: username, frame: protocol.EncodeFrame(body)}:
	default:
		slog.Warn("mailbox full, dropping message", "kind", kind, "user", username)
	}
}

// Run drains the mailbox until ctx is cancelled.
func (m *Mailbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.ch:
			client := m.registry.Get(d.username)
			if client == nil {
				continue // user went offline, drop
			}
			if err := client.Send(d.frame); err != nil {
				slog.Debug("mailbox delivery failed", "user", d.username, "error", err)
			}
		}
	}
}

// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_relay

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	internal_signaling "github.com/vocalab/api/discussion-api/internal/signaling"
	"github.com/vocalab/pkg/commons"
)

// Hub routes realtime envelopes between connected identities. It never
// interprets call semantics: an envelope addressed to a connected identity is
// forwarded, anything else is dropped. From is always overwritten with the
// sender's authenticated identity.
type Hub struct {
	logger   commons.Logger
	presence *Presence

	mu    sync.RWMutex
	conns map[string]*hubConn
}

type hubConn struct {
	identity string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

func (c *hubConn) write(env internal_signaling.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// NewHub builds a hub. Presence is optional; without it the hub still routes,
// it just does not publish the roster.
func NewHub(logger commons.Logger, presence *Presence) *Hub {
	return &Hub{
		logger:   logger,
		presence: presence,
		conns:    make(map[string]*hubConn),
	}
}

// HandleConnection owns one authenticated websocket until it drops. A second
// connection for the same identity replaces the first.
func (h *Hub) HandleConnection(ctx context.Context, identity string, conn *websocket.Conn) {
	client := &hubConn{identity: identity, conn: conn}

	h.mu.Lock()
	if previous, ok := h.conns[identity]; ok {
		h.logger.Infow("Replacing existing relay connection", "identity", identity)
		previous.conn.Close()
	}
	h.conns[identity] = client
	h.mu.Unlock()

	if h.presence != nil {
		if err := h.presence.SetOnline(ctx, identity); err != nil {
			h.logger.Warnw("Failed to publish presence", "identity", identity, "error", err)
		}
	}
	h.logger.Infow("Relay connection established", "identity", identity)

	defer func() {
		h.mu.Lock()
		if h.conns[identity] == client {
			delete(h.conns, identity)
		}
		h.mu.Unlock()
		conn.Close()
		if h.presence != nil {
			if err := h.presence.SetOffline(ctx, identity); err != nil {
				h.logger.Warnw("Failed to retract presence", "identity", identity, "error", err)
			}
		}
		h.logger.Infow("Relay connection closed", "identity", identity)
	}()

	for {
		var env internal_signaling.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		env.From = identity
		h.route(env)
	}
}

// route delivers an envelope to its addressee. Missing or offline recipients
// are dropped; the relay offers no queuing.
func (h *Hub) route(env internal_signaling.Envelope) {
	if env.To == "" {
		h.logger.Debugw("Dropping unaddressed envelope", "type", env.Type, "from", env.From)
		return
	}

	h.mu.RLock()
	target, ok := h.conns[env.To]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debugw("Dropping envelope for offline identity",
			"type", env.Type, "from", env.From, "to", env.To)
		return
	}

	if err := target.write(env); err != nil {
		h.logger.Warnw("Envelope delivery failed",
			"type", env.Type, "to", env.To, "error", err)
	}
}

// Connected reports whether an identity currently holds a connection on this
// hub instance.
func (h *Hub) Connected(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[identity]
	return ok
}

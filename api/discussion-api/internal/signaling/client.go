// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vocalab/pkg/commons"
)

// Client is the realtime relay client: one persistent WebSocket per
// authenticated identity, authenticated via a bearer token at connect time.
//
// Delivery is at-most-once and fire-and-forget. Send errors are returned to
// the caller but never retried here; the relay gives no acknowledgement, so a
// silent delivery failure can surface later as the two sides' call state
// drifting apart.
type Client struct {
	logger commons.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[EventType]func(Envelope)

	onDisconnect func(error)

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay endpoint with the given bearer token and starts
// the read loop. Handlers registered after Dial receive subsequent events;
// events with no registered handler are dropped.
func Dial(ctx context.Context, logger commons.Logger, url, token string) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}

	c := &Client{
		logger:   logger,
		conn:     conn,
		handlers: make(map[EventType]func(Envelope)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop dispatches inbound envelopes to registered handlers until the
// connection drops. Handlers run on the read goroutine; they are expected to
// hand work off (the coordinator enqueues an event) rather than block.
func (c *Client) readLoop() {
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// Local Close; not a transport failure.
			default:
				c.logger.Warnw("Relay connection lost", "error", err)
				if c.onDisconnect != nil {
					c.onDisconnect(err)
				}
			}
			c.Close()
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.handlerMu.RLock()
	handler := c.handlers[env.Type]
	c.handlerMu.RUnlock()

	if handler == nil {
		c.logger.Debugw("No handler for relay event, dropping", "type", env.Type)
		return
	}
	handler(env)
}

func (c *Client) subscribe(t EventType, handler func(Envelope)) {
	c.handlerMu.Lock()
	c.handlers[t] = handler
	c.handlerMu.Unlock()
}

// send writes an envelope to the relay. One writer at a time; gorilla
// connections do not support concurrent writes.
func (c *Client) send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("relay send %s failed: %w", env.Type, err)
	}
	return nil
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ============================================================================
// Outbound control messages (Signaler)
// ============================================================================

func (c *Client) SendCallRequest(ctx context.Context, to, callID, topic string) error {
	return c.send(ctx, Envelope{Type: EventCallRequest, To: to, CallID: callID, Topic: topic})
}

func (c *Client) SendAccept(ctx context.Context, to, callID string) error {
	return c.send(ctx, Envelope{Type: EventCallAccept, To: to, CallID: callID})
}

func (c *Client) SendDecline(ctx context.Context, to, callID string) error {
	return c.send(ctx, Envelope{Type: EventCallDecline, To: to, CallID: callID})
}

func (c *Client) SendEnd(ctx context.Context, to, callID string) error {
	return c.send(ctx, Envelope{Type: EventCallEnd, To: to, CallID: callID})
}

func (c *Client) SendSpeakerChange(ctx context.Context, to, callID, speakerID string) error {
	return c.send(ctx, Envelope{Type: EventSpeakerChange, To: to, CallID: callID, SpeakerID: speakerID})
}

// ============================================================================
// Outbound media negotiation (opaque payloads)
// ============================================================================

func (c *Client) SendMediaOffer(ctx context.Context, to, callID string, payload json.RawMessage) error {
	return c.send(ctx, Envelope{Type: EventMediaOffer, To: to, CallID: callID, Payload: payload})
}

func (c *Client) SendMediaAnswer(ctx context.Context, to, callID string, payload json.RawMessage) error {
	return c.send(ctx, Envelope{Type: EventMediaAnswer, To: to, CallID: callID, Payload: payload})
}

func (c *Client) SendMediaICE(ctx context.Context, to, callID string, payload json.RawMessage) error {
	return c.send(ctx, Envelope{Type: EventMediaICE, To: to, CallID: callID, Payload: payload})
}

// SendChatMessage forwards a chat payload to another identity. Chat rides the
// same relay connection but is invisible to call coordination.
func (c *Client) SendChatMessage(ctx context.Context, to string, payload json.RawMessage) error {
	return c.send(ctx, Envelope{Type: EventChatMessage, To: to, Payload: payload})
}

// SendTyping forwards a typing indicator.
func (c *Client) SendTyping(ctx context.Context, to string, typing bool) error {
	payload, _ := json.Marshal(map[string]bool{"isTyping": typing})
	return c.send(ctx, Envelope{Type: EventTyping, To: to, Payload: payload})
}

// ============================================================================
// Inbound subscriptions
// ============================================================================

func (c *Client) OnCallRequest(handler func(callID, topic, from string)) {
	c.subscribe(EventCallRequest, func(env Envelope) {
		handler(env.CallID, env.Topic, env.From)
	})
}

func (c *Client) OnCallAccept(handler func(callID, from string)) {
	c.subscribe(EventCallAccept, func(env Envelope) {
		handler(env.CallID, env.From)
	})
}

func (c *Client) OnCallDecline(handler func(callID, from string)) {
	c.subscribe(EventCallDecline, func(env Envelope) {
		handler(env.CallID, env.From)
	})
}

func (c *Client) OnCallEnd(handler func(callID, from string)) {
	c.subscribe(EventCallEnd, func(env Envelope) {
		handler(env.CallID, env.From)
	})
}

func (c *Client) OnSpeakerChange(handler func(callID, speakerID string)) {
	c.subscribe(EventSpeakerChange, func(env Envelope) {
		handler(env.CallID, env.SpeakerID)
	})
}

func (c *Client) OnMediaOffer(handler func(callID, from string, payload json.RawMessage)) {
	c.subscribe(EventMediaOffer, func(env Envelope) {
		handler(env.CallID, env.From, env.Payload)
	})
}

func (c *Client) OnMediaAnswer(handler func(callID, from string, payload json.RawMessage)) {
	c.subscribe(EventMediaAnswer, func(env Envelope) {
		handler(env.CallID, env.From, env.Payload)
	})
}

func (c *Client) OnMediaICE(handler func(callID, from string, payload json.RawMessage)) {
	c.subscribe(EventMediaICE, func(env Envelope) {
		handler(env.CallID, env.From, env.Payload)
	})
}

func (c *Client) OnChatMessage(handler func(from string, payload json.RawMessage)) {
	c.subscribe(EventChatMessage, func(env Envelope) {
		handler(env.From, env.Payload)
	})
}

func (c *Client) OnTyping(handler func(from string, typing bool)) {
	c.subscribe(EventTyping, func(env Envelope) {
		var payload struct {
			IsTyping bool `json:"isTyping"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.logger.Debugw("Malformed typing payload, dropping", "error", err)
			return
		}
		handler(env.From, payload.IsTyping)
	})
}

// OnDisconnect registers a handler for transport loss of the relay
// connection itself. Must be set before the connection can drop.
func (c *Client) OnDisconnect(handler func(error)) {
	c.onDisconnect = handler
}

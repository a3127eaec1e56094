// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_signaling

import "encoding/json"

// EventType identifies a realtime envelope on the relay connection.
type EventType string

const (
	// Call lifecycle coordination.
	EventCallRequest   EventType = "call_request"
	EventCallAccept    EventType = "call_accept"
	EventCallDecline   EventType = "call_decline"
	EventCallEnd       EventType = "call_end"
	EventSpeakerChange EventType = "speaker_change"

	// Media negotiation, relayed opaquely between the two peers.
	EventMediaOffer  EventType = "media_offer"
	EventMediaAnswer EventType = "media_answer"
	EventMediaICE    EventType = "media_ice"

	// Chat passthrough. The relay routes these like any other envelope; the
	// call coordinator never consumes them.
	EventChatMessage EventType = "send_message"
	EventTyping      EventType = "typing"
)

// Envelope is the single wire format for every relay message. From is stamped
// by the relay from the authenticated connection; clients cannot spoof it.
type Envelope struct {
	Type      EventType       `json:"type"`
	CallID    string          `json:"callId,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	SpeakerID string          `json:"speakerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

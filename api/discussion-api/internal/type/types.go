// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_type

import (
	"context"
	"encoding/json"
	"time"
)

// Signaler delivers call-lifecycle control messages to the counterpart via
// the realtime relay. Delivery is at-most-once and best-effort: no
// acknowledgement is assumed, sends are never retried here.
type Signaler interface {
	SendCallRequest(ctx context.Context, to, callID, topic string) error
	SendAccept(ctx context.Context, to, callID string) error
	SendDecline(ctx context.Context, to, callID string) error
	SendEnd(ctx context.Context, to, callID string) error
	SendSpeakerChange(ctx context.Context, to, callID, speakerID string) error
}

// MediaSession wraps the peer-to-peer audio transport. The coordinator never
// inspects media content; it only gates transmit permission via Mute/Unmute.
type MediaSession interface {
	// Negotiate begins offer/answer/ICE exchange with the counterpart.
	// A permission failure (microphone access denied) surfaces here and is
	// fatal to the call.
	Negotiate(ctx context.Context, counterpart string) error
	// OnConnected and OnTransportLost register lifecycle hooks. Each fires at
	// most once; both must be set before Negotiate.
	OnConnected(fn func())
	OnTransportLost(fn func())
	// Relayed negotiation payloads from the counterpart.
	HandleRemoteOffer(ctx context.Context, payload json.RawMessage) error
	HandleRemoteAnswer(ctx context.Context, payload json.RawMessage) error
	HandleRemoteICE(ctx context.Context, payload json.RawMessage) error
	Mute()
	Unmute()
	// Teardown releases the transport. Idempotent.
	Teardown() error
}

// AudioSink consumes raw PCM frames. Pushes outside an armed recording
// window are dropped.
type AudioSink interface {
	Record(pcm []byte) error
}

// Recorder captures the local speaker's audio for one turn. Implementations
// also act as an AudioSink so the media layer can feed them continuously.
type Recorder interface {
	AudioSink
	Start() error
	// Stop finishes the recording and returns a handle to the captured audio.
	Stop() (*AudioHandle, error)
}

// Assessor is the opaque scoring oracle for a completed turn. Latency is
// unbounded; callers must not block turn switching on it.
type Assessor interface {
	Assess(ctx context.Context, handle *AudioHandle) (*TurnAssessment, error)
}

// AudioHandle references one completed turn recording.
type AudioHandle struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// TurnAssessment is the scored evaluation of a completed turn's recording.
// The coordinator stores the latest value for the end-of-call summary and
// never validates it beyond that.
type TurnAssessment struct {
	FluencyScore        int      `json:"fluencyScore"`
	ClarityScore        int      `json:"clarityScore"`
	VocabularyScore     int      `json:"vocabularyScore"`
	GrammarScore        int      `json:"grammarScore"`
	OverallScore        int      `json:"overallScore"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areasForImprovement"`
	Feedback            string   `json:"feedback"`
	Suggestions         []string `json:"suggestions"`
}

// NeutralAssessment is the placeholder substituted when assessment fails.
// Non-fatal by design: the discussion carries on without a score.
func NeutralAssessment() *TurnAssessment {
	return &TurnAssessment{
		FluencyScore:        6,
		ClarityScore:        6,
		VocabularyScore:     6,
		GrammarScore:        6,
		OverallScore:        6,
		Strengths:           []string{"Participated in the discussion"},
		AreasForImprovement: []string{"Keep practicing"},
		Feedback:            "Technical issues prevented full assessment. Keep practicing your speaking skills!",
		Suggestions:         []string{"Practice speaking English daily", "Record yourself speaking"},
	}
}

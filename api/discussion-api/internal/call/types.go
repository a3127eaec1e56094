// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_call

import (
	"errors"
	"time"

	internal_type "github.com/vocalab/api/discussion-api/internal/type"
)

// State is the call lifecycle phase as seen by one participant.
type State string

const (
	// StateIdle: no call in progress.
	StateIdle State = "idle"
	// StateWaiting: an outgoing request is pending the counterpart's answer,
	// or an incoming request is pending ours.
	StateWaiting State = "waiting"
	// StateConnecting: both sides agreed; media negotiation in flight.
	StateConnecting State = "connecting"
	// StateActive: transport is up, exactly one side holds the turn.
	StateActive State = "active"
	// StateEnded: the call finished; a summary is available until the next
	// call starts.
	StateEnded State = "ended"
)

// DefaultTurnBudget is how long one speaker holds the floor before the turn
// rotates automatically. Every switch re-arms the full budget.
const DefaultTurnBudget = 120 * time.Second

var (
	// ErrBusy is returned when starting a call while one is already underway.
	ErrBusy = errors.New("a call is already in progress")
	// ErrInvalidState is returned when an operation does not apply to the
	// current call phase.
	ErrInvalidState = errors.New("operation not valid in current call state")
	// ErrNotSpeaker is returned when yielding a turn the caller does not hold.
	ErrNotSpeaker = errors.New("not the current speaker")
	// ErrClosed is returned after the coordinator has shut down.
	ErrClosed = errors.New("coordinator closed")
)

// Session is a point-in-time snapshot of the coordinator's call state.
type Session struct {
	State          State
	CallID         string
	Topic          string
	Self           string
	Counterpart    string
	Initiator      string
	CurrentSpeaker string
	// TurnRemaining is the time left on the current turn; zero unless Active.
	TurnRemaining time.Duration
	Turns         int
}

// IsSpeaking reports whether the local participant currently holds the turn.
func (s Session) IsSpeaking() bool {
	return s.State == StateActive && s.CurrentSpeaker == s.Self
}

// Summary wraps up a finished call for display and history.
type Summary struct {
	CallID      string
	Topic       string
	Counterpart string
	Duration    time.Duration
	Turns       int
	Assessments []*internal_type.TurnAssessment
}

// AverageScore is the mean overall score across the call's assessed turns,
// zero when nothing was assessed.
func (s Summary) AverageScore() float64 {
	if len(s.Assessments) == 0 {
		return 0
	}
	total := 0
	for _, a := range s.Assessments {
		total += a.OverallScore
	}
	return float64(total) / float64(len(s.Assessments))
}

// EndReason says why a call finished.
type EndReason string

const (
	EndReasonLocal     EndReason = "local_hangup"
	EndReasonRemote    EndReason = "remote_hangup"
	EndReasonTransport EndReason = "transport_lost"
	EndReasonMedia     EndReason = "media_failure"
)

// MediaFactory builds a fresh media session for one call. The initiator flag
// decides which side sends the SDP offer. A factory error (for example the
// microphone cannot be acquired) is fatal to the call.
type MediaFactory func(callID, counterpart string, initiator bool) (internal_type.MediaSession, error)

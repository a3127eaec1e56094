// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_type "github.com/vocalab/api/discussion-api/internal/type"
	"github.com/vocalab/pkg/commons"
)

const (
	eventQueueSize  = 64
	notifyQueueSize = 64

	// assessmentTimeout bounds one scoring round trip. A turn that cannot be
	// scored in time falls back to the neutral placeholder.
	assessmentTimeout = 60 * time.Second
)

// Coordinator drives one participant's side of a turn-based discussion call.
//
// All state lives on a single event loop goroutine: public methods enqueue a
// closure and wait for its reply, transport callbacks enqueue without
// waiting. Nothing here needs a mutex around call state — the loop is the
// only writer.
//
// Registered callbacks run on a separate notification goroutine in enqueue
// order; they may call back into the coordinator freely.
type Coordinator struct {
	logger   commons.Logger
	self     string
	signaler internal_type.Signaler
	media    MediaFactory
	recorder internal_type.Recorder
	assessor internal_type.Assessor

	turnBudget time.Duration
	clock      func() time.Time
	startTimer func(d time.Duration, fn func()) (stop func())

	events        chan func()
	notifications chan func()
	done          chan struct{}
	closeOnce     sync.Once

	// Everything below is owned by the event loop goroutine.
	state       State
	callID      string
	topic       string
	counterpart string
	initiator   string
	speaker     string
	session     internal_type.MediaSession
	negotiated  bool
	tornDown    bool
	startedAt   time.Time
	turns       int
	turnSeq     int
	turnStop    func()
	turnEnd     time.Time
	recording   bool
	assessments []*internal_type.TurnAssessment

	// generation invalidates async events (timers, assessments, transport
	// callbacks) that outlive the call they belong to.
	generation int

	onStateChange func(Session)
	onIncoming    func(callID, topic, from string)
	onSummary     func(Summary)
	onAssessment  func(*internal_type.TurnAssessment)
}

// Option tweaks coordinator behavior.
type Option func(*Coordinator)

// WithTurnBudget overrides the per-turn time budget.
func WithTurnBudget(d time.Duration) Option {
	return func(c *Coordinator) { c.turnBudget = d }
}

// WithClock injects the time source. Tests use a fake.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithTimerFactory injects the turn timer. Tests fire expiry by hand.
func WithTimerFactory(factory func(d time.Duration, fn func()) func()) Option {
	return func(c *Coordinator) { c.startTimer = factory }
}

// NewCoordinator builds and starts a coordinator for the given identity. The
// event loop runs until Close.
func NewCoordinator(
	logger commons.Logger,
	self string,
	signaler internal_type.Signaler,
	media MediaFactory,
	recorder internal_type.Recorder,
	assessor internal_type.Assessor,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		logger:     logger,
		self:       self,
		signaler:   signaler,
		media:      media,
		recorder:   recorder,
		assessor:   assessor,
		turnBudget: DefaultTurnBudget,
		clock:      time.Now,
		startTimer: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		events:        make(chan func(), eventQueueSize),
		notifications: make(chan func(), notifyQueueSize),
		done:          make(chan struct{}),
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	go c.runNotifier()
	return c
}

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			close(c.notifications)
			return
		}
	}
}

func (c *Coordinator) runNotifier() {
	for fn := range c.notifications {
		fn()
	}
}

// call runs fn on the event loop and waits for its result.
func (c *Coordinator) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.events <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// enqueue schedules fn on the event loop without waiting. Used by transport
// callbacks and timers.
func (c *Coordinator) enqueue(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// notify hands a callback invocation to the notifier goroutine. Must only be
// called from the event loop.
func (c *Coordinator) notify(fn func()) {
	select {
	case c.notifications <- fn:
	default:
		c.logger.Warnw("Notification queue full, dropping callback")
	}
}

func (c *Coordinator) emitState() {
	if c.onStateChange == nil {
		return
	}
	snapshot := c.snapshotLocked()
	c.notify(func() { c.onStateChange(snapshot) })
}

// Close ends any call in progress and stops the event loop.
func (c *Coordinator) Close() error {
	err := c.call(func() error {
		switch c.state {
		case StateWaiting, StateConnecting, StateActive:
			c.finishCall(EndReasonLocal, true)
		}
		return nil
	})
	c.closeOnce.Do(func() { close(c.done) })
	return err
}

// ============================================================================
// Callback registration (set before the first call starts)
// ============================================================================

// OnStateChange fires after every state or speaker transition.
func (c *Coordinator) OnStateChange(fn func(Session)) { c.onStateChange = fn }

// OnIncomingCall fires when a counterpart's call request arrives while idle.
func (c *Coordinator) OnIncomingCall(fn func(callID, topic, from string)) { c.onIncoming = fn }

// OnSummary fires once when a call reaches Ended.
func (c *Coordinator) OnSummary(fn func(Summary)) { c.onSummary = fn }

// OnAssessment fires when a completed turn's score arrives.
func (c *Coordinator) OnAssessment(fn func(*internal_type.TurnAssessment)) { c.onAssessment = fn }

// ============================================================================
// Local operations
// ============================================================================

// Initiate starts an outgoing call about topic. On delivery failure the
// coordinator reverts to Idle and Initiate may be retried.
func (c *Coordinator) Initiate(ctx context.Context, counterpart, topic string) (string, error) {
	var callID string
	err := c.call(func() error {
		if c.state != StateIdle && c.state != StateEnded {
			return ErrBusy
		}
		c.resetCall()
		callID = uuid.NewString()
		c.callID = callID
		c.topic = topic
		c.counterpart = counterpart
		c.initiator = c.self
		c.state = StateWaiting

		if err := c.signaler.SendCallRequest(ctx, counterpart, callID, topic); err != nil {
			c.resetCall()
			return fmt.Errorf("call request delivery failed: %w", err)
		}
		c.emitState()
		return nil
	})
	if err != nil {
		return "", err
	}
	return callID, nil
}

// Accept answers the pending incoming request. On delivery failure the
// request stays pending and Accept may be retried.
func (c *Coordinator) Accept(ctx context.Context) error {
	return c.call(func() error {
		if c.state != StateWaiting || c.initiator == c.self {
			return ErrInvalidState
		}
		if err := c.signaler.SendAccept(ctx, c.counterpart, c.callID); err != nil {
			return fmt.Errorf("accept delivery failed: %w", err)
		}
		c.beginConnecting(ctx, false)
		return nil
	})
}

// Decline rejects the pending incoming request. Delivery is best-effort; the
// local side returns to Idle either way.
func (c *Coordinator) Decline(ctx context.Context) error {
	return c.call(func() error {
		if c.state != StateWaiting || c.initiator == c.self {
			return ErrInvalidState
		}
		if err := c.signaler.SendDecline(ctx, c.counterpart, c.callID); err != nil {
			c.logger.Warnw("Decline delivery failed", "call", c.callID, "error", err)
		}
		c.endDeclined()
		return nil
	})
}

// endDeclined finishes a call that never connected. No media to tear down, no
// summary worth reporting.
func (c *Coordinator) endDeclined() {
	c.generation++
	c.state = StateEnded
	c.speaker = ""
	c.emitState()
}

// Yield passes the turn to the counterpart. Only the current speaker may
// yield; yielding re-arms the counterpart's full turn budget.
func (c *Coordinator) Yield() error {
	return c.call(func() error {
		if c.state != StateActive {
			return ErrInvalidState
		}
		if c.speaker != c.self {
			return ErrNotSpeaker
		}
		return c.switchSpeaker(c.counterpart, true)
	})
}

// EndCall hangs up from any non-terminal phase.
func (c *Coordinator) EndCall() error {
	return c.call(func() error {
		switch c.state {
		case StateWaiting, StateConnecting, StateActive:
			c.finishCall(EndReasonLocal, true)
			return nil
		default:
			return ErrInvalidState
		}
	})
}

// Snapshot returns the current call state.
func (c *Coordinator) Snapshot() Session {
	var snapshot Session
	c.call(func() error {
		snapshot = c.snapshotLocked()
		return nil
	})
	return snapshot
}

func (c *Coordinator) snapshotLocked() Session {
	s := Session{
		State:          c.state,
		CallID:         c.callID,
		Topic:          c.topic,
		Self:           c.self,
		Counterpart:    c.counterpart,
		Initiator:      c.initiator,
		CurrentSpeaker: c.speaker,
		Turns:          c.turns,
	}
	if c.state == StateActive {
		if remaining := c.turnEnd.Sub(c.clock()); remaining > 0 {
			s.TurnRemaining = remaining
		}
	}
	return s
}

// ============================================================================
// Remote events (wired to the signaling client)
// ============================================================================

// OnIncomingRequest handles a counterpart's call request. Requests arriving
// mid-call are declined automatically.
func (c *Coordinator) OnIncomingRequest(callID, topic, from string) {
	c.enqueue(func() {
		if c.state != StateIdle && c.state != StateEnded {
			c.logger.Infow("Busy, auto-declining incoming call", "call", callID, "from", from)
			go c.sendBestEffort("decline", func(ctx context.Context) error {
				return c.signaler.SendDecline(ctx, from, callID)
			})
			return
		}
		c.resetCall()
		c.callID = callID
		c.topic = topic
		c.counterpart = from
		c.initiator = from
		c.state = StateWaiting
		c.emitState()
		if c.onIncoming != nil {
			c.notify(func() { c.onIncoming(callID, topic, from) })
		}
	})
}

// OnRemoteAccept moves the initiating side into media negotiation.
func (c *Coordinator) OnRemoteAccept(callID, from string) {
	c.enqueue(func() {
		if c.state != StateWaiting || c.initiator != c.self || callID != c.callID {
			c.logger.Debugw("Ignoring stray accept", "call", callID, "from", from)
			return
		}
		c.beginConnecting(context.Background(), true)
	})
}

// OnRemoteDecline returns the initiating side to Idle.
func (c *Coordinator) OnRemoteDecline(callID, from string) {
	c.enqueue(func() {
		if c.state != StateWaiting || c.initiator != c.self || callID != c.callID {
			c.logger.Debugw("Ignoring stray decline", "call", callID, "from", from)
			return
		}
		c.logger.Infow("Call declined", "call", callID, "by", from)
		c.endDeclined()
	})
}

// OnRemoteEnd tears the call down after the counterpart hung up.
func (c *Coordinator) OnRemoteEnd(callID, from string) {
	c.enqueue(func() {
		if callID != c.callID {
			c.logger.Debugw("Ignoring end for unknown call", "call", callID)
			return
		}
		switch c.state {
		case StateWaiting, StateConnecting, StateActive:
			c.finishCall(EndReasonRemote, false)
		}
	})
}

// OnRemoteSpeakerChange mirrors a turn switch announced by the counterpart.
// Last write wins: whatever target arrives is applied, and applying the
// current speaker again is a no-op, so both sides converge even when
// switches cross on the wire.
func (c *Coordinator) OnRemoteSpeakerChange(callID, speakerID string) {
	c.enqueue(func() {
		if callID != c.callID || c.state != StateActive {
			c.logger.Debugw("Ignoring stray speaker change", "call", callID, "speaker", speakerID)
			return
		}
		if err := c.switchSpeaker(speakerID, false); err != nil {
			c.logger.Warnw("Rejected remote speaker change", "speaker", speakerID, "error", err)
		}
	})
}

// HandleMediaOffer routes a relayed SDP offer into the call's media session.
func (c *Coordinator) HandleMediaOffer(callID string, payload json.RawMessage) {
	c.enqueue(func() {
		if c.session == nil || callID != c.callID {
			c.logger.Debugw("Dropping media offer without session", "call", callID)
			return
		}
		if err := c.session.HandleRemoteOffer(context.Background(), payload); err != nil {
			c.logger.Errorw("Media offer handling failed", "call", callID, "error", err)
			c.finishCall(EndReasonMedia, true)
		}
	})
}

// HandleMediaAnswer routes a relayed SDP answer into the call's media session.
func (c *Coordinator) HandleMediaAnswer(callID string, payload json.RawMessage) {
	c.enqueue(func() {
		if c.session == nil || callID != c.callID {
			c.logger.Debugw("Dropping media answer without session", "call", callID)
			return
		}
		if err := c.session.HandleRemoteAnswer(context.Background(), payload); err != nil {
			c.logger.Errorw("Media answer handling failed", "call", callID, "error", err)
			c.finishCall(EndReasonMedia, true)
		}
	})
}

// HandleMediaICE routes a relayed ICE candidate into the call's media session.
func (c *Coordinator) HandleMediaICE(callID string, payload json.RawMessage) {
	c.enqueue(func() {
		if c.session == nil || callID != c.callID {
			return
		}
		if err := c.session.HandleRemoteICE(context.Background(), payload); err != nil {
			// Individual candidates may fail without dooming the connection.
			c.logger.Debugw("ICE candidate rejected", "call", callID, "error", err)
		}
	})
}

// ============================================================================
// State machine internals (event loop only)
// ============================================================================

func (c *Coordinator) beginConnecting(ctx context.Context, asInitiator bool) {
	c.state = StateConnecting
	c.emitState()

	session, err := c.media(c.callID, c.counterpart, asInitiator)
	if err != nil {
		c.logger.Errorw("Media session unavailable", "call", c.callID, "error", err)
		c.finishCall(EndReasonMedia, true)
		return
	}
	c.session = session

	gen := c.generation
	session.OnConnected(func() {
		c.enqueue(func() { c.handleTransportConnected(gen) })
	})
	session.OnTransportLost(func() {
		c.enqueue(func() { c.handleTransportLost(gen) })
	})

	c.negotiated = true
	if err := session.Negotiate(ctx, c.counterpart); err != nil {
		c.logger.Errorw("Media negotiation failed", "call", c.callID, "error", err)
		c.finishCall(EndReasonMedia, true)
	}
}

func (c *Coordinator) handleTransportConnected(gen int) {
	if gen != c.generation || c.state != StateConnecting {
		return
	}
	c.logger.Infow("Call active", "call", c.callID, "with", c.counterpart)
	c.state = StateActive
	c.startedAt = c.clock()
	c.speaker = c.initiator
	c.turns = 1
	c.armTurn()
	c.emitState()
}

func (c *Coordinator) handleTransportLost(gen int) {
	if gen != c.generation {
		return
	}
	switch c.state {
	case StateConnecting, StateActive:
		c.logger.Warnw("Transport lost, ending call", "call", c.callID)
		// The counterpart's own transport callback fires on its side; no
		// call_end is sent for a dead link.
		c.finishCall(EndReasonTransport, false)
	}
}

// armTurn re-arms the full turn budget for the current speaker and points the
// microphone the right way.
func (c *Coordinator) armTurn() {
	if c.turnStop != nil {
		c.turnStop()
	}
	c.turnSeq++
	seq := c.turnSeq
	c.turnEnd = c.clock().Add(c.turnBudget)
	c.turnStop = c.startTimer(c.turnBudget, func() {
		c.enqueue(func() { c.handleTurnExpiry(seq) })
	})

	if c.speaker == c.self {
		c.session.Unmute()
		if err := c.recorder.Start(); err != nil {
			c.logger.Warnw("Turn recording unavailable", "call", c.callID, "error", err)
		} else {
			c.recording = true
		}
	} else {
		c.session.Mute()
	}
}

func (c *Coordinator) handleTurnExpiry(seq int) {
	if seq != c.turnSeq || c.state != StateActive {
		return
	}
	c.logger.Infow("Turn budget elapsed, rotating speaker", "call", c.callID)

	// Both sides run the countdown and rotate locally on expiry, so a lost
	// speaker_change envelope cannot strand the floor. Only the outgoing
	// speaker announces the switch; the listener's rotation stays silent and
	// the announcement, when it arrives, is absorbed as a duplicate.
	target, broadcast := c.counterpart, true
	if c.speaker != c.self {
		target, broadcast = c.self, false
	}
	if err := c.switchSpeaker(target, broadcast); err != nil {
		c.logger.Warnw("Automatic turn rotation failed", "error", err)
	}
}

// switchSpeaker moves the floor to target. Switching to the current speaker
// is a no-op and produces no broadcast, which makes duplicate and mirrored
// switch events harmless.
func (c *Coordinator) switchSpeaker(target string, broadcast bool) error {
	if c.state != StateActive {
		return ErrInvalidState
	}
	if target != c.self && target != c.counterpart {
		return fmt.Errorf("unknown speaker target %q", target)
	}
	if target == c.speaker {
		return nil
	}

	c.finishTurn()
	c.speaker = target
	c.turns++
	c.armTurn()

	if broadcast {
		callID, to := c.callID, c.counterpart
		go c.sendBestEffort("speaker change", func(ctx context.Context) error {
			return c.signaler.SendSpeakerChange(ctx, to, callID, target)
		})
	}
	c.emitState()
	return nil
}

// finishTurn closes out the local speaker's recording and submits it for
// scoring. Listening turns have nothing to finish.
func (c *Coordinator) finishTurn() {
	if c.speaker != c.self || !c.recording {
		return
	}
	c.recording = false
	handle, err := c.recorder.Stop()
	if err != nil {
		c.logger.Warnw("Failed to close turn recording", "call", c.callID, "error", err)
		return
	}
	c.submitAssessment(handle)
}

// submitAssessment scores a finished turn off-loop. Results that arrive
// after the call ended are discarded.
func (c *Coordinator) submitAssessment(handle *internal_type.AudioHandle) {
	gen := c.generation
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), assessmentTimeout)
		defer cancel()

		result, err := c.assessor.Assess(ctx, handle)
		if err != nil {
			c.logger.Warnw("Turn assessment failed, substituting neutral placeholder", "error", err)
			result = internal_type.NeutralAssessment()
		}

		c.enqueue(func() {
			if gen != c.generation || c.state != StateActive {
				c.logger.Debugw("Discarding assessment for finished call")
				return
			}
			c.assessments = append(c.assessments, result)
			if c.onAssessment != nil {
				r := result
				c.notify(func() { c.onAssessment(r) })
			}
		})
	}()
}

// finishCall tears everything down and transitions to Ended. Safe against
// racing end paths: the generation bump invalidates stragglers and media
// teardown runs at most once.
func (c *Coordinator) finishCall(reason EndReason, sendEnd bool) {
	if c.turnStop != nil {
		c.turnStop()
		c.turnStop = nil
	}
	if c.recording {
		// The interrupted turn is not scored.
		c.recording = false
		if _, err := c.recorder.Stop(); err != nil {
			c.logger.Debugw("Failed to close interrupted recording", "error", err)
		}
	}

	if sendEnd && c.counterpart != "" {
		callID, to := c.callID, c.counterpart
		go c.sendBestEffort("call end", func(ctx context.Context) error {
			return c.signaler.SendEnd(ctx, to, callID)
		})
	}

	if c.session != nil && c.negotiated && !c.tornDown {
		c.tornDown = true
		if err := c.session.Teardown(); err != nil {
			c.logger.Warnw("Media teardown failed", "call", c.callID, "error", err)
		}
	}
	c.session = nil
	c.generation++

	summary := Summary{
		CallID:      c.callID,
		Topic:       c.topic,
		Counterpart: c.counterpart,
		Turns:       c.turns,
		Assessments: c.assessments,
	}
	if !c.startedAt.IsZero() {
		summary.Duration = c.clock().Sub(c.startedAt)
	}

	c.logger.Infow("Call ended",
		"call", c.callID, "reason", reason,
		"turns", summary.Turns, "duration", summary.Duration)

	c.state = StateEnded
	c.speaker = ""
	c.emitState()
	if c.onSummary != nil {
		c.notify(func() { c.onSummary(summary) })
	}
}

// resetCall clears per-call state back to a blank Idle slate.
func (c *Coordinator) resetCall() {
	c.generation++
	c.state = StateIdle
	c.callID = ""
	c.topic = ""
	c.counterpart = ""
	c.initiator = ""
	c.speaker = ""
	c.session = nil
	c.negotiated = false
	c.tornDown = false
	c.startedAt = time.Time{}
	c.turns = 0
	c.turnEnd = time.Time{}
	c.recording = false
	c.assessments = nil
	if c.turnStop != nil {
		c.turnStop()
		c.turnStop = nil
	}
}

// sendBestEffort runs a fire-and-forget signaling send with its own deadline.
func (c *Coordinator) sendBestEffort(what string, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := send(ctx); err != nil {
		c.logger.Warnw("Best-effort signaling send failed", "what", what, "error", err)
	}
}

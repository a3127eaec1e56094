// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	internal_type "github.com/vocalab/api/discussion-api/internal/type"
	"github.com/vocalab/pkg/commons"
)

const (
	OpusSampleRate = 48000
	OpusChannels   = 2

	RTPBufferSize        = 1500
	MaxConsecutiveErrors = 10
)

// Role distinguishes the offering side from the answering side of the
// handshake. The call initiator always offers.
type Role int

const (
	RoleInitiator Role = iota
	RoleRecipient
)

// SignalSender relays opaque negotiation payloads (SDP/ICE) to the
// counterpart. Implemented by the signaling relay client.
type SignalSender interface {
	SendMediaOffer(ctx context.Context, to, callID string, payload json.RawMessage) error
	SendMediaAnswer(ctx context.Context, to, callID string, payload json.RawMessage) error
	SendMediaICE(ctx context.Context, to, callID string, payload json.RawMessage) error
}

// AudioSource supplies encoded local audio frames ready for the outbound
// track. Acquiring the source (microphone) happens before the session is
// built; a permission failure surfaces as a Negotiate error.
type AudioSource interface {
	NextFrame(ctx context.Context) (media.Sample, error)
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Session is a two-party audio transport over pion WebRTC. Signaling
// payloads travel through the SignalSender; audio flows on the peer
// connection's tracks. Transmit permission is gated by Mute/Unmute — frames
// from the source are simply not written while muted.
type Session struct {
	mu sync.Mutex

	logger commons.Logger
	sender SignalSender

	callID      string
	counterpart string
	role        Role
	source      AudioSource

	// remoteSink receives the counterpart's raw RTP payloads, e.g. for level
	// metering. Optional.
	remoteSink internal_type.AudioSink

	// localSink tees outbound frames, typically into the turn recorder. Only
	// frames that actually go out (unmuted) are teed. Optional.
	localSink internal_type.AudioSink

	pc         *pionwebrtc.PeerConnection
	localTrack *pionwebrtc.TrackLocalStaticSample

	muted atomic.Bool

	onConnected     func()
	onTransportLost func()
	connectedOnce   sync.Once
	lostOnce        sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	negotiated bool
	closed     bool
}

// NewSession builds a media session for one call. The session owns its own
// context so teardown is never short-circuited by the caller's context.
func NewSession(logger commons.Logger, sender SignalSender, callID, counterpart string, role Role, source AudioSource) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		logger:      logger,
		sender:      sender,
		callID:      callID,
		counterpart: counterpart,
		role:        role,
		source:      source,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.muted.Store(true) // nobody transmits before the first turn is assigned
	return s
}

// OnConnected registers the transport-connected callback. Fires at most once.
func (s *Session) OnConnected(fn func()) { s.onConnected = fn }

// OnTransportLost registers the transport-loss callback. Fires at most once,
// and never after Teardown.
func (s *Session) OnTransportLost(fn func()) { s.onTransportLost = fn }

// SetRemoteSink attaches a consumer for inbound RTP payloads.
func (s *Session) SetRemoteSink(sink internal_type.AudioSink) { s.remoteSink = sink }

// SetLocalSink attaches a consumer for outbound frames.
func (s *Session) SetLocalSink(sink internal_type.AudioSink) { s.localSink = sink }

// Negotiate creates the peer connection and, on the initiating side, sends
// the SDP offer. The answering side creates its peer connection here and
// completes the handshake when the remote offer arrives.
func (s *Session) Negotiate(ctx context.Context, counterpart string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("media session already torn down")
	}
	if s.negotiated {
		s.mu.Unlock()
		return fmt.Errorf("negotiation already started")
	}
	s.negotiated = true
	if counterpart != "" {
		s.counterpart = counterpart
	}
	s.mu.Unlock()

	if s.source == nil {
		// The microphone could not be acquired; fatal to starting the call.
		return fmt.Errorf("no local audio source: microphone unavailable")
	}

	if err := s.createPeerConnection(); err != nil {
		return err
	}

	if s.role == RoleInitiator {
		return s.sendOffer(ctx)
	}
	return nil
}

func (s *Session) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: OpusSampleRate,
			Channels:  OpusChannels,
		},
		PayloadType: 111,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("failed to register Opus codec: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{
		ICEServers: []pionwebrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: OpusSampleRate,
			Channels:  OpusChannels,
		},
		"audio",
		"vocalab-audio",
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to create local audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return fmt.Errorf("failed to add track: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.localTrack = track
	s.mu.Unlock()

	s.setupPeerEventHandlers(pc)
	return nil
}

func (s *Session) setupPeerEventHandlers(pc *pionwebrtc.PeerConnection) {
	pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.logger.Errorw("Failed to marshal ICE candidate", "error", err)
			return
		}
		if err := s.sender.SendMediaICE(s.ctx, s.counterpart, s.callID, payload); err != nil {
			s.logger.Warnw("Failed to relay ICE candidate", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		s.logger.Infow("Peer connection state changed", "state", state, "call", s.callID)
		switch state {
		case pionwebrtc.PeerConnectionStateConnected:
			s.connectedOnce.Do(func() {
				s.startLocalPump()
				if s.onConnected != nil {
					s.onConnected()
				}
			})
		case pionwebrtc.PeerConnectionStateFailed,
			pionwebrtc.PeerConnectionStateDisconnected,
			pionwebrtc.PeerConnectionStateClosed:
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.lostOnce.Do(func() {
				if s.onTransportLost != nil {
					s.onTransportLost()
				}
			})
		}
	})

	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		s.logger.Infow("Remote audio track received", "codec", track.Codec().MimeType)
		s.wg.Add(1)
		go s.readRemoteAudio(track)
	})
}

// startLocalPump forwards frames from the audio source to the local track,
// skipping frames while muted so the counterpart hears silence off-turn.
func (s *Session) startLocalPump() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			sample, err := s.source.NextFrame(s.ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
					s.logger.Warnw("Audio source stopped", "error", err)
				}
				return
			}
			if s.muted.Load() {
				continue
			}
			s.mu.Lock()
			track := s.localTrack
			s.mu.Unlock()
			if track == nil {
				return
			}
			if err := track.WriteSample(sample); err != nil {
				s.logger.Debugw("Failed to write sample to track", "error", err)
			}
			if s.localSink != nil {
				if err := s.localSink.Record(sample.Data); err != nil {
					s.logger.Debugw("Local sink rejected frame", "error", err)
				}
			}
		}
	}()
}

// readRemoteAudio drains the remote track, unmarshalling RTP and forwarding
// payloads to the remote sink when one is attached.
func (s *Session) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	defer s.wg.Done()

	buf := make([]byte, RTPBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= MaxConsecutiveErrors {
				s.logger.Errorw("Too many consecutive read errors, stopping remote reader", "lastError", err)
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debugw("Failed to unmarshal RTP packet", "error", err)
			continue
		}
		if len(pkt.Payload) == 0 || s.remoteSink == nil {
			continue
		}
		if err := s.remoteSink.Record(pkt.Payload); err != nil {
			s.logger.Debugw("Remote sink rejected payload", "error", err)
		}
	}
}

// ============================================================================
// Handshake
// ============================================================================

func (s *Session) sendOffer(ctx context.Context) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	payload, err := json.Marshal(sdpPayload{Type: offer.Type.String(), SDP: offer.SDP})
	if err != nil {
		return fmt.Errorf("failed to marshal offer: %w", err)
	}
	if err := s.sender.SendMediaOffer(ctx, s.counterpart, s.callID, payload); err != nil {
		return fmt.Errorf("failed to relay offer: %w", err)
	}
	return nil
}

// HandleRemoteOffer applies the counterpart's offer and answers it.
func (s *Session) HandleRemoteOffer(ctx context.Context, payload json.RawMessage) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("received offer before negotiation started")
	}

	var sdp sdpPayload
	if err := json.Unmarshal(payload, &sdp); err != nil {
		return fmt.Errorf("failed to decode offer: %w", err)
	}

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeOffer,
		SDP:  sdp.SDP,
	}); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	answerPayload, err := json.Marshal(sdpPayload{Type: answer.Type.String(), SDP: answer.SDP})
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	if err := s.sender.SendMediaAnswer(ctx, s.counterpart, s.callID, answerPayload); err != nil {
		return fmt.Errorf("failed to relay answer: %w", err)
	}
	return nil
}

// HandleRemoteAnswer applies the counterpart's answer on the offering side.
func (s *Session) HandleRemoteAnswer(_ context.Context, payload json.RawMessage) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("received answer before negotiation started")
	}

	var sdp sdpPayload
	if err := json.Unmarshal(payload, &sdp); err != nil {
		return fmt.Errorf("failed to decode answer: %w", err)
	}
	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

// HandleRemoteICE adds a relayed ICE candidate.
func (s *Session) HandleRemoteICE(_ context.Context, payload json.RawMessage) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("received ICE candidate before negotiation started")
	}

	var candidate pionwebrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("failed to decode ICE candidate: %w", err)
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// ============================================================================
// Transmit gating & lifecycle
// ============================================================================

// Mute stops local frames from reaching the track.
func (s *Session) Mute() { s.muted.Store(true) }

// Unmute lets local frames through again.
func (s *Session) Unmute() { s.muted.Store(false) }

// Muted reports the current transmit gate.
func (s *Session) Muted() bool { return s.muted.Load() }

// Teardown releases the peer connection and stops the pump goroutines.
// Idempotent — safe to call from multiple paths racing on call end.
func (s *Session) Teardown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pc := s.pc
	s.pc = nil
	s.localTrack = nil
	s.mu.Unlock()

	s.cancel()
	var err error
	if pc != nil {
		err = pc.Close()
	}
	s.wg.Wait()
	return err
}

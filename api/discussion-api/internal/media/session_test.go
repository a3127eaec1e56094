// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_media

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalab/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	// Not t.TempDir(): pion delivers the final connection-state callback after
	// Teardown returns, and its log write races t.TempDir's checked RemoveAll.
	dir, err := os.MkdirTemp("", "media-test-logs")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-media"),
		commons.Path(dir),
		commons.Level("debug"),
	)
	require.NoError(t, err)
	return logger
}

// fakeSender captures relayed negotiation payloads instead of sending them.
type fakeSender struct {
	offers  chan json.RawMessage
	answers chan json.RawMessage
	ice     chan json.RawMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		offers:  make(chan json.RawMessage, 4),
		answers: make(chan json.RawMessage, 4),
		ice:     make(chan json.RawMessage, 16),
	}
}

func (f *fakeSender) SendMediaOffer(_ context.Context, _, _ string, payload json.RawMessage) error {
	f.offers <- payload
	return nil
}

func (f *fakeSender) SendMediaAnswer(_ context.Context, _, _ string, payload json.RawMessage) error {
	f.answers <- payload
	return nil
}

func (f *fakeSender) SendMediaICE(_ context.Context, _, _ string, payload json.RawMessage) error {
	f.ice <- payload
	return nil
}

// silentSource blocks until the session context is cancelled.
type silentSource struct{}

func (silentSource) NextFrame(ctx context.Context) (media.Sample, error) {
	<-ctx.Done()
	return media.Sample{}, io.EOF
}

func newTestSession(t *testing.T, sender SignalSender, role Role) *Session {
	t.Helper()
	s := NewSession(newTestLogger(t), sender, "call-1", "bob", role, silentSource{})
	t.Cleanup(func() { s.Teardown() })
	return s
}

func TestNegotiateInitiatorSendsOffer(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, sender, RoleInitiator)

	require.NoError(t, s.Negotiate(context.Background(), "bob"))

	select {
	case payload := <-sender.offers:
		var sdp sdpPayload
		require.NoError(t, json.Unmarshal(payload, &sdp))
		assert.Equal(t, "offer", sdp.Type)
		assert.NotEmpty(t, sdp.SDP)
	case <-time.After(5 * time.Second):
		t.Fatal("no offer relayed")
	}
}

func TestNegotiateRecipientWaitsForOffer(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, sender, RoleRecipient)

	require.NoError(t, s.Negotiate(context.Background(), "alice"))

	select {
	case <-sender.offers:
		t.Fatal("recipient must not offer")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOfferAnswerHandshake(t *testing.T) {
	ctx := context.Background()
	callerSender := newFakeSender()
	calleeSender := newFakeSender()

	caller := newTestSession(t, callerSender, RoleInitiator)
	callee := newTestSession(t, calleeSender, RoleRecipient)

	require.NoError(t, caller.Negotiate(ctx, "bob"))
	require.NoError(t, callee.Negotiate(ctx, "alice"))

	offer := <-callerSender.offers
	require.NoError(t, callee.HandleRemoteOffer(ctx, offer))

	select {
	case answer := <-calleeSender.answers:
		var sdp sdpPayload
		require.NoError(t, json.Unmarshal(answer, &sdp))
		assert.Equal(t, "answer", sdp.Type)
		require.NoError(t, caller.HandleRemoteAnswer(ctx, answer))
	case <-time.After(5 * time.Second):
		t.Fatal("no answer relayed")
	}
}

func TestNegotiateTwiceFails(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, sender, RoleInitiator)

	require.NoError(t, s.Negotiate(context.Background(), "bob"))
	assert.Error(t, s.Negotiate(context.Background(), "bob"))
}

func TestNegotiateWithoutSourceFails(t *testing.T) {
	s := NewSession(newTestLogger(t), newFakeSender(), "call-1", "bob", RoleInitiator, nil)
	t.Cleanup(func() { s.Teardown() })

	assert.Error(t, s.Negotiate(context.Background(), "bob"))
}

func TestHandshakeBeforeNegotiateFails(t *testing.T) {
	s := NewSession(newTestLogger(t), newFakeSender(), "call-1", "bob", RoleRecipient, silentSource{})
	t.Cleanup(func() { s.Teardown() })
	ctx := context.Background()

	assert.Error(t, s.HandleRemoteOffer(ctx, json.RawMessage(`{"type":"offer","sdp":"v=0"}`)))
	assert.Error(t, s.HandleRemoteAnswer(ctx, json.RawMessage(`{"type":"answer","sdp":"v=0"}`)))
	assert.Error(t, s.HandleRemoteICE(ctx, json.RawMessage(`{"candidate":"x"}`)))
}

func TestMuteGateDefaultsToMuted(t *testing.T) {
	s := newTestSession(t, newFakeSender(), RoleInitiator)

	assert.True(t, s.Muted())
	s.Unmute()
	assert.False(t, s.Muted())
	s.Mute()
	assert.True(t, s.Muted())
}

func TestTeardownIsIdempotent(t *testing.T) {
	s := newTestSession(t, newFakeSender(), RoleInitiator)
	require.NoError(t, s.Negotiate(context.Background(), "bob"))

	require.NoError(t, s.Teardown())
	assert.NoError(t, s.Teardown())
}

func TestNegotiateAfterTeardownFails(t *testing.T) {
	s := newTestSession(t, newFakeSender(), RoleInitiator)
	require.NoError(t, s.Teardown())

	assert.Error(t, s.Negotiate(context.Background(), "bob"))
}

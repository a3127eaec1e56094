// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

// Two-party discussion demo. Run one relay and two copies of this binary:
//
//	go run ./api/discussion-api
//	go run ./examples/discussion-demo -identity alice -peer bob -topic "favourite food"
//	go run ./examples/discussion-demo -identity bob
//
// The initiating side (-peer set) calls; the other side auto-accepts. Press
// Enter to yield your turn, Ctrl-C to hang up.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal_assessment "github.com/vocalab/api/discussion-api/internal/assessment"
	internal_call "github.com/vocalab/api/discussion-api/internal/call"
	internal_media "github.com/vocalab/api/discussion-api/internal/media"
	internal_relay "github.com/vocalab/api/discussion-api/internal/relay"
	internal_signaling "github.com/vocalab/api/discussion-api/internal/signaling"
	internal_type "github.com/vocalab/api/discussion-api/internal/type"
	"github.com/vocalab/pkg/commons"
	"github.com/vocalab/pkg/utils"
)

var (
	relayURL  = flag.String("relay", "ws://localhost:9096/v1/realtime/connect", "relay websocket endpoint")
	identity  = flag.String("identity", "alice", "identity to connect as")
	peer      = flag.String("peer", "", "identity to call; empty waits for an incoming call")
	topic     = flag.String("topic", "favourite food", "discussion topic for an outgoing call")
	secret    = flag.String("secret", "demo-secret", "relay secret used to mint the connection token")
	geminiKey = flag.String("gemini-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key; empty disables scoring")
	budget    = flag.Duration("turn-budget", internal_call.DefaultTurnBudget, "per-turn speaking budget")
)

// noScore stands in when no Gemini key is configured; every turn falls back
// to the neutral placeholder.
type noScore struct{}

func (noScore) Assess(context.Context, *internal_type.AudioHandle) (*internal_type.TurnAssessment, error) {
	return nil, fmt.Errorf("assessment disabled")
}

func main() {
	flag.Parse()
	ctx := context.Background()

	logger, err := commons.NewApplicationLogger(
		commons.Name("discussion-demo"),
		commons.Path(os.TempDir()),
		commons.Level("info"),
	)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	token, err := internal_relay.NewAuthenticator(*secret).IssueToken(*identity, time.Hour)
	if err != nil {
		logger.Fatalf("failed to mint token: %v", err)
	}

	client, err := internal_signaling.Dial(ctx, logger, *relayURL, token)
	if err != nil {
		logger.Fatalf("failed to reach relay: %v", err)
	}
	defer client.Close()

	var assessor internal_type.Assessor = noScore{}
	if *geminiKey != "" {
		assessor, err = internal_assessment.NewGeminiAssessor(ctx, logger, *geminiKey, internal_assessment.DefaultAssessmentModel)
		if err != nil {
			logger.Fatalf("failed to build assessor: %v", err)
		}
	}

	recorder := internal_assessment.NewTurnRecorder(logger)
	mediaFactory := func(callID, counterpart string, initiator bool) (internal_type.MediaSession, error) {
		role := internal_media.RoleRecipient
		if initiator {
			role = internal_media.RoleInitiator
		}
		session := internal_media.NewSession(logger, client, callID, counterpart, role, internal_media.NewSilenceSource())
		session.SetLocalSink(recorder)
		return session, nil
	}

	coordinator := internal_call.NewCoordinator(
		logger, *identity, client, mediaFactory,
		recorder, assessor,
		internal_call.WithTurnBudget(*budget),
	)
	defer coordinator.Close()

	// Relay events feed the coordinator; the coordinator routes media
	// negotiation into the call's session.
	client.OnCallRequest(coordinator.OnIncomingRequest)
	client.OnCallAccept(coordinator.OnRemoteAccept)
	client.OnCallDecline(coordinator.OnRemoteDecline)
	client.OnCallEnd(coordinator.OnRemoteEnd)
	client.OnSpeakerChange(coordinator.OnRemoteSpeakerChange)
	client.OnMediaOffer(func(callID, _ string, payload json.RawMessage) { coordinator.HandleMediaOffer(callID, payload) })
	client.OnMediaAnswer(func(callID, _ string, payload json.RawMessage) { coordinator.HandleMediaAnswer(callID, payload) })
	client.OnMediaICE(func(callID, _ string, payload json.RawMessage) { coordinator.HandleMediaICE(callID, payload) })

	coordinator.OnStateChange(func(s internal_call.Session) {
		switch s.State {
		case internal_call.StateActive:
			who := "you"
			if !s.IsSpeaking() {
				who = s.CurrentSpeaker
			}
			fmt.Printf("[%s] speaking: %s (%s left on turn)\n",
				s.State, who, utils.FormatClock(s.TurnRemaining))
		default:
			fmt.Printf("[%s]\n", s.State)
		}
	})
	coordinator.OnIncomingCall(func(callID, topic, from string) {
		fmt.Printf("incoming call from %s about %q, accepting\n", from, topic)
		if err := coordinator.Accept(ctx); err != nil {
			logger.Errorf("accept failed: %v", err)
		}
	})
	coordinator.OnAssessment(func(a *internal_type.TurnAssessment) {
		fmt.Printf("turn scored %d/10: %s\n", a.OverallScore, a.Feedback)
	})
	coordinator.OnSummary(func(s internal_call.Summary) {
		fmt.Printf("call over: %d turns in %s, average score %.1f\n",
			s.Turns, s.Duration.Round(time.Second), s.AverageScore())
	})

	if *peer != "" {
		callID, err := coordinator.Initiate(ctx, *peer, *topic)
		if err != nil {
			logger.Fatalf("failed to start call: %v", err)
		}
		fmt.Printf("calling %s about %q (%s)\n", *peer, *topic, callID)
	} else {
		fmt.Printf("connected as %s, waiting for a call\n", *identity)
	}

	// Enter yields the turn; Ctrl-C hangs up.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := coordinator.Yield(); err != nil {
				fmt.Printf("cannot yield: %v\n", err)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	if err := coordinator.EndCall(); err == nil {
		time.Sleep(500 * time.Millisecond) // let the call_end envelope flush
	}
}

// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_media

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

const FrameDuration = 20 * time.Millisecond

// opusSilence is the canonical Opus DTX silence frame.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// tickerSource emits frames from a generator at the Opus frame cadence. Used
// by the demo binary, where no real capture device is available.
type tickerSource struct {
	ticker *time.Ticker
	next   func() []byte
}

// NewTickerSource paces generator output at one frame per FrameDuration.
func NewTickerSource(generator func() []byte) AudioSource {
	return &tickerSource{
		ticker: time.NewTicker(FrameDuration),
		next:   generator,
	}
}

// NewSilenceSource emits Opus silence frames forever. Lets a headless client
// hold up its end of the transport without a microphone.
func NewSilenceSource() AudioSource {
	return NewTickerSource(func() []byte { return opusSilence })
}

func (s *tickerSource) NextFrame(ctx context.Context) (media.Sample, error) {
	select {
	case <-ctx.Done():
		s.ticker.Stop()
		return media.Sample{}, ctx.Err()
	case <-s.ticker.C:
		return media.Sample{Data: s.next(), Duration: FrameDuration}, nil
	}
}

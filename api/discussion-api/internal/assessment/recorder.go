// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_assessment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	internal_type "github.com/vocalab/api/discussion-api/internal/type"
	"github.com/vocalab/pkg/commons"
)

const (
	AudioSampleRate     = 16000 // LINEAR16 mono
	AudioChannels       = 1
	AudioBytesPerSample = 2
	AudioBitsPerSample  = 16
	AudioPCMFormat      = 1 // WAV PCM format tag

	AudioMIMEType = "audio/wav"
)

// chunk is a recorded audio fragment placed at a specific position on the
// turn timeline. ByteOffset is the byte position relative to Start().
type chunk struct {
	ByteOffset int
	Data       []byte
}

// turnRecorder captures one speaker turn as LINEAR16 PCM and renders it to an
// in-memory WAV on Stop. Audio is placed on a wall-clock timeline relative to
// Start; gaps between pushes become silence.
type turnRecorder struct {
	logger    commons.Logger
	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []chunk
	// cursor is the byte position just past the last written byte, so late
	// pushes never overwrite earlier audio.
	cursor int
	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

// NewTurnRecorder creates a recorder for a single speaker turn.
func NewTurnRecorder(logger commons.Logger) internal_type.Recorder {
	return &turnRecorder{
		logger: logger,
		clock:  time.Now,
	}
}

// Start begins the recording timeline. Calling Start on a running recorder
// resets it — each turn owns a fresh timeline.
func (r *turnRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
	r.chunks = nil
	r.cursor = 0
	return nil
}

func bytesPerSecond() int {
	return AudioSampleRate * AudioChannels * AudioBytesPerSample
}

// durationBytes converts a wall-clock duration to a frame-aligned byte count.
func durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(bytesPerSecond()))
	frameSize := AudioBytesPerSample * AudioChannels
	return (raw / frameSize) * frameSize
}

// Record places audio at the current wall-clock position on the timeline.
// Each chunk is positioned based on WHEN it arrives, not just appended.
func (r *turnRecorder) Record(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		// Frames keep flowing between turns; only armed turns capture them.
		return nil
	}

	offset := durationBytes(r.clock().Sub(r.startTime))
	if r.cursor > offset {
		offset = r.cursor
	}

	// Copy to avoid caller mutations.
	buf := make([]byte, len(data))
	copy(buf, data)

	r.chunks = append(r.chunks, chunk{ByteOffset: offset, Data: buf})
	r.cursor = offset + len(buf)
	return nil
}

// Stop finishes the turn and renders a WAV spanning the full turn duration
// (Start → Stop). Chunks sit at their recorded timeline positions; gaps are
// silence. An empty turn yields a silence-only WAV rather than an error so a
// quiet speaker still gets assessed.
func (r *turnRecorder) Stop() (*internal_type.AudioHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil, fmt.Errorf("recorder not started")
	}
	elapsed := r.clock().Sub(r.startTime)
	r.started = false

	totalLen := durationBytes(elapsed)
	for _, c := range r.chunks {
		if end := c.ByteOffset + len(c.Data); end > totalLen {
			totalLen = end
		}
	}

	pcm := make([]byte, totalLen)
	audioBytes := 0
	for _, c := range r.chunks {
		copy(pcm[c.ByteOffset:], c.Data)
		audioBytes += len(c.Data)
	}

	r.logger.Infow("Turn recording stopped",
		"audioBytes", audioBytes,
		"totalBytes", totalLen,
		"chunks", len(r.chunks),
		"duration", elapsed.Round(time.Millisecond))

	r.chunks = nil
	r.cursor = 0

	return &internal_type.AudioHandle{
		Data:     createWAVFile(pcm),
		MIMEType: AudioMIMEType,
		Duration: elapsed,
	}, nil
}

func createWAVFile(pcmData []byte) []byte {
	var buf bytes.Buffer
	bps := bytesPerSecond()

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(AudioSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample*AudioChannels))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}

// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_assessment

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/vocalab/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-recorder"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

// fakeClock advances only when told to, so timeline placement is exact.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRecorder(t *testing.T) (*turnRecorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rec := NewTurnRecorder(newTestLogger(t)).(*turnRecorder)
	rec.clock = clock.Now
	return rec, clock
}

func pcm(val byte, length int) []byte {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = val
	}
	return buf
}

func wavPCMData(wav []byte) []byte { return wav[44:] }

func TestRecordPlacesChunkAtWallClockOffset(t *testing.T) {
	rec, clock := newTestRecorder(t)
	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(time.Second)
	data := pcm(0x01, 320)
	if err := rec.Record(data); err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(rec.chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(rec.chunks))
	}
	wantOffset := AudioSampleRate * AudioChannels * AudioBytesPerSample // one second
	if rec.chunks[0].ByteOffset != wantOffset {
		t.Errorf("expected offset %d, got %d", wantOffset, rec.chunks[0].ByteOffset)
	}
	if !bytes.Equal(rec.chunks[0].Data, data) {
		t.Errorf("data mismatch")
	}
}

func TestRecordBeforeStartIsDropped(t *testing.T) {
	rec, _ := newTestRecorder(t)
	if err := rec.Record(pcm(0x01, 64)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.chunks) != 0 {
		t.Errorf("expected no chunks before Start, got %d", len(rec.chunks))
	}
}

func TestRecordEmptyDataIsIgnored(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()
	rec.Record(nil)
	rec.Record([]byte{})
	if len(rec.chunks) != 0 {
		t.Errorf("expected no chunks for empty pushes")
	}
}

func TestRecordCopiesCallerBuffer(t *testing.T) {
	rec, _ := newTestRecorder(t)
	rec.Start()
	data := pcm(0x05, 64)
	rec.Record(data)
	data[0] = 0xFF
	if rec.chunks[0].Data[0] != 0x05 {
		t.Errorf("recorder must copy caller buffers")
	}
}

func TestStopRendersSilenceGaps(t *testing.T) {
	rec, clock := newTestRecorder(t)
	rec.Start()

	first := pcm(0x01, 160)
	rec.Record(first)

	// One second of silence before the second chunk.
	clock.Advance(time.Second)
	second := pcm(0x02, 160)
	rec.Record(second)
	clock.Advance(10 * time.Millisecond)

	handle, err := rec.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	data := wavPCMData(handle.Data)
	if !bytes.Equal(data[:160], first) {
		t.Errorf("first chunk not at timeline start")
	}
	secondOffset := durationBytes(time.Second)
	if !bytes.Equal(data[secondOffset:secondOffset+160], second) {
		t.Errorf("second chunk not placed after the silence gap")
	}
	for i := 160; i < secondOffset; i++ {
		if data[i] != 0 {
			t.Fatalf("expected silence at byte %d, got %#x", i, data[i])
		}
	}
}

func TestStopWithoutStartFails(t *testing.T) {
	rec, _ := newTestRecorder(t)
	if _, err := rec.Stop(); err == nil {
		t.Errorf("expected error for Stop without Start")
	}
}

func TestStopSilentTurnYieldsSilenceWAV(t *testing.T) {
	rec, clock := newTestRecorder(t)
	rec.Start()
	clock.Advance(500 * time.Millisecond)

	handle, err := rec.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if handle.Duration != 500*time.Millisecond {
		t.Errorf("expected duration 500ms, got %v", handle.Duration)
	}
	if got, want := len(wavPCMData(handle.Data)), durationBytes(500*time.Millisecond); got != want {
		t.Errorf("expected %d bytes of silence, got %d", want, got)
	}
}

func TestStartResetsPreviousTurn(t *testing.T) {
	rec, clock := newTestRecorder(t)
	rec.Start()
	rec.Record(pcm(0x01, 320))
	clock.Advance(time.Second)

	rec.Start()
	if len(rec.chunks) != 0 || rec.cursor != 0 {
		t.Errorf("Start must discard the previous turn's chunks")
	}
}

func TestWAVHeader(t *testing.T) {
	rec, clock := newTestRecorder(t)
	rec.Start()
	rec.Record(pcm(0x03, 320))
	clock.Advance(10 * time.Millisecond)

	handle, err := rec.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	wav := handle.Data

	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("not a RIFF/WAVE file")
	}
	if handle.MIMEType != AudioMIMEType {
		t.Errorf("expected MIME %s, got %s", AudioMIMEType, handle.MIMEType)
	}
	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != AudioSampleRate {
		t.Errorf("expected sample rate %d, got %d", AudioSampleRate, sampleRate)
	}
	channels := binary.LittleEndian.Uint16(wav[22:24])
	if channels != AudioChannels {
		t.Errorf("expected %d channel, got %d", AudioChannels, channels)
	}
	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	if int(dataLen) != len(wav)-44 {
		t.Errorf("data chunk length %d does not match payload %d", dataLen, len(wav)-44)
	}
}

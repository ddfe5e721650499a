package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV encodes a mono 16-bit tone of the given number of frames.
func writeWAV(t *testing.T, path string, sampleRate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, frames)
	for i := range data {
		data[i] = (i % 200) * 100
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, 8000, 8000*3+4000)

	result, err := NewDurationProber("").Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "wav", result.Format)
	assert.Equal(t, uint64(28000), result.Frames)
	assert.Equal(t, TimeBase{Numer: 1, Denom: 8000}, result.TimeBase)
	assert.InDelta(t, 3.5, result.Seconds(), 1e-9)
	assert.Equal(t, int64(3), result.WholeSeconds())
}

func TestProbeUnknownExtensionTriesEachParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.bin")
	writeWAV(t, path, 16000, 16000*2)

	result, err := NewDurationProber("").Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.WholeSeconds())
}

func TestProbeRejectsGarbageAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	prober := NewDurationProber("")

	garbage := filepath.Join(dir, "song.wav")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not audio"), 0o644))
	_, err := prober.Probe(context.Background(), garbage)
	assert.ErrorIs(t, err, ErrUnprobeableMedia)

	mp3 := filepath.Join(dir, "song.mp3")
	require.NoError(t, os.WriteFile(mp3, []byte("ABC"), 0o644))
	_, err = prober.Probe(context.Background(), mp3)
	assert.ErrorIs(t, err, ErrUnprobeableMedia)

	empty := filepath.Join(dir, "empty.flac")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = prober.Probe(context.Background(), empty)
	assert.ErrorIs(t, err, ErrUnprobeableMedia)

	_, err = prober.Probe(context.Background(), filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, ErrUnprobeableMedia)
}

func TestProbeFallsBackToFFprobe(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ffprobe")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
echo '{"streams":[{"codec_name":"opus","duration_ts":96000,"time_base":"1/48000"}],"format":{"duration":"2.0"}}'
`), 0o755))

	path := filepath.Join(dir, "voice.opus")
	require.NoError(t, os.WriteFile(path, []byte("OggS-not-parsed-by-headers"), 0o644))

	result, err := NewDurationProber(script).Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "opus", result.Format)
	assert.Equal(t, int64(2), result.WholeSeconds())
}

func TestParseFFprobeOutput(t *testing.T) {
	result, err := parseFFprobeOutput("a.m4a", []byte(`{"streams":[{"codec_name":"aac"}],"format":{"duration":"61.75"}}`))
	require.NoError(t, err)
	assert.Equal(t, TimeBase{Numer: 1, Denom: 1000000}, result.TimeBase)
	assert.Equal(t, int64(61), result.WholeSeconds())

	_, err = parseFFprobeOutput("a.m4a", []byte(`{"streams":[]}`))
	assert.ErrorIs(t, err, ErrUnprobeableMedia)

	_, err = parseFFprobeOutput("a.m4a", []byte(`{"streams":[{"codec_name":"aac"}],"format":{}}`))
	assert.ErrorIs(t, err, ErrUnprobeableMedia)
}

func TestParseTimeBase(t *testing.T) {
	tb, ok := parseTimeBase("1/44100")
	assert.True(t, ok)
	assert.Equal(t, TimeBase{Numer: 1, Denom: 44100}, tb)

	for _, bad := range []string{"", "44100", "0/1", "1/0", "a/b"} {
		_, ok := parseTimeBase(bad)
		assert.False(t, ok, bad)
	}
}

func TestProbeResultWithoutTimeBase(t *testing.T) {
	r := ProbeResult{Frames: 10}
	assert.Zero(t, r.Seconds())
	assert.ErrorIs(t, r.validate("x"), ErrUnprobeableMedia)
}

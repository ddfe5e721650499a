package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// headerParser reads frame count and time base from container headers
// without decoding the whole stream.
type headerParser func(f *os.File) (ProbeResult, error)

var headerParsers = map[string]headerParser{
	".wav":  probeWAV,
	".wave": probeWAV,
	".mp3":  probeMP3,
	".flac": probeFLAC,
}

// parserOrder is tried for unknown extensions.
var parserOrder = []string{".wav", ".flac", ".mp3"}

func probeWAV(f *os.File) (ProbeResult, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return ProbeResult{}, errors.New("not a valid wav file")
	}
	if err := d.FwdToPCM(); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to locate wav PCM chunk: %w", err)
	}
	frameSize := int(d.NumChans) * int(d.BitDepth) / 8
	if frameSize == 0 || d.SampleRate == 0 {
		return ProbeResult{}, errors.New("wav header has no frame layout")
	}
	return ProbeResult{
		Format:   "wav",
		Frames:   uint64(d.PCMSize / frameSize),
		TimeBase: TimeBase{Numer: 1, Denom: uint64(d.SampleRate)},
	}, nil
}

// go-mp3 always decodes to 16-bit stereo.
const mp3FrameBytes = 4

func probeMP3(f *os.File) (ProbeResult, error) {
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to read mp3 frames: %w", err)
	}
	length := d.Length()
	if length <= 0 {
		return ProbeResult{}, errors.New("mp3 stream length unknown")
	}
	if d.SampleRate() <= 0 {
		return ProbeResult{}, errors.New("mp3 sample rate unknown")
	}
	return ProbeResult{
		Format:   "mp3",
		Frames:   uint64(length / mp3FrameBytes),
		TimeBase: TimeBase{Numer: 1, Denom: uint64(d.SampleRate())},
	}, nil
}

func probeFLAC(f *os.File) (ProbeResult, error) {
	stream, err := flac.New(f)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to read flac STREAMINFO: %w", err)
	}
	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return ProbeResult{}, errors.New("flac STREAMINFO has no sample rate")
	}
	// 0 means the encoder did not record the sample count
	if info.NSamples == 0 {
		return ProbeResult{}, errors.New("flac STREAMINFO has no sample count")
	}
	return ProbeResult{
		Format:   "flac",
		Frames:   info.NSamples,
		TimeBase: TimeBase{Numer: 1, Denom: uint64(info.SampleRate)},
	}, nil
}

package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFprobe reads durations by shelling out to ffprobe.
type FFprobe struct {
	path string
}

// NewFFprobe creates a new FFprobe runner. An empty path disables it.
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		return nil
	}
	return &FFprobe{path: path}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		DurationTS *int64 `json:"duration_ts"`
		TimeBase   string `json:"time_base"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe against the first audio stream of inputFile.
func (p *FFprobe) Probe(ctx context.Context, inputFile string) (ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,duration_ts,time_base:format=format_name,duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, p.path, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	return parseFFprobeOutput(inputFile, out.Bytes())
}

func parseFFprobeOutput(inputFile string, raw []byte) (ProbeResult, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(raw, &probeData); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputFile, err)
	}

	if len(probeData.Streams) == 0 {
		return ProbeResult{}, fmt.Errorf("%w: no audio streams found in %s", ErrUnprobeableMedia, inputFile)
	}
	stream := probeData.Streams[0]

	// Prefer the exact stream timestamps; fall back to the container duration.
	if stream.DurationTS != nil && *stream.DurationTS >= 0 {
		if tb, ok := parseTimeBase(stream.TimeBase); ok {
			return ProbeResult{Format: stream.CodecName, Frames: uint64(*stream.DurationTS), TimeBase: tb}, nil
		}
	}

	if probeData.Format.Duration == "" {
		return ProbeResult{}, fmt.Errorf("%w: duration not found in ffprobe output for %s", ErrUnprobeableMedia, inputFile)
	}
	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil || duration < 0 {
		return ProbeResult{}, fmt.Errorf("%w: failed to parse duration string %q for %s", ErrUnprobeableMedia, probeData.Format.Duration, inputFile)
	}

	return ProbeResult{
		Format:   stream.CodecName,
		Frames:   uint64(duration * 1e6),
		TimeBase: TimeBase{Numer: 1, Denom: 1e6},
	}, nil
}

// parseTimeBase parses "1/44100".
func parseTimeBase(s string) (TimeBase, bool) {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return TimeBase{}, false
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil || n == 0 {
		return TimeBase{}, false
	}
	d, err := strconv.ParseUint(den, 10, 64)
	if err != nil || d == 0 {
		return TimeBase{}, false
	}
	return TimeBase{Numer: n, Denom: d}, true
}

package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssebide/music-platform/logger"
)

// DurationProber reads container headers and falls back to ffprobe.
type DurationProber struct {
	ffprobe *FFprobe
}

// NewDurationProber creates a prober; ffprobePath may be empty.
func NewDurationProber(ffprobePath string) *DurationProber {
	return &DurationProber{ffprobe: NewFFprobe(ffprobePath)}
}

// Probe returns the frame count and time base of the file's audio track.
func (p *DurationProber) Probe(ctx context.Context, path string) (ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrUnprobeableMedia, err)
	}
	if info.Size() == 0 {
		return ProbeResult{}, fmt.Errorf("%w: %s is empty", ErrUnprobeableMedia, path)
	}

	result, headerErr := p.probeHeaders(path)
	if headerErr == nil {
		return result, nil
	}

	if p.ffprobe != nil {
		result, err := p.ffprobe.Probe(ctx, path)
		if err == nil {
			if err := result.validate(path); err != nil {
				return ProbeResult{}, err
			}
			return result, nil
		}
		logger.Warn("ffprobe fallback failed",
			logger.String("path", path),
			logger.ErrorField(err))
	}

	return ProbeResult{}, fmt.Errorf("%w: %s: %v", ErrUnprobeableMedia, path, headerErr)
}

func (p *DurationProber) probeHeaders(path string) (ProbeResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	candidates := parserOrder
	if _, ok := headerParsers[ext]; ok {
		candidates = []string{ext}
	}

	var lastErr error
	for _, c := range candidates {
		result, err := runParser(headerParsers[c], path)
		if err == nil {
			if err := result.validate(path); err != nil {
				lastErr = err
				continue
			}
			return result, nil
		}
		lastErr = err
	}
	return ProbeResult{}, lastErr
}

func runParser(parse headerParser, path string) (result ProbeResult, err error) {
	f, err := os.Open(path)
	if err != nil {
		return ProbeResult{}, err
	}
	defer f.Close()

	// some decoders panic on truncated input
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return parse(f)
}

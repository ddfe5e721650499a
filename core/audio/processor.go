package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnprobeableMedia means no duration could be derived from the file.
var ErrUnprobeableMedia = errors.New("unprobeable media")

// TimeBase is the rational length of one frame in seconds.
type TimeBase struct {
	Numer uint64
	Denom uint64
}

// ProbeResult describes the default audio track of a file.
type ProbeResult struct {
	Format   string
	Frames   uint64
	TimeBase TimeBase
}

// Seconds returns Frames * Numer / Denom.
func (r ProbeResult) Seconds() float64 {
	if r.TimeBase.Denom == 0 {
		return 0
	}
	return float64(r.Frames) * float64(r.TimeBase.Numer) / float64(r.TimeBase.Denom)
}

// WholeSeconds truncates the duration to whole seconds, as stored on the track.
func (r ProbeResult) WholeSeconds() int64 {
	return int64(math.Floor(r.Seconds()))
}

// Duration converts the result to a time.Duration.
func (r ProbeResult) Duration() time.Duration {
	return time.Duration(r.Seconds() * float64(time.Second))
}

func (r ProbeResult) validate(path string) error {
	if r.TimeBase.Numer == 0 || r.TimeBase.Denom == 0 {
		return fmt.Errorf("%w: %s has no time base", ErrUnprobeableMedia, path)
	}
	return nil
}

// Prober reads the decoded duration of an audio file.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, path string) (ProbeResult, error)

func (f ProberFunc) Probe(ctx context.Context, path string) (ProbeResult, error) {
	return f(ctx, path)
}

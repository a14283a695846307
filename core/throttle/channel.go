// Package throttle bounds the outbound message rate of continuous editing
// gestures. Each (channel, key) pair keeps only its most recent payload and
// emits it on a trailing-edge timer, so ten drag updates inside one interval
// cost one message carrying the final position. Gesture end flushes
// immediately so the final value is never silently dropped.
package throttle

import (
	"errors"
	"fmt"
	"time"
)

// Channel is a named throttling lane. Each lane groups one kind of
// continuous edit and is bound to a fixed flush interval.
type Channel string

const (
	ChannelRegionDrag       Channel = "region_drag"
	ChannelRegionRealtime   Channel = "region_realtime"
	ChannelNoteRealtime     Channel = "note_realtime"
	ChannelTrackProperty    Channel = "track_property"
	ChannelEffectChain      Channel = "effect_chain"
	ChannelSynthParams      Channel = "synth_params"
	ChannelRecordingPreview Channel = "recording_preview"
)

// Interval bounds. Under 50ms risks flooding the network; over 1000ms feels
// laggy to collaborators.
const (
	MinInterval = 50 * time.Millisecond
	MaxInterval = 1000 * time.Millisecond

	// DefaultInterval is the flush interval every channel starts with.
	DefaultInterval = 200 * time.Millisecond
)

// ErrIntervalOutOfRange indicates a configured interval outside
// [MinInterval, MaxInterval].
var ErrIntervalOutOfRange = errors.New("throttle interval out of range")

// ErrUnknownChannel indicates an interval configured for a channel that does
// not exist.
var ErrUnknownChannel = errors.New("unknown throttle channel")

// Channels returns every throttling lane.
func Channels() []Channel {
	return []Channel{
		ChannelRegionDrag,
		ChannelRegionRealtime,
		ChannelNoteRealtime,
		ChannelTrackProperty,
		ChannelEffectChain,
		ChannelSynthParams,
		ChannelRecordingPreview,
	}
}

// IsValid reports whether the channel is a recognized lane.
func (c Channel) IsValid() bool {
	for _, known := range Channels() {
		if c == known {
			return true
		}
	}
	return false
}

// Intervals maps each channel to its flush interval.
type Intervals map[Channel]time.Duration

// DefaultIntervals returns the default interval for every channel.
func DefaultIntervals() Intervals {
	out := make(Intervals, len(Channels()))
	for _, c := range Channels() {
		out[c] = DefaultInterval
	}
	return out
}

// Validate checks that every channel is known and every interval lies within
// [MinInterval, MaxInterval].
func (iv Intervals) Validate() error {
	for c, d := range iv {
		if !c.IsValid() {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, c)
		}
		if d < MinInterval || d > MaxInterval {
			return fmt.Errorf("%w: %s=%s, want [%s, %s]", ErrIntervalOutOfRange, c, d, MinInterval, MaxInterval)
		}
	}
	return nil
}

// Interval returns the configured interval for c, falling back to the
// default when unset.
func (iv Intervals) Interval(c Channel) time.Duration {
	if d, ok := iv[c]; ok {
		return d
	}
	return DefaultInterval
}

// Package filters implements the FilterChain's individual audio filters:
// volume, equalizer, karaoke, timescale, tremolo, vibrato, distortion,
// rotation, channel mix and low-pass.
package filters

import "math"

// Filter is the contract every entry in a FilterChain satisfies.
type Filter interface {
	// Process mutates samples in place: interleaved stereo int16,
	// always a whole number of L/R frames.
	Process(samples []int16)
	// Enabled reports whether Process would do anything; the chain
	// skips disabled filters outright.
	Enabled() bool
	// Reset clears any internal state (LFO phase, delay line contents,
	// IIR history) on a seek-flush discontinuity.
	Reset()
}

func clampI16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

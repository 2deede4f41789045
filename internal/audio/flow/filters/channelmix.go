package filters

import "math"

// ChannelMix applies a 2x2 matrix mix of left/right channels. Identity
// is LeftToLeft=1, LeftToRight=0, RightToLeft=0, RightToRight=1.
type ChannelMix struct {
	LeftToLeft, LeftToRight   float64
	RightToLeft, RightToRight float64
}

func NewChannelMix(ll, lr, rl, rr float64) *ChannelMix {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return &ChannelMix{
		LeftToLeft: clamp01(ll), LeftToRight: clamp01(lr),
		RightToLeft: clamp01(rl), RightToRight: clamp01(rr),
	}
}

func (c *ChannelMix) Process(samples []int16) {
	frames := len(samples) / 2
	for f := 0; f < frames; f++ {
		off := f * 2
		left := float64(samples[off])
		right := float64(samples[off+1])
		newLeft := left*c.LeftToLeft + right*c.RightToLeft
		newRight := left*c.LeftToRight + right*c.RightToRight
		samples[off] = clampI16(int32(newLeft))
		samples[off+1] = clampI16(int32(newRight))
	}
}

func (c *ChannelMix) Enabled() bool {
	const eps = 1e-7
	return math.Abs(c.LeftToLeft-1) > eps ||
		math.Abs(c.LeftToRight) > eps ||
		math.Abs(c.RightToLeft) > eps ||
		math.Abs(c.RightToRight-1) > eps
}

func (c *ChannelMix) Reset() {}

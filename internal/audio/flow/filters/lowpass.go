package filters

// LowPass is a single-pole IIR low-pass filter. Matches the
// smoothing-parameter convention: smoothing <= 1.0 disables the filter.
type LowPass struct {
	smoothing       float32
	smoothingFactor float64
	prevLeft        float64
	prevRight       float64
}

func NewLowPass(smoothing float32) *LowPass {
	factor := 0.0
	if smoothing > 1.0 {
		factor = 1.0 / float64(smoothing)
	}
	return &LowPass{smoothing: smoothing, smoothingFactor: factor}
}

func (lp *LowPass) Process(samples []int16) {
	if lp.smoothing <= 1.0 {
		return
	}
	frames := len(samples) / 2
	for f := 0; f < frames; f++ {
		off := f * 2

		left := float64(samples[off])
		lp.prevLeft += lp.smoothingFactor * (left - lp.prevLeft)
		samples[off] = clampI16(int32(lp.prevLeft))

		right := float64(samples[off+1])
		lp.prevRight += lp.smoothingFactor * (right - lp.prevRight)
		samples[off+1] = clampI16(int32(lp.prevRight))
	}
}

func (lp *LowPass) Enabled() bool { return lp.smoothing > 1.0 }

func (lp *LowPass) Reset() {
	lp.prevLeft = 0
	lp.prevRight = 0
}

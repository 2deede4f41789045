package filters

// Rotation (8D audio) pans stereo output with an LFO-driven left/right
// weighting.
type Rotation struct {
	lfo Lfo
}

func NewRotation(rotationHz float64) *Rotation {
	r := &Rotation{}
	r.lfo.Update(rotationHz, 1.0)
	return r
}

func (r *Rotation) Process(samples []int16) {
	if r.lfo.Frequency == 0 {
		return
	}
	frames := len(samples) / 2
	for f := 0; f < frames; f++ {
		off := f * 2
		v := r.lfo.Value()
		leftFactor := (1 - v) / 2
		rightFactor := (1 + v) / 2

		left := float64(samples[off])
		right := float64(samples[off+1])
		samples[off] = clampI16(int32(left * leftFactor))
		samples[off+1] = clampI16(int32(right * rightFactor))
	}
}

func (r *Rotation) Enabled() bool { return r.lfo.Frequency != 0 }
func (r *Rotation) Reset()        { r.lfo.Reset() }

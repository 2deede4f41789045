package filters

// Vibrato modulates pitch by reading from a per-channel delay line at an
// LFO-driven offset, interpolated for a smooth sweep.
type Vibrato struct {
	lfo        Lfo
	delayLeft  *DelayLine
	delayRight *DelayLine
	baseDelay  float64 // samples
	sweep      float64 // samples
}

// NewVibrato builds a Vibrato filter; depth in [0,1] scales how many
// samples the sweep covers around baseDelayMs of delay.
func NewVibrato(frequency, depth float64) *Vibrato {
	if depth < 0 {
		depth = 0
	}
	if depth > 1 {
		depth = 1
	}
	const baseDelayMs = 5.0
	const sweepMs = 3.0
	base := baseDelayMs * sampleRate / 1000
	sweep := sweepMs * sampleRate / 1000 * depth

	v := &Vibrato{
		baseDelay: base,
		sweep:     sweep,
		delayLeft: NewDelayLine(int(base+sweep) + 4),
	}
	v.delayRight = NewDelayLine(int(base+sweep) + 4)
	v.lfo.Update(frequency, depth)
	return v
}

func (v *Vibrato) Process(samples []int16) {
	if v.lfo.Depth == 0 || v.lfo.Frequency == 0 {
		return
	}
	frames := len(samples) / 2
	for f := 0; f < frames; f++ {
		off := f * 2
		lfoVal := v.lfo.Value()
		delay := v.baseDelay + v.sweep*lfoVal

		left := samples[off]
		right := samples[off+1]

		v.delayLeft.Write(float32(left))
		v.delayRight.Write(float32(right))

		samples[off] = clampI16(int32(v.delayLeft.Read(delay)))
		samples[off+1] = clampI16(int32(v.delayRight.Read(delay)))
	}
}

func (v *Vibrato) Enabled() bool { return v.lfo.Depth > 0 && v.lfo.Frequency > 0 }

func (v *Vibrato) Reset() {
	v.lfo.Reset()
	v.delayLeft.Clear()
	v.delayRight.Clear()
}

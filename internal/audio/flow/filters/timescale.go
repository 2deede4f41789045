package filters

// Timescale independently adjusts speed, pitch and rate using a
// time-domain overlap-add stretch (no FFT): speed/rate resample the
// output cadence, pitch additionally resamples the stretched signal to
// shift perceived pitch without changing duration.
type Timescale struct {
	Speed float64
	Pitch float64
	Rate  float64

	carryover []int16 // unconsumed input samples between Process calls
}

func NewTimescale(speed, pitch, rate float64) *Timescale {
	if speed <= 0 {
		speed = 1
	}
	if pitch <= 0 {
		pitch = 1
	}
	if rate <= 0 {
		rate = 1
	}
	return &Timescale{Speed: speed, Pitch: pitch, Rate: rate}
}

func (t *Timescale) Enabled() bool {
	return t.Speed != 1 || t.Pitch != 1 || t.Rate != 1
}

const timescaleWindow = 256 // frames per OLA grain, at 48kHz ~5.3ms

// Process overlap-adds input grains read at the combined speed*rate
// factor, then resamples the result for the pitch factor. Operates
// in-place by writing the stretched/resampled result back into samples,
// truncating or zero-padding the tail to keep frame length fixed — the
// pipeline always moves exactly one 20ms frame per tick regardless of
// the internal stretch factor.
func (t *Timescale) Process(samples []int16) {
	if !t.Enabled() {
		return
	}
	frames := len(samples) / 2
	if frames == 0 {
		return
	}

	combined := make([]int16, 0, frames*2+len(t.carryover))
	combined = append(combined, t.carryover...)
	combined = append(combined, samples...)
	t.carryover = t.carryover[:0]

	totalFrames := len(combined) / 2
	factor := t.Speed * t.Rate
	stretched := olaStretch(combined, totalFrames, factor)
	resampled := linearResampleStereo(stretched, 1.0/t.Pitch)

	outFrames := len(resampled) / 2
	copyFrames := frames
	if outFrames < copyFrames {
		copyFrames = outFrames
	}
	copy(samples, resampled[:copyFrames*2])
	for i := copyFrames * 2; i < len(samples); i++ {
		samples[i] = 0
	}

	if outFrames > copyFrames {
		t.carryover = append(t.carryover, resampled[copyFrames*2:]...)
	}
}

// olaStretch reads grains from src at stride `factor` (factor>1 speeds
// up / shortens, factor<1 slows down / lengthens) and overlap-adds them
// with a triangular window into an output buffer of length
// len(src)/factor.
func olaStretch(src []int16, frames int, factor float64) []int16 {
	if frames == 0 {
		return nil
	}
	outFrames := int(float64(frames) / factor)
	if outFrames <= 0 {
		outFrames = 1
	}
	acc := make([]float64, outFrames*2)
	weight := make([]float64, outFrames)

	hop := float64(timescaleWindow) / 2 / factor
	readPos := 0.0
	writePos := 0.0
	for readPos < float64(frames) && writePos < float64(outFrames) {
		for i := 0; i < timescaleWindow; i++ {
			srcFrame := int(readPos) + i
			dstFrame := int(writePos) + i
			if srcFrame >= frames || dstFrame >= outFrames {
				break
			}
			w := triangularWindow(i, timescaleWindow)
			acc[dstFrame*2] += float64(src[srcFrame*2]) * w
			acc[dstFrame*2+1] += float64(src[srcFrame*2+1]) * w
			weight[dstFrame] += w
		}
		readPos += hop * factor
		writePos += hop
	}

	out := make([]int16, outFrames*2)
	for f := 0; f < outFrames; f++ {
		w := weight[f]
		if w == 0 {
			w = 1
		}
		out[f*2] = clampI16(int32(acc[f*2] / w))
		out[f*2+1] = clampI16(int32(acc[f*2+1] / w))
	}
	return out
}

func triangularWindow(i, size int) float64 {
	mid := float64(size) / 2
	d := float64(i) - mid
	if d < 0 {
		d = -d
	}
	return 1 - d/mid
}

// linearResampleStereo resamples interleaved stereo src by ratio
// (output_len = input_len * ratio), via linear interpolation.
func linearResampleStereo(src []int16, ratio float64) []int16 {
	frames := len(src) / 2
	if frames < 2 || ratio == 1.0 {
		return src
	}
	outFrames := int(float64(frames) * ratio)
	if outFrames <= 0 {
		return nil
	}
	out := make([]int16, outFrames*2)
	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= frames-1 {
			i0 = frames - 2
			if i0 < 0 {
				i0 = 0
			}
		}
		frac := srcPos - float64(i0)
		for ch := 0; ch < 2; ch++ {
			s0 := float64(src[i0*2+ch])
			s1 := float64(src[(i0+1)*2+ch])
			out[i*2+ch] = clampI16(int32(s0*(1-frac) + s1*frac))
		}
	}
	return out
}

func (t *Timescale) Reset() {
	t.carryover = t.carryover[:0]
}

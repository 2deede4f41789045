package filters

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// EqualizerBands is the standard 15-band Lavalink equalizer layout; band
// i is centered at 25 * (16000/25)^(i/14) Hz, spaced geometrically
// (band 0 = 25Hz ... band 14 = 16kHz).
const EqualizerBands = 15

func bandCenterHz(band int) float64 {
	return 25.0 * math.Pow(16000.0/25.0, float64(band)/float64(EqualizerBands-1))
}

// Equalizer applies per-band gain in the frequency domain via a
// windowed real FFT, rather than a bank of biquads.
type Equalizer struct {
	gains [EqualizerBands]float64 // -0.25..1.0, 0 = unity per Lavalink convention

	fft     *fourier.FFT
	scratch []int16
}

func NewEqualizer() *Equalizer {
	const windowSize = 1024
	return &Equalizer{fft: fourier.NewFFT(windowSize)}
}

// SetBand sets the gain for the given band index (0..14), clamped to
// Lavalink's [-0.25, 1.0] range.
func (e *Equalizer) SetBand(band int, gain float64) {
	if band < 0 || band >= EqualizerBands {
		return
	}
	if gain < -0.25 {
		gain = -0.25
	}
	if gain > 1.0 {
		gain = 1.0
	}
	e.gains[band] = gain
}

func (e *Equalizer) Enabled() bool {
	for _, g := range e.gains {
		if g != 0 {
			return true
		}
	}
	return false
}

// Process runs a per-channel FFT over the frame, scales each bin by the
// gain of its nearest equalizer band, and inverts.
func (e *Equalizer) Process(samples []int16) {
	if !e.Enabled() {
		return
	}
	n := e.fft.Len()
	frames := len(samples) / 2
	if frames == 0 {
		return
	}

	for ch := 0; ch < 2; ch++ {
		buf := make([]float64, n)
		count := frames
		if count > n {
			count = n
		}
		for i := 0; i < count; i++ {
			buf[i] = float64(samples[i*2+ch])
		}

		spectrum := e.fft.Coefficients(nil, buf)
		binHz := sampleRate / float64(n)
		for i, c := range spectrum {
			hz := float64(i) * binHz
			band := bandForFrequency(hz)
			gain := 1.0 + e.gains[band]
			spectrum[i] = c * complex(gain, 0)
		}

		out := e.fft.Sequence(nil, spectrum)
		for i := 0; i < count; i++ {
			samples[i*2+ch] = clampI16(int32(out[i] / float64(n)))
		}
	}
}

func bandForFrequency(hz float64) int {
	for b := EqualizerBands - 1; b >= 0; b-- {
		if hz >= bandCenterHz(b) {
			return b
		}
	}
	return 0
}

// Reset is a no-op: Process keeps no state between frames, and the band
// gains are settings, so they survive a seek-flush discontinuity.
func (e *Equalizer) Reset() {}

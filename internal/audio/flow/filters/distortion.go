package filters

import "math"

// Distortion runs each normalized sample through sin/cos/tan waveshaping
// before rescaling back to i16 range.
type Distortion struct {
	SinOffset, SinScale float64
	CosOffset, CosScale float64
	TanOffset, TanScale float64
	Offset, Scale       float64
}

func NewDistortion(sinOffset, sinScale, cosOffset, cosScale, tanOffset, tanScale, offset, scale float64) *Distortion {
	return &Distortion{
		SinOffset: sinOffset, SinScale: sinScale,
		CosOffset: cosOffset, CosScale: cosScale,
		TanOffset: tanOffset, TanScale: tanScale,
		Offset: offset, Scale: scale,
	}
}

func (d *Distortion) Process(samples []int16) {
	if !d.Enabled() {
		return
	}
	for i, s := range samples {
		x := float64(s) / 32767.0
		y := math.Sin(d.SinScale*x+d.SinOffset) +
			math.Cos(d.CosScale*x+d.CosOffset) +
			math.Tan(d.TanScale*x+d.TanOffset)
		y = y*d.Scale + d.Offset
		samples[i] = clampI16(int32(y * 32767.0))
	}
}

func (d *Distortion) Enabled() bool {
	return d.SinScale != 0 || d.CosScale != 0 || d.TanScale != 0 || d.Scale != 1 || d.Offset != 0
}

func (d *Distortion) Reset() {}

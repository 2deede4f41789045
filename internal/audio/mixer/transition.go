package mixer

import (
	"math"

	"github.com/rustalink/server/internal/audio"
)

// TransitionEffect mixes a transitioning layer's contribution into
// accum, given the layer's own state (PCM channel, stash, position).
// It returns whether the layer contributed any audio this tick.
type TransitionEffect interface {
	Process(accum []int32, layer *MixLayer) bool
}

// Crossfade blends an outgoing layer out and an incoming layer in over
// N frames using equal-power or linear weights.
type Crossfade struct {
	TotalFrames int
	frameIndex  int
	EqualPower  bool
	Incoming    *MixLayer
}

func NewCrossfade(totalFrames int, equalPower bool, incoming *MixLayer) *Crossfade {
	return &Crossfade{TotalFrames: totalFrames, EqualPower: equalPower, Incoming: incoming}
}

func (c *Crossfade) Process(accum []int32, layer *MixLayer) bool {
	if c.frameIndex >= c.TotalFrames {
		layer.State.Store(uint32(LayerEnded))
		return false
	}

	t := float64(c.frameIndex) / float64(c.TotalFrames)
	outWeight, inWeight := crossfadeWeights(t, c.EqualPower)

	contributed := false
	select {
	case frame := <-layer.PCM:
		if !frame.IsFlushSentinel() {
			mixInto(accum, frame.Samples, outWeight)
			contributed = true
		}
		frame.Release()
	default:
	}

	if c.Incoming != nil {
		select {
		case frame := <-c.Incoming.PCM:
			if !frame.IsFlushSentinel() {
				mixInto(accum, frame.Samples, inWeight)
				contributed = true
			}
			frame.Release()
		default:
		}
	}

	c.frameIndex++
	layer.Position.Add(uint64(audio.FrameDuration.Milliseconds()))
	return contributed
}

func crossfadeWeights(t float64, equalPower bool) (out, in float64) {
	if equalPower {
		const halfPi = math.Pi / 2
		return math.Cos(t * halfPi), math.Sin(t * halfPi)
	}
	return 1 - t, t
}

func mixInto(accum []int32, samples []int16, weight float64) {
	for i, s := range samples {
		if i >= len(accum) {
			break
		}
		accum[i] += int32(float64(s) * weight)
	}
}

// TapeStop applies a cumulative playback-rate reduction over
// DurationMs, reading with a shrinking stride from a stash of consumed
// samples until the layer is declared ended.
type TapeStop struct {
	DurationMs   uint64
	elapsedMs    uint64
	readStride   float64 // 1.0 at start, shrinks toward 0
	readPos      float64
	stash        []int16
}

func NewTapeStop(durationMs uint64) *TapeStop {
	return &TapeStop{DurationMs: durationMs, readStride: 1.0}
}

func (ts *TapeStop) Process(accum []int32, layer *MixLayer) bool {
	if ts.DurationMs == 0 {
		layer.State.Store(uint32(LayerEnded))
		return false
	}

	// Pull fresh audio into the stash while the source still has any.
	select {
	case frame := <-layer.PCM:
		if !frame.IsFlushSentinel() {
			ts.stash = append(ts.stash, frame.Samples...)
		}
		frame.Release()
	default:
	}

	if len(ts.stash) == 0 {
		layer.State.Store(uint32(LayerEnded))
		return false
	}

	progress := float64(ts.elapsedMs) / float64(ts.DurationMs)
	if progress >= 1.0 {
		layer.State.Store(uint32(LayerEnded))
		return false
	}
	ts.readStride = 1.0 - progress

	frames := len(accum) / 2
	stashFrames := len(ts.stash) / 2
	for f := 0; f < frames; f++ {
		srcFrame := int(ts.readPos)
		if srcFrame >= stashFrames {
			break
		}
		accum[f*2] += int32(ts.stash[srcFrame*2])
		accum[f*2+1] += int32(ts.stash[srcFrame*2+1])
		ts.readPos += ts.readStride
	}

	ts.elapsedMs += uint64(audio.FrameDuration.Milliseconds())
	layer.Position.Add(uint64(audio.FrameDuration.Milliseconds()))
	return true
}

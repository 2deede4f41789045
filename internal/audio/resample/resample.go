// Package resample adapts decoded PCM at an arbitrary source rate/
// channel count to the pipeline's fixed 48kHz stereo via a polyphase
// resampler, only doing any work when the source actually differs.
package resample

import (
	"github.com/rustalink/server/internal/audio"
	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler converts interleaved int16 PCM from (srcRate, srcChannels)
// to the pipeline's fixed 48kHz stereo.
type Resampler struct {
	srcRate     int
	srcChannels int
	passthrough bool
	r           *resampler.Resampler
}

// New builds a Resampler. When srcRate/srcChannels already match the
// pipeline's target, Process is a no-op passthrough; a 48kHz mono
// source is only duplicated to stereo, without resampling.
func New(srcRate, srcChannels int) (*Resampler, error) {
	if srcRate == audio.SampleRate && (srcChannels == audio.Channels || srcChannels == 1) {
		return &Resampler{srcRate: srcRate, srcChannels: srcChannels, passthrough: true}, nil
	}

	r, err := resampler.New(resampler.Config{
		InputRate:    srcRate,
		OutputRate:   audio.SampleRate,
		Channels:     srcChannels,
		Quality:      resampler.QualityMedium,
	})
	if err != nil {
		return nil, err
	}
	return &Resampler{srcRate: srcRate, srcChannels: srcChannels, r: r}, nil
}

// Process resamples one chunk of interleaved PCM. The output may span a
// different number of frames than the input; callers accumulate output
// until a full 20ms (960-sample/channel) frame is available.
func (rs *Resampler) Process(pcm []int16) ([]int16, error) {
	if rs.passthrough && rs.srcChannels == audio.Channels {
		return pcm, nil
	}
	if rs.passthrough && rs.srcChannels == 1 {
		return monoToStereo(pcm), nil
	}

	resampled, err := rs.r.Resample(pcm)
	if err != nil {
		return nil, err
	}
	if rs.srcChannels == 1 {
		return monoToStereo(resampled), nil
	}
	return resampled, nil
}

func monoToStereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// SamePCM reports whether Process returns its input slice's own backing
// array unchanged rather than a freshly allocated one.
func (rs *Resampler) SamePCM() bool {
	return rs.passthrough && rs.srcChannels == audio.Channels
}

// Reset clears internal resampler state on a seek-flush discontinuity.
func (rs *Resampler) Reset() {
	if rs.r != nil {
		rs.r.Reset()
	}
}

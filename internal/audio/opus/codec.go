// Package opus wraps gopkg.in/hraban/opus.v2 into the narrow
// encode/decode surface the Engine and Mixer need.
package opus

import (
	"fmt"

	hropus "gopkg.in/hraban/opus.v2"

	"github.com/rustalink/server/internal/audio"
)

// Encoder wraps one hraban/opus encoder instance, the way one
// transcoding layer owns one encoder per the 48kHz/stereo/audio-app
// contract.
type Encoder struct {
	enc *hropus.Encoder
	buf []byte
}

// NewEncoder builds an encoder at 48kHz stereo with the audio
// application profile and the given complexity (0-10).
func NewEncoder(bitrate, complexity int) (*Encoder, error) {
	enc, err := hropus.NewEncoder(audio.SampleRate, audio.Channels, hropus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus: new encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("opus: set bitrate: %w", err)
		}
	} else {
		if err := enc.SetBitrateToAuto(); err != nil {
			return nil, fmt.Errorf("opus: set bitrate auto: %w", err)
		}
	}
	if complexity >= 0 {
		if err := enc.SetComplexity(complexity); err != nil {
			return nil, fmt.Errorf("opus: set complexity: %w", err)
		}
	}
	return &Encoder{enc: enc, buf: make([]byte, 4000)}, nil
}

// Encode encodes exactly one 20ms frame (960 samples/channel,
// interleaved) into an Opus packet, reusing an internal scratch buffer.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// Decoder wraps one hraban/opus decoder instance.
type Decoder struct {
	dec *hropus.Decoder
}

func NewDecoder() (*Decoder, error) {
	dec, err := hropus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: new decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet into a 20ms PCM frame.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	out := make([]int16, audio.FrameSamples)
	n, err := d.dec.Decode(packet, out)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return out[:n*audio.Channels], nil
}

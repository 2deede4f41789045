// Package audio holds the shared types the decode/engine/flow/mixer
// stages pass between each other.
package audio

import (
	"time"

	"github.com/rustalink/server/internal/audio/pool"
)

// Frame-cadence constants. One frame is always 20ms of 48kHz stereo PCM:
// 960 samples/channel * 2 channels = 1920 int16 samples = 3840 bytes.
const (
	SampleRate     = 48000
	Channels       = 2
	FrameDuration  = 20 * time.Millisecond
	SamplesPerTick = 960 // per channel
	FrameSamples   = SamplesPerTick * Channels
	OpusPayloadType = 111
)

// OpusSilence is the canonical 3-byte Opus silence frame, sent when a
// live lane has no audio for a tick and as the end-of-speaking tail.
var OpusSilence = []byte{0xF8, 0xFF, 0xFE}

// Frame is one 20ms PCM slice moving through the decode/flow/mixer
// pipeline. An empty Samples slice is the seek-flush sentinel: every
// stage must treat it as a discontinuity barrier rather than audio.
type Frame struct {
	Samples []int16

	pooled *pool.Buffer[int16]
}

// IsFlushSentinel reports whether f marks a seek/stop discontinuity
// rather than carrying audio.
func (f Frame) IsFlushSentinel() bool {
	return len(f.Samples) == 0
}

// FlushSentinel returns a Frame that marks a discontinuity.
func FlushSentinel() Frame {
	return Frame{}
}

// FrameFromPool builds a Frame whose Samples back onto a pooled buffer.
// Release must be called once the frame's samples are no longer needed
// so the backing buffer returns to the free-list.
func FrameFromPool(samples []int16, buf *pool.Buffer[int16]) Frame {
	return Frame{Samples: samples, pooled: buf}
}

// Release returns f's backing buffer to its pool, if it has one. Safe
// to call on a Frame that was not built from a pool, and safe to call
// more than once.
func (f *Frame) Release() {
	if f.pooled == nil {
		return
	}
	pool.Int16().Release(f.pooled)
	f.pooled = nil
}

// OpusPacket is one encoded Opus frame moving through the Passthrough
// lane or out of the TranscodeEngine's encoder.
type OpusPacket struct {
	Data []byte
}

// ContainerKind is the decoder dispatch tag, derived from the URL or
// file suffix; no content-type mapping exists.
type ContainerKind string

const (
	ContainerWav    ContainerKind = "wav"
	ContainerOggOpus ContainerKind = "ogg_opus"
	ContainerMp4    ContainerKind = "mp4"
	ContainerWebm   ContainerKind = "webm"
	ContainerMp3    ContainerKind = "mp3"
	ContainerAac    ContainerKind = "aac"
	ContainerFlac   ContainerKind = "flac"
	ContainerHLS    ContainerKind = "hls"
	ContainerUnknown ContainerKind = "unknown"
)

// ContainerKindFromSuffix maps a URL/file suffix to a ContainerKind. The
// resolvers use it for every track, whatever content-type the source
// reports.
func ContainerKindFromSuffix(suffix string) ContainerKind {
	switch suffix {
	case "wav":
		return ContainerWav
	case "ogg", "opus":
		return ContainerOggOpus
	case "mp4", "m4a":
		return ContainerMp4
	case "webm":
		return ContainerWebm
	case "mp3":
		return ContainerMp3
	case "aac":
		return ContainerAac
	case "flac":
		return ContainerFlac
	case "m3u8":
		return ContainerHLS
	default:
		return ContainerUnknown
	}
}

// TrackInfo is the metadata surfaced to loadtracks/playerUpdate REST and
// WS payloads.
type TrackInfo struct {
	Identifier string        `json:"identifier"`
	Title      string        `json:"title"`
	Author     string        `json:"author"`
	Length     time.Duration `json:"length"`
	IsStream   bool          `json:"isStream"`
	URI        string        `json:"uri"`
	SourceName string        `json:"sourceName"`
	Container  ContainerKind `json:"-"`
}

// Package engine implements the two-variant decode/passthrough contract:
// the transcode variant sits between the Decoder and the FlowController,
// the passthrough variant between the Ogg/Opus demuxer and the Mixer.
package engine

import "github.com/rustalink/server/internal/audio"

// DefaultChannelCapacity is the bounded PCM channel size: 64 frames is
// roughly 1.28s of audio at the 20ms tick rate, enough headroom to
// absorb jitter in the decode stage without piling up unbounded memory.
const DefaultChannelCapacity = 64

// Engine is the single contract both concrete variants satisfy. PushPCM
// and PushOpus each report whether the downstream receiver is still
// open; false means the caller should stop feeding this engine.
type Engine interface {
	PushPCM(frame audio.Frame) bool
	PushOpus(packet audio.OpusPacket) bool
}

// TranscodeEngine forwards decoded PCM frames — including the seek-flush
// sentinel — into a bounded channel that the player drains into the
// flow Controller, whose output the Mixer's MixLayer reads.
// Unlike the non-blocking, drop-on-full channel sends used elsewhere in
// this codebase, PushPCM here blocks: backpressure on a full channel is
// the decoder's pacing signal, and frames must never be dropped.
type TranscodeEngine struct {
	pcmCh chan audio.Frame
	done  chan struct{}
}

// NewTranscodeEngine builds a TranscodeEngine with the given bounded
// channel capacity (DefaultChannelCapacity if cap <= 0).
func NewTranscodeEngine(cap int) *TranscodeEngine {
	if cap <= 0 {
		cap = DefaultChannelCapacity
	}
	return &TranscodeEngine{
		pcmCh: make(chan audio.Frame, cap),
		done:  make(chan struct{}),
	}
}

// PCMChannel is the channel the player's forwarding goroutine receives
// from to feed the flow Controller.
func (e *TranscodeEngine) PCMChannel() <-chan audio.Frame {
	return e.pcmCh
}

// Done is closed when the engine closes, letting the consuming
// goroutine stop selecting on PCMChannel (which stays open so a
// blocked PushPCM never races a channel close).
func (e *TranscodeEngine) Done() <-chan struct{} {
	return e.done
}

// Flush discards every frame currently buffered in the PCM channel,
// releasing their pooled backing. Part of the seek-flush barrier: the
// stale pre-seek backlog is destroyed here rather than played out one
// tick at a time.
func (e *TranscodeEngine) Flush() {
	for {
		select {
		case frame := <-e.pcmCh:
			frame.Release()
		default:
			return
		}
	}
}

// PushPCM blocks until the frame is enqueued or the engine is closed.
func (e *TranscodeEngine) PushPCM(frame audio.Frame) bool {
	select {
	case e.pcmCh <- frame:
		return true
	case <-e.done:
		return false
	}
}

// PushOpus is a no-op for TranscodeEngine; decoded sources never carry
// raw Opus packets through this path.
func (e *TranscodeEngine) PushOpus(audio.OpusPacket) bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Close marks the engine closed; subsequent PushPCM calls return false
// and any blocked send unblocks immediately.
func (e *TranscodeEngine) Close() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// PassthroughEngine forwards raw Opus packets straight into the Mixer's
// passthrough lane, bypassing decode/encode entirely. Chosen when the
// source container is already Ogg/Opus or WebM/Opus.
type PassthroughEngine struct {
	opusCh chan audio.OpusPacket
	done   chan struct{}
}

// NewPassthroughEngine builds a PassthroughEngine with the given bounded
// channel capacity (DefaultChannelCapacity if cap <= 0).
func NewPassthroughEngine(cap int) *PassthroughEngine {
	if cap <= 0 {
		cap = DefaultChannelCapacity
	}
	return &PassthroughEngine{
		opusCh: make(chan audio.OpusPacket, cap),
		done:   make(chan struct{}),
	}
}

// OpusChannel is the channel the Mixer's passthrough lane receives from.
func (e *PassthroughEngine) OpusChannel() <-chan audio.OpusPacket {
	return e.opusCh
}

// Done is closed when the engine closes.
func (e *PassthroughEngine) Done() <-chan struct{} {
	return e.done
}

// CloseOutput closes the Opus channel so the mixer's passthrough lane
// observes end of stream once any buffered tail is consumed. Only the
// producing goroutine may call it, after its final PushOpus.
func (e *PassthroughEngine) CloseOutput() {
	close(e.opusCh)
}

// PushPCM accepts the seek-flush sentinel and any other frame alike
// without forwarding anything, since this engine has no PCM output; it
// only reports whether the engine is still open.
func (e *PassthroughEngine) PushPCM(frame audio.Frame) bool {
	if !frame.IsFlushSentinel() {
		select {
		case <-e.done:
			return false
		default:
			return true
		}
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// PushOpus blocks until packet is enqueued or the engine is closed.
func (e *PassthroughEngine) PushOpus(packet audio.OpusPacket) bool {
	select {
	case e.opusCh <- packet:
		return true
	case <-e.done:
		return false
	}
}

// Close marks the engine closed.
func (e *PassthroughEngine) Close() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

var _ Engine = (*TranscodeEngine)(nil)
var _ Engine = (*PassthroughEngine)(nil)

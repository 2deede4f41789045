// Package mixer implements the paced 20ms tick that drains each active
// MixLayer, sums its contribution into an accumulator, encodes the
// result to Opus (or forwards a passthrough packet), and hands it to
// the voice transport.
package mixer

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/internal/audio/pool"
	"github.com/rustalink/server/pkg/commons"
)

var errNoEncoder = errors.New("mixer: no opus encoder registered for any layer")

// LayerState is the MixLayer lifecycle.
type LayerState uint8

const (
	LayerIdle LayerState = iota
	LayerLoading
	LayerPlaying
	LayerPaused
	LayerEnded
	LayerStopped
	LayerLoadFailed
)

// Opus is the subset of the opus codec glue the Mixer needs: one
// encoder per transcoding layer.
type Opus interface {
	Encode(pcm []int16) ([]byte, error)
}

// MixLayer is one audio source contributing to the mix: either a
// TranscodeEngine's PCM channel or a PassthroughEngine's Opus channel.
type MixLayer struct {
	State    atomic.Uint32 // LayerState
	Position atomic.Uint64 // milliseconds of audio delivered
	Volume   atomic.Uint64 // float64 volume, bits = math.Float64bits

	PCM       <-chan audio.Frame
	OpusCh    <-chan audio.OpusPacket
	Passthrough bool
	Encoder   Opus

	transitionMu sync.Mutex
	transition   TransitionEffect
	stash        []int16

	seekTargetMs atomic.Int64
	seekPending  atomic.Bool

	lastFrameAtMs    atomic.Int64
	stuckThresholdMs atomic.Uint64
	stuckFired       atomic.Bool

	onTrackEnd func()
	onStuck    func()
}

// SetSeekTarget records the millisecond offset a pending seek is
// targeting. The mixer consumes it the tick it observes the seek's
// flush sentinel, storing it into Position so the first frame emitted
// after a seek reports the seeked-to position rather than resuming the
// count from wherever playback left off.
func (l *MixLayer) SetSeekTarget(ms int64) {
	l.seekTargetMs.Store(ms)
	l.seekPending.Store(true)
}

// SetStuckThreshold enables stuck-track detection: if this layer goes
// longer than thresholdMs without delivering a frame, OnStuck fires
// once per discontinuity. A threshold of 0 disables detection.
func (l *MixLayer) SetStuckThreshold(thresholdMs uint64) {
	l.stuckThresholdMs.Store(thresholdMs)
}

// OnStuck registers fn to run the first tick this layer's configured
// stuck threshold is exceeded. Must be called before the layer is
// added to a running Mixer.
func (l *MixLayer) OnStuck(fn func()) {
	l.onStuck = fn
}

func (l *MixLayer) fireStuck() {
	if l.onStuck != nil {
		l.onStuck()
	}
}

// noteFrameReceived resets the stuck-detection clock and clears any
// previously fired stuck state, called every tick this layer actually
// delivers a frame.
func (l *MixLayer) noteFrameReceived(now time.Time) {
	l.lastFrameAtMs.Store(now.UnixMilli())
	l.stuckFired.Store(false)
}

// checkStuck reports whether this layer has gone past its configured
// stuck threshold without delivering a frame, firing at most once per
// discontinuity.
func (l *MixLayer) checkStuck(now time.Time) bool {
	threshold := l.stuckThresholdMs.Load()
	if threshold == 0 {
		return false
	}
	last := l.lastFrameAtMs.Load()
	if last == 0 || now.UnixMilli()-last < int64(threshold) {
		return false
	}
	return !l.stuckFired.Swap(true)
}

// SetTransition installs (or clears, with nil) the effect the mixer
// delegates this layer's per-tick mixing to, e.g. a Crossfade into an
// incoming layer or a TapeStop ramping toward silence.
func (l *MixLayer) SetTransition(t TransitionEffect) {
	l.transitionMu.Lock()
	l.transition = t
	l.transitionMu.Unlock()
}

func (l *MixLayer) getTransition() TransitionEffect {
	l.transitionMu.Lock()
	defer l.transitionMu.Unlock()
	return l.transition
}

// OnTrackEnd registers fn to run once, the tick the layer's source
// channel closes (natural end of track). Must be called before the
// layer is added to a running Mixer.
func (l *MixLayer) OnTrackEnd(fn func()) {
	l.onTrackEnd = fn
}

func (l *MixLayer) fireTrackEnd() {
	if l.onTrackEnd != nil {
		l.onTrackEnd()
	}
}

// NewTranscodeLayer wraps a TranscodeEngine's output channel with an
// Opus encoder for the mix loop to pull from.
func NewTranscodeLayer(pcm <-chan audio.Frame, enc Opus) *MixLayer {
	l := &MixLayer{PCM: pcm, Encoder: enc}
	l.Volume.Store(floatBits(1.0))
	l.State.Store(uint32(LayerPlaying))
	l.lastFrameAtMs.Store(time.Now().UnixMilli())
	return l
}

// NewPassthroughLayer wraps a PassthroughEngine's output channel.
func NewPassthroughLayer(opusCh <-chan audio.OpusPacket) *MixLayer {
	l := &MixLayer{OpusCh: opusCh, Passthrough: true}
	l.Volume.Store(floatBits(1.0))
	l.State.Store(uint32(LayerPlaying))
	l.lastFrameAtMs.Store(time.Now().UnixMilli())
	return l
}

func floatBits(v float64) uint64 {
	return math.Float64bits(v)
}

func (l *MixLayer) volume() float64 {
	return math.Float64frombits(l.Volume.Load())
}

// SetVolume updates the layer's mix volume.
func (l *MixLayer) SetVolume(v float64) {
	l.Volume.Store(floatBits(v))
}

// Counters are the Mixer's observable tick statistics.
type Counters struct {
	FramesSent  atomic.Uint64
	FramesNulled atomic.Uint64
}

// Mixer ticks every 20ms, mixing every active layer into one Opus
// output and handing it to a Transport.
type Mixer struct {
	layers   []*MixLayer
	counters Counters
	logger   commons.Logger

	udp Transport

	wasActive bool
	stop      chan struct{}
}

// Transport is the narrow interface the Mixer needs from the voice
// link: hand it one Opus packet per tick.
type Transport interface {
	SendOpus(packet []byte) error
}

// SilenceSender is implemented by transports that can emit the
// end-of-speaking silence frames (udplink.Link does); checked with a
// type assertion so Transport itself stays minimal for tests that don't
// care about the idle tail.
type SilenceSender interface {
	SendSilence() error
}

func New(logger commons.Logger, transport Transport) *Mixer {
	return &Mixer{logger: logger, udp: transport, stop: make(chan struct{})}
}

// AddLayer registers a layer to be mixed on every subsequent tick.
func (m *Mixer) AddLayer(l *MixLayer) {
	m.layers = append(m.layers, l)
}

// Counters exposes the sent/nulled frame counts for the stats endpoint.
func (m *Mixer) Counters() *Counters {
	return &m.counters
}

// Run drives the paced tick loop until Stop is called, grounded on the
// same time.NewTicker + accumulate-then-flush shape used for the
// upstream audio pacing loop elsewhere in this codebase — generalized
// here from "one TTS frame per tick" to "sum every active layer per
// tick".
func (m *Mixer) Run() {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	deadline := time.Now().Add(audio.FrameDuration)
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			if now.Sub(deadline) > audio.FrameDuration {
				m.counters.FramesNulled.Add(1)
				deadline = now.Add(audio.FrameDuration)
				continue
			}
			deadline = deadline.Add(audio.FrameDuration)
			m.tick()
		}
	}
}

// Stop halts Run's tick loop.
func (m *Mixer) Stop() {
	close(m.stop)
}

func (m *Mixer) tick() {
	now := time.Now()
	accumBuf := pool.Int32().Acquire()
	accum := accumBuf.Resize(audio.FrameSamples)
	defer pool.Int32().Release(accumBuf)

	anyPCMLayer := false
	anyPassthroughLive := false
	var anyPassthroughPacket []byte

	for _, layer := range m.layers {
		state := LayerState(layer.State.Load())
		if state != LayerPlaying {
			continue
		}

		if layer.Passthrough {
			select {
			case pkt, ok := <-layer.OpusCh:
				if !ok {
					layer.State.Store(uint32(LayerEnded))
					layer.fireTrackEnd()
					continue
				}
				anyPassthroughLive = true
				layer.noteFrameReceived(now)
				layer.Position.Add(uint64(audio.FrameDuration.Milliseconds()))
				anyPassthroughPacket = pkt.Data
			default:
				anyPassthroughLive = true
				if layer.checkStuck(now) {
					layer.fireStuck()
				}
			}
			continue
		}

		anyPCMLayer = true
		if transition := layer.getTransition(); transition != nil {
			transition.Process(accum, layer)
			continue
		}

		select {
		case frame, ok := <-layer.PCM:
			if !ok {
				layer.State.Store(uint32(LayerEnded))
				layer.fireTrackEnd()
				continue
			}
			if frame.IsFlushSentinel() {
				layer.noteFrameReceived(now)
				if layer.seekPending.Swap(false) {
					layer.Position.Store(uint64(layer.seekTargetMs.Load()))
				}
				continue
			}
			layer.noteFrameReceived(now)
			vol := layer.volume()
			for i, s := range frame.Samples {
				if i >= len(accum) {
					break
				}
				accum[i] += int32(float64(s) * vol)
			}
			layer.Position.Add(uint64(audio.FrameDuration.Milliseconds()))
			frame.Release()
		default:
			if layer.checkStuck(now) {
				layer.fireStuck()
			}
		}
	}

	if anyPassthroughPacket != nil {
		m.send(anyPassthroughPacket)
		m.wasActive = true
		return
	}

	// A live passthrough lane still owes the transport exactly one
	// packet this tick; input jitter must not break the RTP cadence, so
	// a tick with nothing queued sends a silence frame instead.
	if anyPassthroughLive && !anyPCMLayer {
		m.send(audio.OpusSilence)
		m.wasActive = true
		return
	}

	if !anyPCMLayer {
		m.noteIdleTick()
		return
	}

	outBuf := pool.Int16().Acquire()
	out := outBuf.Resize(len(accum))
	defer pool.Int16().Release(outBuf)
	for i, v := range accum {
		out[i] = saturateI16(v)
	}

	encoded, err := m.encodeAny(out)
	if err != nil {
		m.counters.FramesNulled.Add(1)
		if m.logger != nil {
			m.logger.Warnw("opus encode failed", "error", err)
		}
		return
	}
	m.send(encoded)
	m.wasActive = true
}

// noteIdleTick fires the end-of-speaking silence tail exactly once, the
// tick this guild's mix goes from producing audio to producing none.
func (m *Mixer) noteIdleTick() {
	if !m.wasActive {
		return
	}
	m.wasActive = false
	sender, ok := m.udp.(SilenceSender)
	if !ok {
		return
	}
	if err := sender.SendSilence(); err != nil && m.logger != nil {
		m.logger.Warnw("silence frame send failed", "error", err)
	}
}

func (m *Mixer) encodeAny(pcm []int16) ([]byte, error) {
	for _, l := range m.layers {
		if l.Encoder != nil {
			return l.Encoder.Encode(pcm)
		}
	}
	return nil, errNoEncoder
}

func (m *Mixer) send(packet []byte) {
	if m.udp == nil {
		return
	}
	if err := m.udp.SendOpus(packet); err != nil {
		if m.logger != nil {
			m.logger.Warnw("udp send failed", "error", err)
		}
		return
	}
	m.counters.FramesSent.Add(1)
}

func saturateI16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Package player orchestrates one guild's audio pipeline end to end:
// resolving a track, standing up RemoteReader -> Decoder -> Engine ->
// FlowController -> Mixer, and tearing it all down again. It owns the
// context-cancellation + WaitGroup shutdown discipline a WebRTC
// streamer elsewhere in this codebase uses around its own per-call
// audio goroutines, generalized from "one WebRTC peer connection" to
// "one guild's voice player".
package player

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/internal/audio/decode"
	"github.com/rustalink/server/internal/audio/engine"
	"github.com/rustalink/server/internal/audio/flow"
	"github.com/rustalink/server/internal/audio/flow/filters"
	"github.com/rustalink/server/internal/audio/mixer"
	"github.com/rustalink/server/internal/audio/opus"
	"github.com/rustalink/server/internal/audio/remote"
	"github.com/rustalink/server/internal/audio/resample"
	"github.com/rustalink/server/internal/config"
	"github.com/rustalink/server/internal/plugins"
	"github.com/rustalink/server/internal/resolve"
	"github.com/rustalink/server/internal/session"
	"github.com/rustalink/server/pkg/commons"
)

// Pipeline is the running audio graph for one guild: the goroutines
// feeding a Mixer layer, and the handle needed to tear them down.
type Pipeline struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mix        *mixer.Mixer
	layer      *mixer.MixLayer
	chain      *flow.FilterChain
	dec        *decode.Decoder        // nil for passthrough pipelines, which don't support seeking
	eng        *engine.TranscodeEngine // nil for passthrough pipelines
	controller *flow.Controller        // nil for passthrough pipelines
}

// Stop cancels the pipeline's goroutines and blocks until they exit. A
// transcode pipeline's decode loop gets a StopCommand first so it drains
// and returns nil on its own terms instead of surfacing ctx.Canceled as
// a spurious decode error. The layer leaves Playing first so the mixer
// never mistakes the teardown's channel close for a natural track end.
func (p *Pipeline) Stop() {
	if p.layer != nil {
		p.layer.State.CompareAndSwap(uint32(mixer.LayerPlaying), uint32(mixer.LayerStopped))
	}
	if p.dec != nil {
		select {
		case p.dec.Commands() <- decode.StopCommand():
		default:
		}
	}
	p.cancel()
	p.wg.Wait()
}

// Manager binds guild Players to running Pipelines, resolving tracks
// through a resolve.Registry and mixing into one Mixer per guild.
type Manager struct {
	mu        sync.Mutex
	cfg       *config.AppConfig
	logger    commons.Logger
	resolvers *resolve.Registry
	plugins   *plugins.Loader
	restyCli  *resty.Client

	pipelines map[string]*Pipeline
}

// NewManager builds a Manager sharing one resty client across every
// RemoteReader it opens.
func NewManager(cfg *config.AppConfig, logger commons.Logger, resolvers *resolve.Registry, loader *plugins.Loader) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		resolvers: resolvers,
		plugins:   loader,
		restyCli:  resty.New(),
		pipelines: make(map[string]*Pipeline),
	}
}

// Transport is the voice link a guild's Mixer writes Opus packets to.
type Transport interface {
	SendOpus(packet []byte) error
}

// Play resolves identifier via sourceTag, tears down any existing
// pipeline for guildID, and starts a new one feeding transport. onEnd,
// if non-nil, fires exactly once when the track reaches natural end of
// stream (not on an explicit Stop/Destroy/replace) — the WebSocket
// control channel uses it to emit a TrackEnd("finished") event; REST
// callers, which have no channel to push events over, pass nil. onStuck,
// if non-nil, fires every time the running layer goes longer than the
// configured stuck threshold without delivering a frame.
func (m *Manager) Play(ctx context.Context, p *session.Player, sourceTag, identifier string, transport Transport, onEnd func(), onStuck func()) error {
	track, err := m.resolvers.Resolve(ctx, sourceTag, identifier)
	if err != nil {
		return fmt.Errorf("player: resolve %s:%s: %w", sourceTag, identifier, err)
	}

	m.Stop(p.GuildID)

	pipeline, err := m.startPipeline(ctx, p.GuildID, track, transport, onEnd, onStuck)
	if err != nil {
		return fmt.Errorf("player: start pipeline: %w", err)
	}

	m.mu.Lock()
	m.pipelines[p.GuildID] = pipeline
	m.mu.Unlock()

	p.SetTrack(&track)
	if m.plugins != nil {
		m.plugins.Fire(ctx, p.GuildID, plugins.EventStart)
	}
	return nil
}

// Stop tears down guildID's running pipeline, if any. When the player
// config enables tape_stop, a transcoded track rides out a TapeStop
// transition (cumulative playback-rate reduction toward zero) before
// the pipeline actually tears down, instead of cutting audio cold.
func (m *Manager) Stop(guildID string) {
	m.mu.Lock()
	pipeline, ok := m.pipelines[guildID]
	delete(m.pipelines, guildID)
	m.mu.Unlock()

	if !ok {
		return
	}

	if m.cfg.Player.TapeStop && pipeline.layer != nil && !pipeline.layer.Passthrough {
		m.rideOutTapeStop(pipeline)
	}
	pipeline.Stop()
}

// rideOutTapeStop installs a TapeStop transition on the outgoing layer
// and blocks until it reports the layer ended or tape_stop_duration_ms
// (plus one tick of slack) elapses, whichever comes first.
func (m *Manager) rideOutTapeStop(p *Pipeline) {
	durationMs := m.cfg.Player.TapeStopDurationMs
	if durationMs == 0 {
		return
	}
	p.layer.SetTransition(mixer.NewTapeStop(durationMs))

	deadline := time.NewTimer(time.Duration(durationMs)*time.Millisecond + audio.FrameDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return
		case <-ticker.C:
			if mixer.LayerState(p.layer.State.Load()) == mixer.LayerEnded {
				return
			}
		}
	}
}

// Filters returns guildID's live FilterChain so REST filter-update
// handlers can mutate it in place, or nil if no pipeline is running.
func (m *Manager) Filters(guildID string) *flow.FilterChain {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pipelines[guildID]; ok {
		return p.chain
	}
	return nil
}

// SetVolume updates guildID's mix volume in place.
func (m *Manager) SetVolume(guildID string, volumePct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pipelines[guildID]; ok {
		p.layer.SetVolume(float64(volumePct) / 100.0)
	}
}

// SetPaused pauses or resumes guildID's running layer. A paused layer
// is skipped by the mixer's tick, which in turn blocks the decode loop
// on engine backpressure, so the whole pipeline parks without losing a
// frame.
func (m *Manager) SetPaused(guildID string, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[guildID]
	if !ok || p.layer == nil {
		return
	}
	if paused {
		p.layer.State.CompareAndSwap(uint32(mixer.LayerPlaying), uint32(mixer.LayerPaused))
	} else {
		p.layer.State.CompareAndSwap(uint32(mixer.LayerPaused), uint32(mixer.LayerPlaying))
	}
}

// Seek requests a seek to positionMs on guildID's running track. Only
// transcoded tracks carry a Decoder to seek; passthrough (Opus) tracks
// report an error instead of silently no-oping.
//
// The flush barrier is armed and the buffered backlog destroyed here,
// not just at the sentinel's arrival: up to several seconds of pre-seek
// audio can sit in the decoder/engine channels at seek time, and left
// alone it would be played out one 20ms tick at a time before the
// sentinel ever reached the controller.
func (m *Manager) Seek(guildID string, positionMs int64) error {
	m.mu.Lock()
	p, ok := m.pipelines[guildID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("player: no pipeline running for guild %s", guildID)
	}
	if p.dec == nil || p.eng == nil || p.controller == nil {
		return fmt.Errorf("player: guild %s's current track does not support seeking", guildID)
	}

	p.controller.BeginFlush()
	p.eng.Flush()

	select {
	case p.dec.Commands() <- decode.SeekCommand(positionMs):
		if p.layer != nil {
			p.layer.SetSeekTarget(positionMs)
		}
		return nil
	default:
		p.controller.EndFlush()
		return fmt.Errorf("player: seek command queue full for guild %s", guildID)
	}
}

// StuckThresholdMs returns the configured stuck-detection threshold
// applied to every layer this Manager starts.
func (m *Manager) StuckThresholdMs() uint64 {
	return m.cfg.Player.StuckThresholdMs
}

// TotalCounters sums the sent/nulled frame counts across every running
// pipeline, for the stats endpoint.
func (m *Manager) TotalCounters() (sent, nulled uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pipelines {
		c := p.mix.Counters()
		sent += c.FramesSent.Load()
		nulled += c.FramesNulled.Load()
	}
	return sent, nulled
}

func (m *Manager) startPipeline(ctx context.Context, guildID string, track audio.TrackInfo, transport Transport, onEnd func(), onStuck func()) (*Pipeline, error) {
	pipelineCtx, cancel := context.WithCancel(ctx)

	var reader remote.Reader
	var err error
	switch {
	case strings.HasPrefix(track.URI, "file://"):
		reader, err = remote.NewFile(track.URI)
	case track.Container == audio.ContainerHLS:
		reader, err = remote.NewSegmentedFromURL(pipelineCtx, m.restyCli, track.URI, "")
	default:
		reader, err = remote.NewPlain(pipelineCtx, m.restyCli, track.URI)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	if m.logger != nil {
		m.logger.Debugw("player: opened remote reader", "uri", track.URI,
			"contentType", reader.ContentType(), "container", track.Container, "length", reader.Len())
	}

	mix := mixer.New(m.logger, transport)

	if track.Container == audio.ContainerOggOpus {
		p, err := m.startPassthrough(pipelineCtx, cancel, guildID, reader, mix, onEnd, onStuck)
		if err != nil {
			cancel()
			return nil, err
		}
		return p, nil
	}
	return m.startTranscode(pipelineCtx, cancel, guildID, reader, track, mix, onEnd, onStuck)
}

// handleNaturalEnd unregisters guildID's pipeline (only if p is still
// the one registered — a later Play/Stop may have already replaced or
// removed it) and tears it down asynchronously: called from inside the
// Mixer's own tick goroutine, so it must not block waiting on that same
// goroutine's shutdown.
func (m *Manager) handleNaturalEnd(guildID string, p *Pipeline, onEnd func()) {
	m.mu.Lock()
	if current, ok := m.pipelines[guildID]; ok && current == p {
		delete(m.pipelines, guildID)
	}
	m.mu.Unlock()

	go p.Stop()
	if onEnd != nil {
		onEnd()
	}
}

func (m *Manager) startPassthrough(ctx context.Context, cancel context.CancelFunc, guildID string, reader remote.Reader, mix *mixer.Mixer, onEnd func(), onStuck func()) (*Pipeline, error) {
	demux, err := decode.NewOggOpusDemuxer(reader)
	if err != nil {
		return nil, err
	}

	eng := engine.NewPassthroughEngine(engine.DefaultChannelCapacity)
	layer := mixer.NewPassthroughLayer(eng.OpusChannel())
	layer.SetStuckThreshold(m.cfg.Player.StuckThresholdMs)
	mix.AddLayer(layer)

	p := &Pipeline{cancel: cancel, layer: layer, mix: mix}
	layer.OnTrackEnd(func() { m.handleNaturalEnd(guildID, p, onEnd) })
	if onStuck != nil {
		layer.OnStuck(onStuck)
	}
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		mix.Run()
	}()
	go func() {
		defer p.wg.Done()
		defer eng.CloseOutput()
		defer eng.Close()
		defer reader.Close()
		for {
			packet, err := demux.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				if m.logger != nil {
					m.logger.Warnw("player: ogg/opus demux error", "error", err)
				}
				return
			}
			if !eng.PushOpus(packet) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	go func() {
		<-ctx.Done()
		eng.Close()
		mix.Stop()
	}()
	return p, nil
}

func (m *Manager) startTranscode(ctx context.Context, cancel context.CancelFunc, guildID string, reader remote.Reader, track audio.TrackInfo, mix *mixer.Mixer, onEnd func(), onStuck func()) (*Pipeline, error) {
	rs, err := resample.New(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, err
	}

	dec := decode.NewDecoder(reader, track.Container, rs)
	chain := defaultFilterChain(m.cfg)
	controller := flow.NewController(chain, m.logger)

	eng := engine.NewTranscodeEngine(engine.DefaultChannelCapacity)

	enc, err := opus.NewEncoder(0, 9)
	if err != nil {
		return nil, err
	}
	layer := mixer.NewTranscodeLayer(controller.Output(), enc)
	layer.SetStuckThreshold(m.cfg.Player.StuckThresholdMs)
	mix.AddLayer(layer)

	p := &Pipeline{cancel: cancel, layer: layer, chain: chain, mix: mix, dec: dec, eng: eng, controller: controller}
	layer.OnTrackEnd(func() { m.handleNaturalEnd(guildID, p, onEnd) })
	if onStuck != nil {
		layer.OnStuck(onStuck)
	}
	p.wg.Add(4)

	go func() {
		defer p.wg.Done()
		mix.Run()
	}()
	go func() {
		defer p.wg.Done()
		defer reader.Close()
		if err := dec.Run(ctx); err != nil && m.logger != nil {
			m.logger.Warnw("player: decode error", "error", err)
		}
	}()
	go func() {
		defer p.wg.Done()
		defer eng.Close()
		for frame := range dec.Frames() {
			if !eng.PushPCM(frame) {
				return
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		defer controller.Close()
		for {
			select {
			case frame, ok := <-eng.PCMChannel():
				if !ok {
					return
				}
				if !controller.PushPCM(frame) {
					return
				}
			case <-eng.Done():
				// Engine closed: forward whatever tail is buffered so
				// the track's last second isn't cut, then let the
				// controller close its queue behind it.
				for {
					select {
					case frame := <-eng.PCMChannel():
						if !controller.PushPCM(frame) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	go func() {
		<-ctx.Done()
		eng.Close()
		controller.Shutdown()
		mix.Stop()
	}()
	return p, nil
}

// defaultFilterChain builds the chain in its fixed processing order,
// binding only the filters the config enables.
func defaultFilterChain(cfg *config.AppConfig) *flow.FilterChain {
	var fs []filters.Filter
	fc := cfg.Filters

	if fc.IsEnabled("volume") {
		fs = append(fs, filters.NewVolume(1.0))
	}
	if fc.IsEnabled("equalizer") {
		fs = append(fs, filters.NewEqualizer())
	}
	if fc.IsEnabled("karaoke") {
		fs = append(fs, filters.NewKaraoke(1.0, 1.0, 220.0, 100.0))
	}
	if fc.IsEnabled("timescale") {
		fs = append(fs, filters.NewTimescale(1.0, 1.0, 1.0))
	}
	if fc.IsEnabled("tremolo") {
		fs = append(fs, filters.NewTremolo(2.0, 0.5))
	}
	if fc.IsEnabled("vibrato") {
		fs = append(fs, filters.NewVibrato(2.0, 0.5))
	}
	if fc.IsEnabled("rotation") {
		fs = append(fs, filters.NewRotation(0.0))
	}
	if fc.IsEnabled("distortion") {
		fs = append(fs, filters.NewDistortion(0, 1, 0, 1, 0, 1, 0, 1))
	}
	if fc.IsEnabled("channel_mix") {
		fs = append(fs, filters.NewChannelMix(1, 0, 0, 1))
	}
	if fc.IsEnabled("low_pass") {
		fs = append(fs, filters.NewLowPass(0))
	}
	return flow.NewFilterChain(fs...)
}

package mixer

import (
	"testing"
	"time"

	"github.com/rustalink/server/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	return out, nil
}

type fakeTransport struct {
	sent          [][]byte
	silenceCalls  int
}

func (f *fakeTransport) SendOpus(packet []byte) error {
	f.sent = append(f.sent, packet)
	return nil
}

func (f *fakeTransport) SendSilence() error {
	f.silenceCalls++
	return nil
}

func TestMixer_Tick_SumsTranscodeLayers(t *testing.T) {
	ch1 := make(chan audio.Frame, 1)
	ch2 := make(chan audio.Frame, 1)
	ch1 <- audio.Frame{Samples: []int16{100, 100}}
	ch2 <- audio.Frame{Samples: []int16{50, 50}}

	l1 := NewTranscodeLayer(ch1, fakeEncoder{})
	l2 := NewTranscodeLayer(ch2, nil)

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(l1)
	m.AddLayer(l2)

	m.tick()

	require.Len(t, transport.sent, 1)
	assert.Equal(t, uint64(1), m.Counters().FramesSent.Load())
}

func TestMixer_Tick_PassthroughForwardsPacketVerbatim(t *testing.T) {
	opusCh := make(chan audio.OpusPacket, 1)
	opusCh <- audio.OpusPacket{Data: []byte{1, 2, 3}}

	layer := NewPassthroughLayer(opusCh)
	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick()

	require.Len(t, transport.sent, 1)
	assert.Equal(t, []byte{1, 2, 3}, transport.sent[0])
}

func TestMixer_Tick_PassthroughLiveButNoPacket_SendsSilenceFrame(t *testing.T) {
	opusCh := make(chan audio.OpusPacket, 1)
	layer := NewPassthroughLayer(opusCh)

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	// Input jitter: the lane is live but nothing is queued this tick.
	m.tick()
	require.Len(t, transport.sent, 1)
	assert.Equal(t, audio.OpusSilence, transport.sent[0])
	assert.Equal(t, 0, transport.silenceCalls)

	// Every empty tick keeps the cadence, one silence packet each.
	m.tick()
	require.Len(t, transport.sent, 2)
	assert.Equal(t, audio.OpusSilence, transport.sent[1])
}

func TestMixer_Tick_PassthroughEndedLayer_NoSilenceCadence(t *testing.T) {
	opusCh := make(chan audio.OpusPacket, 1)
	opusCh <- audio.OpusPacket{Data: []byte{9}}
	close(opusCh)
	layer := NewPassthroughLayer(opusCh)
	layer.OnTrackEnd(func() {})

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick() // buffered packet forwarded
	require.Len(t, transport.sent, 1)

	m.tick() // channel closed: layer ends, idle tail fires once
	assert.Equal(t, LayerEnded, LayerState(layer.State.Load()))
	assert.Equal(t, 1, transport.silenceCalls)
	assert.Len(t, transport.sent, 1)
}

func TestMixer_Tick_NoActiveLayers_SendsNothing(t *testing.T) {
	transport := &fakeTransport{}
	m := New(nil, transport)
	m.tick()
	assert.Len(t, transport.sent, 0)
}

func TestMixer_Tick_ActiveToIdleTransition_SendsSilenceOnce(t *testing.T) {
	ch := make(chan audio.Frame, 1)
	ch <- audio.Frame{Samples: []int16{100, 100}}
	layer := NewTranscodeLayer(ch, fakeEncoder{})

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick() // active: encodes and sends
	require.Len(t, transport.sent, 1)
	assert.Equal(t, 0, transport.silenceCalls)

	// A playing layer with an empty channel keeps the cadence with
	// encoded silence; leaving LayerPlaying (as Pipeline.Stop does) is
	// what makes the mixer idle.
	layer.State.Store(uint32(LayerStopped))
	m.tick() // layer no longer playing: idle, transition fires once
	assert.Equal(t, 1, transport.silenceCalls)

	m.tick() // still idle: no repeat silence burst
	assert.Equal(t, 1, transport.silenceCalls)
}

func TestMixer_Tick_ClosedPCMChannel_FiresTrackEndOnce(t *testing.T) {
	ch := make(chan audio.Frame)
	close(ch)
	layer := NewTranscodeLayer(ch, fakeEncoder{})

	ended := 0
	layer.OnTrackEnd(func() { ended++ })

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick()
	assert.Equal(t, LayerEnded, LayerState(layer.State.Load()))
	assert.Equal(t, 1, ended)

	// layer no longer LayerPlaying, so a second tick skips it entirely.
	m.tick()
	assert.Equal(t, 1, ended)
}

func TestMixer_Tick_ClosedOpusChannel_FiresTrackEndOnce(t *testing.T) {
	ch := make(chan audio.OpusPacket)
	close(ch)
	layer := NewPassthroughLayer(ch)

	ended := 0
	layer.OnTrackEnd(func() { ended++ })

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick()
	assert.Equal(t, LayerEnded, LayerState(layer.State.Load()))
	assert.Equal(t, 1, ended)
}

func TestMixer_Tick_SeekFlushSentinel_SetsPositionToTarget(t *testing.T) {
	ch := make(chan audio.Frame, 2)
	ch <- audio.FlushSentinel()
	layer := NewTranscodeLayer(ch, fakeEncoder{})
	layer.Position.Store(1000)
	layer.SetSeekTarget(5000)

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick()
	assert.Equal(t, uint64(5000), layer.Position.Load())
}

func TestMixer_Tick_NoSeekPending_PositionAdvancesNormally(t *testing.T) {
	ch := make(chan audio.Frame, 1)
	ch <- audio.Frame{Samples: []int16{100, 100}}
	layer := NewTranscodeLayer(ch, fakeEncoder{})
	layer.Position.Store(1000)

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick()
	assert.Equal(t, uint64(1020), layer.Position.Load())
}

func TestMixer_Tick_StuckLayer_FiresOnStuckOnceUntilFrameArrives(t *testing.T) {
	ch := make(chan audio.Frame, 1)
	layer := NewTranscodeLayer(ch, fakeEncoder{})
	layer.SetStuckThreshold(1)
	layer.lastFrameAtMs.Store(time.Now().Add(-time.Hour).UnixMilli())

	stuck := 0
	layer.OnStuck(func() { stuck++ })

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)

	m.tick()
	assert.Equal(t, 1, stuck)

	m.tick() // still stuck, already fired: no repeat
	assert.Equal(t, 1, stuck)

	ch <- audio.Frame{Samples: []int16{1, 1}}
	m.tick() // frame arrives, resets the stuck clock
	assert.Equal(t, 1, stuck)
}

func TestMixer_Tick_PausedLayer_Skipped(t *testing.T) {
	ch := make(chan audio.Frame, 1)
	ch <- audio.Frame{Samples: []int16{100, 100}}
	layer := NewTranscodeLayer(ch, fakeEncoder{})
	layer.State.Store(uint32(LayerPaused))

	transport := &fakeTransport{}
	m := New(nil, transport)
	m.AddLayer(layer)
	m.tick()

	assert.Len(t, transport.sent, 0)
}

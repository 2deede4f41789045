package flow

import (
	"sync"
	"testing"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/internal/audio/engine"
	"github.com/rustalink/server/internal/audio/flow/filters"
	"github.com/rustalink/server/internal/audio/pool"
	"github.com/rustalink/server/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_AppliesChainAndForwards(t *testing.T) {
	vol := filters.NewVolume(2.0)
	c := NewController(NewFilterChain(vol), commons.Noop())

	ok := c.PushPCM(audio.Frame{Samples: []int16{100, -100}})
	require.True(t, ok)

	got := <-c.Output()
	assert.Equal(t, []int16{200, -200}, got.Samples)
}

// TestController_SeekFlushBarrier_DropsBackloggedFramesAcrossStages
// drives the same engine->controller forwarding shape the player wires
// up, with a backlog at both stages and no consumer draining the
// output, then arms the flush the way Manager.Seek does. Nothing
// emitted after the sentinel may be pre-seek audio, no matter how much
// of it was buffered upstream when the seek landed.
func TestController_SeekFlushBarrier_DropsBackloggedFramesAcrossStages(t *testing.T) {
	eng := engine.NewTranscodeEngine(16)
	c := NewController(NewFilterChain(), commons.Noop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Close()
		for {
			select {
			case frame, ok := <-eng.PCMChannel():
				if !ok {
					return
				}
				if !c.PushPCM(frame) {
					return
				}
			case <-eng.Done():
				for {
					select {
					case frame := <-eng.PCMChannel():
						if !c.PushPCM(frame) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	// Pre-seek backlog: the mixer side consumes nothing, so these pile
	// up across the engine channel and the controller queue.
	for i := 0; i < 8; i++ {
		require.True(t, eng.PushPCM(audio.Frame{Samples: []int16{1, 1}}))
	}

	// The seek path: arm the barrier, destroy the engine backlog, then
	// the decoder's sentinel and post-seek audio follow.
	c.BeginFlush()
	eng.Flush()
	require.True(t, eng.PushPCM(audio.FlushSentinel()))
	for i := 0; i < 4; i++ {
		require.True(t, eng.PushPCM(audio.Frame{Samples: []int16{2, 2}}))
	}
	eng.Close()
	wg.Wait()

	sawSentinel := false
	postSeek := 0
	for frame := range c.Output() {
		if frame.IsFlushSentinel() {
			sawSentinel = true
			continue
		}
		if sawSentinel {
			assert.Equal(t, int16(2), frame.Samples[0], "pre-seek frame emitted after the flush sentinel")
			postSeek++
		} else {
			t.Fatalf("frame emitted before the flush sentinel survived the armed barrier: %v", frame.Samples)
		}
	}
	require.True(t, sawSentinel)
	assert.Equal(t, 4, postSeek)
}

func TestController_SeekFlush_ReleasesDrainedPooledFrames(t *testing.T) {
	c := NewController(NewFilterChain(), commons.Noop())

	buf := pool.Int16().Acquire()
	samples := buf.Resize(2)
	samples[0], samples[1] = 7, 7
	c.PushPCM(audio.FrameFromPool(samples, buf))

	before := pool.Int16().Len()
	c.PushPCM(audio.FlushSentinel())
	assert.Equal(t, before+1, pool.Int16().Len())
}

func TestController_SeekFlush_DrainsQueue(t *testing.T) {
	vol := filters.NewVolume(2.0)
	c := NewController(NewFilterChain(vol), commons.Noop())

	c.PushPCM(audio.Frame{Samples: []int16{10, 10}})
	c.PushPCM(audio.FlushSentinel())

	got := <-c.Output()
	assert.True(t, got.IsFlushSentinel())

	select {
	case extra := <-c.Output():
		t.Fatalf("expected no further frames queued, got %v", extra)
	default:
	}
}

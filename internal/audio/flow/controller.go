package flow

import (
	"sync/atomic"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/pkg/commons"
)

// DefaultQueueCapacity bounds the FlowController's output queue the way
// the TranscodeEngine bounds its own PCM channel.
const DefaultQueueCapacity = 64

// Controller receives decoded PCM frames, applies a FilterChain, and
// queues the result for the Mixer's MixLayer to pop. On a seek-flush
// sentinel it empties its queue and resets every filter, acting as a
// discontinuity barrier the rest of the pipeline can rely on. The
// barrier is armed ahead of time via BeginFlush so frames backlogged
// in upstream channels at seek time are dropped here instead of being
// played out one tick at a time before the sentinel's turn arrives.
type Controller struct {
	chain    *FilterChain
	queue    chan audio.Frame
	flushing atomic.Bool
	done     chan struct{}
	logger   commons.Logger
}

func NewController(chain *FilterChain, logger commons.Logger) *Controller {
	return &Controller{
		chain:  chain,
		queue:  make(chan audio.Frame, DefaultQueueCapacity),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Output is the channel the Mixer's MixLayer reads from.
func (c *Controller) Output() <-chan audio.Frame {
	return c.queue
}

// PushPCM applies the filter chain to frame and enqueues it, blocking
// like the TranscodeEngine's PushPCM so a full queue throttles the
// decoder rather than dropping audio. While a flush is armed, frames
// are released and dropped instead. A seek-flush sentinel drains the
// queue, resets every filter and disarms the flush before being
// forwarded untouched. Returns false once Shutdown has been called.
func (c *Controller) PushPCM(frame audio.Frame) bool {
	if frame.IsFlushSentinel() {
		c.drain()
		c.chain.Reset()
		c.flushing.Store(false)
		select {
		case c.queue <- frame:
			return true
		case <-c.done:
			return false
		}
	}

	if c.flushing.Load() {
		frame.Release()
		return true
	}

	c.chain.Apply(frame.Samples)
	select {
	case c.queue <- frame:
		return true
	case <-c.done:
		frame.Release()
		return false
	}
}

// BeginFlush arms the seek-flush barrier ahead of the decoder's own
// sentinel: everything already queued is released now, and every frame
// arriving until the sentinel is dropped, so stale pre-seek audio never
// reaches the mixer no matter how much of it upstream channels hold.
func (c *Controller) BeginFlush() {
	c.flushing.Store(true)
	c.drain()
}

// EndFlush disarms the barrier without a sentinel, used when arming
// succeeded but handing the seek to the decoder did not.
func (c *Controller) EndFlush() {
	c.flushing.Store(false)
}

// Close closes the output queue so the mixer's layer observes end of
// stream once the buffered tail is consumed. Only the feeding goroutine
// may call it, after its final PushPCM.
func (c *Controller) Close() {
	close(c.queue)
}

// Shutdown unblocks any PushPCM parked on a full queue whose consumer
// is gone; subsequent pushes return false.
func (c *Controller) Shutdown() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Controller) drain() {
	for {
		select {
		case stale := <-c.queue:
			stale.Release()
		default:
			return
		}
	}
}

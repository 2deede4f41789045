// Package flow implements the FlowController: the stage that applies a
// FilterChain to decoded PCM and queues 20ms frames for the Mixer.
package flow

import "github.com/rustalink/server/internal/audio/flow/filters"

// FilterChain is a polymorphic ordered list of filters, applied only
// when individually enabled.
type FilterChain struct {
	filters []filters.Filter
}

// NewFilterChain builds a chain over the given filters, in the order
// they should run.
func NewFilterChain(fs ...filters.Filter) *FilterChain {
	return &FilterChain{filters: fs}
}

// Apply runs every enabled filter over samples in order.
func (c *FilterChain) Apply(samples []int16) {
	for _, f := range c.filters {
		if f.Enabled() {
			f.Process(samples)
		}
	}
}

// Reset clears every filter's internal state, invoked on a seek-flush
// sentinel.
func (c *FilterChain) Reset() {
	for _, f := range c.filters {
		f.Reset()
	}
}

// Filters exposes the chain's filters, e.g. for REST filter-update
// handlers that need to mutate a specific filter's parameters.
func (c *FilterChain) Filters() []filters.Filter {
	return c.filters
}

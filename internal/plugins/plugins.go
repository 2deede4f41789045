// Package plugins provides a registry of named lifecycle hooks,
// giving the config's `plugins` section somewhere real to bind
// without carrying any actual plugin business logic.
package plugins

import "context"

// LifecycleEvent names the points in a player's life a plugin hook
// can observe.
type LifecycleEvent string

const (
	EventLoad  LifecycleEvent = "load"
	EventStart LifecycleEvent = "start"
	EventEnd   LifecycleEvent = "end"
)

// Hook is invoked at a LifecycleEvent for the named guild.
type Hook func(ctx context.Context, guildID string, event LifecycleEvent)

// Loader holds named hooks and fires every registered hook for an
// event, in registration order.
type Loader struct {
	hooks map[string]Hook
	order []string
}

func NewLoader() *Loader {
	return &Loader{hooks: make(map[string]Hook)}
}

// Register binds name to hook, replacing any prior hook of the same
// name without changing its position in firing order.
func (l *Loader) Register(name string, hook Hook) {
	if _, exists := l.hooks[name]; !exists {
		l.order = append(l.order, name)
	}
	l.hooks[name] = hook
}

// Fire invokes every registered hook for event, in registration
// order.
func (l *Loader) Fire(ctx context.Context, guildID string, event LifecycleEvent) {
	for _, name := range l.order {
		l.hooks[name](ctx, guildID, event)
	}
}

// Names returns every registered hook name, in registration order.
func (l *Loader) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

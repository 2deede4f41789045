package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoader_FiresHooksInRegistrationOrder(t *testing.T) {
	l := NewLoader()
	var fired []string
	l.Register("b", func(ctx context.Context, guildID string, event LifecycleEvent) {
		fired = append(fired, "b")
	})
	l.Register("a", func(ctx context.Context, guildID string, event LifecycleEvent) {
		fired = append(fired, "a")
	})

	l.Fire(context.Background(), "guild-1", EventLoad)
	assert.Equal(t, []string{"b", "a"}, fired)
}

func TestLoader_ReregisterKeepsOriginalPosition(t *testing.T) {
	l := NewLoader()
	l.Register("a", func(ctx context.Context, guildID string, event LifecycleEvent) {})
	l.Register("b", func(ctx context.Context, guildID string, event LifecycleEvent) {})
	l.Register("a", func(ctx context.Context, guildID string, event LifecycleEvent) {})

	assert.Equal(t, []string{"a", "b"}, l.Names())
}

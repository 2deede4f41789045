// Package lyrics provides the LyricsProvider extension point that the
// config's single lyrics enable flag refers to. No lyrics source is
// implemented; this only gives the config surface somewhere real to
// bind.
package lyrics

import (
	"context"
	"errors"
)

// ErrNotAvailable is returned by the no-op provider for every lookup.
var ErrNotAvailable = errors.New("lyrics: provider not available")

// Line is one timed lyric line.
type Line struct {
	TimestampMs int64
	Text        string
}

// Provider looks up synced or plain lyrics for a track.
type Provider interface {
	Lyrics(ctx context.Context, identifier string) ([]Line, error)
}

// NoopProvider implements Provider with every lookup failing. Nothing
// outside this package's test constructs it.
type NoopProvider struct{}

func (NoopProvider) Lyrics(ctx context.Context, identifier string) ([]Line, error) {
	return nil, ErrNotAvailable
}

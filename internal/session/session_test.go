package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustalink/server/internal/audio"
)

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry()
	p1 := r.GetOrCreate("guild-1")
	p2 := r.GetOrCreate("guild-1")
	assert.Same(t, p1, p2)
}

func TestRegistry_DeleteRemovesPlayer(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("guild-1")
	r.Delete("guild-1")
	_, ok := r.Get("guild-1")
	assert.False(t, ok)
}

func TestRegistry_AllListsEveryPlayer(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("guild-1")
	r.GetOrCreate("guild-2")
	assert.Len(t, r.All(), 2)
}

func TestPlayer_SetTrackResetsPosition(t *testing.T) {
	p := NewPlayer("guild-1")
	p.Position = 5000
	p.SetTrack(&audio.TrackInfo{Identifier: "abc"})
	snap := p.Snapshot()
	assert.Equal(t, int64(0), snap.Position)
	assert.Equal(t, "abc", snap.Track.Identifier)
}

func TestPlayer_DefaultsToFullVolume(t *testing.T) {
	p := NewPlayer("guild-1")
	assert.Equal(t, 100, p.Snapshot().VolumePct)
}

package player

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustalink/server/internal/config"
	"github.com/rustalink/server/internal/plugins"
	"github.com/rustalink/server/internal/resolve"
	"github.com/rustalink/server/internal/session"
)

type fakeTransport struct {
	packets [][]byte
}

func (f *fakeTransport) SendOpus(packet []byte) error {
	f.packets = append(f.packets, packet)
	return nil
}

func newTestManager() *Manager {
	cfg := &config.AppConfig{}
	return NewManager(cfg, nil, resolve.NewRegistry(), plugins.NewLoader())
}

func TestManager_PlayUnimplementedSourceReturnsError(t *testing.T) {
	m := newTestManager()
	p := session.NewPlayer("guild-1")
	transport := &fakeTransport{}

	err := m.Play(context.Background(), p, "youtube", "some-id", transport, nil, nil)
	assert.ErrorIs(t, err, resolve.ErrUnimplementedSource)
}

func TestManager_StopOnUnknownGuildIsNoop(t *testing.T) {
	m := newTestManager()
	assert.NotPanics(t, func() { m.Stop("no-such-guild") })
}

func TestManager_FiltersReturnsNilWithoutRunningPipeline(t *testing.T) {
	m := newTestManager()
	assert.Nil(t, m.Filters("no-such-guild"))
}

func TestManager_SetVolumeOnUnknownGuildIsNoop(t *testing.T) {
	m := newTestManager()
	assert.NotPanics(t, func() { m.SetVolume("no-such-guild", 50) })
}

func TestManager_TotalCountersZeroWithoutPipelines(t *testing.T) {
	m := newTestManager()
	sent, nulled := m.TotalCounters()
	assert.Equal(t, uint64(0), sent)
	assert.Equal(t, uint64(0), nulled)
}

func TestManager_SetPausedOnUnknownGuildIsNoop(t *testing.T) {
	m := newTestManager()
	assert.NotPanics(t, func() { m.SetPaused("no-such-guild", true) })
}

func TestManager_SeekOnUnknownGuildReturnsError(t *testing.T) {
	m := newTestManager()
	err := m.Seek("no-such-guild", 5000)
	assert.Error(t, err)
}

func TestManager_PlayUnresolvableLocalFileReturnsError(t *testing.T) {
	m := newTestManager()
	p := session.NewPlayer("guild-1")
	transport := &fakeTransport{}

	err := m.Play(context.Background(), p, "local", "does-not-exist.wav", transport, nil, nil)
	assert.Error(t, err)
}

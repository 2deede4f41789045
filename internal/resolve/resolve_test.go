package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustalink/server/internal/audio"
)

func TestRegistry_ResolveUnknownSourceReturnsUnimplemented(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(context.Background(), "spotify", "track-id")
	assert.ErrorIs(t, err, ErrUnimplementedSource)
}

func TestRegistry_ResolveUnregisteredTagReturnsUnimplemented(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(context.Background(), "not-a-real-source", "x")
	assert.ErrorIs(t, err, ErrUnimplementedSource)
}

func TestLocalResolver_ResolvesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.wav"), []byte("RIFF"), 0o644))

	resolver := NewLocalResolver().WithRoot(dir)
	track, err := resolver.Resolve(context.Background(), "/track.wav")
	require.NoError(t, err)
	assert.Equal(t, "local", track.SourceName)
	assert.Equal(t, audio.ContainerWav, track.Container)
}

func TestLocalResolver_MissingFileReturnsNotFound(t *testing.T) {
	resolver := NewLocalResolver().WithRoot(t.TempDir())
	_, err := resolver.Resolve(context.Background(), "/missing.wav")
	assert.ErrorIs(t, err, ErrNotFound)
}

package remote

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFile_ReadsSeeksAndReportsLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFxxxx"), 0o644))

	r, err := NewFile("file://" + path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(8), r.Len())
	assert.Equal(t, "audio/wav", r.ContentType())

	buf := make([]byte, 4)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(buf))

	_, err = r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(buf))
}

func TestNewFile_MissingFileErrors(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

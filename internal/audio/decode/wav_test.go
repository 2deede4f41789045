package decode

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWav(t *testing.T, channels, sampleRate int, samples []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	byteRate := sampleRate * channels * 2
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	blockAlign := channels * 2
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	return buf.Bytes()
}

func TestParseWavHeader(t *testing.T) {
	raw := buildWav(t, 2, 48000, []int16{1, 2, 3, 4})
	h, err := ParseWavHeader(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), h.NumChannels)
	assert.Equal(t, uint32(48000), h.SampleRate)
	assert.Equal(t, uint16(16), h.BitsPerSample)
	assert.Equal(t, uint32(8), h.DataLen)
}

func TestWavFrameReader_ReadSamples(t *testing.T) {
	raw := buildWav(t, 2, 48000, []int16{10, 20, 30, 40})
	r := bytes.NewReader(raw)
	h, err := ParseWavHeader(r)
	require.NoError(t, err)

	fr := NewWavFrameReader(r, h)
	got, err := fr.ReadSamples(4)
	require.NoError(t, err)
	assert.Equal(t, []int16{10, 20, 30, 40}, got.Samples)

	_, err = fr.ReadSamples(4)
	assert.Equal(t, io.EOF, err)
}

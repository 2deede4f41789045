package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rustalink/server/internal/audio/pool"
)

// WavHeader is the subset of a canonical RIFF/WAVE header the decoder
// needs to locate the PCM data chunk.
type WavHeader struct {
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataOffset    int64
	DataLen       uint32
}

// ParseWavHeader reads a RIFF/WAVE header from r, positioned at the
// start of the file, and returns the parsed header with r left
// positioned at the start of the PCM data chunk.
func ParseWavHeader(r io.Reader) (*WavHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("decode: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("decode: not a RIFF/WAVE file")
	}

	h := &WavHeader{}
	var offset int64 = 12
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			return nil, fmt.Errorf("decode: read chunk header: %w", err)
		}
		offset += 8
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			var fmtBody [16]byte
			if _, err := io.ReadFull(r, fmtBody[:]); err != nil {
				return nil, fmt.Errorf("decode: read fmt chunk: %w", err)
			}
			h.NumChannels = binary.LittleEndian.Uint16(fmtBody[2:4])
			h.SampleRate = binary.LittleEndian.Uint32(fmtBody[4:8])
			h.BitsPerSample = binary.LittleEndian.Uint16(fmtBody[14:16])
			offset += 16
			if extra := int64(chunkSize) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra); err != nil {
					return nil, err
				}
				offset += extra
			}
		case "data":
			h.DataOffset = offset
			h.DataLen = chunkSize
			return h, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return nil, fmt.Errorf("decode: skip chunk %q: %w", chunkID, err)
			}
			offset += int64(chunkSize)
		}
	}
}

// WavFrameReader reads successive PCM frames (as int16 samples) out of
// a WAV data chunk.
type WavFrameReader struct {
	r      io.Reader
	header *WavHeader
}

func NewWavFrameReader(r io.Reader, header *WavHeader) *WavFrameReader {
	return &WavFrameReader{r: r, header: header}
}

// ReadSamples reads up to n interleaved int16 samples (across all
// source channels), returning fewer at EOF. The returned buffer is
// acquired from the process-wide int16 pool; the caller releases it
// once the samples are no longer needed.
func (w *WavFrameReader) ReadSamples(n int) (*pool.Buffer[int16], error) {
	buf := make([]byte, n*2)
	read, err := io.ReadFull(w.r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("decode: read wav samples: %w", err)
	}
	count := read / 2
	if err == io.EOF && count == 0 {
		return nil, io.EOF
	}
	out := pool.Int16().Acquire()
	samples := out.Resize(count)
	for i := 0; i < count; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out, nil
}

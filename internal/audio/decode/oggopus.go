package decode

import (
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/internal/audio/remote"
)

// OggOpusDemuxer parses an Ogg container carrying an Opus stream and
// yields raw Opus packets, one per page segment — the Passthrough
// engine's source, bypassing decode/encode entirely.
type OggOpusDemuxer struct {
	reader *oggreader.OggReader
	src    remote.Reader
}

// NewOggOpusDemuxer wraps src with pion's OggReader, validating the Ogg
// header.
func NewOggOpusDemuxer(src remote.Reader) (*OggOpusDemuxer, error) {
	r, _, err := oggreader.NewWith(src)
	if err != nil {
		return nil, fmt.Errorf("decode: ogg/opus header: %w", err)
	}
	return &OggOpusDemuxer{reader: r, src: src}, nil
}

// Next returns the next Opus packet, or io.EOF when the stream ends.
func (d *OggOpusDemuxer) Next() (audio.OpusPacket, error) {
	payload, _, err := d.reader.ParseNextPage()
	if err != nil {
		if err == io.EOF {
			return audio.OpusPacket{}, io.EOF
		}
		return audio.OpusPacket{}, fmt.Errorf("decode: ogg/opus page: %w", err)
	}
	return audio.OpusPacket{Data: payload}, nil
}

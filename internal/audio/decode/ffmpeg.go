package decode

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/internal/audio/pool"
)

// ffmpegPath is the binary invoked for containers with no pure-Go
// decoder in this stack (MP4/M4A, non-Opus WebM, MP3, AAC, FLAC).
var ffmpegPath = "ffmpeg"

// runFfmpeg pipes the RemoteReader's bytes into an ffmpeg subprocess
// and reads back raw s16le/48kHz/stereo PCM from its stdout, the same
// os/exec external-process idiom used to invoke a local audio player
// elsewhere in this codebase — generalized here to subprocess decode
// rather than subprocess playback. A seek restarts the subprocess
// against the reader repositioned to the start, since ffmpeg fed over
// a pipe can't demuxer-seek a non-seekable stdin; the new session's
// -ss runs output-side so decode starts over and discards samples
// before the target instead.
func (d *Decoder) runFfmpeg(ctx context.Context) error {
	seekMs := int64(0)
	for {
		next, err := d.runFfmpegSession(ctx, seekMs)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		seekMs = *next
	}
}

func (d *Decoder) runFfmpegSession(ctx context.Context, seekMs int64) (*int64, error) {
	if _, err := d.reader.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("decode: ffmpeg seek reset: %w", err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	if seekMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(seekMs)/1000))
	}
	args = append(args,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", audio.SampleRate),
		"-ac", fmt.Sprintf("%d", audio.Channels),
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdin = d.reader

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: ffmpeg start: %w", err)
	}
	defer cmd.Wait()

	frameBytes := audio.FrameSamples * 2
	raw := make([]byte, frameBytes)

	for {
		select {
		case c := <-d.commands:
			if c.Seek == nil {
				cmd.Process.Kill()
				return nil, nil
			}
			cmd.Process.Kill()
			d.frames <- audio.FlushSentinel()
			target := *c.Seek
			return &target, nil
		case <-ctx.Done():
			cmd.Process.Kill()
			return nil, ctx.Err()
		default:
		}

		n, err := io.ReadFull(stdout, raw)
		if n > 0 {
			buf := pool.Int16().Acquire()
			samples := bytesToInt16(buf, raw[:n-(n%2)])
			d.frames <- audio.FrameFromPool(samples, buf)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode: ffmpeg read: %w", err)
		}
	}
}

// bytesToInt16 decodes little-endian PCM16 bytes into buf's backing
// array, resized to fit.
func bytesToInt16(buf *pool.Buffer[int16], b []byte) []int16 {
	out := buf.Resize(len(b) / 2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

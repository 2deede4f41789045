// Package decode probes a RemoteReader for its codec and produces
// 20ms PCM frames (resampled to 48kHz stereo), or — for already-Opus
// containers — leaves decoding to the Passthrough engine entirely.
package decode

import (
	"context"
	"fmt"
	"io"

	"github.com/rustalink/server/internal/audio"
	"github.com/rustalink/server/internal/audio/pool"
	"github.com/rustalink/server/internal/audio/remote"
	"github.com/rustalink/server/internal/audio/resample"
)

// Command is sent over a Decoder's command channel to request a seek or
// a stop.
type Command struct {
	Seek *int64 // milliseconds, nil means this is a Stop
}

// StopCommand returns a Command that requests the decode loop drain and
// return.
func StopCommand() Command { return Command{} }

// SeekCommand returns a Command that requests a seek to the given
// millisecond offset.
func SeekCommand(ms int64) Command { return Command{Seek: &ms} }

// Decoder turns a RemoteReader + declared ContainerKind into a stream of
// 20ms PCM frames on Frames(), honoring Seek/Stop commands sent on Commands().
type Decoder struct {
	reader    remote.Reader
	container audio.ContainerKind
	resampler *resample.Resampler

	frames   chan audio.Frame
	commands chan Command
}

// NewDecoder builds a Decoder for the given reader/container. Callers
// must call Run in its own goroutine.
func NewDecoder(r remote.Reader, kind audio.ContainerKind, rs *resample.Resampler) *Decoder {
	return &Decoder{
		reader:    r,
		container: kind,
		resampler: rs,
		frames:    make(chan audio.Frame, 4),
		commands:  make(chan Command, 1),
	}
}

func (d *Decoder) Frames() <-chan audio.Frame   { return d.frames }
func (d *Decoder) Commands() chan<- Command     { return d.commands }

// Run drives the decode loop until Stop is sent or the reader is
// exhausted, emitting a seek-flush sentinel on every Seek before
// resuming output.
func (d *Decoder) Run(ctx context.Context) error {
	defer close(d.frames)

	switch d.container {
	case audio.ContainerWav:
		return d.runWav(ctx)
	case audio.ContainerOggOpus:
		return fmt.Errorf("decode: ogg/opus container should use the passthrough engine, not Decoder")
	case audio.ContainerMp4, audio.ContainerWebm, audio.ContainerMp3, audio.ContainerAac, audio.ContainerFlac, audio.ContainerHLS:
		return d.runFfmpeg(ctx)
	default:
		return fmt.Errorf("decode: unsupported container kind %q", d.container)
	}
}

func (d *Decoder) runWav(ctx context.Context) error {
	header, err := ParseWavHeader(d.reader)
	if err != nil {
		return err
	}
	// The resampler handed in at construction assumes the pipeline
	// target; the header is the first place the source's real rate and
	// channel count are known, so rebuild when they differ.
	if int(header.SampleRate) != audio.SampleRate || int(header.NumChannels) != audio.Channels {
		rs, err := resample.New(int(header.SampleRate), int(header.NumChannels))
		if err != nil {
			return err
		}
		d.resampler = rs
	}
	fr := NewWavFrameReader(d.reader, header)

	// One read covers 20ms of source audio; after resampling that may
	// not land on an exact 1920-sample frame, so acc re-chunks output
	// into the fixed frame size the mixer ticks on.
	chunk := int(header.SampleRate) / 50 * int(header.NumChannels)
	if chunk <= 0 {
		return fmt.Errorf("decode: wav header reports unusable rate/channels (%d Hz, %d ch)", header.SampleRate, header.NumChannels)
	}
	var acc []int16

	for {
		select {
		case cmd := <-d.commands:
			if cmd.Seek == nil {
				return nil
			}
			if err := d.seekWav(header, *cmd.Seek); err != nil {
				return err
			}
			fr = NewWavFrameReader(d.reader, header)
			acc = acc[:0]
			d.frames <- audio.FlushSentinel()
			continue
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buf, err := fr.ReadSamples(chunk)
		if err == io.EOF {
			d.flushAccumulated(&acc)
			return nil
		}
		if err != nil {
			return err
		}
		if len(buf.Samples) == 0 {
			pool.Int16().Release(buf)
			d.flushAccumulated(&acc)
			return nil
		}

		if d.resampler == nil || d.resampler.SamePCM() {
			d.frames <- audio.FrameFromPool(buf.Samples, buf)
			continue
		}

		resampled, err := d.resampler.Process(buf.Samples)
		pool.Int16().Release(buf)
		if err != nil {
			return err
		}
		acc = append(acc, resampled...)
		for len(acc) >= audio.FrameSamples {
			out := pool.Int16().Acquire()
			frame := out.Resize(audio.FrameSamples)
			copy(frame, acc[:audio.FrameSamples])
			acc = acc[:copy(acc, acc[audio.FrameSamples:])]
			d.frames <- audio.FrameFromPool(frame, out)
		}
	}
}

// flushAccumulated emits whatever sub-frame remainder the re-chunker is
// still holding as one short final frame, so the track's tail isn't
// swallowed at EOF.
func (d *Decoder) flushAccumulated(acc *[]int16) {
	if len(*acc) == 0 {
		return
	}
	out := pool.Int16().Acquire()
	frame := out.Resize(len(*acc))
	copy(frame, *acc)
	*acc = (*acc)[:0]
	d.frames <- audio.FrameFromPool(frame, out)
}

func (d *Decoder) seekWav(header *WavHeader, ms int64) error {
	bytesPerSample := int64(header.BitsPerSample / 8)
	byteOffset := header.DataOffset + (ms*int64(header.SampleRate)/1000)*bytesPerSample*int64(header.NumChannels)
	_, err := d.reader.Seek(byteOffset, io.SeekStart)
	if d.resampler != nil {
		d.resampler.Reset()
	}
	return err
}

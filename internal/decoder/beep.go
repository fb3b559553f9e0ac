package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/streamcast/internal/source"
)

const probeSize = 12

const resampleQuality = 4

// beepDecoder decodes MP3, Ogg Vorbis, WAV and FLAC sources through the
// beep codec packages, resampling to the fixed output format when the
// source rate differs.
type beepDecoder struct {
	stream   *source.Stream
	raw      beep.StreamSeekCloser
	out      beep.Streamer // raw, or a resampler wrapping it
	nativeSR beep.SampleRate
	scratch  [][2]float64
}

// Open connects to ref and prepares a decoder for its first audio stream.
// The container is detected by probing the leading bytes, not declared by
// the caller.
func Open(ctx context.Context, ref string, opts source.Options) (Decoder, error) {
	stream, err := source.Open(ctx, ref, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	// Local files keep their native seekability so the codec can report
	// length and honor seeks; network streams are probed through a
	// buffered reader instead.
	var (
		head []byte
		rc   io.ReadCloser
	)
	if rs := stream.Seeker(); rs != nil {
		head = make([]byte, probeSize)
		if _, err := io.ReadFull(rs, head); err != nil {
			stream.Close()
			return nil, fmt.Errorf("failed to probe source: %w", err)
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			stream.Close()
			return nil, fmt.Errorf("failed to rewind after probe: %w", err)
		}
		rc = &seekableReadCloser{ReadSeeker: rs, c: stream}
	} else {
		buffered := bufio.NewReaderSize(stream, 32*1024)
		head, err = buffered.Peek(probeSize)
		if err != nil {
			stream.Close()
			return nil, fmt.Errorf("failed to probe source: %w", err)
		}
		rc = &probedReader{r: buffered, c: stream}
	}

	kind := probe(head)
	log.Debug().Str("container", kind).Msgf("Probed source %s", ref)

	var (
		raw    beep.StreamSeekCloser
		format beep.Format
	)
	switch kind {
	case "ogg":
		raw, format, err = vorbis.Decode(rc)
	case "wav":
		raw, format, err = wav.Decode(rc)
	case "flac":
		raw, format, err = flac.Decode(rc)
	case "mp3":
		raw, format, err = mp3.Decode(rc)
	default:
		stream.Close()
		return nil, ErrNoAudioStream
	}
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to initialize %s decoder: %w", kind, err)
	}

	d := &beepDecoder{
		stream:   stream,
		raw:      raw,
		out:      raw,
		nativeSR: format.SampleRate,
	}
	if format.SampleRate != beep.SampleRate(SampleRate) {
		d.out = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(SampleRate), raw)
		log.Debug().Msgf("Resampling %d Hz -> %d Hz", format.SampleRate, SampleRate)
	}
	return d, nil
}

// probe identifies the container from its magic bytes. MP3 is matched last
// because a bare frame sync has no unambiguous signature.
func probe(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(head, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(head, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(head, []byte("ID3")):
		return "mp3"
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return ""
	}
}

func (d *beepDecoder) DecodeFrame(out []byte) (int, bool) {
	frames := len(out) / BytesPerFrame
	if frames == 0 {
		return 0, true
	}
	if cap(d.scratch) < frames {
		d.scratch = make([][2]float64, frames)
	}

	n, ok := d.out.Stream(d.scratch[:frames])
	if !ok {
		if err := d.raw.Err(); err != nil {
			log.Error().Err(err).Msg("Decode error, treating as end of stream")
		}
		return 0, false
	}

	for i := 0; i < n; i++ {
		l := sampleToInt16(d.scratch[i][0])
		r := sampleToInt16(d.scratch[i][1])
		out[i*4] = byte(l)
		out[i*4+1] = byte(l >> 8)
		out[i*4+2] = byte(r)
		out[i*4+3] = byte(r >> 8)
	}
	return n * BytesPerFrame, true
}

func (d *beepDecoder) Seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	if d.raw.Len() <= 0 {
		return ErrNotSeekable
	}

	// Sample index in the source's native rate; clamped and biased down so
	// a seek never lands past the end.
	pos := int(seconds * float64(d.nativeSR))
	if pos >= d.raw.Len() {
		pos = d.raw.Len() - 1
	}
	if err := d.raw.Seek(pos); err != nil {
		return fmt.Errorf("failed to seek to %.2fs: %w", seconds, err)
	}
	// The resampler reads ahead of the emitted position, so its internal
	// buffers still hold pre-seek samples. Rebuild it on the repositioned
	// source instead of letting that audio leak out.
	if d.nativeSR != beep.SampleRate(SampleRate) {
		d.out = beep.Resample(resampleQuality, d.nativeSR, beep.SampleRate(SampleRate), d.raw)
	}
	return nil
}

func (d *beepDecoder) Duration() float64 {
	if d.raw.Len() <= 0 {
		return 0
	}
	return float64(d.raw.Len()) / float64(d.nativeSR)
}

func (d *beepDecoder) Progress() (int64, int64) {
	return d.stream.Progress()
}

func (d *beepDecoder) Close() error {
	err := d.raw.Close()
	if cerr := d.stream.Close(); err == nil {
		err = cerr
	}
	return err
}

func sampleToInt16(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// probedReader rejoins the buffered probe bytes with the underlying stream
// so the codec sees the source from byte zero.
type probedReader struct {
	r io.Reader
	c io.Closer
}

func (p *probedReader) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *probedReader) Close() error               { return p.c.Close() }

// seekableReadCloser exposes a file source to the codec with its Seek
// method intact.
type seekableReadCloser struct {
	io.ReadSeeker
	c io.Closer
}

func (s *seekableReadCloser) Close() error { return s.c.Close() }

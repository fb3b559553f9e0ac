// Package decoder turns a compressed audio source into fixed-format PCM.
// Output is always interleaved 16-bit little-endian stereo at 44.1 kHz,
// independent of the source format.
package decoder

import "errors"

const (
	// SampleRate is the fixed output sample rate in Hz.
	SampleRate = 44100
	// Channels is the fixed output channel count.
	Channels = 2
	// BytesPerFrame is the size of one interleaved output frame (s16le stereo).
	BytesPerFrame = Channels * 2
)

var (
	// ErrNoAudioStream is returned when the source cannot be identified as
	// any supported audio container.
	ErrNoAudioStream = errors.New("source contains no decodable audio stream")
	// ErrNotSeekable is returned by Seek for sources that cannot rewind,
	// such as live HTTP streams.
	ErrNotSeekable = errors.New("source is not seekable")
)

// Decoder produces fixed-format PCM from a compressed source. Implementations
// are owned by a single goroutine; none of the methods are safe for
// concurrent use.
type Decoder interface {
	// DecodeFrame decodes the next chunk of audio into out and returns the
	// number of bytes written. ok is false on end-of-stream or an
	// unrecoverable decode error, after which no more data will follow.
	DecodeFrame(out []byte) (n int, ok bool)

	// Seek repositions the source to the given offset in seconds. The ring
	// buffer is not touched here; the caller coordinates clearing it.
	Seek(seconds float64) error

	// Duration returns the source length in seconds, or 0 when unknown
	// (live streams).
	Duration() float64

	// Progress returns bytes downloaded from the source so far and the
	// total size when known (0 for live streams).
	Progress() (downloaded, total int64)

	Close() error
}

// BytesForDuration returns the output byte count covering d seconds,
// rounded down to a whole frame.
func BytesForDuration(d float64) int {
	frames := int(d * SampleRate)
	return frames * BytesPerFrame
}

// DurationForBytes returns the playback time in seconds of n output bytes.
func DurationForBytes(n int) float64 {
	return float64(n/BytesPerFrame) / SampleRate
}

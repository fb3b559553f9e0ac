// Package sink abstracts the hardware audio output. The engine pushes
// fixed-size PCM grains; the real implementation hands them to an oto
// player that pads with silence when the engine falls behind, so the
// device is never starved and pushes never block indefinitely.
package sink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/streamcast/internal/ring"
)

// ErrClosed is returned by Write after the sink has been closed.
var ErrClosed = errors.New("sink is closed")

// Sink is an open audio output device accepting interleaved s16le PCM.
type Sink interface {
	// Write queues one grain for playback. It never blocks on the device;
	// if the device cannot keep up the oldest queued audio is dropped.
	Write(grain []byte) error

	// SetVolume sets the output gain, clamped to [0, 1]. Takes effect
	// immediately, independent of queued audio.
	SetVolume(v float64)

	Close() error
}

// Config describes the fixed output format chosen at engine initialization.
type Config struct {
	SampleRate int
	Channels   int
	// GrainBytes is the size of one grain; the device-side queue holds a
	// few grains of headroom.
	GrainBytes int
}

type otoSink struct {
	player *oto.Player
	feed   *feeder
}

// NewOto opens the platform audio device. The oto context is process-wide;
// opening a second sink while one is active fails at the device layer.
func NewOto(cfg Config) (Sink, error) {
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	feed := newFeeder(cfg.GrainBytes * 4)
	player := octx.NewPlayer(feed)
	player.Play()

	log.Debug().Int("sampleRate", cfg.SampleRate).Int("channels", cfg.Channels).
		Int("grainBytes", cfg.GrainBytes).Msg("Audio device opened")

	return &otoSink{player: player, feed: feed}, nil
}

func (s *otoSink) Write(grain []byte) error {
	return s.feed.push(grain)
}

func (s *otoSink) SetVolume(v float64) {
	s.player.SetVolume(Clamp(v))
}

func (s *otoSink) Close() error {
	s.feed.close()
	return s.player.Close()
}

// Clamp bounds a volume scalar to [0, 1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// feeder bridges the push-model engine to oto's pull-model player. Reads
// that outrun the queued audio are padded with silence instead of blocking,
// which keeps oto's pipeline flowing during underruns.
type feeder struct {
	buf    *ring.Buffer
	mu     sync.Mutex
	closed bool
}

func newFeeder(capacity int) *feeder {
	return &feeder{buf: ring.New(capacity + 1)}
}

func (f *feeder) push(grain []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	// Drop the oldest audio when the device queue is full; the engine's
	// cadence is the authoritative clock, not the device queue.
	if free := f.buf.Free(); free < len(grain) {
		discard := make([]byte, len(grain)-free)
		f.buf.Read(discard)
		log.Debug().Int("bytes", len(discard)).Msg("Sink queue overrun, dropped oldest audio")
	}
	f.buf.Write(grain)
	return nil
}

func (f *feeder) Read(p []byte) (int, error) {
	f.mu.Lock()
	closed := f.closed
	n := f.buf.Read(p)
	f.mu.Unlock()

	if closed && n == 0 {
		return 0, errors.New("feeder closed")
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (f *feeder) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Package engine implements the progressive streaming core: a decode worker
// fills a ring buffer over which an output worker feeds the audio device at
// a fixed cadence, so network and decode jitter never interrupt playback.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/streamcast/internal/decoder"
	"github.com/avoronov/streamcast/internal/sink"
	"github.com/avoronov/streamcast/internal/source"
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// State is the controller's coarse lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StatePlaying
	StatePaused
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBuffering:
		return "BUFFERING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateEnded:
		return "ENDED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateFunc receives playback progress once per output cadence cycle.
type StateFunc func(playing bool, position, duration float64)

// ErrorFunc receives a message on unrecoverable open/init failure.
type ErrorFunc func(message string)

// ProgressFunc receives download byte counters; total is 0 when unknown.
type ProgressFunc func(downloaded, total int64)

// OpenDecoderFunc opens a decoder for a source reference. Tests substitute
// a synthetic PCM generator here.
type OpenDecoderFunc func(ctx context.Context, ref string, opts source.Options) (decoder.Decoder, error)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// RingCapacity is the shared buffer size in bytes.
	RingCapacity int
	// GrainBytes is the amount of PCM pushed to the sink per cadence cycle.
	GrainBytes int
	// LowWater pauses the producer while free space is below it.
	LowWater int
	// Backoff is the bounded sleep used by both workers when they cannot
	// make progress.
	Backoff time.Duration
	// Source carries open-time resilience options.
	Source source.Options
	// OpenDecoder defaults to decoder.Open.
	OpenDecoder OpenDecoderFunc
}

func (c Config) withDefaults() Config {
	if c.RingCapacity <= 0 {
		c.RingCapacity = 2 * decoder.SampleRate * decoder.BytesPerFrame // ~2s of audio
	}
	if c.GrainBytes <= 0 {
		c.GrainBytes = 4096
	}
	if c.LowWater <= 0 {
		c.LowWater = c.GrainBytes
	}
	if c.Backoff <= 0 {
		c.Backoff = 10 * time.Millisecond
	}
	if c.OpenDecoder == nil {
		c.OpenDecoder = decoder.Open
	}
	return c
}

// Controller owns the ring buffer and both workers and exposes the public
// playback API. One stream may be active at a time; callers hold a
// Controller instance rather than any process-wide state.
type Controller struct {
	cfg Config
	out sink.Sink

	mu     sync.Mutex
	sess   *session
	cancel context.CancelFunc
	volume float64

	stateMu    sync.RWMutex
	state      State
	onState    StateFunc
	onError    ErrorFunc
	onProgress ProgressFunc
}

// New creates a controller pushing audio to out.
func New(cfg Config, out sink.Sink) *Controller {
	return &Controller{
		cfg:    cfg.withDefaults(),
		out:    out,
		volume: 1.0,
	}
}

// OnState registers the per-cycle playback callback.
func (c *Controller) OnState(f StateFunc) {
	c.stateMu.Lock()
	c.onState = f
	c.stateMu.Unlock()
}

// OnError registers the fatal-failure callback.
func (c *Controller) OnError(f ErrorFunc) {
	c.stateMu.Lock()
	c.onError = f
	c.stateMu.Unlock()
}

// OnProgress registers the download-progress callback.
func (c *Controller) OnProgress(f ProgressFunc) {
	c.stateMu.Lock()
	c.onProgress = f
	c.stateMu.Unlock()
}

// StartStreaming begins playback of ref from startPosition seconds. It
// returns false without side effects when a stream is already active.
func (c *Controller) StartStreaming(ref string, startPosition float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		log.Warn().Str("ref", ref).Msg("StartStreaming rejected, session already active")
		return false
	}

	s := newSession(ref, c.cfg.RingCapacity)
	if startPosition > 0 {
		s.position.store(startPosition)
		s.requestSeek(startPosition)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.sess = s
	c.cancel = cancel

	c.out.SetVolume(c.volume)
	c.setState(StateBuffering)

	go c.runProducer(ctx, s)
	go c.runConsumer(s)

	log.Debug().Str("ref", ref).Float64("start", startPosition).Msg("Streaming started")
	return true
}

// Play resumes a paused stream. The consumer reacts within one cadence
// cycle; no goroutine is restarted.
func (c *Controller) Play() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.paused.Store(false)
	if c.State() == StatePaused {
		c.setState(StatePlaying)
	}
}

// Pause halts position advance; the consumer keeps the output clock running
// with silence.
func (c *Controller) Pause() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.paused.Store(true)
	if c.State() == StatePlaying || c.State() == StateBuffering {
		c.setState(StatePaused)
	}
}

// Stop ends the active stream, joins both workers and resets to idle. Safe
// to call when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.sess
	cancel := c.cancel
	c.sess = nil
	c.cancel = nil
	c.mu.Unlock()

	if s == nil {
		return
	}

	s.stopRequested.Store(true)
	if cancel != nil {
		cancel()
	}
	<-s.producerDone
	<-s.consumerDone
	s.buf.Clear()

	c.setState(StateIdle)
	log.Debug().Msg("Streaming stopped")
}

// SeekTo schedules an asynchronous seek; the producer applies it on its
// next iteration. Does not block.
func (c *Controller) SeekTo(seconds float64) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	s.requestSeek(seconds)
}

// SetVolume clamps v to [0, 1] and applies it to the sink immediately.
func (c *Controller) SetVolume(v float64) {
	v = sink.Clamp(v)
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
	c.out.SetVolume(v)
}

// Volume returns the last volume set.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetSpeed stores a playback-rate multiplier clamped to [0.5, 2.0]. The
// multiplier is not yet wired into the resample path, so it does not alter
// audible output.
func (c *Controller) SetSpeed(speed float64) {
	if speed < MinSpeed {
		speed = MinSpeed
	}
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		s.speed.store(speed)
	}
}

// Speed returns the stored playback-rate multiplier.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return 1.0
	}
	return s.speed.load()
}

// Position returns the approximate playback position in seconds.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.position.load()
}

// Duration returns the source duration in seconds, or 0 when unknown.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.duration.load()
}

// IsStreaming reports whether a session is active.
func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// IsPaused reports whether the active session is paused.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	return s != nil && s.paused.Load()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(state State) {
	c.stateMu.Lock()
	if c.state != state {
		log.Debug().Msgf("Engine state: %s -> %s", c.state, state)
		c.state = state
	}
	c.stateMu.Unlock()
}

func (c *Controller) notifyState(playing bool, position, duration float64) {
	c.stateMu.RLock()
	f := c.onState
	c.stateMu.RUnlock()
	if f != nil {
		f(playing, position, duration)
	}
}

func (c *Controller) notifyError(message string) {
	c.stateMu.RLock()
	f := c.onError
	c.stateMu.RUnlock()
	if f != nil {
		f(message)
	}
}

func (c *Controller) notifyProgress(downloaded, total int64) {
	c.stateMu.RLock()
	f := c.onProgress
	c.stateMu.RUnlock()
	if f != nil {
		f(downloaded, total)
	}
}

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Empty decodes tolerated in a row before the producer treats the source as
// exhausted.
const maxConsecutiveEmptyDecodes = 32

const progressInterval = 500 * time.Millisecond

// runProducer opens the decoder and pumps PCM into the ring buffer until
// the source is exhausted or a stop is requested. Decoder state is owned
// exclusively by this goroutine.
func (c *Controller) runProducer(ctx context.Context, s *session) {
	defer close(s.producerDone)

	dec, err := c.cfg.OpenDecoder(ctx, s.ref, c.cfg.Source)
	if err != nil {
		// A Stop during connect cancels the context; that is not an open
		// failure and must not reach the error callback.
		if s.stopRequested.Load() || errors.Is(err, context.Canceled) {
			log.Debug().Str("ref", s.ref).Msg("Open aborted by stop")
			s.ended.Store(true)
			return
		}
		log.Error().Err(err).Str("ref", s.ref).Msg("Failed to open audio source")
		c.setState(StateError)
		c.notifyError(err.Error())
		s.ended.Store(true)
		return
	}
	defer dec.Close()

	if d := dec.Duration(); d > 0 {
		s.duration.store(d)
	}
	if c.State() == StateBuffering && !s.paused.Load() {
		c.setState(StatePlaying)
	}

	chunk := make([]byte, c.cfg.GrainBytes)
	emptyDecodes := 0
	lastProgress := time.Time{}

	for !s.stopRequested.Load() {
		if target, ok := s.takeSeek(); ok {
			if err := dec.Seek(target); err != nil {
				// Non-seekable source: consume the request without effect.
				log.Warn().Err(err).Float64("target", target).Msg("Seek not applied")
			} else {
				// Clear only after the decoder has committed to the new
				// position, and before any post-seek data is written, so
				// the consumer never reads stale audio.
				s.buf.Clear()
				s.position.store(target)
				log.Debug().Float64("target", target).Msg("Seek applied")
			}
			continue
		}

		if s.buf.Free() < c.cfg.LowWater {
			time.Sleep(c.cfg.Backoff)
			continue
		}

		n, ok := dec.DecodeFrame(chunk)
		if !ok {
			log.Debug().Msg("Source exhausted, decode worker exiting")
			break
		}
		if n == 0 {
			emptyDecodes++
			if emptyDecodes >= maxConsecutiveEmptyDecodes {
				log.Warn().Msg("Decoder stopped producing data, treating as end of stream")
				break
			}
			time.Sleep(c.cfg.Backoff)
			continue
		}
		emptyDecodes = 0

		// Bounded-sleep retry until the whole chunk lands; a pending seek
		// or stop aborts the remainder.
		off := 0
		for off < n && !s.stopRequested.Load() {
			if s.hasPendingSeek() {
				break
			}
			off += s.buf.Write(chunk[off:n])
			if off < n {
				time.Sleep(c.cfg.Backoff)
			}
		}

		if time.Since(lastProgress) >= progressInterval {
			lastProgress = time.Now()
			if downloaded, total := dec.Progress(); downloaded > 0 {
				c.notifyProgress(downloaded, total)
			}
		}
	}

	s.ended.Store(true)
}

package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/streamcast/internal/decoder"
)

// runConsumer drains the ring buffer at a fixed cadence of one grain per
// cycle and pushes the result to the sink. It never waits for data: an
// underrun is padded with silence so audible output cannot stall.
func (c *Controller) runConsumer(s *session) {
	defer close(s.consumerDone)

	grainDur := time.Duration(decoder.DurationForBytes(c.cfg.GrainBytes) * float64(time.Second))
	ticker := time.NewTicker(grainDur)
	defer ticker.Stop()

	grain := make([]byte, c.cfg.GrainBytes)

	for !s.stopRequested.Load() {
		<-ticker.C
		if s.stopRequested.Load() {
			return
		}

		if s.paused.Load() {
			// A full grain of silence keeps the output clock running;
			// position does not advance.
			zero(grain)
			if err := c.out.Write(grain); err != nil {
				log.Error().Err(err).Msg("Sink write failed while paused")
			}
			c.notifyState(false, s.position.load(), s.duration.load())
			continue
		}

		n := s.buf.Read(grain)
		zero(grain[n:])

		if err := c.out.Write(grain); err != nil {
			// Sink errors are not fatal; keep emitting subsequent grains.
			log.Error().Err(err).Msg("Sink write failed")
		}

		// Approximate clock: advance by the audio actually played, not by
		// padded silence.
		if n > 0 {
			s.position.add(decoder.DurationForBytes(n))
		}

		playing := n > 0 || !s.ended.Load()
		if s.ended.Load() && n == 0 && s.buf.Available() == 0 {
			if st := c.State(); st == StatePlaying || st == StateBuffering {
				c.setState(StateEnded)
				log.Debug().Float64("position", s.position.load()).Msg("Playback drained to end of stream")
			}
		}

		c.notifyState(playing, s.position.load(), s.duration.load())
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

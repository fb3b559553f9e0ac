package engine

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/avoronov/streamcast/internal/ring"
)

// session holds the state shared between the controller and the two worker
// goroutines of one active stream. Flags and position are atomics; the
// pending seek is an explicit flag/target pair behind its own mutex so a
// seek to zero is representable.
type session struct {
	ref string
	buf *ring.Buffer

	stopRequested atomic.Bool
	paused        atomic.Bool
	ended         atomic.Bool // producer exhausted the source

	position atomicFloat64 // seconds, advanced by the consumer
	duration atomicFloat64 // seconds, set by the producer once known
	speed    atomicFloat64

	seekMu      sync.Mutex
	seekPending bool
	seekTarget  float64

	producerDone chan struct{}
	consumerDone chan struct{}
}

func newSession(ref string, capacity int) *session {
	s := &session{
		ref:          ref,
		buf:          ring.New(capacity),
		producerDone: make(chan struct{}),
		consumerDone: make(chan struct{}),
	}
	s.speed.store(1.0)
	return s
}

// requestSeek records a seek target for the producer to apply.
func (s *session) requestSeek(target float64) {
	s.seekMu.Lock()
	s.seekPending = true
	s.seekTarget = target
	s.seekMu.Unlock()
}

func (s *session) hasPendingSeek() bool {
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	return s.seekPending
}

// takeSeek consumes the pending seek target, if any.
func (s *session) takeSeek() (float64, bool) {
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	if !s.seekPending {
		return 0, false
	}
	s.seekPending = false
	return s.seekTarget, true
}

type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat64) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat64) add(delta float64) {
	for {
		old := f.bits.Load()
		v := math.Float64frombits(old) + delta
		if f.bits.CompareAndSwap(old, math.Float64bits(v)) {
			return
		}
	}
}

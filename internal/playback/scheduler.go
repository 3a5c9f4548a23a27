// Package playback schedules decoded assistant speech on an audio output so
// that consecutive buffers play back to back without gaps or overlaps.
//
// The scheduler keeps a "next start" cursor on the output clock. Each buffer
// starts at the later of the cursor and the current clock position, and
// advances the cursor by the buffer's duration. Flush stops everything that
// is still scheduled and rewinds the cursor to the present, which is how an
// interruption discards unplayed speech.
package playback

import (
	"sync"
	"time"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

// Stats counts buffers by outcome over the scheduler's lifetime.
type Stats struct {
	Scheduled int
	Finished  int
	Flushed   int
}

// Scheduler orders assistant buffers on an [audio.Output]. All methods are
// safe for concurrent use.
type Scheduler struct {
	out audio.Output

	mu        sync.Mutex
	nextStart time.Duration
	nextID    uint64
	active    map[uint64]audio.Voice
	stats     Stats
	onIdle    func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIdleFunc registers fn to run whenever the last scheduled buffer
// finishes naturally. It runs on the output's callback goroutine.
func WithIdleFunc(fn func()) Option {
	return func(s *Scheduler) { s.onIdle = fn }
}

// New returns a Scheduler that plays on out.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		active: make(map[uint64]audio.Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf to start when everything previously enqueued has
// finished, or immediately if the output is idle. It returns the clock
// position at which buf starts. Empty buffers are ignored and return the
// current cursor.
func (s *Scheduler) Enqueue(buf *audio.Buffer) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buf == nil || buf.Len() == 0 {
		return s.nextStart
	}

	start := max(s.nextStart, s.out.Now())
	s.nextStart = start + buf.Duration()

	id := s.nextID
	s.nextID++
	s.stats.Scheduled++

	// The voice is registered before the output can call back, because the
	// lock is held until Enqueue returns.
	s.active[id] = s.out.Schedule(buf, start, func() { s.finished(id) })
	return start
}

// finished is the natural-completion callback for the buffer with the given id.
func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		// Flushed between the output deciding to end it and this callback.
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	s.stats.Finished++
	idle := len(s.active) == 0
	fn := s.onIdle
	s.mu.Unlock()

	if idle && fn != nil {
		fn()
	}
}

// Flush stops every buffer that has not finished, forgets them and resets the
// cursor to the current clock position so the next buffer starts
// immediately. It returns the number of buffers stopped.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	voices := make([]audio.Voice, 0, len(s.active))
	for id, v := range s.active {
		voices = append(voices, v)
		delete(s.active, id)
	}
	s.stats.Flushed += len(voices)
	s.nextStart = s.out.Now()
	s.mu.Unlock()

	// Stopping outside the lock keeps a synchronous output from deadlocking
	// against its own callbacks.
	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Pending returns the number of scheduled buffers that have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the clock position at which the next enqueued buffer
// would start if the output clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Stats returns lifetime buffer counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

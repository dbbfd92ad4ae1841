// Package timesource provides the scheduler's monotonic wall-clock and
// its deterministic-seedable PRNG (spec §2, §4.2, §4.7 "daytime
// auto-assignment"). Both are scaled/seeded the same way in production
// and in tests so schedule-engine arithmetic is reproducible.
package timesource

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Minutes is scaled wall-clock time: unix-time / time-scale (spec
// Glossary "Scaled minutes"). One unit equals one minute when the scale
// is the default 60.
type Minutes int64

// Source is the scheduler's clock: unix time divided by a configurable
// scale factor, so tests can shrink a day down to milliseconds.
type Source struct {
	mu    sync.RWMutex
	scale int64
	// frozen, when non-nil, pins Now() to a fixed value for deterministic tests.
	frozen *Minutes
}

// New creates a Source with the given scale (spec HOST.TIMESCALE,
// default 60 meaning one unit per minute).
func New(scale int64) *Source {
	if scale <= 0 {
		scale = 60
	}
	return &Source{scale: scale}
}

// Now returns the current scaled time.
func (s *Source) Now() Minutes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frozen != nil {
		return *s.frozen
	}
	return Minutes(time.Now().Unix() / s.scale)
}

// Scale returns the configured divisor.
func (s *Source) Scale() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scale
}

// Freeze pins Now() to t, for deterministic tests.
func (s *Source) Freeze(t Minutes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = &t
}

// Unfreeze releases a prior Freeze, returning Now() to wall-clock-derived values.
func (s *Source) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = nil
}

// Advance moves a frozen clock forward by d; it is a no-op if the clock
// is not frozen.
func (s *Source) Advance(d Minutes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != nil {
		next := *s.frozen + d
		s.frozen = &next
	}
}

// DayMinutes is the number of scaled minutes in a calendar day.
const DayMinutes = Minutes(24 * 60)

// WeekMinutes is the number of scaled minutes in a week.
const WeekMinutes = DayMinutes * 7

// Rand is the scheduler's deterministic-seedable PRNG, used for daytime
// auto-assignment tie-breaks (spec §4.7).
type Rand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand creates a Rand seeded with seed. The same seed always produces
// the same sequence, which is what makes schedule-engine tests
// reproducible (spec §4.2 "Determinism").
func NewRand(seed uint64) *Rand {
	return &Rand{rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

// IntN returns a pseudo-random integer in [0, n).
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 {
		return 0
	}
	return r.rng.IntN(n)
}

// Pick returns a uniformly random element of candidates.
func (r *Rand) Pick(candidates []int) int {
	if len(candidates) == 0 {
		return 0
	}
	return candidates[r.IntN(len(candidates))]
}

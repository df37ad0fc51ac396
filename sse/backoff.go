package sse

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultJitterRatio   = 0.5
	defaultResetInterval = time.Minute
)

// Backoff computes reconnect delays: exponential growth from an initial
// delay up to a maximum, jittered downward (never upward) by a random
// fraction of the raw delay.
//
// A connection that stays healthy for longer than the reset interval causes
// the next failure to be treated as the first of a fresh sequence.
type Backoff struct {
	mu sync.Mutex

	initial     time.Duration
	max         time.Duration
	maxExponent uint
	jitterRatio float64
	resetAfter  time.Duration

	attempt     uint
	activeSince *time.Time

	now    func() time.Time
	random func(ratio float64) float64
}

// NewBackoff creates a Backoff with the default jitter ratio (0.5) and reset
// interval (1 minute).
func NewBackoff(initial, max time.Duration) *Backoff {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return newBackoff(initial, max, defaultJitterRatio, defaultResetInterval, time.Now,
		func(ratio float64) float64 { return rng.Float64() * ratio })
}

func newBackoff(
	initial, max time.Duration,
	jitterRatio float64,
	resetAfter time.Duration,
	now func() time.Time,
	random func(float64) float64,
) *Backoff {
	if initial <= 0 {
		initial = time.Millisecond
	}
	if max < initial {
		max = initial
	}
	// Constrains the exponent so the shift below cannot overflow a
	// time.Duration before the min() against max applies.
	maxExponent := uint(math.Ceil(math.Log2(float64(max) / float64(initial))))
	return &Backoff{
		initial:     initial,
		max:         max,
		maxExponent: maxExponent,
		jitterRatio: jitterRatio,
		resetAfter:  resetAfter,
		attempt:     1,
		now:         now,
		random:      random,
	}
}

// Delay returns the current reconnect delay. The first failure in a
// sequence yields the initial delay (before jitter).
func (b *Backoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	exponent := b.attempt - 1
	if exponent > b.maxExponent {
		exponent = b.maxExponent
	}
	raw := b.initial * (1 << exponent)
	if raw > b.max || raw <= 0 {
		raw = b.max
	}
	jitter := time.Duration(b.random(b.jitterRatio) * float64(raw))
	return raw - jitter
}

// Fail records a connection failure. If the connection had been active for
// longer than the reset interval, the attempt count restarts at 1;
// otherwise it increments, saturating rather than wrapping.
func (b *Backoff) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeSince != nil && b.now().Sub(*b.activeSince) > b.resetAfter {
		b.attempt = 1
	} else if b.attempt < math.MaxUint32 {
		b.attempt++
	}
	b.activeSince = nil
}

// Succeed records that the connection became active.
func (b *Backoff) Succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.activeSince = &now
}

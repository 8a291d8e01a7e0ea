// Package device defines the Device capability consumed by the protocol
// engine (§6): a monotonic millisecond clock, a bounded random integer, a
// cooperative yield, and an optional delay. It is a pure capability — no
// transport, no protocol state.
package device

import (
	"math/rand"
	"runtime"
	"time"
)

// Device is the capability the client and gateway state machines consume
// for everything time- and randomness-related, so tests can substitute a
// deterministic fake.
type Device interface {
	// NowMS returns a monotonically increasing millisecond counter.
	NowMS() int64
	// Random returns a pseudo-random value in the half-open range
	// [min, max).
	Random(min, max uint32) uint32
	// Yield cooperatively hands control back to the host scheduler between
	// suspension points (§5). Never called on a hot path that must not
	// block.
	Yield()
	// DelayMS sleeps for the given duration. Not used on hot paths (§6).
	DelayMS(ms int64)
}

// Software is a Device backed by the Go runtime: time.Now for the clock,
// math/rand for randomness, runtime.Gosched for yielding. It is the backend
// used by the demo CLIs and every test that does not need a frozen clock.
type Software struct {
	start time.Time
	rnd   *rand.Rand
}

// NewSoftware returns a ready Software device seeded from the given value
// (use a fixed seed in tests for determinism, or time.Now().UnixNano() for
// production).
func NewSoftware(seed int64) *Software {
	return &Software{start: time.Now(), rnd: rand.New(rand.NewSource(seed))}
}

// NowMS implements Device.
func (s *Software) NowMS() int64 { return time.Since(s.start).Milliseconds() }

// Random implements Device.
func (s *Software) Random(min, max uint32) uint32 {
	if max <= min {
		return min
	}
	return min + uint32(s.rnd.Int63n(int64(max-min)))
}

// Yield implements Device.
func (s *Software) Yield() { runtime.Gosched() }

// DelayMS implements Device.
func (s *Software) DelayMS(ms int64) { time.Sleep(time.Duration(ms) * time.Millisecond) }

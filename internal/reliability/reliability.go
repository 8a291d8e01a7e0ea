// Package reliability holds the unicast reliability primitives shared by the
// client and gateway state machines: a single in-flight request/reply slot
// with retry/backoff, the SEARCHGW exponential backoff helper, and the
// keepalive-timeout tolerance rule (§4.2/§4.3/§6).
package reliability

import (
	"time"

	sn "github.com/mqttsn/gateway/internal/mqttsn"
)

// InFlight holds the single unacknowledged unicast request a peer may have
// outstanding at a time (§3 invariants, §4.2). It stores the request's kind
// and msg_id plus its serialized image, so an ACK match never needs to
// re-decode the saved frame (per the reference design notes).
type InFlight struct {
	active      bool
	msgType     sn.MsgType
	msgID       uint16 // 0 when the request kind carries no msg_id (e.g. CONNECT)
	frame       [sn.DefaultMaxMsgLen]byte
	frameLen    int
	lastSent    int64 // ms, per Device.NowMS
	retries     int
}

// Start begins tracking a new in-flight request. Callers must check
// IsActive first; starting over an active slot is a caller bug (busy, §7)
// and panics in debug builds would be wrong for this domain, so Start simply
// overwrites — the state machines never call it while active.
func (f *InFlight) Start(msgType sn.MsgType, msgID uint16, frame []byte, nowMS int64) {
	f.active = true
	f.msgType = msgType
	f.msgID = msgID
	f.frameLen = copy(f.frame[:], frame)
	f.lastSent = nowMS
	f.retries = 0
}

// IsActive reports whether a request awaits a reply.
func (f *InFlight) IsActive() bool { return f.active }

// MsgType returns the in-flight request's message kind.
func (f *InFlight) MsgType() sn.MsgType { return f.msgType }

// MsgID returns the in-flight request's message id.
func (f *InFlight) MsgID() uint16 { return f.msgID }

// Frame returns the serialized bytes of the in-flight request, for
// retransmission.
func (f *InFlight) Frame() []byte { return f.frame[:f.frameLen] }

// Clear ends tracking, on successful ACK match or on retry exhaustion.
func (f *InFlight) Clear() { *f = InFlight{} }

// Retries reports the number of retransmissions sent so far.
func (f *InFlight) Retries() int { return f.retries }

// Tick evaluates the in-flight slot against the retry timer. It returns
// (retransmit=true) when T_RETRY has elapsed and the retry budget is not yet
// exhausted — the caller must resend Frame() and call Retransmitted. It
// returns (lost=true) when T_RETRY has elapsed after the N_RETRY-th
// retransmission (retry count has reached N_RETRY) — the caller
// must treat the peer as LOST and Clear the slot. Both are false when
// nothing need happen yet, or when the slot is inactive.
func (f *InFlight) Tick(nowMS int64, retryMS int64, nRetry int) (retransmit, lost bool) {
	if !f.active {
		return false, false
	}
	if nowMS-f.lastSent < retryMS {
		return false, false
	}
	if f.retries >= nRetry {
		return false, true
	}
	return true, false
}

// Retransmitted records that the caller just resent Frame() at nowMS.
func (f *InFlight) Retransmitted(nowMS int64) {
	f.retries++
	f.lastSent = nowMS
}

// Backoff implements the SEARCHGW randomised exponential backoff (§4.3):
// an initial uniform wait in [0, initialMS), doubling per attempt up to
// maxMS.
type Backoff struct {
	initialMS int64
	maxMS     int64
	current   int64
}

// NewBackoff returns a Backoff seeded with an initial interval drawn via
// randFn(0, initialMS) — callers pass Device.Random so the draw is testable.
func NewBackoff(initialMS, maxMS int64, randFn func(min, max uint32) uint32) *Backoff {
	b := &Backoff{initialMS: initialMS, maxMS: maxMS}
	if initialMS <= 0 {
		b.current = 0
		return b
	}
	b.current = int64(randFn(0, uint32(initialMS)))
	return b
}

// Interval returns the current wait interval in ms.
func (b *Backoff) Interval() int64 { return b.current }

// Advance doubles the interval, capped at maxMS, per attempt (§4.3, §8
// invariant 5).
func (b *Backoff) Advance() {
	next := b.current * 2
	if next <= 0 {
		next = b.initialMS
	}
	if next > b.maxMS {
		next = b.maxMS
	}
	b.current = next
}

// KeepaliveTimeout computes the keepalive timeout from the keepalive
// interval, applying the tolerance rule of §3: ×1.1 above 60s, ×1.5
// otherwise. intervalS is in seconds (the CONNECT wire unit); the result is
// a time.Duration for convenient comparison against Device clock deltas
// converted by the caller.
func KeepaliveTimeout(intervalS uint16) time.Duration {
	interval := time.Duration(intervalS) * time.Second
	if intervalS > 60 {
		return time.Duration(float64(interval) * 1.1)
	}
	return time.Duration(float64(interval) * 1.5)
}

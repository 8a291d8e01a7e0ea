package reliability

import (
	"testing"
	"time"

	sn "github.com/mqttsn/gateway/internal/mqttsn"
)

func testInFlightRetryThenLost(t *testing.T) {
	var f InFlight
	f.Start(sn.CONNECT, 0, []byte{4, byte(sn.CONNECT), 0, 1}, 0)

	// Before T_RETRY elapses, nothing happens.
	if retransmit, lost := f.Tick(1000, sn.TRetryMS, sn.NRetry); retransmit || lost {
		t.Fatalf("tick before retry interval: retransmit=%v lost=%v", retransmit, lost)
	}

	now := int64(0)
	for i := 0; i < sn.NRetry; i++ {
		now += sn.TRetryMS
		retransmit, lost := f.Tick(now, sn.TRetryMS, sn.NRetry)
		if !retransmit || lost {
			t.Fatalf("retry %d: retransmit=%v lost=%v, want retransmit", i, retransmit, lost)
		}
		f.Retransmitted(now)
	}
	if f.Retries() != sn.NRetry {
		t.Fatalf("retries = %d, want %d", f.Retries(), sn.NRetry)
	}

	now += sn.TRetryMS
	retransmit, lost := f.Tick(now, sn.TRetryMS, sn.NRetry)
	if retransmit || !lost {
		t.Fatalf("after N_RETRY retries: retransmit=%v lost=%v, want lost", retransmit, lost)
	}
}

func testInFlightClearedOnAck(t *testing.T) {
	var f InFlight
	f.Start(sn.REGISTER, 1, []byte{4, byte(sn.REGISTER)}, 0)
	if !f.IsActive() {
		t.Fatal("expected active in-flight")
	}
	f.Clear()
	if f.IsActive() {
		t.Fatal("expected cleared in-flight")
	}
	if retransmit, lost := f.Tick(999999, sn.TRetryMS, sn.NRetry); retransmit || lost {
		t.Fatal("cleared in-flight must never fire")
	}
}

func testBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(sn.TSearchGWMS, sn.MaxTSearchGWMS, func(min, max uint32) uint32 { return max - 1 })
	prev := b.Interval()
	for i := 0; i < 20; i++ {
		b.Advance()
		if b.Interval() < prev*2 && b.Interval() != sn.MaxTSearchGWMS {
			t.Fatalf("interval %d did not at least double from %d (unless capped)", b.Interval(), prev)
		}
		if b.Interval() > sn.MaxTSearchGWMS {
			t.Fatalf("interval %d exceeds cap %d", b.Interval(), sn.MaxTSearchGWMS)
		}
		prev = b.Interval()
	}
	if b.Interval() != sn.MaxTSearchGWMS {
		t.Fatalf("interval did not converge to cap: got %d", b.Interval())
	}
}

func testKeepaliveTolerance(t *testing.T) {
	cases := []struct {
		intervalS uint16
		want      time.Duration
	}{
		{30, 45 * time.Second},
		{60, 90 * time.Second},
		{61, 67100 * time.Millisecond},
		{300, 330 * time.Second},
	}
	for _, c := range cases {
		got := KeepaliveTimeout(c.intervalS)
		if got != c.want {
			t.Fatalf("KeepaliveTimeout(%d) = %v, want %v", c.intervalS, got, c.want)
		}
	}
}

func TestReliability(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"in-flight retry then lost", testInFlightRetryThenLost},
		{"in-flight cleared on ack", testInFlightClearedOnAck},
		{"backoff doubles and caps", testBackoffDoublesAndCaps},
		{"keepalive tolerance", testKeepaliveTolerance},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}

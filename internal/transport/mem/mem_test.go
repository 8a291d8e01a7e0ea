package mem

import (
	"testing"

	"github.com/mqttsn/gateway/internal/transport"
)

func testSendRecv(t *testing.T) {
	bus := NewBus()
	a := bus.NewEndpoint(transport.Addr{1})
	b := bus.NewEndpoint(transport.Addr{2})

	if n := a.Send([]byte{0xAA, 0xBB}, b.Addr()); n != 2 {
		t.Fatalf("Send returned %d, want 2", n)
	}

	buf := make([]byte, 8)
	n, src := b.Recv(buf)
	if n != 2 {
		t.Fatalf("Recv returned %d, want 2", n)
	}
	if !src.Equal(a.Addr()) {
		t.Fatalf("Recv src = %v, want %v", src, a.Addr())
	}
}

func testRecvEmptyReturnsNegativeOne(t *testing.T) {
	bus := NewBus()
	a := bus.NewEndpoint(transport.Addr{1})
	buf := make([]byte, 8)
	if n, _ := a.Recv(buf); n != -1 {
		t.Fatalf("Recv on empty inbox returned %d, want -1", n)
	}
}

func testRecvBufferTooSmall(t *testing.T) {
	bus := NewBus()
	a := bus.NewEndpoint(transport.Addr{1})
	b := bus.NewEndpoint(transport.Addr{2})
	a.Send([]byte{1, 2, 3, 4}, b.Addr())

	buf := make([]byte, 2)
	if n, _ := b.Recv(buf); n != 0 {
		t.Fatalf("Recv into too-small buffer returned %d, want 0", n)
	}
}

func testBroadcastReachesAllOthers(t *testing.T) {
	bus := NewBus()
	a := bus.NewEndpoint(transport.Addr{1})
	b := bus.NewEndpoint(transport.Addr{2})
	c := bus.NewEndpoint(transport.Addr{3})

	a.Broadcast([]byte{0x01})

	buf := make([]byte, 8)
	if n, _ := b.Recv(buf); n != 1 {
		t.Fatalf("b did not receive broadcast, n=%d", n)
	}
	if n, _ := c.Recv(buf); n != 1 {
		t.Fatalf("c did not receive broadcast, n=%d", n)
	}
	if n, _ := a.Recv(buf); n != -1 {
		t.Fatal("sender must not receive its own broadcast")
	}
}

func TestMem(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"send recv", testSendRecv},
		{"recv empty returns -1", testRecvEmptyReturnsNegativeOne},
		{"recv buffer too small", testRecvBufferTooSmall},
		{"broadcast reaches all others", testBroadcastReachesAllOthers},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}

// Package mem provides an in-process Transport implementation: every
// endpoint on a shared Bus can Send/Recv/Broadcast frames to every other
// endpoint via bounded channels. It is grounded on the teacher's
// channel-based pubCh/errCh plumbing in internal/gateway/gateway.go,
// repurposed here as the packet bus used by every unit test and the
// single-process loopback demo.
package mem

import (
	"sync"

	"github.com/mqttsn/gateway/internal/transport"
)

const defaultQueueSize = 64

type packet struct {
	frame []byte
	src   transport.Addr
}

// Bus wires together any number of Endpoints that can address each other by
// a small integer Addr.
type Bus struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{endpoints: make(map[string]*Endpoint)} }

// NewEndpoint registers and returns a new endpoint on the bus at addr.
func (b *Bus) NewEndpoint(addr transport.Addr) *Endpoint {
	ep := &Endpoint{bus: b, addr: append(transport.Addr(nil), addr...), inbox: make(chan packet, defaultQueueSize)}
	b.mu.Lock()
	b.endpoints[string(addr)] = ep
	b.mu.Unlock()
	return ep
}

// Endpoint is one peer's view of a Bus; it implements transport.Transport.
type Endpoint struct {
	bus   *Bus
	addr  transport.Addr
	inbox chan packet
}

// Addr returns this endpoint's own address.
func (e *Endpoint) Addr() transport.Addr { return e.addr }

// Send implements transport.Transport.
func (e *Endpoint) Send(frame []byte, dest transport.Addr) int {
	e.bus.mu.Lock()
	target, ok := e.bus.endpoints[string(dest)]
	e.bus.mu.Unlock()
	if !ok {
		return 0
	}
	return e.deliver(target, frame)
}

// Broadcast implements transport.Transport: every other endpoint on the bus
// receives the frame, with this endpoint's address reported as the source.
func (e *Endpoint) Broadcast(frame []byte) int {
	e.bus.mu.Lock()
	targets := make([]*Endpoint, 0, len(e.bus.endpoints))
	for addr, ep := range e.bus.endpoints {
		if addr == string(e.addr) {
			continue
		}
		targets = append(targets, ep)
	}
	e.bus.mu.Unlock()

	written := 0
	for _, target := range targets {
		if n := e.deliver(target, frame); n > written {
			written = n
		}
	}
	return written
}

func (e *Endpoint) deliver(target *Endpoint, frame []byte) int {
	cp := append([]byte(nil), frame...)
	select {
	case target.inbox <- packet{frame: cp, src: e.addr}:
		return len(frame)
	default:
		return 0 // target's inbox is full; drop like a saturated radio link
	}
}

// Recv implements transport.Transport.
func (e *Endpoint) Recv(buf []byte) (int, transport.Addr) {
	select {
	case pkt := <-e.inbox:
		if len(buf) < len(pkt.frame) {
			return 0, nil
		}
		n := copy(buf, pkt.frame)
		return n, pkt.src
	default:
		return -1, nil
	}
}

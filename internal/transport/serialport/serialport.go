// Package serialport implements transport.Transport over a serial/modem
// link via go.bug.st/serial, for radio or serial-modem deployments (§1).
// Frame boundaries need no extra framing: the MQTT-SN length byte is
// already self-describing, so a read loop need only read the length byte,
// then read the remaining length-1 bytes of the frame. This package has no broadcast
// peer concept (a serial link is point-to-point), so Broadcast degrades to
// Send against the single configured peer address.
package serialport

import (
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mqttsn/gateway/internal/transport"
)

// Config configures the serial port.
type Config struct {
	Port     string
	BaudRate int
	// PeerAddr is the opaque address reported for frames read from this
	// port, and the implicit destination for Broadcast.
	PeerAddr transport.Addr
}

// Transport is a transport.Transport backed by a serial port.
type Transport struct {
	cfg  Config
	port serial.Port

	mu  sync.Mutex
	buf []byte // partially-read frame carried across non-blocking Recv calls
}

// Open opens the configured serial port in 8N1 mode with a short read
// timeout so Recv can poll non-blockingly.
func Open(cfg Config) (*Transport, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return &Transport{cfg: cfg, port: port}, nil
}

// Close closes the serial port.
func (t *Transport) Close() error { return t.port.Close() }

// Send implements transport.Transport.
func (t *Transport) Send(frame []byte, dest transport.Addr) int {
	n, err := t.port.Write(frame)
	if err != nil {
		return 0
	}
	return n
}

// Broadcast implements transport.Transport: a serial link has one peer, so
// this is equivalent to Send to the configured peer address.
func (t *Transport) Broadcast(frame []byte) int {
	return t.Send(frame, t.cfg.PeerAddr)
}

// Recv implements transport.Transport. It reads at most one whole frame per
// call; partial reads are buffered across calls so a caller polling on
// every loop tick eventually assembles a complete frame without blocking
// for long (the 50ms read timeout bounds the worst case).
func (t *Transport) Recv(out []byte) (int, transport.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.buf) == 0 {
		lenByte := make([]byte, 1)
		n, err := t.port.Read(lenByte)
		if err != nil && err != io.EOF {
			return -1, nil
		}
		if n == 0 {
			return -1, nil
		}
		t.buf = append(t.buf, lenByte[0])
	}

	total := int(t.buf[0])
	for len(t.buf) < total {
		chunk := make([]byte, total-len(t.buf))
		n, err := t.port.Read(chunk)
		if n == 0 {
			if err != nil && err != io.EOF {
				t.buf = nil
			}
			return -1, nil // frame still incomplete; try again next tick
		}
		t.buf = append(t.buf, chunk[:n]...)
	}

	if len(out) < total {
		t.buf = nil
		return 0, nil
	}
	n := copy(out, t.buf)
	t.buf = nil
	return n, t.cfg.PeerAddr
}

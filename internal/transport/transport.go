// Package transport defines the packet-level Transport capability consumed
// by the protocol engine (§6): non-blocking send/receive/broadcast over an
// opaque peer address. Reliability lives above this layer (internal/
// reliability); a Transport only ever moves bytes.
package transport

// MaxAddrLen bounds a peer address (§3).
const MaxAddrLen = 10

// Addr is an opaque peer address. Transports interpret their own bytes;
// the engine only ever compares addresses for equality.
type Addr []byte

// Equal reports whether two addresses refer to the same peer.
func (a Addr) Equal(b Addr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Transport is the packet I/O capability consumed by the engine. All calls
// are non-blocking (§5): Recv returns immediately whether or not a packet is
// waiting.
type Transport interface {
	// Send writes a single frame to dest, returning the number of bytes
	// written, or 0 on error (§6).
	Send(frame []byte, dest Addr) int
	// Recv attempts to read one waiting frame into buf, also reporting the
	// sender's address via src. It returns -1 if nothing is waiting, 0 if
	// buf is too small to hold the next whole packet, or the frame length
	// on success (§5, §6).
	Recv(buf []byte) (n int, src Addr)
	// Broadcast writes frame to every peer reachable on this transport,
	// returning the number of bytes written (implementation-defined when
	// fanning out to multiple peers; 0 on error), §6.
	Broadcast(frame []byte) int
}

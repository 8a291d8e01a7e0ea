// Package ws implements transport.Transport over WebSocket connections
// (github.com/gorilla/websocket), exercising the same non-blocking
// send/recv/broadcast contract across an IP network — useful for driving
// the engine over a real network without claiming MQTT-SN itself runs over
// WebSocket on the wire. Grounded on
// alibo-simple-mqtt-network-lab's use of gorilla/websocket as a paho
// transport dependency, here promoted to a direct MQTT-SN transport.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mqttsn/gateway/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  256,
	WriteBufferSize: 256,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type peer struct {
	conn  *websocket.Conn
	inbox chan []byte
}

// Transport accepts WebSocket connections on a single HTTP handler and
// multiplexes them as MQTT-SN peers keyed by an opaque address assigned at
// connect time.
type Transport struct {
	mu    sync.Mutex
	peers map[string]*peer
	next  uint32
}

// New returns an empty websocket transport. Register Handler with an
// *http.ServeMux to accept connections.
func New() *Transport {
	return &Transport{peers: make(map[string]*peer)}
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// begins reading frames from them into the per-peer inbox.
func (t *Transport) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.mu.Lock()
	t.next++
	addr := transport.Addr{byte(t.next >> 8), byte(t.next)}
	p := &peer{conn: conn, inbox: make(chan []byte, 64)}
	t.peers[string(addr)] = p
	t.mu.Unlock()

	go t.readLoop(addr, p)
}

func (t *Transport) readLoop(addr transport.Addr, p *peer) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, string(addr))
		t.mu.Unlock()
		p.conn.Close()
	}()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case p.inbox <- data:
		default: // peer inbox full, drop like a saturated radio link
		}
	}
}

// Send implements transport.Transport.
func (t *Transport) Send(frame []byte, dest transport.Addr) int {
	t.mu.Lock()
	p, ok := t.peers[string(dest)]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return 0
	}
	return len(frame)
}

// Broadcast implements transport.Transport.
func (t *Transport) Broadcast(frame []byte) int {
	t.mu.Lock()
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	written := 0
	for _, p := range peers {
		if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err == nil {
			written = len(frame)
		}
	}
	return written
}

// Recv implements transport.Transport. Since each peer has its own
// goroutine-fed inbox, Recv rotates through peers, returning the first
// waiting frame. In the unlikely event no peer has data, it returns -1.
func (t *Transport) Recv(buf []byte) (int, transport.Addr) {
	t.mu.Lock()
	addrs := make([]string, 0, len(t.peers))
	for a := range t.peers {
		addrs = append(addrs, a)
	}
	t.mu.Unlock()

	for _, a := range addrs {
		t.mu.Lock()
		p, ok := t.peers[a]
		t.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case data := <-p.inbox:
			if len(buf) < len(data) {
				return 0, transport.Addr(a)
			}
			n := copy(buf, data)
			return n, transport.Addr(a)
		default:
		}
	}
	return -1, nil
}

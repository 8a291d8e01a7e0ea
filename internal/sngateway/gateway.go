// Package sngateway implements the MQTT-SN gateway state machine (§4.5,
// §4.6): a fixed-capacity session table, discovery responses, ingress
// routing, the sleeping-client store-and-forward queue, and optional
// bridging to an upstream MQTT broker.
package sngateway

import (
	"github.com/rs/xid"

	"github.com/mqttsn/gateway/internal/codec"
	"github.com/mqttsn/gateway/internal/device"
	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/reliability"
	"github.com/mqttsn/gateway/internal/topic"
	"github.com/mqttsn/gateway/internal/transport"
)

// SessionStatus is a live session's sub-state (§4.5, §4.6). A session that
// is not live at all (deregistered) simply has an empty ClientID (§3).
type SessionStatus int

const (
	StatusActive SessionStatus = iota
	StatusAsleep
	StatusAwake
)

// Session is one connected MQTT-SN client, as tracked by the gateway (§3).
type Session struct {
	ClientID     string
	TransportIdx int
	Addr         transport.Addr
	ConnectFlags sn.Flags

	Topics topic.ClientTopics

	// InFlight mirrors the client-side reliability slot (§4.2, §4.5 step 2).
	// Nothing in this engine currently issues a gateway-initiated unicast
	// request awaiting a client reply, so it is always idle in practice; it
	// is carried to keep check_status faithful to §4.5 and to leave room for
	// a future gateway-initiated transaction.
	InFlight reliability.InFlight

	KeepaliveTimeoutMS int64
	SleepIntervalMS    int64

	LastIn int64
	Status SessionStatus

	Sleepy sleepyQueue

	TraceID string
}

func (s *Session) isLive() bool { return s.ClientID != "" }

// Gateway is the MQTT-SN gateway engine. Like Client, it is driven entirely
// by a single cooperative Loop and is not safe for concurrent use (§5).
type Gateway struct {
	gwID byte
	dev  device.Device
	tr   []transport.Transport

	codec *codec.Codec

	sessions [sn.MaxNumClients]Session
	mappings topic.Table
	pubFIFO  publishFIFO

	bridge          Bridge
	bridgeConnected bool
	topicPrefix     string

	advertiseIntervalMS int64
	lastAdvert          int64

	stats Stats
}

// Stats is a point-in-time snapshot for the status server (§4.10).
type Stats struct {
	SessionsActive     int
	TopicMappings      int
	SleepingQueueDepth int
	FramesDecoded      uint64
	FramesMalformed    uint64
	RetriesTotal       uint64
	SessionsLostTotal  uint64
}

// New returns a freshly constructed gateway with no sessions, transports, or
// bridge.
func New(dev device.Device, c *codec.Codec) *Gateway {
	if c == nil {
		c = codec.New(sn.DefaultMaxMsgLen)
	}
	return &Gateway{dev: dev, codec: c, advertiseIntervalMS: sn.DefaultKeepaliveS * 1000}
}

// Begin sets the gateway's own gw_id (§3: gw_id==0 is never usable).
func (g *Gateway) Begin(gwID byte) bool {
	if gwID == 0 {
		return false
	}
	g.gwID = gwID
	return true
}

// RegisterTransport adds a transport the gateway will poll and broadcast
// ADVERTISE/GWINFO on, returning its index.
func (g *Gateway) RegisterTransport(t transport.Transport) int {
	g.tr = append(g.tr, t)
	return len(g.tr) - 1
}

// SetTopicPrefix sets the upstream topic-prefix composition rule (§4.5).
func (g *Gateway) SetTopicPrefix(prefix string) { g.topicPrefix = prefix }

// SetAdvertiseInterval sets the ADVERTISE broadcast period.
func (g *Gateway) SetAdvertiseInterval(seconds uint16) {
	g.advertiseIntervalMS = int64(seconds) * 1000
}

// Stats returns a snapshot of the gateway's live counters.
func (g *Gateway) Stats() Stats {
	s := g.stats
	s.SessionsActive = 0
	s.SleepingQueueDepth = 0
	for i := range g.sessions {
		if g.sessions[i].isLive() {
			s.SessionsActive++
			s.SleepingQueueDepth += g.sessions[i].Sleepy.Len()
		}
	}
	s.TopicMappings = g.mappings.Len()
	return s
}

func (g *Gateway) findSessionByClientID(clientID string) int {
	for i := range g.sessions {
		if g.sessions[i].isLive() && g.sessions[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

func (g *Gateway) findSessionByPeer(transportIdx int, addr transport.Addr) int {
	for i := range g.sessions {
		if g.sessions[i].isLive() && g.sessions[i].TransportIdx == transportIdx && g.sessions[i].Addr.Equal(addr) {
			return i
		}
	}
	return -1
}

func (g *Gateway) deregister(i int) {
	g.sessions[i] = Session{}
}

// allocateSession deregisters any existing session with the same client_id
// or the same (transport,address), then returns a fresh slot index, or -1
// if the table is full (§4.5 CONNECT handler).
func (g *Gateway) allocateSession(clientID string, transportIdx int, addr transport.Addr) int {
	if i := g.findSessionByClientID(clientID); i >= 0 {
		g.deregister(i)
	}
	if i := g.findSessionByPeer(transportIdx, addr); i >= 0 {
		g.deregister(i)
	}
	for i := range g.sessions {
		if !g.sessions[i].isLive() {
			return i
		}
	}
	return -1
}

// anySessionSubscribes reports whether any live session holds a
// (non-tombstoned) subscription to tid.
func (g *Gateway) anySessionSubscribes(tid uint16) bool {
	for i := range g.sessions {
		if g.sessions[i].isLive() && g.sessions[i].Topics.SubByTid(tid) >= 0 {
			return true
		}
	}
	return false
}

func (g *Gateway) send(session *Session, frame []byte) int {
	return g.tr[session.TransportIdx].Send(frame, session.Addr)
}

// Loop runs one cooperative tick: drain transports, check session health,
// drain sleeping sessions, fan out the publish FIFO, and advertise (§4.5).
func (g *Gateway) Loop() {
	now := g.dev.NowMS()
	g.drainTransports()
	g.checkSessions(now)
	g.drainAwakeSessions()
	g.drainPublishFIFO()
	g.tickAdvertise(now)
	g.dev.Yield()
}

func (g *Gateway) drainTransports() {
	buf := make([]byte, g.codec.MaxMsgLen)
	for ti, t := range g.tr {
		for {
			n, src := t.Recv(buf)
			if n < 0 {
				break
			}
			if n == 0 {
				continue
			}
			msg, _, err := codec.Decode(buf[:n])
			if err != nil {
				g.stats.FramesMalformed++
				continue
			}
			g.stats.FramesDecoded++
			g.handle(ti, src, msg)
		}
	}
}

// checkSessions runs check_status(now) for every live session (§4.5 step 2).
func (g *Gateway) checkSessions(now int64) {
	for i := range g.sessions {
		s := &g.sessions[i]
		if !s.isLive() {
			continue
		}
		if now-s.LastIn > s.KeepaliveTimeoutMS {
			g.stats.SessionsLostTotal++
			g.deregister(i)
			continue
		}
		if !s.InFlight.IsActive() {
			continue
		}
		retransmit, lost := s.InFlight.Tick(now, sn.TRetryMS, sn.NRetry)
		switch {
		case lost:
			g.stats.SessionsLostTotal++
			g.deregister(i)
		case retransmit:
			g.stats.RetriesTotal++
			g.send(s, s.InFlight.Frame())
			s.InFlight.Retransmitted(now)
		}
	}
}

// drainAwakeSessions implements §4.5 step 3: one buffered frame per tick per
// AWAKE session; PINGRESP and a return to ASLEEP once the queue empties.
func (g *Gateway) drainAwakeSessions() {
	for i := range g.sessions {
		s := &g.sessions[i]
		if !s.isLive() || s.Status != StatusAwake {
			continue
		}
		if frame, ok := s.Sleepy.pop(); ok {
			g.send(s, frame)
		}
		if s.Sleepy.Len() == 0 {
			buf := make([]byte, g.codec.MaxMsgLen)
			n := g.codec.Encode(sn.PingResp{}, buf)
			if n > 0 {
				g.send(s, buf[:n])
			}
			s.Status = StatusAsleep
		}
	}
}

// drainPublishFIFO implements §4.5 step 4: deliver every queued publish to
// every subscribed session, buffering for ASLEEP sessions.
func (g *Gateway) drainPublishFIFO() {
	for {
		qp, ok := g.pubFIFO.pop()
		if !ok {
			return
		}
		buf := make([]byte, g.codec.MaxMsgLen)
		n := g.codec.Encode(sn.Publish{Flags: qp.flags, TopicID: qp.topicID, MsgID: 0, Data: qp.data}, buf)
		if n == 0 {
			continue
		}
		frame := buf[:n]
		for i := range g.sessions {
			s := &g.sessions[i]
			if !s.isLive() || s.Topics.SubByTid(qp.topicID) < 0 {
				continue
			}
			if s.Status == StatusAsleep {
				s.Sleepy.push(frame)
				continue
			}
			g.send(s, frame)
		}
	}
}

func (g *Gateway) tickAdvertise(now int64) {
	if now-g.lastAdvert < g.advertiseIntervalMS {
		return
	}
	g.lastAdvert = now
	buf := make([]byte, g.codec.MaxMsgLen)
	n := g.codec.Encode(sn.Advertise{GwID: g.gwID, Duration: uint16(g.advertiseIntervalMS / 1000)}, buf)
	if n == 0 {
		return
	}
	for _, t := range g.tr {
		t.Broadcast(buf[:n])
	}
}

func newTraceID() string { return xid.New().String() }

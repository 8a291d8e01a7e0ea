package sngateway

import (
	"github.com/mqttsn/gateway/internal/codec"
	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/reliability"
	"github.com/mqttsn/gateway/internal/transport"
)

// handle dispatches one decoded message from transport ti, sent by src.
func (g *Gateway) handle(ti int, src transport.Addr, msg sn.Message) {
	h := codec.Handlers{
		SearchGW:    func(m sn.SearchGW) { g.onSearchGW(ti, src, m) },
		Connect:     func(m sn.Connect) { g.onConnect(ti, src, m) },
		Register:    func(m sn.Register) { g.onRegister(ti, src, m) },
		Publish:     func(m sn.Publish) { g.onPublish(ti, src, m) },
		Subscribe:   func(m sn.Subscribe) { g.onSubscribe(ti, src, m) },
		Unsubscribe: func(m sn.Unsubscribe) { g.onUnsubscribe(ti, src, m) },
		PingReq:     func(m sn.PingReq) { g.onPingReq(ti, src, m) },
		Disconnect:  func(m sn.Disconnect) { g.onDisconnect(ti, src, m) },
	}
	codec.Dispatch(h, msg)
}

func (g *Gateway) encode(msg sn.Message) []byte {
	buf := make([]byte, g.codec.MaxMsgLen)
	n := g.codec.Encode(msg, buf)
	if n == 0 {
		return nil
	}
	return buf[:n]
}

func (g *Gateway) sendTo(ti int, addr transport.Addr, frame []byte) {
	if frame == nil {
		return
	}
	g.tr[ti].Send(frame, addr)
}

// onSearchGW replies GWINFO by broadcast on the receiving transport (§4.5).
func (g *Gateway) onSearchGW(ti int, src transport.Addr, m sn.SearchGW) {
	frame := g.encode(sn.GwInfo{GwID: g.gwID})
	if frame == nil {
		return
	}
	g.tr[ti].Broadcast(frame)
}

// onConnect validates and allocates a session (§4.5).
func (g *Gateway) onConnect(ti int, src transport.Addr, m sn.Connect) {
	if len(m.ClientID) < 1 || len(m.ClientID) > sn.MaxClientIDLen {
		return
	}
	idx := g.allocateSession(m.ClientID, ti, src)
	if idx < 0 {
		g.sendTo(ti, src, g.encode(sn.Connack{ReturnCode: sn.Congestion}))
		return
	}
	now := g.dev.NowMS()
	g.sessions[idx] = Session{
		ClientID:           m.ClientID,
		TransportIdx:       ti,
		Addr:               append(transport.Addr(nil), src...),
		ConnectFlags:       m.Flags,
		KeepaliveTimeoutMS: reliability.KeepaliveTimeout(m.Duration).Milliseconds(),
		LastIn:             now,
		Status:             StatusActive,
		TraceID:            newTraceID(),
	}
	g.sendTo(ti, src, g.encode(sn.Connack{ReturnCode: sn.Accepted}))
}

func (g *Gateway) onRegister(ti int, src transport.Addr, m sn.Register) {
	idx := g.findSessionByPeer(ti, src)
	if idx < 0 {
		return // unknown peer (§7)
	}
	s := &g.sessions[idx]
	s.LastIn = g.dev.NowMS()

	tid := g.mappings.Resolve(m.TopicName)
	if tid == 0 {
		g.sendTo(ti, src, g.encode(sn.Regack{TopicID: 0, MsgID: m.MsgID, ReturnCode: sn.Congestion}))
		return
	}
	pi := s.Topics.AddPub(m.TopicName)
	if pi < 0 {
		g.sendTo(ti, src, g.encode(sn.Regack{TopicID: 0, MsgID: m.MsgID, ReturnCode: sn.Congestion}))
		return
	}
	s.Topics.SetPubTid(pi, tid)
	g.sendTo(ti, src, g.encode(sn.Regack{TopicID: tid, MsgID: m.MsgID, ReturnCode: sn.Accepted}))
}

// onPublish implements §4.5's PUBLISH ingress handler (QoS 0 only).
func (g *Gateway) onPublish(ti int, src transport.Addr, m sn.Publish) {
	idx := g.findSessionByPeer(ti, src)
	if idx < 0 {
		return
	}
	g.sessions[idx].LastIn = g.dev.NowMS()

	mapping := g.mappings.ByTid(m.TopicID)
	if mapping == nil {
		return // unknown mapping: drop (§7)
	}
	if g.bridge != nil && g.bridgeConnected {
		g.bridge.Publish(g.composeUpstream(mapping.Name), m.Data, 0, m.Flags.Retain)
		return
	}
	if !g.anySessionSubscribes(m.TopicID) {
		return // unsubscribed topic, no bridge: drop (§7)
	}
	g.pubFIFO.push(queuedPublish{topicID: m.TopicID, data: append([]byte(nil), m.Data...), flags: m.Flags})
}

func (g *Gateway) onSubscribe(ti int, src transport.Addr, m sn.Subscribe) {
	idx := g.findSessionByPeer(ti, src)
	if idx < 0 {
		return
	}
	s := &g.sessions[idx]
	s.LastIn = g.dev.NowMS()

	tid := g.mappings.Resolve(m.Topic)
	if tid == 0 {
		g.sendTo(ti, src, g.encode(sn.Suback{Flags: m.Flags, TopicID: 0, MsgID: m.MsgID, ReturnCode: sn.Congestion}))
		return
	}
	si := s.Topics.AddSub(m.Topic, m.Flags)
	if si < 0 {
		g.sendTo(ti, src, g.encode(sn.Suback{Flags: m.Flags, TopicID: 0, MsgID: m.MsgID, ReturnCode: sn.Congestion}))
		return
	}
	s.Topics.SetSubTid(si, tid)
	g.sendTo(ti, src, g.encode(sn.Suback{Flags: m.Flags, TopicID: tid, MsgID: m.MsgID, ReturnCode: sn.Accepted}))

	if g.bridge == nil || !g.bridgeConnected {
		return
	}
	mapping := g.mappings.ByTid(tid)
	if mapping == nil {
		return
	}
	qos := m.Flags.QoS
	if qos < 0 {
		qos = 0
	}
	if !mapping.Subbed || qos > mapping.SubQoS {
		g.bridge.Subscribe(g.composeUpstream(mapping.Name), byte(qos))
		mapping.Subbed = true
		if qos > mapping.SubQoS {
			mapping.SubQoS = qos
		}
	}
}

func (g *Gateway) onUnsubscribe(ti int, src transport.Addr, m sn.Unsubscribe) {
	idx := g.findSessionByPeer(ti, src)
	if idx < 0 {
		return
	}
	s := &g.sessions[idx]
	s.LastIn = g.dev.NowMS()
	s.Topics.Unsubscribe(m.Topic)
	g.sendTo(ti, src, g.encode(sn.Unsuback{MsgID: m.MsgID}))

	if g.bridge == nil || !g.bridgeConnected {
		return
	}
	mapping := g.mappings.ByName(m.Topic)
	if mapping == nil {
		return
	}
	if !g.anySessionSubscribes(mapping.Tid) {
		g.bridge.Unsubscribe(g.composeUpstream(mapping.Name))
		mapping.Subbed = false
	}
}

// onPingReq implements §4.5's dual-purpose PINGREQ handler: empty payload is
// a heartbeat for the sender; a non-empty client_id wakes that sleeping
// session. The looked-up session never escapes this function (Open Question
// #4).
func (g *Gateway) onPingReq(ti int, src transport.Addr, m sn.PingReq) {
	if m.ClientID == "" {
		idx := g.findSessionByPeer(ti, src)
		if idx < 0 {
			return
		}
		g.sessions[idx].LastIn = g.dev.NowMS()
		g.sendTo(ti, src, g.encode(sn.PingResp{}))
		return
	}

	idx := g.findSessionByClientID(m.ClientID)
	if idx < 0 || g.sessions[idx].Status != StatusAsleep {
		return
	}
	g.sessions[idx].Status = StatusAwake
	g.sessions[idx].LastIn = g.dev.NowMS()
}

func (g *Gateway) onDisconnect(ti int, src transport.Addr, m sn.Disconnect) {
	idx := g.findSessionByPeer(ti, src)
	if idx < 0 {
		return
	}
	if !m.HasDuration {
		g.deregister(idx)
		g.sendTo(ti, src, g.encode(sn.Disconnect{}))
		return
	}
	s := &g.sessions[idx]
	s.SleepIntervalMS = int64(m.Duration) * 1000
	s.KeepaliveTimeoutMS = reliability.KeepaliveTimeout(m.Duration).Milliseconds()
	s.Status = StatusAsleep
	s.Sleepy.clear()
	s.LastIn = g.dev.NowMS()
	g.sendTo(ti, src, g.encode(sn.Disconnect{}))
}

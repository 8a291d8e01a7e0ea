// Package snclient implements the MQTT-SN client state machine (§4.3, §4.4):
// gateway discovery, CONNECT/CONNACK, topic registration/subscription,
// QoS 0 publish, keepalive supervision, and graceful/lost disconnection.
package snclient

import (
	"github.com/mqttsn/gateway/internal/codec"
	"github.com/mqttsn/gateway/internal/device"
	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/reliability"
	"github.com/mqttsn/gateway/internal/topic"
	"github.com/mqttsn/gateway/internal/transport"
)

// State is the client's connection state (§4.4). ASLEEP/AWAKE are reserved
// by the spec for a future sleeping-client feature on the client side; this
// engine never sets them (sleep is a gateway-side concept here, §4.6).
type State int

const (
	Disconnected State = iota
	Searching
	Connecting
	Active
	Lost
	Asleep
	Awake
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Searching:
		return "SEARCHING"
	case Connecting:
		return "CONNECTING"
	case Active:
		return "ACTIVE"
	case Lost:
		return "LOST"
	case Asleep:
		return "ASLEEP"
	case Awake:
		return "AWAKE"
	default:
		return "UNKNOWN"
	}
}

// MaxGatewaySlots bounds the client's gateway table. Not a named spec
// constant; chosen small to match the other fixed-capacity tables (§5).
const MaxGatewaySlots = 5

// GatewayRecord is a known gateway (§3).
type GatewayRecord struct {
	GwID      byte
	GwAddr    transport.Addr
	Available bool
}

func (g GatewayRecord) isLive() bool { return g.GwID != 0 }

// SubscribeRequest names a topic to subscribe with its requested flags.
type SubscribeRequest struct {
	Name  string
	Flags sn.Flags
}

// MessageFunc receives inbound publishes resolved against the subscribe
// topic list (Open Question #3).
type MessageFunc func(name string, data []byte, flags sn.Flags)

// Client is the MQTT-SN client engine. It is not safe for concurrent use —
// per §5 it is driven by a single cooperative Loop.
type Client struct {
	dev   device.Device
	tr    transport.Transport
	codec *codec.Codec

	clientID string
	state    State

	gateways [MaxGatewaySlots]GatewayRecord
	currGw   int // index into gateways, or -1

	topics   topic.ClientTopics
	inFlight reliability.InFlight
	msgID    uint16

	pendingPubIdx int // topics.Pub index under registration, or -1
	pendingSubIdx int // topics.Sub index under subscription/unsubscription, or -1

	connectFlags    sn.Flags
	connectDuration uint16
	keepaliveTimeoutMS int64

	lastIn, lastOut int64
	pingPending     bool
	pingTimer       int64

	searching       bool
	gwinfoPending   bool
	searchIntervalMS int64
	searchTimerStart int64

	onMessage MessageFunc
}

// New returns a freshly constructed, DISCONNECTED client.
func New(dev device.Device, tr transport.Transport, c *codec.Codec) *Client {
	if c == nil {
		c = codec.New(sn.DefaultMaxMsgLen)
	}
	return &Client{dev: dev, tr: tr, codec: c, currGw: -1, pendingPubIdx: -1, pendingSubIdx: -1}
}

// Begin validates and sets the client id (1..=MAX_CLIENTID_LEN bytes, §6).
func (c *Client) Begin(clientID string) bool {
	if len(clientID) < 1 || len(clientID) > sn.MaxClientIDLen {
		return false
	}
	c.clientID = clientID
	return true
}

// AddGateways seeds the client's gateway table.
func (c *Client) AddGateways(records []GatewayRecord) {
	n := len(records)
	if n > MaxGatewaySlots {
		n = MaxGatewaySlots
	}
	for i := 0; i < n; i++ {
		c.gateways[i] = records[i]
		c.gateways[i].Available = true
	}
}

// GatewayCount reports the number of known (live) gateway slots.
func (c *Client) GatewayCount() int {
	n := 0
	for _, g := range c.gateways {
		if g.isLive() {
			n++
		}
	}
	return n
}

// Status reports the current state.
func (c *Client) Status() State { return c.state }

// IsConnected reports whether the client is ACTIVE.
func (c *Client) IsConnected() bool { return c.state == Active }

// TransactionPending reports whether a unicast request awaits a reply.
func (c *Client) TransactionPending() bool { return c.inFlight.IsActive() }

// OnMessage registers the single inbound-publish callback.
func (c *Client) OnMessage(fn MessageFunc) { c.onMessage = fn }

func (c *Client) nextMsgID() uint16 {
	c.msgID++
	if c.msgID == 0 {
		c.msgID = 1
	}
	return c.msgID
}

// StartDiscovery enters SEARCHING per §4.3: a uniform random initial wait in
// [0, T_SEARCHGW), doubling per broadcast attempt up to MAX_T_SEARCHGW.
func (c *Client) StartDiscovery() {
	c.state = Searching
	c.searching = true
	c.gwinfoPending = true
	c.searchIntervalMS = int64(c.dev.Random(0, sn.TSearchGWMS))
	c.searchTimerStart = c.dev.NowMS()
}

func (c *Client) addOrUpdateGateway(gwID byte, addr transport.Addr) {
	for i := range c.gateways {
		if c.gateways[i].GwID == gwID {
			return // already known: no-op (§4.3)
		}
	}
	for i := range c.gateways {
		if !c.gateways[i].isLive() {
			c.gateways[i] = GatewayRecord{GwID: gwID, GwAddr: addr, Available: true}
			return
		}
	}
}

// selectGateway implements §4.4's gateway selection rule.
func (c *Client) selectGateway(gwID byte) int {
	if gwID != 0 {
		for i := range c.gateways {
			if c.gateways[i].GwID == gwID {
				return i
			}
		}
		return -1
	}
	for i := range c.gateways {
		if c.gateways[i].isLive() && c.gateways[i].Available {
			return i
		}
	}
	live := false
	for i := range c.gateways {
		if c.gateways[i].isLive() {
			live = true
			c.gateways[i].Available = true
		}
	}
	if !live {
		return -1
	}
	for i := range c.gateways {
		if c.gateways[i].isLive() {
			return i
		}
	}
	return -1
}

// Connect requests a session (§4.4). gwID==0 means "any available". flags
// should not set TopicIDType (unused on CONNECT); durationS is the
// keepalive interval in seconds.
func (c *Client) Connect(gwID byte, flags sn.Flags, durationS uint16) bool {
	if c.inFlight.IsActive() {
		return false // Busy, §7
	}
	gi := c.selectGateway(gwID)
	if gi < 0 {
		return false // NoGateway, §7
	}

	c.currGw = gi
	c.connectFlags = flags
	c.connectDuration = durationS
	c.keepaliveTimeoutMS = reliability.KeepaliveTimeout(durationS).Milliseconds()

	msg := sn.Connect{Flags: flags, ProtocolID: sn.ProtocolID, Duration: durationS, ClientID: c.clientID}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(msg, buf)
	if n == 0 {
		return false
	}

	now := c.dev.NowMS()
	c.inFlight.Start(sn.CONNECT, 0, buf[:n], now)
	c.state = Connecting
	c.send(buf[:n])
	c.lastOut = now
	return true
}

// RegisterTopics adds publish topics and kicks off registration for any not
// yet assigned a topic-id (one at a time, per the in-flight invariant).
func (c *Client) RegisterTopics(names []string) {
	for _, name := range names {
		c.topics.AddPub(name)
	}
	c.pumpPending()
}

// SubscribeTopics adds subscribe topics and kicks off subscription for any
// not yet assigned a topic-id.
func (c *Client) SubscribeTopics(subs []SubscribeRequest) {
	for _, s := range subs {
		c.topics.AddSub(s.Name, s.Flags)
	}
	c.pumpPending()
}

// pumpPending starts the next REGISTER or SUBSCRIBE transaction, if the
// client is ACTIVE, idle, and has pending work.
func (c *Client) pumpPending() {
	if c.state != Active || c.inFlight.IsActive() {
		return
	}
	for i := range c.topics.Pub {
		if c.topics.Pub[i].Name != "" && c.topics.Pub[i].Tid == 0 {
			c.startRegister(i)
			return
		}
	}
	for i := range c.topics.Sub {
		if c.topics.Sub[i].Name != "" && c.topics.Sub[i].Tid == 0 {
			c.startSubscribe(i)
			return
		}
	}
}

func (c *Client) startRegister(idx int) {
	msgID := c.nextMsgID()
	msg := sn.Register{TopicID: 0, MsgID: msgID, TopicName: c.topics.Pub[idx].Name}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(msg, buf)
	if n == 0 {
		return
	}
	now := c.dev.NowMS()
	c.pendingPubIdx = idx
	c.inFlight.Start(sn.REGISTER, msgID, buf[:n], now)
	c.send(buf[:n])
	c.lastOut = now
}

func (c *Client) startSubscribe(idx int) {
	msgID := c.nextMsgID()
	msg := sn.Subscribe{Flags: c.topics.Sub[idx].Flags, MsgID: msgID, Topic: c.topics.Sub[idx].Name}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(msg, buf)
	if n == 0 {
		return
	}
	now := c.dev.NowMS()
	c.pendingSubIdx = idx
	c.inFlight.Start(sn.SUBSCRIBE, msgID, buf[:n], now)
	c.send(buf[:n])
	c.lastOut = now
}

// Unsubscribe withdraws a subscription.
func (c *Client) Unsubscribe(name string, flags sn.Flags) bool {
	if c.state != Active || c.inFlight.IsActive() {
		return false
	}
	idx := c.topics.SubByName(name)
	if idx < 0 {
		return false
	}
	msgID := c.nextMsgID()
	msg := sn.Unsubscribe{Flags: flags, MsgID: msgID, Topic: name}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(msg, buf)
	if n == 0 {
		return false
	}
	now := c.dev.NowMS()
	c.pendingSubIdx = idx
	c.inFlight.Start(sn.UNSUBSCRIBE, msgID, buf[:n], now)
	c.send(buf[:n])
	c.lastOut = now
	return true
}

// Publish sends a QoS 0 publish for a previously registered topic.
func (c *Client) Publish(name string, data []byte, flags sn.Flags) bool {
	if c.state != Active {
		return false
	}
	idx := c.topics.PubByName(name)
	if idx < 0 || c.topics.Pub[idx].Tid == 0 {
		return false
	}
	flags.QoS = 0
	msg := sn.Publish{Flags: flags, TopicID: c.topics.Pub[idx].Tid, MsgID: 0, Data: data}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(msg, buf)
	if n == 0 {
		return false
	}
	c.send(buf[:n])
	c.lastOut = c.dev.NowMS()
	return true
}

// Ping emits a heartbeat PINGREQ outside the normal keepalive schedule.
func (c *Client) Ping() bool {
	if c.state != Active {
		return false
	}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(sn.PingReq{}, buf)
	if n == 0 {
		return false
	}
	now := c.dev.NowMS()
	c.send(buf[:n])
	c.lastOut = now
	c.pingPending = true
	c.pingTimer = now
	return true
}

// Disconnect ends the session gracefully, emitting DISCONNECT.
func (c *Client) Disconnect() bool {
	if c.state != Active {
		return false
	}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(sn.Disconnect{}, buf)
	if n > 0 {
		c.send(buf[:n])
	}
	c.state = Disconnected
	c.inFlight.Clear()
	return true
}

func (c *Client) send(frame []byte) {
	if c.currGw < 0 {
		return
	}
	c.tr.Send(frame, c.gateways[c.currGw].GwAddr)
}

func (c *Client) broadcast(frame []byte) { c.tr.Broadcast(frame) }

func (c *Client) markCurrGwUnavailable() {
	if c.currGw >= 0 {
		c.gateways[c.currGw].Available = false
	}
}

// Loop drains the transport and advances every timer. Call it once per
// cooperative tick (§5).
func (c *Client) Loop() {
	if c.state == Lost {
		c.tickAutoReconnect(c.dev.NowMS())
	}
	c.drainTransport()
	now := c.dev.NowMS()
	c.tickDiscovery(now)
	c.tickInFlight(now)
	c.tickKeepalive(now)
	c.dev.Yield()
}

func (c *Client) drainTransport() {
	buf := make([]byte, c.codec.MaxMsgLen)
	for {
		n, src := c.tr.Recv(buf)
		if n < 0 {
			return
		}
		if n == 0 {
			continue // buffer too small for that packet; drop and keep polling
		}
		msg, _, err := codec.Decode(buf[:n])
		if err != nil {
			continue // malformed frame: drop silently (§7)
		}
		c.handle(msg, src)
	}
}

func (c *Client) handle(msg sn.Message, src transport.Addr) {
	h := codec.Handlers{
		GwInfo:     func(m sn.GwInfo) { c.onGwInfo(m, src) },
		SearchGW:   func(m sn.SearchGW) { c.onSearchGW(m, src) },
		Connack:    func(m sn.Connack) { c.onConnack(m, src) },
		Regack:     func(m sn.Regack) { c.onRegack(m, src) },
		Suback:     func(m sn.Suback) { c.onSuback(m, src) },
		Unsuback:   func(m sn.Unsuback) { c.onUnsuback(m, src) },
		Publish:    func(m sn.Publish) { c.onPublish(m, src) },
		PingResp:   func(m sn.PingResp) { c.onPingResp(m, src) },
		Disconnect: func(m sn.Disconnect) { c.onDisconnect(m, src) },
	}
	codec.Dispatch(h, msg)
}

func (c *Client) fromCurrGw(src transport.Addr) bool {
	return c.currGw >= 0 && c.gateways[c.currGw].GwAddr.Equal(src)
}

func (c *Client) onGwInfo(m sn.GwInfo, src transport.Addr) {
	addr := src
	if len(m.GwAddr) > 0 {
		addr = transport.Addr(m.GwAddr)
	}
	c.addOrUpdateGateway(m.GwID, addr)
	if c.gwinfoPending {
		c.gwinfoPending = false
		if c.state == Searching {
			c.state = Disconnected
			c.searching = false
		}
	}
}

func (c *Client) onSearchGW(m sn.SearchGW, src transport.Addr) {
	if c.gwinfoPending {
		c.searchTimerStart = c.dev.NowMS() // suppression: reset the local wait
	}
}

func (c *Client) onConnack(m sn.Connack, src transport.Addr) {
	if c.state != Connecting || !c.inFlight.IsActive() || c.inFlight.MsgType() != sn.CONNECT || !c.fromCurrGw(src) {
		return
	}
	c.inFlight.Clear()
	now := c.dev.NowMS()
	c.lastIn = now
	if m.ReturnCode == sn.Accepted {
		c.state = Active
		// sessions are not resumed across reconnect (§4.4).
		c.topics.ClearPubTids()
		c.topics.ClearSubTids()
	} else {
		c.state = Disconnected
	}
}

func (c *Client) onRegack(m sn.Regack, src transport.Addr) {
	if !c.inFlight.IsActive() || c.inFlight.MsgType() != sn.REGISTER || c.inFlight.MsgID() != m.MsgID || !c.fromCurrGw(src) {
		return
	}
	c.inFlight.Clear()
	c.lastIn = c.dev.NowMS()
	if m.ReturnCode == sn.Accepted && c.pendingPubIdx >= 0 {
		c.topics.SetPubTid(c.pendingPubIdx, m.TopicID)
	}
	c.pendingPubIdx = -1
	c.pumpPending()
}

func (c *Client) onSuback(m sn.Suback, src transport.Addr) {
	if !c.inFlight.IsActive() || c.inFlight.MsgType() != sn.SUBSCRIBE || c.inFlight.MsgID() != m.MsgID || !c.fromCurrGw(src) {
		return
	}
	c.inFlight.Clear()
	c.lastIn = c.dev.NowMS()
	if m.ReturnCode == sn.Accepted && c.pendingSubIdx >= 0 {
		c.topics.SetSubTid(c.pendingSubIdx, m.TopicID)
	}
	c.pendingSubIdx = -1
	c.pumpPending()
}

func (c *Client) onUnsuback(m sn.Unsuback, src transport.Addr) {
	if !c.inFlight.IsActive() || c.inFlight.MsgType() != sn.UNSUBSCRIBE || c.inFlight.MsgID() != m.MsgID || !c.fromCurrGw(src) {
		return
	}
	c.inFlight.Clear()
	c.lastIn = c.dev.NowMS()
	if c.pendingSubIdx >= 0 {
		c.topics.Sub[c.pendingSubIdx].Tid = sn.TopicIDTombstone
	}
	c.pendingSubIdx = -1
	c.pumpPending()
}

func (c *Client) onPublish(m sn.Publish, src transport.Addr) {
	if !c.fromCurrGw(src) {
		return
	}
	c.lastIn = c.dev.NowMS()
	idx := c.topics.SubByTid(m.TopicID)
	if idx < 0 {
		return
	}
	if c.onMessage != nil {
		c.onMessage(c.topics.Sub[idx].Name, m.Data, m.Flags)
	}
}

func (c *Client) onPingResp(m sn.PingResp, src transport.Addr) {
	if !c.fromCurrGw(src) {
		return
	}
	c.pingPending = false
	c.lastIn = c.dev.NowMS()
}

func (c *Client) onDisconnect(m sn.Disconnect, src transport.Addr) {
	if !c.fromCurrGw(src) {
		return
	}
	c.lastIn = c.dev.NowMS()
	// A gateway-initiated DISCONNECT (e.g. rejecting us) ends the session.
	c.state = Disconnected
	c.inFlight.Clear()
}

func (c *Client) tickDiscovery(now int64) {
	if c.state != Searching || !c.searching {
		return
	}
	if now-c.searchTimerStart < c.searchIntervalMS {
		return
	}
	buf := make([]byte, c.codec.MaxMsgLen)
	n := c.codec.Encode(sn.SearchGW{Radius: 0}, buf)
	if n > 0 {
		c.broadcast(buf[:n])
	}
	c.searchTimerStart = now
	next := c.searchIntervalMS * 2
	if next <= 0 {
		next = sn.TSearchGWMS
	}
	if next > sn.MaxTSearchGWMS {
		next = sn.MaxTSearchGWMS
	}
	c.searchIntervalMS = next
}

func (c *Client) tickInFlight(now int64) {
	if !c.inFlight.IsActive() {
		return
	}
	retransmit, lost := c.inFlight.Tick(now, sn.TRetryMS, sn.NRetry)
	switch {
	case lost:
		c.inFlight.Clear()
		c.pendingPubIdx = -1
		c.pendingSubIdx = -1
		c.state = Lost
		c.markCurrGwUnavailable()
	case retransmit:
		c.send(c.inFlight.Frame())
		c.inFlight.Retransmitted(now)
		c.lastOut = now
	}
}

func (c *Client) tickKeepalive(now int64) {
	if c.state != Active {
		return
	}
	lastActivity := c.lastIn
	if c.lastOut > lastActivity {
		lastActivity = c.lastOut
	}
	keepaliveMS := int64(c.connectDuration) * 1000

	if now-lastActivity >= keepaliveMS && !c.pingPending {
		buf := make([]byte, c.codec.MaxMsgLen)
		n := c.codec.Encode(sn.PingReq{}, buf)
		if n > 0 {
			c.send(buf[:n])
		}
		c.lastOut = now
		c.pingPending = true
		c.pingTimer = now
	}
	if c.pingPending && now-c.pingTimer >= sn.TRetryMS {
		buf := make([]byte, c.codec.MaxMsgLen)
		n := c.codec.Encode(sn.PingReq{}, buf)
		if n > 0 {
			c.send(buf[:n])
		}
		c.pingTimer = now
	}
	if now-c.lastIn >= c.keepaliveTimeoutMS {
		c.state = Lost
		c.markCurrGwUnavailable()
	}
}

func (c *Client) tickAutoReconnect(now int64) {
	c.Connect(0, c.connectFlags, c.connectDuration)
}

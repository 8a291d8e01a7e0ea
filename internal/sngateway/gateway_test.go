package sngateway

import (
	"testing"

	"github.com/mqttsn/gateway/internal/codec"
	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/transport"
	"github.com/mqttsn/gateway/internal/transport/mem"
)

type fakeDevice struct{ now int64 }

func (f *fakeDevice) NowMS() int64                  { return f.now }
func (f *fakeDevice) Random(min, max uint32) uint32 { return min }
func (f *fakeDevice) Yield()                        {}
func (f *fakeDevice) DelayMS(ms int64)              { f.now += ms }

type fakeBridge struct {
	connectState func(bool)
	onMessage    func(string, []byte, byte, bool)
	subscribed   []string
	published    []string
}

func (b *fakeBridge) Subscribe(topic string, qos byte) error {
	b.subscribed = append(b.subscribed, topic)
	return nil
}
func (b *fakeBridge) Unsubscribe(topic string) error { return nil }
func (b *fakeBridge) Publish(topic string, payload []byte, qos byte, retain bool) error {
	b.published = append(b.published, topic)
	return nil
}
func (b *fakeBridge) OnConnectState(fn func(bool))                       { b.connectState = fn }
func (b *fakeBridge) OnMessage(fn func(string, []byte, byte, bool))      { b.onMessage = fn }

func newTestGateway() (*Gateway, *mem.Bus, *fakeDevice) {
	bus := mem.NewBus()
	dev := &fakeDevice{}
	gw := New(dev, codec.New(32))
	gw.Begin(9)
	ep := bus.NewEndpoint(transport.Addr{9})
	gw.RegisterTransport(ep)
	return gw, bus, dev
}

func connectSession(t *testing.T, gw *Gateway, bus *mem.Bus, clientID string, addr byte) *mem.Endpoint {
	t.Helper()
	ep := bus.NewEndpoint(transport.Addr{addr})
	c := codec.New(32)
	buf := make([]byte, 32)
	n := c.Encode(sn.Connect{Flags: sn.Flags{CleanSession: true}, ProtocolID: sn.ProtocolID, Duration: 300, ClientID: clientID}, buf)
	ep.Send(buf[:n], transport.Addr{9})
	gw.Loop()

	ackBuf := make([]byte, 32)
	ackN, src := ep.Recv(ackBuf)
	if ackN <= 0 {
		t.Fatalf("no CONNACK received for %s", clientID)
	}
	msg, _, err := codec.Decode(ackBuf[:ackN])
	if err != nil {
		t.Fatalf("decode CONNACK: %v", err)
	}
	ack, ok := msg.(sn.Connack)
	if !ok || ack.ReturnCode != sn.Accepted {
		t.Fatalf("CONNACK = %+v, ok=%v, want ACCEPTED", msg, ok)
	}
	_ = src
	return ep
}

func testConnectAllocatesSession(t *testing.T) {
	gw, bus, _ := newTestGateway()
	connectSession(t, gw, bus, "alpha", 1)
	if gw.Stats().SessionsActive != 1 {
		t.Fatalf("SessionsActive = %d, want 1", gw.Stats().SessionsActive)
	}
}

func testConnectRejectsBadClientID(t *testing.T) {
	gw, bus, _ := newTestGateway()
	ep := bus.NewEndpoint(transport.Addr{1})
	c := codec.New(32)
	buf := make([]byte, 32)
	n := c.Encode(sn.Connect{ProtocolID: sn.ProtocolID, Duration: 300, ClientID: ""}, buf)
	ep.Send(buf[:n], transport.Addr{9})
	gw.Loop()
	if gw.Stats().SessionsActive != 0 {
		t.Fatalf("SessionsActive = %d, want 0 after empty client id", gw.Stats().SessionsActive)
	}
}

func testSearchGWRepliesGwInfo(t *testing.T) {
	gw, bus, _ := newTestGateway()
	ep := bus.NewEndpoint(transport.Addr{1})
	c := codec.New(32)
	buf := make([]byte, 32)
	n := c.Encode(sn.SearchGW{Radius: 0}, buf)
	ep.Send(buf[:n], transport.Addr{9})
	gw.Loop()

	recvBuf := make([]byte, 32)
	rn, _ := ep.Recv(recvBuf)
	if rn <= 0 {
		t.Fatal("expected a GWINFO reply")
	}
	msg, _, err := codec.Decode(recvBuf[:rn])
	if err != nil {
		t.Fatalf("decode GWINFO: %v", err)
	}
	gi, ok := msg.(sn.GwInfo)
	if !ok || gi.GwID != 9 {
		t.Fatalf("got %+v, want GwInfo{GwID:9}", msg)
	}
}

func testRegisterResolvesTopicID(t *testing.T) {
	gw, bus, _ := newTestGateway()
	ep := connectSession(t, gw, bus, "reg-client", 1)

	c := codec.New(32)
	buf := make([]byte, 32)
	n := c.Encode(sn.Register{MsgID: 5, TopicName: "a/b"}, buf)
	ep.Send(buf[:n], transport.Addr{9})
	gw.Loop()

	recvBuf := make([]byte, 32)
	rn, _ := ep.Recv(recvBuf)
	msg, _, err := codec.Decode(recvBuf[:rn])
	if err != nil {
		t.Fatalf("decode REGACK: %v", err)
	}
	ack, ok := msg.(sn.Regack)
	if !ok || ack.ReturnCode != sn.Accepted || ack.TopicID == 0 || ack.MsgID != 5 {
		t.Fatalf("got %+v", msg)
	}
}

func testPublishWithoutSubscribersDrops(t *testing.T) {
	gw, bus, _ := newTestGateway()
	ep := connectSession(t, gw, bus, "pub-client", 1)

	c := codec.New(32)
	buf := make([]byte, 32)
	n := c.Encode(sn.Register{MsgID: 1, TopicName: "lonely"}, buf)
	ep.Send(buf[:n], transport.Addr{9})
	gw.Loop()
	ackBuf := make([]byte, 32)
	ackN, _ := ep.Recv(ackBuf)
	msg, _, _ := codec.Decode(ackBuf[:ackN])
	tid := msg.(sn.Regack).TopicID

	pubBuf := make([]byte, 32)
	pn := c.Encode(sn.Publish{TopicID: tid, Data: []byte("x")}, pubBuf)
	ep.Send(pubBuf[:pn], transport.Addr{9})
	gw.Loop() // must not panic, nothing to deliver

	recvBuf := make([]byte, 32)
	if rn, _ := ep.Recv(recvBuf); rn > 0 {
		t.Fatalf("unexpected frame delivered back to publisher: %d bytes", rn)
	}
}

func testSubscribeFanOut(t *testing.T) {
	gw, bus, _ := newTestGateway()
	subA := connectSession(t, gw, bus, "sub-a", 1)
	subB := connectSession(t, gw, bus, "sub-b", 2)
	pub := connectSession(t, gw, bus, "pub-c", 3)

	c := codec.New(32)
	subscribeTo := func(ep *mem.Endpoint) uint16 {
		buf := make([]byte, 32)
		n := c.Encode(sn.Subscribe{MsgID: 1, Topic: "x"}, buf)
		ep.Send(buf[:n], transport.Addr{9})
		gw.Loop()
		ackBuf := make([]byte, 32)
		ackN, _ := ep.Recv(ackBuf)
		msg, _, err := codec.Decode(ackBuf[:ackN])
		if err != nil {
			t.Fatalf("decode SUBACK: %v", err)
		}
		return msg.(sn.Suback).TopicID
	}
	tidA := subscribeTo(subA)
	tidB := subscribeTo(subB)
	if tidA != tidB {
		t.Fatalf("subscribers got different topic ids: %d vs %d", tidA, tidB)
	}

	regBuf := make([]byte, 32)
	rn := c.Encode(sn.Register{MsgID: 1, TopicName: "x"}, regBuf)
	pub.Send(regBuf[:rn], transport.Addr{9})
	gw.Loop()
	ackBuf := make([]byte, 32)
	ackN, _ := pub.Recv(ackBuf)
	msg, _, _ := codec.Decode(ackBuf[:ackN])
	pubTid := msg.(sn.Regack).TopicID
	if pubTid != tidA {
		t.Fatalf("publish-side topic id = %d, want %d (shared mapping)", pubTid, tidA)
	}

	pubBuf := make([]byte, 32)
	pn := c.Encode(sn.Publish{TopicID: pubTid, Data: []byte("hello")}, pubBuf)
	pub.Send(pubBuf[:pn], transport.Addr{9})
	gw.Loop()

	for _, ep := range []*mem.Endpoint{subA, subB} {
		buf := make([]byte, 32)
		n, _ := ep.Recv(buf)
		if n <= 0 {
			t.Fatal("subscriber did not receive fan-out publish")
		}
		msg, _, err := codec.Decode(buf[:n])
		if err != nil {
			t.Fatalf("decode fan-out PUBLISH: %v", err)
		}
		p, ok := msg.(sn.Publish)
		if !ok || string(p.Data) != "hello" {
			t.Fatalf("got %+v", msg)
		}
		if n2, _ := ep.Recv(buf); n2 > 0 {
			t.Fatal("subscriber received more than one publish")
		}
	}
}

func testSleepAndAwakeDrainsQueue(t *testing.T) {
	gw, bus, dev := newTestGateway()
	sleeper := connectSession(t, gw, bus, "sleeper", 1)
	pub := connectSession(t, gw, bus, "waker", 2)

	c := codec.New(32)
	subBuf := make([]byte, 32)
	subLen := c.Encode(sn.Subscribe{MsgID: 1, Topic: "zzz"}, subBuf)
	sleeper.Send(subBuf[:subLen], transport.Addr{9})
	gw.Loop()
	ackBuf := make([]byte, 32)
	ackN, _ := sleeper.Recv(ackBuf)
	msg, _, _ := codec.Decode(ackBuf[:ackN])
	tid := msg.(sn.Suback).TopicID

	discBuf := make([]byte, 32)
	dn := c.Encode(sn.Disconnect{Duration: 60, HasDuration: true}, discBuf)
	sleeper.Send(discBuf[:dn], transport.Addr{9})
	gw.Loop()
	discAck := make([]byte, 32)
	dan, _ := sleeper.Recv(discAck)
	if dan <= 0 {
		t.Fatal("expected DISCONNECT reply acknowledging sleep")
	}

	regBuf := make([]byte, 32)
	rn := c.Encode(sn.Register{MsgID: 2, TopicName: "zzz"}, regBuf)
	pub.Send(regBuf[:rn], transport.Addr{9})
	gw.Loop()
	pubAck := make([]byte, 32)
	pan, _ := pub.Recv(pubAck)
	pmsg, _, _ := codec.Decode(pubAck[:pan])
	pubTid := pmsg.(sn.Regack).TopicID
	if pubTid != tid {
		t.Fatalf("mismatched topic id %d vs %d", pubTid, tid)
	}

	for i := 0; i < 2; i++ {
		buf := make([]byte, 32)
		n := c.Encode(sn.Publish{TopicID: pubTid, Data: []byte{byte(i)}}, buf)
		pub.Send(buf[:n], transport.Addr{9})
		gw.Loop()
	}
	if gw.Stats().SleepingQueueDepth != 2 {
		t.Fatalf("SleepingQueueDepth = %d, want 2", gw.Stats().SleepingQueueDepth)
	}

	pingBuf := make([]byte, 32)
	pn := c.Encode(sn.PingReq{ClientID: "sleeper"}, pingBuf)
	pub.Send(pingBuf[:pn], transport.Addr{9})
	dev.now += 1
	gw.Loop() // wakes the session and drains one frame

	buf := make([]byte, 32)
	n, _ := sleeper.Recv(buf)
	if n <= 0 {
		t.Fatal("sleeper did not receive first buffered frame")
	}

	dev.now += 1
	gw.Loop() // drains the second frame and empties the queue
	n2, _ := sleeper.Recv(buf)
	if n2 <= 0 {
		t.Fatal("sleeper did not receive second buffered frame")
	}

	n3, _ := sleeper.Recv(buf)
	if n3 <= 0 {
		t.Fatal("expected a PINGRESP once the sleepy queue emptied")
	}
	rmsg, _, err := codec.Decode(buf[:n3])
	if err != nil {
		t.Fatalf("decode PINGRESP: %v", err)
	}
	if _, ok := rmsg.(sn.PingResp); !ok {
		t.Fatalf("got %T, want PingResp", rmsg)
	}
}

func testKeepaliveTimeoutEvictsSession(t *testing.T) {
	gw, bus, dev := newTestGateway()
	connectSession(t, gw, bus, "short-lived", 1)

	dev.now += reliabilityTimeoutFor(300) + 1
	gw.Loop()

	if gw.Stats().SessionsActive != 0 {
		t.Fatalf("SessionsActive = %d, want 0 after keepalive timeout", gw.Stats().SessionsActive)
	}
	if gw.Stats().SessionsLostTotal != 1 {
		t.Fatalf("SessionsLostTotal = %d, want 1", gw.Stats().SessionsLostTotal)
	}
}

func testBridgePublishRelay(t *testing.T) {
	gw, bus, _ := newTestGateway()
	bridge := &fakeBridge{}
	gw.SetBridge(bridge)
	bridge.connectState(true)

	ep := connectSession(t, gw, bus, "bridged", 1)
	c := codec.New(32)
	regBuf := make([]byte, 32)
	rn := c.Encode(sn.Register{MsgID: 1, TopicName: "sensors/a"}, regBuf)
	ep.Send(regBuf[:rn], transport.Addr{9})
	gw.Loop()
	ackBuf := make([]byte, 32)
	ackN, _ := ep.Recv(ackBuf)
	msg, _, _ := codec.Decode(ackBuf[:ackN])
	tid := msg.(sn.Regack).TopicID

	gw.SetTopicPrefix("gw1")
	pubBuf := make([]byte, 32)
	pn := c.Encode(sn.Publish{TopicID: tid, Data: []byte("42")}, pubBuf)
	ep.Send(pubBuf[:pn], transport.Addr{9})
	gw.Loop()

	if len(bridge.published) != 1 || bridge.published[0] != "gw1/sensors/a" {
		t.Fatalf("bridge.published = %v, want [gw1/sensors/a]", bridge.published)
	}
}

func reliabilityTimeoutFor(durationS uint16) int64 {
	// mirrors reliability.KeepaliveTimeout without importing it twice in the
	// test: 300s is > 60s so the 1.1 tolerance applies.
	return int64(float64(durationS) * 1000 * 1.1)
}

func TestGateway(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"connect allocates session", testConnectAllocatesSession},
		{"connect rejects bad client id", testConnectRejectsBadClientID},
		{"searchgw replies gwinfo", testSearchGWRepliesGwInfo},
		{"register resolves topic id", testRegisterResolvesTopicID},
		{"publish without subscribers drops", testPublishWithoutSubscribersDrops},
		{"subscribe fan-out", testSubscribeFanOut},
		{"sleep and awake drains queue", testSleepAndAwakeDrainsQueue},
		{"keepalive timeout evicts session", testKeepaliveTimeoutEvictsSession},
		{"bridge publish relay", testBridgePublishRelay},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}

package codec

import (
	"reflect"
	"testing"

	sn "github.com/mqttsn/gateway/internal/mqttsn"
)

func testRoundTrip(t *testing.T) {
	c := New(sn.DefaultMaxMsgLen)

	msgs := []sn.Message{
		sn.Advertise{GwID: 7, Duration: 900},
		sn.SearchGW{Radius: 1},
		sn.GwInfo{GwID: 7, GwAddr: []byte{0x0A}},
		sn.GwInfo{GwID: 3},
		sn.Connect{Flags: sn.Flags{CleanSession: true}, ProtocolID: sn.ProtocolID, Duration: 30, ClientID: "sensor-a"},
		sn.Connack{ReturnCode: sn.Accepted},
		sn.Register{TopicID: 1, MsgID: 1, TopicName: "sensors/a"},
		sn.Regack{TopicID: 1, MsgID: 1, ReturnCode: sn.Accepted},
		sn.Publish{Flags: sn.Flags{}, TopicID: 1, MsgID: 0, Data: []byte{0xAB, 0xCD}},
		sn.Subscribe{Flags: sn.Flags{}, MsgID: 2, Topic: "x"},
		sn.Suback{Flags: sn.Flags{}, TopicID: 1, MsgID: 2, ReturnCode: sn.Accepted},
		sn.Unsubscribe{Flags: sn.Flags{}, MsgID: 3, Topic: "x"},
		sn.Unsuback{MsgID: 3},
		sn.PingReq{},
		sn.PingReq{ClientID: "sensor-a"},
		sn.PingResp{},
		sn.Disconnect{},
		sn.Disconnect{Duration: 60, HasDuration: true},
	}

	for _, msg := range msgs {
		buf := make([]byte, sn.DefaultMaxMsgLen)
		n := c.Encode(msg, buf)
		if n == 0 {
			t.Fatalf("encode %T returned 0", msg)
		}
		got, consumed, err := Decode(buf[:n])
		if err != nil {
			t.Fatalf("decode %T: %v", msg, err)
		}
		if consumed != n {
			t.Fatalf("decode %T consumed %d, want %d", msg, consumed, n)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Fatalf("round trip %T: got %#v want %#v", msg, got, msg)
		}
	}
}

func testEncodeBufferTooSmall(t *testing.T) {
	c := New(sn.DefaultMaxMsgLen)
	buf := make([]byte, 1)
	if n := c.Encode(sn.PingResp{}, buf); n != 0 {
		t.Fatalf("encode into too-small buffer returned %d, want 0", n)
	}
}

func testEncodeOversizeFrame(t *testing.T) {
	c := New(8)
	buf := make([]byte, 64)
	msg := sn.Register{TopicID: 1, MsgID: 1, TopicName: "a-much-too-long-topic-name"}
	if n := c.Encode(msg, buf); n != 0 {
		t.Fatalf("encode over MaxMsgLen returned %d, want 0", n)
	}
}

func testDecodeReservedLength(t *testing.T) {
	_, _, err := Decode([]byte{1, byte(sn.PINGRESP)})
	if err != sn.ErrReservedLength {
		t.Fatalf("decode length==1: got err %v, want ErrReservedLength", err)
	}
}

func testDecodeUnknownType(t *testing.T) {
	_, _, err := Decode([]byte{2, 0x7F})
	if err != sn.ErrUnknownMsgType {
		t.Fatalf("decode unknown type: got err %v, want ErrUnknownMsgType", err)
	}
}

func testDecodeBodyTooShort(t *testing.T) {
	_, _, err := Decode([]byte{5, byte(sn.REGACK), 0, 1})
	if err != sn.ErrBodyTooShort {
		t.Fatalf("decode short body: got err %v, want ErrBodyTooShort", err)
	}
}

func testDispatchUnknownHandlerDrops(t *testing.T) {
	var called bool
	h := Handlers{Publish: func(sn.Publish) { called = true }}
	if Dispatch(h, sn.Connack{ReturnCode: sn.Accepted}) {
		t.Fatal("dispatch with no Connack handler reported handled")
	}
	if called {
		t.Fatal("unrelated handler was invoked")
	}
}

func TestCodec(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"round-trip", testRoundTrip},
		{"encode buffer too small", testEncodeBufferTooSmall},
		{"encode oversize frame", testEncodeOversizeFrame},
		{"decode reserved length", testDecodeReservedLength},
		{"decode unknown type", testDecodeUnknownType},
		{"decode body too short", testDecodeBodyTooShort},
		{"dispatch unknown handler drops", testDispatchUnknownHandlerDrops},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}

// Package codec encodes and decodes MQTT-SN frames (§4.1). A frame is
// {length:u8, msg_type:u8, payload...}; length is the *total* frame length
// including itself and the type byte. The reserved multi-byte length marker
// (length==1) and frames over MaxMsgLen are rejected.
package codec

import (
	"encoding/binary"

	sn "github.com/mqttsn/gateway/internal/mqttsn"
)

// Codec encodes/decodes frames bounded by MaxMsgLen (§4.1: "default 32
// bytes; tunable").
type Codec struct {
	MaxMsgLen int
}

// New returns a Codec with the given frame budget, or the spec default (32)
// when maxMsgLen is 0.
func New(maxMsgLen int) *Codec {
	if maxMsgLen <= 0 {
		maxMsgLen = sn.DefaultMaxMsgLen
	}
	return &Codec{MaxMsgLen: maxMsgLen}
}

const headerLen = 2 // length + msg_type

// Encode writes msg's wire frame into out and returns the number of bytes
// written, or 0 if out is too small or the message kind is unsupported, or
// the resulting frame would exceed MaxMsgLen.
func (c *Codec) Encode(msg sn.Message, out []byte) int {
	switch msg.(type) {
	case sn.Advertise, sn.SearchGW, sn.GwInfo, sn.Connect, sn.Connack,
		sn.Register, sn.Regack, sn.Publish, sn.Puback, sn.Subscribe,
		sn.Suback, sn.Unsubscribe, sn.Unsuback, sn.PingReq, sn.PingResp,
		sn.Disconnect:
	default:
		return 0 // unsupported message kind
	}
	body := c.encodeBody(msg)
	total := headerLen + len(body)
	if total > 0xFF || total > c.MaxMsgLen {
		return 0
	}
	if len(out) < total {
		return 0
	}
	out[0] = byte(total)
	out[1] = byte(msg.Type())
	copy(out[headerLen:total], body)
	return total
}

func (c *Codec) encodeBody(msg sn.Message) []byte {
	switch m := msg.(type) {
	case sn.Advertise:
		b := make([]byte, 3)
		b[0] = m.GwID
		binary.BigEndian.PutUint16(b[1:3], m.Duration)
		return b
	case sn.SearchGW:
		return []byte{m.Radius}
	case sn.GwInfo:
		b := make([]byte, 1+len(m.GwAddr))
		b[0] = m.GwID
		copy(b[1:], m.GwAddr)
		return b
	case sn.Connect:
		clientID := []byte(m.ClientID)
		b := make([]byte, 4+len(clientID))
		b[0] = m.Flags.Encode()
		b[1] = m.ProtocolID
		binary.BigEndian.PutUint16(b[2:4], m.Duration)
		copy(b[4:], clientID)
		return b
	case sn.Connack:
		return []byte{byte(m.ReturnCode)}
	case sn.Register:
		name := []byte(m.TopicName)
		b := make([]byte, 4+len(name))
		binary.BigEndian.PutUint16(b[0:2], m.TopicID)
		binary.BigEndian.PutUint16(b[2:4], m.MsgID)
		copy(b[4:], name)
		return b
	case sn.Regack:
		b := make([]byte, 5)
		binary.BigEndian.PutUint16(b[0:2], m.TopicID)
		binary.BigEndian.PutUint16(b[2:4], m.MsgID)
		b[4] = byte(m.ReturnCode)
		return b
	case sn.Publish:
		b := make([]byte, 5+len(m.Data))
		b[0] = m.Flags.Encode()
		binary.BigEndian.PutUint16(b[1:3], m.TopicID)
		binary.BigEndian.PutUint16(b[3:5], m.MsgID)
		copy(b[5:], m.Data)
		return b
	case sn.Puback:
		b := make([]byte, 5)
		binary.BigEndian.PutUint16(b[0:2], m.TopicID)
		binary.BigEndian.PutUint16(b[2:4], m.MsgID)
		b[4] = byte(m.ReturnCode)
		return b
	case sn.Subscribe:
		topic := []byte(m.Topic)
		b := make([]byte, 3+len(topic))
		b[0] = m.Flags.Encode()
		binary.BigEndian.PutUint16(b[1:3], m.MsgID)
		copy(b[3:], topic)
		return b
	case sn.Suback:
		b := make([]byte, 6)
		b[0] = m.Flags.Encode()
		binary.BigEndian.PutUint16(b[1:3], m.TopicID)
		binary.BigEndian.PutUint16(b[3:5], m.MsgID)
		b[5] = byte(m.ReturnCode)
		return b
	case sn.Unsubscribe:
		topic := []byte(m.Topic)
		b := make([]byte, 3+len(topic))
		b[0] = m.Flags.Encode()
		binary.BigEndian.PutUint16(b[1:3], m.MsgID)
		copy(b[3:], topic)
		return b
	case sn.Unsuback:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b[0:2], m.MsgID)
		return b
	case sn.PingReq:
		return []byte(m.ClientID)
	case sn.PingResp:
		return nil
	case sn.Disconnect:
		if m.HasDuration {
			b := make([]byte, 2)
			binary.BigEndian.PutUint16(b, m.Duration)
			return b
		}
		return nil
	default:
		return nil // unsupported; Encode rejects these kinds before calling encodeBody
	}
}

// Decode parses a single frame from in (which may be longer than the frame;
// only the declared length prefix is consumed). It returns the decoded
// message and the number of bytes the frame occupied, or a non-nil error.
func Decode(in []byte) (sn.Message, int, error) {
	if len(in) < headerLen {
		return nil, 0, sn.ErrBodyTooShort
	}
	length := int(in[0])
	if length == 1 {
		return nil, 0, sn.ErrReservedLength
	}
	if length < headerLen || length > len(in) {
		return nil, 0, sn.ErrBodyTooShort
	}
	msgType := sn.MsgType(in[1])
	body := in[headerLen:length]

	msg, err := decodeBody(msgType, body)
	if err != nil {
		return nil, 0, err
	}
	return msg, length, nil
}

func decodeBody(msgType sn.MsgType, body []byte) (sn.Message, error) {
	switch msgType {
	case sn.ADVERTISE:
		if len(body) < 3 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Advertise{GwID: body[0], Duration: binary.BigEndian.Uint16(body[1:3])}, nil
	case sn.SEARCHGW:
		if len(body) < 1 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.SearchGW{Radius: body[0]}, nil
	case sn.GWINFO:
		if len(body) < 1 {
			return nil, sn.ErrBodyTooShort
		}
		var addr []byte
		if len(body) > 1 {
			addr = append([]byte(nil), body[1:]...)
		}
		return sn.GwInfo{GwID: body[0], GwAddr: addr}, nil
	case sn.CONNECT:
		if len(body) < 4 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Connect{
			Flags:      sn.DecodeFlags(body[0]),
			ProtocolID: body[1],
			Duration:   binary.BigEndian.Uint16(body[2:4]),
			ClientID:   string(body[4:]),
		}, nil
	case sn.CONNACK:
		if len(body) < 1 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Connack{ReturnCode: sn.ReturnCode(body[0])}, nil
	case sn.REGISTER:
		if len(body) < 4 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Register{
			TopicID:   binary.BigEndian.Uint16(body[0:2]),
			MsgID:     binary.BigEndian.Uint16(body[2:4]),
			TopicName: string(body[4:]),
		}, nil
	case sn.REGACK:
		if len(body) < 5 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Regack{
			TopicID:    binary.BigEndian.Uint16(body[0:2]),
			MsgID:      binary.BigEndian.Uint16(body[2:4]),
			ReturnCode: sn.ReturnCode(body[4]),
		}, nil
	case sn.PUBLISH:
		if len(body) < 5 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Publish{
			Flags:   sn.DecodeFlags(body[0]),
			TopicID: binary.BigEndian.Uint16(body[1:3]),
			MsgID:   binary.BigEndian.Uint16(body[3:5]),
			Data:    append([]byte(nil), body[5:]...),
		}, nil
	case sn.PUBACK:
		if len(body) < 5 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Puback{
			TopicID:    binary.BigEndian.Uint16(body[0:2]),
			MsgID:      binary.BigEndian.Uint16(body[2:4]),
			ReturnCode: sn.ReturnCode(body[4]),
		}, nil
	case sn.SUBSCRIBE:
		if len(body) < 3 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Subscribe{
			Flags: sn.DecodeFlags(body[0]),
			MsgID: binary.BigEndian.Uint16(body[1:3]),
			Topic: string(body[3:]),
		}, nil
	case sn.SUBACK:
		if len(body) < 6 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Suback{
			Flags:      sn.DecodeFlags(body[0]),
			TopicID:    binary.BigEndian.Uint16(body[1:3]),
			MsgID:      binary.BigEndian.Uint16(body[3:5]),
			ReturnCode: sn.ReturnCode(body[5]),
		}, nil
	case sn.UNSUBSCRIBE:
		if len(body) < 3 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Unsubscribe{
			Flags: sn.DecodeFlags(body[0]),
			MsgID: binary.BigEndian.Uint16(body[1:3]),
			Topic: string(body[3:]),
		}, nil
	case sn.UNSUBACK:
		if len(body) < 2 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Unsuback{MsgID: binary.BigEndian.Uint16(body[0:2])}, nil
	case sn.PINGREQ:
		return sn.PingReq{ClientID: string(body)}, nil
	case sn.PINGRESP:
		return sn.PingResp{}, nil
	case sn.DISCONNECT:
		if len(body) == 0 {
			return sn.Disconnect{}, nil
		}
		if len(body) < 2 {
			return nil, sn.ErrBodyTooShort
		}
		return sn.Disconnect{Duration: binary.BigEndian.Uint16(body[0:2]), HasDuration: true}, nil
	default:
		return nil, sn.ErrUnknownMsgType
	}
}

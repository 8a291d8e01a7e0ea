// Package mqttsn defines the MQTT-SN v1.2 wire types: message kinds, the
// packed flags byte, frame size limits and return codes. It holds no
// behaviour beyond bit packing/unpacking — encode/decode of whole frames
// lives in package codec.
package mqttsn

import "errors"

// Default configuration constants (§6). All are compile-time defaults;
// callers that need a different frame budget construct their own codec.Codec
// with an explicit MaxMsgLen.
const (
	DefaultMaxMsgLen   = 32
	MaxClientIDLen     = 23
	MaxAddrLen         = 10
	DefaultKeepaliveS  = 30
	TRetryMS           = 5000
	NRetry             = 3
	TSearchGWMS        = 5000
	MaxTSearchGWMS     = 1800000
	MaxInstanceTopics  = 10
	MaxTopicMappings   = 20
	MaxNumClients      = 10
	MaxQueuedPublish   = 64
	DefaultMaxBuffered = 8
)

// MaxTopicNameLen and MaxPayloadLen are derived from a given frame budget:
// MaxTopicNameLen = maxMsgLen-6 (REGISTER header), MaxPayloadLen =
// maxMsgLen-7 (PUBLISH header).
func MaxTopicNameLen(maxMsgLen int) int { return maxMsgLen - 6 }
func MaxPayloadLen(maxMsgLen int) int   { return maxMsgLen - 7 }

// MsgType identifies an MQTT-SN message kind (§4.1).
type MsgType byte

// Message kinds in scope for this engine.
const (
	ADVERTISE   MsgType = 0x00
	SEARCHGW    MsgType = 0x01
	GWINFO      MsgType = 0x02
	CONNECT     MsgType = 0x04
	CONNACK     MsgType = 0x05
	REGISTER    MsgType = 0x0A
	REGACK      MsgType = 0x0B
	PUBLISH     MsgType = 0x0C
	PUBACK      MsgType = 0x0D
	SUBSCRIBE   MsgType = 0x12
	SUBACK      MsgType = 0x13
	UNSUBSCRIBE MsgType = 0x14
	UNSUBACK    MsgType = 0x15
	PINGREQ     MsgType = 0x16
	PINGRESP    MsgType = 0x17
	DISCONNECT  MsgType = 0x18
)

func (t MsgType) String() string {
	switch t {
	case ADVERTISE:
		return "ADVERTISE"
	case SEARCHGW:
		return "SEARCHGW"
	case GWINFO:
		return "GWINFO"
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case REGISTER:
		return "REGISTER"
	case REGACK:
		return "REGACK"
	case PUBLISH:
		return "PUBLISH"
	case PUBACK:
		return "PUBACK"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case UNSUBACK:
		return "UNSUBACK"
	case PINGREQ:
		return "PINGREQ"
	case PINGRESP:
		return "PINGRESP"
	case DISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// ReturnCode values (§4.1 table footer).
type ReturnCode byte

const (
	Accepted        ReturnCode = 0
	Congestion      ReturnCode = 1
	InvalidTopicID  ReturnCode = 2
	NotSupported    ReturnCode = 3
)

func (rc ReturnCode) String() string {
	switch rc {
	case Accepted:
		return "ACCEPTED"
	case Congestion:
		return "CONGESTION"
	case InvalidTopicID:
		return "INVALID_TOPIC_ID"
	case NotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// TopicIDType occupies the low 2 bits of Flags. Only Normal is supported;
// pre-defined/short topic ids are a Non-goal (spec.md §1).
type TopicIDType byte

const (
	TopicIDNormal      TopicIDType = 0
	TopicIDPredefined  TopicIDType = 1
	TopicIDShortName   TopicIDType = 2
)

// Reserved topic-id values (§3).
const (
	TopicIDUnassigned uint16 = 0
	TopicIDTombstone  uint16 = 0xFFFF
)

// Flags packs dup/qos/retain/will/clean_session/topicid_type into a single
// byte, MSB to LSB, per §3.
type Flags struct {
	Dup           bool
	QoS           int8 // -1, 0, 1 or 2; the client's Publish always sends 0
	Retain        bool
	Will          bool
	CleanSession  bool
	TopicIDType   TopicIDType
}

// Encode packs the flags into a single byte.
func (f Flags) Encode() byte {
	var b byte
	if f.Dup {
		b |= 1 << 7
	}
	b |= byte(f.qosBits()) << 5
	if f.Retain {
		b |= 1 << 4
	}
	if f.Will {
		b |= 1 << 3
	}
	if f.CleanSession {
		b |= 1 << 2
	}
	b |= byte(f.TopicIDType) & 0x03
	return b
}

// qosBits maps the signed QoS (-1..2) onto the 2-bit wire field.
func (f Flags) qosBits() byte {
	if f.QoS < 0 {
		return 3 // qos -1 is wire-encoded as 0b11
	}
	return byte(f.QoS) & 0x03
}

// DecodeFlags unpacks a flags byte.
func DecodeFlags(b byte) Flags {
	qosBits := (b >> 5) & 0x03
	qos := int8(qosBits)
	if qosBits == 3 {
		qos = -1
	}
	return Flags{
		Dup:          b&(1<<7) != 0,
		QoS:          qos,
		Retain:       b&(1<<4) != 0,
		Will:         b&(1<<3) != 0,
		CleanSession: b&(1<<2) != 0,
		TopicIDType:  TopicIDType(b & 0x03),
	}
}

// ErrReservedLength is returned when a frame declares the reserved
// multi-byte length marker (length==1), which this engine does not support.
var ErrReservedLength = errors.New("mqttsn: multi-byte frame length (length==1) is unsupported")

// ErrUnknownMsgType is returned when a frame's type byte names no known
// message kind.
var ErrUnknownMsgType = errors.New("mqttsn: unknown message type")

// ErrBodyTooShort is returned when a frame's payload is too short for its
// declared message kind's fixed fields.
var ErrBodyTooShort = errors.New("mqttsn: message body shorter than fixed fields")

// ErrFrameTooLarge describes an encoded frame that would exceed the codec's
// configured MaxMsgLen, or a length byte that would overflow 255.
// codec.Encode reports that case by returning 0, not this error.
var ErrFrameTooLarge = errors.New("mqttsn: frame exceeds maximum length")

package codec

import sn "github.com/mqttsn/gateway/internal/mqttsn"

// Handlers maps every supported MsgType to a typed handler function. Callers
// build one Handlers table per state machine (client/gateway) and call
// Dispatch on each decoded message; an unrecognised type is reported back to
// the caller rather than silently ignored, preserving the "table-size guard
// against unknown types" called out in the reference design notes.
type Handlers struct {
	Advertise   func(sn.Advertise)
	SearchGW    func(sn.SearchGW)
	GwInfo      func(sn.GwInfo)
	Connect     func(sn.Connect)
	Connack     func(sn.Connack)
	Register    func(sn.Register)
	Regack      func(sn.Regack)
	Publish     func(sn.Publish)
	Puback      func(sn.Puback)
	Subscribe   func(sn.Subscribe)
	Suback      func(sn.Suback)
	Unsubscribe func(sn.Unsubscribe)
	Unsuback    func(sn.Unsuback)
	PingReq     func(sn.PingReq)
	PingResp    func(sn.PingResp)
	Disconnect  func(sn.Disconnect)
}

// Dispatch routes a decoded message to the matching handler in h. It returns
// false if no handler is registered for msg's kind (including unknown
// kinds), in which case the caller should drop the frame per §7.
func Dispatch(h Handlers, msg sn.Message) bool {
	switch m := msg.(type) {
	case sn.Advertise:
		if h.Advertise == nil {
			return false
		}
		h.Advertise(m)
	case sn.SearchGW:
		if h.SearchGW == nil {
			return false
		}
		h.SearchGW(m)
	case sn.GwInfo:
		if h.GwInfo == nil {
			return false
		}
		h.GwInfo(m)
	case sn.Connect:
		if h.Connect == nil {
			return false
		}
		h.Connect(m)
	case sn.Connack:
		if h.Connack == nil {
			return false
		}
		h.Connack(m)
	case sn.Register:
		if h.Register == nil {
			return false
		}
		h.Register(m)
	case sn.Regack:
		if h.Regack == nil {
			return false
		}
		h.Regack(m)
	case sn.Publish:
		if h.Publish == nil {
			return false
		}
		h.Publish(m)
	case sn.Puback:
		if h.Puback == nil {
			return false
		}
		h.Puback(m)
	case sn.Subscribe:
		if h.Subscribe == nil {
			return false
		}
		h.Subscribe(m)
	case sn.Suback:
		if h.Suback == nil {
			return false
		}
		h.Suback(m)
	case sn.Unsubscribe:
		if h.Unsubscribe == nil {
			return false
		}
		h.Unsubscribe(m)
	case sn.Unsuback:
		if h.Unsuback == nil {
			return false
		}
		h.Unsuback(m)
	case sn.PingReq:
		if h.PingReq == nil {
			return false
		}
		h.PingReq(m)
	case sn.PingResp:
		if h.PingResp == nil {
			return false
		}
		h.PingResp(m)
	case sn.Disconnect:
		if h.Disconnect == nil {
			return false
		}
		h.Disconnect(m)
	default:
		return false
	}
	return true
}

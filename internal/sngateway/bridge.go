package sngateway

import (
	"strings"

	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/topic"
)

// Bridge is the narrow collaborator interface the gateway state machine
// drives to mediate an upstream MQTT broker (§4.9, spec.md §6 "MQTT bridge
// (gateway only, consumed)"). internal/mqttbridge supplies the
// paho.mqtt.golang-backed production adapter; tests use an in-memory fake.
type Bridge interface {
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retain bool) error
	OnConnectState(func(connected bool))
	OnMessage(func(topic string, payload []byte, qos byte, retain bool))
}

// SetBridge wires b as the upstream bridge, registering the gateway's own
// callbacks so a publish arriving from the broker re-enters the engine only
// through the next loop() tick's FIFO drain (§5 concurrency boundary).
func (g *Gateway) SetBridge(b Bridge) {
	g.bridge = b
	b.OnConnectState(g.onBridgeConnectState)
	b.OnMessage(g.onBridgeMessage)
}

// composeUpstream implements the topic-prefix composition rule (§4.5): if a
// prefix is set and the name doesn't start with "$", prepend "prefix/".
func (g *Gateway) composeUpstream(name string) string {
	if g.topicPrefix == "" || strings.HasPrefix(name, "$") {
		return name
	}
	return g.topicPrefix + "/" + name
}

// stripUpstreamPrefix reverses composeUpstream for an inbound broker topic.
func (g *Gateway) stripUpstreamPrefix(topic string) string {
	if g.topicPrefix == "" {
		return topic
	}
	p := g.topicPrefix + "/"
	if strings.HasPrefix(topic, p) {
		return topic[len(p):]
	}
	return topic
}

// onBridgeConnectState implements the connect-state(bool) callback (§4.5).
func (g *Gateway) onBridgeConnectState(connected bool) {
	g.bridgeConnected = connected
	if !connected {
		return
	}
	g.mappings.Range(func(m *topic.Mapping) {
		if !m.Subbed {
			return
		}
		if g.anySessionSubscribes(m.Tid) {
			qos := byte(0)
			if m.SubQoS > 0 {
				qos = byte(m.SubQoS)
			}
			g.bridge.Subscribe(g.composeUpstream(m.Name), qos)
		} else {
			m.Subbed = false
		}
	})
}

// onBridgeMessage implements the inbound-publish(topic, payload, flags)
// callback (§4.5): strip the prefix, resolve (or allocate) a topic-id, and
// enqueue onto the global FIFO for delivery on the next loop() tick.
func (g *Gateway) onBridgeMessage(topic string, payload []byte, qos byte, retain bool) {
	name := g.stripUpstreamPrefix(topic)
	tid := g.mappings.Resolve(name)
	if tid == 0 {
		return // mapping table full; drop (Congestion, §7)
	}
	g.pubFIFO.push(queuedPublish{topicID: tid, data: payload, flags: sn.Flags{Retain: retain}})
}

// Package mqttbridge implements the upstream MQTT broker side of the
// gateway's Bridge collaborator interface (§4.9), backed by
// paho.mqtt.golang.
package mqttbridge

import (
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/mqttsn/gateway/internal/logger"
)

// DefChanSize defines the default publish channel size.
const DefChanSize = 100

const wait = 250 // waiting time for client disconnect in ms

type pubMsg struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// Bridge connects to an upstream MQTT broker and implements
// sngateway.Bridge. Publishes are queued and sent from a single goroutine
// so a slow broker round trip never blocks the gateway's Loop.
type Bridge struct {
	lg     logger.Logger
	config *Config
	client MQTT.Client

	mu             sync.RWMutex
	onConnectState func(bool)
	onMessage      func(topic string, payload []byte, qos byte, retain bool)

	pubCh chan *pubMsg
	wg    *sync.WaitGroup
}

// New connects to the broker described by config and returns a ready Bridge.
func New(lg logger.Logger, config *Config) (*Bridge, error) {
	if lg == nil {
		lg = logger.Null
	}

	b := &Bridge{
		lg:     lg,
		config: config,
		pubCh:  make(chan *pubMsg, DefChanSize),
		wg:     new(sync.WaitGroup),
	}

	// clean session: a crashed gateway must not have the broker replay a
	// backlog of messages for topics it may no longer be bridging (§4.9).
	opts := MQTT.NewClientOptions()
	opts.AddBroker(config.addr())
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetClientID(config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetDefaultPublishHandler(b.handler)
	opts.SetOnConnectHandler(func(MQTT.Client) { b.setConnected(true) })
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		lg.Printf("lost connection to broker %s: %s", config.addr(), err)
		b.setConnected(false)
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.client = client

	lg.Printf("connect to broker %s", config.addr())

	go b.publish(b.wg, b.pubCh)

	return b, nil
}

// Close disconnects from the broker, waiting for the publish goroutine to
// drain.
func (b *Bridge) Close() error {
	b.lg.Println("shutdown bridge...")
	close(b.pubCh)
	b.wg.Wait()
	b.client.Disconnect(wait)
	b.lg.Printf("disconnected from broker %s", b.config.addr())
	return nil
}

// OnConnectState registers the callback invoked on every broker connect and
// disconnect transition.
func (b *Bridge) OnConnectState(fn func(connected bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectState = fn
}

// OnMessage registers the callback invoked for every inbound broker message.
func (b *Bridge) OnMessage(fn func(topic string, payload []byte, qos byte, retain bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = fn
}

func (b *Bridge) setConnected(connected bool) {
	b.mu.RLock()
	fn := b.onConnectState
	b.mu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}

func (b *Bridge) handler(_ MQTT.Client, msg MQTT.Message) {
	b.mu.RLock()
	fn := b.onMessage
	b.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(msg.Topic(), msg.Payload(), byte(msg.Qos()), msg.Retained())
}

// Subscribe subscribes to an upstream topic at the given QoS.
func (b *Bridge) Subscribe(topic string, qos byte) error {
	token := b.client.Subscribe(topic, qos, b.handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Unsubscribe removes an upstream subscription.
func (b *Bridge) Unsubscribe(topic string) error {
	token := b.client.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Publish queues payload for delivery to topic. The publish happens
// asynchronously on the bridge's own goroutine; errors are logged, not
// returned, since the caller (the gateway Loop) must not block on a broker
// round trip.
func (b *Bridge) Publish(topic string, payload []byte, qos byte, retain bool) error {
	b.pubCh <- &pubMsg{topic: topic, payload: append([]byte(nil), payload...), qos: qos, retain: retain}
	return nil
}

func (b *Bridge) publish(wg *sync.WaitGroup, pubCh <-chan *pubMsg) {
	wg.Add(1)
	defer wg.Done()

	for msg := range pubCh {
		token := b.client.Publish(msg.topic, msg.qos, msg.retain, msg.payload)
		if token.Wait() && token.Error() != nil {
			b.lg.Printf("publish topic %s: %s", msg.topic, token.Error())
		}
	}
}

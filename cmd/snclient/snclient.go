// Command snclient is a demo MQTT-SN client: it discovers a gateway,
// connects, registers and subscribes to a topic, then publishes on it in a
// tight loop over the in-process memory transport. It exists to exercise
// internal/snclient end to end without any real network hardware.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/mqttsn/gateway/internal/codec"
	"github.com/mqttsn/gateway/internal/device"
	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/sngateway"
	"github.com/mqttsn/gateway/internal/snclient"
	"github.com/mqttsn/gateway/internal/transport/mem"
)

func main() {
	clientID := flag.String("clientID", "demo-client", "MQTT-SN client id")
	topic := flag.String("topic", "demo/topic", "topic name to register, subscribe, and publish on")
	gwID := flag.Uint("gwID", 1, "gateway id to run alongside the client")
	flag.Parse()

	bus := mem.NewBus()

	gwDev := device.NewSoftware(1)
	gwEp := bus.NewEndpoint([]byte{1})
	gw := sngateway.New(gwDev, codec.New(sn.DefaultMaxMsgLen))
	if !gw.Begin(byte(*gwID)) {
		log.Fatalf("invalid gwID %d", *gwID)
	}
	gw.RegisterTransport(gwEp)

	clDev := device.NewSoftware(2)
	clEp := bus.NewEndpoint([]byte{2})
	cl := snclient.New(clDev, clEp, codec.New(sn.DefaultMaxMsgLen))
	if !cl.Begin(*clientID) {
		log.Fatalf("invalid clientID %q", *clientID)
	}
	cl.OnMessage(func(name string, data []byte, flags sn.Flags) {
		log.Printf("recv %s: %q", name, data)
	})

	go func() {
		for {
			gw.Loop()
		}
	}()

	cl.StartDiscovery()
	for cl.GatewayCount() == 0 {
		cl.Loop()
		time.Sleep(10 * time.Millisecond)
	}

	cl.Connect(0, sn.Flags{}, sn.DefaultKeepaliveS)
	for !cl.IsConnected() {
		cl.Loop()
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("connected as %s", *clientID)

	cl.RegisterTopics([]string{*topic})
	cl.SubscribeTopics([]snclient.SubscribeRequest{{Name: *topic}})
	for cl.TransactionPending() {
		cl.Loop()
		time.Sleep(10 * time.Millisecond)
	}

	n := 0
	for {
		cl.Loop()
		n++
		if n%100 == 0 {
			cl.Publish(*topic, []byte("tick"), sn.Flags{})
		}
		time.Sleep(10 * time.Millisecond)
	}
}

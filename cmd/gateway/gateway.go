// Command gateway runs an MQTT-SN gateway daemon bridging one or more
// MQTT-SN transports to an upstream MQTT broker, serving a status/metrics
// endpoint alongside it.
package main

import (
	"embed"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mqttsn/gateway/internal/codec"
	cfg "github.com/mqttsn/gateway/internal/config"
	"github.com/mqttsn/gateway/internal/device"
	"github.com/mqttsn/gateway/internal/mqttbridge"
	sn "github.com/mqttsn/gateway/internal/mqttsn"
	"github.com/mqttsn/gateway/internal/sngateway"
	"github.com/mqttsn/gateway/internal/statusserver"
	"github.com/mqttsn/gateway/internal/transport/serialport"
	"github.com/mqttsn/gateway/internal/transport/ws"
)

//go:embed config/*
var embedFsys embed.FS

const embedConfigDir = "config"

const (
	envHost     = "MQTTSN_MQTT_HOST"
	envPort     = "MQTTSN_MQTT_PORT"
	envUsername = "MQTTSN_MQTT_USERNAME"
	envPassword = "MQTTSN_MQTT_PASSWORD"
)

func lookupEnv(name, defVal string) string {
	if val, ok := os.LookupEnv(name); ok {
		return val
	}
	return defVal
}

func main() {
	var set cfg.Set

	mqttHost := flag.String("mqttHost", lookupEnv(envHost, ""), "MQTT broker host (overrides config)")
	mqttPort := flag.String("mqttPort", lookupEnv(envPort, ""), "MQTT broker port (overrides config)")
	mqttUsername := flag.String("mqttUsername", lookupEnv(envUsername, ""), "MQTT broker username (overrides config)")
	mqttPassword := flag.String("mqttPassword", lookupEnv(envPassword, ""), "MQTT broker password (overrides config)")
	externConfigDir := flag.String("configDir", "", "external transport/gateway configuration directory")
	flag.Parse()

	log.Printf("load embedded configuration files")
	if err := set.Load(embedFsys, embedConfigDir); err != nil {
		log.Fatal(err)
	}
	if *externConfigDir != "" {
		log.Printf("load external configuration files at %s", *externConfigDir)
		if err := set.Load(os.DirFS(*externConfigDir), "."); err != nil {
			log.Fatal(err)
		}
	}

	if set.Gateway.GwID == 0 {
		log.Fatal("configuration error: gw_id is required and must be non-zero")
	}

	mqttConfig := mqttbridge.Config{
		Host:     set.Gateway.MQTT.Host,
		Port:     set.Gateway.MQTT.Port,
		Username: set.Gateway.MQTT.Username,
		Password: set.Gateway.MQTT.Password,
	}
	if *mqttHost != "" {
		mqttConfig.Host = *mqttHost
	}
	if *mqttPort != "" {
		mqttConfig.Port = *mqttPort
	}
	if *mqttUsername != "" {
		mqttConfig.Username = *mqttUsername
	}
	if *mqttPassword != "" {
		mqttConfig.Password = *mqttPassword
	}
	if mqttConfig.Host == "" {
		mqttConfig.Host = mqttbridge.DefaultHost
	}

	lg := log.New(os.Stderr, "", log.LstdFlags)

	dev := device.NewSoftware(0)
	gw := sngateway.New(dev, codec.New(sn.DefaultMaxMsgLen))
	if !gw.Begin(set.Gateway.GwID) {
		log.Fatalf("invalid gw_id %d", set.Gateway.GwID)
	}
	if set.Gateway.AdvertiseIntervalS != 0 {
		gw.SetAdvertiseInterval(set.Gateway.AdvertiseIntervalS)
	}
	gw.SetTopicPrefix(set.Gateway.TopicPrefix)

	for _, tc := range set.Transports {
		registerTransport(gw, tc)
	}

	mqttConfig.ClientID = "mqttsn-gateway-" + set.Gateway.Name
	bridge, err := mqttbridge.New(lg, &mqttConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer bridge.Close()
	gw.SetBridge(bridge)

	statusCfg := &statusserver.Config{Host: set.Gateway.StatusHost, Port: set.Gateway.StatusPort}
	srv := statusserver.New(lg, statusCfg, gw)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				gw.Loop()
			}
		}
	}()

	<-sig
	close(stop)
}

func registerTransport(gw *sngateway.Gateway, tc cfg.Transport) {
	switch {
	case tc.IsSerial():
		tr, err := serialport.Open(serialport.Config{Port: tc.SerialPort, BaudRate: tc.Baud})
		if err != nil {
			log.Fatalf("open serial transport %s: %s", tc.Name, err)
		}
		gw.RegisterTransport(tr)
		log.Printf("registered serial transport %s on %s", tc.Name, tc.SerialPort)
	case tc.IsWS():
		tr := ws.New()
		gw.RegisterTransport(tr)
		mux := http.NewServeMux()
		mux.HandleFunc("/", tr.Handler)
		go func() {
			if err := http.ListenAndServe(tc.WSAddr, mux); err != nil {
				log.Fatalf("websocket transport %s: %s", tc.Name, err)
			}
		}()
		log.Printf("registered websocket transport %s on %s", tc.Name, tc.WSAddr)
	default:
		log.Fatalf("transport document %s has neither serial_port nor ws_addr", tc.Name)
	}
}

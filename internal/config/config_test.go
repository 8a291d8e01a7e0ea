package config

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"load merges gateway and transport documents", testLoadMerges},
		{"later gateway document overwrites earlier one", testLoadOverwritesGateway},
		{"unrecognised document is an error", testLoadRejectsUnknownDoc},
	}
	for _, test := range tests {
		t.Run(test.name, test.fct)
	}
}

func testLoadMerges(t *testing.T) {
	fsys := fstest.MapFS{
		"gateway.yaml": &fstest.MapFile{Data: []byte(`
name: gw1
gw_id: 1
advertise_interval_s: 15
topic_prefix: home
mqtt:
  host: localhost
  port: "1883"
`)},
		"serial.yaml": &fstest.MapFile{Data: []byte(`
name: uart0
serial_port: /dev/ttyUSB0
baud: 115200
`)},
		"ws.yaml": &fstest.MapFile{Data: []byte(`
name: ws0
ws_addr: ":1886"
`)},
	}

	var s Set
	if err := s.Load(fsys, "."); err != nil {
		t.Fatal(err)
	}

	want := Gateway{
		Name:               "gw1",
		GwID:               1,
		AdvertiseIntervalS: 15,
		TopicPrefix:        "home",
		MQTT:               MQTT{Host: "localhost", Port: "1883"},
	}
	if s.Gateway != want {
		t.Fatalf("gateway = %+v, want %+v", s.Gateway, want)
	}
	if len(s.Transports) != 2 {
		t.Fatalf("transports = %+v, want 2 entries", s.Transports)
	}

	var serial, ws Transport
	for _, tr := range s.Transports {
		switch {
		case tr.IsSerial():
			serial = tr
		case tr.IsWS():
			ws = tr
		}
	}
	if !reflect.DeepEqual(serial, Transport{Name: "uart0", SerialPort: "/dev/ttyUSB0", Baud: 115200}) {
		t.Fatalf("serial transport = %+v", serial)
	}
	if !reflect.DeepEqual(ws, Transport{Name: "ws0", WSAddr: ":1886"}) {
		t.Fatalf("ws transport = %+v", ws)
	}
}

func testLoadOverwritesGateway(t *testing.T) {
	fsys := fstest.MapFS{
		"a.yaml": &fstest.MapFile{Data: []byte("name: gw1\ngw_id: 1\n")},
		"b.yaml": &fstest.MapFile{Data: []byte("name: gw1\ngw_id: 2\n")},
	}

	var s Set
	if err := s.Load(fsys, "."); err != nil {
		t.Fatal(err)
	}
	// fs.WalkDir visits entries in lexical order, so b.yaml is loaded last.
	if s.Gateway.GwID != 2 {
		t.Fatalf("gw_id = %d, want 2 from the later b.yaml", s.Gateway.GwID)
	}
}

func testLoadRejectsUnknownDoc(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.yaml": &fstest.MapFile{Data: []byte("name: mystery\nfoo: bar\n")},
	}

	var s Set
	if err := s.Load(fsys, "."); err == nil {
		t.Fatal("expected an error for an unrecognised document")
	}
}

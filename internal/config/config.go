// Package config loads the gateway's YAML configuration documents: an
// embedded default plus an optional external directory, generalising the
// teacher's CSConfig/LocoConfig document-sniffing to Gateway/Transport
// document-sniffing (§4.11).
package config

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

var yamlExts = []string{".yaml", ".yml"}

// MQTT holds upstream broker connection settings, reusing the teacher's
// Host/Port/Username/Password shape verbatim.
type MQTT struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Gateway is the single gateway-level document, sniffed by the presence of
// gw_id.
type Gateway struct {
	Name               string `yaml:"name"`
	GwID               byte   `yaml:"gw_id"`
	AdvertiseIntervalS uint16 `yaml:"advertise_interval_s"`
	TopicPrefix        string `yaml:"topic_prefix"`
	StatusHost         string `yaml:"status_host"`
	StatusPort         string `yaml:"status_port"`
	MQTT               MQTT   `yaml:"mqtt"`
}

// Transport is one transport document, sniffed by the presence of
// serial_port or ws_addr.
type Transport struct {
	Name       string `yaml:"name"`
	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`
	WSAddr     string `yaml:"ws_addr"`
}

// IsSerial reports whether this document describes a serial transport.
func (t Transport) IsSerial() bool { return t.SerialPort != "" }

// IsWS reports whether this document describes a websocket transport.
func (t Transport) IsWS() bool { return t.WSAddr != "" }

// Set is the merged configuration loaded from one or more YAML documents.
// A later Gateway document overwrites an earlier one; Transport documents
// accumulate across every loaded file.
type Set struct {
	Gateway    Gateway
	Transports []Transport
}

func isGatewayDoc(m map[string]any) bool {
	_, ok := m["gw_id"]
	return ok
}

func isTransportDoc(m map[string]any) bool {
	if _, ok := m["serial_port"]; ok {
		return true
	}
	if _, ok := m["ws_addr"]; ok {
		return true
	}
	return false
}

func (s *Set) parseYaml(b []byte) error {
	cd := yaml.NewDecoder(bytes.NewBuffer(b))
	dd := yaml.NewDecoder(bytes.NewBuffer(b))

	for {
		var m map[string]any

		err := cd.Decode(&m)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch {
		case isGatewayDoc(m):
			var gw Gateway
			if err := dd.Decode(&gw); err != nil {
				return err
			}
			s.Gateway = gw
		case isTransportDoc(m):
			var tr Transport
			if err := dd.Decode(&tr); err != nil {
				return err
			}
			s.Transports = append(s.Transports, tr)
		default:
			return fmt.Errorf("invalid configuration document %v", m)
		}
	}
	return nil
}

// Load walks fsys under path, merging every .yaml/.yml document found.
func (s *Set) Load(fsys fs.FS, path string) error {
	return fs.WalkDir(fsys, path, func(subPath string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !slices.Contains(yamlExts, filepath.Ext(d.Name())) {
			return nil
		}
		b, err := fs.ReadFile(fsys, subPath)
		if err != nil {
			return err
		}
		return s.parseYaml(b)
	})
}

package mqttbridge

import "net"

// Default values.
const (
	DefaultHost = "localhost"
	DefaultPort = "1883"
)

// Config represents the upstream MQTT broker connection data (§4.9).
type Config struct {
	// MQTT broker host
	Host string
	// MQTT broker port
	Port string
	// MQTT authentication username
	Username string
	// MQTT authentication password
	Password string
	// ClientID is the broker-facing client id. Empty lets the broker assign
	// one, which is fine since the bridge always connects with a clean
	// session (§4.9).
	ClientID string
}

func (c *Config) port() string {
	if c.Port == "" {
		return DefaultPort
	}
	return c.Port
}

func (c *Config) addr() string { return net.JoinHostPort(c.Host, c.port()) }

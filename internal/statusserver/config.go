package statusserver

import "net"

// Default values.
const (
	DefaultHost = "localhost"
	DefaultPort = "8080"
)

// Config represents the status/metrics HTTP server's listen address (§4.10).
type Config struct {
	// Host the status server binds to.
	Host string
	// Port the status server binds to.
	Port string
}

func (c *Config) port() string {
	if c.Port == "" {
		return DefaultPort
	}
	return c.Port
}

func (c *Config) addr() string { return net.JoinHostPort(c.Host, c.port()) }

// Package serial provides a serial port, which provides the io.ReadWriter
// interface, that provides the connection between the at package and the
// physical modem.
package serial

import (
	"github.com/tarm/serial"
)

// Config holds the serial port configuration.
type Config struct {
	port string
	baud int
}

// Option modifies the Config used by New.
type Option func(*Config)

// WithPort sets the path of the serial device, e.g. "/dev/ttyUSB0".
func WithPort(port string) Option {
	return func(c *Config) {
		c.port = port
	}
}

// WithBaud sets the baud rate, e.g. 115200.
func WithBaud(baud int) Option {
	return func(c *Config) {
		c.baud = baud
	}
}

// New opens a serial port using 8-N-1 framing at the configured baud rate.
//
// defaultConfig is platform specific (see serial_linux.go,
// serial_darwin.go, serial_windows.go) and provides the fallback device
// path and baud rate when no Option overrides them.
func New(opts ...Option) (*serial.Port, error) {
	cfg := defaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	config := &serial.Config{Name: cfg.port, Baud: cfg.baud}
	return serial.OpenPort(config)
}

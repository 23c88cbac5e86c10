package server

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Mode selects how connections are multiplexed.
type Mode string

const (
	// ModeGoroutine spawns one goroutine per accepted connection and lets the
	// Go runtime netpoller schedule them.
	ModeGoroutine Mode = "goroutine"

	// ModeReactor drives non-blocking sockets from one epoll instance per
	// worker. Linux only.
	ModeReactor Mode = "reactor"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeGoroutine, "":
		return ModeGoroutine, nil
	case ModeReactor:
		return ModeReactor, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, ModeGoroutine, ModeReactor)
	}
}

// Config describes a hello server.
type Config struct {
	// Host is the IPv4 address to bind.
	Host string `json:"host" yaml:"host"`

	// Port to bind. Zero picks an ephemeral port.
	Port int `json:"port" yaml:"port"`

	Mode Mode `json:"mode" yaml:"mode"`

	// Procs sets GOMAXPROCS in goroutine mode and the number of workers in
	// reactor mode. Zero keeps the runtime default.
	Procs int `json:"procs,omitempty" yaml:"procs,omitempty"`

	// Listeners is the number of SO_REUSEPORT listeners sharing the address
	// in goroutine mode, each with its own accept loop.
	Listeners int `json:"listeners,omitempty" yaml:"listeners,omitempty"`

	// Timeout bounds every read and every write. Zero disables it.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ReusePort sets SO_REUSEPORT even with a single listener so that other
	// processes may bind the same address.
	ReusePort bool `json:"reusePort,omitempty" yaml:"reusePort,omitempty"`
}

// DefaultConfig returns a goroutine-mode server on 127.0.0.1 with an
// ephemeral port and no timeout.
func DefaultConfig() Config {
	return Config{
		Host:      "127.0.0.1",
		Mode:      ModeGoroutine,
		Listeners: 1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var problems []string

	if ip := net.ParseIP(c.Host); ip == nil || ip.To4() == nil {
		problems = append(problems, fmt.Sprintf("host %q is not an IPv4 address", c.Host))
	}
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Procs < 0 {
		problems = append(problems, "procs cannot be negative")
	}
	if c.Listeners < 1 {
		problems = append(problems, "listeners must be at least 1")
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout cannot be negative")
	}

	switch c.Mode {
	case ModeGoroutine:
	case ModeReactor:
		if c.Timeout > 0 {
			problems = append(problems, "timeout is not supported in reactor mode")
		}
		if c.Listeners > 1 {
			problems = append(problems, "reactor mode opens one listener per worker; use procs instead of listeners")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", c.Mode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid server config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

package eventbridge

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emotional-recursion/erf/internal/config"
)

const (
	// DefaultHost binds the bridge to loopback.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the bridge server.
	DefaultPort = 8765
	// DefaultMaxBodyBytes limits one posted turn to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes. Streams clear it per request.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Environment overrides, applied after .erf/config.yaml.
const (
	EnvEnabled = "ERF_BRIDGE_ENABLED"
	EnvHost    = "ERF_BRIDGE_HOST"
	EnvPort    = "ERF_BRIDGE_PORT"
)

// Settings is the resolved bridge block: config.yaml values over the
// defaults, then the ERF_BRIDGE_* overrides.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings returns an enabled loopback bridge with the built-in limits.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// SettingsFromConfig resolves the bridge settings for cfg. The config block
// is validated when it is loaded; a malformed environment override is an
// error rather than being ignored.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	s := DefaultSettings()
	if cfg != nil {
		s.merge(cfg.Project.Bridge)
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) merge(b config.BridgeConfig) {
	if b.Enabled != nil {
		s.Enabled = *b.Enabled
	}
	if host := strings.TrimSpace(b.Host); host != "" {
		s.Host = host
	}
	if b.Port != 0 {
		s.Port = b.Port
	}
	if b.MaxBodyBytes > 0 {
		s.MaxBodyBytes = b.MaxBodyBytes
	}
	read, write, idle := b.Timeouts()
	s.ReadTimeout = orDefault(read, s.ReadTimeout)
	s.WriteTimeout = orDefault(write, s.WriteTimeout)
	s.IdleTimeout = orDefault(idle, s.IdleTimeout)
}

func (s *Settings) applyEnv() error {
	if value := strings.TrimSpace(os.Getenv(EnvEnabled)); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("eventbridge: %s=%q is not a boolean", EnvEnabled, value)
		}
		s.Enabled = enabled
	}
	host := s.Host
	if value := strings.TrimSpace(os.Getenv(EnvHost)); value != "" {
		host = value
	}
	port := s.Port
	if value := strings.TrimSpace(os.Getenv(EnvPort)); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed == 0 {
			return fmt.Errorf("eventbridge: %s=%q is not a port", EnvPort, value)
		}
		port = parsed
	}
	if err := config.CheckBridgeAddress(host, port); err != nil {
		return fmt.Errorf("eventbridge: %w", err)
	}
	s.Host, s.Port = host, port
	return nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

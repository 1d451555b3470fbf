// Package config loads the runtime configuration of a sage application from
// YAML or JSON files and SAGE_* environment variables, and reloads it when the
// file changes.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// SlogLevel converts the level for log/slog. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a time.Duration written as a Go duration string ("30ms").
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func parseDuration(s string) (Duration, error) {
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return Duration(v), nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Config represents the complete sage configuration
type Config struct {
	App     AppConfig     `yaml:"app" json:"app"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
	Groups  []GroupConfig `yaml:"groups,omitempty" json:"groups,omitempty"`
	Network NetworkConfig `yaml:"network" json:"network"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Version     string      `yaml:"version" json:"version"`
	Environment Environment `yaml:"environment" json:"environment"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level LogLevel `yaml:"level" json:"level"`

	// Format is text or json
	Format string `yaml:"format" json:"format"`

	// Output is stdout, stderr or a file path
	Output string `yaml:"output" json:"output"`
}

// RuntimeConfig paces the main group.
type RuntimeConfig struct {
	Interval    Duration `yaml:"interval" json:"interval"`
	MinSleep    Duration `yaml:"min_sleep" json:"min_sleep"`
	MaxTickTime Duration `yaml:"max_tick_time" json:"max_tick_time"`
}

// GroupMode selects how a group runs.
type GroupMode string

const (
	GroupThread  GroupMode = "thread"
	GroupProcess GroupMode = "process"
)

// GroupConfig describes one group started at boot.
type GroupConfig struct {
	Name string    `yaml:"name" json:"name"`
	Mode GroupMode `yaml:"mode" json:"mode"`

	// Actor is the factory a process group builds its actor with
	Actor string `yaml:"actor,omitempty" json:"actor,omitempty"`

	Interval    Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	MinSleep    Duration `yaml:"min_sleep,omitempty" json:"min_sleep,omitempty"`
	MaxTickTime Duration `yaml:"max_tick_time,omitempty" json:"max_tick_time,omitempty"`
}

// Transport names
const (
	TransportNone      = "none"
	TransportTCP       = "tcp"
	TransportUDP       = "udp"
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
	TransportMemory    = "memory"
)

// Network modes
const (
	ModeListen  = "listen"
	ModeConnect = "connect"
)

// NetworkConfig binds the main system to a transport.
type NetworkConfig struct {
	Transport      string     `yaml:"transport" json:"transport"`
	Mode           string     `yaml:"mode" json:"mode"`
	Host           string     `yaml:"host" json:"host"`
	Port           int        `yaml:"port" json:"port"`
	MaxConnections int        `yaml:"max_connections" json:"max_connections"`
	MaxPacketSize  int        `yaml:"max_packet_size" json:"max_packet_size"`
	WebSocketPath  string     `yaml:"websocket_path" json:"websocket_path"`
	NATS           NATSConfig `yaml:"nats" json:"nats"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sage-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stderr",
		},
		Runtime: RuntimeConfig{
			Interval: Duration(30 * time.Millisecond),
			MinSleep: Duration(time.Millisecond),
		},
		Network: NetworkConfig{
			Transport:      TransportNone,
			Mode:           ModeListen,
			Host:           "0.0.0.0",
			Port:           8080,
			MaxConnections: 1000,
			MaxPacketSize:  1024 * 1024,
			WebSocketPath:  "/sage",
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "sage",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEnvironment, c.App.Environment)
	}

	if !c.Log.Level.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}

	if c.Runtime.Interval <= 0 || c.Runtime.MinSleep < 0 || c.Runtime.MaxTickTime < 0 {
		return fmt.Errorf("%w: runtime", ErrInvalidInterval)
	}

	seen := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" || g.Name == "main" {
			return fmt.Errorf("%w: name %q", ErrInvalidGroup, g.Name)
		}
		if seen[g.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.Name)
		}
		seen[g.Name] = true
		if g.Mode != GroupThread && g.Mode != GroupProcess {
			return fmt.Errorf("%w: %s mode %q", ErrInvalidGroup, g.Name, g.Mode)
		}
		if g.Interval < 0 || g.MinSleep < 0 || g.MaxTickTime < 0 {
			return fmt.Errorf("%w: group %s", ErrInvalidInterval, g.Name)
		}
	}

	switch c.Network.Transport {
	case TransportNone:
	case TransportTCP, TransportUDP, TransportWebSocket, TransportNATS, TransportMemory:
		if c.Network.Mode != ModeListen && c.Network.Mode != ModeConnect {
			return fmt.Errorf("%w: %q", ErrInvalidNetworkMode, c.Network.Mode)
		}
		if c.Network.Port < 0 || c.Network.Port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, c.Network.Port)
		}
		if c.Network.Mode == ModeConnect && c.Network.Port == 0 {
			return fmt.Errorf("%w: connect needs a port", ErrInvalidPort)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Network.Transport)
	}

	if c.Metrics.Enabled && (c.Metrics.Address == "" || c.Metrics.Path == "") {
		return ErrInvalidMetrics
	}
	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

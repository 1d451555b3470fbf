package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// FormatOf infers the format from a file extension.
func FormatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// Loader handles configuration loading from files and the environment
type Loader struct {
	searchPaths []string
	fileNames   []string
	envPrefix   string
	defaults    func() *Config
	getenv      func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "./configs", "/etc/sage"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".sage"))
	}
	return &Loader{
		searchPaths: paths,
		fileNames:   []string{"sage.yaml", "sage.yml", "sage.json", "config.yaml", "config.yml", "config.json"},
		envPrefix:   "SAGE",
		defaults:    DefaultConfig,
		getenv:      os.Getenv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaults replaces the function producing the base configuration.
func (l *Loader) SetDefaults(fn func() *Config) *Loader {
	l.defaults = fn
	return l
}

// Load reads filename over the defaults, applies environment overrides and
// validates the result. An empty filename loads defaults and environment only.
func (l *Loader) Load(filename string) (*Config, error) {
	cfg := l.defaults()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
			}
			return nil, fmt.Errorf("read config %s: %w", filename, err)
		}
		format, err := FormatOf(filename)
		if err != nil {
			return nil, err
		}
		if err := decode(data, format, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", filename, err)
		}
	}
	return l.finish(cfg)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read configuration data: %w", err)
	}
	cfg := l.defaults()
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

// AutoLoad searches the search paths for a known file name and loads the first
// match. Without a file it falls back to defaults and environment.
func (l *Loader) AutoLoad() (*Config, string, error) {
	file, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		cfg, err := l.Load("")
		return cfg, "", err
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := l.Load(file)
	return cfg, file, err
}

func (l *Loader) finish(cfg *Config) (*Config, error) {
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) findConfigFile() (string, error) {
	for _, dir := range l.searchPaths {
		for _, name := range l.fileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", ErrConfigFileNotFound
}

// decode unmarshals data over cfg, so absent keys keep their current values.
func decode(data []byte, format ConfigFormat, cfg *Config) error {
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigParseError, err)
	}
	return nil
}

func (l *Loader) env(key string) (string, bool) {
	v := l.getenv(l.envPrefix + "_" + key)
	return v, v != ""
}

// applyEnv overrides cfg from <PREFIX>_* variables.
func (l *Loader) applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"APP_NAME", &cfg.App.Name},
		{"APP_VERSION", &cfg.App.Version},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"LOG_OUTPUT", &cfg.Log.Output},
		{"NETWORK_TRANSPORT", &cfg.Network.Transport},
		{"NETWORK_MODE", &cfg.Network.Mode},
		{"NETWORK_HOST", &cfg.Network.Host},
		{"NATS_URL", &cfg.Network.NATS.URL},
		{"NATS_SUBJECT_PREFIX", &cfg.Network.NATS.SubjectPrefix},
		{"METRICS_ADDRESS", &cfg.Metrics.Address},
		{"METRICS_PATH", &cfg.Metrics.Path},
	}
	for _, s := range strs {
		if v, ok := l.env(s.key); ok {
			*s.dst = v
		}
	}

	if v, ok := l.env("APP_ENVIRONMENT"); ok {
		cfg.App.Environment = Environment(v)
	}
	if v, ok := l.env("LOG_LEVEL"); ok {
		cfg.Log.Level = LogLevel(strings.ToLower(v))
	}

	if v, ok := l.env("NETWORK_PORT"); ok {
		port, err := parsePort(v)
		if err != nil {
			return fmt.Errorf("%w: %s_NETWORK_PORT: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		cfg.Network.Port = port
	}

	if v, ok := l.env("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s_METRICS_ENABLED: %w", ErrEnvironmentVarError, l.envPrefix, err)
		}
		cfg.Metrics.Enabled = b
	}

	durs := []struct {
		key string
		dst *Duration
	}{
		{"RUNTIME_INTERVAL", &cfg.Runtime.Interval},
		{"RUNTIME_MIN_SLEEP", &cfg.Runtime.MinSleep},
		{"RUNTIME_MAX_TICK_TIME", &cfg.Runtime.MaxTickTime},
	}
	for _, d := range durs {
		v, ok := l.env(d.key)
		if !ok {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s_%s: %w", ErrEnvironmentVarError, l.envPrefix, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return port, nil
}

// SaveToFile writes cfg in the format implied by the file extension.
func SaveToFile(cfg *Config, filename string) error {
	format, err := FormatOf(filename)
	if err != nil {
		return err
	}
	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

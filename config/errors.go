package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName     = errors.New("invalid application name")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidInterval    = errors.New("invalid tick interval")
	ErrInvalidGroup       = errors.New("invalid group")
	ErrDuplicateGroup     = errors.New("duplicate group")
	ErrInvalidTransport   = errors.New("invalid transport")
	ErrInvalidNetworkMode = errors.New("invalid network mode")
	ErrInvalidPort        = errors.New("invalid port number")
	ErrInvalidMetrics     = errors.New("invalid metrics configuration")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)

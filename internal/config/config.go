// Package config loads pushreg settings from a YAML file, applies
// PUSHREG_* environment overrides and validates the result against an
// embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "pushreg.yaml"

// Environment overrides.
const (
	EnvStorePath        = "PUSHREG_STORE_PATH"
	EnvAPIBaseURL       = "PUSHREG_API_BASE_URL"
	EnvAPIKey           = "PUSHREG_API_KEY"
	EnvAPITimeout       = "PUSHREG_API_TIMEOUT"
	EnvDevicePlatform   = "PUSHREG_DEVICE_PLATFORM"
	EnvDeviceFormFactor = "PUSHREG_DEVICE_FORM_FACTOR"
	EnvDeviceClientID   = "PUSHREG_DEVICE_CLIENT_ID"
	EnvLogLevel         = "PUSHREG_LOG_LEVEL"
)

// ErrNotFound is returned when an explicitly named config file is missing.
var ErrNotFound = errors.New("config file not found")

// Config is the resolved configuration.
//
// The json tags name the fields for CUE validation; the yaml tags name them
// in the config file. They are kept identical.
type Config struct {
	StorePath string `yaml:"store_path" json:"store_path"`
	API       API    `yaml:"api" json:"api"`
	Device    Device `yaml:"device" json:"device"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// API configures the registration endpoint.
type API struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Key     string `yaml:"key,omitempty" json:"key,omitempty"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// Device holds the attributes used when provisioning the local device.
type Device struct {
	Platform   string `yaml:"platform" json:"platform"`
	FormFactor string `yaml:"form_factor" json:"form_factor"`
	ClientID   string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
}

// ValidationError reports a config that does not satisfy the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Message
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a schema violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StorePath: "pushreg.db",
		API: API{
			BaseURL: "https://rest.ably.io",
			Timeout: "15s",
		},
		Device: Device{
			Platform:   "android",
			FormFactor: "phone",
		},
		LogLevel: "info",
	}
}

// Load resolves the configuration: defaults, then the file at path (skipped
// when path is empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvStorePath, &cfg.StorePath},
		{EnvAPIBaseURL, &cfg.API.BaseURL},
		{EnvAPIKey, &cfg.API.Key},
		{EnvAPITimeout, &cfg.API.Timeout},
		{EnvDevicePlatform, &cfg.Device.Platform},
		{EnvDeviceFormFactor, &cfg.Device.FormFactor},
		{EnvDeviceClientID, &cfg.Device.ClientID},
		{EnvLogLevel, &cfg.LogLevel},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok {
			*o.dst = strings.TrimSpace(v)
		}
	}
}

// Validate checks cfg against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(c)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError keeps the first CUE error with the path it refers to.
func toValidationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}

// APITimeout returns the request timeout. Validated configs always parse.
func (c Config) APITimeout() time.Duration {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

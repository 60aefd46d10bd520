// Package config loads the oemlock configuration.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// OEMLOCK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kardianos/oemlock/channel"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable, as in OEMLOCK_DATA_DIR.
const EnvPrefix = "OEMLOCK"

// Object store backends.
const (
	StoreBolt   = "bolt"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Facade modes.
const (
	ModeTrusted = "trusted"
	ModeMemory  = "memory"
)

// Config holds every setting of the oemlock command.
type Config struct {
	// DataDir holds the object store and identities of the server.
	DataDir string `toml:"data_dir" envconfig:"DATA_DIR"`

	// Store selects the object store backend: bolt, file or memory.
	Store string `toml:"store" envconfig:"STORE"`

	// SealKey is a hex encoded 32 byte key sealing objects at rest.
	// When empty, Windows uses DPAPI and other systems store plain bytes.
	SealKey string `toml:"seal_key" envconfig:"SEAL_KEY"`

	// Listen is the UDP address served by "oemlock serve".
	Listen string `toml:"listen" envconfig:"LISTEN"`

	// Server is the address dialed by the caller side.
	Server string `toml:"server" envconfig:"SERVER"`

	// ServerFP is the pinned server certificate fingerprint.
	ServerFP string `toml:"server_fp" envconfig:"SERVER_FP"`

	// AllowedClients restricts which client fingerprints may connect.
	AllowedClients []string `toml:"allowed_clients" envconfig:"ALLOWED_CLIENTS"`

	// Identity names the certificate of this process.
	Identity string `toml:"identity" envconfig:"IDENTITY"`

	// Mode selects the facade backend: trusted or memory.
	Mode string `toml:"mode" envconfig:"MODE"`

	// Properties are read by the memory mode.
	Properties map[string]string `toml:"properties" envconfig:"PROPERTIES"`

	// NATSURL enables flag change events when set.
	NATSURL string `toml:"nats_url" envconfig:"NATS_URL"`

	LogLevel  string `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" envconfig:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		Store:     StoreBolt,
		Listen:    "127.0.0.1:7420",
		Server:    "127.0.0.1:7420",
		Identity:  defaultIdentity(),
		Mode:      ModeTrusted,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func defaultIdentity() string {
	h, _ := os.Hostname()
	return identityFromHost(h)
}

// maxIdentityLen matches channel.ValidateIdentityName.
const maxIdentityLen = 48

// identityFromHost returns the short host name cut to a valid identity
// name, or "oemlock" when the host name cannot be used.
func identityFromHost(h string) string {
	if i := strings.IndexByte(h, '.'); i > 0 {
		h = h[:i]
	}
	if len(h) > maxIdentityLen {
		h = h[:maxIdentityLen]
	}
	if channel.ValidateIdentityName(h) != nil {
		return "oemlock"
	}
	return h
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %q", path, undec[0].String())
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreBolt, StoreFile, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store %q: want %s, %s or %s", c.Store, StoreBolt, StoreFile, StoreMemory))
	}
	switch c.Mode {
	case ModeTrusted, ModeMemory:
	default:
		errs = append(errs, fmt.Errorf("mode %q: want %s or %s", c.Mode, ModeTrusted, ModeMemory))
	}
	if c.Store != StoreMemory && c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if err := channel.ValidateIdentityName(c.Identity); err != nil {
		errs = append(errs, fmt.Errorf("identity: %w", err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Property returns a configured property. It reports false when unset.
func (c *Config) Property(name string) (string, bool) {
	v, ok := c.Properties[name]
	return v, ok
}

// NewLogger returns the logger described by the configuration.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

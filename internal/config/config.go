// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/jarvischat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete jarvischat configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Ollama  OllamaConfig  `toml:"ollama"`
	Storage StorageConfig `toml:"storage"`
	Chat    ChatConfig    `toml:"chat"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen      string   `toml:"listen"`
	ReadTimeout Duration `toml:"read_timeout"`
	IdleTimeout Duration `toml:"idle_timeout"`

	// RateLimit is requests per minute per client. Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
	RateBurst int `toml:"rate_burst"`

	// CORSOrigins enables CORS for a UI served from another origin.
	CORSOrigins []string `toml:"cors_origins"`
}

// OllamaConfig configures the backend client.
type OllamaConfig struct {
	URL           string   `toml:"url"`
	DefaultModel  string   `toml:"default_model"`
	Timeout       Duration `toml:"timeout"`
	StreamTimeout Duration `toml:"stream_timeout"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	Path string `toml:"path"`
}

// ChatConfig configures context assembly and streaming sessions.
type ChatConfig struct {
	StopTokens []string `toml:"stop_tokens"`

	// MaxHistory caps the prior messages sent to the model. Zero is unlimited.
	MaxHistory int `toml:"max_history"`

	FinalizeRetries int      `toml:"finalize_retries"`
	FinalizeTimeout Duration `toml:"finalize_timeout"`
	RetryDelay      Duration `toml:"retry_delay"`
	Heartbeat       Duration `toml:"heartbeat"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

// D returns a Duration for d.
func D(d time.Duration) Duration { return Duration{d} }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare integer is read
// as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if n, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultStopTokens are the stop sequences used when none are configured.
var DefaultStopTokens = []string{"User:", "Assistant:", "\nUser"}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      "127.0.0.1:8080",
			ReadTimeout: D(30 * time.Second),
			IdleTimeout: D(120 * time.Second),
			RateLimit:   120,
			RateBurst:   30,
		},
		Ollama: OllamaConfig{
			URL:           "http://127.0.0.1:11434",
			DefaultModel:  "deepseek-coder:6.7b",
			Timeout:       D(300 * time.Second),
			StreamTimeout: D(10 * time.Second),
		},
		Storage: StorageConfig{
			Path: "~/.jarvischat/jarvischat.db",
		},
		Chat: ChatConfig{
			StopTokens:      slices.Clone(DefaultStopTokens),
			MaxHistory:      0,
			FinalizeRetries: 3,
			FinalizeTimeout: D(10 * time.Second),
			RetryDelay:      D(200 * time.Millisecond),
			Heartbeat:       D(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults fills zero values with defaults. Zero counts are meaningful
// (max_history, rate_limit, finalize_retries) and are left alone.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.IdleTimeout.Duration == 0 {
		c.Server.IdleTimeout = def.Server.IdleTimeout
	}

	if c.Ollama.URL == "" {
		c.Ollama.URL = def.Ollama.URL
	}
	c.Ollama.URL = strings.TrimRight(c.Ollama.URL, "/")
	if c.Ollama.DefaultModel == "" {
		c.Ollama.DefaultModel = def.Ollama.DefaultModel
	}
	if c.Ollama.Timeout.Duration == 0 {
		c.Ollama.Timeout = def.Ollama.Timeout
	}
	if c.Ollama.StreamTimeout.Duration == 0 {
		c.Ollama.StreamTimeout = def.Ollama.StreamTimeout
	}

	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}

	if c.Chat.StopTokens == nil {
		c.Chat.StopTokens = def.Chat.StopTokens
	}
	if c.Chat.FinalizeTimeout.Duration == 0 {
		c.Chat.FinalizeTimeout = def.Chat.FinalizeTimeout
	}
	if c.Chat.RetryDelay.Duration == 0 {
		c.Chat.RetryDelay = def.Chat.RetryDelay
	}
	if c.Chat.Heartbeat.Duration == 0 {
		c.Chat.Heartbeat = def.Chat.Heartbeat
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// EnvConfigPath names the environment variable holding a config file path.
const EnvConfigPath = "JARVIS_CONFIG"

// ConfigDir returns the jarvischat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".jarvischat"), nil
}

// ConfigPathTOML returns the path to the default TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ResolvePath picks the config file: the explicit path, then $JARVIS_CONFIG,
// then the default location. explicit reports whether the file was asked for
// by name, in which case it must exist.
func ResolvePath(path string) (resolved string, explicit bool, err error) {
	if path != "" {
		return path, true, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, true, nil
	}
	def, err := ConfigPathTOML()
	if err != nil {
		return "", false, err
	}
	return def, false, nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load resolves the config file, decodes it over the defaults, applies
// JARVIS_* environment overrides and validates the result. A missing default
// file yields the defaults.
func Load(path string) (*Config, error) {
	resolved, explicit, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if _, statErr := os.Stat(resolved); statErr == nil {
		if err := LoadTOML(cfg, resolved); err != nil {
			return nil, err
		}
	} else if explicit || !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s: %w", resolved, statErr)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are an error so typos
// do not pass silently.
func LoadTOML(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		var errs ValidateErrors
		for _, key := range undecoded {
			errs = append(errs, ValidationError{Field: key.String(), Message: "unknown key"})
		}
		return fmt.Errorf("config file %s: %w", path, errs)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# jarvischat configuration file")
	fmt.Fprintln(&buf, "# Durations use Go syntax: 300ms, 10s, 5m")
	fmt.Fprintln(&buf)

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - JARVIS_OLLAMA_URL: overrides ollama.url
//   - JARVIS_MODEL: overrides ollama.default_model
//   - JARVIS_LISTEN: overrides server.listen
//   - JARVIS_DB: overrides storage.path
//   - JARVIS_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("JARVIS_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("JARVIS_MODEL"); v != "" {
		c.Ollama.DefaultModel = v
	}
	if v := os.Getenv("JARVIS_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("JARVIS_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("JARVIS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems at once as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil {
		add("server.listen", "invalid address %q: must be host:port", c.Server.Listen)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		add("server.listen", "invalid port %q", port)
	}
	if c.Server.ReadTimeout.Duration < 0 {
		add("server.read_timeout", "must not be negative")
	}
	if c.Server.IdleTimeout.Duration < 0 {
		add("server.idle_timeout", "must not be negative")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateBurst < 0 {
		add("server.rate_burst", "must not be negative")
	}
	for i, origin := range c.Server.CORSOrigins {
		if origin == "*" || strings.HasPrefix(origin, "*.") {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Sprintf("server.cors_origins[%d]", i), "invalid origin %q", origin)
		}
	}

	// Ollama
	if u, err := url.Parse(c.Ollama.URL); err != nil {
		add("ollama.url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("ollama.url", "scheme must be http or https, got %q", u.Scheme)
	} else if u.Host == "" {
		add("ollama.url", "missing host")
	}
	if strings.TrimSpace(c.Ollama.DefaultModel) == "" {
		add("ollama.default_model", "must not be empty")
	}
	if c.Ollama.Timeout.Duration <= 0 {
		add("ollama.timeout", "must be positive")
	}
	if c.Ollama.StreamTimeout.Duration <= 0 {
		add("ollama.stream_timeout", "must be positive")
	}

	// Storage
	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path", "must not be empty")
	} else if c.Storage.Path == ":memory:" {
		add("storage.path", "in-memory databases are not supported")
	}

	// Chat
	for i, tok := range c.Chat.StopTokens {
		if tok == "" {
			add(fmt.Sprintf("chat.stop_tokens[%d]", i), "must not be empty")
		}
	}
	if c.Chat.MaxHistory < 0 {
		add("chat.max_history", "must not be negative")
	}
	if c.Chat.FinalizeRetries < 0 || c.Chat.FinalizeRetries > 10 {
		add("chat.finalize_retries", "must be between 0 and 10, got %d", c.Chat.FinalizeRetries)
	}
	if c.Chat.FinalizeTimeout.Duration <= 0 {
		add("chat.finalize_timeout", "must be positive")
	}
	if c.Chat.RetryDelay.Duration < 0 {
		add("chat.retry_delay", "must not be negative")
	}
	if c.Chat.Heartbeat.Duration < time.Second {
		add("chat.heartbeat", "must be at least 1s")
	}

	// Log
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format", "invalid format %q, must be one of: text, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// DatabasePath returns the storage path with a leading "~" expanded.
func (c *Config) DatabasePath() string {
	p := c.Storage.Path
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	clone.Chat.StopTokens = slices.Clone(c.Chat.StopTokens)
	return &clone
}

// String returns the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it from the
// default location on first access. Load failures fall back to defaults.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from path. Thread-safe.
func ReloadGlobal(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}

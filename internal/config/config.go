// ABOUTME: Configuration loading and parsing for flyme
// ABOUTME: Supports TOML or YAML files, ${VAR} expansion, environment overlay and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported transports.
const (
	TransportSlack  = "slack"
	TransportMatrix = "matrix"
)

// Config represents the complete flyme configuration
type Config struct {
	Transport    string             `toml:"transport" yaml:"transport"`
	Slack        SlackConfig        `toml:"slack" yaml:"slack"`
	Matrix       MatrixConfig       `toml:"matrix" yaml:"matrix"`
	Agent        AgentConfig        `toml:"agent" yaml:"agent"`
	Conversation ConversationConfig `toml:"conversation" yaml:"conversation"`
	Dedupe       DedupeConfig       `toml:"dedupe" yaml:"dedupe"`
	Ops          OpsConfig          `toml:"ops" yaml:"ops"`
	Ledger       LedgerConfig       `toml:"ledger" yaml:"ledger"`
	Logging      LoggingConfig      `toml:"logging" yaml:"logging"`
}

// SlackConfig holds Slack Socket Mode credentials
type SlackConfig struct {
	BotToken string `toml:"bot_token" yaml:"bot_token"`
	AppToken string `toml:"app_token" yaml:"app_token"`
	Debug    bool   `toml:"debug,omitempty" yaml:"debug"`
}

// MatrixConfig holds Matrix login and room configuration
type MatrixConfig struct {
	Homeserver   string   `toml:"homeserver" yaml:"homeserver"`
	Username     string   `toml:"username" yaml:"username"`
	Password     string   `toml:"password" yaml:"password"`
	RecoveryKey  string   `toml:"recovery_key,omitempty" yaml:"recovery_key"`
	AllowedRooms []string `toml:"allowed_rooms,omitempty" yaml:"allowed_rooms"`
	DataDir      string   `toml:"data_dir,omitempty" yaml:"data_dir"`
}

// AgentConfig configures the reasoning agent endpoint
type AgentConfig struct {
	APIKey           string `toml:"api_key" yaml:"api_key"`
	BaseURL          string `toml:"base_url,omitempty" yaml:"base_url"`
	Model            string `toml:"model,omitempty" yaml:"model"`
	MaxTurns         int    `toml:"max_turns,omitempty" yaml:"max_turns"`
	InstructionsPath string `toml:"instructions_path,omitempty" yaml:"instructions_path"`
	AckText          string `toml:"ack_text,omitempty" yaml:"ack_text"`

	Timeout    time.Duration `toml:"-" yaml:"-"`
	TimeoutRaw string        `toml:"timeout,omitempty" yaml:"timeout"`
}

// ConversationConfig bounds in-memory history
type ConversationConfig struct {
	Window   int `toml:"window,omitempty" yaml:"window"`
	MaxUsers int `toml:"max_users,omitempty" yaml:"max_users"`
}

// DedupeConfig bounds the seen-event cache
type DedupeConfig struct {
	MaxSize int `toml:"max_size,omitempty" yaml:"max_size"`

	TTL    time.Duration `toml:"-" yaml:"-"`
	TTLRaw string        `toml:"ttl,omitempty" yaml:"ttl"`
}

// OpsConfig holds the health and metrics listener address. Empty disables it.
type OpsConfig struct {
	Addr string `toml:"addr,omitempty" yaml:"addr"`
}

// LedgerConfig holds the request ledger database path. Empty disables it.
type LedgerConfig struct {
	Path string `toml:"path,omitempty" yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// envOverlay maps environment variables onto config fields. Set variables
// win over file values.
var envOverlay = []struct {
	name  string
	field func(*Config) *string
}{
	{"OPENAI_API_KEY", func(c *Config) *string { return &c.Agent.APIKey }},
	{"OPENAI_BASE_URL", func(c *Config) *string { return &c.Agent.BaseURL }},
	{"SLACK_BOT_TOKEN", func(c *Config) *string { return &c.Slack.BotToken }},
	{"SLACK_APP_TOKEN", func(c *Config) *string { return &c.Slack.AppToken }},
	{"LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file and returns a validated Config. An empty
// path builds the configuration from defaults and the environment alone.
// The format is chosen by extension: .yaml and .yml are YAML, anything else TOML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with defaults applied and no credentials.
func Default() *Config {
	return &Config{
		Transport: TransportSlack,
		Logging:   LoggingConfig{Level: "info"},
	}
}

func decode(path, data string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(data), cfg)
	default:
		_, err := toml.Decode(data, cfg)
		return err
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	for _, e := range envOverlay {
		if v, ok := os.LookupEnv(e.name); ok && v != "" {
			*e.field(cfg) = v
		}
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TimeoutRaw != "" {
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}

// MissingError lists every required setting that has no value.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Vars, ", ")
}

// Validate checks required credentials for the selected transport and the
// value ranges of optional settings. Missing credentials are reported
// together in a single *MissingError.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSlack, TransportMatrix:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportSlack, TransportMatrix, c.Transport)
	}

	var missing []string
	need := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	need(c.Agent.APIKey, "OPENAI_API_KEY (agent.api_key)")
	switch c.Transport {
	case TransportSlack:
		need(c.Slack.BotToken, "SLACK_BOT_TOKEN (slack.bot_token)")
		need(c.Slack.AppToken, "SLACK_APP_TOKEN (slack.app_token)")
	case TransportMatrix:
		need(c.Matrix.Homeserver, "matrix.homeserver")
		need(c.Matrix.Username, "matrix.username")
		need(c.Matrix.Password, "matrix.password")
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}

	if c.Transport == TransportMatrix {
		u, err := url.Parse(c.Matrix.Homeserver)
		if err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("matrix.homeserver must use http or https scheme")
		}
	}

	if c.Agent.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Agent.BaseURL); err != nil {
			return fmt.Errorf("agent.base_url is not a valid URL: %w", err)
		}
	}

	if c.Agent.MaxTurns < 0 {
		return errors.New("agent.max_turns must not be negative")
	}
	if c.Conversation.Window < 0 {
		return errors.New("conversation.window must not be negative")
	}
	if c.Conversation.MaxUsers < 0 {
		return errors.New("conversation.max_users must not be negative")
	}
	if c.Dedupe.MaxSize < 0 {
		return errors.New("dedupe.max_size must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	return nil
}

// Save writes the configuration as TOML, creating parent directories.
// The file is readable only by the owner since it holds credentials.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

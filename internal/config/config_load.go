package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 4096,
			RateLimitRPM:    30,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.asa/asa.db",
		},
		Provider: ProviderConfig{
			Name:       "gemini",
			Model:      "gemini-2.5-flash",
			MaxTokens:  1024,
			TimeoutSec: 30,
		},
		AutoReply: AutoReplyConfig{
			DebounceMs:    8000,
			TypingDelayMs: 2000,
			HistoryLimit:  10,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Transport: "bridge",
			},
			AMQP: AMQPConfig{
				Queue:    "asa.inbound",
				Prefetch: 16,
			},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "asa-gateway",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Gateway
	envStr("ASA_HOST", &c.Gateway.Host)
	if v := os.Getenv("ASA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("ASA_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("ASA_WEBHOOK_TOKEN", &c.Gateway.WebhookToken)

	// Database
	envStr("ASA_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("ASA_MODE", &c.Database.Mode)
	envStr("ASA_SQLITE_PATH", &c.Database.SQLitePath)

	// AI provider. GEMINI_API_KEY is honoured for existing deployments.
	envStr("GEMINI_API_KEY", &c.Provider.APIKey)
	envStr("ASA_PROVIDER_API_KEY", &c.Provider.APIKey)
	envStr("ASA_PROVIDER", &c.Provider.Name)
	envStr("ASA_PROVIDER_API_BASE", &c.Provider.APIBase)
	envStr("ASA_MODEL", &c.Provider.Model)

	// Auto-reply
	envInt("ASA_DEBOUNCE_MS", &c.AutoReply.DebounceMs)
	envInt("ASA_TYPING_DELAY_MS", &c.AutoReply.TypingDelayMs)

	// WhatsApp transport
	envStr("ASA_WHATSAPP_TRANSPORT", &c.Channels.WhatsApp.Transport)
	envStr("ASA_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("ASA_BAILEYS_URL", &c.Channels.WhatsApp.BaileysURL)
	envStr("ASA_EVOLUTION_URL", &c.Channels.WhatsApp.EvolutionURL)
	envStr("ASA_EVOLUTION_INSTANCE", &c.Channels.WhatsApp.EvolutionInstance)
	envStr("ASA_EVOLUTION_API_KEY", &c.Channels.WhatsApp.EvolutionAPIKey)
	if v := os.Getenv("ASA_WHATSAPP_ALLOW_FROM"); v != "" {
		c.Channels.WhatsApp.AllowFrom = strings.Split(v, ",")
	}

	// Auto-enable WhatsApp if a transport endpoint is provided via env
	wa := &c.Channels.WhatsApp
	if os.Getenv("ASA_WHATSAPP_BRIDGE_URL") != "" || os.Getenv("ASA_BAILEYS_URL") != "" || os.Getenv("ASA_EVOLUTION_URL") != "" {
		wa.Enabled = true
	}

	// AMQP inbound
	envStr("ASA_AMQP_URL", &c.Channels.AMQP.URL)
	envStr("ASA_AMQP_QUEUE", &c.Channels.AMQP.Queue)
	if os.Getenv("ASA_AMQP_URL") != "" {
		c.Channels.AMQP.Enabled = true
	}

	// Telemetry
	envStr("ASA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ASA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ASA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("ASA_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("ASA_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// applyDefaults fills zero values a partial config file may have left.
func (c *Config) applyDefaults() {
	d := Default()
	if c.AutoReply.DebounceMs <= 0 {
		c.AutoReply.DebounceMs = d.AutoReply.DebounceMs
	}
	if c.AutoReply.HistoryLimit <= 0 {
		c.AutoReply.HistoryLimit = d.AutoReply.HistoryLimit
	}
	if c.Provider.Name == "" {
		c.Provider.Name = d.Provider.Name
	}
	if c.Provider.TimeoutSec <= 0 {
		c.Provider.TimeoutSec = d.Provider.TimeoutSec
	}
	if c.Channels.WhatsApp.Transport == "" {
		c.Channels.WhatsApp.Transport = d.Channels.WhatsApp.Transport
	}
	if c.Channels.AMQP.Queue == "" {
		c.Channels.AMQP.Queue = d.Channels.AMQP.Queue
	}
	if c.Channels.AMQP.Prefetch <= 0 {
		c.Channels.AMQP.Prefetch = d.Channels.AMQP.Prefetch
	}
}

// Save writes the config to a JSON file. Secrets are stripped first.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	cp := &Config{}
	cp.Gateway, cp.Database, cp.Provider = cfg.Gateway, cfg.Database, cfg.Provider
	cp.AutoReply, cp.Channels, cp.Telemetry = cfg.AutoReply, cfg.Channels, cfg.Telemetry
	cfg.mu.RUnlock()
	cp.StripSecrets()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SQLitePath returns the expanded SQLite database path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.SQLitePath)
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the admin API to avoid exposing secrets.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Provider.APIKey)
	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Gateway.WebhookToken)
	maskNonEmpty(&cp.Channels.WhatsApp.EvolutionAPIKey)
	maskNonEmpty(&cp.Channels.AMQP.URL)

	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk to ensure secrets never persist in config.json.
func (c *Config) StripSecrets() {
	c.Provider.APIKey = ""
	c.Gateway.Token = ""
	c.Gateway.WebhookToken = ""
	c.Channels.WhatsApp.EvolutionAPIKey = ""
	c.Channels.AMQP.URL = ""
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

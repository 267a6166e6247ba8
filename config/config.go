package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"ticketledger/crypto"
	"ticketledger/native/billing"
	"ticketledger/native/fees"
	"ticketledger/storage"
)

// Config is the ledgerd configuration. Files ending in .yaml or .yml are read
// as YAML; everything else is TOML.
type Config struct {
	ListenAddress string   `toml:"ListenAddress" yaml:"listen"`
	Environment   string   `toml:"Environment" yaml:"environment"`
	DataDir       string   `toml:"DataDir" yaml:"dataDir"`
	ReadTimeout   Duration `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeout  Duration `toml:"WriteTimeout" yaml:"writeTimeout"`

	Storage       StorageConfig       `toml:"storage" yaml:"storage"`
	Billing       BillingConfig       `toml:"billing" yaml:"billing"`
	Auth          AuthConfig          `toml:"auth" yaml:"auth"`
	RateLimit     RateLimitConfig     `toml:"rate_limit" yaml:"rateLimit"`
	TicketManager TicketManagerConfig `toml:"ticket_manager" yaml:"ticketManager"`
	Journal       JournalConfig       `toml:"journal" yaml:"journal"`
	Telemetry     TelemetryConfig     `toml:"telemetry" yaml:"telemetry"`
	Log           LogConfig           `toml:"log" yaml:"log"`
}

// StorageConfig selects the key-value backend holding ledger state.
type StorageConfig struct {
	Backend string `toml:"Backend" yaml:"backend"`
}

// BillingConfig carries the engine's administrative accounts and defaults.
// Accounts accept bech32 (acct1...) or 0x-prefixed hex.
type BillingConfig struct {
	Owner         string     `toml:"Owner" yaml:"owner"`
	FeeRecipient  string     `toml:"FeeRecipient" yaml:"feeRecipient"`
	DefaultPolicy string     `toml:"DefaultPolicy" yaml:"defaultPolicy"`
	DefaultRules  fees.Rules `toml:"DefaultRules" yaml:"defaultRules"`
}

// AuthConfig configures bearer token verification on the HTTP API.
type AuthConfig struct {
	Enabled    bool     `toml:"Enabled" yaml:"enabled"`
	HMACSecret string   `toml:"HMACSecret" yaml:"hmacSecret"`
	Issuer     string   `toml:"Issuer" yaml:"issuer"`
	Audience   string   `toml:"Audience" yaml:"audience"`
	ScopeClaim string   `toml:"ScopeClaim" yaml:"scopeClaim"`
	ClockSkew  Duration `toml:"ClockSkew" yaml:"clockSkew"`
}

// RateLimitConfig throttles API callers per source address.
type RateLimitConfig struct {
	RatePerSecond float64 `toml:"RatePerSecond" yaml:"ratePerSecond"`
	Burst         int     `toml:"Burst" yaml:"burst"`
}

// TicketManagerConfig points at the external ticket manager. An empty URL
// makes ledgerd rely on the ticket state mirrored from its own hooks.
type TicketManagerConfig struct {
	URL     string   `toml:"URL" yaml:"url"`
	Token   string   `toml:"Token" yaml:"token"`
	Timeout Duration `toml:"Timeout" yaml:"timeout"`
}

// JournalConfig enables the relational event journal. Driver is "sqlite" or
// "postgres"; an empty driver disables the journal.
type JournalConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		ListenAddress: ":8090",
		Environment:   "dev",
		DataDir:       "./ledger-data",
		ReadTimeout:   Duration(15 * time.Second),
		WriteTimeout:  Duration(15 * time.Second),
		Storage:       StorageConfig{Backend: storage.BackendLevelDB},
		Billing: BillingConfig{
			DefaultPolicy: billing.PolicyImmediate.String(),
			DefaultRules:  fees.DefaultRules(),
		},
		Auth: AuthConfig{
			ScopeClaim: "scope",
			ClockSkew:  Duration(2 * time.Minute),
		},
		RateLimit:     RateLimitConfig{RatePerSecond: 50, Burst: 100},
		TicketManager: TicketManagerConfig{Timeout: Duration(5 * time.Second)},
		Telemetry:     TelemetryConfig{SampleRatio: 1},
		Log:           LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

// Load reads the configuration at path, writing a default file first when
// none exists. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return finish(cfg)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaults.ListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if strings.TrimSpace(cfg.Auth.ScopeClaim) == "" {
		cfg.Auth.ScopeClaim = defaults.Auth.ScopeClaim
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = defaults.Auth.ClockSkew
	}
	if cfg.TicketManager.Timeout <= 0 {
		cfg.TicketManager.Timeout = defaults.TicketManager.Timeout
	}
	if cfg.Telemetry.SampleRatio <= 0 || cfg.Telemetry.SampleRatio > 1 {
		cfg.Telemetry.SampleRatio = 1
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
}

// OwnerID decodes the administrative account.
func (cfg *Config) OwnerID() ([20]byte, error) {
	id, err := crypto.ParseID(cfg.Billing.Owner)
	if err != nil {
		return id, fmt.Errorf("billing.owner: %w", err)
	}
	return id, nil
}

// FeeRecipientID decodes the platform fee account. It defaults to the owner.
func (cfg *Config) FeeRecipientID() ([20]byte, error) {
	if strings.TrimSpace(cfg.Billing.FeeRecipient) == "" {
		return cfg.OwnerID()
	}
	id, err := crypto.ParseID(cfg.Billing.FeeRecipient)
	if err != nil {
		return id, fmt.Errorf("billing.feeRecipient: %w", err)
	}
	return id, nil
}

// Policy returns the default payout policy.
func (cfg *Config) Policy() (billing.Policy, error) {
	return billing.ParsePolicy(cfg.Billing.DefaultPolicy)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

package config

import (
	"fmt"
	"net/url"
	"strings"

	"ticketledger/storage"
)

// Validate checks the configuration for values ledgerd cannot start with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Storage.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if strings.TrimSpace(cfg.Billing.Owner) != "" {
		if _, err := cfg.OwnerID(); err != nil {
			return err
		}
		if _, err := cfg.FeeRecipientID(); err != nil {
			return err
		}
	}
	if _, err := cfg.Policy(); err != nil {
		return fmt.Errorf("billing.defaultPolicy: %w", err)
	}
	if err := cfg.Billing.DefaultRules.Validate(); err != nil {
		return fmt.Errorf("billing.defaultRules: %w", err)
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret is required when auth is enabled")
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.RateLimit.RatePerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit.burst must be positive when a rate is set")
	}
	if raw := strings.TrimSpace(cfg.TicketManager.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("ticket_manager.url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("ticket_manager.url must use http or https")
		}
	}
	switch cfg.Journal.Driver {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Journal.DSN) == "" {
			return fmt.Errorf("journal.dsn is required for driver %s", cfg.Journal.Driver)
		}
	default:
		return fmt.Errorf("journal.driver: unknown driver %q", cfg.Journal.Driver)
	}
	return nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TICKETLEDGER_"

type lookupFunc func(string) (string, bool)

// applyEnv overlays TICKETLEDGER_* variables onto cfg. Secrets are expected to
// arrive this way rather than through the config file.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if val, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(val) != "" {
			*dst = strings.TrimSpace(val)
		}
	}
	boolean := func(name string, dst *bool) error {
		val, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(val) == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = parsed
		return nil
	}

	str("LISTEN_ADDRESS", &cfg.ListenAddress)
	str("ENVIRONMENT", &cfg.Environment)
	str("DATA_DIR", &cfg.DataDir)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("OWNER", &cfg.Billing.Owner)
	str("FEE_RECIPIENT", &cfg.Billing.FeeRecipient)
	str("DEFAULT_POLICY", &cfg.Billing.DefaultPolicy)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("TICKET_MANAGER_URL", &cfg.TicketManager.URL)
	str("TICKET_MANAGER_TOKEN", &cfg.TicketManager.Token)
	str("JOURNAL_DRIVER", &cfg.Journal.Driver)
	str("JOURNAL_DSN", &cfg.Journal.DSN)
	str("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTEL_HEADERS", &cfg.Telemetry.Headers)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)

	if err := boolean("AUTH_ENABLED", &cfg.Auth.Enabled); err != nil {
		return err
	}
	if err := boolean("OTEL_TRACES", &cfg.Telemetry.Traces); err != nil {
		return err
	}
	if err := boolean("OTEL_METRICS", &cfg.Telemetry.Metrics); err != nil {
		return err
	}
	if val, ok := lookup(EnvPrefix + "TICKET_MANAGER_TIMEOUT"); ok && strings.TrimSpace(val) != "" {
		parsed, err := parseDuration(val)
		if err != nil {
			return fmt.Errorf("%sTICKET_MANAGER_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.TicketManager.Timeout = parsed
	}
	if val, ok := lookup(EnvPrefix + "RATE_LIMIT_RPS"); ok && strings.TrimSpace(val) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimit.RatePerSecond = parsed
	}
	return nil
}

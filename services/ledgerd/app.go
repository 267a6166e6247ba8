package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"ticketledger/config"
	"ticketledger/core/events"
	"ticketledger/core/state"
	"ticketledger/gateway/middleware"
	"ticketledger/native/billing"
	"ticketledger/observability"
	"ticketledger/observability/logging"
	telemetry "ticketledger/observability/otel"
	"ticketledger/storage"
)

const serviceName = "ledgerd"

// Run starts ledgerd with cfg and blocks until ctx is cancelled or the HTTP
// server fails.
func Run(ctx context.Context, cfg *config.Config) error {
	logger, logCloser := logging.Configure(logging.Options{
		Service: serviceName,
		Env:     cfg.Environment,
		Level:   cfg.Log.Level,
		File: logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	logger.Info("storage opened", "backend", cfg.Storage.Backend, "path", cfg.DataDir)

	engine, journal, closeJournal, err := buildEngine(cfg, state.NewManager(db), logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	srv := New(Config{
		Engine:      engine,
		Journal:     journal,
		Auth:        authConfig(cfg.Auth),
		RateLimits:  rateLimits(cfg.RateLimit),
		Logger:      logger,
		Telemetry:   true,
		LogRequests: true,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout.Std(),
		WriteTimeout:      cfg.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("ledgerd stopped")
	return nil
}

// buildEngine assembles the billing engine from cfg. The returned closer
// releases the journal database.
func buildEngine(cfg *config.Config, manager *state.Manager, logger *slog.Logger) (*billing.Engine, *Journal, func(), error) {
	owner, err := cfg.OwnerID()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("billing owner: %w", err)
	}
	feeRecipient, err := cfg.FeeRecipientID()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("billing fee recipient: %w", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, nil, err
	}

	engine := billing.NewEngine(owner)
	engine.SetState(manager)
	engine.SetFeeRecipient(feeRecipient)
	engine.SetDefaultPolicy(policy)
	if err := engine.SetDefaultRules(cfg.Billing.DefaultRules); err != nil {
		return nil, nil, nil, err
	}
	engine.SetLogger(logger)
	engine.SetMetrics(observability.Billing())

	if cfg.TicketManager.URL != "" {
		client, err := NewTicketClient(TicketClientConfig{
			BaseURL: cfg.TicketManager.URL,
			Token:   cfg.TicketManager.Token,
			Timeout: cfg.TicketManager.Timeout.Std(),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		engine.SetTicketDirectory(client)
		logger.Info("ticket manager configured", "url", cfg.TicketManager.URL)
	}

	closer := func() {}
	var journal *Journal
	if cfg.Journal.Driver != "" {
		gdb, err := OpenJournalDB(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		journal = NewJournal(gdb, events.NoopEmitter{}, logger)
		engine.SetEmitter(journal)
		closer = func() { closeGorm(gdb, logger) }
		logger.Info("journal enabled",
			"driver", cfg.Journal.Driver,
			logging.MaskDSN("dsn", cfg.Journal.DSN))
	}
	return engine, journal, closer, nil
}

func closeGorm(db *gorm.DB, logger *slog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("journal close failed", "error", err)
	}
}

func authConfig(cfg config.AuthConfig) middleware.AuthConfig {
	return middleware.AuthConfig{
		Enabled:    cfg.Enabled,
		HMACSecret: cfg.HMACSecret,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		ScopeClaim: cfg.ScopeClaim,
		ClockSkew:  cfg.ClockSkew.Std(),
	}
}

// rateLimits applies the configured rate to every bucket. Admin calls cost
// two tokens.
func rateLimits(cfg config.RateLimitConfig) map[string]middleware.RateLimit {
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	base := middleware.RateLimit{RatePerSecond: cfg.RatePerSecond, Burst: cfg.Burst}
	admin := base
	admin.DefaultTokens = 2
	return map[string]middleware.RateLimit{
		LimitRead:  base,
		LimitHooks: base,
		LimitAdmin: admin,
	}
}

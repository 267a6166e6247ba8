package ledgerd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ticketledger/config"
	"ticketledger/core/state"
	"ticketledger/storage"
)

func TestBuildEngineFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Billing.Owner = ownerAcct
	cfg.Billing.DefaultPolicy = "escrowed"
	cfg.Journal.Driver = "sqlite"
	cfg.Journal.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, journal, closeJournal, err := buildEngine(cfg, state.NewManager(storage.NewMemDB()), logger)
	require.NoError(t, err)
	defer closeJournal()
	require.NotNil(t, journal)
	require.Equal(t, ownerID, engine.Owner())

	require.NoError(t, engine.RegisterEvent(context.Background(), ownerID, eventID))
	record, err := engine.Event(eventID)
	require.NoError(t, err)
	require.Equal(t, "escrowed", record.Policy.String())

	entries, err := journal.List(context.Background(), JournalQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	cfg.Billing.Owner = "nope"
	_, _, _, err = buildEngine(cfg, state.NewManager(storage.NewMemDB()), logger)
	require.Error(t, err)
}

func TestRateLimitBuckets(t *testing.T) {
	require.Nil(t, rateLimits(config.RateLimitConfig{}))
	limits := rateLimits(config.RateLimitConfig{RatePerSecond: 5, Burst: 10})
	require.Len(t, limits, 3)
	require.Equal(t, 2, limits[LimitAdmin].DefaultTokens)
	require.Equal(t, 10, limits[LimitHooks].Burst)
}

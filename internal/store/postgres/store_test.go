package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/store/storetest"
)

// openTestStore connects to DURABLE_POSTGRES_DSN and empties the tables.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("DURABLE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DURABLE_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	require.NoError(t, err)

	_, err = s.Pool().Exec(ctx, `TRUNCATE durable_queue_items, durable_log_entries`)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) queue.Backend {
		return openTestStore(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/store"
	"github.com/roach88/durable/internal/store/memory"
)

// Backends returns one freshly opened backend of every embedded kind, by
// name. Each is closed when the test ends. Tests ranging over the map run
// the same scenario against memory and SQLite.
func Backends(t *testing.T, clock *ManualClock) map[string]queue.Backend {
	t.Helper()

	var memOpts []memory.Option
	if clock != nil {
		memOpts = append(memOpts, memory.WithNow(clock.Now))
	}
	mem := memory.New(memOpts...)
	t.Cleanup(func() { mem.Close() })

	backends := map[string]queue.Backend{"memory": mem}
	if clock == nil {
		backends["sqlite"] = SQLiteBackend(t)
	}
	return backends
}

// SQLiteBackend opens a SQLite store in the test's temp dir.
func SQLiteBackend(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "durable.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestSink connects to CI_DATABASE_URL when set, otherwise starts a
// throwaway postgres container.
func newTestSink(t *testing.T) *PostgresSink {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		if testing.Short() {
			t.Skip("skipping container-backed test in short mode")
		}
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	sink, err := NewPostgresSink(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sink.Close()) })
	return sink
}

// countByUser verifies inserts against the table directly.
func countByUser(t *testing.T, sink *PostgresSink, email string) int {
	t.Helper()
	var count int
	require.NoError(t, sink.pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM query_audit
		WHERE user_email = $1`, email).Scan(&count))
	return count
}

func TestPostgresSinkRecordAndCount(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	entry := Entry{
		TrID:              "tr-1",
		UserEmail:         "alice@example.com",
		Phase:             "phase3",
		Query:             "how many vacation days do I have",
		Strategy:          "single",
		Agents:            []string{"HR"},
		CoordinatorTokens: 120,
		AgentTokens:       340,
		TotalTokens:       460,
		Latency:           2300 * time.Millisecond,
	}
	require.NoError(t, sink.RecordQuery(ctx, entry))
	require.NoError(t, sink.RecordQuery(ctx, Entry{
		TrID: "tr-2", UserEmail: "bob@example.com", Phase: "phase1",
		Query: "hello", Strategy: "declined",
	}))

	assert.Equal(t, 1, countByUser(t, sink, "alice@example.com"))
	assert.Zero(t, countByUser(t, sink, "nobody@example.com"))
}

func TestPostgresSinkBlockedEntry(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	require.NoError(t, sink.RecordQuery(ctx, Entry{
		TrID: "tr-3", UserEmail: "alice@example.com", Phase: "phase3",
		Query: "blocked text", Strategy: "single",
		Blocked: true, BlockCategory: "malicious",
	}))

	assert.GreaterOrEqual(t, countByUser(t, sink, "alice@example.com"), 1)
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.RecordQuery(context.Background(), Entry{TrID: "x"}))
	assert.NoError(t, s.Close())
}

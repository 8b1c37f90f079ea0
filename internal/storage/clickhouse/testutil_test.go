package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"trading-sim-lab/internal/storage/migrations"
)

// setupTestDB starts a throwaway ClickHouse, creates the simlab database,
// applies the embedded schema and returns a connection plus a cleanup func.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_USER": "default", "CLICKHOUSE_PASSWORD": ""},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	dsn := fmt.Sprintf("clickhouse://default:@%s:%s/simlab", host, port.Port())

	require.NoError(t, EnsureDatabase(ctx, dsn))
	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)

	_, err = migrations.Apply(ctx, migrations.ClickHouse, migrations.ExecFunc(
		func(ctx context.Context, stmt string) error { return conn.Exec(ctx, stmt) },
	))
	require.NoError(t, err, "apply migrations")

	return conn, func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}
}

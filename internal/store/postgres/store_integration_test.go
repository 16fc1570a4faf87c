//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"coffee-trace-api-server/internal/apperror"
	"coffee-trace-api-server/internal/store"
	"coffee-trace-api-server/internal/store/storetest"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))

	return pool, func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
}

func truncateAll(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	_, err := pool.Exec(ctx, `TRUNCATE harvest_batches, farmers, users, cooperatives RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func TestIntegration_StoreConformance(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	storetest.Run(t, func(t *testing.T) store.Store {
		truncateAll(t, ctx, pool)
		return New(pool)
	})
}

func TestIntegration_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, Migrate(ctx, pool))

	var applied int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestIntegration_CompositeKeyRejectsForeignCooperative(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	st := New(pool)
	fx := storetest.Seed(t, st)
	b := storetest.NewBatch(fx.Farmer, "B-FK", storetest.Day(2025, 1, 15), 10)
	require.NoError(t, st.CreateBatch(ctx, b))

	// bypass the store to prove the schema refuses a mismatched cooperative
	var otherID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO cooperatives (name) VALUES ('Other') RETURNING id`).Scan(&otherID))
	_, err := pool.Exec(ctx, `UPDATE harvest_batches SET cooperative_id = $1 WHERE id = $2`, otherID, b.ID)
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(mapPostgresError("test", err)))
}

func TestIntegration_ArtifactWinnerPersists(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	st := New(pool)
	fx := storetest.Seed(t, st)
	b := storetest.NewBatch(fx.Farmer, "B-QR", storetest.Day(2025, 1, 15), 10)
	require.NoError(t, st.CreateBatch(ctx, b))

	first, err := st.SetQRArtifactIfAbsent(ctx, b.ID, "data:image/png;base64,AAAA")
	require.NoError(t, err)
	second, err := st.SetQRArtifactIfAbsent(ctx, b.ID, "data:image/png;base64,BBBB")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var stored string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT qr_code_artifact FROM harvest_batches WHERE id = $1`, b.ID).Scan(&stored))
	assert.Equal(t, "data:image/png;base64,AAAA", stored)
}

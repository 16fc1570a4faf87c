//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/models"
)

func setupRedisContainer(t *testing.T, ctx context.Context) (string, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port()), func() { _ = container.Terminate(ctx) }
}

func TestIntegration_RedisCache(t *testing.T) {
	ctx := context.Background()
	addr, cleanup := setupRedisContainer(t, ctx)
	defer cleanup()

	c, err := NewRedisCache(ctx, config.RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	const code = "BATCH-1-2-3"
	_, ok, err := c.Get(ctx, code)
	require.NoError(t, err)
	assert.False(t, ok)

	first := &models.QRArtifact{BatchID: 42, BatchCode: code, DataURI: "data:image/png;base64,AAAA"}
	require.NoError(t, c.Set(ctx, first))
	require.NoError(t, c.Set(ctx, &models.QRArtifact{BatchID: 42, BatchCode: code, DataURI: "data:image/png;base64,BBBB"}))

	got, ok, err := c.Get(ctx, code)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, got)

	// same id, different code: a fresh store reusing ids must not hit
	_, ok, err = c.Get(ctx, "BATCH-1-2-4")
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := NewRedisCache(ctx, config.RedisConfig{Addr: addr, TTL: time.Minute, KeyPrefix: "staging:qr:"})
	require.NoError(t, err)
	defer other.Close()
	_, ok, err = other.Get(ctx, code)
	require.NoError(t, err)
	assert.False(t, ok, "prefixes isolate deployments")
}

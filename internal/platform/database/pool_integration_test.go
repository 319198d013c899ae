//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/platform/config"
	"custody/pkg/testutil/containers"
)

func TestPool_MigrateIsRepeatable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	pool, err := New(ctx, config.DatabaseConfig{
		URL:             pg.DSN,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	defer pool.Close()

	applied, err := pool.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_vault.up.sql"}, applied)

	_, err = pool.Migrate(ctx)
	require.NoError(t, err)

	require.NoError(t, pool.Health(ctx))

	reg := prometheus.NewRegistry()
	require.NoError(t, pool.RegisterMetrics(reg))
	count, err := testutil.GatherAndCount(reg, "go_sql_max_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew_EmptyURL(t *testing.T) {
	pool, err := New(context.Background(), config.DatabaseConfig{})
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Error(t, pool.Health(context.Background()))
	assert.NoError(t, pool.Close())
}

package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDB_HealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	db, err := NewRedisDB(ctx, &RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.HealthCheck(ctx))
	assert.False(t, db.IsDegraded())

	mr.SetError("ERR server unavailable")
	assert.Error(t, db.HealthCheck(ctx))
	assert.True(t, db.IsDegraded())

	mr.SetError("")
	require.NoError(t, db.HealthCheck(ctx))
	assert.False(t, db.IsDegraded())
}

func TestNewRedisDB_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisDB(context.Background(), &RedisConfig{Addr: addr})

	assert.Error(t, err)
}

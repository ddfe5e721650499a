package db

import (
	"context"
	"testing"

	"github.com/ssebide/music-platform/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(&config.Config{
		DBUser:     "music",
		DBPassword: "p@ss",
		DBHost:     "db.local",
		DBPort:     "3307",
		DBName:     "uploads",
	})
	assert.Contains(t, dsn, "music:p@ss@tcp(db.local:3307)/uploads?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestCheckRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, CheckRedis(context.Background(), client))
	assert.False(t, mr.Exists("upload:healthcheck"))

	assert.Error(t, CheckRedis(context.Background(), nil))
}

package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinylink/go-server/config"
)

func TestNewPostgresClient_BadURL(t *testing.T) {
	_, err := NewPostgresClient(context.Background(), &config.Config{
		PostgresURL:      "://not-a-url",
		PostgresMaxConns: 2,
	})
	assert.Error(t, err)
}

func TestNewPostgresClient(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}

	pool, err := NewPostgresClient(context.Background(), &config.Config{
		PostgresURL:      dsn,
		PostgresMaxConns: 3,
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, int32(3), pool.Config().MaxConns)
}

func TestOpenSQLite_SingleConnection(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

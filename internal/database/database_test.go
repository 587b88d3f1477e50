package database

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5433", User: "app", Password: "secret", DBName: "settlement", SSLMode: "require"}
	require.Equal(t, "host=db port=5433 user=app password=secret dbname=settlement sslmode=require", cfg.DSN())
}

func TestNewPoolGivesUpWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Host: "127.0.0.1", Port: "1", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	_, err := NewPool(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

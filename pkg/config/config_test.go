package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 0.75, cfg.Context.ReservationRatio)
	assert.Equal(t, 8192, cfg.Context.DefaultMaxInputTokens)
	assert.Equal(t, 500, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 50, cfg.Retrieval.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.DefaultResults)
	assert.Equal(t, "documents", cfg.Qdrant.Collection)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONTEXT_RESERVATION_RATIO", "0.5")
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("LLM_TIMEOUT", "10s")
	t.Setenv("QDRANT_ENABLED", "false")
	t.Setenv("CHUNK_OVERLAP", "not-a-number")

	cfg := Load()

	assert.Equal(t, 0.5, cfg.Context.ReservationRatio)
	assert.Equal(t, 200, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	assert.False(t, cfg.Qdrant.Enabled)
	assert.Equal(t, 50, cfg.Retrieval.ChunkOverlap, "malformed values fall back to the default")
}

func TestDSN(t *testing.T) {
	cfg := Load()
	cfg.Database.Host = "db"
	cfg.Database.Name = "ctx"
	assert.Contains(t, cfg.DSN(), "host=db")
	assert.Contains(t, cfg.DSN(), "dbname=ctx")
}

package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"finsight/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, 500, cfg.ChunkMaxWords)
	assert.Equal(t, 3, cfg.ChunkOverlapLines)
	assert.Equal(t, float32(0.6), cfg.SimilarityThreshold)
	assert.Equal(t, 15, cfg.SearchTopK)
	assert.Equal(t, config.ChunkStorePostgres, cfg.ChunkStore)
	assert.Equal(t, 15*time.Minute, cfg.StaleAfter())
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	if err := os.WriteFile(".env", content, 0o644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Toggles(t *testing.T) {
	t.Setenv("ENABLE_API", "false")
	t.Setenv("ENABLE_WORKER", "true")
	t.Setenv("EMBED_CONCURRENCY", "4")
	t.Setenv("CHUNK_STORE", "weaviate")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.True(t, cfg.EnableWorker)
	assert.Equal(t, 4, cfg.EmbedConcurrency)
	assert.Equal(t, config.ChunkStoreWeaviate, cfg.ChunkStore)
}

func TestConfig_QueryTimeout(t *testing.T) {
	cfg := &config.Config{QueryTimeoutSeconds: 3}
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout())

	cfg.QueryTimeoutSeconds = 0
	assert.Equal(t, 20*time.Second, cfg.QueryTimeout())
}

func TestConfig_StaleAfter(t *testing.T) {
	t.Setenv("SNAPSHOT_STALE_AFTER_SECONDS", "120")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.StaleAfter())

	cfg.SnapshotStaleAfterSeconds = -5
	assert.Equal(t, 15*time.Minute, cfg.StaleAfter())
}

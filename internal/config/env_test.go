package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_driver = "memory"
embed_provider = "http"
embed_service_url = "http://embed.local"
embed_rps = 2.5
chunk_size = 800
port = "9000"
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("CHUNK_OVERLAP", "100")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, EmbedHTTP, cfg.EmbedProvider)
	assert.Equal(t, 2.5, cfg.EmbedRPS)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 60, cfg.PollAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = ["), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoadConfig_BadIntKeepsDefault(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("INGEST_WORKERS", "many")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.IngestWorkers)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DATABASE_URL not set")
	assert.ErrorContains(t, err, "GEMINI_API_KEY not set")
	assert.ErrorContains(t, err, "JWT_SECRET not set")

	cfg = defaults()
	cfg.StoreDriver = "sqlite"
	cfg.EmbedProvider = "openai"
	cfg.ChunkOverlap = cfg.ChunkSize
	err = cfg.Validate()
	assert.ErrorContains(t, err, `STORE_DRIVER "sqlite"`)
	assert.ErrorContains(t, err, `EMBED_PROVIDER "openai"`)
	assert.ErrorContains(t, err, "CHUNK_OVERLAP")
}

func TestSlogLevel(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	cfg.LogLevel = "debug"
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	cfg.LogLevel = "nonsense"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

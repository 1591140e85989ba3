package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage/sqlite"
)

func TestOpenStore(t *testing.T) {
	store, err := openStore(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &sqlite.Store{}, store)

	_, err = openStore(context.Background(), config.DatabaseConfig{Driver: "redis"})
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CHATRELAY_LISTEN_ADDR", ":1111")

	cmd, cfg := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--listen", ":2222", "--storage", "mongo", "--history-limit", "42"}))

	listen, err := cmd.Flags().GetString("listen")
	require.NoError(t, err)
	assert.Equal(t, ":2222", listen)

	storageDriver, err := cmd.Flags().GetString("storage")
	require.NoError(t, err)
	assert.Equal(t, config.DriverMongo, storageDriver)

	limit, err := cmd.Flags().GetInt("history-limit")
	require.NoError(t, err)
	assert.Equal(t, 42, limit)
	assert.Equal(t, 42, cfg.Limits.HistoryLimit)
}

func TestFlagDefaultsComeFromEnvironment(t *testing.T) {
	t.Setenv("CHATRELAY_LISTEN_ADDR", ":1111")
	cmd, _ := newRootCmd()
	assert.Equal(t, ":1111", cmd.Flags().Lookup("listen").DefValue)
}

func TestConfigFileUnderFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":3333\"\nstorage:\n  path: from-file.db\n  mongo_db: filedb\n"), 0o600))
	t.Setenv("CHATRELAY_MONGO_DB", "envdb")

	cmd, cfg := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--db", "from-flag.db"}))
	require.NoError(t, reloadFromFile(cmd, cfg, path))

	assert.Equal(t, ":3333", cfg.ListenAddr)
	assert.Equal(t, "from-flag.db", cfg.Database.Path)
	assert.Equal(t, "envdb", cfg.Database.MongoDB)
}

func TestConfigFileMissing(t *testing.T) {
	cmd, cfg := newRootCmd()
	err := reloadFromFile(cmd, cfg, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

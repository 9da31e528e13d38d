package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, path, resolved)
	require.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	again, _, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9000\"\npresence_timeout: 750ms\nsend_rate_burst: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("WIREDM_SEND_RATE_BURST", "42")
	t.Setenv("WIREDM_DATABASE_PATH", "/tmp/env.db")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, 750*time.Millisecond, cfg.PresenceTimeout)
	require.Equal(t, 42, cfg.SendRateBurst)
	require.Equal(t, "/tmp/env.db", cfg.DatabasePath)
	require.Equal(t, Default().JWTTTL, cfg.JWTTTL)
}

func TestUpdateFromAndValidate(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000", LogLevel: "debug"})
	require.Equal(t, ":7000", cfg.Addr)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, Default().DatabasePath, cfg.DatabasePath)
	require.NoError(t, cfg.Validate())

	cfg.JWTSecret = ""
	cfg.JWTTTL = 0
	err := cfg.Validate()
	require.ErrorContains(t, err, "jwt_secret")
	require.ErrorContains(t, err, "jwt_ttl")
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[Server]
  Address = ":5000"
  MOTD = "be nice"
[Logging]
  Level = "info"
`), 0o600))

	cfg, err := loadConfig(flags{ConfigFile: path, Address: "127.0.0.1:6000", LogLevel: "debug"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6000", cfg.Server.Address)
	require.Equal(t, "be nice", cfg.Server.MOTD)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, "/v1", cfg.Server.Path)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(flags{})
	require.NoError(t, err)
	require.Equal(t, ":4000", cfg.Server.Address)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(flags{ConfigFile: filepath.Join(t.TempDir(), "nope.toml")})
	require.ErrorContains(t, err, "failed to load config file")
}

func TestUsageCommand_Disabled(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"usage"})
	require.ErrorContains(t, cmd.Execute(), "usage recording is disabled")
}

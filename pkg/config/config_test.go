package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// TestLoad tests parsing of a complete configuration document
func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"user": "ferryops",
		"file_operations": {
			"daemon": {
				"max_parallel_links": 8,
				"checksum": "adler32",
				"transfer_timeout": 600,
				"overwrite": true,
				"gfal2_verbosity": "verbose"
			}
		},
		"logging": {"level": "debug", "path": "/var/log/ferryd"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ferryops", cfg.User)
	assert.Equal(t, 8, cfg.Daemon.MaxParallelLinks)
	assert.Equal(t, "adler32", cfg.Daemon.Checksum)
	assert.Equal(t, 600*time.Second, cfg.Daemon.TransferTimeout)
	assert.True(t, cfg.Daemon.Overwrite)
	assert.Equal(t, "verbose", cfg.Daemon.Gfal2Verbosity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/log/ferryd", cfg.Logging.Path)
}

// TestLoadDefaults tests defaults on a minimal document
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.User)
	assert.Equal(t, 4, cfg.Daemon.MaxParallelLinks)
	assert.Equal(t, "", cfg.Daemon.Checksum)
	assert.False(t, cfg.Daemon.Overwrite)
	assert.Equal(t, time.Duration(0), cfg.Daemon.TransferTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

// TestLoadUnrecognizedKeysIgnored tests that extra keys are no error
func TestLoadUnrecognizedKeysIgnored(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"web": {"port": 8080},
		"registry": {"url": "https://registry.example.org"},
		"file_operations": {"daemon": {"max_parallel_links": 2}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Daemon.MaxParallelLinks)
}

// TestLoadInvalid tests fatal misconfiguration
func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown checksum algorithm",
			body: `{"file_operations": {"daemon": {"checksum": "sha256"}}}`,
		},
		{
			name: "nonpositive concurrency",
			body: `{"file_operations": {"daemon": {"max_parallel_links": 0}}}`,
		},
		{
			name: "negative timeout",
			body: `{"file_operations": {"daemon": {"transfer_timeout": -5}}}`,
		},
		{
			name: "malformed document",
			body: `{"file_operations":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

// TestLoadMissingFile tests a fatal error for an absent document
func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/ferryd.json")
	assert.Error(t, err)
}

// Package config loads the daemon's JSON configuration document.
//
// Only the recognized keys are read; anything else in the document is
// ignored. Validation failures are fatal before the scheduler loop starts.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	// User is the OS account the daemon drops privileges to at startup.
	// Empty means stay as the invoking user.
	User string

	Daemon  DaemonConfig
	Logging LoggingConfig
}

// DaemonConfig contains the file_operations.daemon settings.
type DaemonConfig struct {
	// MaxParallelLinks bounds the worker group of each per-link pool.
	MaxParallelLinks int

	// Checksum optionally enables end-to-end checksum verification on
	// transfers: one of crc32, adler32 or md5.
	Checksum string

	// TransferTimeout is the per-operation timeout handed to the
	// storage gateway, in seconds. Zero disables it.
	TransferTimeout time.Duration

	// Overwrite allows transfers to replace an existing destination.
	Overwrite bool

	// Gfal2Verbosity is passed to the storage gateway untouched.
	Gfal2Verbosity string
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string
	Path  string // optional directory for rotating log files
}

var checksumAlgorithms = map[string]bool{
	"crc32":   true,
	"adler32": true,
	"md5":     true,
}

// Load reads and validates the JSON configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("file_operations.daemon.max_parallel_links", 4)
	v.SetDefault("file_operations.daemon.overwrite", false)
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		User: v.GetString("user"),
		Daemon: DaemonConfig{
			MaxParallelLinks: v.GetInt("file_operations.daemon.max_parallel_links"),
			Checksum:         v.GetString("file_operations.daemon.checksum"),
			TransferTimeout:  time.Duration(v.GetInt("file_operations.daemon.transfer_timeout")) * time.Second,
			Overwrite:        v.GetBool("file_operations.daemon.overwrite"),
			Gfal2Verbosity:   v.GetString("file_operations.daemon.gfal2_verbosity"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
			Path:  v.GetString("logging.path"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Daemon.MaxParallelLinks < 1 {
		return fmt.Errorf("file_operations.daemon.max_parallel_links must be positive, got %d", c.Daemon.MaxParallelLinks)
	}
	if c.Daemon.Checksum != "" && !checksumAlgorithms[c.Daemon.Checksum] {
		return fmt.Errorf("unknown checksum algorithm %q (want crc32, adler32 or md5)", c.Daemon.Checksum)
	}
	if c.Daemon.TransferTimeout < 0 {
		return fmt.Errorf("file_operations.daemon.transfer_timeout must not be negative")
	}
	return nil
}

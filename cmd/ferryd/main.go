package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridops/ferryd/pkg/config"
	"github.com/gridops/ferryd/pkg/daemon"
	"github.com/gridops/ferryd/pkg/gateway"
	"github.com/gridops/ferryd/pkg/log"
	"github.com/gridops/ferryd/pkg/metrics"
	"github.com/gridops/ferryd/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ferryd",
	Short: "ferryd - file operations daemon",
	Long: `ferryd drains the transfer and deletion queues written by the
file-operations manager, executing bulk copies and unlinks against
remote storage endpoints through per-link worker pools.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ferryd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the file operations daemon",
	Long: `Start the daemon loop: recover orphaned tasks, then poll the task
tables every 30 seconds, dispatching work to per-link pools until a
termination signal arrives.

The database connection string is taken from --db-url or the
DATABASE_URL environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dbURL, _ := cmd.Flags().GetString("db-url")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		initLogging(cfg)

		if dbURL == "" {
			dbURL = os.Getenv("DATABASE_URL")
		}
		if dbURL == "" {
			return fmt.Errorf("no database configured: set --db-url or DATABASE_URL")
		}

		if err := dropPrivileges(cfg.User); err != nil {
			return err
		}

		ctx := context.Background()
		st, err := store.NewSQLStore(ctx, dbURL)
		if err != nil {
			return err
		}
		defer st.Close()

		metrics.SetVersion(Version)
		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}

		d := daemon.New(cfg, st, gateway.NewCLIGateway())

		// Termination and hangup signals become the cooperative stop.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			sig := <-sigCh
			log.Logger.Info().Str("signal", sig.String()).Msg("Termination signal received")
			d.Stop()
		}()

		return d.Run(ctx)
	},
}

func init() {
	startCmd.Flags().String("config", "/etc/ferryd/config.json", "Path to the JSON configuration document")
	startCmd.Flags().String("db-url", "", "Database connection string (defaults to DATABASE_URL)")
	startCmd.Flags().String("metrics-addr", "", "Optional listen address for /metrics and /healthz")
}

func initLogging(cfg *config.Config) {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: logJSON,
		Path:       cfg.Logging.Path,
	})
}

// dropPrivileges switches to the configured OS user. A no-op when no
// user is configured or the daemon is not running as root.
func dropPrivileges(username string) error {
	if username == "" || os.Geteuid() != 0 {
		return nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("bad uid for user %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("bad gid for user %q: %w", username, err)
	}

	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("failed to drop group privileges: %w", err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("failed to drop user privileges: %w", err)
	}

	log.Logger.Info().Str("user", username).Msg("Dropped privileges")
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())

	log.Logger.Info().Str("addr", addr).Msg("Metrics listener started")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Msg("Metrics listener failed")
	}
}

// ferryd-migrate applies the task-table schema for dev and test
// environments. Production databases are provisioned by the
// file-operations manager; this tool never needs to run there.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridops/ferryd/pkg/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ferryd-migrate",
	Short: "Apply or roll back the ferryd task-table schema",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbURL, err := dbURL(cmd)
		if err != nil {
			return err
		}
		return store.Migrate(dbURL)
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbURL, err := dbURL(cmd)
		if err != nil {
			return err
		}
		return store.Rollback(dbURL)
	},
}

func init() {
	rootCmd.PersistentFlags().String("db-url", "", "Database connection string (defaults to DATABASE_URL)")
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func dbURL(cmd *cobra.Command) (string, error) {
	url, _ := cmd.Flags().GetString("db-url")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return "", fmt.Errorf("no database configured: set --db-url or DATABASE_URL")
	}
	return url, nil
}

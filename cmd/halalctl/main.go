package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"halalchat/api/internal/config"
	"halalchat/api/internal/logging"
	"halalchat/api/internal/store"
)

var (
	databaseURL string
	output      = "text" // "text" or "json"
)

var rootCmd = &cobra.Command{
	Use:   "halalctl",
	Short: "halalctl - operate the Halal AI Chat database",
	Long: `halalctl runs schema migrations, grants credits and checks
database health for a Halal AI Chat deployment.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if databaseURL == "" {
			databaseURL = config.Load().DatabaseURL
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", output, "Output format: text or json")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(creditsCmd)
	rootCmd.AddCommand(healthCmd)
}

func openDB(ctx context.Context) (*sql.DB, error) {
	pool := store.DefaultPoolConfig()
	pool.MaxOpen = 2
	pool.MaxIdle = 1
	return store.Open(ctx, databaseURL, pool)
}

func main() {
	_ = godotenv.Load()
	logging.Setup(os.Getenv("LOG_LEVEL"))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

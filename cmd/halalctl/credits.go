package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"halalchat/api/internal/health"
	"halalchat/api/internal/ledger"
	"halalchat/api/internal/metrics"
	"halalchat/api/internal/store"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage user credit balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant credits to a user",
	Long: `Grant credits to a user. When the user was referred, the referrer
receives the same amount and a notification, exactly as for earned credits.

Examples:
  halalctl credits grant --username amina --amount 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		amount, _ := cmd.Flags().GetInt("amount")
		if username == "" {
			return errors.New("--username is required")
		}
		if amount <= 0 {
			return fmt.Errorf("--amount must be positive, got %d", amount)
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		return grantCredits(cmd.Context(), cmd.OutOrStdout(), store.NewPostgresStore(db), username, amount)
	},
}

type grantStore interface {
	ledger.Store
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
}

func grantCredits(ctx context.Context, w io.Writer, st grantStore, username string, amount int) error {
	user, err := st.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return err
	}
	result, err := ledger.New(st, metrics.Global()).Earn(ctx, user.ID, amount, ledger.ReasonAdmin)
	if err != nil {
		return err
	}
	if output == "json" {
		return json.NewEncoder(w).Encode(map[string]any{
			"userId":           user.ID,
			"credits":          result.Balance,
			"referrerCredited": result.ReferrerCredited,
		})
	}
	fmt.Fprintf(w, "granted %d credit(s) to %s, balance now %d\n", amount, username, result.Balance)
	if result.ReferrerCredited {
		fmt.Fprintln(w, "referrer credited with the same amount")
	}
	return nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database connectivity and required schema columns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		return printHealth(cmd.OutOrStdout(), health.NewChecker(db).Check(cmd.Context()))
	},
}

func printHealth(w io.Writer, report health.Report) error {
	if output == "json" {
		if err := json.NewEncoder(w).Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "status: %s\nschema: %s\n", report.Status, report.SchemaStatus)
		for _, issue := range report.SchemaIssues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
		if report.Message != "" {
			fmt.Fprintf(w, "message: %s\n", report.Message)
		}
	}
	if !report.Healthy() {
		return errors.New("database is not healthy")
	}
	return nil
}

func init() {
	creditsGrantCmd.Flags().String("username", "", "Username to credit")
	creditsGrantCmd.Flags().Int("amount", 0, "Number of credits to grant")
	creditsCmd.AddCommand(creditsGrantCmd)
}

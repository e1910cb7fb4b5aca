package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/auth"
	"github.com/iho/smmpanel/internal/infrastructure/config"
	"github.com/iho/smmpanel/internal/infrastructure/logger"
	"github.com/iho/smmpanel/internal/infrastructure/postgres"
)

type options struct {
	baseURL string
	token   string
	account string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "smmpanel-cli",
		Short:         "SMM panel operator CLI",
		Long:          `A command line interface for operating the SMM panel: migrations, reconciliation and ledger checks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "Base URL of the panel API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SMMPANEL_TOKEN"), "Bearer token (admin role for admin commands)")
	rootCmd.PersistentFlags().StringVar(&opts.account, "account", "", "Operator account ID, sent with the admin role when auth is disabled")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(migrateCmd(), ordersCmd(opts), ledgerCmd(opts), tokenCmd())

	return rootCmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			log := logger.NewWithWriter(logger.Config{Level: cfg.LogLevel, Format: "console", Service: "smmpanel-cli"}, cmd.ErrOrStderr())
			if down {
				return postgres.RunMigrationsDown(cfg.DatabaseURL, cfg.MigrationsPath, log)
			}
			return postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, log)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(false)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", Args: cobra.NoArgs, RunE: run(true)},
	)

	return cmd
}

func ordersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Order operations",
	}

	getCmd := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.do(http.MethodGet, "/api/v1/orders/"+args[0], http.StatusOK)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}

	var orderID string
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile outstanding orders, or a single one with --order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/v1/admin/reconcile"
			if orderID != "" {
				path = "/api/v1/admin/orders/" + orderID + "/reconcile"
			}

			body, err := opts.do(http.MethodPost, path, http.StatusOK)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	reconcileCmd.Flags().StringVar(&orderID, "order", "", "Reconcile only this order")

	cmd.AddCommand(getCmd, reconcileCmd)

	return cmd
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "consistency",
		Short: "Check that every cached balance matches its ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, status, err := opts.request(http.MethodGet, "/api/v1/admin/ledger/consistency")
			if err != nil {
				return err
			}

			var result struct {
				Status string `json:"status"`
				Drifts []struct {
					AccountID  string `json:"account_id"`
					Difference string `json:"difference"`
				} `json:"drifts"`
			}

			switch status {
			case http.StatusOK, http.StatusConflict:
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
			default:
				return fmt.Errorf("consistency check failed (status %d): %s", status, truncate(string(body), 200))
			}

			out := cmd.OutOrStdout()
			if status == http.StatusOK {
				fmt.Fprintln(out, "Consistency check PASSED")
				return nil
			}

			fmt.Fprintf(out, "Consistency check FAILED: %d account(s) drifted\n", len(result.Drifts))
			for _, d := range result.Drifts {
				fmt.Fprintf(out, "  %s  difference %s\n", d.AccountID, d.Difference)
			}

			return fmt.Errorf("ledger is inconsistent")
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Issue a bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			token, err := auth.NewJWTManager(secret, ttl).Generate(domain.Principal{
				AccountID: args[0],
				Role:      domain.Role(role),
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(domain.RoleCustomer), "customer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

func (o *options) request(method, path string) ([]byte, int, error) {
	req, err := http.NewRequest(method, strings.TrimRight(o.baseURL, "/")+path, nil)
	if err != nil {
		return nil, 0, err
	}

	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	if o.account != "" {
		req.Header.Set("X-Account-ID", o.account)
		req.Header.Set("X-Role", string(domain.RoleAdmin))
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	return body, resp.StatusCode, nil
}

func (o *options) do(method, path string, want int) ([]byte, error) {
	body, status, err := o.request(method, path)
	if err != nil {
		return nil, err
	}

	if status != want {
		return nil, fmt.Errorf("request failed (status %d): %s", status, truncate(string(body), 200))
	}

	return body, nil
}

func printJSON(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}

	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ipc/ipc/internal/config"
	"github.com/ipc/ipc/internal/domain/census"
	"github.com/ipc/ipc/internal/domain/hai"
	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/alerts"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
	"github.com/ipc/ipc/internal/platform/export"
	"github.com/ipc/ipc/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ipc-server",
		Short: "Hospital infection prevention and control surveillance server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(ratesCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded migrations unless dir is given.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// openPool loads config and connects; callers close the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFiles(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func ratesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Compute infection rates for a tenant and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			xlsxPath, _ := cmd.Flags().GetString("xlsx")

			period, err := surveillance.ParsePeriod(from, to)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			logger := newLogger(cfg.Env)
			haiSvc := hai.NewService(hai.NewCaseRepoPG(pool), events.Nop)
			haiSvc.SetLogger(logger)
			svc := surveillance.NewService(
				census.NewService(census.NewRepoPG(pool), events.Nop),
				haiSvc,
				logger,
			)
			if cfg.AlertRulesFile != "" {
				rules, err := alerts.LoadRules(cfg.AlertRulesFile)
				if err != nil {
					return err
				}
				svc.SetAlerts(alerts.NewEngine(rules))
			}

			tctx, release, err := db.AcquireTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			snap, err := svc.Rates(tctx, period)
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				data, err := export.XLSX(surveillance.RatesTable(snap.Report))
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", xlsxPath, err)
				}
				fmt.Printf("Wrote %s\n", xlsxPath)
				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.Flags().String("from", "", "First day of the period (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last day of the period (YYYY-MM-DD)")
	cmd.Flags().String("xlsx", "", "Write the rate table to this workbook instead of printing JSON")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed access token for token auth mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			name, _ := cmd.Flags().GetString("name")
			tenant, _ := cmd.Flags().GetString("tenant")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := issueToken(cfg, user, name, tenant, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	issueCmd.Flags().String("user", "", "Subject (user id)")
	issueCmd.Flags().String("name", "", "Display name")
	issueCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	issueCmd.Flags().StringSlice("roles", []string{auth.RoleViewer}, "Comma separated roles")
	issueCmd.Flags().Duration("ttl", 8*time.Hour, "Token lifetime")

	cmd.AddCommand(issueCmd)
	return cmd
}

func issueToken(cfg *config.Config, user, name, tenant string, roles []string, ttl time.Duration) (string, error) {
	if user == "" {
		return "", fmt.Errorf("--user is required")
	}
	if len(cfg.AuthSigningKey) < 32 {
		return "", fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes to issue tokens")
	}
	known := map[string]bool{auth.RoleAdmin: true}
	for _, r := range auth.Everyone {
		known[r] = true
	}
	for _, r := range roles {
		if !known[r] {
			return "", fmt.Errorf("unknown role %q (valid: %s, %s)", r, auth.RoleAdmin, strings.Join(auth.Everyone, ", "))
		}
	}
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	if name == "" {
		name = user
	}
	return auth.IssueToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, tenant, user, name, roles, ttl)
}

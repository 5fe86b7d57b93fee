package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/account"
	"github.com/hms/hms/internal/domain/chain"
	"github.com/hms/hms/internal/ledger"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(userCmd())
	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS, logger).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, logger).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

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
	})

	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the configured ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show ledger connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			l, err := openLedger(ctx, cfg, chain.NewContractRepo(pool), logger)
			if err != nil {
				return err
			}
			defer l.Close()

			st, err := l.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Println(formatStatus(st))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify-chain",
		Short: "Check the hash links of the local ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.LedgerMode != config.LedgerLocal {
				return fmt.Errorf("verify-chain requires LEDGER_MODE=%s, got %q", config.LedgerLocal, cfg.LedgerMode)
			}
			logger := newLogger(cfg)

			contracts, err := ledger.LoadContracts(nil)
			if err != nil {
				return err
			}
			lc, err := ledger.OpenLocalChain(cfg.LedgerDataDir, contracts, logger)
			if err != nil {
				return err
			}
			defer lc.Close()

			n, err := lc.VerifyChain(context.Background())
			if err != nil {
				return fmt.Errorf("chain verification failed after %d block(s): %w", n, err)
			}
			fmt.Printf("Verified %d block(s).\n", n)
			return nil
		},
	})

	return cmd
}

func formatStatus(st *ledger.Status) string {
	out := fmt.Sprintf("mode=%s connected=%t", st.Mode, st.Connected)
	if st.LatestBlock != nil {
		out += fmt.Sprintf(" latest_block=%d", *st.LatestBlock)
	}
	if st.NetworkID != nil {
		out += fmt.Sprintf(" network_id=%d", *st.NetworkID)
	}
	return out
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a login account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := newUserFromFlags(cmd)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := account.NewService(account.NewUserRepo(pool), nil, logger)
			u, err := svc.CreateUser(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s user %s (%s).\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("email", "", "Email address used to log in")
	createCmd.Flags().String("password", "", "Initial password (min 8 characters)")
	createCmd.Flags().String("role", "patient", "patient, doctor or admin")
	createCmd.Flags().String("blockchain-addr", "", "Ledger address used as grantor for access grants")

	cmd.AddCommand(createCmd)
	return cmd
}

func newUserFromFlags(cmd *cobra.Command) (account.NewUser, error) {
	var in account.NewUser
	in.Username, _ = cmd.Flags().GetString("username")
	in.Email, _ = cmd.Flags().GetString("email")
	in.Password, _ = cmd.Flags().GetString("password")
	in.Role, _ = cmd.Flags().GetString("role")
	in.BlockchainAddr, _ = cmd.Flags().GetString("blockchain-addr")

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return in, errors.New("--username, --email and --password are required")
	}
	return in, nil
}

package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftpulse/contest-payments/internal/config"
	"github.com/draftpulse/contest-payments/internal/database"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/tools/common"
	"github.com/draftpulse/contest-payments/internal/tools/ui"
	"gorm.io/gorm"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

// NewRootCommand builds the development seed CLI.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo accounts for local development",
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading configuration")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "emit a single JSON result instead of the terminal UI")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create any missing demo accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "seed apply", "apply", func(ctx context.Context) ([]string, error) {
				cfg, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				report, err := database.SeedSync(db, cfg.Env)
				if err != nil {
					return nil, err
				}
				if report.Noop {
					return []string{"nothing to do"}, nil
				}
				return []string{fmt.Sprintf("created %d accounts", report.CreatedAccounts)}, nil
			})
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dry-run",
		Short: "List the demo accounts an apply run would create",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "seed dry-run", "dry-run", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				return missingSeedAccounts(ctx, db)
			})
			return err
		},
	})

	var grantUser string
	var grantAmount int64
	grant := &cobra.Command{
		Use:   "grant-balance",
		Short: "Credit a local account for manual testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "seed grant-balance", "grant-balance", func(ctx context.Context) ([]string, error) {
				if grantUser == "" {
					return nil, fmt.Errorf("--user is required")
				}
				if grantAmount <= 0 {
					return nil, fmt.Errorf("--amount must be a positive number of minor units")
				}
				cfg, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				if cfg.Env == "production" {
					return nil, fmt.Errorf("refusing to grant balances in production")
				}
				return grantBalance(ctx, db, grantUser, grantAmount)
			})
			return err
		},
	}
	grant.Flags().StringVar(&grantUser, "user", "", "account owner user id")
	grant.Flags().Int64Var(&grantAmount, "amount", 0, "amount to credit in minor units")
	root.AddCommand(grant)

	return root
}

func run(opts *options, title, name string, action func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx := context.Background()
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		details, err := action(ctx)
		common.PrintCIResult(err == nil, title, details, err)
		return details, err
	}
	return ui.Run(title, opts.timeout, action)
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func missingSeedAccounts(ctx context.Context, db *gorm.DB) ([]string, error) {
	store := repository.NewStore(db)
	var details []string
	for _, userID := range database.SeedUserIDs() {
		_, err := store.Ledger.FindAccountByUserID(ctx, userID)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrAccountNotFound):
			details = append(details, "create "+userID)
		default:
			return nil, err
		}
	}
	if len(details) == 0 {
		details = []string{"nothing to do"}
	}
	return details, nil
}

func grantBalance(ctx context.Context, db *gorm.DB, userID string, amount int64) ([]string, error) {
	store := repository.NewStore(db)
	if _, err := store.Ledger.CreateAccountIfMissing(ctx, userID); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("grant:%s:%d", userID, time.Now().UnixNano())
	account, err := store.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
		UserID:           userID,
		AmountMinorUnits: amount,
		Direction:        repository.DirectionCredit,
		IdempotencyKey:   key,
		Note:             "local grant",
	})
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("credited %d, balance now %d", amount, account.BalanceMinorUnits)}, nil
}

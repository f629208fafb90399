package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/config"
	"github.com/draftpulse/contest-payments/internal/database"
	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/tools/common"
	"github.com/draftpulse/contest-payments/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

// NewRootCommand builds the schema migration CLI.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the payments database schema",
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading configuration")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "emit a single JSON result instead of the terminal UI")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending schema changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "migrate up", "up", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				return []string{"schema is up to date"}, nil
			})
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report which tables exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "migrate status", "status", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				return tableStatus(db, false)
			})
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "plan",
		Short: "List tables that an up run would create",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(opts, "migrate plan", "plan", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				return tableStatus(db, true)
			})
			return err
		},
	})

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

func tableStatus(db *gorm.DB, pendingOnly bool) ([]string, error) {
	models := []any{
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Transaction{},
		&domain.TransactionEvent{},
		&domain.WebhookLock{},
		&domain.PayoutItem{},
		&domain.OperationSwitch{},
		&domain.IdempotencyRecord{},
	}
	var details []string
	for _, m := range models {
		exists := db.Migrator().HasTable(m)
		if pendingOnly {
			if !exists {
				details = append(details, fmt.Sprintf("create %T", m))
			}
			continue
		}
		state := "present"
		if !exists {
			state = "missing"
		}
		details = append(details, fmt.Sprintf("%T: %s", m, state))
	}
	if pendingOnly && len(details) == 0 {
		details = []string{"nothing to do"}
	}
	return details, nil
}

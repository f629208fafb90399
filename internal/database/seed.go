package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/domain"
)

type SeedReport struct {
	Noop            bool
	CreatedAccounts int
}

var seedAccounts = []struct {
	UserID  string
	Balance int64
}{
	{UserID: "demo-alice", Balance: 100000},
	{UserID: "demo-bob", Balance: 25000},
	{UserID: "demo-carol", Balance: 0},
}

// SeedUserIDs lists the demo account owners SeedSync creates.
func SeedUserIDs() []string {
	ids := make([]string, 0, len(seedAccounts))
	for _, seed := range seedAccounts {
		ids = append(ids, seed.UserID)
	}
	return ids
}

// SeedSync creates the demo accounts used in development environments. It is
// idempotent: accounts that already exist are left untouched, and a second
// run reports Noop. Every seeded balance gets a matching journal entry so
// the ledger stays consistent with the account rows.
func SeedSync(db *gorm.DB, env string) (SeedReport, error) {
	if env == "production" {
		return SeedReport{Noop: true}, nil
	}
	report := SeedReport{}
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, seed := range seedAccounts {
			var count int64
			if err := tx.Model(&domain.Account{}).Where("user_id = ?", seed.UserID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			acct := domain.Account{
				UserID:            seed.UserID,
				BalanceMinorUnits: seed.Balance,
				Currency:          "USD",
				LastUpdate:        time.Now().UTC(),
			}
			if err := tx.Create(&acct).Error; err != nil {
				return err
			}
			if seed.Balance != 0 {
				entry := domain.LedgerEntry{
					AccountID:       acct.ID,
					DeltaMinorUnits: seed.Balance,
					IdempotencyKey:  fmt.Sprintf("seed:%s", seed.UserID),
					Note:            "seed balance",
				}
				if err := tx.Create(&entry).Error; err != nil {
					return err
				}
			}
			report.CreatedAccounts++
		}
		return nil
	})
	if err != nil {
		return SeedReport{}, err
	}
	report.Noop = report.CreatedAccounts == 0
	return report, nil
}

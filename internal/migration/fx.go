package migration

import (
	"strings"

	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// SQLite is the local and test path; the versioned migrations
		// target postgres.
		if strings.EqualFold(conn.Dialector.Name(), "sqlite") {
			return conn.AutoMigrate(
				&accountdomain.Account{},
				&ledgerdomain.LedgerEntry{},
				&ledgerdomain.TransactionRecord{},
				&usagedomain.UsagePeriod{},
				&subscriptiondomain.Subscription{},
				&webhookdomain.WebhookEvent{},
				&ratelimit.RateLimitWindow{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

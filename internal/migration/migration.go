package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/unitledger/internal/audit"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	"github.com/smallbiznis/unitledger/internal/events"
	ledgerdomain "github.com/smallbiznis/unitledger/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded SQL migrations against Postgres. The
// service is usable out of the box; all billing tables are created on
// startup.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema through gorm for dialects without versioned
// migrations (sqlite, mysql).
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&balancedomain.UserBalance{},
		&ledgerdomain.Entry{},
		&tariffdomain.TariffPlan{},
		&tariffdomain.TariffProperty{},
		&subscriptiondomain.UserSubscription{},
		&events.BillingEvent{},
		&audit.AuditLog{},
	)
}
